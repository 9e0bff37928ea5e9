package shadowlend

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shadowlend/shadowlend/internal/ledger"
)

// Manifest is the persisted record of provisioned protocol addresses. It is
// written once by the provisioning step and read at every session setup.
type Manifest struct {
	ProgramID       ledger.Address `json:"programId"`
	Pool            ledger.Address `json:"pool"`
	CollateralVault ledger.Address `json:"collateralVault"`
	BorrowVault     ledger.Address `json:"borrowVault"`
	CollateralMint  ledger.Address `json:"collateralMint"`
	BorrowMint      ledger.Address `json:"borrowMint"`
	ClusterAccount  ledger.Address `json:"clusterAccount"`
	ClusterOffset   uint32         `json:"clusterOffset"`
}

// LoadManifest reads and validates a deployment manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every required address is present.
func (m *Manifest) Validate() error {
	required := map[string]ledger.Address{
		"programId":       m.ProgramID,
		"pool":            m.Pool,
		"collateralVault": m.CollateralVault,
		"borrowVault":     m.BorrowVault,
		"collateralMint":  m.CollateralMint,
		"borrowMint":      m.BorrowMint,
	}
	for name, addr := range required {
		if addr.IsZero() {
			return fmt.Errorf("%w: missing %s", ErrManifestInvalid, name)
		}
	}
	return nil
}

// Save writes the manifest to disk. Manifests are written exactly once at
// provisioning time; an existing file is never overwritten.
func (m *Manifest) Save(path string) error {
	if err := m.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrManifestExists, path)
		}
		return fmt.Errorf("create manifest: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
