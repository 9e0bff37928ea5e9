// Package ledger provides read access to the on-chain accounts the
// confidential client depends on: the MPC cluster record, lending pool and
// per-user obligation records. The ledger is an external collaborator; this
// package only reads, it never signs or broadcasts.
package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/iotaledger/hive.go/serializer/v2/marshalutil"

	"github.com/shadowlend/shadowlend/internal/keys"
)

var (
	ErrRecordNotFound = errors.New("ledger record not found")
	ErrInvalidRecord  = errors.New("invalid ledger record")
	ErrInvalidAddress = errors.New("invalid address")
)

// AddressSize is the size of a ledger account address.
const AddressSize = 32

// Address identifies one ledger account.
type Address [AddressSize]byte

// AddressFromBytes copies a 32-byte slice into an address.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressSize {
		return a, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidAddress, len(b), AddressSize)
	}
	copy(a[:], b)
	return a, nil
}

// ParseAddress decodes a hex-encoded address.
func ParseAddress(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return AddressFromBytes(b)
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the address is the zero account.
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalText implements encoding.TextMarshaler (hex), used by the JSON
// deployment manifest.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// CiphertextCells is the number of 32-byte ciphertext cells in an obligation
// record: encrypted deposit, debt and internal balance.
const CiphertextCells = 3

// ObligationRecord is a user's confidential lending position. The encrypted
// cells are opaque to the ledger; StateNonce advances on every state update
// the cluster writes back, which is what finalization polling observes.
type ObligationRecord struct {
	User           Address
	Pool           Address
	EncryptedState [CiphertextCells][32]byte
	Initialized    bool
	StateNonce     keys.Nonce
	LastUpdate     int64
}

// Bytes serializes the record into its account-data form.
func (r *ObligationRecord) Bytes() []byte {
	m := marshalutil.New(AddressSize*2 + CiphertextCells*32 + 1 + keys.NonceSize + 8)
	m.WriteBytes(r.User[:])
	m.WriteBytes(r.Pool[:])
	for i := range r.EncryptedState {
		m.WriteBytes(r.EncryptedState[i][:])
	}
	m.WriteBool(r.Initialized)
	nonce := r.StateNonce.Bytes()
	m.WriteBytes(nonce[:])
	m.WriteInt64(r.LastUpdate)
	return m.Bytes()
}

// ObligationRecordFromBytes parses account data into an obligation record.
func ObligationRecordFromBytes(data []byte) (*ObligationRecord, error) {
	m := marshalutil.New(data)
	r := &ObligationRecord{}

	for _, dst := range []*Address{&r.User, &r.Pool} {
		b, err := m.ReadBytes(AddressSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		copy(dst[:], b)
	}
	for i := range r.EncryptedState {
		b, err := m.ReadBytes(32)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		copy(r.EncryptedState[i][:], b)
	}

	initialized, err := m.ReadBool()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	r.Initialized = initialized

	nonceBytes, err := m.ReadBytes(keys.NonceSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	var nonce [keys.NonceSize]byte
	copy(nonce[:], nonceBytes)
	r.StateNonce = keys.NonceFromBytes(nonce)

	lastUpdate, err := m.ReadInt64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	r.LastUpdate = lastUpdate

	return r, nil
}

// PoolRecord is the public configuration of one lending pool. The encrypted
// aggregates the pool also carries are cluster-only and not decoded here.
type PoolRecord struct {
	Authority            Address
	CollateralMint       Address
	BorrowMint           Address
	LTVBps               uint16
	LiquidationThreshold uint16
	LiquidationBonus     uint16
	BorrowRateBps        uint64
}

// Bytes serializes the record into its account-data form.
func (r *PoolRecord) Bytes() []byte {
	m := marshalutil.New(AddressSize*3 + 3*2 + 8)
	m.WriteBytes(r.Authority[:])
	m.WriteBytes(r.CollateralMint[:])
	m.WriteBytes(r.BorrowMint[:])
	m.WriteUint16(r.LTVBps)
	m.WriteUint16(r.LiquidationThreshold)
	m.WriteUint16(r.LiquidationBonus)
	m.WriteUint64(r.BorrowRateBps)
	return m.Bytes()
}

// PoolRecordFromBytes parses account data into a pool record.
func PoolRecordFromBytes(data []byte) (*PoolRecord, error) {
	m := marshalutil.New(data)
	r := &PoolRecord{}

	for _, dst := range []*Address{&r.Authority, &r.CollateralMint, &r.BorrowMint} {
		b, err := m.ReadBytes(AddressSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		copy(dst[:], b)
	}
	for _, dst := range []*uint16{&r.LTVBps, &r.LiquidationThreshold, &r.LiquidationBonus} {
		v, err := m.ReadUint16()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		*dst = v
	}

	rate, err := m.ReadUint64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	r.BorrowRateBps = rate

	return r, nil
}
