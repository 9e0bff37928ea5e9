// Package keys owns the per-session X25519 keypair and the 128-bit encryption
// nonce counter. Key material is derived deterministically from a seed (or a
// wallet signature digest), never persisted, and zeroized on teardown.
package keys

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/crypto/curve25519"
)

var (
	ErrNotInitialized    = errors.New("key manager not initialized")
	ErrInvalidSeedLength = errors.New("invalid seed length")
)

const (
	// SeedSize is the exact seed length accepted by InitializeFromSeed.
	SeedSize = 32
	// KeySize is the size of X25519 public and secret keys.
	KeySize = 32
)

// Keypair holds one X25519 keypair. The secret key is the seed itself; the
// curve operation clamps it internally, so re-deriving from the same seed
// always reproduces the same pair.
type Keypair struct {
	Public [KeySize]byte
	Secret [KeySize]byte
}

// Manager is the exclusive owner of one session keypair and its nonce
// counter. All mutating operations are serialized by the internal mutex so
// concurrent callers cannot race on nonce allocation.
type Manager struct {
	mu      sync.Mutex
	keypair *Keypair
	nonce   Nonce
}

// NewManager creates an uninitialized key manager.
func NewManager() *Manager {
	return &Manager{}
}

// InitializeFromSeed derives the session keypair from a 32-byte seed. The
// seed is used directly as the X25519 secret key. The nonce counter is reset
// to zero as a side effect.
func (m *Manager) InitializeFromSeed(seed []byte) error {
	if len(seed) != SeedSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSeedLength, len(seed), SeedSize)
	}

	var secret [KeySize]byte
	copy(secret[:], seed)

	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("derive public key: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.keypair != nil {
		zeroize(m.keypair.Secret[:])
	}

	kp := &Keypair{Secret: secret}
	copy(kp.Public[:], pub)
	m.keypair = kp
	m.nonce = Nonce{}

	return nil
}

// InitializeFromSignature seeds the manager from an external wallet
// signature: the SHA-256 digest of the signature becomes the seed. Signing
// the same message with the same wallet reproduces the same keypair, so no
// secret ever needs durable storage.
func (m *Manager) InitializeFromSignature(signature []byte) error {
	digest := sha256.Sum256(signature)
	err := m.InitializeFromSeed(digest[:])
	zeroize(digest[:])
	return err
}

// Initialized reports whether a keypair exists.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keypair != nil
}

// PublicKey returns the session public key.
func (m *Manager) PublicKey() ([KeySize]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.keypair == nil {
		return [KeySize]byte{}, ErrNotInitialized
	}
	return m.keypair.Public, nil
}

// SecretKey returns a copy of the session secret key.
func (m *Manager) SecretKey() ([KeySize]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.keypair == nil {
		return [KeySize]byte{}, ErrNotInitialized
	}
	return m.keypair.Secret, nil
}

// SharedSecret computes the X25519 shared secret between the session secret
// key and the given peer public key. Both sides of the exchange derive the
// identical value.
func (m *Manager) SharedSecret(peer [KeySize]byte) ([KeySize]byte, error) {
	secret, err := m.SecretKey()
	if err != nil {
		return [KeySize]byte{}, err
	}
	defer zeroize(secret[:])

	shared, err := curve25519.X25519(secret[:], peer[:])
	if err != nil {
		return [KeySize]byte{}, fmt.Errorf("derive shared secret: %w", err)
	}

	var out [KeySize]byte
	copy(out[:], shared)
	zeroize(shared)
	return out, nil
}

// CurrentNonce returns the counter value without mutating it.
func (m *Manager) CurrentNonce() Nonce {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonce
}

// IncrementNonce advances the counter by one.
func (m *Manager) IncrementNonce() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonce = m.nonce.Inc()
}

// SetNonce unconditionally overwrites the counter. Used to resynchronize
// with the nonce observed in the user's on-ledger record.
func (m *Manager) SetNonce(n Nonce) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonce = n
}

// AllocateNonce atomically returns the current counter value and advances it
// by one. Concurrent callers each observe a distinct value.
func (m *Manager) AllocateNonce() Nonce {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.nonce
	m.nonce = m.nonce.Inc()
	return n
}

// Zeroize clears the secret key material and drops the keypair. The manager
// returns to its uninitialized state.
func (m *Manager) Zeroize() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.keypair != nil {
		zeroize(m.keypair.Secret[:])
		zeroize(m.keypair.Public[:])
		m.keypair = nil
	}
	m.nonce = Nonce{}
}

// zeroize overwrites a byte slice in place.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
