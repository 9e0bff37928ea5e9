package cipher

import (
	"context"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/shadowlend/shadowlend/internal/keys"
)

// ErrSealOpen is returned when an authenticated envelope fails to open, i.e.
// the blob was tampered with or sealed under a different key.
var ErrSealOpen = errors.New("sealed ciphertext authentication failed")

// SealedCipher wraps the field ciphertext in a ChaCha20-Poly1305 envelope
// keyed by the ECDH shared secret. The base protocol ciphertext is
// deliberately unauthenticated (integrity comes from the cluster's on-chain
// attestation); this wrapper is for data the client round-trips to itself,
// where tampering must be detectable locally.
type SealedCipher[T any] struct {
	inner *Cipher[T]
}

// NewSealed wraps an existing cipher.
func NewSealed[T any](inner *Cipher[T]) *SealedCipher[T] {
	return &SealedCipher[T]{inner: inner}
}

// Seal encrypts the value with the field cipher and seals the result. The
// output is a random 24-byte XChaCha20 nonce followed by the AEAD
// ciphertext; the session public key is bound as additional data.
func (s *SealedCipher[T]) Seal(ctx context.Context, v T, nonce *keys.Nonce) ([]byte, error) {
	blob, err := s.inner.Encrypt(ctx, v, nonce)
	if err != nil {
		return nil, err
	}

	aead, userPub, err := s.aead(ctx)
	if err != nil {
		return nil, err
	}

	sealNonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, sealNonce); err != nil {
		return nil, fmt.Errorf("generate seal nonce: %w", err)
	}

	out := make([]byte, 0, len(sealNonce)+len(blob)+aead.Overhead())
	out = append(out, sealNonce...)
	return aead.Seal(out, sealNonce, blob, userPub[:]), nil
}

// Open authenticates and unwraps a sealed blob, then decrypts the inner
// field ciphertext with the given nonce convention.
func (s *SealedCipher[T]) Open(ctx context.Context, sealed []byte, nonce *keys.Nonce) (T, error) {
	var zero T

	aead, userPub, err := s.aead(ctx)
	if err != nil {
		return zero, err
	}

	if len(sealed) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return zero, fmt.Errorf("%w: blob too short", ErrSealOpen)
	}

	sealNonce := sealed[:chacha20poly1305.NonceSizeX]
	blob, err := aead.Open(nil, sealNonce, sealed[chacha20poly1305.NonceSizeX:], userPub[:])
	if err != nil {
		return zero, ErrSealOpen
	}

	return s.inner.Decrypt(ctx, blob, nonce)
}

func (s *SealedCipher[T]) aead(ctx context.Context) (aead stdcipher.AEAD, userPub [32]byte, err error) {
	// Resolving the cluster key also populates the cached shared secret.
	if _, err = s.inner.ClusterKey(ctx); err != nil {
		return nil, userPub, err
	}

	userPub, err = s.inner.keys.PublicKey()
	if err != nil {
		return nil, userPub, err
	}

	s.inner.mu.Lock()
	key := s.inner.sharedRaw
	s.inner.mu.Unlock()

	a, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, userPub, fmt.Errorf("create aead: %w", err)
	}
	return a, userPub, nil
}
