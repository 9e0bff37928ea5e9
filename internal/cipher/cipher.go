// Package cipher provides the generic confidential value cipher: plaintext
// values are serialized by a caller-supplied Codec, packed into field
// elements, and encrypted under the X25519 shared secret between the session
// key and the MPC cluster key.
package cipher

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shadowlend/shadowlend/internal/fieldcipher"
	"github.com/shadowlend/shadowlend/internal/keys"
)

var (
	ErrClusterKeyUnavailable = errors.New("cluster public key unavailable")
	ErrCodecMismatch         = errors.New("codec size mismatch")
)

// ClusterKeySource resolves the MPC cluster's X25519 public key. A zero key
// with a nil error means the cluster has not published its key yet.
type ClusterKeySource interface {
	ClusterPublicKey(ctx context.Context) ([32]byte, error)
}

// Codec serializes plaintext values to bytes and back. Both directions must
// stay symmetric; Decode input length is validated against Size.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
	// Size is the fixed serialized size in bytes.
	Size() int
}

// AmountCodec encodes token amounts as 8-byte little-endian unsigned
// integers, the instruction encoding used by the lending program.
type AmountCodec struct{}

func (AmountCodec) Encode(v uint64) ([]byte, error) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b, nil
}

func (AmountCodec) Decode(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: got %d bytes, want 8", ErrCodecMismatch, len(data))
	}
	return binary.LittleEndian.Uint64(data), nil
}

func (AmountCodec) Size() int { return 8 }

// Config tunes cluster key resolution and field packing.
type Config struct {
	// FetchAttempts bounds cluster key fetch retries.
	FetchAttempts int
	// FetchDelay is the fixed delay between fetch attempts.
	FetchDelay time.Duration
	// Width is the field packing width in bytes per element.
	Width int
}

// DefaultConfig returns the production defaults: three fetch attempts half a
// second apart, 8-byte packing (one element per amount, 32-byte ciphertext).
func DefaultConfig() Config {
	return Config{
		FetchAttempts: 3,
		FetchDelay:    500 * time.Millisecond,
		Width:         8,
	}
}

// Cipher encrypts and decrypts values of type T. The cluster public key and
// the derived shared secret are cached per instance for the life of the
// cluster key; there is no cross-instance sharing.
type Cipher[T any] struct {
	mu     sync.Mutex
	keys   *keys.Manager
	source ClusterKeySource
	codec  Codec[T]
	cfg    Config

	clusterKey [32]byte
	shared     *fieldcipher.Cipher
	sharedRaw  [32]byte
}

// New creates a cipher bound to one key manager and one cluster key source.
func New[T any](km *keys.Manager, source ClusterKeySource, codec Codec[T], cfg Config) (*Cipher[T], error) {
	if cfg.FetchAttempts <= 0 {
		cfg.FetchAttempts = DefaultConfig().FetchAttempts
	}
	if cfg.FetchDelay <= 0 {
		cfg.FetchDelay = DefaultConfig().FetchDelay
	}
	if cfg.Width == 0 {
		cfg.Width = DefaultConfig().Width
	}
	if cfg.Width < fieldcipher.MinWidth || cfg.Width > fieldcipher.MaxWidth {
		return nil, fmt.Errorf("%w: %d", fieldcipher.ErrInvalidWidth, cfg.Width)
	}

	return &Cipher[T]{
		keys:   km,
		source: source,
		codec:  codec,
		cfg:    cfg,
	}, nil
}

// CiphertextSize returns the wire size of one encrypted value.
func (c *Cipher[T]) CiphertextSize() int {
	n := (c.codec.Size() + c.cfg.Width - 1) / c.cfg.Width
	return n * fieldcipher.ElementSize
}

// Encrypt serializes and encrypts a value. A nil nonce selects auto mode:
// the key manager's current nonce is used and incremented strictly after the
// ciphertext has been produced; the mutex serializes concurrent auto-mode
// calls so each consumes a distinct nonce. A non-nil nonce is used as-is and
// leaves the key manager untouched (resubmission path).
func (c *Cipher[T]) Encrypt(ctx context.Context, v T, nonce *keys.Nonce) ([]byte, error) {
	data, err := c.codec.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode plaintext: %w", err)
	}

	elems, err := fieldcipher.Pack(data, c.cfg.Width)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fc, err := c.resolveSharedLocked(ctx)
	if err != nil {
		return nil, err
	}

	auto := nonce == nil
	var n keys.Nonce
	if auto {
		n = c.keys.CurrentNonce()
	} else {
		n = *nonce
	}

	blob := fieldcipher.Flatten(fc.Encrypt(elems, n.Bytes()))

	if auto {
		c.keys.IncrementNonce()
	}
	return blob, nil
}

// Decrypt mirrors Encrypt. A nil nonce reads the key manager's current
// counter without mutating it. Decrypting with a nonce other than the one
// used at encryption time yields a value computed from garbage with no error
// signal: this ciphertext format carries no authentication tag.
func (c *Cipher[T]) Decrypt(ctx context.Context, blob []byte, nonce *keys.Nonce) (T, error) {
	var zero T

	if len(blob) != c.CiphertextSize() {
		return zero, fmt.Errorf("%w: got %d bytes, want %d",
			fieldcipher.ErrInvalidCiphertextSize, len(blob), c.CiphertextSize())
	}

	elems, err := fieldcipher.Expand(blob)
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fc, err := c.resolveSharedLocked(ctx)
	if err != nil {
		return zero, err
	}

	var n keys.Nonce
	if nonce == nil {
		n = c.keys.CurrentNonce()
	} else {
		n = *nonce
	}

	data, err := fieldcipher.Unpack(fc.Decrypt(elems, n.Bytes()), c.cfg.Width, c.codec.Size())
	if err != nil {
		return zero, err
	}
	return c.codec.Decode(data)
}

// resolveSharedLocked fetches the cluster public key (bounded attempts,
// fixed delay) and derives the shared-secret field cipher, caching both.
// Callers must hold c.mu.
func (c *Cipher[T]) resolveSharedLocked(ctx context.Context) (*fieldcipher.Cipher, error) {
	if c.shared != nil {
		return c.shared, nil
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.FetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.FetchDelay):
			}
		}

		key, err := c.source.ClusterPublicKey(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if key == ([32]byte{}) {
			lastErr = fmt.Errorf("cluster key not published")
			continue
		}

		shared, err := c.keys.SharedSecret(key)
		if err != nil {
			// Local precondition failure, not a transient one.
			return nil, err
		}

		c.clusterKey = key
		c.sharedRaw = shared
		c.shared = fieldcipher.New(shared)
		return c.shared, nil
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrClusterKeyUnavailable, c.cfg.FetchAttempts, lastErr)
}

// ClusterKey returns the cached cluster public key, fetching it if needed.
func (c *Cipher[T]) ClusterKey(ctx context.Context) ([32]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.resolveSharedLocked(ctx); err != nil {
		return [32]byte{}, err
	}
	return c.clusterKey, nil
}

// Invalidate drops the cached cluster key and shared secret, forcing a fresh
// fetch on the next operation. Used after cluster key rotation.
func (c *Cipher[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shared = nil
	c.clusterKey = [32]byte{}
	c.sharedRaw = [32]byte{}
}
