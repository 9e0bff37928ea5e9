package ledger

import (
	"context"
	"sync"

	"github.com/iotaledger/hive.go/kvstore"
	"github.com/iotaledger/hive.go/kvstore/mapdb"
	"github.com/pkg/errors"
)

// Store prefixes for the in-memory ledger.
const (
	prefixObligation byte = iota
	prefixPool
	prefixCluster
)

// MemLedger is an in-memory ledger backed by a mapdb key-value store. It
// serves tests and the local development mode; production reads go through
// the RPC Client.
type MemLedger struct {
	mu    sync.RWMutex
	store kvstore.KVStore
}

// NewMemLedger creates an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{
		store: mapdb.NewMapDB(),
	}
}

func recordKey(prefix byte, addr Address) []byte {
	key := make([]byte, 1+AddressSize)
	key[0] = prefix
	copy(key[1:], addr[:])
	return key
}

// SetClusterKey publishes the cluster's X25519 public key.
func (l *MemLedger) SetClusterKey(key [32]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Set([]byte{prefixCluster}, key[:]); err != nil {
		return errors.Wrap(err, "store cluster key")
	}
	return nil
}

// SetObligation writes an obligation record.
func (l *MemLedger) SetObligation(addr Address, record *ObligationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Set(recordKey(prefixObligation, addr), record.Bytes()); err != nil {
		return errors.Wrap(err, "store obligation")
	}
	return nil
}

// SetPool writes a pool record.
func (l *MemLedger) SetPool(addr Address, record *PoolRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Set(recordKey(prefixPool, addr), record.Bytes()); err != nil {
		return errors.Wrap(err, "store pool")
	}
	return nil
}

// ClusterPublicKey implements Reader. A cluster that never published a key
// yields the zero key, matching the not-ready contract.
func (l *MemLedger) ClusterPublicKey(_ context.Context) ([32]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var key [32]byte
	value, err := l.store.Get([]byte{prefixCluster})
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return key, nil
		}
		return key, errors.Wrap(err, "read cluster key")
	}
	copy(key[:], value)
	return key, nil
}

// Obligation implements Reader.
func (l *MemLedger) Obligation(_ context.Context, addr Address) (*ObligationRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	value, err := l.store.Get(recordKey(prefixObligation, addr))
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, errors.Wrap(err, "read obligation")
	}
	return ObligationRecordFromBytes(value)
}

// Pool implements Reader.
func (l *MemLedger) Pool(_ context.Context, addr Address) (*PoolRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	value, err := l.store.Get(recordKey(prefixPool, addr))
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, errors.Wrap(err, "read pool")
	}
	return PoolRecordFromBytes(value)
}
