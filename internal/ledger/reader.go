package ledger

import "context"

// Reader is the read-only ledger surface the client core depends on.
//
// ClusterPublicKey returns the MPC cluster's published X25519 key; a zero
// key with a nil error means key generation has not completed yet.
// Obligation and Pool return ErrRecordNotFound for absent accounts.
type Reader interface {
	ClusterPublicKey(ctx context.Context) ([32]byte, error)
	Obligation(ctx context.Context, addr Address) (*ObligationRecord, error)
	Pool(ctx context.Context, addr Address) (*PoolRecord, error)
}
