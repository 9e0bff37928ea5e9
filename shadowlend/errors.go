package shadowlend

import "github.com/pkg/errors"

var (
	// ErrClusterNotReady is raised when the MPC cluster has not published
	// its public key within the configured readiness budget. Transient:
	// callers should retry later.
	ErrClusterNotReady = errors.New("mpc cluster not ready")

	// ErrFinalizationTimeout is raised when a submitted computation is not
	// observed on the ledger within the finalization budget. The
	// computation may still be in flight; the caller decides whether to
	// resubmit under a fresh computation offset.
	ErrFinalizationTimeout = errors.New("computation finalization timed out")

	// ErrFundBelowMinimum rejects vault funding below the ledger's floor
	// before it costs the user a transaction fee.
	ErrFundBelowMinimum = errors.New("funding amount below minimum")

	// ErrManifestExists guards the write-once deployment manifest.
	ErrManifestExists = errors.New("deployment manifest already exists")

	// ErrManifestInvalid is returned for a manifest with missing addresses.
	ErrManifestInvalid = errors.New("deployment manifest invalid")

	// ErrSessionNotInitialized is returned by operations that need a seeded
	// user session.
	ErrSessionNotInitialized = errors.New("user session not initialized")
)
