package shadowlend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iotaledger/hive.go/logger"
	"github.com/iotaledger/hive.go/runtime/event"

	"github.com/shadowlend/shadowlend/internal/keys"
	"github.com/shadowlend/shadowlend/internal/ledger"
)

// ReadinessState tracks the cluster key-generation handshake.
type ReadinessState int8

const (
	ReadinessUnknown ReadinessState = iota
	ReadinessPolling
	ReadinessReady
	ReadinessTimedOut
)

func (s ReadinessState) String() string {
	switch s {
	case ReadinessPolling:
		return "polling"
	case ReadinessReady:
		return "ready"
	case ReadinessTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// FinalizationState tracks one submitted computation.
type FinalizationState int8

const (
	FinalizationSubmitted FinalizationState = iota
	FinalizationPending
	FinalizationFinalized
	FinalizationTimedOut
)

func (s FinalizationState) String() string {
	switch s {
	case FinalizationPending:
		return "pending"
	case FinalizationFinalized:
		return "finalized"
	case FinalizationTimedOut:
		return "timed_out"
	default:
		return "submitted"
	}
}

// MonitorConfig tunes the polling state machines.
type MonitorConfig struct {
	// PollInterval is the fixed delay between ledger polls.
	PollInterval time.Duration
	// ReadinessAttempts bounds cluster readiness polling.
	ReadinessAttempts int
	// FinalizationBudget is the wall-clock budget for finalization waits.
	FinalizationBudget time.Duration
	// FinalizationAttempts, when non-zero, bounds finalization polling by
	// attempt count instead of wall clock.
	FinalizationAttempts int
}

// DefaultMonitorConfig matches the deployed protocol cadence: one poll per
// second, ten readiness attempts, two minutes of finalization budget.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PollInterval:       time.Second,
		ReadinessAttempts:  10,
		FinalizationBudget: 2 * time.Minute,
	}
}

// MonitorEvents are triggered on lifecycle transitions.
type MonitorEvents struct {
	ClusterReady         *event.Event1[[32]byte]
	ComputationFinalized *event.Event1[ledger.Address]
	FinalizationTimeout  *event.Event1[ledger.Address]
}

// Monitor drives the two polling state machines of the request lifecycle:
// cluster readiness before encryption, computation finalization after
// submission. The cluster communicates results only through ledger state
// mutation, so bounded polling is the completion-detection mechanism.
type Monitor struct {
	*logger.WrappedLogger

	reader  ledger.Reader
	cfg     MonitorConfig
	metrics *Metrics

	stateMu      sync.Mutex
	readiness    ReadinessState
	finalization FinalizationState

	Events *MonitorEvents
}

// NewMonitor creates a lifecycle monitor over a ledger reader. metrics may
// be nil.
func NewMonitor(log *logger.Logger, reader ledger.Reader, cfg MonitorConfig, metrics *Metrics) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultMonitorConfig().PollInterval
	}
	if cfg.ReadinessAttempts <= 0 {
		cfg.ReadinessAttempts = DefaultMonitorConfig().ReadinessAttempts
	}
	if cfg.FinalizationBudget <= 0 {
		cfg.FinalizationBudget = DefaultMonitorConfig().FinalizationBudget
	}

	return &Monitor{
		WrappedLogger: logger.NewWrappedLogger(log),
		reader:        reader,
		cfg:           cfg,
		metrics:       metrics,
		Events: &MonitorEvents{
			ClusterReady:         event.New1[[32]byte](),
			ComputationFinalized: event.New1[ledger.Address](),
			FinalizationTimeout:  event.New1[ledger.Address](),
		},
	}
}

func (m *Monitor) countPoll() {
	if m.metrics != nil {
		m.metrics.PollAttempts.Inc()
	}
}

// Readiness reports the current cluster readiness state.
func (m *Monitor) Readiness() ReadinessState {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.readiness
}

// Finalization reports the state of the most recent finalization wait.
func (m *Monitor) Finalization() FinalizationState {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.finalization
}

func (m *Monitor) setReadiness(s ReadinessState) {
	m.stateMu.Lock()
	m.readiness = s
	m.stateMu.Unlock()
}

func (m *Monitor) setFinalization(s FinalizationState) {
	m.stateMu.Lock()
	m.finalization = s
	m.stateMu.Unlock()
}

// AwaitClusterReady polls the cluster key up to ReadinessAttempts times at
// the poll interval, returning true as soon as a non-empty key is published.
// Exhausting the attempts is non-fatal: it returns false with a nil error so
// callers can retry later. Only context cancellation is an error.
func (m *Monitor) AwaitClusterReady(ctx context.Context) (bool, error) {
	m.setReadiness(ReadinessPolling)

	for attempt := 0; attempt < m.cfg.ReadinessAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(m.cfg.PollInterval):
			}
		}

		m.countPoll()
		key, err := m.reader.ClusterPublicKey(ctx)
		if err != nil {
			m.LogDebugf("cluster key poll failed (attempt %d/%d): %v", attempt+1, m.cfg.ReadinessAttempts, err)
			continue
		}
		if key != ([32]byte{}) {
			m.setReadiness(ReadinessReady)
			m.LogInfof("cluster ready after %d attempt(s)", attempt+1)
			m.Events.ClusterReady.Trigger(key)
			return true, nil
		}
	}

	return false, nil
}

// WaitClusterReady is the fatal variant: it re-runs readiness rounds until
// the wall-clock budget expires, then raises ErrClusterNotReady.
func (m *Monitor) WaitClusterReady(ctx context.Context, budget time.Duration) error {
	deadline := time.Now().Add(budget)

	for {
		ready, err := m.AwaitClusterReady(ctx)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		if time.Now().After(deadline) {
			m.setReadiness(ReadinessTimedOut)
			if m.metrics != nil {
				m.metrics.ReadinessTimeouts.Inc()
			}
			return fmt.Errorf("%w after %s", ErrClusterNotReady, budget)
		}
	}
}

// AwaitFinalization polls the obligation record until its state nonce
// advances past the pre-submission value, meaning the cluster has written
// the computation result back. The wait is bounded by FinalizationAttempts
// when set, otherwise by the wall-clock FinalizationBudget; exhaustion
// raises ErrFinalizationTimeout and the caller decides whether to resubmit
// (with a fresh computation offset) or keep waiting on a later call.
func (m *Monitor) AwaitFinalization(ctx context.Context, obligation ledger.Address, preSubmission keys.Nonce) error {
	deadline := time.Now().Add(m.cfg.FinalizationBudget)
	attempt := 0
	m.setFinalization(FinalizationPending)

	for {
		attempt++
		m.countPoll()

		record, err := m.reader.Obligation(ctx, obligation)
		if err != nil && !errors.Is(err, ledger.ErrRecordNotFound) {
			m.LogDebugf("finalization poll failed (attempt %d): %v", attempt, err)
		}
		if err == nil && record.StateNonce.Cmp(preSubmission) > 0 {
			m.setFinalization(FinalizationFinalized)
			m.LogInfof("computation finalized for %s after %d poll(s)", obligation, attempt)
			if m.metrics != nil {
				m.metrics.ComputationsFinal.Inc()
			}
			m.Events.ComputationFinalized.Trigger(obligation)
			return nil
		}

		exhausted := false
		if m.cfg.FinalizationAttempts > 0 {
			exhausted = attempt >= m.cfg.FinalizationAttempts
		} else {
			exhausted = time.Now().After(deadline)
		}
		if exhausted {
			m.setFinalization(FinalizationTimedOut)
			if m.metrics != nil {
				m.metrics.FinalizationTimeouts.Inc()
			}
			m.Events.FinalizationTimeout.Trigger(obligation)
			return fmt.Errorf("%w: obligation %s after %d poll(s)", ErrFinalizationTimeout, obligation, attempt)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.PollInterval):
		}
	}
}
