package shadowlend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes client-side lifecycle counters.
type Metrics struct {
	SubmissionsAssembled *prometheus.CounterVec
	ComputationsFinal    prometheus.Counter
	FinalizationTimeouts prometheus.Counter
	ReadinessTimeouts    prometheus.Counter
	PollAttempts         prometheus.Counter
}

// NewMetrics registers the client metrics with the given registerer. Tests
// pass a private registry; the app component passes the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SubmissionsAssembled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowlend_submissions_assembled_total",
			Help: "Number of confidential submissions assembled, by operation",
		}, []string{"operation"}),
		ComputationsFinal: factory.NewCounter(prometheus.CounterOpts{
			Name: "shadowlend_computations_finalized_total",
			Help: "Number of computations observed finalized on the ledger",
		}),
		FinalizationTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "shadowlend_finalization_timeouts_total",
			Help: "Number of finalization waits that exhausted their budget",
		}),
		ReadinessTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "shadowlend_cluster_readiness_timeouts_total",
			Help: "Number of cluster readiness waits that exhausted their budget",
		}),
		PollAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "shadowlend_ledger_poll_attempts_total",
			Help: "Number of ledger polling attempts issued",
		}),
	}
}
