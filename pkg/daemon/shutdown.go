package daemon

// Shutdown priorities for the background workers. Workers with a lower
// priority are stopped later during shutdown.
const (
	PriorityCloseLedger = iota
	PriorityClusterMonitor
	PriorityShadowLend
	PriorityPrometheus
	PriorityStatusReport
)
