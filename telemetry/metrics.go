package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// ValidationBuckets for the coordinator's validation critical section
	ValidationBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	// LockWaitBuckets for S2PL lock acquisition waits
	LockWaitBuckets = []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
)

// Coordinator metrics
var (
	// TxnCommitsTotal counts committed transactions by mode (occ, s2pl)
	TxnCommitsTotal CounterVec = noopCounterVec{}

	// TxnAbortsTotal counts aborted transactions by reason
	TxnAbortsTotal CounterVec = noopCounterVec{}

	// ValidationSeconds measures time spent inside the validation critical section
	ValidationSeconds Histogram = NoopStat{}

	// LiveTxns tracks currently live transactions
	LiveTxns Gauge = NoopStat{}

	// HistorySize tracks retained committed records
	HistorySize Gauge = NoopStat{}
)

// Data node metrics
var (
	// LockWaitSeconds measures how long queued lock acquisitions waited;
	// immediate grants and rejections of wounded TIDs are not observed
	LockWaitSeconds Histogram = NoopStat{}

	// LockWoundsTotal counts transactions aborted by wound-wait
	LockWoundsTotal Counter = NoopStat{}

	// LockTimeoutsTotal counts lock acquisitions that timed out
	LockTimeoutsTotal Counter = NoopStat{}
)

// bindMetrics swaps the noop defaults for Prometheus-backed instruments.
// Called once from InitializeTelemetry with the registry in place.
func bindMetrics() {
	TxnCommitsTotal = NewCounterVec("txn_commits_total", "Committed transactions by mode", []string{"mode"})
	TxnAbortsTotal = NewCounterVec("txn_aborts_total", "Aborted transactions by reason", []string{"reason"})
	ValidationSeconds = NewHistogramWithBuckets("validation_seconds", "Validation critical section duration", ValidationBuckets)
	LiveTxns = NewGauge("live_txns", "Currently live transactions")
	HistorySize = NewGauge("history_size", "Retained committed records")

	LockWaitSeconds = NewHistogramWithBuckets("lock_wait_seconds", "Wait duration of queued lock acquisitions", LockWaitBuckets)
	LockWoundsTotal = NewCounter("lock_wounds_total", "Transactions aborted by wound-wait")
	LockTimeoutsTotal = NewCounter("lock_timeouts_total", "Lock acquisitions that timed out")
}
