package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/stoatdb/stoat/wire"
)

// Stats tracks benchmark counters using atomic operations and commit
// latencies for percentile reporting.
type Stats struct {
	commits uint64
	aborts  uint64
	retries uint64

	staleReads   uint64
	deadlocks    uint64
	lockTimeouts uint64
	otherAborts  uint64

	mu        sync.Mutex
	latencies []float64 // committed-transaction latency, milliseconds
}

func NewStats() *Stats {
	return &Stats{
		latencies: make([]float64, 0, 100000),
	}
}

// RecordCommit records a committed transaction and its latency.
func (s *Stats) RecordCommit(latency time.Duration) {
	atomic.AddUint64(&s.commits, 1)

	s.mu.Lock()
	s.latencies = append(s.latencies, float64(latency.Microseconds())/1000.0)
	s.mu.Unlock()
}

// RecordAbort records an aborted transaction by reason.
func (s *Stats) RecordAbort(reason wire.AbortReason) {
	atomic.AddUint64(&s.aborts, 1)

	switch reason {
	case wire.ReasonStaleRead:
		atomic.AddUint64(&s.staleReads, 1)
	case wire.ReasonDeadlockAbort:
		atomic.AddUint64(&s.deadlocks, 1)
	case wire.ReasonLockTimeout:
		atomic.AddUint64(&s.lockTimeouts, 1)
	default:
		atomic.AddUint64(&s.otherAborts, 1)
	}
}

// RecordRetry records one retry of an aborted transaction.
func (s *Stats) RecordRetry() {
	atomic.AddUint64(&s.retries, 1)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Commits      uint64
	Aborts       uint64
	Retries      uint64
	StaleReads   uint64
	Deadlocks    uint64
	LockTimeouts uint64
	OtherAborts  uint64
}

func (s *Stats) GetSnapshot() Snapshot {
	return Snapshot{
		Commits:      atomic.LoadUint64(&s.commits),
		Aborts:       atomic.LoadUint64(&s.aborts),
		Retries:      atomic.LoadUint64(&s.retries),
		StaleReads:   atomic.LoadUint64(&s.staleReads),
		Deadlocks:    atomic.LoadUint64(&s.deadlocks),
		LockTimeouts: atomic.LoadUint64(&s.lockTimeouts),
		OtherAborts:  atomic.LoadUint64(&s.otherAborts),
	}
}

// PrintSummary prints the final report with latency percentiles.
func (s *Stats) PrintSummary(mode string, elapsed time.Duration) {
	snap := s.GetSnapshot()
	total := snap.Commits + snap.Aborts

	fmt.Printf("\n=== %s summary (%.1fs) ===\n", mode, elapsed.Seconds())
	fmt.Printf("transactions: %d (%.1f tx/sec)\n", total, float64(total)/elapsed.Seconds())
	fmt.Printf("committed:    %d (%.1f tx/sec)\n", snap.Commits, float64(snap.Commits)/elapsed.Seconds())
	fmt.Printf("aborted:      %d (%.2f%%)\n", snap.Aborts, pct(snap.Aborts, total))
	fmt.Printf("  stale reads:   %d\n", snap.StaleReads)
	fmt.Printf("  deadlocks:     %d\n", snap.Deadlocks)
	fmt.Printf("  lock timeouts: %d\n", snap.LockTimeouts)
	fmt.Printf("  other:         %d\n", snap.OtherAborts)
	fmt.Printf("retries:      %d\n", snap.Retries)

	s.mu.Lock()
	latencies := make([]float64, len(s.latencies))
	copy(latencies, s.latencies)
	s.mu.Unlock()

	if len(latencies) == 0 {
		return
	}

	mean, _ := stats.Mean(latencies)
	p50, _ := stats.Percentile(latencies, 50)
	p95, _ := stats.Percentile(latencies, 95)
	p99, _ := stats.Percentile(latencies, 99)
	max, _ := stats.Max(latencies)

	fmt.Printf("commit latency (ms): mean=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		mean, p50, p95, p99, max)
}

func pct(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
