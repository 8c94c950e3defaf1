package main

import (
	"context"
	"fmt"
	"time"
)

// reportProgress prints real-time progress every second.
func reportProgress(ctx context.Context, stats *Stats) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var last Snapshot
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := stats.GetSnapshot()
			elapsed := time.Since(startTime)

			txSec := snap.Commits - last.Commits
			abortSec := snap.Aborts - last.Aborts
			cumThroughput := float64(snap.Commits) / elapsed.Seconds()

			fmt.Printf("[%5.0fs] tx/sec: %6d | aborts/sec: %5d | committed: %8d | aborted: %6d | retries: %5d | throughput: %.1f tx/sec\n",
				elapsed.Seconds(),
				txSec,
				abortSec,
				snap.Commits,
				snap.Aborts,
				snap.Retries,
				cumThroughput,
			)

			last = snap
		}
	}
}
