// drill drives workloads against a stoat cluster through the public client
// API and reports throughput, abort rates and commit latency percentiles,
// so OCC and S2PL behavior can be compared on the same workload.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/stoatdb/stoat/client"
)

func main() {
	cfg := &Config{}

	flag.StringVar(&cfg.Coordinator, "coordinator", "127.0.0.1:8000", "Coordinator endpoint")
	flag.StringVar(&cfg.Nodes, "nodes", "", "Comma-separated node endpoints in shard order")
	flag.StringVar(&cfg.Mode, "mode", "occ", "Concurrency control: occ or s2pl")
	flag.StringVar(&cfg.Workload, "workload", "mixed", "Workload: mixed|read-heavy|write-heavy|rmw")
	flag.IntVar(&cfg.Keys, "keys", 1000, "Size of the key space")
	flag.IntVar(&cfg.KeysPerTx, "keys-per-tx", 4, "Keys touched per transaction")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "Benchmark duration")
	flag.IntVar(&cfg.Threads, "threads", 16, "Concurrent transactions")
	flag.BoolVar(&cfg.Retry, "retry", true, "Retry aborted transactions")
	flag.IntVar(&cfg.MaxRetries, "max-retries", 3, "Maximum retries per transaction")
	flag.IntVar(&cfg.Records, "load", 0, "Preload this many keys before the run (0 = skip)")
	flag.Parse()

	if err := cfg.Parse(); err != nil {
		fmt.Fprintf(os.Stderr, "drill: %v\n", err)
		os.Exit(1)
	}

	db := client.New(cfg.Coordinator, cfg.nodeList, client.Options{})
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Records > 0 {
		if err := preload(ctx, db, cfg.Records); err != nil {
			fmt.Fprintf(os.Stderr, "drill: load failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("loaded %d keys\n", cfg.Records)
	}

	runCtx, runCancel := context.WithTimeout(ctx, cfg.Duration)
	defer runCancel()

	stats := NewStats()
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < cfg.Threads; i++ {
		wg.Add(1)
		go NewWorker(i, db, cfg, stats).Run(runCtx, &wg)
	}

	go reportProgress(runCtx, stats)
	wg.Wait()

	stats.PrintSummary(cfg.Mode, time.Since(start))
}

// preload writes the initial key space in batched OCC transactions.
func preload(ctx context.Context, db *client.Client, records int) error {
	const batch = 100

	for base := 0; base < records; base += batch {
		txn, err := db.Begin(ctx, client.OCC)
		if err != nil {
			return err
		}
		for i := base; i < base+batch && i < records; i++ {
			if err := txn.Write(ctx, keyName(i), []byte(strconv.Itoa(0))); err != nil {
				return err
			}
		}
		if _, err := txn.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}
