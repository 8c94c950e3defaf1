package main

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/stoatdb/stoat/client"
)

// Worker drives transactions through the public client API.
type Worker struct {
	id    int
	db    *client.Client
	cfg   *Config
	stats *Stats
	rng   *rand.Rand
}

func NewWorker(id int, db *client.Client, cfg *Config, stats *Stats) *Worker {
	return &Worker{
		id:    id,
		db:    db,
		cfg:   cfg,
		stats: stats,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
	}
}

// Run executes transactions until the context expires.
func (w *Worker) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	mode := client.OCC
	if w.cfg.Mode == "s2pl" {
		mode = client.S2PL
	}

	for ctx.Err() == nil {
		keys := w.pickKeys()

		start := time.Now()
		err := w.runOnce(ctx, mode, keys)
		attempts := 0
		for err != nil && w.cfg.Retry && attempts < w.cfg.MaxRetries && client.Retriable(err) && ctx.Err() == nil {
			attempts++
			w.stats.RecordRetry()
			err = w.runOnce(ctx, mode, keys)
		}

		if err == nil {
			w.stats.RecordCommit(time.Since(start))
		} else if reason, ok := client.Reason(err); ok {
			w.stats.RecordAbort(reason)
		} else if ctx.Err() == nil {
			w.stats.RecordAbort("")
		}
	}
}

// runOnce executes a single transaction over keys: read-modify-write for
// the rmw workload, coin-flip read/write otherwise.
func (w *Worker) runOnce(ctx context.Context, mode client.Mode, keys []string) error {
	txn, err := w.db.Begin(ctx, mode)
	if err != nil {
		return err
	}

	for _, key := range keys {
		if w.cfg.Workload == "rmw" {
			value, _, err := txn.Read(ctx, key)
			if err != nil {
				return err
			}
			next := parseCounter(value) + 1
			if err := txn.Write(ctx, key, []byte(strconv.FormatInt(next, 10))); err != nil {
				return err
			}
			continue
		}

		if w.rng.Intn(100) < w.cfg.writePct() {
			value := strconv.FormatInt(w.rng.Int63(), 10)
			if err := txn.Write(ctx, key, []byte(value)); err != nil {
				return err
			}
		} else {
			if _, _, err := txn.Read(ctx, key); err != nil {
				return err
			}
		}
	}

	_, err = txn.Commit(ctx)
	return err
}

// pickKeys draws distinct keys for one transaction.
func (w *Worker) pickKeys() []string {
	n := w.cfg.KeysPerTx
	seen := make(map[int]struct{}, n)
	keys := make([]string, 0, n)

	for len(keys) < n {
		k := w.rng.Intn(w.cfg.Keys)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, keyName(k))
	}
	return keys
}

func keyName(i int) string {
	return fmt.Sprintf("key_%08d", i)
}

func parseCounter(value []byte) int64 {
	if len(value) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
