// Package coordinator implements stoat's transaction coordinator: the
// timestamp sequence, the committed-transaction history, OCC backward
// validation and the write-phase fan-out to data nodes.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"

	"github.com/stoatdb/stoat/id"
	"github.com/stoatdb/stoat/shard"
	"github.com/stoatdb/stoat/telemetry"
	"github.com/stoatdb/stoat/wire"
)

// Options tune coordinator behavior.
type Options struct {
	ApplyTimeout time.Duration
	ApplyRetries int

	// PruneEveryNCommits batches history pruning instead of scanning the
	// live set on every commit.
	PruneEveryNCommits int

	// MaxTxnAge evicts live transactions more than this many timestamps
	// behind the sequence so pruning can advance. 0 disables eviction.
	MaxTxnAge uint64
}

// Coordinator owns the global timestamp sequence, the committed history and
// shard placement. Validation, commit-timestamp assignment, the write phase
// and the history append all run inside one critical section: the simple
// design that trades validation throughput for obvious correctness.
type Coordinator struct {
	seq    *id.Sequence
	shards *shard.Map
	client *wire.Client

	mu                sync.Mutex // validation critical section; guards history and live
	history           *History
	live              btree.Set[uint64]
	commitsSincePrune int

	opts Options
}

// New creates a coordinator over the given shard map.
func New(shards *shard.Map, client *wire.Client, opts Options) *Coordinator {
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = 2 * time.Second
	}
	if opts.PruneEveryNCommits <= 0 {
		opts.PruneEveryNCommits = 64
	}
	return &Coordinator{
		seq:     id.NewSequence(0),
		shards:  shards,
		client:  client,
		history: NewHistory(),
		opts:    opts,
	}
}

// Begin issues a transaction id, which doubles as the start timestamp, and
// registers the transaction as live.
func (c *Coordinator) Begin() uint64 {
	tid := c.seq.Next()

	c.mu.Lock()
	c.live.Insert(tid)
	c.mu.Unlock()

	telemetry.LiveTxns.Inc()
	return tid
}

// ValidateAndCommit runs backward validation for an OCC transaction and, on
// success, assigns the commit timestamp, applies the write set to the shard
// owners and appends the committed record. Returns the commit timestamp.
func (c *Coordinator) ValidateAndCommit(ctx context.Context, tid uint64, readKeys []string, writes []wire.KeyValue) (uint64, error) {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		telemetry.ValidationSeconds.Observe(time.Since(start).Seconds())
	}()

	if !c.live.Contains(tid) {
		return 0, &AbortError{TID: tid, Reason: wire.ReasonClientAbort, Detail: "transaction not live"}
	}

	if conflict := c.history.FirstConflict(readKeys, tid); conflict != nil {
		c.finishLocked(tid)
		telemetry.TxnAbortsTotal.With(string(wire.ReasonStaleRead)).Inc()
		log.Debug().
			Uint64("tid", tid).
			Uint64("conflicting_commit_ts", conflict.CommitTS).
			Msg("Backward validation failed")
		return 0, &AbortError{TID: tid, Reason: wire.ReasonStaleRead}
	}

	commitTS := c.seq.Next()

	// Once the commit timestamp is assigned the transaction is logically
	// committed: an apply failure surfaces as APPLY_FAILED but the record
	// still enters history.
	applyErr := c.applyWrites(ctx, writes)

	c.history.Append(&Record{
		TID:         tid,
		CommitTS:    commitTS,
		WrittenKeys: keySet(writes),
	})
	c.finishLocked(tid)
	c.maybePruneLocked()
	telemetry.HistorySize.Set(float64(c.history.Len()))

	if applyErr != nil {
		telemetry.TxnAbortsTotal.With(string(wire.ReasonApplyFailed)).Inc()
		log.Error().Err(applyErr).Uint64("tid", tid).Uint64("commit_ts", commitTS).Msg("Write phase failed after commit point")
		return 0, &AbortError{TID: tid, Reason: wire.ReasonApplyFailed, Detail: applyErr.Error()}
	}

	telemetry.TxnCommitsTotal.With("occ").Inc()
	return commitTS, nil
}

// Commit finishes an already-applied (S2PL) transaction: assigns its commit
// timestamp and records its written keys so later OCC validations see them.
func (c *Coordinator) Commit(tid uint64, writeKeys []string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.live.Contains(tid) {
		return 0, &AbortError{TID: tid, Reason: wire.ReasonClientAbort, Detail: "transaction not live"}
	}

	commitTS := c.seq.Next()

	if len(writeKeys) > 0 {
		written := make(map[string]struct{}, len(writeKeys))
		for _, key := range writeKeys {
			written[key] = struct{}{}
		}
		c.history.Append(&Record{TID: tid, CommitTS: commitTS, WrittenKeys: written})
	}
	c.finishLocked(tid)
	c.maybePruneLocked()

	telemetry.TxnCommitsTotal.With("s2pl").Inc()
	return commitTS, nil
}

// Abort removes a live transaction. Idempotent.
func (c *Coordinator) Abort(tid uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live.Contains(tid) {
		c.finishLocked(tid)
		telemetry.TxnAbortsTotal.With(string(wire.ReasonClientAbort)).Inc()
	}
}

// LiveCount returns the number of live transactions.
func (c *Coordinator) LiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live.Len()
}

// HistoryLen returns the number of retained committed records.
func (c *Coordinator) HistoryLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Len()
}

func (c *Coordinator) finishLocked(tid uint64) {
	if c.live.Contains(tid) {
		c.live.Delete(tid)
		telemetry.LiveTxns.Dec()
	}
}

// applyWrites fans the write set out to the owning shards, one worker per
// shard, writes within a shard in order. Transport errors retry per key up
// to the configured bound.
func (c *Coordinator) applyWrites(ctx context.Context, writes []wire.KeyValue) error {
	if len(writes) == 0 {
		return nil
	}

	byShard := make(map[int][]wire.KeyValue)
	for _, kv := range writes {
		idx := c.shards.Index(kv.Key)
		byShard[idx] = append(byShard[idx], kv)
	}

	futures := make([]*future.Future[struct{}], 0, len(byShard))
	for idx, kvs := range byShard {
		endpoint := c.shards.EndpointAt(idx)
		kvs := kvs

		p := future.NewPromise[struct{}]()
		futures = append(futures, p.Future())
		go func() {
			p.Set(struct{}{}, c.applyToNode(ctx, endpoint, kvs))
		}()
	}

	var firstErr error
	for _, f := range futures {
		if _, err := f.Get(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Coordinator) applyToNode(ctx context.Context, endpoint string, kvs []wire.KeyValue) error {
	for _, kv := range kvs {
		var lastErr error
		for attempt := 0; attempt <= c.opts.ApplyRetries; attempt++ {
			callCtx, cancel := context.WithTimeout(ctx, c.opts.ApplyTimeout)
			resp, err := c.client.Call(callCtx, endpoint, &wire.Request{
				Op:    wire.OpPut,
				Key:   kv.Key,
				Value: kv.Value,
			})
			cancel()

			if err == nil && resp.Status == wire.StatusOK {
				lastErr = nil
				break
			}
			if err == nil {
				lastErr = fmt.Errorf("unexpected status %s", resp.Status)
				break
			}

			lastErr = err
			log.Warn().Err(err).Str("endpoint", endpoint).Str("key", kv.Key).Int("attempt", attempt+1).Msg("Write-phase PUT failed, retrying")
		}
		if lastErr != nil {
			return &ApplyError{Endpoint: endpoint, Key: kv.Key, Err: lastErr}
		}
	}
	return nil
}

// maybePruneLocked prunes history up to the minimum live start timestamp.
// With no live transactions everything already committed is prunable.
func (c *Coordinator) maybePruneLocked() {
	c.commitsSincePrune++
	if c.commitsSincePrune < c.opts.PruneEveryNCommits {
		return
	}
	c.commitsSincePrune = 0

	c.evictAgedLocked()

	// ts_low is the minimum live start timestamp; the oldest live
	// transaction only conflicts with commits strictly after its start, so
	// records at or below ts_low are invisible to every live transaction.
	tsLow, ok := c.live.Min()
	if !ok {
		tsLow = c.seq.Last()
	}

	if pruned := c.history.PruneBelow(tsLow); pruned > 0 {
		log.Debug().Uint64("ts_low", tsLow).Int("pruned", pruned).Msg("Pruned history")
	}
}

// evictAgedLocked drops live transactions that fell MaxTxnAge timestamps
// behind the sequence. Their later commit attempts fail with CLIENT_ABORT.
func (c *Coordinator) evictAgedLocked() {
	if c.opts.MaxTxnAge == 0 {
		return
	}

	last := c.seq.Last()
	if last <= c.opts.MaxTxnAge {
		return
	}
	cutoff := last - c.opts.MaxTxnAge

	var doomed []uint64
	c.live.Scan(func(tid uint64) bool {
		if tid >= cutoff {
			return false
		}
		doomed = append(doomed, tid)
		return true
	})

	for _, tid := range doomed {
		c.finishLocked(tid)
		log.Warn().Uint64("tid", tid).Msg("Evicted aged transaction to unblock pruning")
	}
}

func keySet(writes []wire.KeyValue) map[string]struct{} {
	keys := make(map[string]struct{}, len(writes))
	for _, kv := range writes {
		keys[kv.Key] = struct{}{}
	}
	return keys
}
