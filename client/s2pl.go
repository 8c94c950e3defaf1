package client

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stoatdb/stoat/wire"
)

// s2plTxn implements strict two-phase locking: locks are taken at first
// access and held to the end, writes are buffered and applied between the
// last acquisition and the release, so no rollback path is needed.
type s2plTxn struct {
	client *Client
	tid    uint64
	state  txnState

	heldLocks  map[string]wire.LockMode
	touched    map[string]struct{} // node endpoints holding locks for us
	writeSet   map[string][]byte
	writeOrder []string
	readCache  map[string]cachedRead
}

func newS2PLTxn(c *Client, tid uint64) *s2plTxn {
	return &s2plTxn{
		client:    c,
		tid:       tid,
		heldLocks: make(map[string]wire.LockMode),
		touched:   make(map[string]struct{}),
		writeSet:  make(map[string][]byte),
		readCache: make(map[string]cachedRead),
	}
}

func (t *s2plTxn) Read(ctx context.Context, key string) ([]byte, bool, error) {
	if t.state != stateActive {
		return nil, false, ErrTxnFinished
	}

	if value, ok := t.writeSet[key]; ok {
		return value, true, nil
	}
	if cached, ok := t.readCache[key]; ok {
		return cached.value, cached.found, nil
	}

	if err := t.acquire(ctx, key, wire.LockShared); err != nil {
		return nil, false, err
	}

	resp, err := t.client.call(ctx, t.client.shards.Endpoint(key), &wire.Request{
		Op:  wire.OpGet,
		Key: key,
		TID: t.tid,
	})
	if err != nil {
		return nil, false, fmt.Errorf("read %q: %w", key, err)
	}
	switch resp.Status {
	case wire.StatusOK:
	case wire.StatusAborted:
		return nil, false, t.abortWith(ctx, resp.Reason, "")
	default:
		return nil, false, fmt.Errorf("read %q: %s", key, resp.Error)
	}

	t.readCache[key] = cachedRead{value: resp.Value, found: resp.Found}
	return resp.Value, resp.Found, nil
}

func (t *s2plTxn) Write(ctx context.Context, key string, value []byte) error {
	if t.state != stateActive {
		return ErrTxnFinished
	}

	if err := t.acquire(ctx, key, wire.LockExclusive); err != nil {
		return err
	}

	if _, ok := t.writeSet[key]; !ok {
		t.writeOrder = append(t.writeOrder, key)
	}
	v := make([]byte, len(value))
	copy(v, value)
	t.writeSet[key] = v
	return nil
}

func (t *s2plTxn) Commit(ctx context.Context) (uint64, error) {
	if t.state != stateActive {
		return 0, ErrTxnFinished
	}

	// Apply buffered writes under the exclusive locks taken at Write time.
	for _, key := range t.writeOrder {
		resp, err := t.client.call(ctx, t.client.shards.Endpoint(key), &wire.Request{
			Op:    wire.OpPut,
			Key:   key,
			Value: t.writeSet[key],
			TID:   t.tid,
		})
		if err != nil {
			return 0, t.abortWith(ctx, wire.ReasonClientAbort, err.Error())
		}
		switch resp.Status {
		case wire.StatusOK:
		case wire.StatusAborted:
			return 0, t.abortWith(ctx, resp.Reason, "")
		default:
			return 0, t.abortWith(ctx, wire.ReasonClientAbort, resp.Error)
		}
	}

	resp, err := t.client.call(ctx, t.client.coordinator, &wire.Request{
		Op:        wire.OpCommit,
		TID:       t.tid,
		WriteKeys: t.writeOrder,
	})
	if err != nil {
		return 0, t.abortWith(ctx, wire.ReasonClientAbort, err.Error())
	}
	if resp.Status != wire.StatusCommitted {
		reason := resp.Reason
		if reason == "" {
			reason = wire.ReasonClientAbort
		}
		return 0, t.abortWith(ctx, reason, resp.Error)
	}

	t.state = stateCommitted
	t.releaseAll(ctx)
	return resp.CommitTS, nil
}

func (t *s2plTxn) Abort(ctx context.Context) error {
	if t.state != stateActive {
		return ErrTxnFinished
	}
	t.state = stateAborted

	t.releaseAll(ctx)
	if _, err := t.client.call(ctx, t.client.coordinator, &wire.Request{Op: wire.OpAbort, TID: t.tid}); err != nil {
		return fmt.Errorf("abort %d: %w", t.tid, err)
	}
	return nil
}

// acquire takes key in mode unless an equal or stronger lock is held.
// TIMEOUT and DEADLOCK_ABORT terminate the transaction on the spot.
func (t *s2plTxn) acquire(ctx context.Context, key string, mode wire.LockMode) error {
	if held, ok := t.heldLocks[key]; ok {
		if held == wire.LockExclusive || mode == wire.LockShared {
			return nil
		}
	}

	endpoint := t.client.shards.Endpoint(key)
	resp, err := t.client.lockCall(ctx, endpoint, &wire.Request{
		Op:        wire.OpLockAcquire,
		TID:       t.tid,
		Key:       key,
		Mode:      mode,
		TimeoutMS: t.client.opts.LockTimeout.Milliseconds(),
	})
	if err != nil {
		return t.abortWith(ctx, wire.ReasonClientAbort, err.Error())
	}

	switch resp.Status {
	case wire.StatusGranted:
		t.heldLocks[key] = mode
		t.touched[endpoint] = struct{}{}
		return nil
	case wire.StatusTimeout:
		return t.abortWith(ctx, wire.ReasonLockTimeout, "")
	case wire.StatusDeadlockAbort:
		return t.abortWith(ctx, wire.ReasonDeadlockAbort, "")
	default:
		return t.abortWith(ctx, wire.ReasonClientAbort, resp.Error)
	}
}

// abortWith terminates the transaction, releases its locks and informs the
// coordinator, then returns the typed abort error.
func (t *s2plTxn) abortWith(ctx context.Context, reason wire.AbortReason, detail string) error {
	t.state = stateAborted
	t.releaseAll(ctx)

	if _, err := t.client.call(ctx, t.client.coordinator, &wire.Request{Op: wire.OpAbort, TID: t.tid}); err != nil {
		log.Debug().Err(err).Uint64("tid", t.tid).Msg("Failed to report abort to coordinator")
	}

	return &AbortedError{TID: t.tid, Reason: reason, Detail: detail}
}

func (t *s2plTxn) releaseAll(ctx context.Context) {
	for endpoint := range t.touched {
		if _, err := t.client.call(ctx, endpoint, &wire.Request{Op: wire.OpLockReleaseAll, TID: t.tid}); err != nil {
			log.Warn().Err(err).Uint64("tid", t.tid).Str("endpoint", endpoint).Msg("Failed to release locks")
		}
	}
	t.touched = make(map[string]struct{})
	t.heldLocks = make(map[string]wire.LockMode)
}
