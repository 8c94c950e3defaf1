package client

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stoatdb/stoat/wire"
)

type txnState int

const (
	stateActive txnState = iota
	stateCommitted
	stateAborted
)

// occTxn runs the three OCC phases: reads go to the nodes and land in the
// read set, writes buffer locally, and commit ships both to the
// coordinator for backward validation.
type occTxn struct {
	client *Client
	tid    uint64
	state  txnState

	readSet  map[string]struct{}
	writeSet map[string][]byte

	// readCache pins the first observed value per key so repeated reads
	// inside the transaction are stable.
	readCache map[string]cachedRead
}

type cachedRead struct {
	value []byte
	found bool
}

func newOCCTxn(c *Client, tid uint64) *occTxn {
	return &occTxn{
		client:    c,
		tid:       tid,
		readSet:   make(map[string]struct{}),
		writeSet:  make(map[string][]byte),
		readCache: make(map[string]cachedRead),
	}
}

func (t *occTxn) Read(ctx context.Context, key string) ([]byte, bool, error) {
	if t.state != stateActive {
		return nil, false, ErrTxnFinished
	}

	// Read-your-own-writes from the buffered write set.
	if value, ok := t.writeSet[key]; ok {
		return value, true, nil
	}
	if cached, ok := t.readCache[key]; ok {
		return cached.value, cached.found, nil
	}

	resp, err := t.client.call(ctx, t.client.shards.Endpoint(key), &wire.Request{
		Op:  wire.OpGet,
		Key: key,
	})
	if err != nil {
		return nil, false, fmt.Errorf("read %q: %w", key, err)
	}
	if resp.Status != wire.StatusOK {
		return nil, false, fmt.Errorf("read %q: %s", key, resp.Error)
	}

	t.readSet[key] = struct{}{}
	t.readCache[key] = cachedRead{value: resp.Value, found: resp.Found}
	return resp.Value, resp.Found, nil
}

func (t *occTxn) Write(ctx context.Context, key string, value []byte) error {
	if t.state != stateActive {
		return ErrTxnFinished
	}

	v := make([]byte, len(value))
	copy(v, value)
	t.writeSet[key] = v
	return nil
}

func (t *occTxn) Commit(ctx context.Context) (uint64, error) {
	if t.state != stateActive {
		return 0, ErrTxnFinished
	}

	// A transaction that touched nothing has nothing to validate; just
	// deregister from the coordinator's live set.
	if len(t.readSet) == 0 && len(t.writeSet) == 0 {
		t.state = stateCommitted
		if _, err := t.client.call(ctx, t.client.coordinator, &wire.Request{Op: wire.OpAbort, TID: t.tid}); err != nil {
			log.Debug().Err(err).Uint64("tid", t.tid).Msg("Failed to deregister empty transaction")
		}
		return 0, nil
	}

	readKeys := make([]string, 0, len(t.readSet))
	for key := range t.readSet {
		readKeys = append(readKeys, key)
	}
	writes := make([]wire.KeyValue, 0, len(t.writeSet))
	for key, value := range t.writeSet {
		writes = append(writes, wire.KeyValue{Key: key, Value: value})
	}

	resp, err := t.client.call(ctx, t.client.coordinator, &wire.Request{
		Op:       wire.OpValidateCommit,
		TID:      t.tid,
		ReadKeys: readKeys,
		Writes:   writes,
	})
	if err != nil {
		return 0, fmt.Errorf("commit %d: %w", t.tid, err)
	}

	switch resp.Status {
	case wire.StatusCommitted:
		t.state = stateCommitted
		return resp.CommitTS, nil
	case wire.StatusAborted:
		t.state = stateAborted
		return 0, &AbortedError{TID: t.tid, Reason: resp.Reason, Detail: resp.Error}
	default:
		t.state = stateAborted
		return 0, fmt.Errorf("commit %d: %s", t.tid, resp.Error)
	}
}

func (t *occTxn) Abort(ctx context.Context) error {
	if t.state != stateActive {
		return ErrTxnFinished
	}
	t.state = stateAborted

	if _, err := t.client.call(ctx, t.client.coordinator, &wire.Request{Op: wire.OpAbort, TID: t.tid}); err != nil {
		return fmt.Errorf("abort %d: %w", t.tid, err)
	}
	return nil
}
