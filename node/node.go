package node

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stoatdb/stoat/telemetry"
	"github.com/stoatdb/stoat/wire"
)

// Node serves one shard over the wire protocol. The OCC path (TID 0 on
// GET/PUT) goes straight to the store; the S2PL path checks the lock table
// before touching data.
type Node struct {
	index int
	store *Store
	locks *LockTable
}

// NewNode creates a data node for the given shard index.
func NewNode(index int, woundedSize int, lockTimeout time.Duration) *Node {
	return &Node{
		index: index,
		store: NewStore(),
		locks: NewLockTable(woundedSize, lockTimeout),
	}
}

// Store exposes the shard store, primarily for tests.
func (n *Node) Store() *Store {
	return n.store
}

// Locks exposes the lock table, primarily for tests.
func (n *Node) Locks() *LockTable {
	return n.locks
}

// Handle implements wire.Handler.
func (n *Node) Handle(ctx context.Context, req *wire.Request) *wire.Response {
	switch req.Op {
	case wire.OpGet:
		return n.handleGet(req)
	case wire.OpPut:
		return n.handlePut(req)
	case wire.OpDel:
		n.store.Del(req.Key)
		return &wire.Response{Status: wire.StatusOK}
	case wire.OpLockAcquire:
		return n.handleLockAcquire(ctx, req)
	case wire.OpLockReleaseAll:
		n.locks.ReleaseAll(req.TID)
		return &wire.Response{Status: wire.StatusOK}
	default:
		log.Warn().Str("op", req.Op.String()).Int("shard", n.index).Msg("Unknown operation")
		return &wire.Response{Status: wire.StatusError, Error: "unknown operation: " + req.Op.String()}
	}
}

func (n *Node) handleGet(req *wire.Request) *wire.Response {
	// TID present means the S2PL path: the caller must hold the lock.
	if req.TID != 0 {
		if resp := n.checkLocked(req.TID, req.Key, wire.LockShared); resp != nil {
			return resp
		}
	}

	value, found := n.store.Get(req.Key)
	return &wire.Response{Status: wire.StatusOK, Value: value, Found: found}
}

func (n *Node) handlePut(req *wire.Request) *wire.Response {
	if req.TID != 0 {
		if resp := n.checkLocked(req.TID, req.Key, wire.LockExclusive); resp != nil {
			return resp
		}
	}

	n.store.Put(req.Key, req.Value)
	return &wire.Response{Status: wire.StatusOK}
}

// checkLocked rejects S2PL data operations whose TID was wounded or does
// not hold the key in a mode covering want.
func (n *Node) checkLocked(tid uint64, key string, want wire.LockMode) *wire.Response {
	if n.locks.IsWounded(tid) {
		return &wire.Response{Status: wire.StatusAborted, Reason: wire.ReasonDeadlockAbort}
	}

	mode, held := n.locks.HeldMode(tid, key)
	if !held || (want == wire.LockExclusive && mode != wire.LockExclusive) {
		return &wire.Response{Status: wire.StatusError, Error: "lock not held"}
	}
	return nil
}

func (n *Node) handleLockAcquire(ctx context.Context, req *wire.Request) *wire.Response {
	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	status := n.locks.Acquire(ctx, req.TID, req.Key, req.Mode, timeout)

	switch status {
	case wire.StatusGranted:
		return &wire.Response{Status: wire.StatusGranted}
	case wire.StatusTimeout:
		telemetry.LockTimeoutsTotal.Inc()
		return &wire.Response{Status: wire.StatusTimeout}
	default:
		return &wire.Response{Status: wire.StatusDeadlockAbort}
	}
}
