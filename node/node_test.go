package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stoatdb/stoat/wire"
)

func newTestNode() *Node {
	return NewNode(0, 1024, time.Second)
}

func TestNode_OCCGetPut(t *testing.T) {
	n := newTestNode()
	ctx := context.Background()

	resp := n.Handle(ctx, &wire.Request{Op: wire.OpGet, Key: "x"})
	require.Equal(t, wire.StatusOK, resp.Status)
	require.False(t, resp.Found)

	resp = n.Handle(ctx, &wire.Request{Op: wire.OpPut, Key: "x", Value: []byte("1")})
	require.Equal(t, wire.StatusOK, resp.Status)

	resp = n.Handle(ctx, &wire.Request{Op: wire.OpGet, Key: "x"})
	require.Equal(t, wire.StatusOK, resp.Status)
	require.True(t, resp.Found)
	require.Equal(t, []byte("1"), resp.Value)
}

func TestNode_Del(t *testing.T) {
	n := newTestNode()
	ctx := context.Background()

	n.Handle(ctx, &wire.Request{Op: wire.OpPut, Key: "x", Value: []byte("1")})
	resp := n.Handle(ctx, &wire.Request{Op: wire.OpDel, Key: "x"})
	require.Equal(t, wire.StatusOK, resp.Status)

	resp = n.Handle(ctx, &wire.Request{Op: wire.OpGet, Key: "x"})
	require.False(t, resp.Found)
}

func TestNode_S2PLRequiresLock(t *testing.T) {
	n := newTestNode()
	ctx := context.Background()

	// No lock held: both data ops are rejected.
	resp := n.Handle(ctx, &wire.Request{Op: wire.OpGet, Key: "x", TID: 1})
	require.Equal(t, wire.StatusError, resp.Status)

	resp = n.Handle(ctx, &wire.Request{Op: wire.OpPut, Key: "x", Value: []byte("1"), TID: 1})
	require.Equal(t, wire.StatusError, resp.Status)

	// SHARED lock allows get but not put.
	resp = n.Handle(ctx, &wire.Request{Op: wire.OpLockAcquire, TID: 1, Key: "x", Mode: wire.LockShared})
	require.Equal(t, wire.StatusGranted, resp.Status)

	resp = n.Handle(ctx, &wire.Request{Op: wire.OpGet, Key: "x", TID: 1})
	require.Equal(t, wire.StatusOK, resp.Status)

	resp = n.Handle(ctx, &wire.Request{Op: wire.OpPut, Key: "x", Value: []byte("1"), TID: 1})
	require.Equal(t, wire.StatusError, resp.Status)

	// EXCLUSIVE upgrade allows put.
	resp = n.Handle(ctx, &wire.Request{Op: wire.OpLockAcquire, TID: 1, Key: "x", Mode: wire.LockExclusive})
	require.Equal(t, wire.StatusGranted, resp.Status)

	resp = n.Handle(ctx, &wire.Request{Op: wire.OpPut, Key: "x", Value: []byte("1"), TID: 1})
	require.Equal(t, wire.StatusOK, resp.Status)
}

func TestNode_ReleaseAll(t *testing.T) {
	n := newTestNode()
	ctx := context.Background()

	n.Handle(ctx, &wire.Request{Op: wire.OpLockAcquire, TID: 1, Key: "x", Mode: wire.LockExclusive})
	resp := n.Handle(ctx, &wire.Request{Op: wire.OpLockReleaseAll, TID: 1})
	require.Equal(t, wire.StatusOK, resp.Status)

	resp = n.Handle(ctx, &wire.Request{Op: wire.OpLockAcquire, TID: 2, Key: "x", Mode: wire.LockExclusive})
	require.Equal(t, wire.StatusGranted, resp.Status)
}

func TestNode_WoundedOperationsRejected(t *testing.T) {
	n := newTestNode()
	ctx := context.Background()

	// Younger holder is wounded by the older requester.
	resp := n.Handle(ctx, &wire.Request{Op: wire.OpLockAcquire, TID: 9, Key: "x", Mode: wire.LockExclusive})
	require.Equal(t, wire.StatusGranted, resp.Status)

	resp = n.Handle(ctx, &wire.Request{Op: wire.OpLockAcquire, TID: 1, Key: "x", Mode: wire.LockExclusive})
	require.Equal(t, wire.StatusGranted, resp.Status)

	resp = n.Handle(ctx, &wire.Request{Op: wire.OpGet, Key: "x", TID: 9})
	require.Equal(t, wire.StatusAborted, resp.Status)
	require.Equal(t, wire.ReasonDeadlockAbort, resp.Reason)

	resp = n.Handle(ctx, &wire.Request{Op: wire.OpLockAcquire, TID: 9, Key: "y", Mode: wire.LockShared})
	require.Equal(t, wire.StatusDeadlockAbort, resp.Status)
}

func TestNode_UnknownOp(t *testing.T) {
	n := newTestNode()

	resp := n.Handle(context.Background(), &wire.Request{Op: 0})
	require.Equal(t, wire.StatusError, resp.Status)
}
