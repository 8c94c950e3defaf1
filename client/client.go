// Package client is stoat's transactional API. A Client connects to one
// coordinator and the data nodes; Begin returns a per-transaction handle
// implementing the chosen concurrency-control discipline.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/stoatdb/stoat/shard"
	"github.com/stoatdb/stoat/wire"
)

// Mode selects the concurrency-control discipline for one transaction.
type Mode int

const (
	OCC Mode = iota + 1
	S2PL
)

func (m Mode) String() string {
	switch m {
	case OCC:
		return "OCC"
	case S2PL:
		return "S2PL"
	default:
		return "UNKNOWN"
	}
}

// Options tune client behavior.
type Options struct {
	// LockTimeout bounds each S2PL lock acquisition.
	LockTimeout time.Duration

	// CallTimeout bounds plain RPCs (reads, puts, coordinator calls).
	CallTimeout time.Duration
}

// Txn is a transaction handle. Handles are owned by one goroutine; a
// handle whose transaction aborted fails all further operations.
//
// Read returns found=false for a missing key. Commit returns the commit
// timestamp; an OCC transaction that neither read nor wrote commits
// without validation and returns 0. Aborted transactions surface
// *AbortedError; retry is the caller's responsibility.
type Txn interface {
	Read(ctx context.Context, key string) (value []byte, found bool, err error)
	Write(ctx context.Context, key string, value []byte) error
	Commit(ctx context.Context) (commitTS uint64, err error)
	Abort(ctx context.Context) error
}

// Client routes transactions to a coordinator and sharded data nodes.
// Safe for concurrent use; each transaction handle is not.
type Client struct {
	coordinator string
	shards      *shard.Map
	rpc         *wire.Client
	opts        Options
}

// New creates a client. nodes must list the data node endpoints in shard
// order, identically on every process.
func New(coordinator string, nodes []string, opts Options) *Client {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Second
	}
	return &Client{
		coordinator: coordinator,
		shards:      shard.NewMap(nodes),
		rpc:         wire.NewClient(),
		opts:        opts,
	}
}

// Begin starts a transaction in the given mode. Both modes obtain their
// TID from the coordinator: OCC uses it as the start timestamp, S2PL as
// the wound-wait priority.
func (c *Client) Begin(ctx context.Context, mode Mode) (Txn, error) {
	resp, err := c.call(ctx, c.coordinator, &wire.Request{Op: wire.OpBegin})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	if resp.Status != wire.StatusOK {
		return nil, fmt.Errorf("begin: %s", resp.Error)
	}

	switch mode {
	case OCC:
		return newOCCTxn(c, resp.TID), nil
	case S2PL:
		return newS2PLTxn(c, resp.TID), nil
	default:
		return nil, fmt.Errorf("unknown mode %d", mode)
	}
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.rpc.Close()
}

// call performs one RPC bounded by CallTimeout unless ctx is tighter.
func (c *Client) call(ctx context.Context, addr string, req *wire.Request) (*wire.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	return c.rpc.Call(callCtx, addr, req)
}

// lockCall performs a LOCK_ACQUIRE, giving the server room to run the full
// wait before the transport deadline cuts in.
func (c *Client) lockCall(ctx context.Context, addr string, req *wire.Request) (*wire.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.LockTimeout+c.opts.CallTimeout)
	defer cancel()
	return c.rpc.Call(callCtx, addr, req)
}
