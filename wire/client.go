package wire

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const dialTimeout = 3 * time.Second

// clientConn is one pooled connection with its buffered reader.
type clientConn struct {
	nc net.Conn
	br *bufio.Reader
}

// Client manages pooled TCP connections to stoat servers, keyed by address.
// Calls are synchronous per connection: a connection carries one outstanding
// request, so a blocked LOCK_ACQUIRE holds its connection and concurrent
// callers dial or reuse others.
type Client struct {
	mu     sync.Mutex
	idle   map[string][]*clientConn
	nextID atomic.Uint64
	closed bool
}

// NewClient creates a connection pool.
func NewClient() *Client {
	return &Client{
		idle: make(map[string][]*clientConn),
	}
}

// Call sends req to addr and waits for the matching response. The context
// deadline, when set, bounds the whole exchange.
func (c *Client) Call(ctx context.Context, addr string, req *Request) (*Response, error) {
	conn, err := c.checkout(ctx, addr)
	if err != nil {
		return nil, err
	}

	req.ID = c.nextID.Add(1)

	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		conn.nc.SetDeadline(deadline)
	} else {
		conn.nc.SetDeadline(time.Time{})
	}

	if err := WriteFrame(conn.nc, req); err != nil {
		conn.nc.Close()
		return nil, fmt.Errorf("send %s to %s: %w", req.Op, addr, err)
	}

	resp := &Response{}
	if err := ReadFrame(conn.br, resp); err != nil {
		conn.nc.Close()
		return nil, fmt.Errorf("receive %s from %s: %w", req.Op, addr, err)
	}

	if resp.ID != req.ID {
		conn.nc.Close()
		return nil, fmt.Errorf("response id mismatch from %s: sent %d, got %d", addr, req.ID, resp.ID)
	}

	c.checkin(addr, conn)
	return resp, nil
}

func (c *Client) checkout(ctx context.Context, addr string) (*clientConn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client closed")
	}
	if conns := c.idle[addr]; len(conns) > 0 {
		conn := conns[len(conns)-1]
		c.idle[addr] = conns[:len(conns)-1]
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	d := net.Dialer{Timeout: dialTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	log.Debug().Str("address", addr).Msg("Dialed connection")
	return &clientConn{nc: nc, br: bufio.NewReader(nc)}, nil
}

func (c *Client) checkin(addr string, conn *clientConn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		conn.nc.Close()
		return
	}
	c.idle[addr] = append(c.idle[addr], conn)
}

// Close closes all idle connections. Connections checked out by in-flight
// calls are closed as their calls finish.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for _, conns := range c.idle {
		for _, conn := range conns {
			conn.nc.Close()
		}
	}
	c.idle = make(map[string][]*clientConn)
}
