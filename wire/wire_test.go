package wire

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer

	in := &Request{
		Op:        OpValidateCommit,
		TID:       42,
		ReadKeys:  []string{"a", "b"},
		Writes:    []KeyValue{{Key: "c", Value: []byte("v1")}},
		WriteKeys: []string{"c"},
	}
	require.NoError(t, WriteFrame(&buf, in))

	out := &Request{}
	require.NoError(t, ReadFrame(&buf, out))
	require.Equal(t, in, out)
}

func TestFrame_RejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	big := &Request{Op: OpPut, Value: make([]byte, MaxFrameSize+1)}
	require.Error(t, WriteFrame(&buf, big))
}

// echoHandler responds with the request's key and value reflected back.
type echoHandler struct{}

func (echoHandler) Handle(ctx context.Context, req *Request) *Response {
	return &Response{Status: StatusOK, Value: append([]byte(req.Key), req.Value...), Found: true}
}

// slowHandler delays so concurrent requests overlap on one server.
type slowHandler struct{}

func (slowHandler) Handle(ctx context.Context, req *Request) *Response {
	time.Sleep(20 * time.Millisecond)
	return &Response{Status: StatusOK, TID: req.TID}
}

func TestServerClient_RoundTrip(t *testing.T) {
	srv := NewServer("127.0.0.1:0", echoHandler{})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	c := NewClient()
	defer c.Close()

	resp, err := c.Call(context.Background(), srv.Addr(), &Request{Op: OpGet, Key: "k", Value: []byte("v")})
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)
	require.Equal(t, []byte("kv"), resp.Value)
}

func TestServerClient_ConcurrentCalls(t *testing.T) {
	srv := NewServer("127.0.0.1:0", slowHandler{})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	c := NewClient()
	defer c.Close()

	const callers = 20
	var wg sync.WaitGroup
	errs := make([]error, callers)
	tids := make([]uint64, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := c.Call(context.Background(), srv.Addr(), &Request{Op: OpBegin, TID: uint64(i + 1)})
			errs[i] = err
			if err == nil {
				tids[i] = resp.TID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, uint64(i+1), tids[i], "response must match its request")
	}
}

func TestClient_CallTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	srv := NewServer("127.0.0.1:0", handlerFunc(func(ctx context.Context, req *Request) *Response {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return &Response{Status: StatusOK}
	}))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	c := NewClient()
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Call(ctx, srv.Addr(), &Request{Op: OpGet, Key: "k"})
	require.Error(t, err)
}

type handlerFunc func(ctx context.Context, req *Request) *Response

func (f handlerFunc) Handle(ctx context.Context, req *Request) *Response {
	return f(ctx, req)
}
