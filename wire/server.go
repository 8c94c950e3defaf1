package wire

import (
	"bufio"
	"context"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
)

// Handler processes one request and produces its response. Handle is called
// on a fresh goroutine per request, so it may block (lock waits do). The
// context is cancelled when the originating connection closes.
type Handler interface {
	Handle(ctx context.Context, req *Request) *Response
}

// Server accepts connections and dispatches framed requests to a Handler.
// Responses are written back tagged with the request id; a connection may
// have multiple requests in flight.
type Server struct {
	address  string
	handler  Handler
	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates a server bound to address once Start is called.
func NewServer(address string, handler Handler) *Server {
	return &Server{
		address: address,
		handler: handler,
		quit:    make(chan struct{}),
	}
}

// Start begins listening and serving in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.listener = listener

	log.Info().Str("address", listener.Addr().String()).Msg("RPC server started")

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound listen address. Valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.address
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and waits for active connections to drain.
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				log.Error().Err(err).Msg("Accept error")
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	// In-flight handlers observe connection teardown through ctx; the
	// write mutex keeps concurrent responses from interleaving frames.
	// Cancellation must precede the drain or a blocked handler would stall
	// connection teardown.
	var writeMu sync.Mutex
	var inflight sync.WaitGroup
	defer inflight.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := bufio.NewReader(conn)

	for {
		req := &Request{}
		if err := ReadFrame(reader, req); err != nil {
			return
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()

			resp := s.handler.Handle(ctx, req)
			if resp == nil {
				resp = &Response{Status: StatusError, Error: "no response"}
			}
			resp.ID = req.ID

			writeMu.Lock()
			err := WriteFrame(conn, resp)
			writeMu.Unlock()

			if err != nil {
				log.Debug().Err(err).Str("op", req.Op.String()).Msg("Failed to write response")
			}
		}()
	}
}
