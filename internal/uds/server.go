package uds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"
)

// HandlerFunc answers one request.
type HandlerFunc func(req *Request) *Response

// StreamHandlerFunc serves a long-lived connection after the request has been
// acknowledged. ctx is cancelled when the peer disconnects or the server stops;
// the handler returns to close the stream.
type StreamHandlerFunc func(ctx context.Context, req *Request, stream *Stream)

// Stream is the server side of a streaming connection.
type Stream struct {
	conn    net.Conn
	mu      sync.Mutex
	inbound chan json.RawMessage
}

// Send writes one frame to the peer. Safe for concurrent use.
func (st *Stream) Send(v any) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return WriteFrame(st.conn, v)
}

// Inbound delivers frames sent by the peer. It is closed when the peer
// disconnects.
func (st *Stream) Inbound() <-chan json.RawMessage {
	return st.inbound
}

type route struct {
	unary  HandlerFunc
	stream StreamHandlerFunc
}

// Server accepts one request per connection, or keeps the connection open for
// commands registered with HandleStream.
type Server struct {
	path        string
	connTimeout time.Duration
	logger      *log.Logger

	mu     sync.RWMutex
	routes map[string]route
	ln     net.Listener
	conns  map[net.Conn]struct{}

	ctx    context.Context
	stop   context.CancelFunc
	active sync.WaitGroup
}

func NewServer(socketPath string) *Server {
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		path:        socketPath,
		connTimeout: 30 * time.Second,
		logger:      log.Default(),
		routes:      make(map[string]route),
		conns:       make(map[net.Conn]struct{}),
		ctx:         ctx,
		stop:        stop,
	}
}

// SetConnTimeout bounds how long a unary exchange may take.
func (s *Server) SetConnTimeout(d time.Duration) { s.connTimeout = d }

// SetLogger directs connection-level errors to logger. Call before Start.
func (s *Server) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string { return s.path }

func (s *Server) logf(format string, args ...any) {
	s.logger.Printf("%s ERROR uds: %s", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

// Handle registers a request/response command.
func (s *Server) Handle(command string, h HandlerFunc) {
	s.mu.Lock()
	s.routes[command] = route{unary: h}
	s.mu.Unlock()
}

// HandleStream registers a streaming command.
func (s *Server) HandleStream(command string, h StreamHandlerFunc) {
	s.mu.Lock()
	s.routes[command] = route{stream: h}
	s.mu.Unlock()
}

// Start listens on the socket path, replacing a stale socket file, and
// serves until Stop.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return errors.New("server already started")
	}

	_ = os.Remove(s.path)
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("restrict socket permissions: %w", err)
	}
	s.ln = ln

	s.active.Add(1)
	go s.serve(ln)
	return nil
}

// Stop closes the listener and every open connection, waits for handlers to
// return and removes the socket file. It is safe to call more than once.
func (s *Server) Stop() error {
	s.stop()
	s.mu.Lock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.active.Wait()
	_ = os.Remove(s.path)
	return nil
}

func (s *Server) serve(ln net.Listener) {
	defer s.active.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logf("accept: %v", err)
			continue
		}
		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.active.Add(1)
		go s.handleConn(conn)
	}
}

// track records conn for Stop. It refuses once the server is stopping.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.active.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.logf("panic serving connection: %v\n%s", r, debug.Stack())
		}
	}()

	_ = conn.SetDeadline(time.Now().Add(s.connTimeout))

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		if s.ctx.Err() == nil {
			s.logf("read request: %v", err)
		}
		return
	}

	rt, resp := s.dispatch(&req)
	if rt.stream != nil {
		s.serveStream(conn, &req, rt.stream)
		return
	}
	if resp == nil {
		resp = rt.unary(&req)
	}
	if err := WriteFrame(conn, resp); err != nil {
		s.logf("write response to %q: %v", req.Command, err)
	}
}

// dispatch finds the route for req. A non-nil response means the request is
// rejected before any handler runs.
func (s *Server) dispatch(req *Request) (route, *Response) {
	if req.ProtocolVersion != ProtocolVersion {
		return route{}, ErrorResponse(ErrCodeProtocolMismatch,
			fmt.Sprintf("protocol version %d not supported, this server speaks %d", req.ProtocolVersion, ProtocolVersion))
	}
	s.mu.RLock()
	rt, ok := s.routes[req.Command]
	s.mu.RUnlock()
	if !ok {
		return route{}, ErrorResponse(ErrCodeUnknownCommand, fmt.Sprintf("unknown command: %q", req.Command))
	}
	return rt, nil
}

func (s *Server) serveStream(conn net.Conn, req *Request, handler StreamHandlerFunc) {
	if err := WriteFrame(conn, SuccessResponse(nil)); err != nil {
		s.logf("ack stream %q: %v", req.Command, err)
		return
	}
	_ = conn.SetDeadline(time.Time{})

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	stream := &Stream{conn: conn, inbound: make(chan json.RawMessage, 16)}
	go func() {
		defer cancel()
		defer close(stream.inbound)
		for {
			raw, err := ReadRawFrame(conn)
			if err != nil {
				return
			}
			select {
			case stream.inbound <- json.RawMessage(raw):
			case <-ctx.Done():
				return
			}
		}
	}()

	handler(ctx, req, stream)
}
