package ipc

import (
	"context"
	stderrors "errors"
	"encoding/json"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	qerrors "github.com/quotio/quotiod/internal/errors"
)

var errFrameTooLarge = stderrors.New("ipc frame exceeds limit")

// drainTimeout is how long Close waits for in-flight handlers.
const drainTimeout = 500 * time.Millisecond

// Handler serves one method. The returned value is marshalled into
// result; a returned *qerrors.ErrRPC keeps its application code,
// anything else becomes -32603.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Server is the IPC endpoint.
type Server struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	listener net.Listener

	connMu sync.Mutex
	conns  map[string]*serverConn

	wg      sync.WaitGroup
	closing bool
}

type serverConn struct {
	id      string
	conn    net.Conn
	writeMu sync.Mutex
}

// NewServer returns a server with an empty registry.
func NewServer() *Server {
	return &Server{
		handlers: make(map[string]Handler),
		conns:    make(map[string]*serverConn),
	}
}

// Register installs a method handler.
func (s *Server) Register(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Listen binds the local socket (unix socket or named pipe). A stale
// socket file is removed only after the liveness probe against the
// existing daemon fails.
func (s *Server) Listen(path string) error {
	listener, err := listenLocal(path)
	if err != nil {
		return err
	}
	s.listener = listener
	return nil
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return stderrors.New("ipc: Serve called before Listen")
	}
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.connMu.Lock()
			closing := s.closing
			s.connMu.Unlock()
			if closing || ctx.Err() != nil {
				return nil
			}
			return err
		}
		sc := &serverConn{id: uuid.NewString(), conn: conn}
		s.connMu.Lock()
		s.conns[sc.id] = sc
		s.connMu.Unlock()
		s.wg.Add(1)
		go s.handleConn(ctx, sc)
	}
}

func (s *Server) handleConn(ctx context.Context, sc *serverConn) {
	defer s.wg.Done()
	defer func() {
		_ = sc.conn.Close()
		s.connMu.Lock()
		delete(s.conns, sc.id)
		s.connMu.Unlock()
		log.WithField("conn", sc.id).Debug("ipc connection closed")
	}()
	log.WithField("conn", sc.id).Debug("ipc connection opened")

	framer := &Framer{}
	buf := make([]byte, 64*1024)
	for {
		n, err := sc.conn.Read(buf)
		if n > 0 {
			frames, ferr := framer.Feed(buf[:n])
			if ferr != nil {
				s.writeError(sc, nil, qerrors.CodeParseError, ferr.Error())
				return
			}
			for _, frame := range frames {
				// handler work runs off the framer goroutine so one
				// slow fetch never blocks the next read
				s.wg.Add(1)
				go func(frame []byte) {
					defer s.wg.Done()
					s.dispatch(ctx, sc, frame)
				}(frame)
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, sc *serverConn, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("ipc handler panic: %v\n%s", r, debug.Stack())
			s.writeError(sc, nil, qerrors.CodeInternalError, fmt.Sprintf("internal error: %v", r))
		}
	}()

	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		s.writeError(sc, nil, qerrors.CodeParseError, "parse error: "+err.Error())
		return
	}
	if req.JSONRPC != Version || req.Method == "" {
		s.writeError(sc, req.ID, qerrors.CodeInvalidRequest, "invalid request")
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		if req.IsNotification() {
			return
		}
		s.writeError(sc, req.ID, qerrors.CodeMethodNotFound, "Method not found: "+req.Method)
		return
	}

	result, err := handler(ctx, req.Params)
	if req.IsNotification() {
		return
	}
	if err != nil {
		if rpcErr, isRPC := qerrors.AsRPC(err); isRPC {
			s.writeResponse(sc, Response{
				JSONRPC: Version,
				ID:      req.ID,
				Error:   &Error{Code: rpcErr.Code, Message: rpcErr.Message, Data: rpcErr.Data},
			})
			return
		}
		s.writeError(sc, req.ID, qerrors.CodeInternalError, err.Error())
		return
	}
	s.writeResponse(sc, Response{JSONRPC: Version, ID: req.ID, Result: result})
}

func (s *Server) writeError(sc *serverConn, id json.RawMessage, code int, message string) {
	if id == nil {
		id = json.RawMessage("null")
	}
	s.writeResponse(sc, Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	})
}

func (s *Server) writeResponse(sc *serverConn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Errorf("ipc: marshal response: %v", err)
		return
	}
	data = append(data, '\n')
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if _, err := sc.conn.Write(data); err != nil {
		log.WithField("conn", sc.id).Debugf("ipc write failed: %v", err)
	}
}

// Broadcast sends a notification to every connected client.
func (s *Server) Broadcast(method string, params any) {
	data, err := json.Marshal(Notification{JSONRPC: Version, Method: method, Params: params})
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.connMu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for _, sc := range s.conns {
		conns = append(conns, sc)
	}
	s.connMu.Unlock()

	for _, sc := range conns {
		sc.writeMu.Lock()
		_, _ = sc.conn.Write(data)
		sc.writeMu.Unlock()
	}
}

// ConnCount reports how many clients are connected.
func (s *Server) ConnCount() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.conns)
}

// Close stops accepting, gives in-flight handlers the drain window, then
// force-closes every connection.
func (s *Server) Close() error {
	s.connMu.Lock()
	s.closing = true
	s.connMu.Unlock()

	if s.listener != nil {
		_ = s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
	}

	s.connMu.Lock()
	for _, sc := range s.conns {
		_ = sc.conn.Close()
	}
	s.connMu.Unlock()
	return nil
}
