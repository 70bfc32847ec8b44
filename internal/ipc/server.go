package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"symdeploy/internal/logging"
)

// ErrServerClosed is returned by Accept after Close.
var ErrServerClosed = errors.New("ipc server closed")

// Server listens on a per-session unix socket and hands out the single
// helper connection.
type Server struct {
	path     string
	logger   *slog.Logger
	listener net.Listener

	mu     sync.Mutex
	conns  []*Conn
	closed bool

	closeOnce sync.Once
}

// SocketPath returns the socket location for channelID inside dir.
func SocketPath(dir, channelID string) string {
	return filepath.Join(dir, channelID+".sock")
}

// Listen creates the socket for channelID inside dir.
func Listen(dir, channelID string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	path := SocketPath(dir, channelID)
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	logger.Debug("IPC server listening", logging.String("socket", path))
	return &Server{path: path, logger: logger, listener: listener}, nil
}

// Path returns the socket file the helper dials.
func (s *Server) Path() string {
	return s.path
}

// Accept waits for the next connection or until ctx is done.
func (s *Server) Accept(ctx context.Context) (*Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := s.listener.Accept()
		ch <- result{conn: c, err: err}
	}()

	select {
	case <-ctx.Done():
		s.Close()
		go func() {
			if res := <-ch; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			if s.isClosed() {
				return nil, ErrServerClosed
			}
			return nil, fmt.Errorf("accept: %w", res.err)
		}
		conn := NewConn(res.conn, Host)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return nil, ErrServerClosed
		}
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		return conn, nil
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops listening, closes accepted connections and removes the socket
// file. Only the first call has an effect.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		conns := s.conns
		s.conns = nil
		s.mu.Unlock()

		_ = s.listener.Close()
		for _, c := range conns {
			_ = c.Close()
		}
		if err := os.RemoveAll(s.path); err != nil {
			logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
				logging.String("socket", s.path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "stale socket file left in socket directory"),
				logging.String(logging.FieldErrorHint, "remove the socket file manually"))
		}
		s.logger.Debug("IPC server stopped", logging.String("socket", s.path))
	})
}

// Dial connects the helper side to the socket at path.
func Dial(ctx context.Context, path string) (*Conn, error) {
	var dialer net.Dialer
	c, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return NewConn(c, Helper), nil
}
