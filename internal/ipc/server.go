package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"expandd/internal/logging"
)

// Daemon is the surface the IPC server exposes. The engine implements
// it; tests substitute a fake.
type Daemon interface {
	Status() (*StatusResponse, error)
	SetLocked(locked bool) (bool, error)
	ReloadConfig() (*ReloadResponse, error)
	ListSnippets() ([]SnippetInfo, error)
}

// Server accepts control connections and dispatches requests to a Daemon.
type Server struct {
	addr   string
	daemon Daemon
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a server bound to the given socket address. The
// address is a unix socket path, or "host:port" for TCP loopback on
// Windows.
func NewServer(addr string, daemon Daemon, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Default().Logger
	}
	return &Server{
		addr:   addr,
		daemon: daemon,
		logger: logger.With("component", "ipc"),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.addr
}

// Start begins listening and accepting connections.
func (s *Server) Start() error {
	ln, err := listen(s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.logger.Info("ipc server listening", "addr", s.addr)
	return nil
}

// Stop closes the listener and all active connections.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()

	if isUnixAddr(s.addr) {
		os.Remove(s.addr)
	}
	return err
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.logger.Error("accept failed", "error", err)
			}
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("connection read failed", "error", err)
			}
			return
		}

		resp := s.dispatch(context.Background(), msg)
		if err := resp.Write(conn); err != nil {
			s.logger.Debug("connection write failed", "error", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, msg *Message) *Message {
	reqID := msg.Header.RequestID

	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, reqID, nil)

	case MsgStatusRequest:
		status, err := s.daemon.Status()
		if err != nil {
			return errorMessage(reqID, ErrCodeInternal, err)
		}
		return jsonMessage(MsgStatusResponse, reqID, status)

	case MsgLock, MsgUnlock:
		want := msg.Header.Type == MsgLock
		locked, err := s.daemon.SetLocked(want)
		if err != nil {
			return errorMessage(reqID, ErrCodeInternal, err)
		}
		respType := MsgLockResp
		if !want {
			respType = MsgUnlockResp
		}
		return jsonMessage(respType, reqID, &LockResponse{Locked: locked})

	case MsgReload:
		result, err := s.daemon.ReloadConfig()
		if err != nil {
			return errorMessage(reqID, ErrCodeInternal, err)
		}
		return jsonMessage(MsgReloadResp, reqID, result)

	case MsgListSnippets:
		snippets, err := s.daemon.ListSnippets()
		if err != nil {
			return errorMessage(reqID, ErrCodeInternal, err)
		}
		return jsonMessage(MsgListSnippetsResp, reqID, &ListSnippetsResponse{Snippets: snippets})

	default:
		return errorMessage(reqID, ErrCodeBadRequest,
			fmt.Errorf("unknown message type: 0x%04x", uint16(msg.Header.Type)))
	}
}

func jsonMessage(msgType MessageType, reqID uint32, payload any) *Message {
	data, err := json.Marshal(payload)
	if err != nil {
		return errorMessage(reqID, ErrCodeInternal, err)
	}
	return NewMessage(msgType, reqID, data)
}

func errorMessage(reqID uint32, code string, err error) *Message {
	data, _ := json.Marshal(&ErrorResponse{Code: code, Message: err.Error()})
	return NewMessage(MsgError, reqID, data)
}

// listen opens the listener for a socket address. Unix socket paths get
// a stale-socket cleanup and owner-only permissions.
func listen(addr string) (net.Listener, error) {
	if !isUnixAddr(addr) {
		return net.Listen("tcp", addr)
	}

	if err := os.MkdirAll(filepath.Dir(addr), 0o700); err != nil {
		return nil, err
	}
	// A previous daemon that crashed leaves the socket file behind.
	if _, err := os.Stat(addr); err == nil {
		if conn, err := net.Dial("unix", addr); err == nil {
			conn.Close()
			return nil, fmt.Errorf("socket %s already in use", addr)
		}
		os.Remove(addr)
	}

	ln, err := net.Listen("unix", addr)
	if err != nil {
		return nil, err
	}
	os.Chmod(addr, 0o600)
	return ln, nil
}

func isUnixAddr(addr string) bool {
	return strings.ContainsAny(addr, "/\\") || !strings.Contains(addr, ":")
}
