// Package server accepts ShareIT client connections and runs one session
// per connection on top of a shareit.Service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"shareit/internal/shareit"
)

// Options bounds the acceptor and the sessions. Zero values disable the
// corresponding limit.
type Options struct {
	MaxConnections int
	IdleTimeout    time.Duration // wait for the next command
	IOTimeout      time.Duration // per read or write while a command is in progress
}

// Server serves the ShareIT protocol. Each accepted connection gets its own
// goroutine and session; sessions share the Service.
type Server struct {
	service *shareit.Service
	logger  shareit.Logger
	idgen   shareit.IDGenerator
	opts    Options

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	// activeConnections tracks running sessions for graceful shutdown.
	activeConnections sync.WaitGroup
}

// NewServer creates a server for service. idgen names sessions; it may be
// nil, in which case random UUIDs are used.
func NewServer(service *shareit.Service, logger shareit.Logger, idgen shareit.IDGenerator, opts Options) *Server {
	if idgen == nil {
		idgen = shareit.UUIDGenerator{}
	}
	return &Server{
		service: service,
		logger:  logger,
		idgen:   idgen,
		opts:    opts,
		conns:   make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or ln is closed.
// On return the listener is closed, every live connection has been closed
// and every session has finished cleaning up.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}
	defer ln.Close()

	done := make(chan struct{})
	defer close(done)
	// Unblock Accept when the context is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-done:
		}
	}()

	s.logger.Info("server listening", "addr", ln.Addr().String(), "max_connections", s.opts.MaxConnections)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.ServeConn(ctx, conn)
		}()
	}

	s.closeAll()
	s.activeConnections.Wait()
	s.logger.Info("server stopped")
	return nil
}

// ServeConn runs one session on conn and closes it when the session ends.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)
	defer conn.Close()

	sess := newSession(s.idgen.New(), conn, s.service, s.logger, s.opts)
	sess.run(ctx)
}

// track registers conn for closing on shutdown. It reports false when the
// server is already shutting down.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// closeAll closes every live connection and refuses new ones.
func (s *Server) closeAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for conn := range conns {
		conn.Close()
	}
}
