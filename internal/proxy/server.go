package proxy

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/die-net/socksgate/internal/relay"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Server accepts SOCKS5 clients and runs one session per connection.
type Server struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	pool   *relay.BufferPool
	sem    *semaphore.Weighted

	nextID atomic.Uint64
	active atomic.Int64
	// wg counts running Serve loops and sessions.
	wg sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewSOCKS5Server returns a Server whose sessions are bound to ctx: canceling
// it stops accepting and closes every active session.
func NewSOCKS5Server(ctx context.Context, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		pool:   relay.NewBufferPool(cfg.BufferSize),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	if cfg.MaxSessions > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxSessions))
	}
	return s
}

// Serve accepts connections on ln until the server is closed, returning
// ErrServerClosed in that case. Transient accept errors are logged and
// retried with backoff. When MaxSessions is reached, Serve stops accepting
// until a session ends.
func (s *Server) Serve(ln net.Listener) error {
	if !s.startServe() {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer s.wg.Done()

	stop := context.AfterFunc(s.ctx, func() { _ = ln.Close() })
	defer stop()

	var backoff time.Duration
	for {
		if err := s.acquire(); err != nil {
			return ErrServerClosed
		}

		conn, err := ln.Accept()
		if err == nil && s.ctx.Err() != nil {
			_ = conn.Close()
			err = net.ErrClosed
		}
		if err != nil {
			s.release()
			if s.ctx.Err() != nil || s.isClosed() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			backoff = min(max(2*backoff, minAcceptBackoff), maxAcceptBackoff)
			s.logger.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !s.sleep(backoff) {
				return ErrServerClosed
			}
			continue
		}
		backoff = 0

		id := s.nextID.Add(1)
		s.active.Add(1)
		s.wg.Go(func() {
			defer s.release()
			defer s.active.Add(-1)
			s.serveConn(id, conn)
		})
	}
}

func (s *Server) serveConn(id uint64, conn net.Conn) {
	sess := &session{
		id:   id,
		conn: conn,
		cfg:  &s.cfg,
		pool: s.pool,
		logger: s.logger.With(
			zap.Uint64("session", id),
			zap.Stringer("client", conn.RemoteAddr()),
		),
	}
	err := sess.run(s.ctx)
	sess.log(s.ctx, err)
}

// Active returns the number of running sessions.
func (s *Server) Active() int {
	return int(s.active.Load())
}

// Close stops all listeners, closes every active session and waits for them
// to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Server) acquire() error {
	if s.sem == nil {
		return s.ctx.Err()
	}
	return s.sem.Acquire(s.ctx, 1)
}

func (s *Server) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

func (s *Server) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// startServe registers a Serve loop unless the server is already closed.
func (s *Server) startServe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
