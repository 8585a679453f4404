package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/die-net/socksgate/internal/relay"
	"github.com/die-net/socksgate/internal/socks5"
)

// session is one accepted client connection from handshake to teardown.
type session struct {
	id     uint64
	conn   net.Conn
	cfg    *Config
	pool   *relay.BufferPool
	logger *zap.Logger

	target string
	stats  relay.Stats
}

// run drives the session. Both connections are closed before it returns,
// and cancellation of ctx closes them early.
func (s *session) run(ctx context.Context) error {
	client := relay.NewEndpoint(s.conn)
	defer client.Close()
	stopClient := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stopClient()

	if t := s.cfg.NegotiationTimeout; t > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(t))
	}
	info, err := socks5.NewHandshake(s.conn, s.cfg.Auth).Run()
	if err != nil {
		return err
	}
	_ = s.conn.SetDeadline(time.Time{})
	s.target = info.Address()

	up, err := s.dial(ctx)
	if err != nil {
		rep := socks5.ReplyForDialError(err)
		_ = socks5.WriteReply(s.conn, rep, nil)
		return &ConnectError{Target: s.target, Reply: rep, Err: err}
	}
	remote := relay.NewEndpoint(up)
	defer remote.Close()
	stopRemote := context.AfterFunc(ctx, func() { _ = remote.Close() })
	defer stopRemote()

	if err := socks5.WriteSuccessReply(s.conn, up.LocalAddr()); err != nil {
		return err
	}
	s.logger.Debug("connected", zap.String("target", s.target), zap.Stringer("upstream_local", up.LocalAddr()))

	s.stats = relay.Relay(client, remote, relay.Options{
		HalfClose:   s.cfg.HalfClose,
		IdleTimeout: s.cfg.IdleTimeout,
		Pool:        s.pool,
	})
	if s.stats.Err != nil {
		return fmt.Errorf("relay: %w", s.stats.Err)
	}
	return nil
}

func (s *session) dial(ctx context.Context) (net.Conn, error) {
	if t := s.cfg.DialTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	return s.cfg.Dialer.DialContext(ctx, "tcp", s.target)
}

// log reports how the session ended.
func (s *session) log(ctx context.Context, err error) {
	fields := []zap.Field{
		zap.Int64("sent", s.stats.Sent),
		zap.Int64("received", s.stats.Received),
	}
	if s.target != "" {
		fields = append(fields, zap.String("target", s.target))
	}

	if err == nil {
		s.logger.Debug("session closed", fields...)
		return
	}
	fields = append(fields, zap.Error(err))

	var (
		protoErr   *socks5.ProtocolError
		connectErr *ConnectError
		msg        = "relay failed"
	)
	switch {
	case errors.As(err, &protoErr):
		msg = "handshake failed"
		fields = append(fields, zap.Stringer("state", protoErr.State))
		if protoErr.Reply != socks5.NoReply {
			fields = append(fields, zap.Int("reply", protoErr.Reply))
		}
	case errors.As(err, &connectErr):
		msg = "connect failed"
		fields = append(fields, zap.Uint8("reply", connectErr.Reply))
	}

	level := zapcore.DebugLevel
	if s.cfg.Verbose && ctx.Err() == nil {
		level = zapcore.WarnLevel
	}
	if ce := s.logger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}
