package proxy

import (
	"time"

	"go.uber.org/zap"

	"github.com/die-net/socksgate/internal/dialer"
	"github.com/die-net/socksgate/internal/socks5"
)

type Config struct {
	// Dialer opens the outbound connection for each CONNECT.
	Dialer dialer.Dialer

	// Auth, when enabled, requires clients to authenticate with
	// username/password.
	Auth socks5.Auth

	// NegotiationTimeout bounds the SOCKS5 handshake. Zero disables it.
	NegotiationTimeout time.Duration
	// DialTimeout bounds the outbound dial. Zero leaves it to the Dialer.
	DialTimeout time.Duration
	// IdleTimeout ends a relay with no traffic in either direction for this
	// long. Zero disables it.
	IdleTimeout time.Duration

	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions int

	// BufferSize is the per-direction relay buffer size.
	BufferSize int
	// HalfClose propagates EOF one direction at a time instead of closing
	// the whole session on the first EOF.
	HalfClose bool

	Logger *zap.Logger
	// Verbose raises per-session failures from debug to warn.
	Verbose bool
}
