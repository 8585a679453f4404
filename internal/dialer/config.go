package dialer

import (
	"net"
	"time"

	"go.uber.org/zap"
)

// Config holds settings shared by every outbound Dialer.
type Config struct {
	// DialTimeout bounds DNS lookup plus TCP connect for a single dial.
	DialTimeout time.Duration
	// NegotiationTimeout bounds the handshake with an upstream proxy (TLS,
	// CONNECT, SOCKS5 or SSH) once its TCP connection is up.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// DNSServer, when set, resolves hostnames for direct dials against this
	// host[:port] instead of the system resolver.
	DNSServer string

	SSHKeyPath        string
	SSHKnownHostsPath string

	Logger *zap.Logger
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
