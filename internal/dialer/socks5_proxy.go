package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/die-net/socksgate/internal/socks5"
)

// SOCKS5ProxyDialer chains outbound connections through another SOCKS5
// server.
type SOCKS5ProxyDialer struct {
	cfg       Config
	proxyAddr string
	auth      socks5.Auth
	direct    *DirectDialer
}

// NewSOCKS5ProxyDialer returns a dialer that issues CONNECT requests to the
// SOCKS5 server at proxyAddr, offering username/password when username is
// non-empty.
func NewSOCKS5ProxyDialer(cfg Config, proxyAddr, username, password string) (*SOCKS5ProxyDialer, error) {
	if proxyAddr == "" {
		return nil, errors.New("socks5 proxy dialer: missing proxy address")
	}

	// The upstream resolves target names itself.
	cfg.DNSServer = ""
	direct, err := NewDirectDialer(cfg)
	if err != nil {
		return nil, err
	}

	return &SOCKS5ProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		auth:      socks5.Auth{Username: username, Password: password},
		direct:    direct,
	}, nil
}

// ProxyAddr returns the upstream host:port.
func (f *SOCKS5ProxyDialer) ProxyAddr() string {
	return f.proxyAddr
}

// DialContext connects to the upstream and negotiates a CONNECT to address.
// A refusal by the upstream is returned wrapping a socks5.ReplyError carrying
// its reply code. Canceling ctx aborts the negotiation.
func (f *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := checkNetwork("socks5 proxy", network, address); err != nil {
		return nil, err
	}

	c, err := f.direct.DialContext(ctx, "tcp", f.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(f.cfg.NegotiationTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Unix(1, 0))
	})

	err = socks5.ClientDial(c, f.auth, address)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = c.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, fmt.Errorf("socks5 proxy connect %s: %w", address, err)
	}

	_ = c.SetDeadline(time.Time{})
	return c, nil
}
