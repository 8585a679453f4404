package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"

	internalssh "github.com/die-net/socksgate/internal/ssh"
)

// SSHProxyDialer forwards outbound connections through an SSH server, one
// "direct-tcpip" channel per DialContext, multiplexed over a single shared
// transport.
//
// The transport is created lazily on first use. The DialContext context
// bounds only opening the channel; an open channel outlives it. When opening a channel fails for a
// reason other than the server refusing the target, the transport is
// discarded and the dial retried once over a fresh one.
type SSHProxyDialer struct {
	sshAddr string
	config  internalssh.ClientConfig
	direct  *DirectDialer
	logger  *zap.Logger

	mu     sync.Mutex
	client *ssh.Client
	sf     singleflight.Group
}

// NewSSHProxyDialer returns a dialer forwarding through the SSH server at
// sshAddr. Password and key authentication are both offered when both are
// configured; cfg.SSHKeyPath selects a key file or the agent.
func NewSSHProxyDialer(cfg Config, sshAddr, username, password string) (*SSHProxyDialer, error) {
	if sshAddr == "" {
		return nil, errors.New("ssh dialer: missing ssh address")
	}

	signers, err := internalssh.Signers(cfg.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	ccfg := internalssh.ClientConfig{
		User:             username,
		Password:         password,
		Signers:          signers,
		HandshakeTimeout: cfg.NegotiationTimeout,
	}
	if err := ccfg.Validate(); err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	ccfg.HostKeyCallback, err = internalssh.HostKeyCallback(cfg.SSHKnownHostsPath, cfg.logger())
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	cfg.DNSServer = ""
	direct, err := NewDirectDialer(cfg)
	if err != nil {
		return nil, err
	}

	return &SSHProxyDialer{
		sshAddr: sshAddr,
		config:  ccfg,
		direct:  direct,
		logger:  cfg.logger(),
	}, nil
}

// DialContext opens a channel to address over the shared transport.
func (f *SSHProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := checkNetwork("ssh", network, address); err != nil {
		return nil, err
	}

	client, err := f.getClient(ctx)
	if err != nil {
		return nil, err
	}

	c, err := client.DialContext(ctx, "tcp", address)
	if err != nil {
		// The transport is fine; the server could not reach address.
		var openErr *ssh.OpenChannelError
		if errors.As(err, &openErr) || ctx.Err() != nil {
			return nil, fmt.Errorf("ssh dial %s: %w", address, err)
		}

		f.logger.Debug("ssh transport failed, reconnecting", zap.String("upstream", f.sshAddr), zap.Error(err))
		f.invalidateClient(client)

		client, err = f.getClient(ctx)
		if err != nil {
			return nil, err
		}
		c, err = client.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("ssh dial %s: %w", address, err)
		}
	}

	return c, nil
}

// Close tears down the shared transport, if any.
func (f *SSHProxyDialer) Close() error {
	f.mu.Lock()
	client := f.client
	f.client = nil
	f.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

// getClient returns the shared client, connecting if needed. Concurrent
// callers share one connection attempt; a caller whose ctx ends stops
// waiting without aborting the attempt for the others.
func (f *SSHProxyDialer) getClient(ctx context.Context) (*ssh.Client, error) {
	f.mu.Lock()
	client := f.client
	f.mu.Unlock()
	if client != nil {
		return client, nil
	}

	ch := f.sf.DoChan("connect", func() (any, error) {
		f.mu.Lock()
		if f.client != nil {
			c := f.client
			f.mu.Unlock()
			return c, nil
		}
		f.mu.Unlock()

		c, err := f.connect(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		f.client = c
		f.mu.Unlock()

		// Forget the client once its transport dies.
		go func() {
			_ = c.Wait()
			f.invalidateClient(c)
		}()
		return c, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ssh.Client), nil
	}
}

func (f *SSHProxyDialer) connect(ctx context.Context) (*ssh.Client, error) {
	conn, err := f.direct.DialContext(ctx, "tcp", f.sshAddr)
	if err != nil {
		return nil, fmt.Errorf("ssh transport: %w", err)
	}

	client, err := internalssh.Handshake(conn, f.sshAddr, f.config)
	if err != nil {
		return nil, fmt.Errorf("ssh transport: %w", err)
	}

	f.logger.Debug("ssh transport established", zap.String("upstream", f.sshAddr))
	return client, nil
}

// invalidateClient drops c if it is still the shared client, and closes it.
func (f *SSHProxyDialer) invalidateClient(c *ssh.Client) {
	f.mu.Lock()
	if f.client == c {
		f.client = nil
	}
	f.mu.Unlock()
	_ = c.Close()
}
