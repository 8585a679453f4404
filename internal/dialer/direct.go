package dialer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// DirectDialer connects straight to the target, optionally resolving
// hostnames through a dedicated DNS server.
type DirectDialer struct {
	dialer   net.Dialer
	resolver *Resolver
}

// NewDirectDialer returns a DirectDialer that applies cfg.DialTimeout and
// cfg.KeepAlive to every connection. A non-empty cfg.DNSServer enables the
// caching Resolver.
func NewDirectDialer(cfg Config) (*DirectDialer, error) {
	d := &DirectDialer{
		dialer: net.Dialer{
			Timeout:         cfg.DialTimeout,
			KeepAliveConfig: cfg.KeepAlive,
		},
	}

	if cfg.DNSServer != "" {
		r, err := NewResolver(cfg.DNSServer, cfg.DialTimeout, cfg.logger())
		if err != nil {
			return nil, fmt.Errorf("direct dialer: %w", err)
		}
		d.resolver = r
	}

	return d, nil
}

// DialContext connects to address. With a Resolver configured, each resolved
// address is tried in order until one connects.
func (d *DirectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := checkNetwork("direct", network, address); err != nil {
		return nil, err
	}
	if d.resolver == nil {
		return d.dial(ctx, network, address)
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return d.dial(ctx, network, address)
	}

	if d.dialer.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.dialer.Timeout)
		defer cancel()
	}

	addrs, err := d.resolver.LookupNetIP(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	var firstErr error
	for _, ip := range addrs {
		if !matchesNetwork(network, ip) {
			continue
		}
		c, err := d.dial(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return c, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("dial %s %s: %w", network, address, &net.DNSError{
			Err:        "no suitable address",
			Name:       host,
			IsNotFound: true,
		})
	}
	return nil, firstErr
}

func (d *DirectDialer) dial(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := d.dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	return conn, nil
}

func matchesNetwork(network string, ip netip.Addr) bool {
	switch network {
	case "tcp4":
		return ip.Is4()
	case "tcp6":
		return ip.Is6()
	default:
		return true
	}
}
