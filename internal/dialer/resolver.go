package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultResolverTimeout = 5 * time.Second

	minCacheTTL = 5 * time.Second
	maxCacheTTL = 10 * time.Minute
)

var errNameNotFound = errors.New("no such host")

// Resolver looks up A and AAAA records against a single DNS server and caches
// positive answers for the smallest TTL in the response.
type Resolver struct {
	server string
	client *dns.Client
	cache  *cache.Cache
	logger *zap.Logger
}

// NewResolver returns a Resolver for server, given as host or host:port (port
// 53 assumed).
func NewResolver(server string, timeout time.Duration, logger *zap.Logger) (*Resolver, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return nil, errors.New("resolver: empty server address")
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(strings.Trim(server, "[]"), "53")
	}
	if timeout <= 0 {
		timeout = defaultResolverTimeout
	}

	return &Resolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
		cache:  cache.New(maxCacheTTL, time.Minute),
		logger: logger,
	}, nil
}

// Server returns the host:port queries are sent to.
func (r *Resolver) Server() string {
	return r.server
}

// LookupNetIP returns the IPv4 then IPv6 addresses for host. Failures are
// reported as *net.DNSError.
func (r *Resolver) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	name := dns.Fqdn(strings.ToLower(host))
	if v, ok := r.cache.Get(name); ok {
		return v.([]netip.Addr), nil
	}

	var (
		v4, v6     []netip.Addr
		ttl4, ttl6 uint32
		err4, err6 error
		g          errgroup.Group
	)
	g.Go(func() error {
		v4, ttl4, err4 = r.query(ctx, name, dns.TypeA)
		return nil
	})
	g.Go(func() error {
		v6, ttl6, err6 = r.query(ctx, name, dns.TypeAAAA)
		return nil
	})
	_ = g.Wait()

	addrs := slices.Concat(v4, v6)
	if len(addrs) == 0 {
		return nil, r.lookupError(host, err4, err6)
	}

	ttl := minTTL(len(v4) > 0, ttl4, len(v6) > 0, ttl6)
	r.cache.Set(name, addrs, ttl)
	r.logger.Debug("resolved",
		zap.String("host", host),
		zap.Int("addrs", len(addrs)),
		zap.Duration("ttl", ttl),
	)
	return addrs, nil
}

func (r *Resolver) query(ctx context.Context, name string, qtype uint16) ([]netip.Addr, uint32, error) {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	m.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, 0, err
	}
	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, 0, errNameNotFound
	default:
		return nil, 0, fmt.Errorf("server returned %s", dns.RcodeToString[resp.Rcode])
	}

	var (
		addrs []netip.Addr
		ttl   uint32
	)
	for _, rr := range resp.Answer {
		var ip net.IP
		switch t := rr.(type) {
		case *dns.A:
			ip = t.A
		case *dns.AAAA:
			ip = t.AAAA
		default:
			continue
		}
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		addrs = append(addrs, addr.Unmap())
		if h := rr.Header().Ttl; len(addrs) == 1 || h < ttl {
			ttl = h
		}
	}
	return addrs, ttl, nil
}

func (r *Resolver) lookupError(host string, errs ...error) error {
	dnsErr := &net.DNSError{
		Err:        errNameNotFound.Error(),
		Name:       host,
		Server:     r.server,
		IsNotFound: true,
	}
	for _, err := range errs {
		if err == nil || errors.Is(err, errNameNotFound) {
			continue
		}
		dnsErr.Err = err.Error()
		dnsErr.IsNotFound = false
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			dnsErr.IsTimeout = true
		}
		dnsErr.IsTemporary = true
		break
	}
	return dnsErr
}

func minTTL(has4 bool, ttl4 uint32, has6 bool, ttl6 uint32) time.Duration {
	var secs uint32
	switch {
	case has4 && has6:
		secs = min(ttl4, ttl6)
	case has4:
		secs = ttl4
	default:
		secs = ttl6
	}
	return min(max(time.Duration(secs)*time.Second, minCacheTTL), maxCacheTTL)
}
