package socks5

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

// Address types as carried in the ATYP field.
const (
	AddrTypeIPv4   = txsocks5.ATYPIPv4
	AddrTypeDomain = txsocks5.ATYPDomain
	AddrTypeIPv6   = txsocks5.ATYPIPv6
)

// MaxDomainLen is the longest domain name the one-byte length prefix can carry.
const MaxDomainLen = 255

var (
	// ErrUnknownAddrType is returned when the ATYP byte is not IPv4, domain
	// or IPv6.
	ErrUnknownAddrType = errors.New("socks5: unknown address type")
	// ErrTruncated is returned when fewer bytes are available than the
	// encoded address declares.
	ErrTruncated = errors.New("socks5: truncated address")
	// ErrEmptyDomain is returned for a domain address with a zero length.
	ErrEmptyDomain = errors.New("socks5: empty domain name")
)

// AddrSpec is a SOCKS5 destination address: an IPv4 literal, an IPv6 literal
// or a domain name, selected by Type.
type AddrSpec struct {
	Type   byte
	IP     netip.Addr
	Domain string
}

// AddrFromHost builds an AddrSpec from a bare host (no port). IP literals
// become IPv4/IPv6 addresses; anything else is treated as a domain name.
func AddrFromHost(host string) (AddrSpec, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		ip = ip.Unmap()
		if ip.Is4() {
			return AddrSpec{Type: AddrTypeIPv4, IP: ip}, nil
		}
		return AddrSpec{Type: AddrTypeIPv6, IP: ip}, nil
	}
	a := AddrSpec{Type: AddrTypeDomain, Domain: host}
	if err := a.validate(); err != nil {
		return AddrSpec{}, err
	}
	return a, nil
}

// String returns the host part of the address, suitable for
// net.JoinHostPort.
func (a AddrSpec) String() string {
	if a.Type == AddrTypeDomain {
		return a.Domain
	}
	return a.IP.String()
}

func (a AddrSpec) validate() error {
	switch a.Type {
	case AddrTypeIPv4:
		if !a.IP.Is4() {
			return fmt.Errorf("socks5: %v is not an IPv4 address", a.IP)
		}
	case AddrTypeIPv6:
		if !a.IP.Is6() {
			return fmt.Errorf("socks5: %v is not an IPv6 address", a.IP)
		}
	case AddrTypeDomain:
		if a.Domain == "" {
			return ErrEmptyDomain
		}
		if len(a.Domain) > MaxDomainLen {
			return fmt.Errorf("socks5: domain name too long (%d bytes)", len(a.Domain))
		}
	default:
		return ErrUnknownAddrType
	}
	return nil
}

// EncodeAddr serializes a as ATYP followed by the address body.
func EncodeAddr(a AddrSpec) ([]byte, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}

	switch a.Type {
	case AddrTypeIPv4:
		b := a.IP.As4()
		return append([]byte{AddrTypeIPv4}, b[:]...), nil
	case AddrTypeIPv6:
		b := a.IP.As16()
		return append([]byte{AddrTypeIPv6}, b[:]...), nil
	default:
		out := make([]byte, 0, 2+len(a.Domain))
		out = append(out, AddrTypeDomain, byte(len(a.Domain)))
		return append(out, a.Domain...), nil
	}
}

// DecodeAddr parses one encoded address from the front of b and reports how
// many bytes it consumed.
func DecodeAddr(b []byte) (AddrSpec, int, error) {
	if len(b) < 1 {
		return AddrSpec{}, 0, ErrTruncated
	}

	switch b[0] {
	case AddrTypeIPv4:
		if len(b) < 1+4 {
			return AddrSpec{}, 0, ErrTruncated
		}
		return AddrSpec{Type: AddrTypeIPv4, IP: netip.AddrFrom4([4]byte(b[1:5]))}, 5, nil
	case AddrTypeIPv6:
		if len(b) < 1+16 {
			return AddrSpec{}, 0, ErrTruncated
		}
		return AddrSpec{Type: AddrTypeIPv6, IP: netip.AddrFrom16([16]byte(b[1:17]))}, 17, nil
	case AddrTypeDomain:
		if len(b) < 2 {
			return AddrSpec{}, 0, ErrTruncated
		}
		n := int(b[1])
		if n == 0 {
			return AddrSpec{}, 0, ErrEmptyDomain
		}
		if len(b) < 2+n {
			return AddrSpec{}, 0, ErrTruncated
		}
		return AddrSpec{Type: AddrTypeDomain, Domain: string(b[2 : 2+n])}, 2 + n, nil
	default:
		return AddrSpec{}, 0, ErrUnknownAddrType
	}
}

// ReadAddr reads exactly one encoded address from r.
//
// A stream that ends early is reported as ErrTruncated wrapping the
// underlying read error.
func ReadAddr(r io.Reader) (AddrSpec, error) {
	// Large enough for the longest domain: ATYP + LEN + 255.
	var buf [2 + MaxDomainLen]byte

	if _, err := io.ReadFull(r, buf[:1]); err != nil {
		return AddrSpec{}, fmt.Errorf("%w: %w", ErrTruncated, err)
	}

	var n int
	switch buf[0] {
	case AddrTypeIPv4:
		n = 1 + 4
	case AddrTypeIPv6:
		n = 1 + 16
	case AddrTypeDomain:
		if _, err := io.ReadFull(r, buf[1:2]); err != nil {
			return AddrSpec{}, fmt.Errorf("%w: %w", ErrTruncated, err)
		}
		if buf[1] == 0 {
			return AddrSpec{}, ErrEmptyDomain
		}
		n = 2 + int(buf[1])
	default:
		return AddrSpec{}, ErrUnknownAddrType
	}

	start := 1
	if buf[0] == AddrTypeDomain {
		start = 2
	}
	if _, err := io.ReadFull(r, buf[start:n]); err != nil {
		return AddrSpec{}, fmt.Errorf("%w: %w", ErrTruncated, err)
	}

	a, _, err := DecodeAddr(buf[:n])
	return a, err
}

// ProxyInfo is the target a client asked for, produced once per session by
// the handshake.
type ProxyInfo struct {
	Command byte
	Addr    AddrSpec
	Port    uint16
}

// Address returns the target as host:port.
func (p ProxyInfo) Address() string {
	return net.JoinHostPort(p.Addr.String(), strconv.Itoa(int(p.Port)))
}
