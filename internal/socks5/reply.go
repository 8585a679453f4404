package socks5

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	txsocks5 "github.com/txthinking/socks5"
)

// Version is the SOCKS protocol version this package speaks.
const Version = txsocks5.Ver

// Commands.
const (
	CmdConnect      = txsocks5.CmdConnect
	CmdBind         = txsocks5.CmdBind
	CmdUDPAssociate = txsocks5.CmdUDP
)

// Authentication methods.
const (
	MethodNone             = txsocks5.MethodNone
	MethodUsernamePassword = txsocks5.MethodUsernamePassword
	MethodNoAcceptable     = 0xff
)

// Reply codes (RFC 1928 section 6).
const (
	RepSuccess              = txsocks5.RepSuccess
	RepGeneralFailure       = 0x01
	RepNotAllowed           = 0x02
	RepNetworkUnreachable   = 0x03
	RepHostUnreachable      = txsocks5.RepHostUnreachable
	RepConnectionRefused    = txsocks5.RepConnectionRefused
	RepTTLExpired           = 0x06
	RepCommandNotSupported  = txsocks5.RepCommandNotSupported
	RepAddrTypeNotSupported = 0x08
)

// Auth configures optional username/password authentication for SOCKS5
// negotiation.
type Auth struct {
	Username string
	Password string
}

// Enabled reports whether credentials are configured.
func (a Auth) Enabled() bool {
	return a.Username != "" || a.Password != ""
}

// WriteReply writes a request reply with rep as the reply code. bindAddr
// becomes BND.ADDR/BND.PORT; a nil or unparsable address is sent as
// 0.0.0.0:0.
func WriteReply(w io.Writer, rep byte, bindAddr net.Addr) error {
	r := newZeroAddrReply(rep)
	if bindAddr != nil {
		if a, addr, port, err := txsocks5.ParseAddress(bindAddr.String()); err == nil {
			if a == txsocks5.ATYPDomain {
				addr = addr[1:]
			}
			r = txsocks5.NewReply(rep, a, addr, port)
		}
	}
	if _, err := r.WriteTo(w); err != nil {
		return fmt.Errorf("write reply %#x: %w", rep, err)
	}
	return nil
}

// WriteSuccessReply writes a success reply using localAddr as the bound
// address.
func WriteSuccessReply(w io.Writer, localAddr net.Addr) error {
	return WriteReply(w, RepSuccess, localAddr)
}

func newZeroAddrReply(rep byte) *txsocks5.Reply {
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}

func writeMethodReply(w io.Writer, method byte) error {
	if _, err := txsocks5.NewNegotiationReply(method).WriteTo(w); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}
	return nil
}

// ReplyForDialError classifies an outbound dial failure into the reply code
// sent to the client.
func ReplyForDialError(err error) byte {
	if err == nil {
		return RepSuccess
	}

	var re ReplyError
	if errors.As(err, &re) {
		return byte(re)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return RepHostUnreachable
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return RepHostUnreachable
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return RepHostUnreachable
	}

	if rep, ok := replyForErrno(err); ok {
		return rep
	}
	return RepGeneralFailure
}
