package socks5

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMethods is returned for a greeting that lists zero methods.
	ErrNoMethods = errors.New("socks5: greeting offers no methods")
	// ErrNoAcceptableMethod is returned when none of the offered methods is
	// usable with the server's configuration.
	ErrNoAcceptableMethod = errors.New("socks5: no acceptable authentication method")
	// ErrAuthFailed is returned when username/password authentication fails.
	ErrAuthFailed = errors.New("socks5: authentication failed")
)

// UnsupportedVersionError is returned for a greeting or request whose
// version byte is not 5.
type UnsupportedVersionError byte

func (v UnsupportedVersionError) Error() string {
	return fmt.Sprintf("socks5: unsupported version: %#x", byte(v))
}

func (UnsupportedVersionError) Is(target error) bool {
	return target == errors.ErrUnsupported
}

// UnsupportedCommandError is returned for any request command other than
// CONNECT.
type UnsupportedCommandError byte

func (c UnsupportedCommandError) Error() string {
	return fmt.Sprintf("socks5: unsupported command: %#x", byte(c))
}

func (UnsupportedCommandError) Is(target error) bool {
	return target == errors.ErrUnsupported
}

// ProtocolError is a failed handshake. Reply is the reply code written to
// the client before the failure was returned, or NoReply if nothing was
// written.
type ProtocolError struct {
	State HandshakeState
	Reply int
	Err   error
}

// NoReply marks a ProtocolError after which nothing was sent to the client.
const NoReply = -1

func (e *ProtocolError) Error() string {
	if e.Reply == NoReply {
		return fmt.Sprintf("%s: %v", e.State, e.Err)
	}
	return fmt.Sprintf("%s: %v (replied %#x)", e.State, e.Err, e.Reply)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ReplyError is a non-success reply received from an upstream SOCKS5 server.
type ReplyError byte

func (r ReplyError) Error() string {
	switch byte(r) {
	case RepGeneralFailure:
		return "socks5: general server failure"
	case RepNotAllowed:
		return "socks5: connection not allowed by ruleset"
	case RepNetworkUnreachable:
		return "socks5: network unreachable"
	case RepHostUnreachable:
		return "socks5: host unreachable"
	case RepConnectionRefused:
		return "socks5: connection refused"
	case RepTTLExpired:
		return "socks5: TTL expired"
	case RepCommandNotSupported:
		return "socks5: command not supported"
	case RepAddrTypeNotSupported:
		return "socks5: address type not supported"
	default:
		return fmt.Sprintf("socks5: reply %#x", byte(r))
	}
}
