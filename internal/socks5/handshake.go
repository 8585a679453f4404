package socks5

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	txsocks5 "github.com/txthinking/socks5"
)

// HandshakeState is the position of a Handshake in the negotiation.
type HandshakeState int

const (
	AwaitGreeting HandshakeState = iota
	AwaitRequest
	Established
	Failed
)

func (s HandshakeState) String() string {
	switch s {
	case AwaitGreeting:
		return "greeting"
	case AwaitRequest:
		return "request"
	case Established:
		return "established"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("HandshakeState(%d)", int(s))
	}
}

// Handshake runs the server side of one SOCKS5 negotiation over rw. It reads
// unbuffered so that any bytes the client pipelines after its request stay
// in the connection for the relay.
//
// A Handshake belongs to a single connection and is not safe for concurrent
// use.
type Handshake struct {
	rw    io.ReadWriter
	auth  Auth
	state HandshakeState
}

// NewHandshake returns a Handshake in the AwaitGreeting state. If auth is
// enabled, clients must authenticate with username/password.
func NewHandshake(rw io.ReadWriter, auth Auth) *Handshake {
	return &Handshake{rw: rw, auth: auth, state: AwaitGreeting}
}

// State returns the current state.
func (h *Handshake) State() HandshakeState {
	return h.state
}

// Run negotiates a method and reads the request. On success the state is
// Established and the returned ProxyInfo names the target; the reply to the
// request has not been written yet, because it depends on the outcome of the
// outbound dial. On failure the state is Failed and the error is a
// *ProtocolError describing what, if anything, was already sent.
func (h *Handshake) Run() (ProxyInfo, error) {
	if h.state != AwaitGreeting {
		return ProxyInfo{}, fmt.Errorf("socks5: handshake already in state %s", h.state)
	}

	if err := h.negotiate(); err != nil {
		return ProxyInfo{}, err
	}
	h.state = AwaitRequest

	info, err := h.readRequest()
	if err != nil {
		return ProxyInfo{}, err
	}
	h.state = Established
	return info, nil
}

func (h *Handshake) fail(reply int, err error) error {
	pe := &ProtocolError{State: h.state, Reply: reply, Err: err}
	h.state = Failed
	return pe
}

// failWithReply writes rep to the client before failing. Write errors are
// ignored; the connection is being torn down anyway.
func (h *Handshake) failWithReply(rep byte, err error) error {
	switch h.state {
	case AwaitGreeting:
		_ = writeMethodReply(h.rw, rep)
	default:
		_ = WriteReply(h.rw, rep, nil)
	}
	return h.fail(int(rep), err)
}

func (h *Handshake) negotiate() error {
	var hdr [2]byte
	if _, err := io.ReadFull(h.rw, hdr[:]); err != nil {
		return h.fail(NoReply, fmt.Errorf("read greeting: %w", err))
	}
	if hdr[0] != Version {
		// No common version, so there is no reply format to answer in.
		return h.fail(NoReply, UnsupportedVersionError(hdr[0]))
	}
	if hdr[1] == 0 {
		return h.failWithReply(MethodNoAcceptable, ErrNoMethods)
	}

	methods := make([]byte, int(hdr[1]))
	if _, err := io.ReadFull(h.rw, methods); err != nil {
		return h.fail(NoReply, fmt.Errorf("read methods: %w", err))
	}

	if h.auth.Enabled() {
		if !containsMethod(methods, MethodUsernamePassword) {
			return h.failWithReply(MethodNoAcceptable, ErrNoAcceptableMethod)
		}
		if err := writeMethodReply(h.rw, MethodUsernamePassword); err != nil {
			return h.fail(NoReply, err)
		}
		return h.authenticate()
	}

	if !containsMethod(methods, MethodNone) {
		return h.failWithReply(MethodNoAcceptable, ErrNoAcceptableMethod)
	}
	if err := writeMethodReply(h.rw, MethodNone); err != nil {
		return h.fail(NoReply, err)
	}
	return nil
}

// authenticate runs the RFC 1929 username/password sub-negotiation.
func (h *Handshake) authenticate() error {
	urq, err := txsocks5.NewUserPassNegotiationRequestFrom(h.rw)
	if err != nil {
		return h.fail(NoReply, fmt.Errorf("read userpass: %w", err))
	}

	userOK := subtle.ConstantTimeCompare(urq.Uname, []byte(h.auth.Username)) == 1
	passOK := subtle.ConstantTimeCompare(urq.Passwd, []byte(h.auth.Password)) == 1
	if !userOK || !passOK {
		_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(h.rw)
		return h.fail(int(txsocks5.UserPassStatusFailure), ErrAuthFailed)
	}

	if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(h.rw); err != nil {
		return h.fail(NoReply, fmt.Errorf("write userpass: %w", err))
	}
	return nil
}

func (h *Handshake) readRequest() (ProxyInfo, error) {
	// VER CMD RSV
	var hdr [3]byte
	if _, err := io.ReadFull(h.rw, hdr[:]); err != nil {
		return ProxyInfo{}, h.fail(NoReply, fmt.Errorf("read request: %w", err))
	}
	if hdr[0] != Version {
		return ProxyInfo{}, h.failWithReply(RepGeneralFailure, UnsupportedVersionError(hdr[0]))
	}
	cmd := hdr[1]

	// An unsupported command is reported even when the address is also bad.
	addr, addrErr := ReadAddr(h.rw)
	var port [2]byte
	if addrErr == nil {
		if _, err := io.ReadFull(h.rw, port[:]); err != nil {
			addrErr = fmt.Errorf("read port: %w", err)
		}
	}

	if cmd != CmdConnect {
		return ProxyInfo{}, h.failWithReply(RepCommandNotSupported, UnsupportedCommandError(cmd))
	}

	switch {
	case addrErr == nil:
	case errors.Is(addrErr, ErrUnknownAddrType):
		return ProxyInfo{}, h.failWithReply(RepAddrTypeNotSupported, addrErr)
	case errors.Is(addrErr, ErrEmptyDomain):
		return ProxyInfo{}, h.failWithReply(RepGeneralFailure, addrErr)
	default:
		return ProxyInfo{}, h.fail(NoReply, addrErr)
	}

	return ProxyInfo{
		Command: cmd,
		Addr:    addr,
		Port:    binary.BigEndian.Uint16(port[:]),
	}, nil
}

func containsMethod(methods []byte, want byte) bool {
	for _, m := range methods {
		if m == want {
			return true
		}
	}
	return false
}
