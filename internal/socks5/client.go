package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

// ClientDial performs the client side of a SOCKS5 CONNECT to address over an
// already established conn to a SOCKS5 server.
func ClientDial(conn net.Conn, auth Auth, address string) error {
	if err := ClientNegotiate(conn, auth); err != nil {
		return err
	}
	return ClientConnect(conn, address)
}

// ClientNegotiate offers no-auth, plus username/password when auth is
// enabled, and completes whichever method the server picks.
func ClientNegotiate(conn net.Conn, auth Auth) error {
	methods := []byte{MethodNone}
	if auth.Enabled() {
		methods = append(methods, MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(conn); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read negotiation: %w", err)
	}

	switch neg.Method {
	case MethodNone:
		return nil
	case MethodUsernamePassword:
		if !auth.Enabled() {
			return errors.New("server requires username/password")
		}

		if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(conn); err != nil {
			return fmt.Errorf("write userpass: %w", err)
		}
		rep, err := txsocks5.NewUserPassNegotiationReplyFrom(conn)
		if err != nil {
			return fmt.Errorf("read userpass: %w", err)
		}
		if rep.Status != txsocks5.UserPassStatusSuccess {
			return ErrAuthFailed
		}
		return nil
	default:
		return fmt.Errorf("unsupported negotiation method: %#x", neg.Method)
	}
}

// ClientConnect sends a CONNECT request for address and waits for the
// reply. A non-success reply is returned as a ReplyError.
func ClientConnect(conn net.Conn, address string) error {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return fmt.Errorf("parse port %q: %w", portStr, err)
	}
	a, err := AddrFromHost(host)
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}

	enc, err := EncodeAddr(a)
	if err != nil {
		return err
	}
	dstAddr := enc[1:]
	if a.Type == AddrTypeDomain {
		// txsocks5 adds the length prefix itself.
		dstAddr = enc[2:]
	}
	dstPort := binary.BigEndian.AppendUint16(nil, uint16(port))

	if _, err := txsocks5.NewRequest(CmdConnect, a.Type, dstAddr, dstPort).WriteTo(conn); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if rep.Rep != RepSuccess {
		return ReplyError(rep.Rep)
	}
	return nil
}
