package proxy

import (
	"context"
	"fmt"
	"net"
)

// AddressError is a listen address that could not be bound.
type AddressError struct {
	Addr string
	Err  error
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("listen %s: %v", e.Addr, e.Err)
}

func (e *AddressError) Unwrap() error {
	return e.Err
}

// ListenTCP listens on addr and returns a listener that applies ka to
// every accepted connection.
func ListenTCP(ctx context.Context, addr string, ka net.KeepAliveConfig) (net.Listener, error) {
	lc := net.ListenConfig{KeepAliveConfig: ka}

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, &AddressError{Addr: addr, Err: err}
	}
	return &KeepAliveListener{Listener: ln, KeepAliveConfig: ka}, nil
}

// KeepAliveListener applies KeepAliveConfig to accepted *net.TCPConn.
// ListenConfig already does this for listeners it creates; the wrapper
// covers listeners built elsewhere.
type KeepAliveListener struct {
	net.Listener
	net.KeepAliveConfig
}

func (l *KeepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(l.KeepAliveConfig)
	}
	return conn, nil
}
