package relay

import (
	"net"
	"sync"
	"time"
)

type closeReader interface {
	CloseRead() error
}

type closeWriter interface {
	CloseWrite() error
}

// Endpoint is one side of a relayed connection. Its read and write halves
// can be shut down independently when the underlying conn supports it
// (*net.TCPConn, *tls.Conn, SSH channels). Without write half-close support,
// CloseWrite closes the whole conn so the peer still sees EOF.
//
// Close is idempotent and safe to call from both relay loops.
type Endpoint struct {
	conn net.Conn

	closeOnce sync.Once
	closeErr  error
}

// NewEndpoint wraps c.
func NewEndpoint(c net.Conn) *Endpoint {
	return &Endpoint{conn: c}
}

// Conn returns the wrapped connection.
func (e *Endpoint) Conn() net.Conn {
	return e.conn
}

func (e *Endpoint) Read(p []byte) (int, error) {
	return e.conn.Read(p)
}

func (e *Endpoint) Write(p []byte) (int, error) {
	return e.conn.Write(p)
}

// SetReadDeadline sets the read deadline on the underlying conn.
func (e *Endpoint) SetReadDeadline(t time.Time) error {
	return e.conn.SetReadDeadline(t)
}

// CloseRead shuts down the read half. It is a no-op when the conn has no
// read half-close; callers only use it after reading EOF.
func (e *Endpoint) CloseRead() error {
	if cr, ok := e.conn.(closeReader); ok {
		return cr.CloseRead()
	}
	return nil
}

// CloseWrite shuts down the write half, signaling EOF to the peer.
func (e *Endpoint) CloseWrite() error {
	if cw, ok := e.conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return e.Close()
}

// Close closes both halves.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.conn.Close()
	})
	return e.closeErr
}
