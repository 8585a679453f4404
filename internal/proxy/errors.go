package proxy

import (
	"errors"
	"fmt"
)

// ErrServerClosed is returned by Serve after Close or context cancellation.
var ErrServerClosed = errors.New("proxy: server closed")

// ConnectError is an outbound dial failure that was reported to the client
// with Reply.
type ConnectError struct {
	Target string
	Reply  byte
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v (replied %#x)", e.Target, e.Err, e.Reply)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
