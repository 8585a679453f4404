package testutil

import (
	"context"
	"net"
	"sync"
	"testing"
)

// StartTCPServer runs handler in its own goroutine for every connection
// accepted on a loopback listener. The conn is closed when handler returns.
//
// The returned stop func closes the listener and waits for running handlers;
// it is also registered as a test cleanup.
func StartTCPServer(t *testing.T, ctx context.Context, handler func(net.Conn)) (net.Listener, func()) {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Go(func() {
				defer c.Close()
				handler(c)
			})
		}
	})

	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = ln.Close()
			wg.Wait()
		})
	}
	t.Cleanup(stop)

	return ln, stop
}

// ClosedPortAddr returns a loopback address that nothing is listening on.
func ClosedPortAddr(t *testing.T) string {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}
