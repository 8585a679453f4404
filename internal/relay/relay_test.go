package relay

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// tcpPair returns two ends of a loopback TCP connection.
func tcpPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	d := net.Dialer{}
	dialed, err := d.DialContext(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	other, ok := <-accepted
	if !ok {
		_ = dialed.Close()
		t.Fatal("accept failed")
	}

	t.Cleanup(func() {
		_ = dialed.Close()
		_ = other.Close()
	})
	return dialed.(*net.TCPConn), other.(*net.TCPConn)
}

// relayFixture wires clientPeer <-> [relay] <-> remotePeer over real TCP.
type relayFixture struct {
	clientPeer *net.TCPConn
	remotePeer *net.TCPConn
	done       chan Stats
}

func startRelay(t *testing.T, opts Options) *relayFixture {
	t.Helper()

	clientPeer, clientSide := tcpPair(t)
	remoteSide, remotePeer := tcpPair(t)

	f := &relayFixture{
		clientPeer: clientPeer,
		remotePeer: remotePeer,
		done:       make(chan Stats, 1),
	}
	go func() {
		f.done <- Relay(NewEndpoint(clientSide), NewEndpoint(remoteSide), opts)
	}()
	return f
}

func (f *relayFixture) wait(t *testing.T, d time.Duration) Stats {
	t.Helper()

	select {
	case st := <-f.done:
		return st
	case <-time.After(d):
		t.Fatal("relay did not return")
		return Stats{}
	}
}

func (f *relayFixture) assertRunning(t *testing.T) {
	t.Helper()

	select {
	case <-f.done:
		t.Fatal("relay returned early")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRelayBidirectional(t *testing.T) {
	t.Parallel()

	f := startRelay(t, Options{Pool: NewBufferPool(MinBufferSize)})

	up := make([]byte, 256<<10)
	down := make([]byte, 192<<10)
	_, _ = rand.Read(up)
	_, _ = rand.Read(down)

	var g errgroup.Group
	g.Go(func() error {
		_, err := f.clientPeer.Write(up)
		return err
	})
	g.Go(func() error {
		_, err := f.remotePeer.Write(down)
		return err
	})
	g.Go(func() error {
		got := make([]byte, len(up))
		if _, err := io.ReadFull(f.remotePeer, got); err != nil {
			return err
		}
		if !bytes.Equal(got, up) {
			return errors.New("client->remote payload mismatch")
		}
		return nil
	})
	g.Go(func() error {
		got := make([]byte, len(down))
		if _, err := io.ReadFull(f.clientPeer, got); err != nil {
			return err
		}
		if !bytes.Equal(got, down) {
			return errors.New("remote->client payload mismatch")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	_ = f.clientPeer.Close()
	st := f.wait(t, 5*time.Second)
	if st.Sent != int64(len(up)) || st.Received != int64(len(down)) {
		t.Fatalf("stats sent=%d received=%d", st.Sent, st.Received)
	}
}

func TestRelayFullCloseOnEOF(t *testing.T) {
	t.Parallel()

	f := startRelay(t, Options{})

	if _, err := f.clientPeer.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	if err := f.clientPeer.CloseWrite(); err != nil {
		t.Fatal(err)
	}

	// The remote never closes, but the client EOF tears down both sides.
	got, err := io.ReadAll(f.remotePeer)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "ping" {
		t.Fatalf("remote got %q", got)
	}

	st := f.wait(t, 2*time.Second)
	if st.Err != nil {
		t.Fatalf("unexpected error: %v", st.Err)
	}
	if st.Sent != 4 {
		t.Fatalf("sent=%d", st.Sent)
	}

	if _, err := io.ReadAll(f.clientPeer); err != nil {
		t.Fatalf("client read after close: %v", err)
	}
}

func TestRelayHalfClose(t *testing.T) {
	t.Parallel()

	f := startRelay(t, Options{HalfClose: true})

	if _, err := f.clientPeer.Write([]byte("request")); err != nil {
		t.Fatal(err)
	}
	if err := f.clientPeer.CloseWrite(); err != nil {
		t.Fatal(err)
	}

	got, err := io.ReadAll(f.remotePeer)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "request" {
		t.Fatalf("remote got %q", got)
	}

	// remote→client is still open and the relay must wait for it.
	f.assertRunning(t)

	if _, err := f.remotePeer.Write([]byte("response")); err != nil {
		t.Fatal(err)
	}
	if err := f.remotePeer.Close(); err != nil {
		t.Fatal(err)
	}

	got, err = io.ReadAll(f.clientPeer)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "response" {
		t.Fatalf("client got %q", got)
	}

	st := f.wait(t, 2*time.Second)
	if st.Err != nil {
		t.Fatalf("unexpected error: %v", st.Err)
	}
	if st.Sent != int64(len("request")) || st.Received != int64(len("response")) {
		t.Fatalf("stats sent=%d received=%d", st.Sent, st.Received)
	}
}

func TestRelayIdleTimeout(t *testing.T) {
	t.Parallel()

	f := startRelay(t, Options{IdleTimeout: 100 * time.Millisecond})

	st := f.wait(t, 2*time.Second)
	if !errors.Is(st.Err, os.ErrDeadlineExceeded) {
		t.Fatalf("got %v want deadline exceeded", st.Err)
	}
}

func TestRelayIdleTimeoutOneWayTraffic(t *testing.T) {
	t.Parallel()

	const idle = 150 * time.Millisecond
	f := startRelay(t, Options{IdleTimeout: idle})

	// Only the remote talks; the client direction stays quiet for longer than
	// the idle timeout without ending the relay.
	go func() {
		_, _ = io.Copy(io.Discard, f.clientPeer)
	}()
	for range 8 {
		if _, err := f.remotePeer.Write([]byte("tick")); err != nil {
			t.Fatal(err)
		}
		time.Sleep(idle / 3)
	}
	f.assertRunning(t)

	st := f.wait(t, 2*time.Second)
	if st.Received != 8*4 {
		t.Fatalf("received=%d", st.Received)
	}
}

func TestRelayPipeEndpoints(t *testing.T) {
	t.Parallel()

	clientPeer, clientSide := net.Pipe()
	remoteSide, remotePeer := net.Pipe()

	done := make(chan Stats, 1)
	go func() {
		done <- Relay(NewEndpoint(clientSide), NewEndpoint(remoteSide), Options{HalfClose: true})
	}()

	go func() {
		_, _ = clientPeer.Write([]byte("hello"))
	}()
	buf := make([]byte, 5)
	if _, err := io.ReadFull(remotePeer, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q", buf)
	}

	// Pipes cannot half-close, so closing one peer ends everything.
	_ = remotePeer.Close()
	select {
	case st := <-done:
		if st.Err != nil {
			t.Fatalf("unexpected error: %v", st.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not return")
	}
	_ = clientPeer.Close()
}

func TestNewBufferPool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want int
	}{
		{0, DefaultBufferSize},
		{1, MinBufferSize},
		{4096, 4096},
		{1 << 20, MaxBufferSize},
	}
	for _, tt := range tests {
		p := NewBufferPool(tt.in)
		if p.Size() != tt.want {
			t.Errorf("NewBufferPool(%d).Size() = %d want %d", tt.in, p.Size(), tt.want)
		}
		b := p.Get()
		if len(*b) != tt.want {
			t.Errorf("NewBufferPool(%d) buffer len %d", tt.in, len(*b))
		}
		p.Put(b)
	}
}

func TestEndpointCloseIdempotent(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer b.Close()

	e := NewEndpoint(a)
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	// Pipes lack half-close, so CloseWrite falls back to the recorded Close.
	if err := e.CloseWrite(); err != nil {
		t.Fatalf("close write after close: %v", err)
	}
}
