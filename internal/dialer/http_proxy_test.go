package dialer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/die-net/socksgate/internal/testutil"
)

// serveHTTPConnect answers one CONNECT request on c, requiring auth when it
// is non-empty, and then splices c to the requested target.
func serveHTTPConnect(ctx context.Context, c net.Conn, auth string) {
	br := bufio.NewReader(c)
	req, err := http.ReadRequest(br)
	if err != nil {
		return
	}
	_ = req.Body.Close()

	if req.Method != http.MethodConnect {
		_, _ = io.WriteString(c, "HTTP/1.1 405 Method Not Allowed\r\n\r\n")
		return
	}
	if auth != "" && req.Header.Get("Proxy-Authorization") != auth {
		_, _ = io.WriteString(c, "HTTP/1.1 407 Proxy Authentication Required\r\n\r\n")
		return
	}

	var d net.Dialer
	dst, err := d.DialContext(ctx, "tcp", req.Host)
	if err != nil {
		_, _ = io.WriteString(c, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return
	}
	defer dst.Close()

	_, _ = io.WriteString(c, "HTTP/1.1 200 Connection Established\r\n\r\n")

	go func() {
		_, _ = io.Copy(dst, br)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)
}

func TestHTTPProxyDialerDialSuccess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		user     string
		pass     string
		wantAuth string
	}{
		{name: "no_auth"},
		{name: "basic_auth", user: "user", pass: "pass", wantAuth: "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			upLn, stop := testutil.StartTCPServer(t, ctx, func(c net.Conn) {
				serveHTTPConnect(ctx, c, tt.wantAuth)
			})

			u := &url.URL{Scheme: "http", Host: upLn.Addr().String()}
			f, err := NewHTTPProxyDialer(Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}, u, tt.user, tt.pass)
			if err != nil {
				t.Fatal(err)
			}

			conn, err := f.DialContext(ctx, "tcp", echoLn.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEcho(t, conn, conn, []byte("hello"))
			_ = conn.Close()

			stop()
		})
	}
}

func TestHTTPProxyDialerDialNon2xx(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upLn, stop := testutil.StartTCPServer(t, ctx, func(c net.Conn) {
		serveHTTPConnect(ctx, c, "Basic secret")
	})
	defer stop()

	u := &url.URL{Scheme: "http", Host: upLn.Addr().String()}
	f, err := NewHTTPProxyDialer(Config{DialTimeout: 2 * time.Second}, u, "", "")
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.DialContext(ctx, "tcp", "127.0.0.1:1")
	var statusErr *ConnectStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("got %v want *ConnectStatusError", err)
	}
	if statusErr.StatusCode != http.StatusProxyAuthRequired {
		t.Fatalf("got status %d", statusErr.StatusCode)
	}
}

func TestHTTPProxyDialerEarlyData(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// The proxy sends target bytes in the same segment as its response.
	upLn, stop := testutil.StartTCPServer(t, ctx, func(c net.Conn) {
		req, err := http.ReadRequest(bufio.NewReader(c))
		if err != nil {
			return
		}
		_ = req.Body.Close()
		_, _ = io.WriteString(c, "HTTP/1.1 200 OK\r\n\r\nbanner")
	})
	defer stop()

	u := &url.URL{Scheme: "http", Host: upLn.Addr().String()}
	f, err := NewHTTPProxyDialer(Config{}, u, "", "")
	if err != nil {
		t.Fatal(err)
	}

	conn, err := f.DialContext(ctx, "tcp", "example.test:80")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	buf := make([]byte, len("banner"))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "banner" {
		t.Fatalf("got %q", buf)
	}
}

func TestNewHTTPProxyDialerValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		u    *url.URL
	}{
		{name: "nil url"},
		{name: "missing host", u: &url.URL{Scheme: "http"}},
		{name: "bad scheme", u: &url.URL{Scheme: "ftp", Host: "proxy.example:21"}},
	}
	for _, tt := range tests {
		if _, err := NewHTTPProxyDialer(Config{}, tt.u, "", ""); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
