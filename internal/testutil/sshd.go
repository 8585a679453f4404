package testutil

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/die-net/socksgate/internal/relay"
)

// SSHServer is a loopback SSH server that only serves "direct-tcpip"
// channels, the server half of ssh -D.
type SSHServer struct {
	ln      net.Listener
	hostKey ssh.Signer

	mu    sync.Mutex
	conns int
}

// StartSSHServer starts an SSHServer accepting user/password, or only
// publicKey when it is non-nil. It stops at test cleanup.
func StartSSHServer(t *testing.T, ctx context.Context, user, password string, publicKey ssh.PublicKey) *SSHServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	hostKey, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &ssh.ServerConfig{}
	if publicKey != nil {
		cfg.PublicKeyCallback = func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if meta.User() != user || string(key.Marshal()) != string(publicKey.Marshal()) {
				return nil, errors.New("unauthorized key")
			}
			return &ssh.Permissions{}, nil
		}
	} else {
		cfg.PasswordCallback = func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() != user || string(pass) != password {
				return nil, errors.New("invalid credentials")
			}
			return &ssh.Permissions{}, nil
		}
	}
	cfg.AddHostKey(hostKey)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	s := &SSHServer{ln: ln, hostKey: hostKey}

	var wg sync.WaitGroup
	wg.Go(func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns++
			s.mu.Unlock()
			wg.Go(func() { s.serveConn(ctx, c, cfg) })
		}
	})
	t.Cleanup(func() {
		_ = ln.Close()
		wg.Wait()
	})

	return s
}

// Addr returns the listen address.
func (s *SSHServer) Addr() string {
	return s.ln.Addr().String()
}

// HostKey returns the server's public host key.
func (s *SSHServer) HostKey() ssh.PublicKey {
	return s.hostKey.PublicKey()
}

// Conns returns how many transport connections have been accepted.
func (s *SSHServer) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

type directTCPIP struct {
	Host       string
	Port       uint32
	OriginHost string
	OriginPort uint32
}

func (s *SSHServer) serveConn(ctx context.Context, c net.Conn, cfg *ssh.ServerConfig) {
	defer c.Close()

	sc, chans, reqs, err := ssh.NewServerConn(c, cfg)
	if err != nil {
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	stop := context.AfterFunc(ctx, func() { _ = sc.Close() })
	defer stop()

	for nc := range chans {
		if nc.ChannelType() != "direct-tcpip" {
			_ = nc.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}

		var p directTCPIP
		if err := ssh.Unmarshal(nc.ExtraData(), &p); err != nil {
			_ = nc.Reject(ssh.Prohibited, "bad direct-tcpip payload")
			continue
		}

		var d net.Dialer
		dst, err := d.DialContext(ctx, "tcp", net.JoinHostPort(p.Host, strconv.FormatUint(uint64(p.Port), 10)))
		if err != nil {
			_ = nc.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}

		ch, chReqs, err := nc.Accept()
		if err != nil {
			_ = dst.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)

		go relay.Relay(relay.NewEndpoint(channelConn{Channel: ch, conn: sc}), relay.NewEndpoint(dst), relay.Options{HalfClose: true})
	}
}

// channelConn adapts an ssh.Channel to net.Conn for the relay.
type channelConn struct {
	ssh.Channel
	conn ssh.Conn
}

func (c channelConn) LocalAddr() net.Addr            { return c.conn.LocalAddr() }
func (c channelConn) RemoteAddr() net.Addr           { return c.conn.RemoteAddr() }
func (channelConn) SetDeadline(time.Time) error      { return nil }
func (channelConn) SetReadDeadline(time.Time) error  { return nil }
func (channelConn) SetWriteDeadline(time.Time) error { return nil }
