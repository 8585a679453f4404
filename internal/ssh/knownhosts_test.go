package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// hostCheck is one host key presented to a callback. reload rebuilds the
// callback from the file first, as a new process would.
type hostCheck struct {
	host    string
	key     int
	reload  bool
	wantErr string
}

func TestHostKeyCallbackScenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		seed     []string // "host keyIndex" known_hosts entries written before loading
		checks   []hostCheck
		wantRows int
	}{
		{
			name:     "first_use_is_recorded",
			checks:   []hostCheck{{host: "192.0.2.1:22"}},
			wantRows: 1,
		},
		{
			name: "recorded_key_survives_reload",
			checks: []hostCheck{
				{host: "192.0.2.1:22"},
				{host: "192.0.2.1:22", reload: true},
			},
			wantRows: 1,
		},
		{
			name: "changed_key_after_reload",
			checks: []hostCheck{
				{host: "192.0.2.1:22"},
				{host: "192.0.2.1:22", key: 1, reload: true, wantErr: "mismatch"},
			},
			wantRows: 1,
		},
		{
			name: "changed_key_same_process",
			checks: []hostCheck{
				{host: "192.0.2.1:22"},
				{host: "192.0.2.1:22"},
				{host: "192.0.2.1:22", key: 1, wantErr: "changed since first use"},
			},
			wantRows: 1,
		},
		{
			name: "hosts_are_independent",
			checks: []hostCheck{
				{host: "192.0.2.1:22"},
				{host: "gw.example.net:2222", key: 1},
				{host: "192.0.2.1:22", reload: true},
				{host: "gw.example.net:2222", key: 1},
			},
			wantRows: 2,
		},
		{
			name:     "seeded_entry_is_trusted",
			seed:     []string{"192.0.2.7:22 0"},
			checks:   []hostCheck{{host: "192.0.2.7:22"}},
			wantRows: 1,
		},
		{
			name: "seeded_entry_rejects_other_key",
			seed: []string{"192.0.2.7:22 0"},
			checks: []hostCheck{
				{host: "192.0.2.7:22", key: 1, wantErr: "mismatch"},
			},
			wantRows: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			keys := []ssh.PublicKey{mustGenerateKey(t).PublicKey(), mustGenerateKey(t).PublicKey()}
			path := filepath.Join(t.TempDir(), "known_hosts")

			var seed strings.Builder
			for _, entry := range tt.seed {
				host, idx, _ := strings.Cut(entry, " ")
				key := keys[0]
				if idx == "1" {
					key = keys[1]
				}
				seed.WriteString(knownhosts.Line([]string{knownhosts.Normalize(host)}, key) + "\n")
			}
			if seed.Len() > 0 {
				if err := os.WriteFile(path, []byte(seed.String()), 0o600); err != nil {
					t.Fatal(err)
				}
			}

			load := func() ssh.HostKeyCallback {
				cb, err := HostKeyCallback(path, zaptest.NewLogger(t))
				if err != nil {
					t.Fatalf("HostKeyCallback: %v", err)
				}
				return cb
			}

			cb := load()
			for i, c := range tt.checks {
				if c.reload {
					cb = load()
				}
				remote := &net.TCPAddr{IP: net.IPv4(192, 0, 2, 250), Port: 22}
				err := cb(c.host, remote, keys[c.key])
				switch {
				case c.wantErr == "" && err != nil:
					t.Fatalf("check %d (%s): %v", i, c.host, err)
				case c.wantErr != "" && (err == nil || !strings.Contains(err.Error(), c.wantErr)):
					t.Fatalf("check %d (%s): got %v, want error containing %q", i, c.host, err, c.wantErr)
				}
			}

			data, err := os.ReadFile(path) //nolint:gosec // Test path from t.TempDir().
			if err != nil {
				t.Fatal(err)
			}
			if rows := strings.Count(string(data), "\n"); rows != tt.wantRows {
				t.Fatalf("known_hosts rows: got %d, want %d\n%s", rows, tt.wantRows, data)
			}
		})
	}
}

func TestHostKeyCallbackDisabled(t *testing.T) {
	t.Parallel()

	cb, err := HostKeyCallback("", nil)
	if err != nil {
		t.Fatalf("HostKeyCallback: %v", err)
	}
	remote := &net.TCPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 22}
	if err := cb("anything:22", remote, mustGenerateKey(t).PublicKey()); err != nil {
		t.Fatalf("disabled checking rejected a key: %v", err)
	}
}

func TestHostKeyCallbackCreatesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "known_hosts")
	if _, err := HostKeyCallback(path, nil); err != nil {
		t.Fatalf("HostKeyCallback: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("known_hosts not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode: got %o, want 600", perm)
	}
	if dir, err := os.Stat(filepath.Dir(path)); err != nil || dir.Mode().Perm() != 0o700 {
		t.Errorf("directory: %v %v", dir, err)
	}
}

func mustGenerateKey(t *testing.T) ssh.Signer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return signer
}
