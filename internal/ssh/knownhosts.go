package ssh

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyCallback verifies server keys against the known_hosts file at path.
// Hosts missing from the file are appended on first contact; a host present
// with a different key is rejected. An empty path disables checking.
//
// The file and its directory are created when missing.
func HostKeyCallback(path string, logger *zap.Logger) (ssh.HostKeyCallback, error) {
	if path == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // Host key checking disabled by config.
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := ensureFile(path); err != nil {
		return nil, err
	}

	verify, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts: %w", err)
	}

	tofu := &trustOnFirstUse{path: path, verify: verify, logger: logger}
	return tofu.check, nil
}

type trustOnFirstUse struct {
	path   string
	verify ssh.HostKeyCallback
	logger *zap.Logger

	mu sync.Mutex
	// learned holds keys appended during this process's lifetime; verify
	// only knows the file as it was at load time.
	learned map[string]ssh.PublicKey
}

func (t *trustOnFirstUse) check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	err := t.verify(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) {
		return err
	}
	if len(keyErr.Want) > 0 {
		return fmt.Errorf("host key mismatch for %s: %w", hostname, err)
	}

	host := knownhosts.Normalize(hostname)

	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.learned[host]; ok {
		if !bytes.Equal(prev.Marshal(), key.Marshal()) {
			return fmt.Errorf("host key mismatch for %s: key changed since first use", hostname)
		}
		return nil
	}

	if err := appendLine(t.path, knownhosts.Line([]string{host}, key)); err != nil {
		return err
	}
	if t.learned == nil {
		t.learned = make(map[string]ssh.PublicKey)
	}
	t.learned[host] = key

	t.logger.Info("ssh host key added",
		zap.String("host", hostname),
		zap.String("key_type", key.Type()),
		zap.String("fingerprint", ssh.FingerprintSHA256(key)),
		zap.String("known_hosts", t.path),
	)
	return nil
}

func ensureFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
	if err != nil {
		return fmt.Errorf("creating known_hosts file: %w", err)
	}
	return f.Close()
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
	if err != nil {
		return fmt.Errorf("opening known_hosts: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("writing known_hosts: %w", err)
	}
	return nil
}
