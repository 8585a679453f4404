package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AgentKeySource is the --ssh-key value selecting the running SSH agent.
const AgentKeySource = "agent"

// AgentAvailable reports whether SSH_AUTH_SOCK points at an agent.
func AgentAvailable() bool {
	return os.Getenv("SSH_AUTH_SOCK") != ""
}

// Signers resolves a key source into signers:
//   - "": no key authentication
//   - "agent": every key held by the SSH agent
//   - anything else: the OpenSSH private key file at that path
func Signers(source string) ([]ssh.Signer, error) {
	switch source {
	case "":
		return nil, nil
	case AgentKeySource:
		return agentSigners()
	}

	signer, err := keyFileSigner(source)
	if err != nil {
		return nil, err
	}
	return []ssh.Signer{signer}, nil
}

// agentSigners keeps the agent connection open for the lifetime of the
// returned signers.
func agentSigners() ([]ssh.Signer, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, errors.New("ssh agent: SSH_AUTH_SOCK not set")
	}

	var d net.Dialer
	conn, err := d.DialContext(context.Background(), "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("ssh agent: %w", err)
	}

	signers, err := agent.NewClient(conn).Signers()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh agent signers: %w", err)
	}
	if len(signers) == 0 {
		_ = conn.Close()
		return nil, errors.New("ssh agent: no keys loaded")
	}
	return signers, nil
}

func keyFileSigner(path string) (ssh.Signer, error) {
	pem, err := os.ReadFile(path) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("ssh key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("ssh key %s: %w", path, err)
	}
	return signer, nil
}
