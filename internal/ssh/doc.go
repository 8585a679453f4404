// Package ssh holds the client-side pieces of the SSH upstream: key loading
// from files or the agent, the transport handshake, and trust-on-first-use
// host key verification against a known_hosts file.
package ssh
