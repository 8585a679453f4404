// Package dialer provides the outbound side of the proxy: a Dialer either
// connects to the requested target directly or reaches it through an
// upstream HTTP CONNECT, SOCKS5 or SSH server.
package dialer
