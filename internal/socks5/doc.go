// Package socks5 implements the SOCKS5 wire protocol used by socksgate.
//
// It contains the address codec (IPv4, IPv6 and domain ATYP encodings), the
// server-side handshake state machine that turns a client greeting and
// CONNECT request into a ProxyInfo, reply writing, and the client side used
// when chaining through an upstream SOCKS5 server.
//
// Framing types come from github.com/txthinking/socks5 wherever that library
// has them; this package adds the state machine and error classification.
package socks5
