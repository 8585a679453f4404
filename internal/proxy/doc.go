// Package proxy implements the SOCKS5 listener: the accept loop with its
// admission limit and the per-connection session that negotiates a target,
// dials it and relays until both sides are done.
package proxy
