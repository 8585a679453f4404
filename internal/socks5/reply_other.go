//go:build !unix

package socks5

import (
	"errors"
	"syscall"
)

func replyForErrno(err error) (byte, bool) {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return RepConnectionRefused, true
	}
	return 0, false
}
