//go:build unix

package socks5

import (
	"errors"

	"golang.org/x/sys/unix"
)

func replyForErrno(err error) (byte, bool) {
	switch {
	case errors.Is(err, unix.ECONNREFUSED):
		return RepConnectionRefused, true
	case errors.Is(err, unix.EHOSTUNREACH):
		return RepHostUnreachable, true
	case errors.Is(err, unix.ENETUNREACH):
		return RepNetworkUnreachable, true
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return RepNotAllowed, true
	}
	return 0, false
}
