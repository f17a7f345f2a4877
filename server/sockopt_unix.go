//go:build unix

package server

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// listenControlFunc makes listeners IPv6-only and reusable right after a
// restart.
func listenControlFunc(network, address string, conn syscall.RawConn) error {
	var operr error
	if err := conn.Control(func(fd uintptr) {
		operr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
		if operr != nil {
			return
		}
		operr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return operr
}
