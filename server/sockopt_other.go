//go:build !unix

package server

import "syscall"

func listenControlFunc(network, address string, conn syscall.RawConn) error {
	return nil
}
