//go:build windows

package api

import (
	"net"
	"syscall"
)

// reuseAddrListenConfig sets SO_REUSEADDR so a restarted server can rebind
// a port still in TIME_WAIT.
func reuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
}
