//go:build linux

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
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}
