//go:build linux

package tcpsock

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func setFreeBind(network string, c syscall.RawConn) error {
	var sockerr error
	err := c.Control(func(fd uintptr) {
		// IP_FREEBIND applies to IPv6 sockets as well
		sockerr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_FREEBIND, 1)
	})
	if err != nil {
		return err
	}
	return sockerr
}
