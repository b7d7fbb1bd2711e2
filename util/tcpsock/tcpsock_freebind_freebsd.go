//go:build freebsd

package tcpsock

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

func setFreeBind(network string, c syscall.RawConn) error {
	var sockerr error
	err := c.Control(func(fd uintptr) {
		switch network {
		case "tcp6":
			sockerr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_BINDANY, 1)
		case "tcp4":
			sockerr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_BINDANY, 1)
		default:
			sockerr = fmt.Errorf("expecting 'tcp6' or 'tcp4', got %q", network)
		}
	})
	if err != nil {
		return err
	}
	return sockerr
}
