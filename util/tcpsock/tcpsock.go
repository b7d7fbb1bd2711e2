// Package tcpsock creates TCP listeners with socket options that
// net.Listen does not expose.
package tcpsock

import (
	"context"
	"net"
	"syscall"

	"github.com/pkg/errors"
)

// Listen listens on address. If freeBind is set, the address does not
// need to be assigned to a local interface yet (IP_FREEBIND).
func Listen(ctx context.Context, address string, freeBind bool) (*net.TCPListener, error) {
	listenConfig := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			if freeBind {
				return setFreeBind(network, c)
			}
			return nil
		},
	}
	l, err := listenConfig.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %q", address)
	}
	return l.(*net.TCPListener), nil
}
