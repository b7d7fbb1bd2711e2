package transport

import (
	"net"

	"github.com/pkg/errors"
)

var ErrCloseWriteUnsupported = errors.New("connection does not support closing the write direction")

type closeWriter interface {
	CloseWrite() error
}

type connWire struct {
	net.Conn
}

func (w connWire) CloseWrite() error {
	if cw, ok := w.Conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return ErrCloseWriteUnsupported
}

// WireFromConn adapts conn to a Wire. Connections wrapped by
// listeners that hide CloseWrite (e.g. netutil.LimitListener) return
// ErrCloseWriteUnsupported from CloseWrite.
func WireFromConn(conn net.Conn) Wire {
	if w, ok := conn.(Wire); ok {
		return w
	}
	return connWire{conn}
}
