package tls

import (
	"crypto/tls"

	"github.com/asyncrmi/asyncrmi/transport"
)

// adapts a tls.Conn and its underlying connection into a valid transport.Wire
type transportWireAdaptor struct {
	*tls.Conn
	raw transport.Wire
}

func newWireAdaptor(tlsConn *tls.Conn) transportWireAdaptor {
	return transportWireAdaptor{tlsConn, transport.WireFromConn(tlsConn.NetConn())}
}

// CloseWrite implements transport.Wire.CloseWrite which is different from *tls.Conn.CloseWrite:
// the former requires that the other side observes io.EOF, but *tls.Conn.CloseWrite does not
// close the underlying connection so no io.EOF would be observed.
func (w transportWireAdaptor) CloseWrite() error {
	if err := w.Conn.CloseWrite(); err != nil {
		return err
	}
	return w.raw.CloseWrite()
}
