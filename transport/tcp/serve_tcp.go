package tcp

import (
	"context"
	"net"

	"golang.org/x/net/netutil"

	"github.com/asyncrmi/asyncrmi/config"
	"github.com/asyncrmi/asyncrmi/transport"
	"github.com/asyncrmi/asyncrmi/util/tcpsock"
)

func TCPListenerFactoryFromConfig(in *config.TCPServe) (transport.AuthenticatedListenerFactory, error) {
	lf := func() (transport.AuthenticatedListener, error) {
		l, err := tcpsock.Listen(context.Background(), in.Listen, in.ListenFreeBind)
		if err != nil {
			return nil, err
		}
		return NewTCPAuthListener(l, in.MaxConns), nil
	}
	return lf, nil
}

// TCPAuthListener identifies clients by their IP address.
type TCPAuthListener struct {
	net.Listener
}

// NewTCPAuthListener wraps l. If maxConns is positive, at most
// maxConns accepted connections are open at any time.
func NewTCPAuthListener(l net.Listener, maxConns int) *TCPAuthListener {
	if maxConns > 0 {
		l = netutil.LimitListener(l, maxConns)
	}
	return &TCPAuthListener{l}
}

func (f *TCPAuthListener) Accept(ctx context.Context) (*transport.AuthConn, error) {
	nc, err := f.Listener.Accept()
	if err != nil {
		return nil, err
	}
	clientIdent := nc.RemoteAddr().String()
	if tcpAddr, ok := nc.RemoteAddr().(*net.TCPAddr); ok {
		clientIdent = tcpAddr.IP.String()
	}
	transport.GetLogger(ctx).WithField("client", clientIdent).Debug("accepted connection")
	return transport.NewAuthConn(transport.WireFromConn(nc), clientIdent), nil
}
