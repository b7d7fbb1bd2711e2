package tcp

import (
	"context"
	"net"

	"github.com/asyncrmi/asyncrmi/config"
	"github.com/asyncrmi/asyncrmi/transport"
)

type TCPDialer struct {
	dialer net.Dialer
}

func TCPDialerFromConfig(in *config.TCPConnect) (*TCPDialer, error) {
	return &TCPDialer{net.Dialer{Timeout: in.DialTimeout}}, nil
}

func (d *TCPDialer) Dial(dialCtx context.Context, endpoint string) (transport.Wire, error) {
	conn, err := d.dialer.DialContext(dialCtx, "tcp", endpoint)
	if err != nil {
		return nil, err
	}
	return conn.(*net.TCPConn), nil
}
