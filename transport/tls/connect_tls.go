package tls

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/pkg/errors"

	"github.com/asyncrmi/asyncrmi/config"
	"github.com/asyncrmi/asyncrmi/tlsconf"
	"github.com/asyncrmi/asyncrmi/transport"
)

type TLSDialer struct {
	dialer    net.Dialer
	tlsConfig *tls.Config
}

func TLSDialerFromConfig(in *config.TLSConnect) (*TLSDialer, error) {
	dialer := net.Dialer{
		Timeout: in.DialTimeout,
	}

	ca, err := tlsconf.ParseCAFile(in.Ca)
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse ca file")
	}

	cert, err := tls.LoadX509KeyPair(in.Cert, in.Key)
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse cert/key pair")
	}

	tlsConfig, err := tlsconf.ClientAuthClient(in.ServerCN, ca, cert)
	if err != nil {
		return nil, errors.Wrap(err, "cannot build tls config")
	}

	return &TLSDialer{dialer, tlsConfig}, nil
}

// Dial connects to endpoint and completes the TLS handshake.
func (d *TLSDialer) Dial(dialCtx context.Context, endpoint string) (transport.Wire, error) {
	conn, err := d.dialer.DialContext(dialCtx, "tcp", endpoint)
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Client(conn, d.tlsConfig)
	if err := tlsConn.HandshakeContext(dialCtx); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "tls handshake with %s", endpoint)
	}
	return newWireAdaptor(tlsConn), nil
}
