// Package tlsconf builds the TLS configurations of mutually
// authenticated connections: servers require client certificates and
// identify clients by the certificate's common name.
package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
)

func ParseCAFile(certfile string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	pem, err := os.ReadFile(certfile)
	if err != nil {
		return nil, err
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("PEM parsing error")
	}
	return pool, nil
}

type ClientAuthListener struct {
	l                net.Listener
	handshakeTimeout time.Duration
}

func NewClientAuthListener(
	l net.Listener, ca *x509.CertPool, serverCert tls.Certificate,
	handshakeTimeout time.Duration) *ClientAuthListener {

	if ca == nil {
		panic(ca)
	}
	if serverCert.Certificate == nil || serverCert.PrivateKey == nil {
		panic(serverCert)
	}

	tlsConf := tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientCAs:    ca,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
	l = tls.NewListener(l, &tlsConf)
	return &ClientAuthListener{
		l,
		handshakeTimeout,
	}
}

// Accept returns the next connection after its TLS handshake completed.
func (l *ClientAuthListener) Accept() (tlsConn *tls.Conn, clientCN string, err error) {
	c, err := l.l.Accept()
	if err != nil {
		return nil, "", err
	}
	tlsConn = c.(*tls.Conn)

	fail := func(err error) (*tls.Conn, string, error) {
		tlsConn.Close()
		return nil, "", err
	}
	if err := tlsConn.SetDeadline(time.Now().Add(l.handshakeTimeout)); err != nil {
		return fail(err)
	}
	if err := tlsConn.Handshake(); err != nil {
		return fail(errors.Wrapf(err, "tls handshake with %s", tlsConn.RemoteAddr()))
	}
	if err := tlsConn.SetDeadline(time.Time{}); err != nil {
		return fail(err)
	}

	peerCerts := tlsConn.ConnectionState().PeerCertificates
	if len(peerCerts) != 1 {
		return fail(errors.New("unexpected number of certificates presented by TLS client"))
	}
	return tlsConn, peerCerts[0].Subject.CommonName, nil
}

func (l *ClientAuthListener) Addr() net.Addr {
	return l.l.Addr()
}

func (l *ClientAuthListener) Close() error {
	return l.l.Close()
}

func ClientAuthClient(serverName string, rootCA *x509.CertPool, clientCert tls.Certificate) (*tls.Config, error) {
	if serverName == "" {
		return nil, errors.New("server name must not be empty")
	}
	if rootCA == nil {
		return nil, errors.New("root CA pool must not be nil")
	}
	if clientCert.Certificate == nil || clientCert.PrivateKey == nil {
		return nil, errors.New("client certificate must have certificate and private key")
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      rootCA,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}
	return tlsConfig, nil
}
