// Package fromconfig instantiates transports based on config structures
// (see package config).
package fromconfig

import (
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/asyncrmi/asyncrmi/config"
	"github.com/asyncrmi/asyncrmi/transport"
	"github.com/asyncrmi/asyncrmi/transport/tcp"
	"github.com/asyncrmi/asyncrmi/transport/tls"
)

func ListenerFactoryFromConfig(in *config.ServeEnum) (transport.AuthenticatedListenerFactory, error) {

	var (
		l   transport.AuthenticatedListenerFactory
		err error
	)
	switch v := in.Ret.(type) {
	case *config.TCPServe:
		l, err = tcp.TCPListenerFactoryFromConfig(v)
	case *config.TLSServe:
		l, err = tls.TLSListenerFactoryFromConfig(v)
	default:
		return nil, errors.Errorf("internal error: unknown serve type %T", v)
	}

	return l, err
}

// DefaultDialTimeout applies if no connect section is configured.
const DefaultDialTimeout = 10 * time.Second

// DialerFromConfig returns the Dialer described by in, or a plain TCP
// dialer if in is nil.
func DialerFromConfig(in *config.ConnectEnum) (transport.Dialer, error) {
	if in == nil {
		return tcp.TCPDialerFromConfig(&config.TCPConnect{
			ConnectCommon: config.ConnectCommon{Type: "tcp", DialTimeout: DefaultDialTimeout},
		})
	}
	var (
		dialer transport.Dialer
		err    error
	)
	switch v := in.Ret.(type) {
	case *config.TCPConnect:
		dialer, err = tcp.TCPDialerFromConfig(v)
	case *config.TLSConnect:
		dialer, err = tls.TLSDialerFromConfig(v)
	default:
		panic(fmt.Sprintf("implementation error: unknown connecter type %T", v))
	}

	return dialer, err
}

// AdvertisedEndpoint returns the endpoint peers use to reach a
// listener configured by in and bound to addr.
func AdvertisedEndpoint(in *config.ServeEnum, addr net.Addr) string {
	if adv := in.Common().Advertise; adv != "" {
		return adv
	}
	return addr.String()
}
