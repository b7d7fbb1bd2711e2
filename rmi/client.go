// Package rmi is the front door of asyncrmi: a Client invokes methods
// of remote objects through Proxies, a Server exposes the objects of
// an Exporter to remote Clients.
package rmi

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/rmi/export"
	"github.com/asyncrmi/asyncrmi/rmi/marshal"
	"github.com/asyncrmi/asyncrmi/rmi/pool"
	"github.com/asyncrmi/asyncrmi/rmi/wire"
	"github.com/asyncrmi/asyncrmi/transport"
	"github.com/asyncrmi/asyncrmi/util/future"
)

type Logger = logger.Logger

var ErrClientClosed = errors.New("rmi client closed")

// Client keeps one connection pool per remote endpoint and one Proxy
// per remote object.
type Client struct {
	cfg         Config
	dialer      transport.Dialer
	exporter    *export.Exporter
	log         Logger
	marshaler   *marshal.Marshaler
	unmarshaler *marshal.Unmarshaler

	mtx     sync.Mutex
	closed  bool
	pools   map[string]*pool.Pool
	proxies map[wire.Stub]*Proxy
}

var _ marshal.StubResolver = (*Client)(nil)

// NewClient returns a Client that dials endpoints with dialer.
// Remote objects passed as arguments are exported through exporter;
// if it is nil they are passed by value.
func NewClient(dialer transport.Dialer, exporter *export.Exporter, cfg Config, log Logger) *Client {
	if log == nil {
		log = logger.NewNullLogger()
	}
	if exporter == nil {
		exporter = export.NewExporter("", log)
	}
	c := &Client{
		cfg:      cfg,
		dialer:   dialer,
		exporter: exporter,
		log:      log,
		pools:    make(map[string]*pool.Pool),
		proxies:  make(map[wire.Stub]*Proxy),
	}
	c.marshaler = marshal.NewMarshaler(exporter, cfg.Registry, log)
	c.unmarshaler = marshal.NewUnmarshaler(c, cfg.Registry)
	return c
}

func (c *Client) Exporter() *export.Exporter { return c.exporter }

func (c *Client) Marshaler() *marshal.Marshaler { return c.marshaler }

func (c *Client) Unmarshaler() *marshal.Unmarshaler { return c.unmarshaler }

// Lookup returns the Proxy of the object exported as objectID at endpoint.
// It does not contact the endpoint.
func (c *Client) Lookup(endpoint, objectID string) *Proxy {
	return c.Proxy(wire.Stub{ObjectID: objectID, Endpoint: endpoint}, "")
}

// Proxy returns the Proxy for stub. Equal stubs yield the same Proxy.
func (c *Client) Proxy(stub wire.Stub, typ string) *Proxy {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if p, ok := c.proxies[stub]; ok {
		return p
	}
	p := &Proxy{stub: stub, typ: typ, client: c}
	c.proxies[stub] = p
	return p
}

// ResolveStub returns the local object for stubs exported by this
// process, a Proxy otherwise.
func (c *Client) ResolveStub(stub wire.Stub, typ string) (interface{}, error) {
	if stub.IsZero() {
		return nil, errors.New("stub without object id")
	}
	if obj, ok := c.exporter.Resolve(stub); ok {
		return obj, nil
	}
	if stub.Endpoint == "" {
		return nil, errors.Errorf("stub %s has no endpoint", stub)
	}
	return c.Proxy(stub, typ), nil
}

func (c *Client) pool(endpoint string) (*pool.Pool, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if p, ok := c.pools[endpoint]; ok {
		return p, nil
	}
	connecter := transport.ConnecterTo(c.dialer, endpoint)
	f := pool.NewFactory(endpoint, connecter, c.cfg.Conn, c.log.ReplaceField(logger.FieldSubsystem, "rmi.conn"))
	p := pool.New(endpoint, f, c.cfg.Pool, c.log.ReplaceField(logger.FieldSubsystem, "rmi.pool"))
	c.pools[endpoint] = p
	return p, nil
}

// Invoke calls method on the object stub refers to. It never blocks:
// the returned Call completes when the result arrives.
func (c *Client) Invoke(ctx context.Context, stub wire.Stub, method string, args ...interface{}) *Call {
	call := &Call{fut: future.New[wire.Value](), client: c}
	vals, err := c.marshaler.MarshalArgs(args)
	if err != nil {
		call.fut.Fail(errors.Wrapf(err, "marshal arguments of %s", method))
		return call
	}
	p, err := c.pool(stub.Endpoint)
	if err != nil {
		call.fut.Fail(err)
		return call
	}
	inv := &wire.Invocation{Target: stub.ObjectID, Method: method, Args: vals}

	acquired := p.Acquire(ctx)
	call.fut.OnCancel(func() { acquired.Cancel() })
	go func() {
		<-acquired.Done()
		cn, err := acquired.Result()
		if err != nil {
			call.fut.Fail(err)
			return
		}
		sent := cn.Send(inv)
		// the connection multiplexes, others may use it while we wait
		p.Release(cn)
		future.Chain(sent, call.fut)
	}()
	return call
}

// Ping connects to endpoint and completes the handshake.
func (c *Client) Ping(ctx context.Context, endpoint string) error {
	p, err := c.pool(endpoint)
	if err != nil {
		return err
	}
	cn, err := p.Acquire(ctx).Get(ctx)
	if err != nil {
		return err
	}
	p.Release(cn)
	return nil
}

// Close closes all pooled connections. Pending calls fail with a
// *conn.ConnectionClosedError.
func (c *Client) Close() error {
	c.mtx.Lock()
	if c.closed {
		c.mtx.Unlock()
		return nil
	}
	c.closed = true
	pools := c.pools
	c.pools = nil
	c.proxies = make(map[wire.Stub]*Proxy)
	c.mtx.Unlock()
	for _, p := range pools {
		p.Close()
	}
	return nil
}

// Stats reports the pool statistics of every endpoint.
func (c *Client) Stats() map[string]pool.Stats {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	stats := make(map[string]pool.Stats, len(c.pools))
	for ep, p := range c.pools {
		stats[ep] = p.Stats()
	}
	return stats
}
