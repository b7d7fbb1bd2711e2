package rmi

import (
	"context"

	"github.com/asyncrmi/asyncrmi/rmi/export"
	"github.com/asyncrmi/asyncrmi/rmi/wire"
	"github.com/asyncrmi/asyncrmi/util/future"
)

// Proxy is the local handle of a remote object. Passing a Proxy as an
// argument sends its stub, so the receiver gets the original object
// back if it lives there.
type Proxy struct {
	export.Object
	stub   wire.Stub
	typ    string
	client *Client
}

var _ export.StubHolder = (*Proxy)(nil)

func (p *Proxy) Stub() wire.Stub { return p.stub }

// Type returns the type annotation the remote object was sent with.
func (p *Proxy) Type() string { return p.typ }

func (p *Proxy) Endpoint() string { return p.stub.Endpoint }

func (p *Proxy) ObjectID() string { return p.stub.ObjectID }

func (p *Proxy) String() string { return "proxy(" + p.stub.String() + ")" }

// Call invokes method on the remote object. See Client.Invoke.
func (p *Proxy) Call(ctx context.Context, method string, args ...interface{}) *Call {
	return p.client.Invoke(ctx, p.stub, method, args...)
}

// Call is an invocation in flight.
type Call struct {
	fut    *future.Future[wire.Value]
	client *Client
}

// Done is closed once the call completed, failed or was cancelled.
func (c *Call) Done() <-chan struct{} { return c.fut.Done() }

// Cancel abandons the call. If the invocation already reached the
// remote object, its execution is interrupted. Cancel reports false if
// the call had completed already.
func (c *Call) Cancel() bool { return c.fut.Cancel() }

func (c *Call) Future() *future.Future[wire.Value] { return c.fut }

// Await waits for the result and decodes it into the value dst points
// to. dst may be nil to discard the result. Giving up on ctx does not
// cancel the call.
func (c *Call) Await(ctx context.Context, dst interface{}) error {
	v, err := c.fut.Get(ctx)
	if err != nil {
		return err
	}
	if dst == nil {
		return nil
	}
	return c.client.unmarshaler.UnmarshalInto(v, dst)
}

// Value waits for the result and decodes it into its registered Go type.
func (c *Call) Value(ctx context.Context) (interface{}, error) {
	var out interface{}
	if err := c.Await(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
