package rmi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/rmi/conn"
	"github.com/asyncrmi/asyncrmi/rmi/export"
	"github.com/asyncrmi/asyncrmi/rmi/wire"
)

type signatures struct {
	export.Object
	calls int
	ctx   context.Context
}

type ctxKey struct{}

func (s *signatures) Nothing() { s.calls++ }

func (s *signatures) OnlyError(fail bool) error {
	if fail {
		return &conn.RemoteError{Type: "x", Message: "y"}
	}
	return nil
}

func (s *signatures) WithContext(ctx context.Context) string {
	s.ctx = ctx
	return "ok"
}

func (s *signatures) Sum(xs ...int) int { return len(xs) }

func (s *signatures) Three() (int, int, error) { return 1, 2, nil }

func newTestDispatcher(t *testing.T) (*ObjectDispatcher, *signatures) {
	exp := export.NewExporter("local:1", logger.NewTestLogger(t))
	t.Cleanup(exp.Close)
	c := NewClient(nil, exp, testConfig(), logger.NewTestLogger(t))
	t.Cleanup(func() { c.Close() })
	obj := &signatures{}
	_, err := exp.ExportAs("sig", obj)
	require.NoError(t, err)
	return NewDispatcher(c), obj
}

func TestDispatchSignatures(t *testing.T) {
	d, obj := newTestDispatcher(t)
	ctx := context.WithValue(context.Background(), ctxKey{}, "v")

	v, err := d.Dispatch(ctx, &wire.Invocation{Target: "sig", Method: "Nothing"})
	require.NoError(t, err)
	assert.Equal(t, wire.KindNil, v.Kind)
	assert.Equal(t, 1, obj.calls)

	v, err = d.Dispatch(ctx, &wire.Invocation{Target: "sig", Method: "OnlyError", Args: []wire.Value{wire.Bool(false)}})
	require.NoError(t, err)
	assert.Equal(t, wire.KindNil, v.Kind)

	_, err = d.Dispatch(ctx, &wire.Invocation{Target: "sig", Method: "OnlyError", Args: []wire.Value{wire.Bool(true)}})
	assert.Equal(t, &conn.RemoteError{Type: "x", Message: "y"}, err)

	v, err = d.Dispatch(ctx, &wire.Invocation{Target: "sig", Method: "WithContext"})
	require.NoError(t, err)
	assert.Equal(t, "ok", v.Str)
	assert.Equal(t, "v", obj.ctx.Value(ctxKey{}))

	_, err = d.Dispatch(ctx, &wire.Invocation{Target: "sig", Method: "Sum"})
	var rerr *conn.RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ErrorTypeBadArguments, rerr.Type)

	_, err = d.Dispatch(ctx, &wire.Invocation{Target: "sig", Method: "Three"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported method signature")

	_, err = d.Dispatch(ctx, &wire.Invocation{Target: "sig", Method: "Nothing", Args: []wire.Value{wire.Int(1)}})
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ErrorTypeBadArguments, rerr.Type)
	assert.Contains(t, rerr.Message, "takes 0 arguments, got 1")
}
