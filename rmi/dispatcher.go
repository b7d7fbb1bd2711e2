package rmi

import (
	"context"
	"fmt"
	"reflect"

	"github.com/pkg/errors"

	"github.com/asyncrmi/asyncrmi/rmi/conn"
	"github.com/asyncrmi/asyncrmi/rmi/export"
	"github.com/asyncrmi/asyncrmi/rmi/marshal"
	"github.com/asyncrmi/asyncrmi/rmi/wire"
)

const (
	ErrorTypeNoSuchObject = "no_such_object"
	ErrorTypeNoSuchMethod = "no_such_method"
	ErrorTypeBadArguments = "bad_arguments"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// ObjectDispatcher invokes exported methods of exported objects.
//
// A method may take a context.Context as its first parameter, which is
// cancelled when the caller cancels the invocation. It returns nothing,
// a value, an error, or a value and an error. Variadic methods cannot
// be invoked remotely.
type ObjectDispatcher struct {
	exporter    *export.Exporter
	marshaler   *marshal.Marshaler
	unmarshaler *marshal.Unmarshaler
}

var _ conn.Dispatcher = (*ObjectDispatcher)(nil)

// NewDispatcher dispatches to the objects of client's Exporter.
// Stubs in arguments resolve through client.
func NewDispatcher(client *Client) *ObjectDispatcher {
	return &ObjectDispatcher{
		exporter:    client.Exporter(),
		marshaler:   client.Marshaler(),
		unmarshaler: client.Unmarshaler(),
	}
}

func badArgs(format string, args ...interface{}) error {
	return &conn.RemoteError{Type: ErrorTypeBadArguments, Message: fmt.Sprintf(format, args...)}
}

func (d *ObjectDispatcher) Dispatch(ctx context.Context, inv *wire.Invocation) (wire.Value, error) {
	obj, ok := d.exporter.Lookup(inv.Target)
	if !ok {
		return wire.Value{}, &conn.RemoteError{
			Type:    ErrorTypeNoSuchObject,
			Message: fmt.Sprintf("object %q is not exported at %s", inv.Target, d.exporter.Endpoint()),
		}
	}
	m := reflect.ValueOf(obj).MethodByName(inv.Method)
	if !m.IsValid() {
		return wire.Value{}, &conn.RemoteError{
			Type:    ErrorTypeNoSuchMethod,
			Message: fmt.Sprintf("%T has no exported method %q", obj, inv.Method),
		}
	}
	mt := m.Type()
	if mt.IsVariadic() {
		return wire.Value{}, badArgs("%T.%s is variadic", obj, inv.Method)
	}

	in := make([]reflect.Value, 0, mt.NumIn())
	if mt.NumIn() > 0 && mt.In(0) == contextType {
		in = append(in, reflect.ValueOf(ctx))
	}
	if want := mt.NumIn() - len(in); want != len(inv.Args) {
		return wire.Value{}, badArgs("%T.%s takes %d arguments, got %d", obj, inv.Method, want, len(inv.Args))
	}
	for _, arg := range inv.Args {
		i := len(in)
		v, err := d.unmarshaler.Unmarshal(arg, mt.In(i))
		if err != nil {
			return wire.Value{}, badArgs("argument %d of %T.%s: %s", i, obj, inv.Method, err)
		}
		in = append(in, v)
	}

	return d.results(mt, m.Call(in))
}

func (d *ObjectDispatcher) results(mt reflect.Type, out []reflect.Value) (wire.Value, error) {
	var result reflect.Value
	switch {
	case len(out) == 0:
		return wire.Nil(), nil
	case len(out) == 1 && mt.Out(0) == errorType:
		if err, _ := out[0].Interface().(error); err != nil {
			return wire.Value{}, err
		}
		return wire.Nil(), nil
	case len(out) == 1:
		result = out[0]
	case len(out) == 2 && mt.Out(1) == errorType:
		if err, _ := out[1].Interface().(error); err != nil {
			return wire.Value{}, err
		}
		result = out[0]
	default:
		return wire.Value{}, errors.Errorf("unsupported method signature %s", mt)
	}
	v, err := d.marshaler.Marshal(result.Interface())
	if err != nil {
		return wire.Value{}, errors.Wrap(err, "marshal result")
	}
	return v, nil
}
