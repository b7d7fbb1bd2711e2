// Package marshal converts Go values to and from wire.Value.
//
// Values implementing export.Remote are passed by reference: the
// Marshaler exports them and emits a stub in their place, recursively,
// wherever they occur in the value graph. All other values are copied.
package marshal

import (
	"reflect"

	"github.com/pkg/errors"

	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/rmi/export"
	"github.com/asyncrmi/asyncrmi/rmi/wire"
)

type Logger = logger.Logger

// MaxDepth bounds the nesting of marshaled values.
// Cyclic value graphs fail with ErrTooDeep.
const MaxDepth = 64

var ErrTooDeep = errors.Errorf("value graph nested deeper than %d levels", MaxDepth)

// Exporter is the part of *export.Exporter used by the Marshaler.
//
// Errors of type *export.ExportError are recoverable: the object is
// marshaled by value instead. Any other error aborts marshaling.
type Exporter interface {
	Export(obj export.Remote) (wire.Stub, error)
}

type UnsupportedTypeError struct {
	Type reflect.Type
}

func (e *UnsupportedTypeError) Error() string {
	return "marshal: unsupported type " + e.Type.String()
}

var (
	remoteType = reflect.TypeOf((*export.Remote)(nil)).Elem()
	objectType = reflect.TypeOf(export.Object{})
	bytesType  = reflect.TypeOf([]byte(nil))
)

type Marshaler struct {
	exporter Exporter
	registry *Registry
	log      Logger
}

func NewMarshaler(exporter Exporter, registry *Registry, log Logger) *Marshaler {
	if registry == nil {
		registry = DefaultRegistry
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Marshaler{exporter, registry, log}
}

func (m *Marshaler) Marshal(v interface{}) (wire.Value, error) {
	return m.visit(reflect.ValueOf(v), 0)
}

func (m *Marshaler) MarshalArgs(args []interface{}) ([]wire.Value, error) {
	vals := make([]wire.Value, len(args))
	for i, arg := range args {
		v, err := m.Marshal(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "argument %d", i)
		}
		vals[i] = v
	}
	return vals, nil
}

func (m *Marshaler) visit(rv reflect.Value, depth int) (wire.Value, error) {
	return m.visitValue(rv, depth, true)
}

// visitValue marshals rv. Once a Remote fell back to by-value, the
// pointers and interfaces leading to its value are not exported again.
func (m *Marshaler) visitValue(rv reflect.Value, depth int, exportRemote bool) (wire.Value, error) {
	if depth > MaxDepth {
		return wire.Value{}, ErrTooDeep
	}
	if !rv.IsValid() {
		return wire.Nil(), nil
	}
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return wire.Nil(), nil
		}
	}

	if exportRemote && rv.Type().Implements(remoteType) && rv.CanInterface() {
		v, ok, err := m.visitRemote(rv)
		if err != nil || ok {
			return v, err
		}
		exportRemote = false
	}

	t := rv.Type()
	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr:
		return m.visitValue(rv.Elem(), depth+1, exportRemote)
	case reflect.Bool:
		v := wire.Bool(rv.Bool())
		v.Type = m.primitiveName(t)
		return v, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v := wire.Int(rv.Int())
		v.Type = m.primitiveName(t)
		return v, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		v := wire.Uint(rv.Uint())
		v.Type = m.primitiveName(t)
		return v, nil
	case reflect.Float32, reflect.Float64:
		v := wire.Float(rv.Float())
		v.Type = m.primitiveName(t)
		return v, nil
	case reflect.String:
		v := wire.String(rv.String())
		v.Type = m.primitiveName(t)
		return v, nil
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			v := wire.Bytes(b)
			if t != bytesType {
				v.Type = m.registry.nameOf(t)
			}
			return v, nil
		}
		v := wire.Value{Kind: wire.KindList, Type: m.registry.nameOf(t)}
		v.Elems = make([]wire.Value, rv.Len())
		for i := range v.Elems {
			e, err := m.visit(rv.Index(i), depth+1)
			if err != nil {
				return wire.Value{}, errors.Wrapf(err, "index %d", i)
			}
			v.Elems[i] = e
		}
		return v, nil
	case reflect.Map:
		v := wire.Value{Kind: wire.KindMap, Type: m.registry.nameOf(t)}
		v.Entries = make([]wire.Entry, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, err := m.visit(iter.Key(), depth+1)
			if err != nil {
				return wire.Value{}, errors.Wrap(err, "map key")
			}
			e, err := m.visit(iter.Value(), depth+1)
			if err != nil {
				return wire.Value{}, errors.Wrap(err, "map value")
			}
			v.Entries = append(v.Entries, wire.Entry{Key: k, Value: e})
		}
		return v, nil
	case reflect.Struct:
		v := wire.Value{Kind: wire.KindStruct, Type: m.registry.nameOf(t)}
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() || sf.Type == objectType {
				continue
			}
			f, err := m.visit(rv.Field(i), depth+1)
			if err != nil {
				return wire.Value{}, errors.Wrapf(err, "field %s", sf.Name)
			}
			v.Fields = append(v.Fields, wire.Field{Name: sf.Name, Value: f})
		}
		return v, nil
	default:
		return wire.Value{}, &UnsupportedTypeError{t}
	}
}

// visitRemote returns ok=false if obj must be marshaled by value.
func (m *Marshaler) visitRemote(rv reflect.Value) (_ wire.Value, ok bool, _ error) {
	obj := rv.Interface().(export.Remote)
	typ := m.registry.nameOf(indirectType(rv.Type()))
	if h, isStub := obj.(export.StubHolder); isStub {
		return wire.StubValue(h.Stub(), typ), true, nil
	}
	stub, err := m.exporter.Export(obj)
	if err != nil {
		var eerr *export.ExportError
		if errors.As(err, &eerr) {
			m.log.WithError(err).WithField("type", typ).Warn("cannot export remote object, marshaling it by value")
			return wire.Value{}, false, nil
		}
		return wire.Value{}, false, errors.Wrapf(err, "export %s", typ)
	}
	return wire.StubValue(stub, typ), true, nil
}

// primitiveName annotates named primitive types only.
func (m *Marshaler) primitiveName(t reflect.Type) string {
	if t.PkgPath() == "" {
		return ""
	}
	return m.registry.nameOf(t)
}
