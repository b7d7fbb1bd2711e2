package marshal

import (
	"fmt"
	"math"
	"reflect"

	"github.com/pkg/errors"

	"github.com/asyncrmi/asyncrmi/rmi/wire"
)

// StubResolver turns stubs back into objects: the original object if
// the stub refers to a local export, a proxy otherwise. Resolving the
// same stub twice must return the same object so that aliasing survives
// a round trip.
type StubResolver interface {
	ResolveStub(stub wire.Stub, typ string) (interface{}, error)
}

type UnmarshalTypeError struct {
	Kind wire.Kind
	Type reflect.Type
}

func (e *UnmarshalTypeError) Error() string {
	return fmt.Sprintf("unmarshal: cannot decode %s value into %s", e.Kind, e.Type)
}

var (
	ifaceType   = reflect.TypeOf((*interface{})(nil)).Elem()
	genericList = reflect.TypeOf([]interface{}(nil))
	genericMap  = reflect.TypeOf(map[interface{}]interface{}(nil))
	genericObj  = reflect.TypeOf(map[string]interface{}(nil))
)

type Unmarshaler struct {
	resolver StubResolver
	registry *Registry
}

func NewUnmarshaler(resolver StubResolver, registry *Registry) *Unmarshaler {
	if registry == nil {
		registry = DefaultRegistry
	}
	return &Unmarshaler{resolver, registry}
}

// Unmarshal decodes v into a new value of type t.
func (u *Unmarshaler) Unmarshal(v wire.Value, t reflect.Type) (reflect.Value, error) {
	return u.decode(v, t, 0)
}

// UnmarshalInto decodes v into the value dst points to.
func (u *Unmarshaler) UnmarshalInto(v wire.Value, dst interface{}) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.Errorf("unmarshal: destination must be a non-nil pointer, got %T", dst)
	}
	dv, err := u.decode(v, rv.Type().Elem(), 0)
	if err != nil {
		return err
	}
	rv.Elem().Set(dv)
	return nil
}

func (u *Unmarshaler) decode(v wire.Value, t reflect.Type, depth int) (reflect.Value, error) {
	if depth > MaxDepth {
		return reflect.Value{}, ErrTooDeep
	}
	if v.Kind == wire.KindNil {
		return reflect.Zero(t), nil
	}
	if v.Kind == wire.KindStub {
		return u.decodeStub(v, t)
	}

	if t.Kind() == reflect.Interface {
		concrete := u.concreteType(v)
		if !concrete.Implements(t) {
			return reflect.Value{}, &UnmarshalTypeError{v.Kind, t}
		}
		cv, err := u.decode(v, concrete, depth+1)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(t).Elem()
		out.Set(cv)
		return out, nil
	}

	out := reflect.New(t).Elem()
	if err := u.decodeInto(v, out, depth); err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}

func (u *Unmarshaler) decodeStub(v wire.Value, t reflect.Type) (reflect.Value, error) {
	if u.resolver == nil {
		return reflect.Value{}, errors.Errorf("unmarshal: no resolver for stub %s", v.Stub)
	}
	obj, err := u.resolver.ResolveStub(v.Stub, v.Type)
	if err != nil {
		return reflect.Value{}, errors.Wrapf(err, "resolve stub %s", v.Stub)
	}
	ov := reflect.ValueOf(obj)
	if !ov.IsValid() || !ov.Type().AssignableTo(t) {
		return reflect.Value{}, errors.Errorf("unmarshal: stub %s of type %q resolved to %T, not assignable to %s", v.Stub, v.Type, obj, t)
	}
	out := reflect.New(t).Elem()
	out.Set(ov)
	return out, nil
}

// concreteType picks the type to decode v into when the destination is an interface.
func (u *Unmarshaler) concreteType(v wire.Value) reflect.Type {
	if v.Type != "" {
		if t, ok := u.registry.lookup(v.Type); ok {
			return t
		}
	}
	switch v.Kind {
	case wire.KindBool:
		return reflect.TypeOf(false)
	case wire.KindInt:
		return reflect.TypeOf(int64(0))
	case wire.KindUint:
		return reflect.TypeOf(uint64(0))
	case wire.KindFloat:
		return reflect.TypeOf(float64(0))
	case wire.KindStr:
		return reflect.TypeOf("")
	case wire.KindBytes:
		return bytesType
	case wire.KindList:
		return genericList
	case wire.KindMap:
		for _, e := range v.Entries {
			if e.Key.Kind != wire.KindStr {
				return genericMap
			}
		}
		return genericObj
	case wire.KindStruct:
		return genericObj
	default:
		return ifaceType
	}
}

func (u *Unmarshaler) decodeInto(v wire.Value, out reflect.Value, depth int) error {
	t := out.Type()
	mismatch := func() error { return &UnmarshalTypeError{v.Kind, t} }

	switch t.Kind() {
	case reflect.Ptr:
		p := reflect.New(t.Elem())
		if err := u.decodeInto(v, p.Elem(), depth+1); err != nil {
			return err
		}
		out.Set(p)
	case reflect.Bool:
		if v.Kind != wire.KindBool {
			return mismatch()
		}
		out.SetBool(v.Bool)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var i int64
		switch v.Kind {
		case wire.KindInt:
			i = v.Int
		case wire.KindUint:
			if v.Uint > math.MaxInt64 {
				return errors.Errorf("unmarshal: %d overflows %s", v.Uint, t)
			}
			i = int64(v.Uint)
		default:
			return mismatch()
		}
		if out.OverflowInt(i) {
			return errors.Errorf("unmarshal: %d overflows %s", i, t)
		}
		out.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		var n uint64
		switch v.Kind {
		case wire.KindUint:
			n = v.Uint
		case wire.KindInt:
			if v.Int < 0 {
				return errors.Errorf("unmarshal: %d overflows %s", v.Int, t)
			}
			n = uint64(v.Int)
		default:
			return mismatch()
		}
		if out.OverflowUint(n) {
			return errors.Errorf("unmarshal: %d overflows %s", n, t)
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		switch v.Kind {
		case wire.KindFloat:
			out.SetFloat(v.Float)
		case wire.KindInt:
			out.SetFloat(float64(v.Int))
		case wire.KindUint:
			out.SetFloat(float64(v.Uint))
		default:
			return mismatch()
		}
	case reflect.String:
		if v.Kind != wire.KindStr {
			return mismatch()
		}
		out.SetString(v.Str)
	case reflect.Slice:
		if v.Kind == wire.KindBytes && t.Elem().Kind() == reflect.Uint8 {
			b := reflect.MakeSlice(t, len(v.Bytes), len(v.Bytes))
			reflect.Copy(b, reflect.ValueOf(v.Bytes))
			out.Set(b)
			return nil
		}
		if v.Kind != wire.KindList {
			return mismatch()
		}
		s := reflect.MakeSlice(t, len(v.Elems), len(v.Elems))
		for i, e := range v.Elems {
			ev, err := u.decode(e, t.Elem(), depth+1)
			if err != nil {
				return errors.Wrapf(err, "index %d", i)
			}
			s.Index(i).Set(ev)
		}
		out.Set(s)
	case reflect.Array:
		switch v.Kind {
		case wire.KindBytes:
			if t.Elem().Kind() != reflect.Uint8 || len(v.Bytes) != t.Len() {
				return mismatch()
			}
			reflect.Copy(out, reflect.ValueOf(v.Bytes))
		case wire.KindList:
			if len(v.Elems) != t.Len() {
				return errors.Errorf("unmarshal: list of %d elements does not fit %s", len(v.Elems), t)
			}
			for i, e := range v.Elems {
				ev, err := u.decode(e, t.Elem(), depth+1)
				if err != nil {
					return errors.Wrapf(err, "index %d", i)
				}
				out.Index(i).Set(ev)
			}
		default:
			return mismatch()
		}
	case reflect.Map:
		m := reflect.MakeMapWithSize(t, len(v.Entries)+len(v.Fields))
		switch v.Kind {
		case wire.KindMap:
			for _, e := range v.Entries {
				kv, err := u.decode(e.Key, t.Key(), depth+1)
				if err != nil {
					return errors.Wrap(err, "map key")
				}
				if kv.Kind() == reflect.Interface && !kv.IsNil() {
					if !kv.Elem().Type().Comparable() {
						return errors.Errorf("unmarshal: map key of type %s is not comparable", kv.Elem().Type())
					}
				}
				ev, err := u.decode(e.Value, t.Elem(), depth+1)
				if err != nil {
					return errors.Wrap(err, "map value")
				}
				m.SetMapIndex(kv, ev)
			}
		case wire.KindStruct:
			if t.Key().Kind() != reflect.String {
				return mismatch()
			}
			for _, f := range v.Fields {
				ev, err := u.decode(f.Value, t.Elem(), depth+1)
				if err != nil {
					return errors.Wrapf(err, "field %s", f.Name)
				}
				m.SetMapIndex(reflect.ValueOf(f.Name).Convert(t.Key()), ev)
			}
		default:
			return mismatch()
		}
		out.Set(m)
	case reflect.Struct:
		if v.Kind != wire.KindStruct {
			return mismatch()
		}
		for _, f := range v.Fields {
			sf, ok := t.FieldByName(f.Name)
			if !ok || !sf.IsExported() || len(sf.Index) != 1 {
				continue
			}
			fv, err := u.decode(f.Value, sf.Type, depth+1)
			if err != nil {
				return errors.Wrapf(err, "field %s", f.Name)
			}
			out.Field(sf.Index[0]).Set(fv)
		}
	case reflect.Interface:
		dv, err := u.decode(v, t, depth+1)
		if err != nil {
			return err
		}
		out.Set(dv)
	default:
		return &UnsupportedTypeError{t}
	}
	return nil
}
