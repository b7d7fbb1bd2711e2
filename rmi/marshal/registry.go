package marshal

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// Registry maps type annotations to concrete Go types.
//
// The sending side annotates every non-primitive value with the name of
// its type. When the receiving side decodes into an interface, it uses
// the registered type of that name, or a generic representation if the
// name is unknown.
type Registry struct {
	mtx   sync.RWMutex
	types map[string]reflect.Type
	names map[reflect.Type]string
}

func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]reflect.Type),
		names: make(map[reflect.Type]string),
	}
}

// DefaultRegistry is used by Marshalers and Unmarshalers created with a nil Registry.
var DefaultRegistry = NewRegistry()

// Register registers the type of v with DefaultRegistry under its default name.
func Register(v interface{}) {
	DefaultRegistry.Register(v)
}

func (r *Registry) Register(v interface{}) {
	t := reflect.TypeOf(v)
	if err := r.RegisterName(defaultName(indirectType(t)), v); err != nil {
		panic(err)
	}
}

// RegisterName registers the type of v under name. If v is a pointer,
// values annotated with name decode to pointers.
func (r *Registry) RegisterName(name string, v interface{}) error {
	t := reflect.TypeOf(v)
	if t == nil {
		return errors.New("cannot register nil")
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if prev, ok := r.types[name]; ok && prev != t {
		return errors.Errorf("type name %q already registered for %s", name, prev)
	}
	r.types[name] = t
	r.names[indirectType(t)] = name
	return nil
}

func (r *Registry) lookup(name string) (reflect.Type, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// nameOf returns the annotation for values of t.
func (r *Registry) nameOf(t reflect.Type) string {
	r.mtx.RLock()
	name, ok := r.names[t]
	r.mtx.RUnlock()
	if ok {
		return name
	}
	return defaultName(t)
}

func defaultName(t reflect.Type) string {
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

func indirectType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
