// Package export maintains the registry of local objects that can be
// invoked by remote peers.
//
// An Exporter is created once per process, handed to the marshaling
// layer and the server, and closed on shutdown. Exporting the same
// object twice yields the same stub.
package export

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/rmi/wire"
)

type Logger = logger.Logger

// Remote is implemented by values that are passed by reference:
// marshaling exports them and sends a stub in place of their state.
// Types implement Remote by embedding Object.
type Remote interface {
	remoteObject()
}

// Object is embedded by types whose values are passed by reference.
type Object struct{}

func (Object) remoteObject() {}

// StubHolder is implemented by Remote values that already are
// references to an exported object, e.g. client-side proxies.
type StubHolder interface {
	Remote
	Stub() wire.Stub
}

// ExportError is a non-I/O failure to export an object.
type ExportError struct {
	Type reflect.Type
	msg  string
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("cannot export object of type %s: %s", e.Type, e.msg)
}

func exportErr(obj interface{}, format string, args ...interface{}) *ExportError {
	return &ExportError{Type: reflect.TypeOf(obj), msg: fmt.Sprintf(format, args...)}
}

// identity is an explicit object identity token: the dynamic type and
// the address of the pointed-to value. The Exporter keeps the object
// reachable, so the address stays unique while the entry exists.
type identity struct {
	typ reflect.Type
	ptr uintptr
}

func identityOf(obj Remote) (identity, error) {
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Ptr {
		return identity{}, exportErr(obj, "remote objects must be pointers to have an identity")
	}
	if rv.IsNil() {
		return identity{}, exportErr(obj, "nil pointer")
	}
	if rv.Type().Elem().Size() == 0 {
		return identity{}, exportErr(obj, "zero-sized values share addresses and have no identity")
	}
	return identity{rv.Type(), rv.Pointer()}, nil
}

type entry struct {
	id         string
	obj        Remote
	ident      identity
	exportedAt time.Time
}

type EntryInfo struct {
	ObjectID   string
	Type       string
	ExportedAt time.Time
}

type Exporter struct {
	endpoint string
	log      Logger

	mtx        sync.Mutex
	byIdentity map[identity]*entry
	byID       map[string]*entry
	closed     bool
}

// NewExporter creates the registry for objects served at endpoint,
// the address peers use to reach this process.
// An empty endpoint means this process cannot serve calls: every
// Export fails with an *ExportError.
func NewExporter(endpoint string, log Logger) *Exporter {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Exporter{
		endpoint:   endpoint,
		log:        log,
		byIdentity: make(map[identity]*entry),
		byID:       make(map[string]*entry),
	}
}

func (e *Exporter) Endpoint() string { return e.endpoint }

func (e *Exporter) stub(ent *entry) wire.Stub {
	return wire.Stub{ObjectID: ent.id, Endpoint: e.endpoint}
}

// Export returns the stub for obj, registering obj on first use.
// Check and insert happen atomically, so concurrent exports of one
// object agree on the stub.
// All errors returned are *ExportError.
func (e *Exporter) Export(obj Remote) (wire.Stub, error) {
	return e.export("", obj)
}

// ExportAs exports obj under the well-known id, which peers can use
// to bootstrap without having received a stub first.
func (e *Exporter) ExportAs(id string, obj Remote) (wire.Stub, error) {
	if id == "" {
		return wire.Stub{}, exportErr(obj, "empty object id")
	}
	return e.export(id, obj)
}

func (e *Exporter) export(wantID string, obj Remote) (wire.Stub, error) {
	if h, ok := obj.(StubHolder); ok {
		return h.Stub(), nil
	}
	if e.endpoint == "" {
		return wire.Stub{}, exportErr(obj, "exporter has no endpoint, this process does not serve calls")
	}
	ident, err := identityOf(obj)
	if err != nil {
		return wire.Stub{}, err
	}

	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.closed {
		return wire.Stub{}, exportErr(obj, "exporter is closed")
	}
	if ent, ok := e.byIdentity[ident]; ok {
		if wantID != "" && wantID != ent.id {
			return wire.Stub{}, exportErr(obj, "object already exported as %q", ent.id)
		}
		return e.stub(ent), nil
	}
	id := wantID
	if id == "" {
		id = uuid.New().String()
	} else if _, taken := e.byID[id]; taken {
		return wire.Stub{}, exportErr(obj, "object id %q is taken", id)
	}
	ent := &entry{
		id:         id,
		obj:        obj,
		ident:      ident,
		exportedAt: time.Now(),
	}
	e.byIdentity[ident] = ent
	e.byID[id] = ent
	prom.exports.Inc()
	prom.exported.Inc()
	e.log.WithField("object_id", id).WithField("type", ident.typ.String()).Debug("exported object")
	return e.stub(ent), nil
}

// Unexport removes obj from the registry. Peers holding its stub
// observe failures on subsequent calls.
func (e *Exporter) Unexport(obj Remote) bool {
	ident, err := identityOf(obj)
	if err != nil {
		return false
	}
	e.mtx.Lock()
	defer e.mtx.Unlock()
	ent, ok := e.byIdentity[ident]
	if !ok {
		return false
	}
	e.remove(ent)
	return true
}

// callers must hold mtx
func (e *Exporter) remove(ent *entry) {
	delete(e.byIdentity, ent.ident)
	delete(e.byID, ent.id)
	prom.exported.Dec()
	e.log.WithField("object_id", ent.id).Debug("unexported object")
}

// Lookup returns the local object exported under id.
func (e *Exporter) Lookup(id string) (Remote, bool) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	ent, ok := e.byID[id]
	if !ok {
		return nil, false
	}
	return ent.obj, true
}

// Resolve returns the local object for stub if it was exported by this Exporter.
func (e *Exporter) Resolve(stub wire.Stub) (Remote, bool) {
	if e.endpoint == "" || stub.Endpoint != e.endpoint {
		return nil, false
	}
	return e.Lookup(stub.ObjectID)
}

func (e *Exporter) Info(obj Remote) (EntryInfo, bool) {
	ident, err := identityOf(obj)
	if err != nil {
		return EntryInfo{}, false
	}
	e.mtx.Lock()
	defer e.mtx.Unlock()
	ent, ok := e.byIdentity[ident]
	if !ok {
		return EntryInfo{}, false
	}
	return EntryInfo{ent.id, ent.ident.typ.String(), ent.exportedAt}, true
}

func (e *Exporter) Len() int {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return len(e.byID)
}

// Close unexports all objects. Later exports fail.
func (e *Exporter) Close() {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	for _, ent := range e.byID {
		e.remove(ent)
	}
	e.closed = true
}
