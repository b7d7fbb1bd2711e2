package export

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/rmi/wire"
)

type counter struct {
	Object
	n int
}

type empty struct {
	Object
}

type holder struct {
	Object
	stub wire.Stub
}

func (h *holder) Stub() wire.Stub { return h.stub }

func newTestExporter(t *testing.T) *Exporter {
	return NewExporter("127.0.0.1:4242", logger.NewTestLogger(t))
}

func TestExportIsIdempotentPerIdentity(t *testing.T) {
	e := newTestExporter(t)
	a, b := &counter{}, &counter{}

	s1, err := e.Export(a)
	require.NoError(t, err)
	s2, err := e.Export(a)
	require.NoError(t, err)
	s3, err := e.Export(b)
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
	assert.NotEqual(t, s1.ObjectID, s3.ObjectID)
	assert.Equal(t, "127.0.0.1:4242", s1.Endpoint)
	assert.Equal(t, 2, e.Len())

	obj, ok := e.Lookup(s1.ObjectID)
	require.True(t, ok)
	assert.Same(t, a, obj)
}

func TestExportConcurrentAgreesOnStub(t *testing.T) {
	e := newTestExporter(t)
	obj := &counter{}
	const n = 32
	stubs := make([]wire.Stub, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := e.Export(obj)
			assert.NoError(t, err)
			stubs[i] = s
		}(i)
	}
	wg.Wait()
	for _, s := range stubs {
		assert.Equal(t, stubs[0], s)
	}
	assert.Equal(t, 1, e.Len())
}

func TestExportErrors(t *testing.T) {
	var eerr *ExportError

	_, err := NewExporter("", nil).Export(&counter{})
	require.ErrorAs(t, err, &eerr)

	e := newTestExporter(t)
	_, err = e.Export(&empty{})
	require.ErrorAs(t, err, &eerr)
	assert.Contains(t, err.Error(), "zero-sized")

	_, err = e.Export(counter{})
	require.ErrorAs(t, err, &eerr)

	var nilCounter *counter
	_, err = e.Export(nilCounter)
	require.ErrorAs(t, err, &eerr)
}

func TestExportStubHolderPassesThrough(t *testing.T) {
	e := newTestExporter(t)
	want := wire.Stub{ObjectID: "abc", Endpoint: "elsewhere:1"}
	got, err := e.Export(&holder{stub: want})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 0, e.Len())
}

func TestExportAs(t *testing.T) {
	e := newTestExporter(t)
	a, b := &counter{}, &counter{}

	s, err := e.ExportAs("counter", a)
	require.NoError(t, err)
	assert.Equal(t, "counter", s.ObjectID)

	s2, err := e.Export(a)
	require.NoError(t, err)
	assert.Equal(t, s, s2)

	_, err = e.ExportAs("counter", b)
	assert.Error(t, err)
	_, err = e.ExportAs("other", a)
	assert.Error(t, err)
	_, err = e.ExportAs("", b)
	assert.Error(t, err)
}

func TestUnexportAndResolve(t *testing.T) {
	e := newTestExporter(t)
	a := &counter{}
	s, err := e.Export(a)
	require.NoError(t, err)

	obj, ok := e.Resolve(s)
	require.True(t, ok)
	assert.Same(t, a, obj)
	_, ok = e.Resolve(wire.Stub{ObjectID: s.ObjectID, Endpoint: "other:1"})
	assert.False(t, ok)

	info, ok := e.Info(a)
	require.True(t, ok)
	assert.Equal(t, s.ObjectID, info.ObjectID)
	assert.False(t, info.ExportedAt.IsZero())

	assert.True(t, e.Unexport(a))
	assert.False(t, e.Unexport(a))
	_, ok = e.Lookup(s.ObjectID)
	assert.False(t, ok)

	s3, err := e.Export(a)
	require.NoError(t, err)
	assert.NotEqual(t, s.ObjectID, s3.ObjectID)
}

func TestClose(t *testing.T) {
	e := newTestExporter(t)
	_, err := e.Export(&counter{})
	require.NoError(t, err)
	e.Close()
	assert.Equal(t, 0, e.Len())
	_, err = e.Export(&counter{})
	var eerr *ExportError
	assert.ErrorAs(t, err, &eerr)
}
