package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/rmi/conn"
	"github.com/asyncrmi/asyncrmi/rmi/wire"
	"github.com/asyncrmi/asyncrmi/transport"
	"github.com/asyncrmi/asyncrmi/util/future"
	"github.com/asyncrmi/asyncrmi/util/socketpair"
)

func connConfig() conn.Config {
	return conn.Config{ConnectTimeout: 5 * time.Second, CallTimeout: 5 * time.Second}
}

var echo = conn.DispatcherFunc(func(ctx context.Context, inv *wire.Invocation) (wire.Value, error) {
	return wire.String(inv.Method), nil
})

// pairConnecter hands out one end of a socket pair and serves the other.
type pairConnecter struct {
	t        *testing.T
	delay    time.Duration
	fail     error
	dispatch conn.Dispatcher
	mtx      sync.Mutex
	dials    int
	servers  []*conn.Conn
}

func (c *pairConnecter) Connect(ctx context.Context) (transport.Wire, error) {
	c.mtx.Lock()
	c.dials++
	c.mtx.Unlock()
	if c.fail != nil {
		return nil, c.fail
	}
	time.Sleep(c.delay)
	a, b, err := socketpair.SocketPair()
	if err != nil {
		return nil, err
	}
	d := c.dispatch
	if d == nil {
		d = echo
	}
	srv := conn.NewServer(b, "client", connConfig(), d, logger.NewTestLogger(c.t))
	srv.Connect(context.Background())
	c.mtx.Lock()
	c.servers = append(c.servers, srv)
	c.mtx.Unlock()
	return a, nil
}

func (c *pairConnecter) Dials() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.dials
}

func (c *pairConnecter) closeAll() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for _, s := range c.servers {
		s.Close()
	}
}

func newTestPool(t *testing.T, cfg Config) (*Pool, *pairConnecter) {
	return newTestPoolWith(t, cfg, &pairConnecter{t: t})
}

func newTestPoolWith(t *testing.T, cfg Config, pc *pairConnecter) (*Pool, *pairConnecter) {
	f := NewFactory("pair", pc, connConfig(), logger.NewTestLogger(t))
	p := New("pair", f, cfg, logger.NewTestLogger(t))
	t.Cleanup(func() {
		p.Close()
		pc.closeAll()
	})
	return p, pc
}

func get(t *testing.T, f *future.Future[*conn.Conn]) (*conn.Conn, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := f.Get(ctx)
	require.NotEqual(t, context.DeadlineExceeded, err, "acquire did not complete")
	return c, err
}

func TestAcquireReusesReleased(t *testing.T) {
	p, pc := newTestPool(t, Config{MaxSize: 4})

	c1, err := get(t, p.Acquire(context.Background()))
	require.NoError(t, err)
	assert.True(t, c1.State().Usable())
	assert.Equal(t, Stats{Conns: 1}, p.Stats())

	p.Release(c1)
	assert.Equal(t, Stats{Conns: 1, Idle: 1}, p.Stats())

	c2, err := get(t, p.Acquire(context.Background()))
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, pc.Dials())

	// an acquired connection is not handed out twice while there is room
	c3, err := get(t, p.Acquire(context.Background()))
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)
	assert.Equal(t, 2, pc.Dials())

	v, err := c3.Send(&wire.Invocation{Method: "ping"}).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ping", v.Str)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	p, pc := newTestPool(t, Config{MaxSize: 1})

	c1, err := get(t, p.Acquire(context.Background()))
	require.NoError(t, err)

	f := p.Acquire(context.Background())
	assert.Equal(t, future.Pending, f.State())
	assert.Equal(t, 1, p.Stats().Waiting)

	p.Release(c1)
	c2, err := get(t, f)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, pc.Dials())
	assert.Equal(t, 0, p.Stats().Waiting)
}

func TestReleaseOfClosedDoesNotRepopulate(t *testing.T) {
	p, pc := newTestPool(t, Config{MaxSize: 1})

	c1, err := get(t, p.Acquire(context.Background()))
	require.NoError(t, err)
	waiting := p.Acquire(context.Background())

	require.NoError(t, c1.Close())
	p.Release(c1)

	// the closed connection freed its slot for the waiter
	c2, err := get(t, waiting)
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
	assert.True(t, c2.State().Usable())
	assert.Equal(t, 2, pc.Dials())
	assert.Eventually(t, func() bool { return p.Stats() == Stats{Conns: 1} }, 5*time.Second, 10*time.Millisecond)
}

func TestAcquireSkipsIdleConnectionThatClosed(t *testing.T) {
	p, _ := newTestPool(t, Config{MaxSize: 2})

	c1, err := get(t, p.Acquire(context.Background()))
	require.NoError(t, err)
	p.Release(c1)
	require.NoError(t, c1.Close())

	c2, err := get(t, p.Acquire(context.Background()))
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
	assert.True(t, c2.State().Usable())
}

func TestWaiterContextCancelled(t *testing.T) {
	p, _ := newTestPool(t, Config{MaxSize: 1})
	_, err := get(t, p.Acquire(context.Background()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f := p.Acquire(ctx)
	cancel()
	_, err = get(t, f)
	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 0, p.Stats().Waiting)

	f = p.Acquire(context.Background())
	require.True(t, f.Cancel())
	assert.Equal(t, 0, p.Stats().Waiting)
}

func TestCancelledWaiterDetachesFromContext(t *testing.T) {
	p, _ := newTestPool(t, Config{MaxSize: 1})
	_, err := get(t, p.Acquire(context.Background()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := p.Acquire(ctx)
	p.mtx.Lock()
	require.Len(t, p.waiters, 1)
	w := p.waiters[0]
	p.mtx.Unlock()

	require.True(t, f.Cancel())
	assert.Equal(t, 0, p.Stats().Waiting)
	// the context callback was already deregistered by the cancel hook
	assert.False(t, w.stop())

	cancel()
	assert.Equal(t, future.Cancelled, f.State())
	assert.Equal(t, 0, p.Stats().Waiting)
}

func TestBuildFailure(t *testing.T) {
	p, pc := newTestPool(t, Config{MaxSize: 1})
	pc.fail = errors.New("connection refused")

	_, err := get(t, p.Acquire(context.Background()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, Stats{}, p.Stats())

	// the slot was returned
	pc.fail = nil
	c, err := get(t, p.Acquire(context.Background()))
	require.NoError(t, err)
	assert.True(t, c.State().Usable())
}

func TestIdleConnectionsAreReaped(t *testing.T) {
	p, _ := newTestPool(t, Config{MaxSize: 1, IdleTimeout: 50 * time.Millisecond})
	c, err := get(t, p.Acquire(context.Background()))
	require.NoError(t, err)
	p.Release(c)

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("idle connection was not closed")
	}
	assert.Eventually(t, func() bool { return p.Stats() == Stats{} }, 5*time.Second, 10*time.Millisecond)
}

func TestReaperKeepsConnectionWithCallsInFlight(t *testing.T) {
	slow := conn.DispatcherFunc(func(ctx context.Context, inv *wire.Invocation) (wire.Value, error) {
		select {
		case <-time.After(600 * time.Millisecond):
		case <-ctx.Done():
			return wire.Value{}, ctx.Err()
		}
		return wire.String(inv.Method), nil
	})
	p, pc := newTestPoolWith(t, Config{MaxSize: 1, IdleTimeout: 100 * time.Millisecond}, &pairConnecter{t: t, dispatch: slow})

	c, err := get(t, p.Acquire(context.Background()))
	require.NoError(t, err)
	res := c.Send(&wire.Invocation{Method: "slow"})
	// released right after sending, like Client.Invoke does
	p.Release(c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := res.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "slow", v.Str)
	assert.True(t, c.State().Usable())

	c2, err := get(t, p.Acquire(context.Background()))
	require.NoError(t, err)
	assert.Same(t, c, c2)
	assert.Equal(t, 1, pc.Dials())
	p.Release(c2)

	// once idle for real, the connection is reaped
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("idle connection was not closed")
	}
}

func TestClose(t *testing.T) {
	p, _ := newTestPool(t, Config{MaxSize: 1})
	c, err := get(t, p.Acquire(context.Background()))
	require.NoError(t, err)
	waiting := p.Acquire(context.Background())

	require.NoError(t, p.Close())
	_, err = get(t, waiting)
	assert.Equal(t, ErrPoolClosed, err)
	<-c.Done()

	_, err = get(t, p.Acquire(context.Background()))
	assert.Equal(t, ErrPoolClosed, err)
	require.NoError(t, p.Close())
}

func TestConcurrentAcquireRespectsMaxSize(t *testing.T) {
	const max = 3
	p, pc := newTestPool(t, Config{MaxSize: max})

	var inUse, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := get(t, p.Acquire(context.Background()))
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inUse, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inUse, -1)
			p.Release(c)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, int(peak), max)
	assert.LessOrEqual(t, pc.Dials(), max)
}
