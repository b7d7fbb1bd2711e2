// Package pool reuses ready connections to a single endpoint.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/rmi/conn"
	"github.com/asyncrmi/asyncrmi/util/future"
	"github.com/asyncrmi/asyncrmi/util/semaphore"
)

type Logger = logger.Logger

var ErrPoolClosed = errors.New("connection pool closed")

type Config struct {
	// Maximum number of connections, including those being built.
	MaxSize int
	// Idle connections are closed after IdleTimeout. Zero keeps them open.
	IdleTimeout time.Duration
}

type idleConn struct {
	c        *conn.Conn
	lastUsed time.Time
}

type waiter struct {
	ctx  context.Context
	fut  *future.Future[*conn.Conn]
	stop func() bool
}

// Pool hands out connections to one endpoint. A connection obtained by
// Acquire stays usable by other goroutines; Release only marks it as
// available for the next Acquire.
type Pool struct {
	endpoint string
	builder  Builder
	cfg      Config
	log      Logger
	slots    *semaphore.S

	mtx     sync.Mutex
	closed  bool
	live    map[*conn.Conn]struct{}
	idle    []idleConn // least recently used first
	waiters []*waiter

	reaperDone chan struct{}
	stopReaper context.CancelFunc
}

func New(endpoint string, builder Builder, cfg Config, log Logger) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		endpoint:   endpoint,
		builder:    builder,
		cfg:        cfg,
		log:        log.WithField("endpoint", endpoint),
		slots:      semaphore.New(int64(cfg.MaxSize)),
		live:       make(map[*conn.Conn]struct{}),
		reaperDone: make(chan struct{}),
		stopReaper: cancel,
	}
	go p.reaper(ctx)
	return p
}

func (p *Pool) Endpoint() string { return p.endpoint }

// Acquire returns a future for a Ready connection: an idle one if
// available, else a new one if MaxSize permits, else the next one
// released. ctx bounds the wait and the build of a new connection.
func (p *Pool) Acquire(ctx context.Context) *future.Future[*conn.Conn] {
	p.mtx.Lock()
	if p.closed {
		p.mtx.Unlock()
		return future.Errored[*conn.Conn](ErrPoolClosed)
	}
	if c := p.popIdleLocked(); c != nil {
		p.mtx.Unlock()
		prom.acquires.WithLabelValues("idle").Inc()
		return future.Completed(c)
	}
	fut := future.New[*conn.Conn]()
	if g := p.slots.TryAcquire(); g != nil {
		p.mtx.Unlock()
		prom.acquires.WithLabelValues("built").Inc()
		p.build(ctx, g, fut)
		return fut
	}
	w := &waiter{ctx: ctx, fut: fut}
	w.stop = context.AfterFunc(ctx, func() {
		p.removeWaiter(w)
		fut.Fail(ctx.Err())
	})
	p.waiters = append(p.waiters, w)
	p.mtx.Unlock()
	prom.acquires.WithLabelValues("waited").Inc()
	p.log.WithField("slots", fmt.Sprintf("%d/%d", p.slots.InUse(), p.slots.Max())).
		Debug("pool exhausted, waiting for a connection")

	fut.OnCancel(func() {
		w.stopWaiting()
		p.removeWaiter(w)
	})
	return fut
}

func (p *Pool) build(ctx context.Context, g *semaphore.AcquireGuard, fut *future.Future[*conn.Conn]) {
	built := p.builder.Create(ctx)
	go func() {
		<-built.Done()
		c, err := built.Result()
		if err != nil {
			g.Release()
			p.log.WithError(err).Warn("cannot create connection")
			fut.Fail(err)
			p.serveWaiters()
			return
		}
		p.track(c, g)
		if !fut.Resolve(c) {
			// the caller gave up, keep the connection for others
			p.Release(c)
		}
	}()
}

// track holds the build slot g until c is closed.
func (p *Pool) track(c *conn.Conn, g *semaphore.AcquireGuard) {
	p.mtx.Lock()
	p.live[c] = struct{}{}
	closed := p.closed
	p.mtx.Unlock()
	prom.conns.Inc()
	if closed {
		go c.Close()
	}
	go func() {
		<-c.Done()
		p.mtx.Lock()
		delete(p.live, c)
		p.removeIdleLocked(c)
		p.mtx.Unlock()
		g.Release()
		prom.conns.Dec()
		p.log.WithError(c.Err()).Debug("pooled connection closed")
		p.serveWaiters()
	}()
}

// Release makes c available to the next Acquire. Connections that are
// no longer usable are dropped.
func (p *Pool) Release(c *conn.Conn) {
	if !c.State().Usable() {
		p.log.WithField("state", c.State().String()).Debug("discarding unusable connection")
		return
	}
	p.mtx.Lock()
	if _, ok := p.live[c]; !ok {
		p.mtx.Unlock()
		p.log.Warn("release of connection not owned by this pool")
		return
	}
	if p.closed {
		p.mtx.Unlock()
		return
	}
	for _, ic := range p.idle {
		if ic.c == c {
			p.mtx.Unlock()
			return
		}
	}
	p.idle = append(p.idle, idleConn{c, time.Now()})
	prom.idle.Inc()
	p.mtx.Unlock()
	p.serveWaiters()
}

// popIdleLocked returns the most recently released usable connection.
func (p *Pool) popIdleLocked() *conn.Conn {
	for len(p.idle) > 0 {
		ic := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		prom.idle.Dec()
		if ic.c.State().Usable() {
			return ic.c
		}
	}
	return nil
}

func (p *Pool) removeIdleLocked(c *conn.Conn) {
	for i, ic := range p.idle {
		if ic.c == c {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			prom.idle.Dec()
			return
		}
	}
}

func (p *Pool) removeWaiter(w *waiter) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for i, o := range p.waiters {
		if o == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

func (p *Pool) serveWaiters() {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for len(p.waiters) > 0 && !p.closed {
		w := p.waiters[0]
		if w.fut.State().Terminal() {
			p.waiters = p.waiters[1:]
			continue
		}
		if c := p.popIdleLocked(); c != nil {
			p.waiters = p.waiters[1:]
			w.stopWaiting()
			if !w.fut.Resolve(c) {
				p.idle = append(p.idle, idleConn{c, time.Now()})
				prom.idle.Inc()
			}
			continue
		}
		g := p.slots.TryAcquire()
		if g == nil {
			return
		}
		p.waiters = p.waiters[1:]
		w.stopWaiting()
		p.build(w.ctx, g, w.fut)
	}
}

func (w *waiter) stopWaiting() { w.stop() }

func busy(c *conn.Conn) bool {
	return c.State() == conn.StateBusy || c.Pending()+c.ActiveInvocations() > 0
}

func (p *Pool) reaper(ctx context.Context) {
	defer close(p.reaperDone)
	if p.cfg.IdleTimeout <= 0 {
		<-ctx.Done()
		return
	}
	interval := p.cfg.IdleTimeout / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			for _, c := range p.expired(now) {
				p.log.Debug("closing idle connection")
				go c.Close()
			}
		}
	}
}

func (p *Pool) expired(now time.Time) (expired []*conn.Conn) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	keep := p.idle[:0]
	for _, ic := range p.idle {
		if busy(ic.c) {
			// Release happens right after Send, calls may still be in flight
			ic.lastUsed = now
			keep = append(keep, ic)
			continue
		}
		if now.Sub(ic.lastUsed) >= p.cfg.IdleTimeout {
			expired = append(expired, ic.c)
			prom.idle.Dec()
		} else {
			keep = append(keep, ic)
		}
	}
	p.idle = keep
	return expired
}

type Stats struct {
	Conns   int
	Idle    int
	Waiting int
}

func (p *Pool) Stats() Stats {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return Stats{Conns: len(p.live), Idle: len(p.idle), Waiting: len(p.waiters)}
}

// Close fails all waiters and closes all connections of the pool,
// including those currently acquired.
func (p *Pool) Close() error {
	p.mtx.Lock()
	if p.closed {
		p.mtx.Unlock()
		return nil
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	prom.idle.Sub(float64(len(p.idle)))
	p.idle = nil
	live := make([]*conn.Conn, 0, len(p.live))
	for c := range p.live {
		live = append(live, c)
	}
	p.mtx.Unlock()

	p.stopReaper()
	<-p.reaperDone
	for _, w := range waiters {
		w.stopWaiting()
		w.fut.Fail(ErrPoolClosed)
	}
	var wg sync.WaitGroup
	for _, c := range live {
		wg.Add(1)
		go func(c *conn.Conn) {
			defer wg.Done()
			c.Close()
		}(c)
	}
	wg.Wait()
	return nil
}
