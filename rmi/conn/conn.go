// Package conn implements an asyncrmi connection: the handshake gate,
// multiplexing of concurrent invocations over one transport, and the
// server side dispatch of inbound invocations.
//
// Every Conn runs a read loop, a write loop, an event loop and a
// heartbeat sender. The event loop is the only goroutine that touches
// the table of pending invocations and the table of active inbound
// invocations; other goroutines post closures to it.
package conn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/asyncrmi/asyncrmi/logger"
	"github.com/asyncrmi/asyncrmi/rmi/handshake"
	"github.com/asyncrmi/asyncrmi/rmi/wire"
	"github.com/asyncrmi/asyncrmi/transport"
	"github.com/asyncrmi/asyncrmi/util/future"
	"github.com/asyncrmi/asyncrmi/util/timeoutconn"
)

type Logger = logger.Logger

// Dispatcher executes inbound invocations. Dispatch is called on its
// own goroutine; ctx is cancelled if the caller cancels the invocation
// or the connection closes. A returned *RemoteError is forwarded as is,
// other errors are reported with their Go type.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv *wire.Invocation) (wire.Value, error)
}

type DispatcherFunc func(ctx context.Context, inv *wire.Invocation) (wire.Value, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, inv *wire.Invocation) (wire.Value, error) {
	return f(ctx, inv)
}

const readBufSize = 32 * 1024

type Conn struct {
	role       handshake.Role
	endpoint   string
	raw        transport.Wire
	wire       *timeoutconn.Conn
	cfg        Config
	log        Logger
	dispatcher Dispatcher

	// cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc

	connectOnce sync.Once
	connected   *future.Future[*Conn]
	done        chan struct{}

	mtx     sync.Mutex
	state   State
	cause   error
	started bool

	nextID    atomic.Uint64
	dec       *wire.Decoder
	events    *mailbox[func()]
	writeq    *mailbox[[]byte]
	lastWrite atomic.Int64

	// owned by the event loop
	pending  map[uint64]*pendingInvocation
	active   map[uint64]*activeInvocation
	shutdown bool

	npending atomic.Int64
	nactive  atomic.Int64
}

// NewClient wraps a freshly dialed transport. The handshake starts
// with the first call to Connect.
func NewClient(w transport.Wire, endpoint string, cfg Config, log Logger) *Conn {
	return newConn(handshake.RoleClient, w, endpoint, cfg, nil, log)
}

// NewServer wraps an accepted transport. Inbound invocations are
// passed to d, which may be nil if this side does not serve calls.
func NewServer(w transport.Wire, endpoint string, cfg Config, d Dispatcher, log Logger) *Conn {
	return newConn(handshake.RoleServer, w, endpoint, cfg, d, log)
}

func newConn(role handshake.Role, w transport.Wire, endpoint string, cfg Config, d Dispatcher, log Logger) *Conn {
	if log == nil {
		log = logger.NewNullLogger()
	}
	idle := time.Duration(0)
	if cfg.HeartbeatInterval > 0 {
		idle = cfg.HeartbeatTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		role:       role,
		endpoint:   endpoint,
		raw:        w,
		wire:       timeoutconn.Wrap(w, idle),
		cfg:        cfg,
		log:        log.WithField("endpoint", endpoint).WithField("role", role.String()),
		dispatcher: d,
		ctx:        ctx,
		cancel:     cancel,
		connected:  future.New[*Conn](),
		done:       make(chan struct{}),
		state:      StateConnecting,
		dec:        wire.NewDecoder(cfg.RxFrameMax),
		events:     newMailbox[func()](),
		writeq:     newMailbox[[]byte](),
		pending:    make(map[uint64]*pendingInvocation),
		active:     make(map[uint64]*activeInvocation),
	}
	c.lastWrite.Store(time.Now().UnixNano())
	return c
}

func (c *Conn) String() string {
	return fmt.Sprintf("conn(%s %s)", c.role, c.endpoint)
}

func (c *Conn) Endpoint() string { return c.endpoint }

func (c *Conn) Role() handshake.Role { return c.role }

func (c *Conn) State() State {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.state
}

// Done is closed once the connection reached StateFailed or StateClosed
// and all pending invocations have been failed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the reason the connection failed or closed, nil while it is open.
func (c *Conn) Err() error {
	select {
	case <-c.done:
	default:
		return nil
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.cause
}

// Pending returns the number of outbound invocations awaiting a reply,
// including cancelled ones whose cancellation was not acknowledged yet.
func (c *Conn) Pending() int { return int(c.npending.Load()) }

// ActiveInvocations returns the number of inbound invocations being executed.
func (c *Conn) ActiveInvocations() int { return int(c.nactive.Load()) }

func (c *Conn) setState(s State) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.state.Terminal() {
		return
	}
	c.state = s
}

// setCause records the first reason for the connection to close and returns err.
func (c *Conn) setCause(err error) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.cause == nil {
		c.cause = err
	}
	return err
}

func (c *Conn) closedError() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return &ConnectionClosedError{Endpoint: c.endpoint, Cause: c.cause}
}

// Connect performs the handshake and returns a future that resolves to
// c once it is Ready. Subsequent calls return the same future.
// Cancelling the future closes the connection.
func (c *Conn) Connect(ctx context.Context) *future.Future[*Conn] {
	c.connectOnce.Do(func() {
		c.mtx.Lock()
		if c.started {
			// closed before Connect, the future already failed
			c.mtx.Unlock()
			return
		}
		c.started = true
		c.mtx.Unlock()
		c.connected.OnCancel(func() { go c.Close() })
		go c.connect(ctx)
	})
	return c.connected
}

func (c *Conn) observePhase(p handshake.Phase) {
	switch p {
	case handshake.PhaseAwaitingResponse:
		c.setState(StateAwaitingHandshakeResponse)
	case handshake.PhaseAwaitingRequest:
		c.setState(StateAwaitingHandshakeRequest)
	}
}

func (c *Conn) connect(ctx context.Context) {
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	var deadline time.Time
	if c.cfg.ConnectTimeout > 0 {
		deadline = time.Now().Add(c.cfg.ConnectTimeout)
	}
	m := handshake.NewMachine(c.role, handshake.Config{
		Version:      handshake.ProtocolVersion,
		Capabilities: c.cfg.Capabilities,
	})
	// the handshake runs on the raw wire, idle timeouts would override its deadline
	herr := handshake.Do(hctx, c.raw, c.dec, m, deadline, c.observePhase)
	if herr != nil {
		result := "failed"
		switch {
		case herr.Rejected:
			result = "rejected"
		case herr.Timeout():
			result = "timeout"
		}
		prom.handshakes.WithLabelValues(c.role.String(), result).Inc()
		c.log.WithError(herr).Warn("handshake failed")
		c.terminate(StateFailed, herr, herr)
		return
	}

	c.mtx.Lock()
	if c.ctx.Err() != nil {
		c.mtx.Unlock()
		c.terminate(StateClosed, errClosedLocally, nil)
		return
	}
	c.state = StateReady
	c.mtx.Unlock()
	prom.handshakes.WithLabelValues(c.role.String(), "accepted").Inc()
	c.log.Debug("handshake completed")

	go c.run()
	c.connected.Resolve(c)
}

// terminate ends a connection that never started its loops.
// connectErr is what waiters on Connect observe, a *ConnectionClosedError if nil.
func (c *Conn) terminate(state State, cause error, connectErr error) {
	c.setCause(cause)
	c.mtx.Lock()
	c.state = state
	c.mtx.Unlock()
	c.cancel()
	c.raw.Close()
	c.events.close()
	c.writeq.close()
	if connectErr == nil {
		connectErr = c.closedError()
	}
	c.connected.Fail(connectErr)
	close(c.done)
}

// Close closes the connection and waits until all pending invocations
// have been failed with a *ConnectionClosedError.
func (c *Conn) Close() error {
	c.setCause(errClosedLocally)
	c.mtx.Lock()
	if !c.started {
		c.started = true
		c.mtx.Unlock()
		c.terminate(StateClosed, errClosedLocally, nil)
		return nil
	}
	c.mtx.Unlock()
	c.cancel()
	<-c.done
	return nil
}

func (c *Conn) run() {
	prom.open.Inc()
	defer prom.open.Dec()

	g, ctx := errgroup.WithContext(c.ctx)
	g.Go(c.readLoop)
	g.Go(func() error { return c.writeLoop(ctx) })
	g.Go(func() error { return c.eventLoop(ctx) })
	if c.cfg.HeartbeatInterval > 0 {
		g.Go(func() error { return c.heartbeatLoop(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		// unblocks the read loop and pending writes
		c.wire.Close()
		return nil
	})
	_ = g.Wait()
	c.finish()
}

// finish runs after all loops exited and owns the event loop's state.
func (c *Conn) finish() {
	c.mtx.Lock()
	c.state = StateClosed
	cause := c.cause
	c.mtx.Unlock()

	c.writeq.close()
	c.shutdown = true
	for _, fn := range c.events.close() {
		fn()
	}
	closedErr := &ConnectionClosedError{Endpoint: c.endpoint, Cause: cause}
	for _, p := range c.pending {
		p.stopTimer()
		if p.state == InvocationPending {
			p.state = InvocationFailed
			p.fut.Fail(closedErr)
			prom.invocations.WithLabelValues("closed").Inc()
		}
		prom.pending.Dec()
	}
	c.pending = nil
	for _, a := range c.active {
		c.removeActive(a)
	}
	c.npending.Store(0)
	c.nactive.Store(0)
	c.cancel()

	log := c.log
	if cause != errClosedLocally {
		log = log.WithError(cause)
	}
	log.Debug("connection closed")
	close(c.done)
}

func (c *Conn) readLoop() error {
	buf := make([]byte, readBufSize)
	for {
		// the decoder may hold messages received along with the handshake
		for {
			msg, err := c.dec.Next()
			if err == wire.ErrNeedMore {
				break
			}
			if err != nil {
				c.log.WithError(err).Error("protocol error, closing connection")
				return c.setCause(err)
			}
			if err := c.receive(msg); err != nil {
				c.log.WithError(err).Error("protocol error, closing connection")
				return c.setCause(err)
			}
		}
		n, err := c.wire.Read(buf)
		if n > 0 {
			c.dec.Feed(buf[:n])
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				err = errors.Wrapf(err, "peer silent for %s", c.wire.IdleTimeout())
			}
			return c.setCause(errors.Wrap(err, "read"))
		}
	}
}

// receive routes msg to the event loop. Called on the read loop.
func (c *Conn) receive(msg wire.Message) error {
	switch m := msg.(type) {
	case *wire.Heartbeat:
		return nil
	case *wire.Invocation:
		c.events.put(func() { c.handleInvocation(m) })
	case *wire.Result:
		c.events.put(func() { c.handleReply(m.ID, m.Value, nil) })
	case *wire.Error:
		c.events.put(func() { c.handleReply(m.ID, wire.Value{}, &RemoteError{Type: m.Type, Message: m.Message}) })
	case *wire.Cancel:
		c.events.put(func() { c.handleCancel(m.ID) })
	default:
		return wire.NewProtocolError("unexpected %s message after handshake", msg.Tag())
	}
	return nil
}

func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.writeq.signal:
		}
		for _, frame := range c.writeq.take() {
			if _, err := c.wire.Write(frame); err != nil {
				return c.setCause(errors.Wrap(err, "write"))
			}
			c.lastWrite.Store(time.Now().UnixNano())
		}
	}
}

func (c *Conn) eventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.events.signal:
		}
		for _, fn := range c.events.take() {
			fn()
		}
	}
}

var heartbeatFrame = func() []byte {
	b, err := wire.Encode(&wire.Heartbeat{})
	if err != nil {
		panic(err)
	}
	return b
}()

func (c *Conn) heartbeatLoop(ctx context.Context) error {
	interval := c.cfg.HeartbeatInterval
	sleepTime := func(now time.Time) time.Duration {
		return time.Unix(0, c.lastWrite.Load()).Add(interval).Sub(now)
	}
	timer := time.NewTimer(sleepTime(time.Now()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-timer.C:
			if sleepTime(now) <= 0 {
				c.writeq.put(heartbeatFrame)
				// a blocked write loop must not make us queue heartbeats in a tight loop
				c.lastWrite.Store(now.UnixNano())
			}
			timer.Reset(sleepTime(time.Now()))
		}
	}
}

// updateBusy switches between Ready and Busy. Called on the event loop.
func (c *Conn) updateBusy() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if !c.state.Usable() {
		return
	}
	if len(c.pending)+len(c.active) > 0 {
		c.state = StateBusy
	} else {
		c.state = StateReady
	}
}
