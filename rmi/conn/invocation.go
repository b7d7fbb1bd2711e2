package conn

import (
	"context"
	"fmt"
	"time"

	"github.com/asyncrmi/asyncrmi/rmi/wire"
	"github.com/asyncrmi/asyncrmi/util/future"
)

// defaultCancelReap bounds how long a cancelled invocation waits for a
// late reply if no call timeout is configured.
const defaultCancelReap = 30 * time.Second

type pendingInvocation struct {
	id     uint64
	method string
	fut    *future.Future[wire.Value]
	state  InvocationState
	timer  *time.Timer
}

func (p *pendingInvocation) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

type activeInvocation struct {
	id     uint64
	cancel context.CancelFunc
}

// Send assigns inv a fresh invocation id, writes it to the peer and
// returns a future for its result. Cancelling the future sends a Cancel
// to the peer; replies arriving after that are discarded.
//
// The future fails with a *RemoteError if the peer reported a failure,
// a *TimeoutError once the call timeout elapsed and a
// *ConnectionClosedError if the connection closed first.
func (c *Conn) Send(inv *wire.Invocation) *future.Future[wire.Value] {
	if s := c.State(); !s.Usable() {
		if s.Terminal() {
			return future.Errored[wire.Value](c.closedError())
		}
		return future.Errored[wire.Value](ErrNotReady)
	}
	inv.ID = c.nextID.Add(1)
	frame, err := wire.Encode(inv)
	if err != nil {
		return future.Errored[wire.Value](err)
	}
	p := &pendingInvocation{
		id:     inv.ID,
		method: inv.Method,
		fut:    future.New[wire.Value](),
	}
	if !c.events.put(func() { c.startInvocation(p, frame) }) {
		p.fut.Fail(c.closedError())
		return p.fut
	}
	p.fut.OnCancel(func() {
		c.events.put(func() { c.cancelInvocation(p) })
	})
	return p.fut
}

func (c *Conn) startInvocation(p *pendingInvocation, frame []byte) {
	if c.shutdown {
		p.fut.Fail(c.closedError())
		return
	}
	if p.fut.State() == future.Cancelled {
		return
	}
	c.pending[p.id] = p
	c.npending.Add(1)
	prom.pending.Inc()
	if c.cfg.CallTimeout > 0 {
		p.timer = time.AfterFunc(c.cfg.CallTimeout, func() {
			c.events.put(func() { c.expire(p) })
		})
	}
	c.writeq.put(frame)
	c.updateBusy()
}

func (c *Conn) removePending(p *pendingInvocation) {
	p.stopTimer()
	delete(c.pending, p.id)
	c.npending.Add(-1)
	prom.pending.Dec()
}

func (c *Conn) sendCancel(id uint64) {
	frame, err := wire.Encode(&wire.Cancel{ID: id})
	if err != nil {
		panic(err) // fixed size message
	}
	c.writeq.put(frame)
	prom.cancelsSent.Inc()
}

func (c *Conn) cancelInvocation(p *pendingInvocation) {
	if c.shutdown || c.pending[p.id] != p || p.state != InvocationPending {
		return
	}
	p.stopTimer()
	p.state = InvocationCancelRequested
	prom.invocations.WithLabelValues("cancelled").Inc()
	c.log.WithField("invocation", p.id).Debug("cancelling invocation")
	c.sendCancel(p.id)

	reap := c.cfg.CallTimeout
	if reap <= 0 {
		reap = defaultCancelReap
	}
	p.timer = time.AfterFunc(reap, func() {
		c.events.put(func() { c.reapCancelled(p) })
	})
}

func (c *Conn) reapCancelled(p *pendingInvocation) {
	if c.shutdown || c.pending[p.id] != p || p.state != InvocationCancelRequested {
		return
	}
	c.removePending(p)
	c.updateBusy()
}

func (c *Conn) expire(p *pendingInvocation) {
	if c.shutdown || c.pending[p.id] != p || p.state != InvocationPending {
		return
	}
	c.removePending(p)
	p.state = InvocationFailed
	p.fut.Fail(&TimeoutError{
		Op:       fmt.Sprintf("invocation %d (%s) on", p.id, p.method),
		Endpoint: c.endpoint,
		After:    c.cfg.CallTimeout,
	})
	prom.invocations.WithLabelValues("timeout").Inc()
	if c.cfg.CancelOnTimeout {
		c.sendCancel(p.id)
	}
	c.updateBusy()
}

func (c *Conn) handleReply(id uint64, v wire.Value, rerr *RemoteError) {
	p, ok := c.pending[id]
	if !ok {
		// already timed out or reaped
		c.log.WithField("invocation", id).Debug("dropping reply for unknown invocation")
		prom.droppedReplies.Inc()
		return
	}
	c.removePending(p)
	switch p.state {
	case InvocationPending:
		if rerr != nil {
			p.state = InvocationFailed
			p.fut.Fail(rerr)
			prom.invocations.WithLabelValues("remote_error").Inc()
		} else {
			p.state = InvocationResolved
			p.fut.Resolve(v)
			prom.invocations.WithLabelValues("resolved").Inc()
		}
	case InvocationCancelRequested:
		p.state = InvocationCancelAcked
		prom.droppedReplies.Inc()
	}
	c.updateBusy()
}

func (c *Conn) replyError(id uint64, typ, msg string) {
	frame, err := wire.Encode(&wire.Error{ID: id, Type: typ, Message: msg})
	if err != nil {
		c.log.WithError(err).Error("cannot encode error reply")
		return
	}
	c.writeq.put(frame)
}

func (c *Conn) handleInvocation(inv *wire.Invocation) {
	if c.shutdown {
		return
	}
	log := c.log.WithField("invocation", inv.ID).WithField("method", inv.Method)
	if _, dup := c.active[inv.ID]; dup {
		log.Warn("peer reused an active invocation id")
		c.replyError(inv.ID, ErrorTypeDuplicateID, fmt.Sprintf("invocation %d is already active", inv.ID))
		return
	}
	if c.dispatcher == nil {
		c.replyError(inv.ID, ErrorTypeNoDispatcher, "endpoint does not serve invocations")
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	a := &activeInvocation{id: inv.ID, cancel: cancel}
	c.active[inv.ID] = a
	c.nactive.Add(1)
	prom.active.Inc()
	c.updateBusy()
	log.Debug("dispatching invocation")

	go func() {
		v, err := c.dispatch(ctx, inv)
		c.events.put(func() { c.completeInvocation(a, v, err) })
	}()
}

func (c *Conn) dispatch(ctx context.Context, inv *wire.Invocation) (v wire.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("method", inv.Method).WithField("panic", r).Error("invocation handler panicked")
			err = &RemoteError{Type: ErrorTypePanic, Message: fmt.Sprint(r)}
		}
	}()
	return c.dispatcher.Dispatch(ctx, inv)
}

func (c *Conn) removeActive(a *activeInvocation) {
	a.cancel()
	delete(c.active, a.id)
	c.nactive.Add(-1)
	prom.active.Dec()
}

func (c *Conn) completeInvocation(a *activeInvocation, v wire.Value, err error) {
	if c.shutdown || c.active[a.id] != a {
		// cancelled by the peer, it does not expect a reply
		return
	}
	c.removeActive(a)
	defer c.updateBusy()
	if err != nil {
		c.replyError(a.id, errorType(err), errorMessage(err))
		return
	}
	frame, err := wire.Encode(&wire.Result{ID: a.id, Value: v})
	if err != nil {
		c.log.WithError(err).WithField("invocation", a.id).Error("cannot encode result")
		c.replyError(a.id, fmt.Sprintf("%T", err), err.Error())
		return
	}
	c.writeq.put(frame)
}

func (c *Conn) handleCancel(id uint64) {
	a, ok := c.active[id]
	if !ok {
		// completed already
		c.log.WithField("invocation", id).Debug("ignoring cancel for inactive invocation")
		return
	}
	c.log.WithField("invocation", id).Debug("peer cancelled invocation")
	c.removeActive(a)
	c.updateBusy()
}
