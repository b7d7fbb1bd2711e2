// Package future implements a single-assignment result container
// that can be awaited, failed or cancelled from any goroutine.
//
// A Future transitions exactly once from Pending to one of the terminal
// states Resolved, Failed or Cancelled. All later completion attempts
// are no-ops and report false, which makes racing producers safe.
package future

import (
	"context"
	"errors"
	"sync"
)

//go:generate enumer -type=State

type State uint32

const (
	Pending State = iota
	Resolved
	Failed
	Cancelled
)

func (s State) Terminal() bool { return s != Pending }

var ErrCancelled = errors.New("future cancelled")

type Future[T any] struct {
	mtx      sync.Mutex
	state    State
	value    T
	err      error
	done     chan struct{}
	onCancel []func()
}

func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future that is already resolved to v.
func Completed[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Errored returns a future that already failed with err.
func Errored[T any](err error) *Future[T] {
	f := New[T]()
	f.Fail(err)
	return f
}

func (f *Future[T]) complete(state State, v T, err error) (hooks []func(), ok bool) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.state != Pending {
		return nil, false
	}
	f.state = state
	f.value = v
	f.err = err
	hooks = f.onCancel
	f.onCancel = nil
	close(f.done)
	return hooks, true
}

// Resolve completes the future successfully. It returns false if the
// future was already terminal.
func (f *Future[T]) Resolve(v T) bool {
	_, ok := f.complete(Resolved, v, nil)
	return ok
}

// Fail completes the future with err. err must not be nil.
func (f *Future[T]) Fail(err error) bool {
	if err == nil {
		panic("future: Fail called with nil error")
	}
	var zero T
	_, ok := f.complete(Failed, zero, err)
	return ok
}

// Cancel moves a pending future to Cancelled and then runs the hooks
// registered with OnCancel on the calling goroutine.
// The future is observably cancelled before any hook runs.
func (f *Future[T]) Cancel() bool {
	var zero T
	hooks, ok := f.complete(Cancelled, zero, ErrCancelled)
	if !ok {
		return false
	}
	for _, h := range hooks {
		h()
	}
	return true
}

// OnCancel registers fn to be called if the future gets cancelled.
// If it already is cancelled, fn runs immediately. If it completed
// otherwise, fn is dropped.
func (f *Future[T]) OnCancel(fn func()) {
	f.mtx.Lock()
	switch f.state {
	case Pending:
		f.onCancel = append(f.onCancel, fn)
		f.mtx.Unlock()
	case Cancelled:
		f.mtx.Unlock()
		fn()
	default:
		f.mtx.Unlock()
	}
}

func (f *Future[T]) Done() <-chan struct{} { return f.done }

func (f *Future[T]) State() State {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.state
}

// Result returns the outcome of a terminal future.
// It panics if the future is still pending.
func (f *Future[T]) Result() (T, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.state == Pending {
		panic("future: Result called on pending future")
	}
	return f.value, f.err
}

// Get waits until the future is terminal or ctx is done.
// Giving up on ctx does not cancel the future.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Chain completes to with the outcome of from, and propagates a
// cancellation of to back to from.
func Chain[T any](from, to *Future[T]) {
	to.OnCancel(func() { from.Cancel() })
	go func() {
		<-from.Done()
		v, err := from.Result()
		switch from.State() {
		case Resolved:
			to.Resolve(v)
		case Cancelled:
			to.Cancel()
		default:
			to.Fail(err)
		}
	}()
}
