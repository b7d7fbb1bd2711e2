package conn

import "sync"

// mailbox is an unbounded FIFO queue with a wakeup signal for a single
// consumer. put never blocks.
type mailbox[T any] struct {
	mtx    sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{signal: make(chan struct{}, 1)}
}

// put returns false if the mailbox is closed.
func (m *mailbox[T]) put(v T) bool {
	m.mtx.Lock()
	if m.closed {
		m.mtx.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mtx.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox[T]) take() []T {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	items := m.items
	m.items = nil
	return items
}

// close rejects further puts and returns the items not taken yet.
func (m *mailbox[T]) close() []T {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.closed = true
	items := m.items
	m.items = nil
	return items
}
