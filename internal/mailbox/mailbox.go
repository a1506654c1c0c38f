// Package mailbox provides an unbounded FIFO queue drained by a single
// goroutine. Producers never block, which lets callbacks running on the
// consumer post follow-up work without deadlocking.
package mailbox

import "sync"

// Mailbox is an unbounded, multi-producer single-consumer queue.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	signal chan struct{}
	done   chan struct{}
}

// New creates an empty mailbox. Start consuming with Run.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post enqueues v. It reports false if the mailbox was closed, in which case v
// is dropped.
func (m *Mailbox[T]) Post(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// Close stops accepting new items. Items already queued are still delivered
// before Run returns.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Done is closed once Run has returned.
func (m *Mailbox[T]) Done() <-chan struct{} { return m.done }

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Run calls fn for every item in order until the mailbox is closed and
// drained. It must be called from exactly one goroutine.
func (m *Mailbox[T]) Run(fn func(T)) {
	defer close(m.done)
	for {
		m.mu.Lock()
		for len(m.items) == 0 {
			if m.closed {
				m.mu.Unlock()
				return
			}
			m.mu.Unlock()
			<-m.signal
			m.mu.Lock()
		}
		batch := m.items
		m.items = nil
		m.mu.Unlock()

		for _, v := range batch {
			fn(v)
		}
		clear(batch)
	}
}
