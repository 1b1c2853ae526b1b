package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when sending on a released handle or receiving from a
// channel whose senders are all gone.
var ErrClosed = errors.New("broadcast: channel closed")

const defaultCapacity = 16

type hub[T any] struct {
	mutex    sync.Mutex
	senders  int
	closed   bool
	capacity int
	subs     map[*Receiver[T]]struct{}
}

// Sender is one sending handle of a broadcast channel.
type Sender[T any] struct {
	hub      *hub[T]
	released atomic.Bool
}

// Receiver is a subscription to a broadcast channel.
type Receiver[T any] struct {
	hub     *hub[T]
	ch      chan T
	dropped atomic.Uint64
}

// New creates a broadcast channel and returns its first sending handle.
// Capacity is the per-receiver buffer size.
func New[T any](capacity int) *Sender[T] {
	if capacity < 1 {
		capacity = defaultCapacity
	}

	h := &hub[T]{
		senders:  1,
		capacity: capacity,
		subs:     make(map[*Receiver[T]]struct{}),
	}

	return &Sender[T]{hub: h}
}

// Send delivers v to every current receiver and returns how many received it.
// Receivers with a full buffer are skipped and their drop counter increases.
func (s *Sender[T]) Send(v T) (int, error) {
	if s.released.Load() {
		return 0, ErrClosed
	}

	s.hub.mutex.Lock()
	defer s.hub.mutex.Unlock()

	if s.hub.closed {
		return 0, ErrClosed
	}

	delivered := 0
	for r := range s.hub.subs {
		select {
		case r.ch <- v:
			delivered++
		default:
			r.dropped.Add(1)
		}
	}

	return delivered, nil
}

// Clone returns a new sending handle that keeps the channel open until it is
// closed too. Cloning a released handle yields a released handle.
func (s *Sender[T]) Clone() *Sender[T] {
	clone := &Sender[T]{hub: s.hub}

	s.hub.mutex.Lock()
	defer s.hub.mutex.Unlock()

	if s.released.Load() || s.hub.closed {
		clone.released.Store(true)
		return clone
	}

	s.hub.senders++
	return clone
}

// Close releases this handle. Releasing the last handle closes the channel
// for every receiver. Calling Close more than once is a no-op.
func (s *Sender[T]) Close() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}

	s.hub.mutex.Lock()
	defer s.hub.mutex.Unlock()

	s.hub.senders--
	if s.hub.senders > 0 || s.hub.closed {
		return
	}

	s.hub.closed = true
	for r := range s.hub.subs {
		close(r.ch)
		delete(s.hub.subs, r)
	}
}

// Subscribe registers a new receiver. On a closed channel the receiver is
// returned already closed.
func (s *Sender[T]) Subscribe() *Receiver[T] {
	s.hub.mutex.Lock()
	defer s.hub.mutex.Unlock()

	r := &Receiver[T]{
		hub: s.hub,
		ch:  make(chan T, s.hub.capacity),
	}

	if s.hub.closed {
		close(r.ch)
		return r
	}

	s.hub.subs[r] = struct{}{}
	return r
}

// ReceiverCount returns the number of live subscriptions.
func (s *Sender[T]) ReceiverCount() int {
	s.hub.mutex.Lock()
	defer s.hub.mutex.Unlock()
	return len(s.hub.subs)
}

// C returns the delivery channel. It is closed when every sender is gone or
// the receiver itself is closed.
func (r *Receiver[T]) C() <-chan T {
	return r.ch
}

// Recv waits for the next value.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	var zero T

	select {
	case v, ok := <-r.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Dropped returns how many values were discarded because the buffer was full.
func (r *Receiver[T]) Dropped() uint64 {
	return r.dropped.Load()
}

// Close unsubscribes the receiver. Buffered values are discarded.
func (r *Receiver[T]) Close() {
	r.hub.mutex.Lock()
	defer r.hub.mutex.Unlock()

	if _, ok := r.hub.subs[r]; !ok {
		return
	}

	delete(r.hub.subs, r)
	close(r.ch)
}
