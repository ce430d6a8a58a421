package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrEmpty is returned by TryRecv when nothing new has been sent.
	ErrEmpty = errors.New("broadcast: no event ready")
	// ErrClosed is returned by a receiver after Close.
	ErrClosed = errors.New("broadcast: receiver closed")
)

// LagError reports that a receiver fell more than a buffer's worth behind
// and Skipped events were overwritten before it read them. The receiver has
// already been moved to the oldest retained event.
type LagError struct {
	Skipped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("broadcast: receiver lagged, %d events skipped", e.Skipped)
}

// Broadcaster is a bounded single-producer, multi-consumer channel. Send
// never blocks: once the ring is full the oldest event is overwritten, and
// receivers that had not read it see a LagError on their next receive.
//
// Every receiver keeps its own sequence cursor into the shared ring, so one
// slow receiver never holds back the others.
type Broadcaster[T any] struct {
	mu        sync.Mutex
	ring      []T
	head      uint64 // sequence number of the next Send
	wake      chan struct{}
	receivers int
}

func NewBroadcaster[T any](capacity int) *Broadcaster[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Broadcaster[T]{
		ring: make([]T, capacity),
		wake: make(chan struct{}),
	}
}

// Send publishes v to every current receiver and returns how many there were.
func (b *Broadcaster[T]) Send(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring[b.head%uint64(len(b.ring))] = v
	b.head++
	close(b.wake)
	b.wake = make(chan struct{})
	return b.receivers
}

// Receivers returns the number of open receivers.
func (b *Broadcaster[T]) Receivers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.receivers
}

// Subscribe returns a receiver that observes every event sent from now on.
func (b *Broadcaster[T]) Subscribe() *Receiver[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.receivers++
	return &Receiver[T]{b: b, next: b.head, ready: b.wake}
}

// oldest is the sequence number of the oldest event still in the ring.
func (b *Broadcaster[T]) oldest() uint64 {
	if n := uint64(len(b.ring)); b.head > n {
		return b.head - n
	}
	return 0
}

// Receiver is one subscription to a Broadcaster. A Receiver must only be
// used from a single goroutine.
type Receiver[T any] struct {
	b      *Broadcaster[T]
	next   uint64
	ready  <-chan struct{}
	closed bool
}

// TryRecv returns the next event without waiting. It returns ErrEmpty when
// caught up, after which Ready fires once something new is sent.
func (r *Receiver[T]) TryRecv() (T, error) {
	var zero T
	if r.closed {
		return zero, ErrClosed
	}

	b := r.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if oldest := b.oldest(); r.next < oldest {
		skipped := oldest - r.next
		r.next = oldest
		return zero, &LagError{Skipped: skipped}
	}
	if r.next < b.head {
		v := b.ring[r.next%uint64(len(b.ring))]
		r.next++
		return v, nil
	}
	r.ready = b.wake
	return zero, ErrEmpty
}

// Ready returns a channel that is closed once an event has been sent after
// the last TryRecv that returned ErrEmpty.
func (r *Receiver[T]) Ready() <-chan struct{} {
	return r.ready
}

// Recv waits for the next event, a lag report, or ctx cancellation.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	for {
		v, err := r.TryRecv()
		if !errors.Is(err, ErrEmpty) {
			return v, err
		}
		select {
		case <-r.Ready():
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Close releases the subscription. It is safe to call more than once.
func (r *Receiver[T]) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.b.mu.Lock()
	r.b.receivers--
	r.b.mu.Unlock()
}
