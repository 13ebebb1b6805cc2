package flow

import (
	"context"
	"errors"
	"sync"
)

// Strategy governs what a bounded Queue does when Offer is called while
// it is full.
type Strategy int

const (
	// StrategySuspend blocks the offering goroutine until space frees up
	// or ctx is done. This is the default.
	StrategySuspend Strategy = iota
	// StrategySliding drops the oldest buffered element to make room for
	// the new one.
	StrategySliding
	// StrategyDropping drops the newest (incoming) element, leaving the
	// buffer unchanged.
	StrategyDropping
)

// ErrQueueShutDown is the cause observed by pending takes (and returned
// to pending/future offers) after Shutdown: an immediate interruption
// that discards whatever was still buffered.
var ErrQueueShutDown = errors.New("flow: queue shut down")

// ErrQueueEnded is returned by Offer/OfferAll called after End: no more
// elements may be produced once a terminal has been attached.
var ErrQueueEnded = errors.New("flow: offer after queue end")

type queueState int32

const (
	queueOpen queueState = iota
	queueEnded
	queueShutDown
)

// Queue is a bounded or unbounded MPMC channel with a distinct terminal
// Done state carrying an exit cause (spec.md §3.3). Capacity <= 0 means
// unbounded: Offer never blocks and Strategy is ignored.
type Queue[A any] struct {
	mu       sync.Mutex
	items    []A
	capacity int
	strategy Strategy
	state    queueState
	cause    error // valid once state != queueOpen
	changed  chan struct{}
}

// NewQueue creates a bounded Queue of the given capacity and overflow
// strategy. capacity <= 0 makes it unbounded.
func NewQueue[A any](capacity int, strategy Strategy) *Queue[A] {
	return &Queue[A]{capacity: capacity, strategy: strategy, changed: make(chan struct{})}
}

// NewUnboundedQueue creates an unbounded, always-suspend-strategy Queue.
func NewUnboundedQueue[A any]() *Queue[A] {
	return NewQueue[A](0, StrategySuspend)
}

func (q *Queue[A]) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Capacity reports the configured capacity (<= 0 meaning unbounded).
func (q *Queue[A]) Capacity() int { return q.capacity }

// Strategy reports the configured overflow strategy.
func (q *Queue[A]) Strategy() Strategy { return q.strategy }

// Offer enqueues item, applying the configured strategy when full.
// Under StrategySuspend it blocks until space is available or ctx is
// done. Offering after End returns ErrQueueEnded; offering after
// Shutdown returns ErrQueueShutDown.
func (q *Queue[A]) Offer(ctx context.Context, item A) error {
	for {
		q.mu.Lock()
		switch q.state {
		case queueShutDown:
			q.mu.Unlock()
			return ErrQueueShutDown
		case queueEnded:
			q.mu.Unlock()
			return ErrQueueEnded
		}

		if q.capacity <= 0 || len(q.items) < q.capacity {
			q.items = append(q.items, item)
			q.notifyLocked()
			q.mu.Unlock()
			return nil
		}

		switch q.strategy {
		case StrategySliding:
			if len(q.items) > 0 {
				q.items = q.items[1:]
			}
			q.items = append(q.items, item)
			q.notifyLocked()
			q.mu.Unlock()
			return nil
		case StrategyDropping:
			q.mu.Unlock()
			return nil
		default: // StrategySuspend
			ch := q.changed
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ch:
				// retry
			}
		}
	}
}

// OfferAll offers every item in order, returning the suffix that could
// not be offered (and the error that stopped offering), if any.
func (q *Queue[A]) OfferAll(ctx context.Context, items []A) (leftover []A, err error) {
	for i, item := range items {
		if err := q.Offer(ctx, item); err != nil {
			return items[i:], err
		}
	}
	return nil, nil
}

// Take removes and returns the next element, suspending until one is
// available, the terminal cause (after End/Shutdown) is observed, or ctx
// is done.
func (q *Queue[A]) Take(ctx context.Context) (A, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items = q.items[1:]
			q.notifyLocked()
			q.mu.Unlock()
			return v, nil
		}

		if q.state != queueOpen {
			cause := q.cause
			q.mu.Unlock()
			var zero A
			return zero, cause
		}

		ch := q.changed
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			var zero A
			return zero, ctx.Err()
		case <-ch:
			// retry
		}
	}
}

// TakeAll drains every currently buffered element. If the buffer is
// empty and the queue has ended, it returns the terminal cause instead;
// if the buffer is empty and the queue is still open, it blocks like
// Take until one element arrives and returns just that element.
func (q *Queue[A]) TakeAll(ctx context.Context) ([]A, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		items := q.items
		q.items = nil
		q.notifyLocked()
		q.mu.Unlock()
		return items, nil
	}
	if q.state != queueOpen {
		cause := q.cause
		q.mu.Unlock()
		return nil, cause
	}
	q.mu.Unlock()

	v, err := q.Take(ctx)
	if err != nil {
		return nil, err
	}
	return []A{v}, nil
}

// End attaches a terminal cause: elements already buffered still drain
// via Take/TakeAll before readers observe cause. cause is usually a Halt
// built from the producer's done value, or an ordinary failure. A nil
// cause is treated as HaltVoid.
func (q *Queue[A]) End(cause error) {
	if cause == nil {
		cause = HaltVoid
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != queueOpen {
		return
	}
	q.state = queueEnded
	q.cause = cause
	q.notifyLocked()
}

// FailCause is End with a typed failure cause; an alias kept for call
// sites that want to make the failure path explicit.
func (q *Queue[A]) FailCause(err error) { q.End(err) }

// Shutdown interrupts the queue immediately: buffered elements are
// discarded, pending/future offers fail with ErrQueueShutDown, and
// pending/future takes observe it too.
func (q *Queue[A]) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == queueShutDown {
		return
	}
	q.state = queueShutDown
	q.cause = ErrQueueShutDown
	q.items = nil
	q.notifyLocked()
}

// Len reports the number of currently buffered elements.
func (q *Queue[A]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// AsPull adapts the queue into a Pull: each invocation takes one element,
// surfacing the queue's terminal cause as the pull's halt/failure.
func (q *Queue[A]) AsPull() Pull[A] {
	return func(ctx context.Context) (A, error) {
		return q.Take(ctx)
	}
}
