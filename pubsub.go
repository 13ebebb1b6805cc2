package flow

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// PubSub layers multi-subscriber semantics on top of Queue: every
// published value is offered to every currently-subscribed Queue,
// independently, under the PubSub's strategy (spec.md §3.3). Subscriber
// lifetimes are bound to the Scope passed to Subscribe.
type PubSub[A any] struct {
	capacity int
	strategy Strategy

	mu   sync.Mutex
	subs map[uuid.UUID]*Queue[A]
}

// NewPubSub creates a PubSub whose per-subscriber queues have the given
// capacity and strategy.
func NewPubSub[A any](capacity int, strategy Strategy) *PubSub[A] {
	return &PubSub[A]{
		capacity: capacity,
		strategy: strategy,
		subs:     make(map[uuid.UUID]*Queue[A]),
	}
}

// Subscription is a per-subscriber dequeue handle returned by Subscribe.
type Subscription[A any] struct {
	ID    uuid.UUID
	queue *Queue[A]
}

// Take removes and returns the next value published since this
// subscription was created.
func (s *Subscription[A]) Take(ctx context.Context) (A, error) {
	return s.queue.Take(ctx)
}

// TakeBetween drains between min and max currently-available values,
// blocking until at least min are available or the subscription ends.
func (s *Subscription[A]) TakeBetween(ctx context.Context, min, max int) ([]A, error) {
	out := make([]A, 0, max)
	for len(out) < min {
		v, err := s.queue.Take(ctx)
		if err != nil {
			if len(out) > 0 {
				return out, nil
			}
			return nil, err
		}
		out = append(out, v)
	}
	for len(out) < max && s.queue.Len() > 0 {
		v, err := s.queue.Take(ctx)
		if err != nil {
			break
		}
		out = append(out, v)
	}
	return out, nil
}

// AsPull adapts the subscription into a Pull, one value per invocation.
func (s *Subscription[A]) AsPull() Pull[A] { return s.queue.AsPull() }

// Subscribe registers a new subscriber queue, bound to scope: when scope
// closes, the subscriber is unregistered and its queue shut down. Only
// values published after Subscribe returns are delivered to it.
func (p *PubSub[A]) Subscribe(scope *Scope) *Subscription[A] {
	sub := &Subscription[A]{ID: uuid.New(), queue: NewQueue[A](p.capacity, p.strategy)}

	p.mu.Lock()
	p.subs[sub.ID] = sub.queue
	p.mu.Unlock()

	scope.AddFinalizer(func(Exit) {
		p.mu.Lock()
		delete(p.subs, sub.ID)
		p.mu.Unlock()
		sub.queue.Shutdown()
	})

	return sub
}

// Publish offers value to every current subscriber, independently, under
// the PubSub's strategy.
func (p *PubSub[A]) Publish(ctx context.Context, value A) error {
	p.mu.Lock()
	queues := make([]*Queue[A], 0, len(p.subs))
	for _, q := range p.subs {
		queues = append(queues, q)
	}
	p.mu.Unlock()

	for _, q := range queues {
		if err := q.Offer(ctx, value); err != nil && err != ErrQueueShutDown {
			return err
		}
	}
	return nil
}

// PublishAll publishes every value in order.
func (p *PubSub[A]) PublishAll(ctx context.Context, values []A) error {
	for _, v := range values {
		if err := p.Publish(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// End attaches a terminal cause to every current (and, since future
// subscribers start fresh, only current) subscriber queue.
func (p *PubSub[A]) End(cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, q := range p.subs {
		q.End(cause)
	}
}

// Capacity reports the configured per-subscriber capacity.
func (p *PubSub[A]) Capacity() int { return p.capacity }

// Strategy reports the configured per-subscriber overflow strategy.
func (p *PubSub[A]) Strategy() Strategy { return p.strategy }

// SubscriberCount reports how many subscribers are currently registered.
func (p *PubSub[A]) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}
