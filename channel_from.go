package flow

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Iterator is a pull-style sequence: it calls yield for each value,
// stopping early if yield returns false, and returns a done value on
// exhaustion. Modelled on the teacher's Seq[T], generalized so the
// terminal value (not just an error) becomes the Channel's halt value.
type Iterator[Out, OutDone any] func(yield func(Out) bool) OutDone

// FromIterator builds a Channel from an Iterator: a worker goroutine,
// forked onto the scope via errgroup exactly like the teacher's
// FromIter/Map do with eg.Go, drains the iterator into an internal
// Queue; the returned Pull simply takes from that queue. On exhaustion
// the iterator's return value becomes the halt value (spec.md §4.1.2).
func FromIterator[Out, OutDone, In, InDone any](it Iterator[Out, OutDone], ops ...Option) Channel[Out, OutDone, In, InDone] {
	cfg := applyOptions(ops)
	return newChannel[Out, OutDone, In, InDone](func(ctx context.Context, _ Pull[In], scope *Scope) (Pull[Out], error) {
		q := NewQueue[Out](cfg.capacity, cfg.strategy)

		var eg errgroup.Group
		eg.Go(func() error {
			return recoverToDefect(func() error {
				var offerErr error
				done := it(func(v Out) bool {
					offerErr = q.Offer(ctx, v)
					return offerErr == nil
				})
				if offerErr != nil {
					q.End(offerErr)
					return offerErr
				}
				q.End(Halt(done))
				return nil
			})
		})

		scope.AddFinalizer(func(Exit) {
			q.Shutdown()
			_ = eg.Wait()
		})

		return q.AsPull(), nil
	})
}

// FromSlice builds a Channel that yields every element of items in
// order, then halts with done.
func FromSlice[Out, OutDone, In, InDone any](items []Out, done OutDone, ops ...Option) Channel[Out, OutDone, In, InDone] {
	return FromIterator[Out, OutDone, In, InDone](func(yield func(Out) bool) OutDone {
		for _, v := range items {
			if !yield(v) {
				break
			}
		}
		return done
	}, ops...)
}

// FromQueueChannel builds a Channel that pulls from q until it ends,
// halting (or failing) with q's terminal cause.
func FromQueueChannel[Out, OutDone, In, InDone any](q *Queue[Out]) Channel[Out, OutDone, In, InDone] {
	return newChannel[Out, OutDone, In, InDone](func(_ context.Context, _ Pull[In], _ *Scope) (Pull[Out], error) {
		return q.AsPull(), nil
	})
}

// FromSubscription builds a Channel that pulls from an existing
// Subscription until it ends.
func FromSubscription[Out, OutDone, In, InDone any](sub *Subscription[Out]) Channel[Out, OutDone, In, InDone] {
	return newChannel[Out, OutDone, In, InDone](func(_ context.Context, _ Pull[In], _ *Scope) (Pull[Out], error) {
		return sub.AsPull(), nil
	})
}

// FromPubSub builds a Channel that subscribes to p when its transform is
// invoked (bound to the provided scope) and pulls from that subscription
// until p ends.
func FromPubSub[Out, OutDone, In, InDone any](p *PubSub[Out]) Channel[Out, OutDone, In, InDone] {
	return newChannel[Out, OutDone, In, InDone](func(_ context.Context, _ Pull[In], scope *Scope) (Pull[Out], error) {
		sub := p.Subscribe(scope)
		return sub.AsPull(), nil
	})
}

// Callback builds a Channel from user code given direct access to a
// scoped queue: use is run in a forked worker goroutine and may offer to
// q freely; the returned Channel pulls from q until use returns (halting
// with the zero value of OutDone) or fails (failing with use's error). Supports the same buffer
// size/strategy Options as FromIterator; defaults to unbounded.
func Callback[Out, OutDone, In, InDone any](use func(ctx context.Context, q *Queue[Out]) error, ops ...Option) Channel[Out, OutDone, In, InDone] {
	cfg := applyOptions(ops)
	return newChannel[Out, OutDone, In, InDone](func(ctx context.Context, _ Pull[In], scope *Scope) (Pull[Out], error) {
		q := NewQueue[Out](cfg.capacity, cfg.strategy)

		var eg errgroup.Group
		eg.Go(func() error {
			err := recoverToDefect(func() error { return use(ctx, q) })
			var zero OutDone
			if err != nil {
				q.End(err)
			} else {
				q.End(Halt(zero))
			}
			return err
		})

		scope.AddFinalizer(func(Exit) {
			q.Shutdown()
			_ = eg.Wait()
		})

		return q.AsPull(), nil
	})
}

// AcquireUseRelease runs acquire (uninterruptibly: it observes a context
// with cancellation suppressed), then builds the Channel produced by
// use(resource) against a scope forked from the one given to the
// composite's own transform. release runs exactly once, as a finalizer
// of that forked scope, observing the exit the inner channel's pull
// eventually terminates with.
func AcquireUseRelease[Out, OutDone, In, InDone, R any](
	acquire func(ctx context.Context) (R, error),
	use func(R) Channel[Out, OutDone, In, InDone],
	release func(R, Exit),
) Channel[Out, OutDone, In, InDone] {
	return newChannel[Out, OutDone, In, InDone](func(ctx context.Context, upstream Pull[In], scope *Scope) (Pull[Out], error) {
		r, err := acquire(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		return OnExit(use(r), func(exit Exit) {
			release(r, exit)
		}).Transform(ctx, upstream, scope)
	})
}
