package flow

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// StreamBuffer decouples s's production from its consumption by forking
// a worker goroutine that eagerly drains s into an internal Queue
// (WithCapacity/WithStrategy control its behavior under backpressure,
// defaulting to unbounded), the same worker-pattern FromIterator and
// Callback use.
func StreamBuffer[A any](s Stream[A], ops ...Option) Stream[A] {
	cfg := applyOptions(ops)
	return newStream[A](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[Chunk[A]], error) {
		up, err := s.Channel.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}

		q := NewQueue[Chunk[A]](cfg.capacity, cfg.strategy)
		var eg errgroup.Group
		eg.Go(func() error {
			return recoverToDefect(func() error {
				for {
					c, perr := up(ctx)
					if perr != nil {
						q.End(perr)
						return nil
					}
					if oerr := q.Offer(ctx, c); oerr != nil {
						return oerr
					}
				}
			})
		})

		scope.AddFinalizer(func(Exit) {
			q.Shutdown()
			_ = eg.Wait()
		})

		return q.AsPull(), nil
	})
}
