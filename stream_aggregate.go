package flow

import (
	"context"
	"errors"
	"math"
	"time"
)

// Schedule describes a bounded exponential-backoff policy, used both by
// Retry and by StreamAggregateWithin's windowing.
type Schedule struct {
	// Window bounds how long each StreamAggregateWithin round runs,
	// measured from the round's start, before the in-progress aggregate
	// is force-closed.
	Window time.Duration
	// InitialDelay is the delay before Retry's first retry.
	InitialDelay time.Duration
	// MaxDelay caps the delay growth; 0 means uncapped.
	MaxDelay time.Duration
	// Factor multiplies the delay after each attempt; <= 0 means a fixed
	// delay (no backoff).
	Factor float64
	// MaxRetries caps the number of retries; 0 means retry forever.
	MaxRetries int
}

func (s Schedule) delayFor(attempt int) time.Duration {
	if s.Factor <= 0 {
		return s.InitialDelay
	}
	d := float64(s.InitialDelay) * math.Pow(s.Factor, float64(attempt))
	if s.MaxDelay > 0 && d > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(d)
}

// Retry runs f, retrying under schedule while it returns an error, until
// it succeeds, schedule's MaxRetries is exhausted (the last error is
// returned), or ctx is done.
func Retry[R any](ctx context.Context, f func(ctx context.Context) (R, error), schedule Schedule) (R, error) {
	attempt := 0
	for {
		v, err := f(ctx)
		if err == nil {
			return v, nil
		}
		if schedule.MaxRetries > 0 && attempt >= schedule.MaxRetries {
			return v, err
		}
		delay := schedule.delayFor(attempt)
		attempt++
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			var zero R
			return zero, ctx.Err()
		}
	}
}

// StreamAggregate repeatedly runs sink over s's elements: each time sink
// reaches its own stopping point, it emits that result and starts a
// fresh round on whatever was left over, until s halts.
func StreamAggregate[A, R any](s Stream[A], sink Sink[R, A]) Stream[R] {
	return newStream[R](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[Chunk[R]], error) {
		up, err := s.Channel.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}

		var leftover Chunk[A]
		halted := false
		var finalErr error

		return func(ctx context.Context) (Chunk[R], error) {
			if halted && len(leftover) == 0 {
				if finalErr != nil {
					return nil, finalErr
				}
				return nil, HaltVoid
			}

			fed := leftover
			leftover = nil
			wrapped := func(ctx context.Context) (Chunk[A], error) {
				if len(fed) > 0 {
					c := fed
					fed = nil
					return c, nil
				}
				c, perr := up(ctx)
				if perr != nil {
					halted = true
					if _, ok := IsHalt(perr); !ok {
						finalErr = perr
					}
					return nil, perr
				}
				return c, nil
			}

			end, serr := sink.Transform(ctx, wrapped, scope)
			if serr != nil {
				return nil, serr
			}
			leftover = end.Leftover
			return Chunk[R]{end.Value}, nil
		}, nil
	})
}

// StreamAggregateWithin is StreamAggregate, but each round is also
// force-closed once schedule.Window has elapsed since the round started
// (whether or not input arrived in the meantime), the way
// ZIO's aggregateAsyncWithin time-boxes a batch.
func StreamAggregateWithin[A, R any](s Stream[A], sink Sink[R, A], schedule Schedule) Stream[R] {
	return newStream[R](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[Chunk[R]], error) {
		up, err := s.Channel.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}

		var leftover Chunk[A]
		halted := false
		var finalErr error

		return func(ctx context.Context) (Chunk[R], error) {
			for {
				if halted && len(leftover) == 0 {
					if finalErr != nil {
						return nil, finalErr
					}
					return nil, HaltVoid
				}

				roundCtx, cancel := context.WithTimeout(ctx, schedule.Window)
				fed := leftover
				leftover = nil
				consumed := len(fed) > 0

				wrapped := func(_ context.Context) (Chunk[A], error) {
					if len(fed) > 0 {
						c := fed
						fed = nil
						return c, nil
					}
					c, perr := up(roundCtx)
					if perr != nil {
						if deadlineErr := roundCtx.Err(); deadlineErr != nil && errors.Is(perr, deadlineErr) && ctx.Err() == nil {
							return nil, HaltVoid
						}
						halted = true
						if _, ok := IsHalt(perr); !ok {
							finalErr = perr
						}
						return nil, perr
					}
					consumed = true
					return c, nil
				}

				end, serr := sink.Transform(ctx, wrapped, scope)
				cancel()
				if serr != nil {
					return nil, serr
				}
				leftover = end.Leftover

				if !consumed && !halted {
					continue
				}
				return Chunk[R]{end.Value}, nil
			}
		}, nil
	})
}
