package flow

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleMode selects how StreamThrottle reacts to a burst exceeding
// the configured rate.
type ThrottleMode int

const (
	// ThrottleShape delays elements to fit the rate, never dropping any
	// (rate.Limiter.WaitN under the hood).
	ThrottleShape ThrottleMode = iota
	// ThrottleEnforce drops elements that would exceed the rate instead
	// of delaying them.
	ThrottleEnforce
)

// StreamThrottle limits the rate elements are allowed through,
// admitting cost(v) tokens per element against a token bucket of the
// given rate-per-second and burst size (golang.org/x/time/rate).
func StreamThrottle[A any](s Stream[A], elementsPerSecond float64, burst int, mode ThrottleMode, cost func(A) int) Stream[A] {
	if cost == nil {
		cost = func(A) int { return 1 }
	}
	limiter := rate.NewLimiter(rate.Limit(elementsPerSecond), burst)

	elems := chunksToElems(s.Channel)
	return newStream[A](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[Chunk[A]], error) {
		up, err := elems.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (Chunk[A], error) {
			for {
				v, perr := up(ctx)
				if perr != nil {
					return nil, perr
				}
				n := cost(v)
				switch mode {
				case ThrottleEnforce:
					if !limiter.AllowN(time.Now(), n) {
						continue
					}
				default: // ThrottleShape
					if werr := limiter.WaitN(ctx, n); werr != nil {
						return nil, werr
					}
				}
				return Chunk[A]{v}, nil
			}
		}, nil
	})
}

// StreamDebounce emits an element only once at least quiet has passed
// since the last upstream value was observed (without a newer one
// superseding it), dropping every value superseded within that window.
func StreamDebounce[A any](s Stream[A], quiet time.Duration) Stream[A] {
	elems := chunksToElems(s.Channel)
	return newStream[A](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[Chunk[A]], error) {
		up, err := elems.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}

		type slot struct {
			v   A
			err error
		}
		pulls := make(chan slot)
		childCtx, cancel := context.WithCancel(ctx)
		scope.AddFinalizer(func(Exit) { cancel() })

		go func() {
			for {
				v, perr := up(childCtx)
				select {
				case pulls <- slot{v: v, err: perr}:
				case <-childCtx.Done():
					return
				}
				if perr != nil {
					return
				}
			}
		}()

		var pending slot
		havePending := false
		var finalErr error
		halted := false

		return func(ctx context.Context) (Chunk[A], error) {
			if halted && !havePending {
				return nil, finalErr
			}
			timer := time.NewTimer(quiet)
			defer timer.Stop()
			for {
				if halted {
					select {
					case <-timer.C:
						out := pending.v
						havePending = false
						return Chunk[A]{out}, nil
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				}
				select {
				case s := <-pulls:
					if s.err != nil {
						halted = true
						finalErr = s.err
						if !havePending {
							return nil, finalErr
						}
						continue
					}
					pending = s
					havePending = true
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(quiet)
				case <-timer.C:
					if havePending {
						out := pending.v
						havePending = false
						return Chunk[A]{out}, nil
					}
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}, nil
	})
}
