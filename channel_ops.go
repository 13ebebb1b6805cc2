package flow

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Map applies f to every Out value a Channel produces. Halts and
// failures pass through unchanged; a panic inside f surfaces as a
// defect.
func Map[Out, OutDone, In, InDone, NewOut any](ch Channel[Out, OutDone, In, InDone], f func(Out) NewOut) Channel[NewOut, OutDone, In, InDone] {
	return newChannel[NewOut, OutDone, In, InDone](func(ctx context.Context, upstream Pull[In], scope *Scope) (Pull[NewOut], error) {
		up, err := ch.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (out NewOut, err error) {
			v, uerr := up(ctx)
			if uerr != nil {
				return out, uerr
			}
			err = recoverToDefect(func() error {
				out = f(v)
				return nil
			})
			return out, err
		}, nil
	})
}

// MapEffectOptions configures MapEffect's concurrency.
type MapEffectOptions struct {
	// Concurrency <= 1 runs f sequentially, one element at a time.
	Concurrency int
	// Unordered, when Concurrency > 1, lets results be forwarded as soon
	// as each completes instead of preserving input order.
	Unordered bool
}

// MapEffect binds an effectful step after each pull. Sequential mode
// (Concurrency <= 1) runs f inline. Concurrent mode forks up to
// Concurrency worker goroutines; Unordered offers successes as they
// complete through a semaphore.Weighted of N permits, while ordered mode
// preserves input order via a bounded queue of awaited results sized
// max(0, N-2) (spec.md §4.1.3, §4.1.4).
func MapEffect[Out, OutDone, In, InDone, NewOut any](ch Channel[Out, OutDone, In, InDone], f func(context.Context, Out) (NewOut, error), opts MapEffectOptions) Channel[NewOut, OutDone, In, InDone] {
	if opts.Concurrency <= 1 {
		return mapEffectSequential(ch, f)
	}
	if opts.Unordered {
		return mapEffectUnordered(ch, f, opts.Concurrency)
	}
	return mapEffectOrdered(ch, f, opts.Concurrency)
}

func mapEffectSequential[Out, OutDone, In, InDone, NewOut any](ch Channel[Out, OutDone, In, InDone], f func(context.Context, Out) (NewOut, error)) Channel[NewOut, OutDone, In, InDone] {
	return newChannel[NewOut, OutDone, In, InDone](func(ctx context.Context, upstream Pull[In], scope *Scope) (Pull[NewOut], error) {
		up, err := ch.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (out NewOut, err error) {
			v, uerr := up(ctx)
			if uerr != nil {
				return out, uerr
			}
			err = recoverToDefect(func() error {
				var ferr error
				out, ferr = f(ctx, v)
				return ferr
			})
			return out, err
		}, nil
	})
}

type mapEffectSlot[NewOut any] struct {
	val NewOut
	err error
}

func mapEffectOrdered[Out, OutDone, In, InDone, NewOut any](ch Channel[Out, OutDone, In, InDone], f func(context.Context, Out) (NewOut, error), n int) Channel[NewOut, OutDone, In, InDone] {
	return newChannel[NewOut, OutDone, In, InDone](func(ctx context.Context, upstream Pull[In], scope *Scope) (Pull[NewOut], error) {
		up, err := ch.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}

		awaitCap := n - 2
		if awaitCap < 0 {
			awaitCap = 0
		}
		awaits := make(chan chan mapEffectSlot[NewOut], awaitCap)
		out := NewQueue[NewOut](0, StrategySuspend)
		childCtx, cancel := context.WithCancel(ctx)

		var eg errgroup.Group
		eg.Go(func() error { // dispatcher: pulls upstream sequentially, forks one worker per element
			defer close(awaits)
			for {
				v, perr := up(childCtx)
				if perr != nil {
					return perr
				}
				resultCh := make(chan mapEffectSlot[NewOut], 1)
				go func(v Out) {
					nv, ferr := f(childCtx, v)
					resultCh <- mapEffectSlot[NewOut]{val: nv, err: ferr}
				}(v)
				select {
				case awaits <- resultCh:
				case <-childCtx.Done():
					return childCtx.Err()
				}
			}
		})

		var dispatchErr error
		eg.Go(func() error { // collector: preserves input order
			for resultCh := range awaits {
				s := <-resultCh
				if s.err != nil {
					dispatchErr = s.err
					cancel()
					return s.err
				}
				if oerr := out.Offer(childCtx, s.val); oerr != nil {
					dispatchErr = oerr
					return oerr
				}
			}
			return nil
		})

		go func() {
			err := eg.Wait()
			if dispatchErr == nil {
				dispatchErr = err
			}
			out.End(dispatchErr)
		}()

		scope.AddFinalizer(func(Exit) {
			cancel()
			out.Shutdown()
		})

		return out.AsPull(), nil
	})
}

func mapEffectUnordered[Out, OutDone, In, InDone, NewOut any](ch Channel[Out, OutDone, In, InDone], f func(context.Context, Out) (NewOut, error), n int) Channel[NewOut, OutDone, In, InDone] {
	return newChannel[NewOut, OutDone, In, InDone](func(ctx context.Context, upstream Pull[In], scope *Scope) (Pull[NewOut], error) {
		up, err := ch.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}

		sem := semaphore.NewWeighted(int64(n))
		out := NewQueue[NewOut](0, StrategySuspend)
		childCtx, cancel := context.WithCancel(ctx)

		var wg sync.WaitGroup
		var finalOnce sync.Once
		var finalErr error
		setFinal := func(e error) { finalOnce.Do(func() { finalErr = e }) }

		go func() {
			for {
				if aerr := sem.Acquire(childCtx, 1); aerr != nil {
					setFinal(aerr)
					break
				}
				v, perr := up(childCtx)
				if perr != nil {
					sem.Release(1)
					setFinal(perr)
					break
				}
				wg.Add(1)
				go func(v Out) {
					defer wg.Done()
					defer sem.Release(1)
					nv, ferr := f(childCtx, v)
					if ferr != nil {
						setFinal(ferr)
						cancel()
						return
					}
					if oerr := out.Offer(childCtx, nv); oerr != nil {
						setFinal(oerr)
					}
				}(v)
			}
			wg.Wait()
			out.End(finalErr)
		}()

		scope.AddFinalizer(func(Exit) {
			cancel()
			out.Shutdown()
		})

		return out.AsPull(), nil
	})
}

// FlatMapOptions configures FlatMap's concurrency.
type FlatMapOptions struct {
	// Concurrency <= 1 drains each child channel fully before pulling the
	// next upstream value. Concurrency > 1 delegates to MergeAllChannels.
	Concurrency int
	BufferSize  int
}

// FlatMap creates a child Channel per upstream value. Sequential mode
// (the default) runs each child in a forked child scope to completion,
// closing that scope on its halt, before pulling the next upstream
// value. Concurrent mode delegates to MergeAllChannels (spec.md §4.1.3).
func FlatMap[Out, OutDone, In, InDone, NewOut any](ch Channel[Out, OutDone, In, InDone], f func(Out) Channel[NewOut, any, In, InDone], opts FlatMapOptions) Channel[NewOut, OutDone, In, InDone] {
	if opts.Concurrency <= 1 {
		return flatMapSequential(ch, f)
	}
	outer := Map(ch, f)
	return MergeAllChannels[NewOut, any, OutDone, In, InDone](outer, opts.Concurrency, opts.BufferSize, false)
}

func flatMapSequential[Out, OutDone, In, InDone, NewOut any](ch Channel[Out, OutDone, In, InDone], f func(Out) Channel[NewOut, any, In, InDone]) Channel[NewOut, OutDone, In, InDone] {
	return newChannel[NewOut, OutDone, In, InDone](func(ctx context.Context, upstream Pull[In], scope *Scope) (Pull[NewOut], error) {
		up, err := ch.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}

		var childPull Pull[NewOut]
		var childScope *Scope

		advance := func(ctx context.Context) error {
			if childScope != nil {
				childScope.Close(ExitSuccess)
				childScope = nil
			}
			v, perr := up(ctx)
			if perr != nil {
				return perr
			}
			childScope = scope.Fork()
			cp, cerr := f(v).Transform(ctx, upstream, childScope)
			if cerr != nil {
				childScope.Close(Exit{Err: cerr})
				childScope = nil
				return cerr
			}
			childPull = cp
			return nil
		}

		return func(ctx context.Context) (NewOut, error) {
			var zero NewOut
			for {
				if childPull == nil {
					if aerr := advance(ctx); aerr != nil {
						return zero, aerr
					}
				}
				v, perr := childPull(ctx)
				if perr == nil {
					return v, nil
				}
				if _, ok := IsHalt(perr); ok {
					childScope.Close(ExitSuccess)
					childScope = nil
					childPull = nil
					continue
				}
				return zero, perr
			}
		}, nil
	})
}

// ConcatWith runs ch, then (once it halts) creates the next Channel from
// ch's done value and adopts its output and done.
func ConcatWith[Out, OutDone, In, InDone, NewOutDone any](ch Channel[Out, OutDone, In, InDone], f func(OutDone) Channel[Out, NewOutDone, In, InDone]) Channel[Out, NewOutDone, In, InDone] {
	return newChannel[Out, NewOutDone, In, InDone](func(ctx context.Context, upstream Pull[In], scope *Scope) (Pull[Out], error) {
		up, err := ch.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}

		var tail Pull[Out]
		return func(ctx context.Context) (Out, error) {
			var zero Out
			if tail != nil {
				return tail(ctx)
			}
			v, perr := up(ctx)
			if perr == nil {
				return v, nil
			}
			d, ok := IsHalt(perr)
			if !ok {
				return zero, perr
			}
			childScope := scope.Fork()
			tp, terr := f(d.(OutDone)).Transform(ctx, upstream, childScope)
			if terr != nil {
				return zero, terr
			}
			tail = tp
			return tail(ctx)
		}, nil
	})
}

// Concat runs a then b, adopting b's done value.
func Concat[Out, OutDone, In, InDone any](a, b Channel[Out, OutDone, In, InDone]) Channel[Out, OutDone, In, InDone] {
	return ConcatWith[Out, OutDone, In, InDone, OutDone](a, func(OutDone) Channel[Out, OutDone, In, InDone] { return b })
}

func isRecoverable(err error) bool {
	if _, ok := IsHalt(err); ok {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func catchWith[Out, OutDone, In, InDone any](ch Channel[Out, OutDone, In, InDone], shouldCatch func(error) bool, recover func(error) Channel[Out, OutDone, In, InDone]) Channel[Out, OutDone, In, InDone] {
	return newChannel[Out, OutDone, In, InDone](func(ctx context.Context, upstream Pull[In], scope *Scope) (Pull[Out], error) {
		up, err := ch.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}

		var tail Pull[Out]
		return func(ctx context.Context) (Out, error) {
			var zero Out
			if tail != nil {
				return tail(ctx)
			}
			v, perr := up(ctx)
			if perr == nil {
				return v, nil
			}
			if !isRecoverable(perr) || !shouldCatch(perr) {
				return zero, perr
			}
			childScope := scope.Fork()
			tp, terr := recover(perr).Transform(ctx, upstream, childScope)
			if terr != nil {
				return zero, terr
			}
			tail = tp
			return tail(ctx)
		}, nil
	})
}

// Catch recovers from an ordinary typed failure by substituting a fresh
// Channel built from the error, keeping the surrounding pipeline intact.
// Halts, defects, and interruption are never caught.
func Catch[Out, OutDone, In, InDone any](ch Channel[Out, OutDone, In, InDone], recover func(error) Channel[Out, OutDone, In, InDone]) Channel[Out, OutDone, In, InDone] {
	return catchWith(ch, func(err error) bool { return !IsDefect(err) }, recover)
}

// CatchCause is Catch but also recovers defects, the outermost-scope
// recovery spec.md §7 allows for. Halts are still never caught.
func CatchCause[Out, OutDone, In, InDone any](ch Channel[Out, OutDone, In, InDone], recover func(error) Channel[Out, OutDone, In, InDone]) Channel[Out, OutDone, In, InDone] {
	return catchWith(ch, func(error) bool { return true }, recover)
}

// CatchFilter recovers only the ordinary typed failures predicate
// accepts; everything else (including non-matching failures) propagates.
func CatchFilter[Out, OutDone, In, InDone any](ch Channel[Out, OutDone, In, InDone], predicate func(error) bool, recover func(error) Channel[Out, OutDone, In, InDone]) Channel[Out, OutDone, In, InDone] {
	return catchWith(ch, func(err error) bool { return !IsDefect(err) && predicate(err) }, recover)
}

// CatchTag recovers only ordinary typed failures matching target via
// errors.As, passing the matched value to recover.
func CatchTag[Out, OutDone, In, InDone, T error](ch Channel[Out, OutDone, In, InDone], recover func(T) Channel[Out, OutDone, In, InDone]) Channel[Out, OutDone, In, InDone] {
	return catchWith(ch,
		func(err error) bool {
			if IsDefect(err) {
				return false
			}
			var t T
			return errors.As(err, &t)
		},
		func(err error) Channel[Out, OutDone, In, InDone] {
			var t T
			errors.As(err, &t)
			return recover(t)
		},
	)
}

// PipeTo invokes other's transform with self's output pull as upstream;
// both share the parent scope.
func PipeTo[Out, OutDone, In, InDone, NewOut, NewOutDone any](self Channel[Out, OutDone, In, InDone], other Channel[NewOut, NewOutDone, Out, OutDone]) Channel[NewOut, NewOutDone, In, InDone] {
	return newChannel[NewOut, NewOutDone, In, InDone](func(ctx context.Context, upstream Pull[In], scope *Scope) (Pull[NewOut], error) {
		selfPull, err := self.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}
		return other.Transform(ctx, selfPull, scope)
	})
}

// pipeToOrFailSentinel tags a failure encoded as a defect by PipeToOrFail
// so only PipeToOrFail itself unwraps it back into a typed failure,
// resolving spec.md §9's open question about defects that happen to
// carry a halt-shaped payload: only sentinel-tagged defects are ever
// unwrapped here.
type pipeToOrFailSentinel struct{ err error }

// PipeToOrFail is PipeTo, but self's ordinary failures are wrapped as
// defects before other observes them (so other cannot catch them); on
// exit they are unwrapped and re-surfaced as failures of the composite.
// Halts still pass through unchanged.
func PipeToOrFail[Out, OutDone, In, InDone, NewOut, NewOutDone any](self Channel[Out, OutDone, In, InDone], other Channel[NewOut, NewOutDone, Out, OutDone]) Channel[NewOut, NewOutDone, In, InDone] {
	return newChannel[NewOut, NewOutDone, In, InDone](func(ctx context.Context, upstream Pull[In], scope *Scope) (Pull[NewOut], error) {
		selfPull, err := self.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}

		wrapped := func(ctx context.Context) (Out, error) {
			v, perr := selfPull(ctx)
			if perr == nil {
				return v, nil
			}
			if _, ok := IsHalt(perr); ok {
				return v, perr
			}
			return v, Die(&pipeToOrFailSentinel{err: perr})
		}

		otherPull, err := other.Transform(ctx, wrapped, scope)
		if err != nil {
			return nil, unwrapSentinel(err)
		}

		return func(ctx context.Context) (NewOut, error) {
			v, perr := otherPull(ctx)
			if perr != nil {
				return v, unwrapSentinel(perr)
			}
			return v, nil
		}, nil
	})
}

func unwrapSentinel(err error) error {
	var d *Defect
	if errors.As(err, &d) {
		if s, ok := d.Value.(*pipeToOrFailSentinel); ok {
			return s.err
		}
	}
	return err
}

// EmbedInput redirects a Channel's input source: f(upstream) is forked
// in a child scope and its output pull becomes ch's input.
func EmbedInput[Out, OutDone, In, InDone, NewIn, NewInDone any](ch Channel[Out, OutDone, In, InDone], f func(Pull[NewIn]) Channel[In, InDone, NewIn, NewInDone]) Channel[Out, OutDone, NewIn, NewInDone] {
	return newChannel[Out, OutDone, NewIn, NewInDone](func(ctx context.Context, upstream Pull[NewIn], scope *Scope) (Pull[Out], error) {
		childScope := scope.Fork()
		redirected, err := f(upstream).Transform(ctx, upstream, childScope)
		if err != nil {
			childScope.Close(Exit{Err: err})
			return nil, err
		}
		return ch.Transform(ctx, redirected, scope)
	})
}

// OnExit attaches finalizer to a scope forked for ch, firing exactly once
// with the pull's own terminal exit (success on halt, the error
// otherwise) independent of the parent scope's eventual exit.
func OnExit[Out, OutDone, In, InDone any](ch Channel[Out, OutDone, In, InDone], finalizer func(Exit)) Channel[Out, OutDone, In, InDone] {
	return newChannel[Out, OutDone, In, InDone](func(ctx context.Context, upstream Pull[In], scope *Scope) (Pull[Out], error) {
		childScope := scope.Fork()
		childScope.AddFinalizer(finalizer)

		up, err := ch.Transform(ctx, upstream, childScope)
		if err != nil {
			childScope.Close(Exit{Err: err})
			return nil, err
		}

		closed := false
		closeWith := func(err error) {
			if closed {
				return
			}
			closed = true
			exit := Exit{Err: err}
			if _, ok := IsHalt(err); ok {
				exit = ExitSuccess
			}
			childScope.Close(exit)
		}

		return func(ctx context.Context) (Out, error) {
			v, perr := up(ctx)
			if perr != nil {
				closeWith(perr)
			}
			return v, perr
		}, nil
	})
}

// Ensuring is OnExit under the name spec.md uses for the same
// combinator.
func Ensuring[Out, OutDone, In, InDone any](ch Channel[Out, OutDone, In, InDone], effect func(Exit)) Channel[Out, OutDone, In, InDone] {
	return OnExit(ch, effect)
}
