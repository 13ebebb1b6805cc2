package flow

import "context"

// Transform is the closure that defines a Channel: given the pull it is
// layered on top of and the scope it may acquire resources against, it
// produces the downstream pull. Building a Channel runs nothing; its
// transform runs only once one of the Run* functions (or a combinator
// wrapping it) invokes it, and may then acquire resources against scope
// or fork worker goroutines (spec.md §4.1.1).
type Transform[Out, OutDone, In, InDone any] func(ctx context.Context, upstream Pull[In], scope *Scope) (Pull[Out], error)

// Channel is the general bidirectional-ish pipe: it produces Out values,
// terminates with an OutDone value, and consumes In values produced (and
// terminated with InDone) by whatever is upstream of it.
type Channel[Out, OutDone, In, InDone any] struct {
	Transform Transform[Out, OutDone, In, InDone]
}

func newChannel[Out, OutDone, In, InDone any](t Transform[Out, OutDone, In, InDone]) Channel[Out, OutDone, In, InDone] {
	return Channel[Out, OutDone, In, InDone]{Transform: t}
}

// Succeed builds a Channel that yields v once, then halts with the zero
// value of OutDone.
func Succeed[Out, OutDone, In, InDone any](v Out) Channel[Out, OutDone, In, InDone] {
	return newChannel[Out, OutDone, In, InDone](func(_ context.Context, _ Pull[In], _ *Scope) (Pull[Out], error) {
		emitted := false
		return func(ctx context.Context) (Out, error) {
			var zero Out
			if emitted {
				var done OutDone
				return zero, Halt(done)
			}
			emitted = true
			return v, nil
		}, nil
	})
}

// End builds a Channel that halts immediately with done, producing no
// values.
func End[Out, OutDone, In, InDone any](done OutDone) Channel[Out, OutDone, In, InDone] {
	return newChannel[Out, OutDone, In, InDone](func(_ context.Context, _ Pull[In], _ *Scope) (Pull[Out], error) {
		return func(ctx context.Context) (Out, error) {
			var zero Out
			return zero, Halt(done)
		}, nil
	})
}

// Empty is End with a void done value: the canonical "no data" Channel.
func Empty[Out, In, InDone any]() Channel[Out, struct{}, In, InDone] {
	return End[Out, struct{}, In, InDone](struct{}{})
}

// Never builds a Channel whose pull suspends forever, until ctx is done.
func Never[Out, OutDone, In, InDone any]() Channel[Out, OutDone, In, InDone] {
	return newChannel[Out, OutDone, In, InDone](func(_ context.Context, _ Pull[In], _ *Scope) (Pull[Out], error) {
		return func(ctx context.Context) (Out, error) {
			var zero Out
			<-ctx.Done()
			return zero, ctx.Err()
		}, nil
	})
}

// Fail builds a Channel whose pull immediately fails with err.
func Fail[Out, OutDone, In, InDone any](err error) Channel[Out, OutDone, In, InDone] {
	return FailCause[Out, OutDone, In, InDone](err)
}

// FailCause builds a Channel whose pull immediately fails with cause
// (typically built with Halt or Die, or an ordinary error).
func FailCause[Out, OutDone, In, InDone any](cause error) Channel[Out, OutDone, In, InDone] {
	return newChannel[Out, OutDone, In, InDone](func(_ context.Context, _ Pull[In], _ *Scope) (Pull[Out], error) {
		return func(ctx context.Context) (Out, error) {
			var zero Out
			return zero, cause
		}, nil
	})
}

// DieChannel builds a Channel whose pull immediately terminates with a
// defect built from v, the way an unrecovered panic would.
func DieChannel[Out, OutDone, In, InDone any](v any) Channel[Out, OutDone, In, InDone] {
	return FailCause[Out, OutDone, In, InDone](Die(v))
}

// Sync builds a Channel that lazily evaluates f on first pull, yields its
// result once, then halts. A panic inside f surfaces as a defect.
func Sync[Out, OutDone, In, InDone any](f func() Out) Channel[Out, OutDone, In, InDone] {
	return newChannel[Out, OutDone, In, InDone](func(_ context.Context, _ Pull[In], _ *Scope) (Pull[Out], error) {
		emitted := false
		return func(ctx context.Context) (out Out, err error) {
			if emitted {
				var done OutDone
				return out, Halt(done)
			}
			emitted = true
			err = recoverToDefect(func() error {
				out = f()
				return nil
			})
			return out, err
		}, nil
	})
}

// Suspend lazily reifies a Channel: thunk is invoked only when the
// returned Channel's transform itself is invoked, not at construction
// time.
func Suspend[Out, OutDone, In, InDone any](thunk func() Channel[Out, OutDone, In, InDone]) Channel[Out, OutDone, In, InDone] {
	return newChannel[Out, OutDone, In, InDone](func(ctx context.Context, upstream Pull[In], scope *Scope) (Pull[Out], error) {
		return thunk().Transform(ctx, upstream, scope)
	})
}

// Unwrap reifies a Channel produced by an effectful computation: f is run
// when the returned Channel's transform is invoked, and its error (if
// any) fails the transform itself rather than the resulting pull.
func Unwrap[Out, OutDone, In, InDone any](f func(context.Context) (Channel[Out, OutDone, In, InDone], error)) Channel[Out, OutDone, In, InDone] {
	return newChannel[Out, OutDone, In, InDone](func(ctx context.Context, upstream Pull[In], scope *Scope) (Pull[Out], error) {
		ch, err := f(ctx)
		if err != nil {
			return nil, err
		}
		return ch.Transform(ctx, upstream, scope)
	})
}
