package flow

import "context"

// Pull is one step of a lazy producer. Invoking it returns exactly one of
// three outcomes: a value (ordinary success), a typed failure, or a halt
// cause (see Halt) signalling normal termination with a done value.
//
// A halted pull must return the same halt on every subsequent invocation;
// a failed pull may repeat the failure or surface a new one, at the
// implementer's discretion. Combinators in this package never rely on a
// failed pull being called again.
type Pull[A any] func(ctx context.Context) (A, error)

// Chunk is the unit of throughput for Stream: a non-empty array of
// elements. Combinators filter empty chunks at their boundaries so that
// "has data" and "non-empty chunk" stay equivalent (spec invariant:
// every emitted chunk has length >= 1).
type Chunk[A any] []A

// fromChan turns a receive-only channel plus its terminal cause into a
// Pull: each invocation either receives the next value, observes ctx
// cancellation, or observes the channel's close and returns done as a
// halt. pushTo below is its producer-side twin for offering into that
// same channel.
func fromChan[A any](ch <-chan A, halt func() error) Pull[A] {
	return func(ctx context.Context) (A, error) {
		var zero A
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case v, ok := <-ch:
			if !ok {
				return zero, halt()
			}
			return v, nil
		}
	}
}

// pushTo offers item on ch, suspending until it is accepted or ctx is
// done. It is the producer-side counterpart of fromChan.
func pushTo[A any](ctx context.Context, ch chan<- A, item A) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case ch <- item:
		return nil
	}
}

// haltVoidPull is a Pull that halts immediately with struct{}{}, the
// standard "no upstream" input fed to a top-level Channel's transform by
// Run (spec.md §4.4).
func haltVoidPull[A any](ctx context.Context) (A, error) {
	var zero A
	return zero, HaltVoid
}
