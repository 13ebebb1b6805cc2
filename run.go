package flow

import (
	"context"
	"sync"
)

// runStream drives s to completion against a fresh root scope, calling
// onChunk for every chunk it produces; the scope closes with the
// pipeline's own terminal exit once done (spec.md §4.4: Run* functions
// own the whole scope tree for their pipeline).
func runStream[A any](ctx context.Context, s Stream[A], onChunk func(Chunk[A]) error) (err error) {
	scope := NewScope(ctx)
	defer func() {
		if err != nil {
			scope.Close(Exit{Err: err})
		} else {
			scope.Close(ExitSuccess)
		}
	}()

	pull, terr := s.Channel.Transform(scope.Context(), haltVoidPull[any], scope)
	if terr != nil {
		err = terr
		return err
	}

	for {
		c, perr := pull(scope.Context())
		if perr != nil {
			if _, ok := IsHalt(perr); ok {
				return nil
			}
			err = perr
			return err
		}
		if oerr := onChunk(c); oerr != nil {
			err = oerr
			return err
		}
	}
}

// RunCollect drives s to completion, collecting every element.
func RunCollect[A any](ctx context.Context, s Stream[A]) ([]A, error) {
	var out []A
	err := runStream(ctx, s, func(c Chunk[A]) error {
		out = append(out, c...)
		return nil
	})
	return out, err
}

// RunDrain drives s to completion, discarding every element.
func RunDrain[A any](ctx context.Context, s Stream[A]) error {
	return runStream(ctx, s, func(Chunk[A]) error { return nil })
}

// RunCount drives s to completion, counting its elements.
func RunCount[A any](ctx context.Context, s Stream[A]) (int, error) {
	n := 0
	err := runStream(ctx, s, func(c Chunk[A]) error {
		n += len(c)
		return nil
	})
	return n, err
}

// RunForEach drives s to completion, invoking f for every element; f's
// error stops the run and is returned.
func RunForEach[A any](ctx context.Context, s Stream[A], f func(A) error) error {
	return runStream(ctx, s, func(c Chunk[A]) error {
		for _, v := range c {
			if ferr := f(v); ferr != nil {
				return ferr
			}
		}
		return nil
	})
}

// RunFold drives s to completion, folding every element into zero with
// f.
func RunFold[A, R any](ctx context.Context, s Stream[A], zero R, f func(R, A) R) (R, error) {
	acc := zero
	err := runStream(ctx, s, func(c Chunk[A]) error {
		for _, v := range c {
			acc = f(acc, v)
		}
		return nil
	})
	return acc, err
}

// RunIntoQueue drives s to completion, offering every element into q and
// attaching s's terminal cause to q when done.
func RunIntoQueue[A any](ctx context.Context, s Stream[A], q *Queue[A]) error {
	err := runStream(ctx, s, func(c Chunk[A]) error {
		_, oerr := q.OfferAll(ctx, c)
		return oerr
	})
	if err != nil {
		q.End(err)
		return err
	}
	q.End(HaltVoid)
	return nil
}

// RunIntoPubSub drives s to completion, publishing every element to p
// and attaching s's terminal cause to p when done.
func RunIntoPubSub[A any](ctx context.Context, s Stream[A], p *PubSub[A]) error {
	err := runStream(ctx, s, func(c Chunk[A]) error {
		for _, v := range c {
			if perr := p.Publish(ctx, v); perr != nil {
				return perr
			}
		}
		return nil
	})
	if err != nil {
		p.End(err)
		return err
	}
	p.End(HaltVoid)
	return nil
}

// RunSink drives s into sink, returning sink's result.
func RunSink[A, R any](ctx context.Context, s Stream[A], sink Sink[R, A]) (R, error) {
	var zero R
	scope := NewScope(ctx)

	pull, err := s.Channel.Transform(scope.Context(), haltVoidPull[any], scope)
	if err != nil {
		scope.Close(Exit{Err: err})
		return zero, err
	}

	end, serr := sink.Transform(scope.Context(), pull, scope)
	if serr != nil {
		scope.Close(Exit{Err: serr})
		return zero, serr
	}

	scope.Close(ExitSuccess)
	return end.Value, nil
}

// ToPull reifies s against a fresh root scope and returns a pull guarded
// by a one-permit mutex (spec.md §4.4: a Pull is not safe to invoke
// concurrently), along with the owning scope. The caller must close
// scope once done driving the pull, the same resource-ownership
// contract AcquireUseRelease's release callback observes.
func ToPull[A any](ctx context.Context, s Stream[A]) (Pull[Chunk[A]], *Scope, error) {
	scope := NewScope(ctx)
	pull, err := s.Channel.Transform(scope.Context(), haltVoidPull[any], scope)
	if err != nil {
		scope.Close(Exit{Err: err})
		return nil, scope, err
	}

	var mu sync.Mutex
	guarded := func(ctx context.Context) (Chunk[A], error) {
		mu.Lock()
		defer mu.Unlock()
		return pull(ctx)
	}
	return guarded, scope, nil
}
