package flow

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Stream specializes Channel to OutElem = Chunk[A], OutDone = struct{},
// with its input side unused (spec.md §3.4). Every Stream combinator is
// a thin lift over a Channel combinator that keeps the chunk
// non-emptiness invariant: a chunk that would come out empty after a
// filtering step is never emitted; the combinator pulls upstream again
// instead.
type Stream[A any] struct {
	Channel Channel[Chunk[A], struct{}, any, any]
}

func newStream[A any](t Transform[Chunk[A], struct{}, any, any]) Stream[A] {
	return Stream[A]{Channel: newChannel(t)}
}

// StreamIterator is a pull-style element sequence used to build a
// Stream: yield is called for each value, stopping early if it returns
// false; a non-nil return fails the Stream, nil halts it normally.
// Modelled directly on the teacher's Seq[T] (rheos.go).
type StreamIterator[A any] func(yield func(A) bool) error

// StreamFromIterator batches it's values into chunks (WithChunkSize,
// default DefaultChunkSize) via a worker goroutine forked onto the
// scope, the same way the teacher's FromIter forks through errgroup.
func StreamFromIterator[A any](it StreamIterator[A], ops ...Option) Stream[A] {
	cfg := applyOptions(ops)
	chunkSize := cfg.chunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return newStream[A](func(ctx context.Context, _ Pull[any], scope *Scope) (Pull[Chunk[A]], error) {
		q := NewQueue[Chunk[A]](cfg.capacity, cfg.strategy)

		var eg errgroup.Group
		eg.Go(func() error {
			return recoverToDefect(func() error {
				batch := make(Chunk[A], 0, chunkSize)
				var offerErr error
				flush := func() bool {
					if len(batch) == 0 {
						return true
					}
					offerErr = q.Offer(ctx, batch)
					batch = make(Chunk[A], 0, chunkSize)
					return offerErr == nil
				}

				iterErr := it(func(v A) bool {
					batch = append(batch, v)
					if len(batch) >= chunkSize {
						return flush()
					}
					return true
				})

				if offerErr != nil {
					q.End(offerErr)
					return offerErr
				}
				if iterErr != nil {
					q.End(iterErr)
					return iterErr
				}
				if !flush() {
					q.End(offerErr)
					return offerErr
				}
				q.End(HaltVoid)
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

// StreamFromSlice builds a Stream yielding every element of items, in
// order, batched into chunks.
func StreamFromSlice[A any](items []A, ops ...Option) Stream[A] {
	return StreamFromIterator[A](func(yield func(A) bool) error {
		for _, v := range items {
			if !yield(v) {
				break
			}
		}
		return nil
	}, ops...)
}

// StreamOf builds a single-element Stream.
func StreamOf[A any](v A) Stream[A] {
	return StreamFromSlice([]A{v})
}

// StreamEmpty builds a Stream that halts immediately, producing no
// elements.
func StreamEmpty[A any]() Stream[A] {
	return Stream[A]{Channel: Empty[Chunk[A], any, any]()}
}

// StreamFail builds a Stream whose pull immediately fails with err.
func StreamFail[A any](err error) Stream[A] {
	return Stream[A]{Channel: Fail[Chunk[A], struct{}, any, any](err)}
}

// StreamNever builds a Stream that never produces a value or halts on
// its own; it only ever terminates via ctx cancellation.
func StreamNever[A any]() Stream[A] {
	return Stream[A]{Channel: Never[Chunk[A], struct{}, any, any]()}
}

func chunkMapFilter[A, B any](ch Channel[Chunk[A], struct{}, any, any], f func(A) (B, bool)) Channel[Chunk[B], struct{}, any, any] {
	return newChannel[Chunk[B], struct{}, any, any](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[Chunk[B]], error) {
		up, err := ch.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (Chunk[B], error) {
			for {
				c, perr := up(ctx)
				if perr != nil {
					return nil, perr
				}
				out := make(Chunk[B], 0, len(c))
				for _, v := range c {
					if nv, ok := f(v); ok {
						out = append(out, nv)
					}
				}
				if len(out) > 0 {
					return out, nil
				}
			}
		}, nil
	})
}

// StreamMap applies f to every element, chunk by chunk.
func StreamMap[A, B any](s Stream[A], f func(A) B) Stream[B] {
	return Stream[B]{Channel: chunkMapFilter(s.Channel, func(v A) (B, bool) { return f(v), true })}
}

// StreamFilter keeps only the elements pred accepts, dropping chunks
// that become empty.
func StreamFilter[A any](s Stream[A], pred func(A) bool) Stream[A] {
	return Stream[A]{Channel: chunkMapFilter(s.Channel, func(v A) (A, bool) { return v, pred(v) })}
}

// StreamFilterMap both maps and filters: f returns the mapped value and
// whether to keep it.
func StreamFilterMap[A, B any](s Stream[A], f func(A) (B, bool)) Stream[B] {
	return Stream[B]{Channel: chunkMapFilter(s.Channel, f)}
}

// StreamTake emits only the first n elements, splitting the chunk that
// straddles the boundary and halting once n is reached.
func StreamTake[A any](s Stream[A], n int) Stream[A] {
	return newStream[A](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[Chunk[A]], error) {
		up, err := s.Channel.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}
		remaining := n
		return func(ctx context.Context) (Chunk[A], error) {
			if remaining <= 0 {
				return nil, HaltVoid
			}
			c, perr := up(ctx)
			if perr != nil {
				return nil, perr
			}
			if len(c) <= remaining {
				remaining -= len(c)
				return c, nil
			}
			out := c[:remaining]
			remaining = 0
			return out, nil
		}, nil
	})
}

// StreamDrop discards the first n elements, splitting the chunk that
// straddles the boundary.
func StreamDrop[A any](s Stream[A], n int) Stream[A] {
	return newStream[A](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[Chunk[A]], error) {
		up, err := s.Channel.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}
		toDrop := n
		return func(ctx context.Context) (Chunk[A], error) {
			for {
				c, perr := up(ctx)
				if perr != nil {
					return nil, perr
				}
				if toDrop == 0 {
					return c, nil
				}
				if len(c) <= toDrop {
					toDrop -= len(c)
					continue
				}
				out := c[toDrop:]
				toDrop = 0
				return out, nil
			}
		}, nil
	})
}

// StreamTakeWhile emits elements while pred holds, splitting the chunk
// at the first rejection and halting there (the rest is discarded).
func StreamTakeWhile[A any](s Stream[A], pred func(A) bool) Stream[A] {
	return newStream[A](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[Chunk[A]], error) {
		up, err := s.Channel.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}
		stopped := false
		return func(ctx context.Context) (Chunk[A], error) {
			if stopped {
				return nil, HaltVoid
			}
			c, perr := up(ctx)
			if perr != nil {
				return nil, perr
			}
			for i, v := range c {
				if !pred(v) {
					stopped = true
					if i == 0 {
						return nil, HaltVoid
					}
					return c[:i], nil
				}
			}
			return c, nil
		}, nil
	})
}

// StreamTakeUntil emits elements up to and including the first one pred
// accepts, then halts.
func StreamTakeUntil[A any](s Stream[A], pred func(A) bool) Stream[A] {
	return newStream[A](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[Chunk[A]], error) {
		up, err := s.Channel.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}
		stopped := false
		return func(ctx context.Context) (Chunk[A], error) {
			if stopped {
				return nil, HaltVoid
			}
			c, perr := up(ctx)
			if perr != nil {
				return nil, perr
			}
			for i, v := range c {
				if pred(v) {
					stopped = true
					return c[:i+1], nil
				}
			}
			return c, nil
		}, nil
	})
}

// StreamDropWhile discards elements while pred holds, then emits the
// remainder of that chunk and every chunk after, unchanged.
func StreamDropWhile[A any](s Stream[A], pred func(A) bool) Stream[A] {
	return newStream[A](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[Chunk[A]], error) {
		up, err := s.Channel.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}
		dropping := true
		return func(ctx context.Context) (Chunk[A], error) {
			for {
				c, perr := up(ctx)
				if perr != nil {
					return nil, perr
				}
				if !dropping {
					return c, nil
				}
				idx := 0
				for idx < len(c) && pred(c[idx]) {
					idx++
				}
				if idx < len(c) {
					dropping = false
					return c[idx:], nil
				}
			}
		}, nil
	})
}

// StreamRechunk buffers elements into chunks of exactly size, flushing
// whatever remains buffered when upstream halts.
func StreamRechunk[A any](s Stream[A], size int) Stream[A] {
	return newStream[A](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[Chunk[A]], error) {
		up, err := s.Channel.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}
		buf := make(Chunk[A], 0, size)
		halted := false
		var haltErr error
		return func(ctx context.Context) (Chunk[A], error) {
			for {
				if len(buf) >= size {
					out := append(Chunk[A]{}, buf[:size]...)
					buf = append(Chunk[A]{}, buf[size:]...)
					return out, nil
				}
				if halted {
					if len(buf) > 0 {
						out := buf
						buf = nil
						return out, nil
					}
					return nil, haltErr
				}
				c, perr := up(ctx)
				if perr != nil {
					if _, ok := IsHalt(perr); ok {
						halted = true
						haltErr = perr
						continue
					}
					return nil, perr
				}
				buf = append(buf, c...)
				if len(buf) >= size {
					out := append(Chunk[A]{}, buf[:size]...)
					buf = append(Chunk[A]{}, buf[size:]...)
					return out, nil
				}
			}
		}, nil
	})
}

// StreamFlatMap creates a child Stream per element and, sequentially,
// drains each fully before pulling the next upstream element. Pass
// opts.Concurrency > 1 to flatten concurrently instead, delegating to
// MergeAllChannels exactly like the Channel-level FlatMap does.
func StreamFlatMap[A, B any](s Stream[A], f func(A) Stream[B], opts FlatMapOptions) Stream[B] {
	elems := chunksToElems(s.Channel)
	mapped := FlatMap[A, struct{}, any, any, B](elems, func(v A) Channel[B, any, any, any] {
		return castOutDoneToAny(chunksToElems(f(v).Channel))
	}, opts)
	return Stream[B]{Channel: elemsToChunks(mapped)}
}

// castOutDoneToAny widens a struct{}-terminated Channel to one whose
// halt value is typed any, the shape FlatMap's per-element constructor
// requires.
func castOutDoneToAny[Out, In, InDone any](ch Channel[Out, struct{}, In, InDone]) Channel[Out, any, In, InDone] {
	return newChannel[Out, any, In, InDone](func(ctx context.Context, upstream Pull[In], scope *Scope) (Pull[Out], error) {
		up, err := ch.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (Out, error) {
			v, perr := up(ctx)
			if perr != nil {
				if _, ok := IsHalt(perr); ok {
					return v, Halt[any](struct{}{})
				}
				return v, perr
			}
			return v, nil
		}, nil
	})
}

// StreamConcat runs a then b in sequence.
func StreamConcat[A any](a, b Stream[A]) Stream[A] {
	return Stream[A]{Channel: Concat(a.Channel, b.Channel)}
}

// StreamMapEffect is MapEffect lifted to chunk-at-a-time element
// processing: f runs once per element (not once per chunk), preserving
// or dropping order per opts exactly like Channel's MapEffect.
func StreamMapEffect[A, B any](s Stream[A], f func(context.Context, A) (B, error), opts MapEffectOptions) Stream[B] {
	elems := chunksToElems(s.Channel)
	mapped := MapEffect(elems, f, opts)
	return Stream[B]{Channel: elemsToChunks(mapped)}
}

// chunksToElems un-chunks a chunked Channel into one element per pull,
// halting with struct{}{} once upstream halts.
func chunksToElems[A any](ch Channel[Chunk[A], struct{}, any, any]) Channel[A, struct{}, any, any] {
	return newChannel[A, struct{}, any, any](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[A], error) {
		up, err := ch.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}
		var buf Chunk[A]
		return func(ctx context.Context) (A, error) {
			var zero A
			for len(buf) == 0 {
				c, perr := up(ctx)
				if perr != nil {
					return zero, perr
				}
				buf = c
			}
			v := buf[0]
			buf = buf[1:]
			return v, nil
		}, nil
	})
}

// elemsToChunks batches an element-at-a-time Channel back into
// single-element chunks (one per upstream pull): it preserves exact
// emission order/timing, at the cost of not re-coalescing into larger
// chunks (StreamRechunk does that when desired).
func elemsToChunks[A any](ch Channel[A, struct{}, any, any]) Channel[Chunk[A], struct{}, any, any] {
	return newChannel[Chunk[A], struct{}, any, any](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[Chunk[A]], error) {
		up, err := ch.Transform(ctx, upstream, scope)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (Chunk[A], error) {
			v, perr := up(ctx)
			if perr != nil {
				return nil, perr
			}
			return Chunk[A]{v}, nil
		}, nil
	})
}
