package flow

import "context"

// StreamMerge interleaves a and b, ending according to haltStrategy
// (spec.md glossary); it is Merge lifted to the chunk level, since chunk
// boundaries carry no ordering guarantee across sources anyway.
func StreamMerge[A any](a, b Stream[A], haltStrategy HaltStrategy) Stream[A] {
	return Stream[A]{Channel: MergeChannels(a.Channel, b.Channel, haltStrategy, 0)}
}

// StreamMergeAll interleaves every stream in streams, running up to
// concurrency of them at once (concurrency <= 0 means unbounded).
func StreamMergeAll[A any](streams []Stream[A], concurrency int) Stream[A] {
	chans := make([]Channel[Chunk[A], struct{}, any, any], len(streams))
	for i, s := range streams {
		chans[i] = s.Channel
	}
	outer := FromSlice[Channel[Chunk[A], struct{}, any, any], struct{}, any, any](chans, struct{}{})
	merged := MergeAllChannels[Chunk[A], struct{}, struct{}, any, any](outer, concurrency, 0, false)
	return Stream[A]{Channel: merged}
}

type raceResult[A any] struct {
	idx int
	v   Chunk[A]
	err error
}

// StreamRace runs a and b concurrently; whichever produces its first
// value, halt, or failure first wins, and the loser's scope is closed
// immediately. Every subsequent pull comes from the winner alone.
func StreamRace[A any](a, b Stream[A]) Stream[A] {
	return newStream[A](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[Chunk[A]], error) {
		leftScope := scope.Fork()
		rightScope := scope.Fork()
		pullA, err := a.Channel.Transform(ctx, upstream, leftScope)
		if err != nil {
			return nil, err
		}
		pullB, err := b.Channel.Transform(ctx, upstream, rightScope)
		if err != nil {
			return nil, err
		}

		childCtx, cancel := context.WithCancel(ctx)
		scope.AddFinalizer(func(Exit) { cancel() })

		res := make(chan raceResult[A], 2)
		go func() {
			v, perr := pullA(childCtx)
			select {
			case res <- raceResult[A]{idx: 0, v: v, err: perr}:
			case <-childCtx.Done():
			}
		}()
		go func() {
			v, perr := pullB(childCtx)
			select {
			case res <- raceResult[A]{idx: 1, v: v, err: perr}:
			case <-childCtx.Done():
			}
		}()

		var winner Pull[Chunk[A]]
		decided := false

		return func(ctx context.Context) (Chunk[A], error) {
			if decided {
				return winner(ctx)
			}
			select {
			case r := <-res:
				decided = true
				if r.idx == 0 {
					winner = pullA
					rightScope.Close(ExitSuccess)
				} else {
					winner = pullB
					leftScope.Close(ExitSuccess)
				}
				return r.v, r.err
			case <-ctx.Done():
				var zero Chunk[A]
				return zero, ctx.Err()
			}
		}, nil
	})
}

// StreamRaceAll generalizes StreamRace to any number of streams.
func StreamRaceAll[A any](streams []Stream[A]) Stream[A] {
	if len(streams) == 0 {
		return StreamEmpty[A]()
	}
	out := streams[0]
	for _, s := range streams[1:] {
		out = StreamRace(out, s)
	}
	return out
}
