package flow

import (
	"context"
	"sync"
)

// StreamZip pairs up elements of a and b positionally, ending as soon as
// either side halts (discarding any element the longer side still had
// buffered).
func StreamZip[A, B any](a Stream[A], b Stream[B]) Stream[Pair[A, B]] {
	return StreamZipWith(a, b, func(x A, y B) Pair[A, B] { return Pair[A, B]{First: x, Second: y} })
}

// Pair is the element type StreamZip produces.
type Pair[A, B any] struct {
	First  A
	Second B
}

// StreamZipWith is StreamZip generalized over the combining function. It
// runs both upstreams concurrently (fork-join per tick): whichever side
// has exhausted its carried-over chunk gets pulled again, both pulls
// happening in parallel when both sides need one, the same fork/join
// shape StreamZipLatestWith uses for its event fan-in. Each tick zips as
// many pairs as the shorter of the two available chunks allows; the
// longer side's remainder is kept as a leftover chunk and fed into the
// next tick instead of discarding chunk boundaries.
func StreamZipWith[A, B, C any](a Stream[A], b Stream[B], f func(A, B) C) Stream[C] {
	return newStream[C](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[Chunk[C]], error) {
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

		var leftoverA Chunk[A]
		var leftoverB Chunk[B]
		var halted bool
		var haltErr error

		return func(ctx context.Context) (Chunk[C], error) {
			if halted {
				return nil, haltErr
			}

			var wg sync.WaitGroup
			var errA, errB error
			if len(leftoverA) == 0 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					c, perr := pullA(ctx)
					if perr != nil {
						errA = perr
						return
					}
					leftoverA = c
				}()
			}
			if len(leftoverB) == 0 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					c, perr := pullB(ctx)
					if perr != nil {
						errB = perr
						return
					}
					leftoverB = c
				}()
			}
			wg.Wait()

			if errA != nil || errB != nil {
				halted = true
				if errA != nil {
					haltErr = errA
				} else {
					haltErr = errB
				}
				return nil, haltErr
			}

			n := len(leftoverA)
			if len(leftoverB) < n {
				n = len(leftoverB)
			}
			out := make(Chunk[C], n)
			for i := 0; i < n; i++ {
				out[i] = f(leftoverA[i], leftoverB[i])
			}
			leftoverA = leftoverA[n:]
			leftoverB = leftoverB[n:]
			return out, nil
		}, nil
	})
}

// zipLatestSlot tracks one side of a StreamZipLatest: whether it has
// produced at least one value yet, and its most recently observed one.
type zipLatestSlot[A any] struct {
	has bool
	val A
}

// StreamZipLatest pairs each new element from either side with the most
// recent element observed on the other, emitting as soon as both sides
// have produced at least once. If a side halts without ever having
// emitted, the zip halts at once, having emitted nothing (spec.md §9 open question:
// a side that halts having never emitted cannot contribute a latest
// value, so the combination ends there rather than stalling forever).
func StreamZipLatest[A, B any](a Stream[A], b Stream[B]) Stream[Pair[A, B]] {
	return StreamZipLatestWith(a, b, func(x A, y B) Pair[A, B] { return Pair[A, B]{First: x, Second: y} })
}

// StreamZipLatestWith is StreamZipLatest generalized over the combining
// function.
func StreamZipLatestWith[A, B, C any](a Stream[A], b Stream[B], f func(A, B) C) Stream[C] {
	type event struct {
		isA  bool
		val  any
		err  error
		done bool
	}

	return newStream[C](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[Chunk[C]], error) {
		elemsA := chunksToElems(a.Channel)
		elemsB := chunksToElems(b.Channel)

		leftScope := scope.Fork()
		rightScope := scope.Fork()
		pullA, err := elemsA.Transform(ctx, upstream, leftScope)
		if err != nil {
			return nil, err
		}
		pullB, err := elemsB.Transform(ctx, upstream, rightScope)
		if err != nil {
			return nil, err
		}

		events := make(chan event)
		childCtx, cancel := context.WithCancel(ctx)
		scope.AddFinalizer(func(Exit) { cancel() })

		go func() {
			for {
				v, perr := pullA(childCtx)
				if perr != nil {
					select {
					case events <- event{isA: true, err: perr, done: true}:
					case <-childCtx.Done():
					}
					return
				}
				select {
				case events <- event{isA: true, val: v}:
				case <-childCtx.Done():
					return
				}
			}
		}()
		go func() {
			for {
				v, perr := pullB(childCtx)
				if perr != nil {
					select {
					case events <- event{isA: false, err: perr, done: true}:
					case <-childCtx.Done():
					}
					return
				}
				select {
				case events <- event{isA: false, val: v}:
				case <-childCtx.Done():
					return
				}
			}
		}()

		var latestA zipLatestSlot[A]
		var latestB zipLatestSlot[B]
		var aDone, bDone bool
		var finalErr error

		return func(ctx context.Context) (Chunk[C], error) {
			for {
				if aDone && bDone {
					if finalErr != nil {
						return nil, finalErr
					}
					return nil, HaltVoid
				}
				select {
				case ev := <-events:
					if ev.done {
						if _, ok := IsHalt(ev.err); !ok {
							finalErr = ev.err
						}
						if ev.isA {
							aDone = true
							bDone = bDone || !latestA.has
						} else {
							bDone = true
							aDone = aDone || !latestB.has
						}
						continue
					}
					if ev.isA {
						latestA = zipLatestSlot[A]{has: true, val: ev.val.(A)}
					} else {
						latestB = zipLatestSlot[B]{has: true, val: ev.val.(B)}
					}
					if latestA.has && latestB.has {
						return Chunk[C]{f(latestA.val, latestB.val)}, nil
					}
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}, nil
	})
}

// StreamZipLatestAll generalizes StreamZipLatest to any number of
// same-typed streams, emitting a fresh snapshot slice each time any
// source produces, once every source has produced at least once.
func StreamZipLatestAll[A any](streams ...Stream[A]) Stream[[]A] {
	type event struct {
		idx  int
		val  A
		err  error
		done bool
	}

	return newStream[[]A](func(ctx context.Context, upstream Pull[any], scope *Scope) (Pull[Chunk[[]A]], error) {
		pulls := make([]Pull[A], len(streams))
		for i, s := range streams {
			childScope := scope.Fork()
			p, err := chunksToElems(s.Channel).Transform(ctx, upstream, childScope)
			if err != nil {
				return nil, err
			}
			pulls[i] = p
		}

		events := make(chan event)
		childCtx, cancel := context.WithCancel(ctx)
		scope.AddFinalizer(func(Exit) { cancel() })

		for i, pull := range pulls {
			i, pull := i, pull
			go func() {
				for {
					v, perr := pull(childCtx)
					if perr != nil {
						select {
						case events <- event{idx: i, err: perr, done: true}:
						case <-childCtx.Done():
						}
						return
					}
					select {
					case events <- event{idx: i, val: v}:
					case <-childCtx.Done():
						return
					}
				}
			}()
		}

		latest := make([]zipLatestSlot[A], len(streams))
		doneCount := 0
		done := make([]bool, len(streams))
		var finalErr error
		allHave := func() bool {
			for _, l := range latest {
				if !l.has {
					return false
				}
			}
			return true
		}
		snapshot := func() []A {
			out := make([]A, len(latest))
			for i, l := range latest {
				out[i] = l.val
			}
			return out
		}

		return func(ctx context.Context) (Chunk[[]A], error) {
			for {
				if doneCount == len(streams) {
					if finalErr != nil {
						return nil, finalErr
					}
					return nil, HaltVoid
				}
				select {
				case ev := <-events:
					if ev.done {
						if _, ok := IsHalt(ev.err); !ok {
							finalErr = ev.err
						}
						if !done[ev.idx] {
							done[ev.idx] = true
							doneCount++
						}
						continue
					}
					latest[ev.idx] = zipLatestSlot[A]{has: true, val: ev.val}
					if allHave() {
						return Chunk[[]A]{snapshot()}, nil
					}
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}, nil
	})
}
