package flow

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// HaltStrategy governs which side's halt ends a Merge (spec.md
// glossary).
type HaltStrategy int

const (
	// HaltBoth ends the merge only once both sides have halted (the
	// default).
	HaltBoth HaltStrategy = iota
	// HaltLeft ends the merge as soon as the left side halts.
	HaltLeft
	// HaltRight ends the merge as soon as the right side halts.
	HaltRight
	// HaltEither ends the merge as soon as either side halts.
	HaltEither
)

type mergeItem[Out any] struct {
	val Out
}

type errBox struct{ err error }

// MergeChannels forks both sides into a shared buffered channel
// (bufferSize 0 giving true rendezvous handoff, matching an unbuffered Go
// channel) and lets haltStrategy decide which side's halt ends the
// merge. An ordinary failure from either side ends the merge immediately
// (spec.md §4.1.3).
func MergeChannels[Out, OutDone, In, InDone any](left, right Channel[Out, OutDone, In, InDone], haltStrategy HaltStrategy, bufferSize int) Channel[Out, OutDone, In, InDone] {
	return newChannel[Out, OutDone, In, InDone](func(ctx context.Context, upstream Pull[In], scope *Scope) (Pull[Out], error) {
		leftScope := scope.Fork()
		rightScope := scope.Fork()

		leftPull, err := left.Transform(ctx, upstream, leftScope)
		if err != nil {
			return nil, err
		}
		rightPull, err := right.Transform(ctx, upstream, rightScope)
		if err != nil {
			return nil, err
		}

		out := make(chan mergeItem[Out], bufferSize)
		childCtx, cancel := context.WithCancel(ctx)

		var leftHalted, rightHalted int32
		var finalErr atomic.Value
		var once sync.Once
		finish := func(err error) {
			once.Do(func() {
				if err != nil {
					finalErr.Store(errBox{err})
				}
				cancel()
			})
		}

		runSide := func(pull Pull[Out], isLeft bool) {
			for {
				v, perr := pull(childCtx)
				if perr != nil {
					_, halted := IsHalt(perr)
					if isLeft {
						atomic.StoreInt32(&leftHalted, 1)
					} else {
						atomic.StoreInt32(&rightHalted, 1)
					}
					if !halted {
						finish(perr)
						return
					}
					switch haltStrategy {
					case HaltLeft:
						if isLeft {
							finish(nil)
						}
					case HaltRight:
						if !isLeft {
							finish(nil)
						}
					case HaltEither:
						finish(nil)
					default: // HaltBoth
						if atomic.LoadInt32(&leftHalted) == 1 && atomic.LoadInt32(&rightHalted) == 1 {
							finish(nil)
						}
					}
					return
				}
				select {
				case out <- mergeItem[Out]{val: v}:
				case <-childCtx.Done():
					return
				}
			}
		}

		var eg errgroup.Group
		eg.Go(func() error { runSide(leftPull, true); return nil })
		eg.Go(func() error { runSide(rightPull, false); return nil })

		go func() {
			_ = eg.Wait()
			close(out)
		}()

		scope.AddFinalizer(func(Exit) {
			cancel()
		})

		return func(ctx context.Context) (Out, error) {
			var zero Out
			select {
			case item, ok := <-out:
				if !ok {
					if v := finalErr.Load(); v != nil {
						return zero, v.(errBox).err
					}
					var done OutDone
					return zero, Halt(done)
				}
				return item.val, nil
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}, nil
	})
}

type innerWorker struct {
	cancel context.CancelFunc
	scope  *Scope
}

// MergeAllChannels pulls a channel of channels and drains up to
// concurrency of them at once into a shared buffered output (default
// size DefaultMergeAllBufferSize when bufferSize <= 0; concurrency <= 0
// means unbounded). switchMode interrupts the oldest still-running inner
// channel instead of waiting for a slot; no Stream combinator in this
// package enables it (spec.md §4.1.3).
func MergeAllChannels[Out, OutDone, OuterDone, In, InDone any](
	outer Channel[Channel[Out, OutDone, In, InDone], OuterDone, In, InDone],
	concurrency int,
	bufferSize int,
	switchMode bool,
) Channel[Out, OuterDone, In, InDone] {
	return newChannel[Out, OuterDone, In, InDone](func(ctx context.Context, upstream Pull[In], scope *Scope) (Pull[Out], error) {
		outerScope := scope.Fork()
		outerPull, err := outer.Transform(ctx, upstream, outerScope)
		if err != nil {
			return nil, err
		}

		if bufferSize <= 0 {
			bufferSize = DefaultMergeAllBufferSize
		}
		out := make(chan mergeItem[Out], bufferSize)
		childCtx, cancel := context.WithCancel(ctx)

		var sem *semaphore.Weighted
		if concurrency > 0 {
			sem = semaphore.NewWeighted(int64(concurrency))
		}

		var mu sync.Mutex
		var active []*innerWorker
		var wg sync.WaitGroup
		var finalErr atomic.Value
		var stopOnce sync.Once
		stop := func(err error) {
			stopOnce.Do(func() {
				if err != nil {
					finalErr.Store(errBox{err})
				}
				cancel()
			})
		}

		removeActive := func(w *innerWorker) {
			mu.Lock()
			defer mu.Unlock()
			for i, a := range active {
				if a == w {
					active = append(active[:i], active[i+1:]...)
					return
				}
			}
		}

		dispatch := func() {
			defer func() {
				wg.Wait()
				close(out)
			}()
			for {
				innerCh, perr := outerPull(childCtx)
				if perr != nil {
					if _, ok := IsHalt(perr); !ok {
						stop(perr)
					}
					return
				}

				if sem != nil {
					if switchMode && !sem.TryAcquire(1) {
						mu.Lock()
						var oldest *innerWorker
						if len(active) > 0 {
							oldest = active[0]
							active = active[1:]
						}
						mu.Unlock()
						if oldest != nil {
							oldest.cancel()
							oldest.scope.Close(ExitSuccess)
						}
						if aerr := sem.Acquire(childCtx, 1); aerr != nil {
							return
						}
					} else if !switchMode {
						if aerr := sem.Acquire(childCtx, 1); aerr != nil {
							return
						}
					}
				}

				innerScope := outerScope.Fork()
				innerCtx, innerCancel := context.WithCancel(childCtx)
				worker := &innerWorker{cancel: innerCancel, scope: innerScope}
				mu.Lock()
				active = append(active, worker)
				mu.Unlock()

				innerPull, ierr := innerCh.Transform(innerCtx, Pull[In](haltVoidPull[In]), innerScope)
				if ierr != nil {
					if sem != nil {
						sem.Release(1)
					}
					removeActive(worker)
					innerScope.Close(Exit{Err: ierr})
					stop(ierr)
					return
				}

				wg.Add(1)
				go func() {
					defer wg.Done()
					defer func() {
						if sem != nil {
							sem.Release(1)
						}
						removeActive(worker)
						innerScope.Close(ExitSuccess)
					}()
					for {
						v, perr := innerPull(innerCtx)
						if perr != nil {
							if _, ok := IsHalt(perr); !ok {
								stop(perr)
							}
							return
						}
						select {
						case out <- mergeItem[Out]{val: v}:
						case <-childCtx.Done():
							return
						}
					}
				}()
			}
		}

		go dispatch()

		scope.AddFinalizer(func(Exit) {
			cancel()
		})

		return func(ctx context.Context) (Out, error) {
			var zero Out
			select {
			case item, ok := <-out:
				if !ok {
					if v := finalErr.Load(); v != nil {
						return zero, v.(errBox).err
					}
					var done OuterDone
					return zero, Halt(done)
				}
				return item.val, nil
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}, nil
	})
}
