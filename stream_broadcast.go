package flow

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// StreamBroadcast forks s once, as a background producer bound to a
// scope forked from scope, and returns n independent Streams that each
// read one subscription (to a shared PubSub) to that single execution;
// all n subscriptions are made before the producer starts. All n
// returned streams are expected to be driven concurrently; a slow
// subscriber applies backpressure (or drops/slides, per Option) to the
// shared producer exactly like any other PubSub subscriber.
func StreamBroadcast[A any](scope *Scope, s Stream[A], n int, ops ...Option) ([]Stream[A], error) {
	cfg := applyOptions(ops)
	ps := NewPubSub[Chunk[A]](cfg.capacity, cfg.strategy)

	producerScope := scope.Fork()
	ctx := producerScope.Context()
	pull, err := s.Channel.Transform(ctx, haltVoidPull[any], producerScope)
	if err != nil {
		return nil, err
	}

	outs := make([]Stream[A], n)
	for i := range outs {
		outs[i] = Stream[A]{Channel: FromSubscription[Chunk[A], struct{}, any, any](ps.Subscribe(producerScope))}
	}

	go func() {
		for {
			v, perr := pull(ctx)
			if perr != nil {
				ps.End(perr)
				return
			}
			if perr := ps.Publish(ctx, v); perr != nil {
				ps.End(perr)
				return
			}
		}
	}()

	return outs, nil
}

// sharedStream backs StreamShare: a single upstream execution,
// refcounted across every Stream value the returned factory hands out,
// started lazily on first subscriber and stopped idle seconds after the
// last one leaves.
type sharedStream[A any] struct {
	mu        sync.Mutex
	refs      int
	started   bool
	pubsub    *PubSub[Chunk[A]]
	source    Stream[A]
	idle      time.Duration
	parent    *Scope
	prodScope *Scope
	group     singleflight.Group
}

func (sh *sharedStream[A]) start() {
	sh.group.Do("start", func() (any, error) {
		sh.mu.Lock()
		if sh.started {
			sh.mu.Unlock()
			return nil, nil
		}
		sh.started = true
		sh.prodScope = sh.parent.Fork()
		sh.mu.Unlock()

		ctx := sh.prodScope.Context()
		pull, err := sh.source.Channel.Transform(ctx, haltVoidPull[any], sh.prodScope)
		if err != nil {
			sh.pubsub.End(err)
			return nil, err
		}
		go func() {
			for {
				v, perr := pull(ctx)
				if perr != nil {
					sh.pubsub.End(perr)
					return
				}
				if perr := sh.pubsub.Publish(ctx, v); perr != nil {
					sh.pubsub.End(perr)
					return
				}
			}
		}()
		return nil, nil
	})
}

func (sh *sharedStream[A]) stopIfIdle() {
	time.AfterFunc(sh.idle, func() {
		sh.mu.Lock()
		defer sh.mu.Unlock()
		if sh.refs == 0 && sh.started {
			sh.prodScope.Close(ExitSuccess)
			sh.started = false
			sh.group = singleflight.Group{}
			sh.pubsub = NewPubSub[Chunk[A]](sh.pubsub.Capacity(), sh.pubsub.Strategy())
		}
	})
}

// StreamShare turns s into a factory producing Streams that all share a
// single upstream execution: the first call to the returned factory (or
// the first one after an idle-triggered stop) restarts the producer;
// concurrent first calls are coalesced via singleflight the same way a
// cache-stampede guard is. idle is how long the producer keeps running
// with zero subscribers before it is torn down.
func StreamShare[A any](parent *Scope, s Stream[A], idle time.Duration, ops ...Option) func() Stream[A] {
	cfg := applyOptions(ops)
	sh := &sharedStream[A]{source: s, idle: idle, parent: parent, pubsub: NewPubSub[Chunk[A]](cfg.capacity, cfg.strategy)}

	return func() Stream[A] {
		sh.start()
		sh.mu.Lock()
		sh.refs++
		ps := sh.pubsub
		sh.mu.Unlock()

		return Stream[A]{Channel: newChannel[Chunk[A], struct{}, any, any](func(_ context.Context, _ Pull[any], scope *Scope) (Pull[Chunk[A]], error) {
			sub := ps.Subscribe(scope)
			scope.AddFinalizer(func(Exit) {
				sh.mu.Lock()
				sh.refs--
				n := sh.refs
				sh.mu.Unlock()
				if n == 0 {
					sh.stopIfIdle()
				}
			})
			return sub.AsPull(), nil
		})}
	}
}

// queueElemsToChunkStream adapts an element-at-a-time Queue into a
// Stream, wrapping each taken element as a single-element chunk.
func queueElemsToChunkStream[A any](q *Queue[A]) Stream[A] {
	return Stream[A]{Channel: newChannel[Chunk[A], struct{}, any, any](func(_ context.Context, _ Pull[any], _ *Scope) (Pull[Chunk[A]], error) {
		return func(ctx context.Context) (Chunk[A], error) {
			v, err := q.Take(ctx)
			if err != nil {
				return nil, err
			}
			return Chunk[A]{v}, nil
		}, nil
	})}
}

// groupEntry is one key's buffered sub-stream plus the idle timer that
// evicts it from StreamGroupBy's key map when nothing is offered to it
// for idleTimeToLive.
type groupEntry[A any] struct {
	queue *Queue[A]
	timer *time.Timer
}

// StreamGroupBy partitions s by keyFn into per-key sub-streams,
// delivered as (key, Stream) pairs the first time each key is observed.
// Each per-key Queue defaults to DefaultGroupByBufferSize and applies
// backpressure to the shared upstream independently, the way the
// teacher's worker-pool channels decouple producer from consumer. A
// key's queue is ended, and its map entry dropped, either when upstream
// halts/fails or when idleTimeToLive elapses since the key's last
// Offer without a fresh one arriving (idleTimeToLive <= 0 disables
// eviction); a key observed again afterward starts a new sub-stream,
// mirroring StreamShare's idle teardown of its shared producer.
func StreamGroupBy[A any, K comparable](scope *Scope, s Stream[A], keyFn func(A) K, idleTimeToLive time.Duration, ops ...Option) Stream[Pair[K, Stream[A]]] {
	cfg := applyOptions(ops)
	bufSize := cfg.capacity
	if bufSize <= 0 {
		bufSize = DefaultGroupByBufferSize
	}

	producerScope := scope.Fork()
	pctx := producerScope.Context()
	pull, err := s.Channel.Transform(pctx, haltVoidPull[any], producerScope)

	groupsQ := NewQueue[Pair[K, Stream[A]]](0, StrategySuspend)
	if err != nil {
		groupsQ.End(err)
		return Stream[Pair[K, Stream[A]]]{Channel: FromQueueChannel[Chunk[Pair[K, Stream[A]]], struct{}, any, any](
			wrapGroupQueue(groupsQ),
		)}
	}

	var mu sync.Mutex
	keyQueues := make(map[K]*groupEntry[A])

	evict := func(k K, entry *groupEntry[A]) {
		mu.Lock()
		if cur, ok := keyQueues[k]; !ok || cur != entry {
			mu.Unlock()
			return
		}
		delete(keyQueues, k)
		mu.Unlock()
		entry.queue.End(HaltVoid)
	}

	go func() {
		for {
			c, perr := pull(pctx)
			if perr != nil {
				mu.Lock()
				for _, entry := range keyQueues {
					if entry.timer != nil {
						entry.timer.Stop()
					}
					entry.queue.End(perr)
				}
				mu.Unlock()
				groupsQ.End(perr)
				return
			}
			for _, v := range c {
				k := keyFn(v)
				mu.Lock()
				entry, ok := keyQueues[k]
				if !ok {
					entry = &groupEntry[A]{queue: NewQueue[A](bufSize, StrategySuspend)}
					if idleTimeToLive > 0 {
						k, entry := k, entry
						entry.timer = time.AfterFunc(idleTimeToLive, func() { evict(k, entry) })
					}
					keyQueues[k] = entry
					mu.Unlock()
					if oerr := groupsQ.Offer(pctx, Pair[K, Stream[A]]{First: k, Second: queueElemsToChunkStream(entry.queue)}); oerr != nil {
						return
					}
				} else {
					if entry.timer != nil {
						entry.timer.Reset(idleTimeToLive)
					}
					mu.Unlock()
				}
				if oerr := entry.queue.Offer(pctx, v); oerr != nil {
					return
				}
			}
		}
	}()

	scope.AddFinalizer(func(Exit) {
		producerScope.Close(ExitSuccess)
		groupsQ.Shutdown()
	})

	return Stream[Pair[K, Stream[A]]]{Channel: FromQueueChannel[Chunk[Pair[K, Stream[A]]], struct{}, any, any](
		wrapGroupQueue(groupsQ),
	)}
}

// wrapGroupQueue adapts an element-at-a-time Queue of group records into
// a Queue of single-element chunks, matching FromQueueChannel's expected
// Chunk-producing shape.
func wrapGroupQueue[K comparable, A any](q *Queue[Pair[K, Stream[A]]]) *Queue[Chunk[Pair[K, Stream[A]]]] {
	out := NewQueue[Chunk[Pair[K, Stream[A]]]](0, StrategySuspend)
	go func() {
		for {
			v, err := q.Take(context.Background())
			if err != nil {
				out.End(err)
				return
			}
			if oerr := out.Offer(context.Background(), Chunk[Pair[K, Stream[A]]]{v}); oerr != nil {
				return
			}
		}
	}()
	return out
}
