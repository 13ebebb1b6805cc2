package flow_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/dmksnnk/flowcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestStreamBroadcastDeliversToEveryConsumer(t *testing.T) {
	scope := flow.NewScope(context.Background())
	defer scope.Close(flow.ExitSuccess)

	outs, err := flow.StreamBroadcast(scope, flow.StreamFromSlice([]int{1, 2, 3}), 3)
	require.NoError(t, err)
	require.Len(t, outs, 3)

	var eg errgroup.Group
	results := make([][]int, 3)
	for i, s := range outs {
		i, s := i, s
		eg.Go(func() error {
			out, rerr := flow.RunCollect(context.Background(), s)
			results[i] = out
			return rerr
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, []int{1, 2, 3}, results[0])
	assert.Equal(t, []int{1, 2, 3}, results[1])
	assert.Equal(t, []int{1, 2, 3}, results[2])
}

func TestStreamShareCoalescesConcurrentFirstSubscribers(t *testing.T) {
	scope := flow.NewScope(context.Background())
	defer scope.Close(flow.ExitSuccess)

	factory := flow.StreamShare(scope, flow.StreamFromSlice([]int{1, 2, 3}), 50*time.Millisecond)

	var eg errgroup.Group
	results := make([][]int, 3)
	for i := 0; i < 3; i++ {
		i := i
		eg.Go(func() error {
			s := factory()
			out, rerr := flow.RunCollect(context.Background(), s)
			results[i] = out
			return rerr
		})
	}
	require.NoError(t, eg.Wait())
	for _, r := range results {
		assert.Equal(t, []int{1, 2, 3}, r)
	}
}

func TestStreamGroupByPartitionsByKey(t *testing.T) {
	scope := flow.NewScope(context.Background())
	defer scope.Close(flow.ExitSuccess)

	s := flow.StreamFromSlice([]int{1, 2, 3, 4, 5, 6})
	grouped := flow.StreamGroupBy(scope, s, func(v int) int { return v % 2 }, time.Minute, flow.WithCapacity(8))

	groups, err := flow.RunCollect(context.Background(), grouped)
	require.NoError(t, err)

	seenKeys := make(map[int][]int)
	for _, g := range groups {
		out, rerr := flow.RunCollect(context.Background(), g.Second)
		require.NoError(t, rerr)
		sort.Ints(out)
		seenKeys[g.First] = out
	}

	assert.ElementsMatch(t, []int{1, 3, 5}, seenKeys[1])
	assert.ElementsMatch(t, []int{2, 4, 6}, seenKeys[0])
}

func TestStreamGroupByEvictsIdleKeyAndReopensItLater(t *testing.T) {
	scope := flow.NewScope(context.Background())
	defer scope.Close(flow.ExitSuccess)

	source := flow.Stream[int]{Channel: flow.Callback[flow.Chunk[int], struct{}, any, any](func(ctx context.Context, q *flow.Queue[flow.Chunk[int]]) error {
		require.NoError(t, q.Offer(ctx, flow.Chunk[int]{1}))
		for i := 0; i < 4; i++ {
			time.Sleep(15 * time.Millisecond)
			if err := q.Offer(ctx, flow.Chunk[int]{2}); err != nil {
				return err
			}
		}
		require.NoError(t, q.Offer(ctx, flow.Chunk[int]{1}))
		return nil
	})}

	grouped := flow.StreamGroupBy(scope, source, func(v int) int { return v }, 20*time.Millisecond, flow.WithCapacity(8))

	groups, err := flow.RunCollect(context.Background(), grouped)
	require.NoError(t, err)

	keyOneGroups := 0
	for _, g := range groups {
		if g.First == 1 {
			keyOneGroups++
			out, rerr := flow.RunCollect(context.Background(), g.Second)
			require.NoError(t, rerr)
			assert.Equal(t, []int{1}, out)
		}
	}
	assert.Equal(t, 2, keyOneGroups, "idle eviction should have produced a fresh pair for key 1 on its second appearance")
}
