package flow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dmksnnk/flowcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCollectGathersEveryElement(t *testing.T) {
	out, err := flow.RunCollect(context.Background(), flow.StreamFromSlice([]int{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, out)
}

func TestRunDrainDiscardsElements(t *testing.T) {
	err := flow.RunDrain(context.Background(), flow.StreamFromSlice([]int{1, 2, 3}))
	require.NoError(t, err)
}

func TestRunCountCountsElements(t *testing.T) {
	n, err := flow.RunCount(context.Background(), flow.StreamFromSlice([]int{1, 2, 3, 4}))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestRunForEachVisitsEveryElement(t *testing.T) {
	var seen []int
	err := flow.RunForEach(context.Background(), flow.StreamFromSlice([]int{1, 2, 3}), func(v int) error {
		seen = append(seen, v)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestRunForEachStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	var seen []int
	err := flow.RunForEach(context.Background(), flow.StreamFromSlice([]int{1, 2, 3}), func(v int) error {
		seen = append(seen, v)
		if v == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestRunFoldAccumulates(t *testing.T) {
	total, err := flow.RunFold(context.Background(), flow.StreamFromSlice([]int{1, 2, 3, 4}), 0, func(acc, v int) int {
		return acc + v
	})
	require.NoError(t, err)
	assert.Equal(t, 10, total)
}

func TestRunIntoQueueOffersEveryElementThenEnds(t *testing.T) {
	q := flow.NewQueue[int](0, flow.StrategySuspend)
	go func() {
		err := flow.RunIntoQueue(context.Background(), flow.StreamFromSlice([]int{1, 2, 3}), q)
		require.NoError(t, err)
	}()

	var out []int
	for {
		v, err := q.Take(context.Background())
		if err != nil {
			_, ok := flow.IsHalt(err)
			assert.True(t, ok)
			break
		}
		out = append(out, v)
	}
	assert.Equal(t, []int{1, 2, 3}, out)
}

func TestRunIntoPubSubPublishesEveryElementThenEnds(t *testing.T) {
	ps := flow.NewPubSub[int](0, flow.StrategySuspend)
	scope := flow.NewScope(context.Background())
	defer scope.Close(flow.ExitSuccess)
	sub := ps.Subscribe(scope)

	go func() {
		err := flow.RunIntoPubSub(context.Background(), flow.StreamFromSlice([]int{1, 2, 3}), ps)
		require.NoError(t, err)
	}()

	var out []int
	for {
		v, err := sub.Take(context.Background())
		if err != nil {
			_, ok := flow.IsHalt(err)
			assert.True(t, ok)
			break
		}
		out = append(out, v)
	}
	assert.Equal(t, []int{1, 2, 3}, out)
}

func TestRunSinkDrivesStreamIntoSink(t *testing.T) {
	total, err := flow.RunSink(context.Background(), flow.StreamFromSlice([]int{1, 2, 3}), flow.SinkSum[int]())
	require.NoError(t, err)
	assert.Equal(t, 6, total)
}

func TestToPullDrivesStreamOnePullAtATime(t *testing.T) {
	pull, scope, err := flow.ToPull(context.Background(), flow.StreamFromSlice([]int{1, 2, 3}))
	require.NoError(t, err)
	defer scope.Close(flow.ExitSuccess)

	var out []int
	for {
		c, perr := pull(context.Background())
		if perr != nil {
			_, ok := flow.IsHalt(perr)
			assert.True(t, ok)
			break
		}
		out = append(out, c...)
	}
	assert.Equal(t, []int{1, 2, 3}, out)
}
