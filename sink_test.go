package flow_test

import (
	"context"
	"testing"

	"github.com/dmksnnk/flowcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkFoldAccumulatesEverything(t *testing.T) {
	s := flow.StreamFromSlice([]int{1, 2, 3, 4})
	sum, err := flow.RunSink(context.Background(), s, flow.SinkFold(0, func(acc, v int) int { return acc + v }))
	require.NoError(t, err)
	assert.Equal(t, 10, sum)
}

func TestSinkFoldUntilLeavesLeftoverForNextRound(t *testing.T) {
	s := flow.StreamFromSlice([]int{1, 2, 3, 4, 5})
	sink := flow.SinkFoldUntil(0, func(acc, v int) int { return acc + v }, func(acc int) bool { return acc >= 3 })
	agg := flow.StreamAggregate(s, sink)

	out, err := flow.RunCollect(context.Background(), agg)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Equal(t, 15, sum(out))
}

func sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}

func TestSinkTakeCollectsFirstN(t *testing.T) {
	s := flow.StreamFromSlice([]int{1, 2, 3, 4, 5})
	taken, err := flow.RunSink(context.Background(), s, flow.SinkTake[int](3))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, taken)
}

func TestSinkCollectAllGathersEverything(t *testing.T) {
	s := flow.StreamFromSlice([]string{"a", "b", "c"})
	out, err := flow.RunSink(context.Background(), s, flow.SinkCollectAll[string]())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, out)
}

func TestSinkCountCountsElements(t *testing.T) {
	s := flow.StreamFromSlice([]int{1, 2, 3, 4, 5})
	n, err := flow.RunSink(context.Background(), s, flow.SinkCount[int]())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestSinkSumAddsElements(t *testing.T) {
	s := flow.StreamFromSlice([]int{1, 2, 3})
	total, err := flow.RunSink(context.Background(), s, flow.SinkSum[int]())
	require.NoError(t, err)
	assert.Equal(t, 6, total)
}

func TestSinkFindReturnsFirstMatch(t *testing.T) {
	s := flow.StreamFromSlice([]int{1, 2, 3, 4, 5})
	found, err := flow.RunSink(context.Background(), s, flow.SinkFind(func(v int) bool { return v > 3 }))
	require.NoError(t, err)
	assert.True(t, found.Ok)
	assert.Equal(t, 4, found.Value)
}

func TestSinkFindReportsNotOkWhenNothingMatches(t *testing.T) {
	s := flow.StreamFromSlice([]int{1, 2, 3})
	found, err := flow.RunSink(context.Background(), s, flow.SinkFind(func(v int) bool { return v > 100 }))
	require.NoError(t, err)
	assert.False(t, found.Ok)
}

func TestSinkHeadReturnsFirstElement(t *testing.T) {
	s := flow.StreamFromSlice([]int{7, 8, 9})
	found, err := flow.RunSink(context.Background(), s, flow.SinkHead[int]())
	require.NoError(t, err)
	assert.True(t, found.Ok)
	assert.Equal(t, 7, found.Value)
}

func TestSinkLastReturnsFinalElement(t *testing.T) {
	s := flow.StreamFromSlice([]int{7, 8, 9})
	found, err := flow.RunSink(context.Background(), s, flow.SinkLast[int]())
	require.NoError(t, err)
	assert.True(t, found.Ok)
	assert.Equal(t, 9, found.Value)
}

func TestSinkForEachVisitsEveryElement(t *testing.T) {
	s := flow.StreamFromSlice([]int{1, 2, 3})
	var seen []int
	_, err := flow.RunSink(context.Background(), s, flow.SinkForEach(func(v int) error {
		seen = append(seen, v)
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestSinkForEachWhileStopsEarly(t *testing.T) {
	s := flow.StreamFromSlice([]int{1, 2, 3, 4, 5})
	var seen []int
	_, err := flow.RunSink(context.Background(), s, flow.SinkForEachWhile(func(v int) (bool, error) {
		seen = append(seen, v)
		return v < 3, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestSinkMkStringJoinsElements(t *testing.T) {
	s := flow.StreamFromSlice([]int{1, 2, 3})
	out, err := flow.RunSink(context.Background(), s, flow.SinkMkString(",", func(v int) string {
		return string(rune('0' + v))
	}))
	require.NoError(t, err)
	assert.Equal(t, "1,2,3", out)
}
