package flow_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/dmksnnk/flowcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapAppliesToEveryValue(t *testing.T) {
	src := flow.FromSlice[int, struct{}, any, any]([]int{1, 2, 3}, struct{}{})
	doubled := flow.Map(src, func(v int) int { return v * 2 })

	out, _, err := driveChannel[int, struct{}](context.Background(), doubled)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6}, out)
}

func TestMapEffectSequentialPreservesOrder(t *testing.T) {
	src := flow.FromSlice[int, struct{}, any, any]([]int{1, 2, 3, 4, 5}, struct{}{})
	mapped := flow.MapEffect(src, func(ctx context.Context, v int) (int, error) {
		return v * v, nil
	}, flow.MapEffectOptions{})

	out, _, err := driveChannel[int, struct{}](context.Background(), mapped)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 9, 16, 25}, out)
}

func TestMapEffectOrderedPreservesOrderConcurrently(t *testing.T) {
	src := flow.FromSlice[int, struct{}, any, any]([]int{1, 2, 3, 4, 5, 6, 7, 8}, struct{}{})
	mapped := flow.MapEffect(src, func(ctx context.Context, v int) (int, error) {
		return v, nil
	}, flow.MapEffectOptions{Concurrency: 4})

	out, _, err := driveChannel[int, struct{}](context.Background(), mapped)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, out)
}

func TestMapEffectUnorderedProducesSameSet(t *testing.T) {
	src := flow.FromSlice[int, struct{}, any, any]([]int{1, 2, 3, 4, 5}, struct{}{})
	mapped := flow.MapEffect(src, func(ctx context.Context, v int) (int, error) {
		return v, nil
	}, flow.MapEffectOptions{Concurrency: 4, Unordered: true})

	out, _, err := driveChannel[int, struct{}](context.Background(), mapped)
	require.NoError(t, err)
	sort.Ints(out)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, out)
}

func TestFlatMapSequentialFlattensInOrder(t *testing.T) {
	src := flow.FromSlice[int, struct{}, any, any]([]int{1, 2, 3}, struct{}{})
	flat := flow.FlatMap[int, struct{}, any, any, int](src, func(v int) flow.Channel[int, any, any, any] {
		return flow.Succeed[int, any, any, any](v * 10)
	}, flow.FlatMapOptions{})

	out, _, err := driveChannel[int, struct{}](context.Background(), flat)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 30}, out)
}

func TestConcatRunsBothInSequence(t *testing.T) {
	a := flow.FromSlice[int, struct{}, any, any]([]int{1, 2}, struct{}{})
	b := flow.FromSlice[int, struct{}, any, any]([]int{3, 4}, struct{}{})
	out, _, err := driveChannel[int, struct{}](context.Background(), flow.Concat(a, b))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, out)
}

func TestCatchRecoversOrdinaryFailure(t *testing.T) {
	boom := errors.New("boom")
	failing := flow.Fail[int, struct{}, any, any](boom)
	recovered := flow.Catch(failing, func(err error) flow.Channel[int, struct{}, any, any] {
		return flow.Succeed[int, struct{}, any, any](-1)
	})

	out, _, err := driveChannel[int, struct{}](context.Background(), recovered)
	require.NoError(t, err)
	assert.Equal(t, []int{-1}, out)
}

func TestCatchNeverCatchesDefect(t *testing.T) {
	defectCh := flow.DieChannel[int, struct{}, any, any]("boom")
	caught := flow.Catch(defectCh, func(error) flow.Channel[int, struct{}, any, any] {
		return flow.Succeed[int, struct{}, any, any](0)
	})
	_, _, err := driveChannel[int, struct{}](context.Background(), caught)
	assert.True(t, flow.IsDefect(err))
}

func TestCatchCauseRecoversDefects(t *testing.T) {
	defectCh := flow.DieChannel[int, struct{}, any, any]("boom")
	caught := flow.CatchCause(defectCh, func(error) flow.Channel[int, struct{}, any, any] {
		return flow.Succeed[int, struct{}, any, any](1)
	})
	out, _, err := driveChannel[int, struct{}](context.Background(), caught)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, out)
}

func TestCatchTagMatchesByType(t *testing.T) {
	type myErr struct{ error }
	failing := flow.Fail[int, struct{}, any, any](myErr{errors.New("typed")})
	recovered := flow.CatchTag[int, struct{}, any, any, myErr](failing, func(myErr) flow.Channel[int, struct{}, any, any] {
		return flow.Succeed[int, struct{}, any, any](7)
	})
	out, _, err := driveChannel[int, struct{}](context.Background(), recovered)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, out)
}

func TestPipeToMapsThroughUpstream(t *testing.T) {
	src := flow.FromSlice[int, struct{}, any, any]([]int{1, 2, 3}, struct{}{})

	identity := flow.Map[int, struct{}, int, struct{}](
		flow.Channel[int, struct{}, int, struct{}]{
			Transform: func(ctx context.Context, upstream flow.Pull[int], scope *flow.Scope) (flow.Pull[int], error) {
				return upstream, nil
			},
		},
		func(v int) int { return v + 1 },
	)

	piped := flow.PipeTo[int, struct{}, any, any, int, struct{}](src, identity)
	out, _, err := driveChannel[int, struct{}](context.Background(), piped)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, out)
}
