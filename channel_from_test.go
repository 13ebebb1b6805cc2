package flow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dmksnnk/flowcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSliceYieldsInOrder(t *testing.T) {
	ch := flow.FromSlice[int, string, any, any]([]int{1, 2, 3}, "done")
	out, done, err := driveChannel[int, string](context.Background(), ch)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, out)
	assert.Equal(t, "done", done)
}

func TestFromIteratorYieldsFirstValueOnPull(t *testing.T) {
	it := func(yield func(int) bool) string {
		for i := 0; i < 100; i++ {
			if !yield(i) {
				return "stopped"
			}
		}
		return "exhausted"
	}
	ch := flow.FromIterator[int, string, any, any](it)

	scope := flow.NewScope(context.Background())
	defer scope.Close(flow.ExitSuccess)
	pull, err := ch.Transform(scope.Context(), flow.Pull[any](func(context.Context) (any, error) { return nil, flow.HaltVoid }), scope)
	require.NoError(t, err)

	v, err := pull(scope.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestCallbackDrivesQueueDirectly(t *testing.T) {
	ch := flow.Callback[int, struct{}, any, any](func(ctx context.Context, q *flow.Queue[int]) error {
		for i := 0; i < 3; i++ {
			if err := q.Offer(ctx, i); err != nil {
				return err
			}
		}
		return nil
	})
	out, _, err := driveChannel[int, struct{}](context.Background(), ch)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, out)
}

func TestCallbackPropagatesUseError(t *testing.T) {
	boom := errors.New("boom")
	ch := flow.Callback[int, struct{}, any, any](func(ctx context.Context, q *flow.Queue[int]) error {
		return boom
	})
	_, _, err := driveChannel[int, struct{}](context.Background(), ch)
	assert.ErrorIs(t, err, boom)
}

func TestAcquireUseReleaseRunsReleaseExactlyOnceOnExit(t *testing.T) {
	releases := 0
	var releasedWith flow.Exit
	ch := flow.AcquireUseRelease[int, struct{}, any, any, string](
		func(ctx context.Context) (string, error) { return "resource", nil },
		func(r string) flow.Channel[int, struct{}, any, any] {
			return flow.Succeed[int, struct{}, any, any](len(r))
		},
		func(r string, exit flow.Exit) {
			releases++
			releasedWith = exit
		},
	)

	out, _, err := driveChannel[int, struct{}](context.Background(), ch)
	require.NoError(t, err)
	assert.Equal(t, []int{8}, out)
	assert.Equal(t, 1, releases)
	assert.NoError(t, releasedWith.Err)
}

func TestFromPubSubSubscribesAndDrains(t *testing.T) {
	ps := flow.NewPubSub[int](0, flow.StrategySuspend)
	ch := flow.FromPubSub[int, struct{}, any, any](ps)

	scope := flow.NewScope(context.Background())
	defer scope.Close(flow.ExitSuccess)
	pull, err := ch.Transform(scope.Context(), flow.Pull[any](func(context.Context) (any, error) { return nil, flow.HaltVoid }), scope)
	require.NoError(t, err)

	require.NoError(t, ps.Publish(context.Background(), 42))
	v, err := pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
