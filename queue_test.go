package flow_test

import (
	"context"
	"testing"
	"time"

	"github.com/dmksnnk/flowcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOfferTakeOrder(t *testing.T) {
	q := flow.NewUnboundedQueue[int]()
	ctx := context.Background()

	require.NoError(t, q.Offer(ctx, 1))
	require.NoError(t, q.Offer(ctx, 2))
	require.NoError(t, q.Offer(ctx, 3))

	for _, want := range []int{1, 2, 3} {
		got, err := q.Take(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestQueueEndDrainsBufferedBeforeCause(t *testing.T) {
	q := flow.NewUnboundedQueue[int]()
	ctx := context.Background()

	require.NoError(t, q.Offer(ctx, 1))
	q.End(flow.HaltVoid)

	v, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = q.Take(ctx)
	_, halted := flow.IsHalt(err)
	assert.True(t, halted)
}

func TestQueueOfferAfterEndFails(t *testing.T) {
	q := flow.NewUnboundedQueue[int]()
	ctx := context.Background()
	q.End(nil)

	err := q.Offer(ctx, 1)
	assert.ErrorIs(t, err, flow.ErrQueueEnded)
}

func TestQueueShutdownDiscardsBuffer(t *testing.T) {
	q := flow.NewUnboundedQueue[int]()
	ctx := context.Background()
	require.NoError(t, q.Offer(ctx, 1))

	q.Shutdown()

	_, err := q.Take(ctx)
	assert.ErrorIs(t, err, flow.ErrQueueShutDown)
}

func TestQueueStrategySuspendBlocksUntilSpace(t *testing.T) {
	q := flow.NewQueue[int](1, flow.StrategySuspend)
	ctx := context.Background()
	require.NoError(t, q.Offer(ctx, 1))

	done := make(chan struct{})
	go func() {
		_ = q.Offer(ctx, 2)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("offer should have blocked while queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := q.Take(ctx)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("offer should have unblocked once space freed")
	}
}

func TestQueueStrategySlidingDropsOldest(t *testing.T) {
	q := flow.NewQueue[int](2, flow.StrategySliding)
	ctx := context.Background()
	require.NoError(t, q.Offer(ctx, 1))
	require.NoError(t, q.Offer(ctx, 2))
	require.NoError(t, q.Offer(ctx, 3))

	first, _ := q.Take(ctx)
	second, _ := q.Take(ctx)
	assert.Equal(t, []int{2, 3}, []int{first, second})
}

func TestQueueStrategyDroppingKeepsBuffer(t *testing.T) {
	q := flow.NewQueue[int](2, flow.StrategyDropping)
	ctx := context.Background()
	require.NoError(t, q.Offer(ctx, 1))
	require.NoError(t, q.Offer(ctx, 2))
	require.NoError(t, q.Offer(ctx, 3))

	first, _ := q.Take(ctx)
	second, _ := q.Take(ctx)
	assert.Equal(t, []int{1, 2}, []int{first, second})
}
