package flow_test

import (
	"context"
	"testing"
	"time"

	"github.com/dmksnnk/flowcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamThrottleShapeEmitsEveryElement(t *testing.T) {
	s := flow.StreamFromSlice([]int{1, 2, 3})
	throttled := flow.StreamThrottle(s, 1000, 10, flow.ThrottleShape, nil)

	out, err := flow.RunCollect(context.Background(), throttled)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, out)
}

func TestStreamThrottleEnforceDropsOverBurst(t *testing.T) {
	s := flow.StreamFromSlice([]int{1, 2, 3, 4, 5})
	throttled := flow.StreamThrottle(s, 0.0001, 1, flow.ThrottleEnforce, nil)

	out, err := flow.RunCollect(context.Background(), throttled)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), 1)
}

func TestStreamDebounceEmitsOnlyAfterQuietWindow(t *testing.T) {
	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	close(ch)

	s := flow.StreamFromIterator[int](func(yield func(int) bool) error {
		for v := range ch {
			if !yield(v) {
				break
			}
		}
		return nil
	})

	debounced := flow.StreamDebounce(s, 10*time.Millisecond)
	out, err := flow.RunCollect(context.Background(), debounced)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, out)
}
