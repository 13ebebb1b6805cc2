package flow_test

import (
	"errors"
	"testing"

	"github.com/dmksnnk/flowcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHalt(t *testing.T) {
	err := flow.Halt(42)

	d, ok := flow.IsHalt(err)
	require.True(t, ok)
	assert.Equal(t, 42, d)
	assert.Equal(t, 42, flow.HaltValue[int](err))
}

func TestHaltValuePanicsOnNonHalt(t *testing.T) {
	assert.Panics(t, func() {
		flow.HaltValue[int](errors.New("not a halt"))
	})
}

func TestCatchHalt(t *testing.T) {
	halted := false
	err := flow.CatchHalt[int](flow.Halt(7), func(d int) error {
		halted = true
		assert.Equal(t, 7, d)
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, halted)

	plain := errors.New("boom")
	assert.Same(t, plain, flow.CatchHalt[int](plain, func(int) error { return nil }))
}

func TestDefect(t *testing.T) {
	d := flow.Die("kaboom")
	assert.True(t, flow.IsDefect(d))
	assert.False(t, flow.IsDefect(errors.New("ordinary")))

	wrapped := flow.Die(errors.New("inner"))
	var defect *flow.Defect
	require.True(t, errors.As(wrapped, &defect))
	assert.Equal(t, "inner", defect.Unwrap().Error())
}
