package flow_test

import (
	"context"

	"github.com/dmksnnk/flowcore"
)

// driveChannel runs ch to completion against a fresh root scope, the
// same way Run* drives a Stream, and returns every value produced plus
// the terminal halt value (or the failure, if any).
func driveChannel[Out, OutDone any](ctx context.Context, ch flow.Channel[Out, OutDone, any, any]) ([]Out, OutDone, error) {
	scope := flow.NewScope(ctx)
	defer scope.Close(flow.ExitSuccess)

	pull, err := ch.Transform(scope.Context(), flow.Pull[any](func(context.Context) (any, error) {
		return nil, flow.HaltVoid
	}), scope)
	var zero OutDone
	if err != nil {
		return nil, zero, err
	}

	var out []Out
	for {
		v, perr := pull(scope.Context())
		if perr != nil {
			if d, ok := flow.IsHalt(perr); ok {
				return out, d.(OutDone), nil
			}
			return out, zero, perr
		}
		out = append(out, v)
	}
}
