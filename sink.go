package flow

import (
	"context"
	"strings"
)

// End is what running a Sink to completion produces: its accumulated
// result, plus whatever input the Sink did not consume (spec.md's Sink
// composition lets that leftover feed the next Sink in a pipeline). This
// port collapses spec.md's separate leftover element type parameter into
// In itself: every Sink built here hands back leftover of its own input
// type, so the extra type parameter would carry no information (the
// same simplification already made for Channel's dropped error type
// parameters).
type End[R, In any] struct {
	Value    R
	Leftover Chunk[In]
}

// SinkTransform is the closure that defines a Sink: given the chunk
// stream to consume and the scope it may acquire resources against, it
// drives upstream directly (unlike Channel's Transform, a Sink is not
// itself pulled — it pulls) until its own stopping condition or
// upstream's halt, and returns its accumulated End.
type SinkTransform[R, In any] func(ctx context.Context, upstream Pull[Chunk[In]], scope *Scope) (End[R, In], error)

// Sink consumes a chunked input Stream to a single result R.
type Sink[R, In any] struct {
	Transform SinkTransform[R, In]
}

func newSink[R, In any](t SinkTransform[R, In]) Sink[R, In] {
	return Sink[R, In]{Transform: t}
}

// haltOrFail classifies upstream's terminal cause: (true, nil) on an
// ordinary halt, (false, err) on a genuine failure. Sink combinators
// share this when their upstream pull returns an error.
func haltOrFail(err error) (bool, error) {
	if _, ok := IsHalt(err); ok {
		return true, nil
	}
	return false, err
}

// SinkFold accumulates every element with f, starting from zero, and
// never stops early: it always consumes the entire input.
func SinkFold[R, In any](zero R, f func(R, In) R) Sink[R, In] {
	return newSink[R, In](func(ctx context.Context, upstream Pull[Chunk[In]], _ *Scope) (End[R, In], error) {
		acc := zero
		for {
			c, perr := upstream(ctx)
			if perr != nil {
				if _, ferr := haltOrFail(perr); ferr != nil {
					return End[R, In]{Value: acc}, ferr
				}
				return End[R, In]{Value: acc}, nil
			}
			for _, v := range c {
				acc = f(acc, v)
			}
		}
	})
}

// SinkFoldArray is SinkFold at chunk granularity: f runs once per
// emitted chunk instead of once per element, useful for batch-shaped
// accumulation.
func SinkFoldArray[R, In any](zero R, f func(R, Chunk[In]) R) Sink[R, In] {
	return newSink[R, In](func(ctx context.Context, upstream Pull[Chunk[In]], _ *Scope) (End[R, In], error) {
		acc := zero
		for {
			c, perr := upstream(ctx)
			if perr != nil {
				if _, ferr := haltOrFail(perr); ferr != nil {
					return End[R, In]{Value: acc}, ferr
				}
				return End[R, In]{Value: acc}, nil
			}
			acc = f(acc, c)
		}
	})
}

// SinkFoldUntil is SinkFold that stops as soon as stop(acc) holds,
// returning whatever of the current chunk was not yet folded as
// leftover.
func SinkFoldUntil[R, In any](zero R, f func(R, In) R, stop func(R) bool) Sink[R, In] {
	return newSink[R, In](func(ctx context.Context, upstream Pull[Chunk[In]], _ *Scope) (End[R, In], error) {
		acc := zero
		for {
			c, perr := upstream(ctx)
			if perr != nil {
				if _, ferr := haltOrFail(perr); ferr != nil {
					return End[R, In]{Value: acc}, ferr
				}
				return End[R, In]{Value: acc}, nil
			}
			for i, v := range c {
				acc = f(acc, v)
				if stop(acc) {
					return End[R, In]{Value: acc, Leftover: c[i+1:]}, nil
				}
			}
		}
	})
}

// Found is the result shape for Sinks that may come up empty
// (SinkFind/SinkHead/SinkLast/SinkReduceWhile): Ok is false when no
// element satisfied the search.
type Found[T any] struct {
	Value T
	Ok    bool
}

// SinkReduceWhile is SinkFoldUntil without a seed: the first element
// becomes the accumulator; stop is checked starting from the second.
func SinkReduceWhile[In any](f func(In, In) In, stop func(In) bool) Sink[Found[In], In] {
	return newSink[Found[In], In](func(ctx context.Context, upstream Pull[Chunk[In]], _ *Scope) (End[Found[In], In], error) {
		var acc In
		has := false
		for {
			c, perr := upstream(ctx)
			if perr != nil {
				if _, ferr := haltOrFail(perr); ferr != nil {
					return End[Found[In], In]{Value: Found[In]{Value: acc, Ok: has}}, ferr
				}
				return End[Found[In], In]{Value: Found[In]{Value: acc, Ok: has}}, nil
			}
			for i, v := range c {
				if !has {
					acc = v
					has = true
					continue
				}
				acc = f(acc, v)
				if stop(acc) {
					return End[Found[In], In]{Value: Found[In]{Value: acc, Ok: true}, Leftover: c[i+1:]}, nil
				}
			}
		}
	})
}

// SinkTake collects the first n elements, leaving the remainder of the
// chunk that straddled the boundary as leftover.
func SinkTake[In any](n int) Sink[[]In, In] {
	return newSink[[]In, In](func(ctx context.Context, upstream Pull[Chunk[In]], _ *Scope) (End[[]In, In], error) {
		out := make([]In, 0, n)
		for len(out) < n {
			c, perr := upstream(ctx)
			if perr != nil {
				if _, ferr := haltOrFail(perr); ferr != nil {
					return End[[]In, In]{Value: out}, ferr
				}
				return End[[]In, In]{Value: out}, nil
			}
			need := n - len(out)
			if len(c) <= need {
				out = append(out, c...)
				continue
			}
			out = append(out, c[:need]...)
			return End[[]In, In]{Value: out, Leftover: append(Chunk[In]{}, c[need:]...)}, nil
		}
		return End[[]In, In]{Value: out}, nil
	})
}

// SinkCollectAll gathers every element into a slice.
func SinkCollectAll[In any]() Sink[[]In, In] {
	return SinkFold[[]In, In](nil, func(acc []In, v In) []In { return append(acc, v) })
}

// SinkCount counts every element consumed.
func SinkCount[In any]() Sink[int, In] {
	return SinkFold(0, func(acc int, _ In) int { return acc + 1 })
}

// Number constrains SinkSum to types addable with +.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// SinkSum adds up every element.
func SinkSum[In Number]() Sink[In, In] {
	return SinkFold(In(0), func(acc, v In) In { return acc + v })
}

// SinkFind returns the first element pred accepts (Ok false if none
// does), leaving the rest of that chunk as leftover.
func SinkFind[In any](pred func(In) bool) Sink[Found[In], In] {
	return newSink[Found[In], In](func(ctx context.Context, upstream Pull[Chunk[In]], _ *Scope) (End[Found[In], In], error) {
		for {
			c, perr := upstream(ctx)
			if perr != nil {
				if _, ferr := haltOrFail(perr); ferr != nil {
					return End[Found[In], In]{}, ferr
				}
				return End[Found[In], In]{}, nil
			}
			for i, v := range c {
				if pred(v) {
					return End[Found[In], In]{Value: Found[In]{Value: v, Ok: true}, Leftover: append(Chunk[In]{}, c[i+1:]...)}, nil
				}
			}
		}
	})
}

// SinkHead takes the first element, if any.
func SinkHead[In any]() Sink[Found[In], In] {
	return SinkFind[In](func(In) bool { return true })
}

// SinkLast consumes everything and keeps only the last element seen, if
// any.
func SinkLast[In any]() Sink[Found[In], In] {
	return newSink[Found[In], In](func(ctx context.Context, upstream Pull[Chunk[In]], _ *Scope) (End[Found[In], In], error) {
		var last Found[In]
		for {
			c, perr := upstream(ctx)
			if perr != nil {
				if _, ferr := haltOrFail(perr); ferr != nil {
					return End[Found[In], In]{Value: last}, ferr
				}
				return End[Found[In], In]{Value: last}, nil
			}
			for _, v := range c {
				last = Found[In]{Value: v, Ok: true}
			}
		}
	})
}

// SinkForEach runs f for every element, consuming the whole input; f's
// error fails the Sink.
func SinkForEach[In any](f func(In) error) Sink[struct{}, In] {
	return newSink[struct{}, In](func(ctx context.Context, upstream Pull[Chunk[In]], _ *Scope) (End[struct{}, In], error) {
		for {
			c, perr := upstream(ctx)
			if perr != nil {
				if _, ferr := haltOrFail(perr); ferr != nil {
					return End[struct{}, In]{}, ferr
				}
				return End[struct{}, In]{}, nil
			}
			for _, v := range c {
				if ferr := f(v); ferr != nil {
					return End[struct{}, In]{}, ferr
				}
			}
		}
	})
}

// SinkForEachWhile runs f for every element until it returns false,
// leaving the rest of that chunk as leftover; f's error fails the Sink.
func SinkForEachWhile[In any](f func(In) (bool, error)) Sink[struct{}, In] {
	return newSink[struct{}, In](func(ctx context.Context, upstream Pull[Chunk[In]], _ *Scope) (End[struct{}, In], error) {
		for {
			c, perr := upstream(ctx)
			if perr != nil {
				if _, ferr := haltOrFail(perr); ferr != nil {
					return End[struct{}, In]{}, ferr
				}
				return End[struct{}, In]{}, nil
			}
			for i, v := range c {
				cont, ferr := f(v)
				if ferr != nil {
					return End[struct{}, In]{}, ferr
				}
				if !cont {
					return End[struct{}, In]{Leftover: append(Chunk[In]{}, c[i+1:]...)}, nil
				}
			}
		}
	})
}

// SinkMkString joins every element's string form with sep.
func SinkMkString[In any](sep string, toString func(In) string) Sink[string, In] {
	return newSink[string, In](func(ctx context.Context, upstream Pull[Chunk[In]], _ *Scope) (End[string, In], error) {
		var b strings.Builder
		first := true
		for {
			c, perr := upstream(ctx)
			if perr != nil {
				if _, ferr := haltOrFail(perr); ferr != nil {
					return End[string, In]{Value: b.String()}, ferr
				}
				return End[string, In]{Value: b.String()}, nil
			}
			for _, v := range c {
				if !first {
					b.WriteString(sep)
				}
				first = false
				b.WriteString(toString(v))
			}
		}
	})
}
