// Package flow is a pull-based, chunked, effectful dataflow engine.
//
// It is built from three layered abstractions: Channel, the general
// bidirectional transform; Stream, a Channel specialized to chunked
// output; and Sink, the dual specialization that consumes chunks and
// produces a single result plus leftovers. Scope and Queue provide the
// structured concurrency and backpressure the combinators are built on.
//
// Every stage is lazy: constructors and combinators build closures, and
// nothing runs until one of the Run* functions drives a Stream or Sink
// to completion against a fresh root Scope.
package flow
