package flow

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Exit is the terminal outcome a Scope closes with: either the pipeline
// finished normally (nil error) or it closes with the failure, halt, or
// interruption cause that ended it.
type Exit struct {
	Err error
}

// ExitSuccess is the Exit recorded when a scope closes without error.
var ExitSuccess = Exit{}

// finalizer is any cleanup registered against a Scope; it always runs,
// receiving the Exit the owning scope closed with.
type finalizer func(Exit)

type scopeState int

const (
	scopeOpen scopeState = iota
	scopeClosing
	scopeClosed
)

// Scope is a node in a tree of resource lifetimes: an ordered stack of
// finalizers released in reverse insertion order exactly once, plus
// child scopes forked off it whose own close is itself registered as one
// of its parent's finalizers (spec.md §3.2).
//
// Scope mutation is serialized by mu the way a real Effect runtime
// serializes scope state with a CAS loop or a per-scope lock; user state
// threaded through combinators elsewhere in this package stays
// single-fiber and needs no such lock.
type Scope struct {
	ID uuid.UUID

	mu         sync.Mutex
	state      scopeState
	finalizers []finalizer
	exit       Exit
	ctx        context.Context
	cancel     context.CancelCauseFunc
}

// NewScope creates a root scope bound to ctx. Close cancels the scope's
// context; cancelling ctx also cancels the scope's context, but does not
// close the scope or run its finalizers.
func NewScope(ctx context.Context) *Scope {
	cctx, cancel := context.WithCancelCause(ctx)
	return &Scope{
		ID:     uuid.New(),
		state:  scopeOpen,
		ctx:    cctx,
		cancel: cancel,
	}
}

// Context returns the scope's context, cancelled (with cause) when the
// scope closes.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// AddFinalizer registers f to run when the scope closes, in reverse
// insertion order relative to other finalizers. If the scope is already
// closed, f runs immediately with the recorded exit.
func (s *Scope) AddFinalizer(f func(Exit)) {
	s.mu.Lock()
	if s.state == scopeClosed {
		exit := s.exit
		s.mu.Unlock()
		f(exit)
		return
	}
	s.finalizers = append(s.finalizers, f)
	s.mu.Unlock()
}

// Close records exit, then runs every registered finalizer exactly once,
// in reverse insertion order. Subsequent calls are no-ops and observe the
// first exit recorded.
func (s *Scope) Close(exit Exit) {
	s.mu.Lock()
	if s.state != scopeOpen {
		s.mu.Unlock()
		return
	}
	s.state = scopeClosing
	fins := s.finalizers
	s.finalizers = nil
	s.exit = exit
	s.mu.Unlock()

	for i := len(fins) - 1; i >= 0; i-- {
		fins[i](exit)
	}

	s.mu.Lock()
	s.state = scopeClosed
	s.mu.Unlock()

	if exit.Err != nil {
		s.cancel(exit.Err)
	} else {
		s.cancel(nil)
	}
}

// Exit returns the exit the scope closed with, valid only once the scope
// is closed.
func (s *Scope) Exit() Exit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exit
}

// Fork creates a child scope whose close is registered as one of the
// parent's finalizers: closing the parent closes every still-open child
// with the parent's exit, while a child may independently close earlier
// (e.g. one losing branch of a race) without touching the parent.
func (s *Scope) Fork() *Scope {
	child := NewScope(s.ctx)
	s.AddFinalizer(func(exit Exit) {
		child.Close(exit)
	})
	return child
}
