package encoder

import (
	"context"

	"github.com/hanpama/treewire/model"
	"github.com/hanpama/treewire/scope"
)

// Renderer defines the rendering capability an encode session uses for
// renderable nodes.
//
// General contract
//   - The session performs a pre-order depth-first walk. When it reaches a
//     renderable node it calls Render exactly once for the node's current
//     attempt; a suspended node is rendered again after its signal fires,
//     and may suspend again.
//   - bindings is an immutable snapshot of the context stack at the node's
//     tree position. Repeat attempts for a suspended node receive the same
//     snapshot, so a resumed render sees the bindings of its original
//     position, not whatever the walk moved on to.
//   - Render must not block on work that is not ready: return a Suspended
//     result carrying a completion signal instead. The session keeps
//     encoding siblings and ancestors while the signal is outstanding.
//   - A failed render affects only the node's own subtree. The session
//     converts the error into an error chunk; sibling encoding continues.
//   - Implementations must not mutate node or its props.
type Renderer interface {
	Render(ctx context.Context, node *model.Renderable, bindings scope.Snapshot) RenderResult
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(ctx context.Context, node *model.Renderable, bindings scope.Snapshot) RenderResult

func (f RendererFunc) Render(ctx context.Context, node *model.Renderable, bindings scope.Snapshot) RenderResult {
	return f(ctx, node, bindings)
}

// RenderState is the tri-state outcome of a render attempt. Suspension is
// an ordinary return value, never an exceptional jump.
type RenderState int

const (
	// RenderResolved means Value holds the node's body, itself a model
	// value the session recurses into.
	RenderResolved RenderState = iota
	// RenderSuspended means the body is not ready; Signal fires when the
	// node should be rendered again.
	RenderSuspended
	// RenderErrored means the attempt failed with Err.
	RenderErrored
)

func (s RenderState) String() string {
	switch s {
	case RenderResolved:
		return "resolved"
	case RenderSuspended:
		return "suspended"
	default:
		return "errored"
	}
}

// Signal is a completion handle for a suspended render. Subscribe must
// invoke notify exactly once, when a new render attempt is worthwhile.
// Notification may come from any goroutine.
type Signal interface {
	Subscribe(notify func())
}

// RenderResult is the outcome of one render attempt.
type RenderResult struct {
	State  RenderState
	Value  any
	Signal Signal
	Err    error
}

// Resolved builds a resolved outcome.
func Resolved(value any) RenderResult {
	return RenderResult{State: RenderResolved, Value: value}
}

// Suspended builds a suspended outcome carrying sig.
func Suspended(sig Signal) RenderResult {
	return RenderResult{State: RenderSuspended, Signal: sig}
}

// Errored builds a failed outcome.
func Errored(err error) RenderResult {
	return RenderResult{State: RenderErrored, Err: err}
}
