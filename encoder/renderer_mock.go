package encoder

import (
	"context"
	"fmt"
	"sync"

	"github.com/hanpama/treewire/model"
	"github.com/hanpama/treewire/scope"
)

// ManualSignal is a Signal fired explicitly, for tests and for renderers
// that drive completion from their own plumbing. Subscribers registered
// after Fire are notified immediately.
type ManualSignal struct {
	mu    sync.Mutex
	fired bool
	subs  []func()
}

func NewManualSignal() *ManualSignal { return &ManualSignal{} }

func (s *ManualSignal) Subscribe(notify func()) {
	s.mu.Lock()
	fired := s.fired
	if !fired {
		s.subs = append(s.subs, notify)
	}
	s.mu.Unlock()
	if fired {
		notify()
	}
}

// Fire notifies all subscribers. Firing twice is a no-op.
func (s *ManualSignal) Fire() {
	s.mu.Lock()
	if s.fired {
		s.mu.Unlock()
		return
	}
	s.fired = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, notify := range subs {
		notify()
	}
}

// MockRender produces the outcome for a single render attempt; MockRenderer
// dispatches to one per node name in tests.
type MockRender func(node *model.Renderable, bindings scope.Snapshot) RenderResult

// NewMockValueRender returns a MockRender that always resolves to val.
func NewMockValueRender(val any) MockRender {
	return func(*model.Renderable, scope.Snapshot) RenderResult {
		return Resolved(val)
	}
}

// NewMockErrorRender returns a MockRender that always fails with err.
func NewMockErrorRender(err error) MockRender {
	return func(*model.Renderable, scope.Snapshot) RenderResult {
		return Errored(err)
	}
}

// NewMockSuspendRender returns a MockRender that suspends on the first
// attempt with sig and resolves to val on the next one.
func NewMockSuspendRender(sig *ManualSignal, val any) MockRender {
	first := true
	return func(*model.Renderable, scope.Snapshot) RenderResult {
		if first {
			first = false
			return Suspended(sig)
		}
		return Resolved(val)
	}
}

// RenderCall records one render attempt.
type RenderCall struct {
	Node    string
	Outcome RenderState
}

// MockRenderer implements Renderer with a registry of per-name renders and
// a call log.
type MockRenderer struct {
	mu      sync.Mutex
	renders map[string]MockRender
	calls   []RenderCall
}

// NewMockRenderer creates a MockRenderer with the provided renders, keyed
// by node name.
func NewMockRenderer(renders map[string]MockRender) *MockRenderer {
	if renders == nil {
		renders = map[string]MockRender{}
	}
	return &MockRenderer{renders: renders}
}

func (m *MockRenderer) Render(ctx context.Context, node *model.Renderable, bindings scope.Snapshot) RenderResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn, ok := m.renders[node.Name]
	var res RenderResult
	if !ok {
		res = Errored(fmt.Errorf("no render registered for %q", node.Name))
	} else {
		res = fn(node, bindings)
	}
	m.calls = append(m.calls, RenderCall{Node: node.Name, Outcome: res.State})
	return res
}

// Calls returns a copy of the call log.
func (m *MockRenderer) Calls() []RenderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RenderCall(nil), m.calls...)
}
