package scope

import "fmt"

type frame struct {
	key   string
	value any
}

// Stack is the LIFO binding stack owned by a single walk. Each encode walk
// and each decode replay constructs its own Stack; within a walk, push/pop
// ordering is strictly sequential, so the Stack needs no locking.
type Stack struct {
	reg    *Registry
	frames []frame
}

func NewStack(reg *Registry) *Stack {
	return &Stack{reg: reg}
}

// Handle identifies the stack state before a Push, so Pop can restore it
// exactly, including same-key bindings shadowed by the pushed one.
type Handle struct {
	depth int
}

// Push binds key to value and returns the handle to pass to Pop.
func (s *Stack) Push(key string, value any) Handle {
	h := Handle{depth: len(s.frames)}
	s.frames = append(s.frames, frame{key: key, value: value})
	return h
}

// Pop restores the visible state from before the matching Push. Popping out
// of LIFO order is structural misuse.
func (s *Stack) Pop(h Handle) error {
	if h.depth >= len(s.frames) {
		return fmt.Errorf("scope: pop of stale handle (depth %d, stack %d)", h.depth, len(s.frames))
	}
	s.frames = s.frames[:h.depth]
	return nil
}

// Current returns the nearest enclosing binding for key, the key's
// registered default when no binding is live, or nil for a key that was
// never registered. The nil fallback is deliberate: a missing registration
// reads as absent rather than failing the walk.
func (s *Stack) Current(key string) any {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].key == key {
			return s.frames[i].value
		}
	}
	if def, ok := s.reg.Default(key); ok {
		return def
	}
	return nil
}

// Depth returns the number of live bindings.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// Snapshot captures the bindings visible at this position. Snapshots are
// immutable; suspended subtrees close over one so a resumed walk sees the
// bindings of its original tree position.
func (s *Stack) Snapshot() Snapshot {
	frames := make([]frame, len(s.frames))
	copy(frames, s.frames)
	return Snapshot{reg: s.reg, frames: frames}
}

// Snapshot is an immutable view of a Stack at one walk position.
type Snapshot struct {
	reg    *Registry
	frames []frame
}

// Current returns the binding visible for key in the captured state, with
// the same fallback rules as Stack.Current.
func (sn Snapshot) Current(key string) any {
	for i := len(sn.frames) - 1; i >= 0; i-- {
		if sn.frames[i].key == key {
			return sn.frames[i].value
		}
	}
	if sn.reg != nil {
		if def, ok := sn.reg.Default(key); ok {
			return def
		}
	}
	return nil
}

// Stack returns a fresh mutable Stack seeded with the captured bindings,
// for walks resumed under this snapshot's scope.
func (sn Snapshot) Stack() *Stack {
	frames := make([]frame, len(sn.frames))
	copy(frames, sn.frames)
	return &Stack{reg: sn.reg, frames: frames}
}
