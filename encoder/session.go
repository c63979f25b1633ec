// Package encoder converts a model value tree into the ordered chunk
// stream. The walk is pre-order depth-first; subtrees whose render is not
// ready suspend without blocking siblings and resume through completion
// signals, emitting their terminal rows for ids declared at first
// discovery.
package encoder

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hanpama/treewire/internal/eventbus"
	"github.com/hanpama/treewire/internal/events"
	"github.com/hanpama/treewire/internal/sessionid"
	"github.com/hanpama/treewire/model"
	"github.com/hanpama/treewire/refs"
	"github.com/hanpama/treewire/scope"
	"github.com/hanpama/treewire/wire"
)

// Sink receives rows in emission order. The in-memory recorder used by
// tests, the framed stream writer, and the gRPC send loop all satisfy it.
type Sink interface {
	WriteRow(row wire.Row) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(row wire.Row) error

func (f SinkFunc) WriteRow(row wire.Row) error { return f(row) }

// Session encodes one model root and the resumptions of its suspended
// subtrees. All row emission is serialized on the session mutex; signal
// callbacks re-enter through goroutines, so a signal firing synchronously
// during the walk cannot deadlock it.
type Session struct {
	mu       sync.Mutex
	renderer Renderer
	registry *scope.Registry
	refs     *refs.Table
	sink     Sink
	opts     *Options
	log      *zap.Logger

	ctx         context.Context
	sid         int64
	nextID      int64
	rows        int
	outstanding int
	idleCh      chan struct{}
	encoded     bool
	err         error
}

// NewSession creates a session writing rows to sink. registry supplies the
// context key defaults shared with the decode side.
func NewSession(renderer Renderer, registry *scope.Registry, sink Sink, opts ...Option) *Session {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	return &Session{
		renderer: renderer,
		registry: registry,
		refs:     refs.NewTable(),
		sink:     sink,
		opts:     o,
		log:      o.Logger,
		ctx:      context.Background(),
	}
}

// Refs exposes the session's reference table.
func (s *Session) Refs() *refs.Table { return s.refs }

// Encode walks root and emits its chunk stream. It returns the root chunk
// id once the synchronous part of the walk has been emitted; suspended
// subtrees keep resolving afterwards (see Wait). A session encodes exactly
// one root.
func (s *Session) Encode(ctx context.Context, root any) (wire.ChunkID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.encoded {
		return 0, fmt.Errorf("encoder: session already used")
	}
	s.encoded = true

	ctx, sid := sessionid.NewContext(ctx)
	s.sid = sid
	// Resumptions outlive the Encode call; they must not inherit its
	// cancellation.
	s.ctx = context.WithoutCancel(ctx)
	s.log = s.log.With(zap.Int64("session", sid))

	start := time.Now()
	eventbus.Publish(ctx, events.EncodeStart{Session: sid})

	stack := scope.NewStack(s.registry)
	id := s.assignID()
	payload, err := s.encodeValue(ctx, root, stack)
	if err == nil {
		err = s.emit(ctx, wire.Row{ID: id, Tag: wire.TagRoot, Payload: payload})
	}
	eventbus.Publish(ctx, events.EncodeFinish{Session: sid, Rows: s.rows, Duration: time.Since(start), Err: err})
	return id, err
}

// Wait blocks until every suspended subtree has produced its terminal row,
// or ctx is done. It returns the session's sticky error, if any.
func (s *Session) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.outstanding == 0 {
			err := s.err
			s.mu.Unlock()
			return err
		}
		if s.idleCh == nil {
			s.idleCh = make(chan struct{})
		}
		ch := s.idleCh
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Outstanding returns the number of suspended subtrees without a terminal
// row yet.
func (s *Session) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

func (s *Session) assignID() wire.ChunkID {
	id := wire.ChunkID(s.nextID)
	s.nextID++
	return id
}

// encodeValue returns the payload form of v. Node-scoped failures never
// surface here; they become error chunks referenced from the parent
// payload. A non-nil error is fatal to the session (sink failure or
// cancellation).
func (s *Session) encodeValue(ctx context.Context, v any, stack *scope.Stack) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch model.Classify(v) {
	case model.KindScalar:
		return normScalar(v), nil

	case model.KindSequence:
		items := v.([]any)
		out := make([]any, len(items))
		for i, item := range items {
			p, err := s.encodeValue(ctx, item, stack)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return s.spill(ctx, out)

	case model.KindMapping:
		m := v.(map[string]any)
		out := make(map[string]any, len(m))
		// Sorted key order keeps id assignment deterministic across runs.
		for _, k := range slices.Sorted(maps.Keys(m)) {
			if strings.HasPrefix(k, "$") {
				return s.emitNodeError(ctx, &NotSerializableError{
					Reason: fmt.Sprintf("mapping key %q collides with marker namespace", k),
				})
			}
			p, err := s.encodeValue(ctx, m[k], stack)
			if err != nil {
				return nil, err
			}
			out[k] = p
		}
		return s.spill(ctx, out)

	case model.KindRenderable:
		return s.encodeRenderable(ctx, v.(*model.Renderable), stack)

	case model.KindReference:
		ref := v.(*model.Reference)
		tok, first := s.refs.Assign(ref)
		if first {
			return wire.TokenWithLocator(int64(tok), ref.Module, ref.Export), nil
		}
		return wire.Token(int64(tok)), nil

	case model.KindProvider:
		p := v.(*model.Provider)
		// The bound value is evaluated in the parent scope.
		bound, err := s.encodeValue(ctx, p.Value, stack)
		if err != nil {
			return nil, err
		}
		h := stack.Push(p.Key, p.Value)
		body, err := s.encodeValue(ctx, p.Body, stack)
		if perr := stack.Pop(h); perr != nil {
			return nil, perr
		}
		if err != nil {
			return nil, err
		}
		return []any{wire.ProviderEnter(p.Key, bound), body, wire.ProviderExit(p.Key)}, nil

	case model.KindReader:
		r := v.(*model.Reader)
		return s.encodeValue(ctx, stack.Current(r.Key), stack)

	case model.KindPending:
		p := v.(*model.Pending)
		id := s.assignID()
		if err := s.emit(ctx, wire.Row{ID: id, Tag: wire.TagBlocked}); err != nil {
			return nil, err
		}
		s.outstanding++
		snap := stack.Snapshot()
		p.Subscribe(func() { go s.completePending(id, p, snap) })
		return wire.Ref(id), nil

	default:
		return s.emitNodeError(ctx, &NotSerializableError{
			Reason: fmt.Sprintf("unsupported value of type %T", v),
		})
	}
}

func (s *Session) encodeRenderable(ctx context.Context, node *model.Renderable, stack *scope.Stack) (any, error) {
	res := s.render(ctx, node, stack.Snapshot())
	switch res.State {
	case RenderResolved:
		return s.encodeValue(ctx, res.Value, stack)

	case RenderSuspended:
		id := s.assignID()
		if err := s.emit(ctx, wire.Row{ID: id, Tag: wire.TagBlocked}); err != nil {
			return nil, err
		}
		s.outstanding++
		snap := stack.Snapshot()
		res.Signal.Subscribe(func() { go s.resume(id, node, snap) })
		return wire.Ref(id), nil

	default:
		return s.emitNodeError(ctx, &RenderError{Node: node.Name, Err: res.Err})
	}
}

// resume re-renders a suspended node for its already-declared chunk id.
// Fresh subtrees discovered here get new ids at this point, never earlier.
func (s *Session) resume(id wire.ChunkID, node *model.Renderable, snap scope.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := s.ctx
	res := s.render(ctx, node, snap)
	switch res.State {
	case RenderResolved:
		payload, err := s.encodeValue(ctx, res.Value, snap.Stack())
		if err == nil {
			s.emit(ctx, wire.Row{ID: id, Tag: wire.TagValue, Payload: payload})
		}
		s.settle()
	case RenderSuspended:
		res.Signal.Subscribe(func() { go s.resume(id, node, snap) })
	default:
		s.emitErrorRow(ctx, id, &RenderError{Node: node.Name, Err: res.Err})
		s.settle()
	}
}

func (s *Session) completePending(id wire.ChunkID, p *model.Pending, snap scope.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := s.ctx
	v, err := p.Value()
	if err != nil {
		s.emitErrorRow(ctx, id, &PendingError{Err: err})
	} else if payload, ferr := s.encodeValue(ctx, v, snap.Stack()); ferr == nil {
		s.emit(ctx, wire.Row{ID: id, Tag: wire.TagValue, Payload: payload})
	}
	s.settle()
}

func (s *Session) render(ctx context.Context, node *model.Renderable, snap scope.Snapshot) RenderResult {
	eventbus.Publish(ctx, events.RenderStart{Session: s.sid, Node: node.Name})
	start := time.Now()
	res := s.renderer.Render(ctx, node, snap)
	eventbus.Publish(ctx, events.RenderFinish{
		Session:  s.sid,
		Node:     node.Name,
		Outcome:  res.State.String(),
		Duration: time.Since(start),
	})
	return res
}

// emitNodeError allocates a chunk for a node-scoped failure and returns
// the reference the parent payload inlines in the node's place.
func (s *Session) emitNodeError(ctx context.Context, nodeErr error) (any, error) {
	id := s.assignID()
	if err := s.emitErrorRow(ctx, id, nodeErr); err != nil {
		return nil, err
	}
	return wire.Ref(id), nil
}

func (s *Session) emitErrorRow(ctx context.Context, id wire.ChunkID, nodeErr error) error {
	msg, digest := wire.Sanitize(nodeErr.Error(), s.opts.Debug)
	s.log.Debug("subtree failed", zap.Int64("chunk", int64(id)), zap.String("digest", digest))
	return s.emit(ctx, wire.Row{ID: id, Tag: wire.TagError, Payload: wire.ErrorPayload(msg, digest)})
}

// spill breaks a structural payload into its own chunk when it exceeds the
// inline threshold. Size is measured on the JSON encoding.
func (s *Session) spill(ctx context.Context, payload any) (any, error) {
	if s.opts.MaxInline <= 0 {
		return payload, nil
	}
	data, err := json.Marshal(payload)
	if err != nil || len(data) <= s.opts.MaxInline {
		return payload, nil
	}
	id := s.assignID()
	if err := s.emit(ctx, wire.Row{ID: id, Tag: wire.TagValue, Payload: payload}); err != nil {
		return nil, err
	}
	return wire.Ref(id), nil
}

func (s *Session) emit(ctx context.Context, row wire.Row) error {
	if s.err != nil {
		return s.err
	}
	if err := s.sink.WriteRow(row); err != nil {
		s.err = fmt.Errorf("encoder: write row %d: %w", row.ID, err)
		s.log.Error("row write failed", zap.Int64("chunk", int64(row.ID)), zap.Error(err))
		return s.err
	}
	s.rows++
	s.log.Debug("row emitted", zap.Int64("chunk", int64(row.ID)), zap.String("tag", string(row.Tag)))
	eventbus.Publish(ctx, events.RowEmitted{Session: s.sid, Chunk: int64(row.ID), Tag: string(row.Tag)})
	return nil
}

func (s *Session) settle() {
	s.outstanding--
	if s.outstanding == 0 && s.idleCh != nil {
		close(s.idleCh)
		s.idleCh = nil
	}
}

// normScalar widens numeric scalars so the payload carries only int64,
// uint64 (for values above MaxInt64), and float64.
func normScalar(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		if uint64(n) > math.MaxInt64 {
			return uint64(n)
		}
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		if n > math.MaxInt64 {
			return n
		}
		return int64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}
