package decoder

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hanpama/treewire/internal/eventbus"
	"github.com/hanpama/treewire/internal/events"
	"github.com/hanpama/treewire/internal/sessionid"
	"github.com/hanpama/treewire/refs"
	"github.com/hanpama/treewire/scope"
	"github.com/hanpama/treewire/wire"
)

// State is the lifecycle of one chunk id.
type State int

const (
	StateUnseen State = iota
	StateBlocked
	StateResolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnseen:
		return "Unseen"
	case StateBlocked:
		return "Blocked"
	case StateResolved:
		return "Resolved"
	default:
		return "Failed"
	}
}

// Subscriber observes the terminal state of a chunk: node on resolution,
// err on failure.
type Subscriber func(node *Node, err error)

type chunk struct {
	state   State
	node    *Node
	err     error
	subs    []Subscriber
	waiters []*Node
}

// Options configures a decode table.
type Options struct {
	Logger *zap.Logger
}

type Option func(*Options)

func WithLogger(l *zap.Logger) Option { return func(o *Options) { o.Logger = l } }

// Table is the chunk arena of one decode session. Feed is the only mutator;
// Get and Subscribe are non-blocking reads. One table serves one session
// and shares no state with any other.
type Table struct {
	mu       sync.Mutex
	registry *scope.Registry
	cache    *refs.Cache
	stack    *scope.Stack
	chunks   map[wire.ChunkID]*chunk
	tokens   map[int64]refs.Locator
	root     wire.ChunkID
	hasRoot  bool
	blocked  int
	fatal    *ProtocolViolationError
	log      *zap.Logger
}

// NewTable creates a decode table. registry must hold the same context key
// defaults as the encode side; loader supplies sink implementations for
// reference tokens and is invoked exactly once per distinct locator.
func NewTable(registry *scope.Registry, loader refs.Loader, opts ...Option) *Table {
	o := &Options{Logger: zap.NewNop()}
	for _, f := range opts {
		f(o)
	}
	return &Table{
		registry: registry,
		cache:    refs.NewCache(loader),
		stack:    scope.NewStack(registry),
		chunks:   make(map[wire.ChunkID]*chunk),
		tokens:   make(map[int64]refs.Locator),
		log:      o.Logger,
	}
}

// Feed appends one row. Rows may arrive in any order relative to logical
// tree structure, but a blocked row for an id always precedes its terminal
// row, and any id referenced inside a payload has already been declared.
// A protocol violation poisons the table: the same error is returned from
// every later call.
func (t *Table) Feed(ctx context.Context, row wire.Row) error {
	t.mu.Lock()
	if t.fatal != nil {
		err := t.fatal
		t.mu.Unlock()
		return err
	}
	c := t.chunkAt(row.ID)
	var notify []func()
	var err error
	switch row.Tag {
	case wire.TagBlocked:
		if c.state != StateUnseen {
			err = t.violate(row.ID, fmt.Sprintf("blocked row for id in state %s", c.state))
			break
		}
		c.state = StateBlocked
		t.blocked++

	case wire.TagValue, wire.TagRoot:
		if c.state == StateResolved || c.state == StateFailed {
			err = t.violate(row.ID, fmt.Sprintf("terminal row for id already %s", c.state))
			break
		}
		if row.Tag == wire.TagRoot && t.hasRoot && t.root != row.ID {
			err = t.violate(row.ID, "duplicate model root")
			break
		}
		var node *Node
		node, err = t.materialize(ctx, row.Payload)
		if err != nil {
			break
		}
		if c.state == StateBlocked {
			t.blocked--
		}
		c.state = StateResolved
		c.node = node
		if row.Tag == wire.TagRoot {
			t.root = row.ID
			t.hasRoot = true
		}
		notify = t.deliver(c)

	case wire.TagError:
		if c.state == StateResolved || c.state == StateFailed {
			err = t.violate(row.ID, fmt.Sprintf("error row for id already %s", c.state))
			break
		}
		message, digest, ok := wire.AsErrorPayload(row.Payload)
		if !ok {
			err = t.violate(row.ID, "malformed error payload")
			break
		}
		if c.state == StateBlocked {
			t.blocked--
		}
		c.state = StateFailed
		c.err = &ChunkError{Message: message, Digest: digest}
		notify = t.deliver(c)

	default:
		err = t.violate(row.ID, fmt.Sprintf("unknown tag %q", row.Tag))
	}

	state := c.state
	t.mu.Unlock()

	if err != nil {
		t.log.Error("feed failed", zap.Int64("chunk", int64(row.ID)), zap.Error(err))
	} else {
		t.log.Debug("row fed", zap.Int64("chunk", int64(row.ID)), zap.String("tag", string(row.Tag)))
	}
	sid, _ := sessionid.FromContext(ctx)
	eventbus.Publish(ctx, events.DecodeFeed{Session: sid, Chunk: int64(row.ID), Tag: string(row.Tag), State: state.String()})

	// Subscriber callbacks run outside the table lock, in subscription
	// order per chunk.
	for _, fn := range notify {
		fn()
	}
	return err
}

// Get returns the current state of id without blocking.
func (t *Table) Get(id wire.ChunkID) (State, *Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.chunks[id]
	if !ok {
		return StateUnseen, nil, nil
	}
	return c.state, c.node, c.err
}

// Subscribe registers fn to run once when id reaches a terminal state. If
// id is already terminal, fn runs immediately. Subscribers on the same id
// are notified in subscription order.
func (t *Table) Subscribe(id wire.ChunkID, fn Subscriber) {
	t.mu.Lock()
	c := t.chunkAt(id)
	if c.state == StateResolved || c.state == StateFailed {
		node, err := c.node, c.err
		t.mu.Unlock()
		fn(node, err)
		return
	}
	c.subs = append(c.subs, fn)
	t.mu.Unlock()
}

// Root returns the decoded model root once its row has arrived.
func (t *Table) Root() (*Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasRoot {
		return nil, false
	}
	return t.chunks[t.root].node, true
}

// Outstanding returns the number of ids declared blocked and not yet
// terminal.
func (t *Table) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blocked
}

func (t *Table) chunkAt(id wire.ChunkID) *chunk {
	c, ok := t.chunks[id]
	if !ok {
		c = &chunk{state: StateUnseen}
		t.chunks[id] = c
	}
	return c
}

func (t *Table) violate(id wire.ChunkID, msg string) *ProtocolViolationError {
	v := &ProtocolViolationError{Chunk: id, Msg: msg}
	t.fatal = v
	return v
}

// deliver resolves waiting placeholder nodes in place and collects the
// chunk's subscriber callbacks.
func (t *Table) deliver(c *chunk) []func() {
	for _, ph := range c.waiters {
		if c.state == StateResolved {
			*ph = *c.node
		} else {
			*ph = Node{Kind: NodeFailed, Err: c.err, Chunk: ph.Chunk}
		}
	}
	c.waiters = nil
	notify := make([]func(), 0, len(c.subs))
	node, err := c.node, c.err
	for _, fn := range c.subs {
		fn := fn
		notify = append(notify, func() { fn(node, err) })
	}
	c.subs = nil
	return notify
}

// materialize builds the graph for one payload. Provider instructions are
// replayed against the table-local context stack in row order, so bindings
// seen while materializing a chunk match the ones active at its position
// in the original tree.
func (t *Table) materialize(ctx context.Context, payload any) (*Node, error) {
	switch p := payload.(type) {
	case []any:
		if key, bound, body, ok := wire.ProviderRegion(p); ok {
			boundNode, err := t.materialize(ctx, bound)
			if err != nil {
				return nil, err
			}
			h := t.stack.Push(key, boundNode)
			bodyNode, err := t.materialize(ctx, body)
			if perr := t.stack.Pop(h); perr != nil {
				return nil, t.violate(0, perr.Error())
			}
			if err != nil {
				return nil, err
			}
			return &Node{Kind: NodeProvider, Key: key, Bound: boundNode, Body: bodyNode}, nil
		}
		items := make([]*Node, len(p))
		for i, item := range p {
			n, err := t.materialize(ctx, item)
			if err != nil {
				return nil, err
			}
			items[i] = n
		}
		return &Node{Kind: NodeSequence, Items: items}, nil

	case map[string]any:
		if id, ok := wire.AsRef(p); ok {
			return t.link(id)
		}
		if tok, ok := wire.AsToken(p); ok {
			return t.resolveToken(ctx, p, tok)
		}
		fields := make(map[string]*Node, len(p))
		for k, item := range p {
			n, err := t.materialize(ctx, item)
			if err != nil {
				return nil, err
			}
			fields[k] = n
		}
		return &Node{Kind: NodeMapping, Fields: fields}, nil

	default:
		return &Node{Kind: NodeScalar, Scalar: normScalar(payload)}, nil
	}
}

// link resolves a forward reference into either the shared resolved node
// or a placeholder registered for in-place resolution.
func (t *Table) link(id wire.ChunkID) (*Node, error) {
	c, ok := t.chunks[id]
	if !ok {
		return nil, t.violate(id, "reference to undeclared id")
	}
	switch c.state {
	case StateResolved:
		return c.node, nil
	case StateFailed:
		return &Node{Kind: NodeFailed, Err: c.err, Chunk: ChunkRef(id)}, nil
	default:
		ph := &Node{Kind: NodePlaceholder, Chunk: ChunkRef(id)}
		c.waiters = append(c.waiters, ph)
		return ph, nil
	}
}

func (t *Table) resolveToken(ctx context.Context, marker map[string]any, tok int64) (*Node, error) {
	if module, export, ok := wire.TokenLocator(marker); ok {
		if _, seen := t.tokens[tok]; !seen {
			t.tokens[tok] = refs.Locator{Module: module, Export: export}
		}
	}
	loc, ok := t.tokens[tok]
	if !ok {
		return nil, t.violate(0, fmt.Sprintf("token %d used before its locator", tok))
	}
	impl, err := t.cache.Resolve(ctx, loc)
	if err != nil {
		return &Node{Kind: NodeFailed, Err: fmt.Errorf("decoder: resolve %s.%s: %w", loc.Module, loc.Export, err)}, nil
	}
	return &Node{Kind: NodeReference, Impl: impl}, nil
}

// normScalar folds the codec-specific number encodings to int64/float64.
func normScalar(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		f, _ := n.Float64()
		return f
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case uint64:
		if n <= 1<<63-1 {
			return int64(n)
		}
		return n
	case float32:
		return float64(n)
	default:
		return v
	}
}
