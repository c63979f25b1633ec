// Package refs implements the reference table: a per-session mapping from
// sink-only implementations to compact tokens on the encode side, and a
// once-per-locator resolver cache on the decode side.
package refs

import (
	"context"
	"sync"

	"github.com/hanpama/treewire/model"
)

// Token is an opaque integer standing in for a sink-only implementation.
// Tokens are assigned monotonically from zero within one encode session.
type Token int64

// Locator tells the sink's loader where to find an implementation.
type Locator struct {
	Module string `json:"module"`
	Export string `json:"export"`
}

// Table assigns tokens to reference markers by pointer identity. The same
// marker always yields the same token within a session; structurally equal
// markers at different addresses yield distinct tokens.
type Table struct {
	mu       sync.Mutex
	tokens   map[*model.Reference]Token
	locators []Locator
}

func NewTable() *Table {
	return &Table{tokens: make(map[*model.Reference]Token)}
}

// Assign returns the token for ref, allocating one on first encounter.
// first reports whether this call allocated the token; the locator is
// transmitted on the wire exactly when first is true.
func (t *Table) Assign(ref *model.Reference) (tok Token, first bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tok, ok := t.tokens[ref]; ok {
		return tok, false
	}
	tok = Token(len(t.locators))
	t.tokens[ref] = tok
	t.locators = append(t.locators, Locator{Module: ref.Module, Export: ref.Export})
	return tok, true
}

// Locate returns the locator recorded for tok.
func (t *Table) Locate(tok Token) (Locator, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tok < 0 || int(tok) >= len(t.locators) {
		return Locator{}, false
	}
	return t.locators[tok], true
}

// Len returns the number of distinct tokens assigned so far.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locators)
}

// Loader turns a locator into a usable sink-local implementation. It is
// supplied by the sink's module system; implementations may block on I/O
// and should respect ctx.
type Loader interface {
	Resolve(ctx context.Context, loc Locator) (any, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, loc Locator) (any, error)

func (f LoaderFunc) Resolve(ctx context.Context, loc Locator) (any, error) {
	return f(ctx, loc)
}

// Cache wraps a Loader and guarantees Resolve is called exactly once per
// distinct locator per session, caching the result (or failure) for every
// later chunk referencing the same token.
type Cache struct {
	mu      sync.Mutex
	loader  Loader
	entries map[Locator]*cacheEntry
}

type cacheEntry struct {
	once sync.Once
	impl any
	err  error
}

func NewCache(loader Loader) *Cache {
	return &Cache{loader: loader, entries: make(map[Locator]*cacheEntry)}
}

// Resolve returns the implementation for loc, loading it on first use.
func (c *Cache) Resolve(ctx context.Context, loc Locator) (any, error) {
	c.mu.Lock()
	e, ok := c.entries[loc]
	if !ok {
		e = &cacheEntry{}
		c.entries[loc] = e
	}
	c.mu.Unlock()
	e.once.Do(func() {
		e.impl, e.err = c.loader.Resolve(ctx, loc)
	})
	return e.impl, e.err
}
