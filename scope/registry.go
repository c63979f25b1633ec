// Package scope provides scoped, replayable context bindings for the
// depth-first walk on both sides of the protocol. A Registry holds key
// defaults for a session pair; a Stack holds the bindings live at one
// position of one walk. No state is shared across sessions.
package scope

import (
	"fmt"
	"sync"
)

// DuplicateKeyError reports registration of an already-registered context key.
// It is structural misuse and fatal to the session.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("scope: context key %q already registered", e.Key)
}

// Registry maps context keys to their default values. Keys must be
// registered before their first read. A registry is shared between the
// encoder and decoder of a session pair and is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	defaults map[string]any
}

func NewRegistry() *Registry {
	return &Registry{defaults: make(map[string]any)}
}

// Register records key with its default value. Registering a key that is
// already registered fails; re-registering after an explicit Unregister is
// legal.
func (r *Registry) Register(key string, def any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defaults[key]; ok {
		return &DuplicateKeyError{Key: key}
	}
	r.defaults[key] = def
	return nil
}

// Unregister removes key. Reads of an unregistered key yield nil.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.defaults, key)
}

// Default returns the registered default for key.
func (r *Registry) Default(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defaults[key]
	return def, ok
}

// Registered reports whether key is currently registered.
func (r *Registry) Registered(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defaults[key]
	return ok
}
