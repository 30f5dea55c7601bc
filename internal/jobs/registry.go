package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler executes one job payload.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Registry is the dispatch table from job kind to handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

// Register binds a handler. Unknown kinds and double registration fail.
func (r *Registry) Register(kind Kind, h Handler) error {
	if !kind.Known() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("job kind %s already registered", kind)
	}
	r.handlers[kind] = h
	return nil
}

// Lookup returns the handler of kind.
func (r *Registry) Lookup(kind Kind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Decode adapts a typed handler to Handler.
func Decode[T any](fn func(ctx context.Context, payload T) error) Handler {
	return func(ctx context.Context, raw json.RawMessage) error {
		var payload T
		if err := json.Unmarshal(raw, &payload); err != nil {
			return Permanent(fmt.Errorf("decode payload: %w", err))
		}
		return fn(ctx, payload)
	}
}
