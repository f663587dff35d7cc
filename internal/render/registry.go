package render

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Handler runs when the engine reports completion of a render.
type Handler func(args []any)

// Registry correlates inbound completion messages with pending renders.
// Each handler fires at most once and is removed before it runs.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]Handler
	log      *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		log:      log.With(slog.String("component", "render-registry")),
	}
}

// Register installs the handler for id. An id may only be pending once.
func (r *Registry) Register(id string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[id]; exists {
		return fmt.Errorf("render %s already has a completion handler", id)
	}
	r.handlers[id] = h
	return nil
}

// Fire removes and invokes the handler for id. It reports whether one was
// registered.
func (r *Registry) Fire(id string, args []any) bool {
	r.mu.Lock()
	h, ok := r.handlers[id]
	delete(r.handlers, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	h(args)
	return true
}

// Remove drops the handler for id without invoking it.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[id]
	delete(r.handlers, id)
	return ok
}

// Len is the number of renders awaiting completion.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// Dispatch routes an inbound message addressed "/<render_id>".
func (r *Registry) Dispatch(address string, args []any) {
	id := strings.TrimPrefix(address, "/")
	if id == "" || strings.Contains(id, "/") {
		r.log.Debug("ignoring message", slog.String("address", address))
		return
	}
	if !r.Fire(id, args) {
		r.log.Debug("no pending render for completion", slog.String("render_id", id))
	}
}
