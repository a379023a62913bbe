// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"slices"
	"sync"
)

// Hooks is a keyed list of transition observers. Adding a key that is
// already present replaces its handler, so the same observer can never be
// fired twice for one transition. Observers are expected to remove
// themselves when fired and add themselves again for the next cycle.
//
// The zero value is ready to use.
type Hooks struct {
	mu    sync.Mutex
	order []string
	fns   map[string]func(ctx context.Context)
}

// Add registers fn under key.
func (h *Hooks) Add(key string, fn func(ctx context.Context)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fns == nil {
		h.fns = make(map[string]func(ctx context.Context))
	}
	if _, ok := h.fns[key]; !ok {
		h.order = append(h.order, key)
	}
	h.fns[key] = fn
}

// Remove deregisters the handler stored under key. Removing an unknown key
// is a no-op.
func (h *Hooks) Remove(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.fns[key]; !ok {
		return
	}
	delete(h.fns, key)
	h.order = slices.DeleteFunc(h.order, func(k string) bool { return k == key })
}

// Has reports whether a handler is registered under key.
func (h *Hooks) Has(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.fns[key]
	return ok
}

// Len returns the number of registered handlers.
func (h *Hooks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}

// Fire calls every registered handler in registration order. The list is
// snapshotted first so handlers may add or remove hooks while running.
func (h *Hooks) Fire(ctx context.Context) {
	h.mu.Lock()
	handlers := make([]func(ctx context.Context), 0, len(h.order))
	for _, key := range h.order {
		handlers = append(handlers, h.fns[key])
	}
	h.mu.Unlock()

	for _, fn := range handlers {
		fn(ctx)
	}
}
