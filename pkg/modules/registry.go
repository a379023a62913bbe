// Copyright 2024-2026 Aiku AI

package modules

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-ecolink/pkg/events"
)

// Registry holds at most one module per Kind. Empty slots are skipped.
type Registry struct {
	log zerolog.Logger

	mu    sync.RWMutex
	slots [NumKinds]Module
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{log: log.With().Str("component", "modules").Logger()}
}

// Set places m in its slot and returns the module it replaced.
func (r *Registry) Set(m Module) (Module, error) {
	k := m.Kind()
	if k < 0 || k >= NumKinds {
		return nil, fmt.Errorf("invalid module kind %d", int(k))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.slots[k]
	r.slots[k] = m
	return prev, nil
}

func (r *Registry) Get(k Kind) Module {
	if k < 0 || k >= NumKinds {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slots[k]
}

// Modules returns the occupied slots in kind order.
func (r *Registry) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mods := make([]Module, 0, NumKinds)
	for _, m := range r.slots {
		if m != nil {
			mods = append(mods, m)
		}
	}
	return mods
}

// Initialize installs mods, sets all of them up and then lets each decide
// whether to start.
func (r *Registry) Initialize(ctx context.Context, host Host, mods []Module) {
	for _, m := range mods {
		prev, err := r.Set(m)
		if err != nil {
			r.log.Error().Err(err).Stringer("module", m).Msg("Failed to register module")
			continue
		}
		if prev != nil {
			prev.Stop(ctx)
			prev.Destroy()
		}
	}
	installed := r.Modules()
	for _, m := range installed {
		m.Setup(host)
	}
	for _, m := range installed {
		m.HandleStartOrStop(ctx)
	}
	r.log.Info().Int("count", len(installed)).Msg("Modules initialized")
}

// HandleStartOrStop re-evaluates every module.
func (r *Registry) HandleStartOrStop(ctx context.Context) {
	for _, m := range r.Modules() {
		m.HandleStartOrStop(ctx)
	}
}

// Update passes evt to every module. A failing or panicking module is
// logged and does not affect the others.
func (r *Registry) Update(ctx context.Context, host Host, evt events.Event) {
	for _, m := range r.Modules() {
		if err := safeUpdate(ctx, m, host, evt); err != nil {
			r.log.Err(err).
				Stringer("module", m).
				Stringer("event_type", evt.Type).
				Msg("Module update failed")
		}
	}
}

// Reset stops every module, then destroys every module, then clears the
// slots that still hold them.
func (r *Registry) Reset(ctx context.Context) {
	mods := r.Modules()
	for _, m := range mods {
		m.Stop(ctx)
	}
	for _, m := range mods {
		m.Destroy()
	}

	r.mu.Lock()
	for _, m := range mods {
		if r.slots[m.Kind()] == m {
			r.slots[m.Kind()] = nil
		}
	}
	r.mu.Unlock()
	if len(mods) > 0 {
		r.log.Info().Int("count", len(mods)).Msg("Modules shut down")
	}
}

// Describe lists every module with its state, one per line.
func (r *Registry) Describe() string {
	mods := r.Modules()
	if len(mods) == 0 {
		return "No modules loaded"
	}
	var sb strings.Builder
	for i, m := range mods {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s: %s", m, m.State())
	}
	return sb.String()
}

func safeUpdate(ctx context.Context, m Module, host Host, evt events.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in %s update: %v", m, p)
		}
	}()
	return m.Update(ctx, host, evt)
}
