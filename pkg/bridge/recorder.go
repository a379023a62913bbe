// Copyright 2024-2026 Aiku AI

package bridge

import (
	"maps"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-ecolink/pkg/events"
)

// Recorder is the first stage of every dispatch. It logs the event and
// counts dispatches per type.
type Recorder struct {
	log zerolog.Logger

	mu     sync.Mutex
	counts map[string]uint64
}

func NewRecorder(log zerolog.Logger) *Recorder {
	return &Recorder{
		log:    log.With().Str("component", "event_recorder").Logger(),
		counts: make(map[string]uint64),
	}
}

func (r *Recorder) Record(evt events.Event) {
	r.mu.Lock()
	r.counts[evt.Type.String()]++
	r.mu.Unlock()
	if evt.Type == events.ServerLogWritten {
		return
	}
	r.log.Debug().
		Stringer("type", evt.Type).
		Int("payloads", len(evt.Payload)).
		Msg("Event dispatched")
}

// Counts returns the number of dispatches per event type name.
func (r *Recorder) Counts() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.counts)
}
