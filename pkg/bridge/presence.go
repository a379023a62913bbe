// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"time"
)

// startPresence starts the timer that refreshes the bot's custom status.
// A running timer is replaced.
func (b *Bridge) startPresence() {
	b.stopPresenceTimer()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.mu.Lock()
	b.stopPresence = cancel
	b.presenceDone = done
	b.mu.Unlock()

	go func() {
		defer close(done)
		b.updatePresence(ctx)
		ticker := time.NewTicker(b.cfg.PresenceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.updatePresence(ctx)
			}
		}
	}()
}

// stopPresenceTimer stops the presence timer and waits for it to exit.
func (b *Bridge) stopPresenceTimer() {
	b.mu.Lock()
	cancel, done := b.stopPresence, b.presenceDone
	b.stopPresence, b.presenceDone = nil, nil
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (b *Bridge) updatePresence(ctx context.Context) {
	text := b.renderer.Activity(b.Stats())
	if err := b.chat.SetCustomStatus(ctx, text); err != nil {
		b.log.Warn().Err(err).Msg("Failed to update presence")
		return
	}
	b.log.Trace().Str("presence", text).Msg("Presence updated")
}
