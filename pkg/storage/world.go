// Copyright 2024-2026 Aiku AI

package storage

import (
	"fmt"
	"maps"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-ecolink/pkg/events"
)

// WorldData is the state tied to the current game world. It is wiped when
// the server generates a new world.
type WorldData struct {
	CurrencyTradeCounts map[int]int `yaml:"currency_trade_counts"`
}

// World keeps world data in memory and writes it to a YAML document.
type World struct {
	file *File[WorldData]
	log  zerolog.Logger

	mu   sync.RWMutex
	data WorldData
}

// OpenWorld loads the world document at path.
func OpenWorld(path string, log zerolog.Logger) (*World, error) {
	file := NewFile[WorldData](path)
	data, err := file.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load world data: %w", err)
	}
	if data.CurrencyTradeCounts == nil {
		data.CurrencyTradeCounts = make(map[int]int)
	}
	return &World{
		file: file,
		log:  log.With().Str("component", "world_storage").Logger(),
		data: data,
	}, nil
}

// HandleEvent updates world data for the events it tracks.
func (w *World) HandleEvent(evt events.Event) {
	if evt.Type != events.Trade {
		return
	}
	trade, ok := events.PayloadAs[events.CurrencyTrade](evt)
	if !ok {
		return
	}

	w.mu.Lock()
	w.data.CurrencyTradeCounts[trade.Currency.ID]++
	w.mu.Unlock()
}

// TradeCount returns the number of recorded trades for a currency.
func (w *World) TradeCount(currencyID int) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.data.CurrencyTradeCounts[currencyID]
}

// TradeCounts returns a copy of the currency id to trade count mapping.
func (w *World) TradeCounts() map[int]int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return maps.Clone(w.data.CurrencyTradeCounts)
}

// ResetWorldData discards all world data and persists the empty state.
func (w *World) ResetWorldData() error {
	w.mu.Lock()
	w.data = WorldData{CurrencyTradeCounts: make(map[int]int)}
	w.mu.Unlock()
	w.log.Info().Msg("World data reset")
	return w.Write()
}

// Write persists the current world data.
func (w *World) Write() error {
	w.mu.RLock()
	snapshot := WorldData{CurrencyTradeCounts: maps.Clone(w.data.CurrencyTradeCounts)}
	w.mu.RUnlock()
	if err := w.file.Save(snapshot); err != nil {
		return fmt.Errorf("failed to write world data: %w", err)
	}
	return nil
}
