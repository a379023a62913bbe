// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

var (
	// ErrConnection wraps every failure of a connection attempt.
	ErrConnection = errors.New("chat connection failed")
	// ErrTransitionInFlight is returned when a start, stop or restart is
	// requested while another transition has not finished.
	ErrTransitionInFlight = errors.New("connection transition in progress")
	// ErrRestartRefused is returned when the restart gate is closed.
	ErrRestartRefused = errors.New("restart already in progress")
	// ErrNotConnected is returned by chat operations while disconnected.
	ErrNotConnected = errors.New("not connected to chat server")
)

// State is the connection state of the chat session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

const (
	StatusUninitialized = "uninitialized"
	StatusConnecting    = "connecting"
	StatusConnected     = "connected"
	StatusDisconnected  = "disconnected"
	StatusAborted       = "aborted"
)

// EventSink receives raw chat events (ChatReaction and ChatMessage
// payloads). Tests inject a recorder instead of a full bridge.
type EventSink interface {
	HandleChatEvent(raw any)
}

// Client owns the bridge's single Mattermost session.
type Client struct {
	cfg  Config
	log  zerolog.Logger
	dial streamDialer

	// OnConnected fires after a successful Start.
	OnConnected Hooks
	// OnDisconnecting fires before the session is torn down, including when
	// the event stream closes on its own.
	OnDisconnecting Hooks

	state      atomic.Int32
	canRestart atomic.Bool
	status     atomic.Value

	sinkMu sync.RWMutex
	sink   EventSink

	mu       sync.RWMutex
	api      *model.Client4
	stream   eventStream
	me       *model.User
	team     *model.Team
	stopOnce *sync.Once
	stopChan chan struct{}

	privateChannels sync.Map
}

// NewClient creates a disconnected client. The restart gate starts closed
// until OpenRestartGate is called.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	c := &Client{
		cfg:  cfg,
		log:  log.With().Str("component", "mm_client").Logger(),
		dial: dialWebSocket,
	}
	c.status.Store(StatusUninitialized)
	return c
}

// SetEventSink sets the receiver of chat events.
func (c *Client) SetEventSink(sink EventSink) {
	c.sinkMu.Lock()
	c.sink = sink
	c.sinkMu.Unlock()
}

func (c *Client) emit(raw any) {
	c.sinkMu.RLock()
	sink := c.sink
	c.sinkMu.RUnlock()
	if sink != nil {
		sink.HandleChatEvent(raw)
	}
}

// ConnectedHooks returns the hooks fired after a successful Start.
func (c *Client) ConnectedHooks() *Hooks {
	return &c.OnConnected
}

// DisconnectingHooks returns the hooks fired before a disconnect.
func (c *Client) DisconnectingHooks() *Hooks {
	return &c.OnDisconnecting
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// IsConnected reports whether the session is established.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Status returns a short description of the last transition.
func (c *Client) Status() string {
	return c.status.Load().(string)
}

// CanRestart reports whether the restart gate is open.
func (c *Client) CanRestart() bool {
	return c.canRestart.Load()
}

// OpenRestartGate allows the next Restart call. It is called once the
// post-connect initialization has finished.
func (c *Client) OpenRestartGate() {
	c.canRestart.Store(true)
}

// UserID returns the bot's own user ID, or "" when not connected.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.me == nil {
		return ""
	}
	return c.me.Id
}

// Username returns the bot's username, or "" when not connected.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.me == nil {
		return ""
	}
	return c.me.Username
}

// Team returns the team resolved at connect time.
func (c *Client) Team() *model.Team {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.team
}

// TeamID returns the ID of the configured team, or "" when not connected.
func (c *Client) TeamID() string {
	if team := c.Team(); team != nil {
		return team.Id
	}
	return ""
}

// Start connects the session. It authenticates the bot token, resolves the
// configured team and opens the event stream. Connected hooks fire before
// Start returns.
func (c *Client) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("%w: client is %s", ErrTransitionInFlight, c.State())
	}
	c.status.Store(StatusConnecting)
	c.log.Info().Str("server_url", c.cfg.ServerURL).Msg("Connecting to Mattermost")

	if err := c.connect(ctx); err != nil {
		c.status.Store(StatusAborted)
		c.state.Store(int32(StateDisconnected))
		c.log.Error().Err(err).Msg("Connection attempt failed")
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	c.state.Store(int32(StateConnected))
	c.status.Store(StatusConnected)
	c.log.Info().Str("user_id", c.UserID()).Str("team_id", c.TeamID()).Msg("Connected")
	c.OnConnected.Fire(ctx)
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	api := model.NewAPIv4Client(c.cfg.ServerURL)
	api.SetToken(c.cfg.Token)

	me, _, err := api.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to verify bot token: %w", err)
	}
	c.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")

	team, _, err := api.GetTeamByName(ctx, c.cfg.TeamName, "")
	if err != nil {
		return fmt.Errorf("failed to resolve team %q: %w", c.cfg.TeamName, err)
	}

	wsURL := httpToWS(c.cfg.ServerURL)
	stream, err := c.dial(wsURL, c.cfg.Token)
	if err != nil {
		return err
	}
	c.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")

	stopChan := make(chan struct{})
	c.mu.Lock()
	c.api = api
	c.me = me
	c.team = team
	c.stream = stream
	c.stopOnce = &sync.Once{}
	c.stopChan = stopChan
	c.mu.Unlock()

	go c.listen(stream, stopChan)
	return nil
}

// Stop disconnects the session. Disconnecting hooks fire before the
// session is torn down. Stopping a disconnected client is a no-op.
func (c *Client) Stop(ctx context.Context) error {
	return c.disconnect(ctx, StatusDisconnected)
}

func (c *Client) disconnect(ctx context.Context, status string) error {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		if c.State() == StateDisconnected {
			return nil
		}
		return fmt.Errorf("%w: client is %s", ErrTransitionInFlight, c.State())
	}
	c.log.Info().Str("status", status).Msg("Disconnecting from Mattermost")
	c.OnDisconnecting.Fire(ctx)

	c.mu.Lock()
	stream, stopOnce, stopChan := c.stream, c.stopOnce, c.stopChan
	c.stream = nil
	c.api = nil
	c.mu.Unlock()

	if stopOnce != nil {
		stopOnce.Do(func() { close(stopChan) })
	}
	if stream != nil {
		stream.Close()
	}
	c.privateChannels.Clear()

	c.status.Store(status)
	c.state.Store(int32(StateDisconnected))
	c.log.Info().Msg("Disconnected")
	return nil
}

// Restart disconnects if needed and connects again. It returns false when
// the restart gate is closed, another transition is running or the new
// connection fails. The gate is restored on refusal and on failure; after a
// successful restart it stays closed until OpenRestartGate is called.
func (c *Client) Restart(ctx context.Context) (bool, error) {
	if !c.canRestart.CompareAndSwap(true, false) {
		return false, ErrRestartRefused
	}
	switch state := c.State(); state {
	case StateConnecting, StateDisconnecting:
		c.canRestart.Store(true)
		return false, fmt.Errorf("%w: client is %s", ErrTransitionInFlight, state)
	case StateConnected:
		if err := c.Stop(ctx); err != nil {
			c.canRestart.Store(true)
			return false, err
		}
	}
	if err := c.Start(ctx); err != nil {
		c.canRestart.Store(true)
		return false, err
	}
	return true, nil
}

func (c *Client) listen(stream eventStream, stopChan chan struct{}) {
	events := stream.Events()
	for {
		select {
		case <-stopChan:
			return
		case evt, ok := <-events:
			if !ok {
				c.log.Warn().Msg("WebSocket event channel closed")
				if err := c.disconnect(context.Background(), StatusAborted); err != nil {
					c.log.Debug().Err(err).Msg("Stream closed during transition")
				}
				return
			}
			if evt == nil {
				continue
			}
			c.handleEvent(evt)
		}
	}
}

// rest returns the REST client of the current session.
func (c *Client) rest() (*model.Client4, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.api == nil {
		return nil, ErrNotConnected
	}
	return c.api, nil
}
