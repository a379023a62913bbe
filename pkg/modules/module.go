// Copyright 2024-2026 Aiku AI

// Package modules contains the feature units that react to bridge events,
// the lifecycle they share and the registry that owns them.
//
// # Lifecycle
//
// A module is created when the chat connection comes up and destroyed when
// it goes down:
//
//	Created -> SetUp -> Started <-> Stopped -> Destroyed
//
// Setup arms the module's polling timer. HandleStartOrStop re-evaluates
// whether configuration lets the module run and may be called any number of
// times. Update is a no-op unless the event type intersects Triggers.
//
// Update may run concurrently from an event dispatch and from the module's
// own timer. Stop and Destroy are safe while an Update is in flight.
package modules

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-ecolink/pkg/events"
	"github.com/aiku/mattermost-ecolink/pkg/linking"
	"github.com/aiku/mattermost-ecolink/pkg/render"
)

// Kind indexes a module slot in the registry.
type Kind int

const (
	CurrencyDisplay Kind = iota
	ServerStatusFeed
	PlayerStatusFeed
	GameChatFeed
	ChatRelay
	TradeFeed
	AccountLinkRole

	NumKinds
)

var kindNames = [NumKinds]string{
	CurrencyDisplay:  "CurrencyDisplay",
	ServerStatusFeed: "ServerStatusFeed",
	PlayerStatusFeed: "PlayerStatusFeed",
	GameChatFeed:     "GameChatFeed",
	ChatRelay:        "ChatRelay",
	TradeFeed:        "TradeFeed",
	AccountLinkRole:  "AccountLinkRole",
}

func (k Kind) String() string {
	if k < 0 || k >= NumKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// State is the lifecycle state of a module.
type State int32

const (
	StateCreated State = iota
	StateSetUp
	StateStarted
	StateStopped
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSetUp:
		return "set up"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Module is a feature unit owned by the Registry.
type Module interface {
	fmt.Stringer
	Kind() Kind
	Triggers() events.Type
	State() State
	Setup(host Host)
	HandleStartOrStop(ctx context.Context)
	Update(ctx context.Context, host Host, evt events.Event) error
	Stop(ctx context.Context)
	Destroy()
}

// Chat is the subset of the chat connection modules post through.
type Chat interface {
	CreatePost(ctx context.Context, channelID, message string) (string, error)
	EditPost(ctx context.Context, postID, message string) error
	AddChannelMember(ctx context.Context, channelID, userID string) error
	RemoveChannelMember(ctx context.Context, channelID, userID string) error
}

// Game sends messages into the game.
type Game interface {
	SendChat(ctx context.Context, channel, author, text string) error
}

// Links looks up account links.
type Links interface {
	ByMattermostID(ctx context.Context, mattermostID string, opts ...linking.LookupOption) (linking.LinkedUser, bool)
}

// Host is what modules reach the rest of the bridge through. It is passed
// explicitly instead of being looked up globally.
type Host interface {
	Chat() Chat
	Game() Game
	Renderer() render.Renderer
	Links() Links
	Currencies(ctx context.Context) ([]events.Currency, error)
	TradeCounts() map[int]int
	Logger() zerolog.Logger
}
