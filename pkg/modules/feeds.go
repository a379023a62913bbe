// Copyright 2024-2026 Aiku AI

package modules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aiku/mattermost-ecolink/pkg/events"
	"github.com/aiku/mattermost-ecolink/pkg/gamefmt"
	"github.com/aiku/mattermost-ecolink/pkg/render"
)

// channelFeed renders each triggering event and posts it to one channel.
type channelFeed struct {
	channel string
	target  string
}

func (f *channelFeed) ShouldRun() bool {
	return f.channel != ""
}

func (f *channelFeed) Update(ctx context.Context, host Host, evt events.Event) error {
	text := render.Safely(host.Logger(), "", func() (string, error) {
		return host.Renderer().Render(f.target, evt)
	})
	if text == "" {
		return nil
	}
	if _, err := host.Chat().CreatePost(ctx, f.channel, text); err != nil {
		return fmt.Errorf("failed to post %s: %w", evt.Type, err)
	}
	return nil
}

// NewServerStatusFeed announces server starts, stops and world resets.
func NewServerStatusFeed(s Settings) *Unit {
	return NewUnit(Options{
		Kind:     ServerStatusFeed,
		Triggers: events.ServerStarted | events.ServerStopped | events.WorldReset,
	}, &channelFeed{channel: s.ServerStatusChannel, target: render.TargetServerStatus})
}

// NewPlayerStatusFeed announces players joining, logging in and out.
func NewPlayerStatusFeed(s Settings) *Unit {
	return NewUnit(Options{
		Kind:     PlayerStatusFeed,
		Triggers: events.Join | events.Login | events.Logout,
	}, &channelFeed{channel: s.PlayerStatusChannel, target: render.TargetPlayerStatus})
}

// NewTradeFeed posts every store trade.
func NewTradeFeed(s Settings) *Unit {
	return NewUnit(Options{
		Kind:     TradeFeed,
		Triggers: events.Trade,
	}, &channelFeed{channel: s.TradeChannel, target: render.TargetTrade})
}

type gameChatFeed struct {
	settings Settings
}

// NewGameChatFeed mirrors game chat into the linked Mattermost channels.
func NewGameChatFeed(s Settings) *Unit {
	return NewUnit(Options{
		Kind:     GameChatFeed,
		Triggers: events.GameMessageSent,
	}, &gameChatFeed{settings: s})
}

func (f *gameChatFeed) ShouldRun() bool {
	return len(f.settings.ChatLinks) > 0
}

func (f *gameChatFeed) Update(ctx context.Context, host Host, evt events.Event) error {
	msg, ok := events.PayloadAs[events.GameChatMessage](evt)
	if !ok {
		return nil
	}
	link, ok := f.settings.chatLinkByGameChannel(msg.Channel)
	if !ok {
		return nil
	}
	text := render.Safely(host.Logger(), "", func() (string, error) {
		return host.Renderer().Render(render.TargetGameChat, evt)
	})
	if text == "" {
		return nil
	}
	if _, err := host.Chat().CreatePost(ctx, link.MattermostChannel, text); err != nil {
		return fmt.Errorf("failed to relay game chat to %s: %w", link.MattermostChannel, err)
	}
	return nil
}

type chatRelay struct {
	settings Settings
}

// NewChatRelay sends messages from linked Mattermost channels into game
// chat.
func NewChatRelay(s Settings) *Unit {
	return NewUnit(Options{
		Kind:     ChatRelay,
		Triggers: events.ChatMessageSent,
	}, &chatRelay{settings: s})
}

func (r *chatRelay) ShouldRun() bool {
	return len(r.settings.ChatLinks) > 0
}

func (r *chatRelay) Update(ctx context.Context, host Host, evt events.Event) error {
	msg, ok := events.PayloadAs[events.ChatMessage](evt)
	if !ok {
		return nil
	}
	link, ok := r.settings.chatLinkByMattermostChannel(msg.ChannelID)
	if !ok {
		return nil
	}
	text := gamefmt.ToGame(msg.Text)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if r.settings.RelayLinkedOnly {
		if _, linked := host.Links().ByMattermostID(ctx, msg.UserID); !linked {
			return nil
		}
	}
	if err := host.Game().SendChat(ctx, link.GameChannel, msg.Username, text); err != nil {
		return fmt.Errorf("failed to relay chat to game channel %s: %w", link.GameChannel, err)
	}
	return nil
}

type accountLinkRole struct {
	settings Settings
}

// NewAccountLinkRole keeps verified linked users in the linked user
// channel.
func NewAccountLinkRole(s Settings) *Unit {
	return NewUnit(Options{
		Kind:     AccountLinkRole,
		Triggers: events.AccountLinkVerified | events.AccountLinkRemoved,
	}, &accountLinkRole{settings: s})
}

func (a *accountLinkRole) ShouldRun() bool {
	return a.settings.LinkedUserChannel != ""
}

func (a *accountLinkRole) Update(ctx context.Context, host Host, evt events.Event) error {
	notice, ok := events.PayloadAs[events.LinkNotice](evt)
	if !ok || notice.MattermostID == "" {
		return errors.New("link event without a Mattermost id")
	}
	channel := a.settings.LinkedUserChannel
	if evt.Type.Has(events.AccountLinkVerified) {
		if err := host.Chat().AddChannelMember(ctx, channel, notice.MattermostID); err != nil {
			return fmt.Errorf("failed to add %s to linked channel: %w", notice.MattermostID, err)
		}
		return nil
	}
	if err := host.Chat().RemoveChannelMember(ctx, channel, notice.MattermostID); err != nil {
		return fmt.Errorf("failed to remove %s from linked channel: %w", notice.MattermostID, err)
	}
	return nil
}
