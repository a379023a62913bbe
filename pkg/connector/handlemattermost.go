// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-ecolink/pkg/events"
)

const channelLookupTimeout = 10 * time.Second

// handleEvent dispatches a Mattermost WebSocket event to the appropriate handler.
func (c *Client) handleEvent(evt *model.WebSocketEvent) {
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		c.handlePosted(evt)
	case model.WebsocketEventReactionAdded:
		c.handleReactionAdded(evt)
	default:
		c.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
	}
}

func (c *Client) handlePosted(evt *model.WebSocketEvent) {
	post, err := c.parsePostedEvent(evt)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to parse posted event")
		return
	}
	if post == nil {
		return
	}
	senderName, _ := evt.GetData()["sender_name"].(string)
	c.emit(&events.ChatMessage{
		UserID:    post.UserId,
		Username:  strings.TrimPrefix(senderName, "@"),
		ChannelID: post.ChannelId,
		PostID:    post.Id,
		Text:      post.Message,
	})
}

func (c *Client) handleReactionAdded(evt *model.WebSocketEvent) {
	reaction, err := c.parseReactionEvent(evt)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to parse reaction event")
		return
	}
	if reaction == nil {
		return
	}
	channelID := reaction.ChannelId
	if channelID == "" && evt.GetBroadcast() != nil {
		channelID = evt.GetBroadcast().ChannelId
	}

	ctx, cancel := context.WithTimeout(context.Background(), channelLookupTimeout)
	defer cancel()
	private, err := c.IsPrivateChannel(ctx, channelID)
	if err != nil {
		c.log.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to resolve reaction channel")
	}
	c.emit(&events.ChatReaction{
		ActorID:   reaction.UserId,
		PostID:    reaction.PostId,
		ChannelID: channelID,
		Private:   private,
		EmojiName: reaction.EmojiName,
	})
}

// parsePostedEvent extracts and validates a post from a WebSocket event,
// applying all echo prevention layers. Returns (nil, nil) to skip silently,
// (nil, err) to log an error, or (post, nil) to proceed.
func (c *Client) parsePostedEvent(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, fmt.Errorf("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	// Echo prevention: skip own posts.
	if post.UserId == c.UserID() {
		return nil, nil
	}

	// Echo prevention: skip non-default post types (system messages).
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}

	senderName, _ := evt.GetData()["sender_name"].(string)
	senderName = strings.TrimPrefix(senderName, "@")
	if senderName != "" && isBridgeUsername(senderName, c.cfg.BotPrefix) {
		c.log.Debug().
			Str("post_id", post.Id).
			Str("username", senderName).
			Msg("Skipping bridge username post (echo prevention)")
		return nil, nil
	}

	return &post, nil
}

// parseReactionEvent extracts and validates a reaction from a WebSocket event.
// Returns (nil, nil) to skip, (nil, err) for errors, or (reaction, nil) to proceed.
func (c *Client) parseReactionEvent(evt *model.WebSocketEvent) (*model.Reaction, error) {
	reactionJSON, ok := evt.GetData()["reaction"].(string)
	if !ok {
		return nil, nil
	}

	var reaction model.Reaction
	if err := json.Unmarshal([]byte(reactionJSON), &reaction); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reaction: %w", err)
	}

	// Echo prevention: the bot seeds accept and deny reactions on its own
	// link requests.
	if reaction.UserId == c.UserID() {
		return nil, nil
	}

	return &reaction, nil
}

// isBridgeUsername reports whether a username belongs to a bridge-managed
// account whose posts must not be relayed.
func isBridgeUsername(username, botPrefix string) bool {
	switch {
	case username == "ecolink-bridge":
		return true
	case botPrefix != "" && strings.HasPrefix(username, botPrefix):
		return true
	default:
		return false
	}
}
