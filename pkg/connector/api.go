// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mattermost/mattermost/server/public/model"
)

// CreatePost posts a message to a channel and returns the new post ID.
func (c *Client) CreatePost(ctx context.Context, channelID, message string) (string, error) {
	api, err := c.rest()
	if err != nil {
		return "", err
	}
	post, _, err := api.CreatePost(ctx, &model.Post{
		ChannelId: channelID,
		Message:   message,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create post in %s: %w", channelID, err)
	}
	return post.Id, nil
}

// EditPost replaces the message of an existing post.
func (c *Client) EditPost(ctx context.Context, postID, message string) error {
	api, err := c.rest()
	if err != nil {
		return err
	}
	if _, _, err := api.PatchPost(ctx, postID, &model.PostPatch{Message: &message}); err != nil {
		return fmt.Errorf("failed to edit post %s: %w", postID, err)
	}
	return nil
}

// DeletePost deletes a post.
func (c *Client) DeletePost(ctx context.Context, postID string) error {
	api, err := c.rest()
	if err != nil {
		return err
	}
	if _, err := api.DeletePost(ctx, postID); err != nil {
		return fmt.Errorf("failed to delete post %s: %w", postID, err)
	}
	return nil
}

// SendDirectMessage opens (or reuses) the direct channel between the bot
// and userID and posts message to it. It returns the channel and post IDs.
func (c *Client) SendDirectMessage(ctx context.Context, userID, message string) (channelID, postID string, err error) {
	api, err := c.rest()
	if err != nil {
		return "", "", err
	}
	channel, _, err := api.CreateDirectChannel(ctx, c.UserID(), userID)
	if err != nil {
		return "", "", fmt.Errorf("failed to open direct channel with %s: %w", userID, err)
	}
	c.privateChannels.Store(channel.Id, true)
	postID, err = c.CreatePost(ctx, channel.Id, message)
	if err != nil {
		return channel.Id, "", err
	}
	return channel.Id, postID, nil
}

// AddReaction reacts to a post as the bot.
func (c *Client) AddReaction(ctx context.Context, postID, emojiName string) error {
	api, err := c.rest()
	if err != nil {
		return err
	}
	_, _, err = api.SaveReaction(ctx, &model.Reaction{
		UserId:    c.UserID(),
		PostId:    postID,
		EmojiName: emojiName,
	})
	if err != nil {
		return fmt.Errorf("failed to add reaction %s to %s: %w", emojiName, postID, err)
	}
	return nil
}

// IsPrivateChannel reports whether channelID is a direct channel. Results
// are cached for the lifetime of the session.
func (c *Client) IsPrivateChannel(ctx context.Context, channelID string) (bool, error) {
	if channelID == "" {
		return false, nil
	}
	if cached, ok := c.privateChannels.Load(channelID); ok {
		return cached.(bool), nil
	}
	api, err := c.rest()
	if err != nil {
		return false, err
	}
	channel, _, err := api.GetChannel(ctx, channelID, "")
	if err != nil {
		return false, fmt.Errorf("failed to get channel %s: %w", channelID, err)
	}
	private := channel.Type == model.ChannelTypeDirect
	c.privateChannels.Store(channelID, private)
	return private, nil
}

// ResolveMember reports whether userID is a member of teamID. A missing
// membership is not an error.
func (c *Client) ResolveMember(ctx context.Context, teamID, userID string) (bool, error) {
	api, err := c.rest()
	if err != nil {
		return false, err
	}
	member, resp, err := api.GetTeamMember(ctx, teamID, userID, "")
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to get team member %s: %w", userID, err)
	}
	return member != nil && member.DeleteAt == 0, nil
}

// UserByUsername looks up a user by username.
func (c *Client) UserByUsername(ctx context.Context, username string) (*model.User, error) {
	api, err := c.rest()
	if err != nil {
		return nil, err
	}
	user, _, err := api.GetUserByUsername(ctx, username, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get user %q: %w", username, err)
	}
	return user, nil
}

// AddChannelMember adds userID to a channel.
func (c *Client) AddChannelMember(ctx context.Context, channelID, userID string) error {
	api, err := c.rest()
	if err != nil {
		return err
	}
	if _, _, err := api.AddChannelMember(ctx, channelID, userID); err != nil {
		return fmt.Errorf("failed to add %s to channel %s: %w", userID, channelID, err)
	}
	return nil
}

// RemoveChannelMember removes userID from a channel.
func (c *Client) RemoveChannelMember(ctx context.Context, channelID, userID string) error {
	api, err := c.rest()
	if err != nil {
		return err
	}
	if _, err := api.RemoveUserFromChannel(ctx, channelID, userID); err != nil {
		return fmt.Errorf("failed to remove %s from channel %s: %w", userID, channelID, err)
	}
	return nil
}

// SetCustomStatus sets the bot's custom status text, used as its presence
// string.
func (c *Client) SetCustomStatus(ctx context.Context, text string) error {
	api, err := c.rest()
	if err != nil {
		return err
	}
	status := &model.CustomStatus{Emoji: "video_game", Text: text}
	if _, _, err := api.UpdateUserCustomStatus(ctx, c.UserID(), status); err != nil {
		return fmt.Errorf("failed to update custom status: %w", err)
	}
	return nil
}

// CheckChannelAccess verifies the bot is a member of channelID.
func (c *Client) CheckChannelAccess(ctx context.Context, channelID string) error {
	api, err := c.rest()
	if err != nil {
		return err
	}
	if _, _, err := api.GetChannelMember(ctx, channelID, c.UserID(), ""); err != nil {
		return fmt.Errorf("bot cannot access channel %s: %w", channelID, err)
	}
	return nil
}
