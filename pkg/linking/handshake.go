// Copyright 2024-2026 Aiku AI

package linking

import (
	"context"
	"fmt"

	"github.com/aiku/mattermost-ecolink/pkg/connector"
	"github.com/aiku/mattermost-ecolink/pkg/events"
)

// Result is the outcome of handling a link reaction.
type Result int

const (
	// ResultIgnored means the event was not a link reaction.
	ResultIgnored Result = iota
	ResultRemoved
	ResultVerified
	// ResultAlreadyVerified is returned for an accept on a link that is
	// already verified. Nothing changes.
	ResultAlreadyVerified
	ResultNoPendingRequest
)

func (r Result) String() string {
	switch r {
	case ResultIgnored:
		return "ignored"
	case ResultRemoved:
		return "removed"
	case ResultVerified:
		return "verified"
	case ResultAlreadyVerified:
		return "already verified"
	case ResultNoPendingRequest:
		return "no pending request"
	default:
		return "unknown"
	}
}

const (
	ReplyRemoved          = "Link removed"
	ReplyVerified         = "Link verified"
	ReplyAlreadyVerified  = "Link already verified"
	ReplyNoPendingRequest = "Link verification failed - No outstanding link request"
)

// HandleEvent processes accept and deny reactions on link requests. Any
// other event, reactions outside direct channels and other emoji are
// ignored without side effects.
func (r *Registry) HandleEvent(ctx context.Context, evt events.Event) Result {
	if evt.Type != events.ChatReactionAdded {
		return ResultIgnored
	}
	reaction, ok := events.PayloadAs[events.ChatReaction](evt)
	if !ok || !reaction.Private || !connector.IsLinkEmoji(reaction.EmojiName) {
		return ResultIgnored
	}

	var result Result
	var reply string
	if _, found := r.ByMattermostID(ctx, reaction.ActorID, AllowUnverified()); !found {
		result, reply = ResultNoPendingRequest, ReplyNoPendingRequest
	} else if reaction.EmojiName == connector.DenyEmoji {
		if r.RemoveLinkedUser(ctx, reaction.ActorID) {
			result, reply = ResultRemoved, ReplyRemoved
		} else {
			result, reply = ResultNoPendingRequest, ReplyNoPendingRequest
		}
	} else if r.VerifyLinkedUser(ctx, reaction.ActorID) {
		result, reply = ResultVerified, ReplyVerified
	} else if link, found := r.ByMattermostID(ctx, reaction.ActorID, AllowUnverified()); found && link.Verified {
		result, reply = ResultAlreadyVerified, ReplyAlreadyVerified
	} else {
		result, reply = ResultNoPendingRequest, ReplyNoPendingRequest
	}

	r.log.Debug().
		Str("mattermost_id", reaction.ActorID).
		Str("emoji", reaction.EmojiName).
		Stringer("result", result).
		Msg("Handled link reaction")
	r.respond(ctx, reaction, reply)
	return result
}

func (r *Registry) respond(ctx context.Context, reaction events.ChatReaction, reply string) {
	if r.opts.Chat == nil {
		return
	}
	if _, err := r.opts.Chat.CreatePost(ctx, reaction.ChannelID, reply); err != nil {
		r.log.Warn().Err(err).Str("channel_id", reaction.ChannelID).Msg("Failed to reply to link reaction")
	}
	if err := r.opts.Chat.DeletePost(ctx, reaction.PostID); err != nil {
		r.log.Warn().Err(err).Str("post_id", reaction.PostID).Msg("Failed to delete link request")
	}
}

// RequestLink starts the handshake for a game user: it sends the Mattermost
// user a direct message to react to and records a pending link. Earlier
// pending requests of either account are only replaced once the message
// has been sent.
func (r *Registry) RequestLink(ctx context.Context, user events.User, mattermostID string) (LinkedUser, error) {
	if r.opts.Chat == nil {
		return LinkedUser{}, fmt.Errorf("cannot request link: %w", connector.ErrNotConnected)
	}
	if err := r.CheckLinkable(user, mattermostID); err != nil {
		return LinkedUser{}, err
	}

	msg := fmt.Sprintf("**Account link request**\nThe Eco account **%s** wants to link with your Mattermost account.\nReact with %s to accept or %s to deny.",
		user.Name, connector.EmojiShortcode(connector.AcceptEmoji), connector.EmojiShortcode(connector.DenyEmoji))
	_, postID, err := r.opts.Chat.SendDirectMessage(ctx, mattermostID, msg)
	if err != nil {
		return LinkedUser{}, fmt.Errorf("failed to send link request: %w", err)
	}
	link, err := r.AddLinkedUser(user, mattermostID, r.opts.Chat.TeamID())
	if err != nil {
		if derr := r.opts.Chat.DeletePost(ctx, postID); derr != nil {
			r.log.Warn().Err(derr).Str("post_id", postID).Msg("Failed to delete link request")
		}
		return LinkedUser{}, err
	}
	for _, emoji := range []string{connector.AcceptEmoji, connector.DenyEmoji} {
		if err := r.opts.Chat.AddReaction(ctx, postID, emoji); err != nil {
			r.log.Warn().Err(err).Str("emoji", emoji).Msg("Failed to seed link reaction")
		}
	}

	if r.opts.Notifier != nil {
		note := "A link request was sent to your Mattermost direct messages. Accept it there to finish linking."
		if err := r.opts.Notifier.NotifyUser(ctx, user, "Link Requested", note); err != nil {
			r.log.Warn().Err(err).Str("user", user.Name).Msg("Failed to notify game user")
		}
	}
	return link, nil
}
