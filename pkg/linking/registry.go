// Copyright 2024-2026 Aiku AI

package linking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-ecolink/pkg/events"
)

var (
	ErrAlreadyLinked = errors.New("game account is already linked")
	ErrMissingID     = errors.New("link requires a game id and a mattermost id")
)

// Store persists the linked user list.
type Store interface {
	Load() ([]LinkedUser, error)
	Save([]LinkedUser) error
}

// Chat is the subset of the chat connection the registry uses.
type Chat interface {
	TeamID() string
	ResolveMember(ctx context.Context, teamID, userID string) (bool, error)
	SendDirectMessage(ctx context.Context, userID, message string) (channelID, postID string, err error)
	CreatePost(ctx context.Context, channelID, message string) (string, error)
	DeletePost(ctx context.Context, postID string) error
	AddReaction(ctx context.Context, postID, emojiName string) error
}

// GameDirectory resolves game accounts known to the server.
type GameDirectory interface {
	UserByEcoID(slgID, steamID string) (events.User, bool)
}

// Notifier sends in-band messages to game users.
type Notifier interface {
	NotifyUser(ctx context.Context, user events.User, title, message string) error
}

// Options configures a Registry.
type Options struct {
	Store    Store
	Chat     Chat
	Game     GameDirectory
	Notifier Notifier
	Log      zerolog.Logger

	// OnVerified is called after a link has been verified and persisted.
	OnVerified func(ctx context.Context, user LinkedUser)
	// OnRemoved is called after a valid link has been removed.
	OnRemoved func(ctx context.Context, user LinkedUser)
}

// Registry holds the linked users. All mutations go through mu; network
// calls are made without holding it and state is checked again afterwards.
type Registry struct {
	opts Options
	log  zerolog.Logger

	// saveMu orders writes so the newest snapshot is always the last one
	// saved.
	saveMu sync.Mutex

	mu      sync.Mutex
	users   []*LinkedUser
	members map[string]bool
}

// New creates an empty registry. Call Load to read persisted links.
func New(opts Options) *Registry {
	return &Registry{
		opts:    opts,
		log:     opts.Log.With().Str("component", "user_links").Logger(),
		members: make(map[string]bool),
	}
}

// Load replaces the in-memory links with the persisted ones.
func (r *Registry) Load() error {
	stored, err := r.opts.Store.Load()
	if err != nil {
		return fmt.Errorf("failed to load linked users: %w", err)
	}
	users := make([]*LinkedUser, 0, len(stored))
	for i := range stored {
		users = append(users, &stored[i])
	}
	r.mu.Lock()
	r.users = users
	r.mu.Unlock()
	r.log.Info().Int("count", len(users)).Msg("Loaded linked users")
	return nil
}

// Initialize resolves the Mattermost membership of every verified link.
// It runs once the chat connection is established.
func (r *Registry) Initialize(ctx context.Context) {
	type pending struct{ userID, teamID string }
	r.mu.Lock()
	var todo []pending
	for _, u := range r.users {
		if u.Verified && u.MattermostID != "" {
			todo = append(todo, pending{u.MattermostID, u.TeamID})
		}
	}
	r.mu.Unlock()

	resolved := make(map[string]bool, len(todo))
	for _, p := range todo {
		resolved[p.userID] = r.resolveMember(ctx, p.teamID, p.userID)
	}

	r.mu.Lock()
	r.members = resolved
	r.mu.Unlock()
	r.log.Debug().Int("count", len(resolved)).Msg("Resolved linked members")
}

// Deactivate forgets resolved memberships. Links are reported invalid until
// the next Initialize.
func (r *Registry) Deactivate() {
	r.mu.Lock()
	r.members = make(map[string]bool)
	r.mu.Unlock()
}

func (r *Registry) resolveMember(ctx context.Context, teamID, userID string) bool {
	if r.opts.Chat == nil {
		return false
	}
	ok, err := r.opts.Chat.ResolveMember(ctx, teamID, userID)
	if err != nil {
		r.log.Debug().Err(err).Str("mattermost_id", userID).Msg("Failed to find and load linked Mattermost member")
		return false
	}
	if !ok {
		r.log.Debug().Str("mattermost_id", userID).Msg("Linked Mattermost member not found")
	}
	return ok
}

// validLocked reports whether u is verified and both accounts resolve.
func (r *Registry) validLocked(u *LinkedUser) bool {
	if !u.Verified || !r.members[u.MattermostID] {
		return false
	}
	if r.opts.Game == nil {
		return false
	}
	_, ok := r.opts.Game.UserByEcoID(u.SlgID, u.SteamID)
	return ok
}

// IsValid reports whether link is verified and both accounts resolve.
func (r *Registry) IsValid(link LinkedUser) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.MattermostID == link.MattermostID && u.HasAnyID(link.SlgID, link.SteamID) {
			return r.validLocked(u)
		}
	}
	return false
}

func (r *Registry) lookup(ctx context.Context, match func(*LinkedUser) bool, opts []LookupOption) (LinkedUser, bool) {
	o := buildOptions(opts)
	r.mu.Lock()
	var found *LinkedUser
	for _, u := range r.users {
		if match(u) && (!o.requireValid || r.validLocked(u)) {
			found = u
			break
		}
	}
	var result LinkedUser
	if found != nil {
		result = *found
	}
	r.mu.Unlock()

	if found == nil {
		if o.caller != nil && o.reason != "" {
			r.reportLookupFailure(ctx, *o.caller, o.reason)
		}
		return LinkedUser{}, false
	}
	return result, true
}

// ByMattermostID finds the link of a Mattermost user.
func (r *Registry) ByMattermostID(ctx context.Context, mattermostID string, opts ...LookupOption) (LinkedUser, bool) {
	return r.lookup(ctx, func(u *LinkedUser) bool {
		return mattermostID != "" && u.MattermostID == mattermostID
	}, opts)
}

// ByEcoID finds the link of a game account by either its SLG or Steam id.
func (r *Registry) ByEcoID(ctx context.Context, slgOrSteamID string, opts ...LookupOption) (LinkedUser, bool) {
	if slgOrSteamID == "" {
		return LinkedUser{}, false
	}
	return r.lookup(ctx, func(u *LinkedUser) bool {
		return u.SlgID == slgOrSteamID || u.SteamID == slgOrSteamID
	}, opts)
}

// ByEcoUser finds the link of a game user.
func (r *Registry) ByEcoUser(ctx context.Context, user events.User, opts ...LookupOption) (LinkedUser, bool) {
	return r.lookup(ctx, func(u *LinkedUser) bool {
		return u.HasAnyID(user.SlgID, user.SteamID)
	}, opts)
}

func (r *Registry) reportLookupFailure(ctx context.Context, caller Caller, reason string) {
	switch {
	case caller.game != nil && r.opts.Notifier != nil:
		msg := "You have not linked your Mattermost account on this Eco server.\nUse the link command to initiate account linking."
		if err := r.opts.Notifier.NotifyUser(ctx, *caller.game, reason+" Failed", msg); err != nil {
			r.log.Warn().Err(err).Str("user", caller.game.Name).Msg("Failed to report link lookup failure")
		}
	case caller.chatID != "" && r.opts.Chat != nil:
		msg := fmt.Sprintf("**%s Failed**\nYou have not linked your Mattermost account on this Eco server.\nUse the link command in Eco to initiate account linking.", reason)
		if _, _, err := r.opts.Chat.SendDirectMessage(ctx, caller.chatID, msg); err != nil {
			r.log.Warn().Err(err).Str("mattermost_id", caller.chatID).Msg("Failed to report link lookup failure")
		}
	default:
		r.log.Error().Str("reason", reason).Msg("Attempted to fetch a linked user using an invalid caller")
	}
}

// All returns a copy of every link.
func (r *Registry) All() []LinkedUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Len returns the number of links, verified or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

func (r *Registry) snapshotLocked() []LinkedUser {
	out := make([]LinkedUser, len(r.users))
	for i, u := range r.users {
		out[i] = *u
	}
	return out
}

// Write persists the current links.
func (r *Registry) Write() error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	snapshot := r.All()
	if err := r.opts.Store.Save(snapshot); err != nil {
		return fmt.Errorf("failed to write linked users: %w", err)
	}
	return nil
}

func (r *Registry) persist() {
	if err := r.Write(); err != nil {
		r.log.Error().Err(err).Msg("Failed to persist linked users")
	}
}

// AddLinkedUser records an unverified link and persists it. Pending links
// sharing either account are replaced; a verified one is an error.
func (r *Registry) AddLinkedUser(user events.User, mattermostID, teamID string) (LinkedUser, error) {
	if mattermostID == "" || (user.SlgID == "" && user.SteamID == "") {
		return LinkedUser{}, ErrMissingID
	}
	link := &LinkedUser{
		SlgID:        user.SlgID,
		SteamID:      user.SteamID,
		MattermostID: mattermostID,
		TeamID:       teamID,
	}

	sameAccount := func(u *LinkedUser) bool {
		return u.MattermostID == mattermostID || u.HasAnyID(user.SlgID, user.SteamID)
	}

	r.mu.Lock()
	if err := r.checkLinkableLocked(user, mattermostID); err != nil {
		r.mu.Unlock()
		return LinkedUser{}, err
	}
	r.users = slices.DeleteFunc(r.users, sameAccount)
	r.users = append(r.users, link)
	result := *link
	r.mu.Unlock()

	r.log.Info().
		Str("slg_id", link.SlgID).
		Str("steam_id", link.SteamID).
		Str("mattermost_id", mattermostID).
		Msg("Added link request")
	r.persist()
	return result, nil
}

// CheckLinkable reports whether a link between user and mattermostID could
// be added now.
func (r *Registry) CheckLinkable(user events.User, mattermostID string) error {
	if mattermostID == "" || (user.SlgID == "" && user.SteamID == "") {
		return ErrMissingID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkLinkableLocked(user, mattermostID)
}

func (r *Registry) checkLinkableLocked(user events.User, mattermostID string) error {
	for _, u := range r.users {
		if u.Verified && (u.MattermostID == mattermostID || u.HasAnyID(user.SlgID, user.SteamID)) {
			return ErrAlreadyLinked
		}
	}
	return nil
}

// VerifyLinkedUser marks the pending link of a Mattermost user as verified.
// It returns false when there is no link or it is already verified.
func (r *Registry) VerifyLinkedUser(ctx context.Context, mattermostID string) bool {
	r.mu.Lock()
	link := r.findLocked(mattermostID)
	if link == nil || link.Verified {
		r.mu.Unlock()
		return false
	}
	teamID := link.TeamID
	r.mu.Unlock()

	resolved := r.resolveMember(ctx, teamID, mattermostID)

	r.mu.Lock()
	// The link may have been verified, removed or replaced by another
	// request while resolving.
	if !slices.Contains(r.users, link) || link.Verified {
		r.mu.Unlock()
		return false
	}
	link.Verified = true
	r.members[mattermostID] = resolved
	verified := *link
	r.mu.Unlock()

	r.log.Info().Str("mattermost_id", mattermostID).Bool("member", resolved).Msg("Link verified")
	r.persist()
	if r.opts.OnVerified != nil {
		r.opts.OnVerified(ctx, verified)
	}
	return true
}

func (r *Registry) findLocked(mattermostID string) *LinkedUser {
	for _, u := range r.users {
		if u.MattermostID == mattermostID {
			return u
		}
	}
	return nil
}

// RemoveLinkedUser removes the link of a Mattermost user.
func (r *Registry) RemoveLinkedUser(ctx context.Context, mattermostID string) bool {
	return r.remove(ctx, func(u *LinkedUser) bool { return u.MattermostID == mattermostID })
}

// RemoveLinkedUserByEcoUser removes the link of a game user.
func (r *Registry) RemoveLinkedUserByEcoUser(ctx context.Context, user events.User) bool {
	return r.remove(ctx, func(u *LinkedUser) bool { return u.HasAnyID(user.SlgID, user.SteamID) })
}

func (r *Registry) remove(ctx context.Context, match func(*LinkedUser) bool) bool {
	r.mu.Lock()
	idx := slices.IndexFunc(r.users, match)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	removed := *r.users[idx]
	wasValid := r.validLocked(r.users[idx])
	r.users = slices.Delete(r.users, idx, idx+1)
	delete(r.members, removed.MattermostID)
	r.mu.Unlock()

	r.log.Info().
		Str("mattermost_id", removed.MattermostID).
		Bool("was_valid", wasValid).
		Msg("Link removed")
	r.persist()
	if wasValid && r.opts.OnRemoved != nil {
		r.opts.OnRemoved(ctx, removed)
	}
	return true
}
