// Copyright 2024-2026 Aiku AI

// Package linking keeps the registry of game accounts linked to Mattermost
// accounts and implements the reaction-confirmed link handshake.
package linking

import (
	"github.com/aiku/mattermost-ecolink/pkg/events"
)

// LinkedUser ties a game account to a Mattermost account. Only Verified
// changes after creation.
type LinkedUser struct {
	SlgID        string `yaml:"slg_id"`
	SteamID      string `yaml:"steam_id"`
	MattermostID string `yaml:"mattermost_id"`
	TeamID       string `yaml:"team_id"`
	Verified     bool   `yaml:"verified"`
}

// HasAnyID reports whether the link carries one of the given non-empty ids.
func (l LinkedUser) HasAnyID(slgID, steamID string) bool {
	return (l.SteamID != "" && l.SteamID == steamID) || (l.SlgID != "" && l.SlgID == slgID)
}

// Notice converts the link into an event payload.
func (l LinkedUser) Notice() events.LinkNotice {
	return events.LinkNotice{
		SlgID:        l.SlgID,
		SteamID:      l.SteamID,
		MattermostID: l.MattermostID,
		TeamID:       l.TeamID,
	}
}

// Caller identifies who asked for a lookup, so a failed lookup can be
// reported back to them.
type Caller struct {
	game   *events.User
	chatID string
}

// GameCaller is a lookup made on behalf of a game user.
func GameCaller(user events.User) Caller {
	return Caller{game: &user}
}

// ChatCaller is a lookup made on behalf of a Mattermost user.
func ChatCaller(mattermostID string) Caller {
	return Caller{chatID: mattermostID}
}

type lookupOptions struct {
	requireValid bool
	caller       *Caller
	reason       string
}

// LookupOption modifies a registry lookup.
type LookupOption func(*lookupOptions)

// AllowUnverified makes a lookup also return links that are not valid.
func AllowUnverified() LookupOption {
	return func(o *lookupOptions) { o.requireValid = false }
}

// WithCaller reports a failed lookup to caller, naming reason as the
// action that failed.
func WithCaller(caller Caller, reason string) LookupOption {
	return func(o *lookupOptions) {
		o.caller = &caller
		o.reason = reason
	}
}

func buildOptions(opts []LookupOption) lookupOptions {
	o := lookupOptions{requireValid: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
