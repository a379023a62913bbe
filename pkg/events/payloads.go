// Copyright 2024-2026 Aiku AI

package events

import "time"

// User identifies a game account. Either id form may be empty.
type User struct {
	Name    string `json:"name"`
	SlgID   string `json:"slg_id,omitempty"`
	SteamID string `json:"steam_id,omitempty"`
	Online  bool   `json:"online,omitempty"`
}

// HasAnyID reports whether the user carries one of the given non-empty ids.
func (u User) HasAnyID(slgID, steamID string) bool {
	return (u.SteamID != "" && u.SteamID == steamID) || (u.SlgID != "" && u.SlgID == slgID)
}

// ID returns the preferred identifier of the user.
func (u User) ID() string {
	if u.SlgID != "" {
		return u.SlgID
	}
	return u.SteamID
}

type Election struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Winner string `json:"winner,omitempty"`
}

type Currency struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Backed  bool   `json:"backed"`
	Creator string `json:"creator,omitempty"`
}

type WorkParty struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Owner string `json:"owner,omitempty"`
}

// Raw game-server callback payloads. Each one maps to exactly one canonical
// event type in Normalize.

type UserJoined struct {
	User User `json:"user"`
}

type UserLoggedIn struct {
	User User `json:"user"`
}

type UserLoggedOut struct {
	User User `json:"user"`
}

type ElectionStarted struct {
	Election Election `json:"election"`
}

type ElectionFinished struct {
	Election Election `json:"election"`
}

type GameChatMessage struct {
	Sender    User      `json:"sender"`
	Channel   string    `json:"channel"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type CurrencyTrade struct {
	Citizen  User     `json:"citizen"`
	Other    string   `json:"other"`
	Currency Currency `json:"currency"`
	Amount   float64  `json:"amount"`
	Item     string   `json:"item"`
	Count    int      `json:"count"`
	Bought   bool     `json:"bought"`
}

type CurrencyMinted struct {
	Currency Currency `json:"currency"`
}

type WorkOrder struct {
	Citizen User   `json:"citizen"`
	Item    string `json:"item"`
	Count   int    `json:"count"`
}

type WorkPartyPosted struct {
	WorkParty WorkParty `json:"work_party"`
}

type WorkPartyCompleted struct {
	WorkParty WorkParty `json:"work_party"`
}

type WorkPartyJoined struct {
	WorkParty WorkParty `json:"work_party"`
	Citizen   User      `json:"citizen"`
}

type WorkPartyLeft struct {
	WorkParty WorkParty `json:"work_party"`
	Citizen   User      `json:"citizen"`
}

type WorkPartyWorked struct {
	WorkParty WorkParty `json:"work_party"`
	Citizen   User      `json:"citizen"`
	Labor     float64   `json:"labor"`
}

type VoteCast struct {
	Citizen  User     `json:"citizen"`
	Election Election `json:"election"`
}

type DemographicChange struct {
	Citizen     User   `json:"citizen"`
	Demographic string `json:"demographic"`
	Entered     bool   `json:"entered"`
}

type SpecialtyGained struct {
	Citizen   User   `json:"citizen"`
	Specialty string `json:"specialty"`
}

type ServerLogLine struct {
	Line string `json:"line"`
}

// Raw chat-platform payloads.

// ChatReaction is a reaction added by Actor to the message PostID.
type ChatReaction struct {
	ActorID   string
	PostID    string
	ChannelID string
	// Private is true for direct message channels.
	Private   bool
	EmojiName string
}

// ChatMessage is a message posted on the chat platform by a human user.
type ChatMessage struct {
	UserID    string
	Username  string
	ChannelID string
	PostID    string
	Text      string
}

// Payloads carried by events the bridge raises on its own.

// LinkNotice accompanies AccountLinkVerified and AccountLinkRemoved.
type LinkNotice struct {
	SlgID        string
	SteamID      string
	MattermostID string
	TeamID       string
}
