// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package events defines the canonical event taxonomy shared by every part
// of the bridge, the payload types carried by those events, and the
// normalizer that maps raw platform callbacks onto it.
package events

import (
	"strings"
)

// Type is a bitmask flag identifying a canonical event. Modules declare the
// set of types they care about as a union of flags.
type Type uint64

const (
	None Type = 0

	ServerStarted Type = 1 << (iota - 1)
	ServerStopped
	ServerLogWritten
	Timer
	ForceUpdate
	WorldReset

	ChatClientConnected
	ChatMessageSent
	ChatReactionAdded
	AccountLinkVerified
	AccountLinkRemoved

	GameMessageSent
	Join
	Login
	Logout
	StartElection
	StopElection
	Trade
	CurrencyCreated
	WorkOrderCreated
	PostedWorkParty
	CompletedWorkParty
	JoinedWorkParty
	LeftWorkParty
	WorkedWorkParty
	Vote
	EnteredDemographic
	LeftDemographic
	GainedSpecialty

	lastType
)

// All is the union of every defined event type.
const All = lastType - 1

var typeNames = map[Type]string{
	ServerStarted:       "ServerStarted",
	ServerStopped:       "ServerStopped",
	ServerLogWritten:    "ServerLogWritten",
	Timer:               "Timer",
	ForceUpdate:         "ForceUpdate",
	WorldReset:          "WorldReset",
	ChatClientConnected: "ChatClientConnected",
	ChatMessageSent:     "ChatMessageSent",
	ChatReactionAdded:   "ChatReactionAdded",
	AccountLinkVerified: "AccountLinkVerified",
	AccountLinkRemoved:  "AccountLinkRemoved",
	GameMessageSent:     "GameMessageSent",
	Join:                "Join",
	Login:               "Login",
	Logout:              "Logout",
	StartElection:       "StartElection",
	StopElection:        "StopElection",
	Trade:               "Trade",
	CurrencyCreated:     "CurrencyCreated",
	WorkOrderCreated:    "WorkOrderCreated",
	PostedWorkParty:     "PostedWorkParty",
	CompletedWorkParty:  "CompletedWorkParty",
	JoinedWorkParty:     "JoinedWorkParty",
	LeftWorkParty:       "LeftWorkParty",
	WorkedWorkParty:     "WorkedWorkParty",
	Vote:                "Vote",
	EnteredDemographic:  "EnteredDemographic",
	LeftDemographic:     "LeftDemographic",
	GainedSpecialty:     "GainedSpecialty",
}

// Has reports whether any flag in other is also set in t.
func (t Type) Has(other Type) bool {
	return t&other != 0
}

// String returns the flag names joined by "|".
func (t Type) String() string {
	if t == None {
		return "None"
	}
	var names []string
	for flag := ServerStarted; flag < lastType; flag <<= 1 {
		if t&flag != 0 {
			names = append(names, typeNames[flag])
		}
	}
	if len(names) == 0 {
		return "Unknown"
	}
	return strings.Join(names, "|")
}

// Event is a canonical event. It is created per occurrence, passed
// synchronously through the dispatch pipeline and then discarded.
type Event struct {
	Type    Type
	Payload []any
}

// New creates an event with the given payload.
func New(t Type, payload ...any) Event {
	return Event{Type: t, Payload: payload}
}

// First returns the first payload value, or nil if there is none.
func (e Event) First() any {
	if len(e.Payload) == 0 {
		return nil
	}
	return e.Payload[0]
}

// PayloadAs returns the first payload as a T. Both T and non-nil *T
// payloads are accepted.
func PayloadAs[T any](e Event) (T, bool) {
	var zero T
	switch p := e.First().(type) {
	case T:
		return p, true
	case *T:
		if p == nil {
			return zero, false
		}
		return *p, true
	default:
		return zero, false
	}
}
