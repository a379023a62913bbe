// Copyright 2024-2026 Aiku AI

package events

// Normalize maps a raw platform event onto its canonical event. Raw values
// outside the supported set are dropped: ok is false and no event exists.
func Normalize(raw any) (evt Event, ok bool) {
	var t Type
	switch r := raw.(type) {
	case UserJoined, *UserJoined:
		t = Join
	case UserLoggedIn, *UserLoggedIn:
		t = Login
	case UserLoggedOut, *UserLoggedOut:
		t = Logout
	case ElectionStarted, *ElectionStarted:
		t = StartElection
	case ElectionFinished, *ElectionFinished:
		t = StopElection
	case GameChatMessage, *GameChatMessage:
		t = GameMessageSent
	case CurrencyTrade, *CurrencyTrade:
		t = Trade
	case CurrencyMinted, *CurrencyMinted:
		t = CurrencyCreated
	case WorkOrder, *WorkOrder:
		t = WorkOrderCreated
	case WorkPartyPosted, *WorkPartyPosted:
		t = PostedWorkParty
	case WorkPartyCompleted, *WorkPartyCompleted:
		t = CompletedWorkParty
	case WorkPartyJoined, *WorkPartyJoined:
		t = JoinedWorkParty
	case WorkPartyLeft, *WorkPartyLeft:
		t = LeftWorkParty
	case WorkPartyWorked, *WorkPartyWorked:
		t = WorkedWorkParty
	case VoteCast, *VoteCast:
		t = Vote
	case DemographicChange:
		t = demographicType(r.Entered)
	case *DemographicChange:
		if r == nil {
			return Event{}, false
		}
		t = demographicType(r.Entered)
	case SpecialtyGained, *SpecialtyGained:
		t = GainedSpecialty
	case ServerLogLine, *ServerLogLine:
		t = ServerLogWritten
	case ChatReaction, *ChatReaction:
		t = ChatReactionAdded
	case ChatMessage, *ChatMessage:
		t = ChatMessageSent
	default:
		return Event{}, false
	}
	return New(t, raw), true
}

func demographicType(entered bool) Type {
	if entered {
		return EnteredDemographic
	}
	return LeftDemographic
}
