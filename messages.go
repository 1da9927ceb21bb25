package main

import (
	"encoding/json"
	"time"
)

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// serverOnlyAuthorized is the sentinel actor id for events only the server
// may emit. No auth token is ever minted for it, so any client message
// requiring this actor fails authorization.
const serverOnlyAuthorized = "00000000-0000-0000-0000-000000000000"

// GameMode names a pluggable game-mode state machine.
type GameMode string

const (
	ModeTeamDraft GameMode = "TeamDraft"
	ModeMindMatch GameMode = "MindMatch"
)

// GameMessage type discriminators.
const (
	MsgPlayerJoined       = "PlayerJoined"
	MsgPlayerLeft         = "PlayerLeft"
	MsgPlayerDisconnected = "PlayerDisconnected"
	MsgGameStarted        = "GameStarted"
	MsgChatMessage        = "ChatMessage"
	MsgHaltTimer          = "HaltTimer"
	MsgBackToLobby        = "BackToLobby"
	MsgTeamDraft          = "TeamDraft"
	MsgMindMatch          = "MindMatch"
)

// TeamDraftMessage type discriminators.
const (
	TDSetPool        = "SetPool"
	TDSetCompetition = "SetCompetition"
	TDStartDraft     = "StartDraft"
	TDDraftPick      = "DraftPick"
	TDNextDrafter    = "NextDrafter"
	TDAwardingPhase  = "AwardingPhase"
	TDAwardPoint     = "AwardPoint"
	TDNextRound      = "NextRound"
	TDCompleteGame   = "CompleteGame"
)

// MindMatchMessage type discriminators.
const (
	MMShowQuestion = "ShowQuestion"
	MMAnswer       = "Answer"
)

// HaltTimer reasons.
const (
	ReasonYapperStartingDraft  = "YapperStartingDraft"
	ReasonDraftPickShowcase    = "DraftPickShowcase"
	ReasonTransitionToAwarding = "TransitionToAwarding"
	ReasonWaitingForNextRound  = "WaitingForNextRound"
)

// WebSocketMessage is the envelope for every frame crossing a socket.
// AuthToken accompanies state-mutating client messages and is stripped
// before anything is broadcast back out.
type WebSocketMessage struct {
	GameID    string      `json:"game_id"`
	PlayerID  string      `json:"player_id"`
	AuthToken string      `json:"auth_token,omitempty"`
	Message   GameMessage `json:"message"`
}

// GameMessage is a tagged union: Type selects the variant and the variant's
// fields are populated, everything else stays zero. Dispatch is a single
// switch on Type.
type GameMessage struct {
	Type string `json:"type"`

	// PlayerJoined / PlayerLeft / PlayerDisconnected / ChatMessage
	Username string `json:"username,omitempty"`
	PlayerID string `json:"player_id,omitempty"`
	Message  string `json:"message,omitempty"`

	// GameStarted
	GameType              GameMode        `json:"game_type,omitempty"`
	InitialTeamDraftState *TeamDraftState `json:"initial_team_draft_state,omitempty"`
	InitialMindMatchState *MindMatchState `json:"initial_mind_match_state,omitempty"`

	// HaltTimer
	EndTimestampMS uint64 `json:"end_timestamp_ms,omitempty"`
	Reason         string `json:"reason,omitempty"`

	// Mode messages
	TeamDraft *TeamDraftMessage `json:"team_draft,omitempty"`
	MindMatch *MindMatchMessage `json:"mind_match,omitempty"`
}

// TeamDraftMessage is the nested union for TeamDraft mode actions/events.
type TeamDraftMessage struct {
	Type string `json:"type"`

	Pool              string         `json:"pool,omitempty"`
	Competition       string         `json:"competition,omitempty"`
	StartingDrafterID string         `json:"starting_drafter_id,omitempty"`
	DrafterID         string         `json:"drafter_id,omitempty"`
	Pick              string         `json:"pick,omitempty"`
	PlayerID          string         `json:"player_id,omitempty"`
	Round             int            `json:"round,omitempty"`
	TeamSize          int            `json:"team_size,omitempty"`
	PlayerPoints      map[string]int `json:"player_points,omitempty"`
}

// MindMatchMessage is the nested union for MindMatch mode actions/events.
type MindMatchMessage struct {
	Type string `json:"type"`

	PlayerID string `json:"player_id,omitempty"`
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`
}

// BroadcastChunk is the unit of cross-node delivery: one triggering actor
// plus an ordered batch of events for a single game.
type BroadcastChunk struct {
	GameID   string        `json:"game_id"`
	PlayerID string        `json:"player_id"`
	Messages []GameMessage `json:"messages"`
}

func newPlayerJoined(username, playerID string) GameMessage {
	return GameMessage{Type: MsgPlayerJoined, Username: username, PlayerID: playerID}
}

func newPlayerDisconnected(username, playerID string) GameMessage {
	return GameMessage{Type: MsgPlayerDisconnected, Username: username, PlayerID: playerID}
}

func newChatMessage(username, text string) GameMessage {
	return GameMessage{Type: MsgChatMessage, Username: username, Message: text}
}

func newTeamDraftMessage(inner TeamDraftMessage) GameMessage {
	return GameMessage{Type: MsgTeamDraft, TeamDraft: &inner}
}

// newHaltTimer emits a wall-clock barrier ending the given duration from
// now. The deadline is absolute unix millis so every node paces identically.
func newHaltTimer(d time.Duration, reason string) GameMessage {
	return GameMessage{
		Type:           MsgHaltTimer,
		EndTimestampMS: uint64(time.Now().Add(d).UnixMilli()),
		Reason:         reason,
	}
}
