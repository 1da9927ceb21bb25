package main

import (
	"context"
)

// GameModeManager is the contract every game-mode state machine satisfies.
// All durable mode state lives in the store under the mode's key schema;
// handlers read, write, and return the batch of events to broadcast.
type GameModeManager interface {
	ModeType() GameMode

	// InitState resets the mode's durable state to a fresh lobby for the
	// game; called at game creation and after completion.
	InitState(ctx context.Context, gameID string, host Player) error

	// CleanupState deletes every key the mode owns for the game.
	CleanupState(ctx context.Context, gameID string) error

	// SetGameSettings applies per-game settings derived from the lobby at
	// the moment the game starts (e.g. player count).
	SetGameSettings(ctx context.Context, gameID string, numPlayers int) error

	// InitialState returns the public mode state sent alongside GameStarted.
	InitialState(ctx context.Context, gameID string, players []Player) (any, error)

	// CorrectPlayerSourceID returns the only player id allowed to send this
	// message right now; serverOnlyAuthorized marks server-emitted events.
	CorrectPlayerSourceID(ctx context.Context, gameID string, msg GameMessage) (string, error)

	// HandleMessage applies one validated action and returns the ordered
	// event batch to broadcast.
	HandleMessage(ctx context.Context, gameID string, players []Player, msg GameMessage) ([]GameMessage, error)
}
