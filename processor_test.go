package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testGame struct {
	registry *Registry
	store    *MemoryStore
	gameID   string
	host     Player
	guest    Player
	hostTok  string
	guestTok string
}

func newRunningGame(t *testing.T) *testGame {
	t.Helper()
	ctx := context.Background()

	registry, store := newTestRegistry(t)

	created, err := registry.CreateGame(ctx, "Alice")
	require.NoError(t, err)
	joined, err := registry.JoinGameByCode(ctx, "Bob", created.Game.Code)
	require.NoError(t, err)

	return &testGame{
		registry: registry,
		store:    store,
		gameID:   created.Game.ID,
		host:     joined.Game.Players[0],
		guest:    joined.Game.Players[1],
		hostTok:  created.AuthToken,
		guestTok: joined.AuthToken,
	}
}

func (g *testGame) subscribe(t *testing.T) Subscription {
	t.Helper()

	sub, err := g.store.PSubscribe(context.Background(), "game_channel::*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func TestProcessorGameStarted(t *testing.T) {
	g := newRunningGame(t)
	sub := g.subscribe(t)

	g.registry.enqueue(g.gameID, WebSocketMessage{
		GameID:   g.gameID,
		PlayerID: g.host.ID,
		Message:  GameMessage{Type: MsgGameStarted, GameType: ModeTeamDraft},
	})

	chunk := recvChunk(t, sub)
	assert.Equal(t, g.gameID, chunk.GameID)
	require.Len(t, chunk.Messages, 1)

	started := chunk.Messages[0]
	assert.Equal(t, MsgGameStarted, started.Type)
	assert.Equal(t, ModeTeamDraft, started.GameType)

	require.NotNil(t, started.InitialTeamDraftState)
	assert.Equal(t, g.host.ID, started.InitialTeamDraftState.YapperID)
	assert.Equal(t, PhaseYapperChoosing, started.InitialTeamDraftState.Phase)
	// max_rounds tracks the player count at start.
	assert.Equal(t, 2, started.InitialTeamDraftState.MaxRounds)
}

func TestProcessorAuthorizedModeMessage(t *testing.T) {
	g := newRunningGame(t)
	sub := g.subscribe(t)

	g.registry.enqueue(g.gameID, WebSocketMessage{
		GameID:    g.gameID,
		PlayerID:  g.host.ID,
		AuthToken: g.hostTok,
		Message:   tdInput(TeamDraftMessage{Type: TDSetPool, Pool: "anime"}),
	})

	chunk := recvChunk(t, sub)
	assert.Equal(t, g.host.ID, chunk.PlayerID)
	require.Len(t, chunk.Messages, 1)
	inner := requireTD(t, chunk.Messages[0], TDSetPool)
	assert.Equal(t, "anime", inner.Pool)
}

func TestProcessorRejectsWrongToken(t *testing.T) {
	g := newRunningGame(t)
	sub := g.subscribe(t)

	// The guest holds a valid token, but SetPool requires the yapper's.
	g.registry.enqueue(g.gameID, WebSocketMessage{
		GameID:    g.gameID,
		PlayerID:  g.guest.ID,
		AuthToken: g.guestTok,
		Message:   tdInput(TeamDraftMessage{Type: TDSetPool, Pool: "hijack"}),
	})

	requireNoChunk(t, sub)
}

func TestProcessorRejectsMissingToken(t *testing.T) {
	g := newRunningGame(t)
	sub := g.subscribe(t)

	g.registry.enqueue(g.gameID, WebSocketMessage{
		GameID:   g.gameID,
		PlayerID: g.host.ID,
		Message:  tdInput(TeamDraftMessage{Type: TDSetPool, Pool: "anon"}),
	})

	requireNoChunk(t, sub)
}

func TestProcessorRejectsServerOnlyMessages(t *testing.T) {
	g := newRunningGame(t)
	sub := g.subscribe(t)

	g.registry.enqueue(g.gameID, WebSocketMessage{
		GameID:    g.gameID,
		PlayerID:  g.host.ID,
		AuthToken: g.hostTok,
		Message:   tdInput(TeamDraftMessage{Type: TDCompleteGame}),
	})

	requireNoChunk(t, sub)
}

func TestProcessorBackToLobbyHostOnly(t *testing.T) {
	g := newRunningGame(t)
	sub := g.subscribe(t)

	g.registry.enqueue(g.gameID, WebSocketMessage{
		GameID:   g.gameID,
		PlayerID: g.guest.ID,
		Message:  GameMessage{Type: MsgBackToLobby},
	})
	requireNoChunk(t, sub)

	g.registry.enqueue(g.gameID, WebSocketMessage{
		GameID:   g.gameID,
		PlayerID: g.host.ID,
		Message:  GameMessage{Type: MsgBackToLobby},
	})

	chunk := recvChunk(t, sub)
	require.Len(t, chunk.Messages, 1)
	assert.Equal(t, MsgBackToLobby, chunk.Messages[0].Type)
}

func TestProcessorChatPassthrough(t *testing.T) {
	g := newRunningGame(t)
	sub := g.subscribe(t)

	g.registry.enqueue(g.gameID, WebSocketMessage{
		GameID:   g.gameID,
		PlayerID: g.guest.ID,
		Message:  newChatMessage("Bob", "hello"),
	})

	chunk := recvChunk(t, sub)
	assert.Equal(t, g.guest.ID, chunk.PlayerID)
	require.Len(t, chunk.Messages, 1)
	assert.Equal(t, MsgChatMessage, chunk.Messages[0].Type)
	assert.Equal(t, "hello", chunk.Messages[0].Message)
}

func TestProcessorPlayerLeft(t *testing.T) {
	g := newRunningGame(t)
	sub := g.subscribe(t)

	g.registry.enqueue(g.gameID, WebSocketMessage{
		GameID:   g.gameID,
		PlayerID: g.guest.ID,
		Message:  GameMessage{Type: MsgPlayerLeft},
	})

	chunk := recvChunk(t, sub)
	require.Len(t, chunk.Messages, 1)
	assert.Equal(t, MsgChatMessage, chunk.Messages[0].Type)
	assert.Equal(t, "Bob left the game", chunk.Messages[0].Message)
}

func TestProcessorSerializesPerGame(t *testing.T) {
	g := newRunningGame(t)
	sub := g.subscribe(t)

	for i := 0; i < 10; i++ {
		g.registry.enqueue(g.gameID, WebSocketMessage{
			GameID:   g.gameID,
			PlayerID: g.guest.ID,
			Message:  newChatMessage("Bob", "msg"),
		})
	}

	// All ten arrive, one chunk each, in enqueue order.
	for i := 0; i < 10; i++ {
		chunk := recvChunk(t, sub)
		require.Len(t, chunk.Messages, 1)
		assert.Equal(t, MsgChatMessage, chunk.Messages[0].Type)
	}
}

func TestEnqueueAfterGameDestroyed(t *testing.T) {
	ctx := context.Background()
	g := newRunningGame(t)

	require.NoError(t, g.registry.RemovePlayer(ctx, g.guest.ID))
	require.NoError(t, g.registry.RemovePlayer(ctx, g.host.ID))

	sub := g.subscribe(t)

	// A frame arriving after teardown must not bring the serializer back.
	g.registry.enqueue(g.gameID, WebSocketMessage{
		GameID:   g.gameID,
		PlayerID: g.host.ID,
		Message:  newChatMessage("Alice", "anyone there?"),
	})

	requireNoChunk(t, sub)

	g.registry.procMu.RLock()
	_, resurrected := g.registry.procs[g.gameID]
	g.registry.procMu.RUnlock()
	assert.False(t, resurrected)
}
