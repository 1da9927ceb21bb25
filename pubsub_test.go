package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeChunk(t *testing.T, chunk BroadcastChunk) string {
	t.Helper()

	payload, err := encodeJSON(chunk)
	require.NoError(t, err)
	return payload
}

func recvFrame(t *testing.T, sub *HubSubscription) WebSocketMessage {
	t.Helper()

	select {
	case payload, ok := <-sub.Receive():
		require.True(t, ok, "hub subscription closed")
		var msg WebSocketMessage
		require.NoError(t, json.Unmarshal([]byte(payload), &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hub frame")
		return WebSocketMessage{}
	}
}

func TestRouteChunkPreservesOrder(t *testing.T) {
	registry, _ := newTestRegistry(t)
	registry.installHub("g1")
	hub, _ := registry.hubFor("g1")
	sub := hub.Subscribe()

	chunk := BroadcastChunk{
		GameID:   "g1",
		PlayerID: "p1",
		Messages: []GameMessage{
			newChatMessage("A", "first"),
			newChatMessage("A", "second"),
			newChatMessage("A", "third"),
		},
	}

	registry.routeChunk(context.Background(), encodeChunk(t, chunk))

	for _, want := range []string{"first", "second", "third"} {
		frame := recvFrame(t, sub)
		assert.Equal(t, "g1", frame.GameID)
		assert.Equal(t, "p1", frame.PlayerID)
		assert.Equal(t, want, frame.Message.Message)
	}
}

func TestRouteChunkOmitsAuthToken(t *testing.T) {
	registry, _ := newTestRegistry(t)
	registry.installHub("g1")
	hub, _ := registry.hubFor("g1")
	sub := hub.Subscribe()

	// Rebroadcast envelopes are rebuilt from the chunk, so no auth token
	// can ever reach a subscriber.
	registry.routeChunk(context.Background(), encodeChunk(t, BroadcastChunk{
		GameID:   "g1",
		PlayerID: "p1",
		Messages: []GameMessage{newChatMessage("A", "hello")},
	}))

	select {
	case payload := <-sub.Receive():
		assert.NotContains(t, payload, "auth_token")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hub frame")
	}
}

func TestRouteChunkHaltTimerPacesDelivery(t *testing.T) {
	registry, _ := newTestRegistry(t)
	registry.installHub("g1")
	hub, _ := registry.hubFor("g1")
	sub := hub.Subscribe()

	deadline := time.Now().Add(80 * time.Millisecond)
	halt := GameMessage{
		Type:           MsgHaltTimer,
		EndTimestampMS: uint64(deadline.UnixMilli()),
		Reason:         ReasonDraftPickShowcase,
	}

	chunk := BroadcastChunk{
		GameID:   "g1",
		PlayerID: "p1",
		Messages: []GameMessage{halt, newChatMessage("A", "after-barrier")},
	}

	done := make(chan struct{})
	go func() {
		registry.routeChunk(context.Background(), encodeChunk(t, chunk))
		close(done)
	}()

	// The HaltTimer itself is delivered immediately.
	frame := recvFrame(t, sub)
	assert.Equal(t, MsgHaltTimer, frame.Message.Type)
	assert.True(t, time.Now().Before(deadline), "HaltTimer must be broadcast before its deadline")

	// The next event is held back until the wall clock passes the deadline.
	frame = recvFrame(t, sub)
	assert.Equal(t, "after-barrier", frame.Message.Message)
	assert.False(t, time.Now().Before(deadline), "event after HaltTimer arrived before the barrier")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("routeChunk did not finish")
	}
}

func TestRouteChunkExpiredHaltTimerDoesNotBlock(t *testing.T) {
	registry, _ := newTestRegistry(t)
	registry.installHub("g1")
	hub, _ := registry.hubFor("g1")
	sub := hub.Subscribe()

	halt := GameMessage{
		Type:           MsgHaltTimer,
		EndTimestampMS: uint64(time.Now().Add(-time.Second).UnixMilli()),
		Reason:         ReasonWaitingForNextRound,
	}

	start := time.Now()
	registry.routeChunk(context.Background(), encodeChunk(t, BroadcastChunk{
		GameID:   "g1",
		PlayerID: "p1",
		Messages: []GameMessage{halt, newChatMessage("A", "now")},
	}))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	recvFrame(t, sub)
	frame := recvFrame(t, sub)
	assert.Equal(t, "now", frame.Message.Message)
}

func TestRouteChunkIgnoresUnknownGame(t *testing.T) {
	registry, _ := newTestRegistry(t)

	// No hub installed; chunk is dropped without panicking.
	registry.routeChunk(context.Background(), encodeChunk(t, BroadcastChunk{
		GameID:   "missing",
		Messages: []GameMessage{newChatMessage("A", "void")},
	}))
}

func TestRunRouterEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, store := newTestRegistry(t)
	registry.installHub("g1")
	hub, _ := registry.hubFor("g1")
	sub := hub.Subscribe()

	routerDone := make(chan error, 1)
	go func() {
		routerDone <- registry.runRouter(ctx)
	}()

	// Publishing is fire-and-forget; retry until the router's subscription
	// is live and the frame flows through.
	require.Eventually(t, func() bool {
		err := registry.publishChunk(ctx, "g1", "p1", []GameMessage{newChatMessage("A", "ping")})
		require.NoError(t, err)

		select {
		case payload := <-sub.Receive():
			var msg WebSocketMessage
			require.NoError(t, json.Unmarshal([]byte(payload), &msg))
			return msg.Message.Message == "ping"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	_ = store.Close()

	select {
	case <-routerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("router did not stop")
	}
}
