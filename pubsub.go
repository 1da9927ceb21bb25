package main

import (
	"context"
	"encoding/json"
	"time"
)

// runRouter is the node's single pattern subscription over all game
// channels. Each received chunk is drained in order onto the local hub for
// its game; HaltTimer events additionally pause the drain until their
// absolute deadline, so every node paces the same batch identically.
func (r *Registry) runRouter(ctx context.Context) error {
	channelPattern, err := key("game_channel").Field("*").Finish()
	if err != nil {
		return errInternal(err)
	}

	sub, err := r.store.PSubscribe(ctx, channelPattern)
	if err != nil {
		return err
	}
	defer func() {
		_ = sub.Close()
	}()

	logf(r.cfg, "ROUTER: Subscribed to %s", channelPattern)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			r.routeChunk(ctx, msg.Payload)
		}
	}
}

func (r *Registry) routeChunk(ctx context.Context, payload string) {
	var chunk BroadcastChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		logErrorf("router: failed to decode chunk: %v", err)
		return
	}

	hub, ok := r.hubFor(chunk.GameID)
	if !ok {
		// No local sockets for this game; other nodes handle it.
		return
	}

	for _, event := range chunk.Messages {
		frame, err := encodeJSON(WebSocketMessage{
			GameID:   chunk.GameID,
			PlayerID: chunk.PlayerID,
			Message:  event,
		})
		if err != nil {
			logErrorf("router: failed to encode event for game %s: %v", chunk.GameID, err)
			continue
		}

		hub.Broadcast(frame)

		if event.Type == MsgHaltTimer {
			waitUntil(ctx, int64(event.EndTimestampMS))
		}
	}
}

// waitUntil sleeps until the wall clock passes the unix-millisecond
// deadline, or the context ends.
func waitUntil(ctx context.Context, deadlineMS int64) {
	remaining := time.Until(time.UnixMilli(deadlineMS))
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
