package main

import (
	"context"
	"time"
)

// processorQueueSize bounds each game's inbound queue; a full queue applies
// backpressure to the socket read loops feeding it.
const processorQueueSize = 100

type queuedMessage struct {
	enqueuedAt time.Time
	msg        WebSocketMessage
}

// gameProcessor serializes all inbound messages for one game. It is the
// only mutator of that game's durable state, so every race for a game
// reduces to the order of this queue.
type gameProcessor struct {
	gameID string
	queue  chan queuedMessage
	done   <-chan struct{}
	cancel context.CancelFunc
}

// ensureProcessor lazily starts the serializer for a game. Only live games
// get one: a frame racing game teardown must not resurrect a serializer
// for state that has already been deleted.
func (r *Registry) ensureProcessor(gameID string) (*gameProcessor, bool) {
	r.procMu.RLock()
	proc, ok := r.procs[gameID]
	r.procMu.RUnlock()
	if ok {
		return proc, true
	}

	r.procMu.Lock()
	defer r.procMu.Unlock()

	if proc, ok := r.procs[gameID]; ok {
		return proc, true
	}

	// Liveness check under the lock: teardown deletes the game's keys
	// before cleanupProcessor takes this lock, so a game seen alive here
	// is still covered by the teardown that follows.
	codeKey, err := key("game").Field(gameID).Field("code").Finish()
	if err != nil {
		return nil, false
	}
	if _, found, err := r.store.Get(context.Background(), codeKey); err != nil || !found {
		return nil, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	proc = &gameProcessor{
		gameID: gameID,
		queue:  make(chan queuedMessage, processorQueueSize),
		done:   ctx.Done(),
		cancel: cancel,
	}
	r.procs[gameID] = proc

	go r.runProcessor(ctx, proc)

	return proc, true
}

// enqueue hands a message to the game's serializer, blocking the caller
// while the queue is full. Messages for destroyed games are dropped.
func (r *Registry) enqueue(gameID string, msg WebSocketMessage) {
	proc, ok := r.ensureProcessor(gameID)
	if !ok {
		logf(r.cfg, "QUEUE: Dropped message for closed game %s", gameID)
		return
	}

	select {
	case proc.queue <- queuedMessage{enqueuedAt: time.Now(), msg: msg}:
	case <-proc.done:
		logf(r.cfg, "QUEUE: Dropped message for closed game %s", gameID)
	}
}

func (r *Registry) cleanupProcessor(gameID string) {
	r.procMu.Lock()
	proc, ok := r.procs[gameID]
	delete(r.procs, gameID)
	r.procMu.Unlock()

	// The queue is never closed; cancellation alone stops the worker and
	// unblocks any sender stuck on a full queue.
	if ok {
		proc.cancel()
	}
}

func (r *Registry) runProcessor(ctx context.Context, proc *gameProcessor) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-proc.queue:
			if err := r.processMessage(ctx, proc.gameID, item.msg); err != nil {
				logErrorf("game %s: failed to process %s: %v", proc.gameID, item.msg.Message.Type, err)
			}
		}
	}
}

func (r *Registry) processMessage(ctx context.Context, gameID string, msg WebSocketMessage) error {
	switch msg.Message.Type {
	case MsgPlayerLeft:
		return r.HandlePlayerLeft(ctx, gameID, msg.PlayerID)

	case MsgBackToLobby:
		game, err := r.GetGame(ctx, gameID)
		if err != nil {
			return err
		}
		if game == nil {
			return gameErr(CodeGameNotFound, "Game not found")
		}
		if msg.PlayerID != game.HostID {
			logf(r.cfg, "QUEUE: Dropped BackToLobby from non-host %s in game %s", msg.PlayerID, gameID)
			return nil
		}
		return r.publishChunk(ctx, gameID, msg.PlayerID, []GameMessage{msg.Message})

	case MsgGameStarted:
		return r.processGameStarted(ctx, gameID, msg)

	case MsgTeamDraft, MsgMindMatch:
		return r.processModeMessage(ctx, gameID, msg)

	default:
		return r.publishChunk(ctx, gameID, msg.PlayerID, []GameMessage{msg.Message})
	}
}

func (r *Registry) processGameStarted(ctx context.Context, gameID string, msg WebSocketMessage) error {
	game, err := r.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if game == nil {
		return gameErr(CodeGameNotFound, "Game not found")
	}

	modeName := msg.Message.GameType
	if modeName == "" {
		modeName = ModeTeamDraft
	}
	mode, ok := r.mode(modeName)
	if !ok {
		return gameErr(CodeInvalidGameMode, "Unknown game mode")
	}

	if err := mode.SetGameSettings(ctx, gameID, len(game.Players)); err != nil {
		return err
	}

	initial, err := mode.InitialState(ctx, gameID, game.Players)
	if err != nil {
		return err
	}

	started := GameMessage{Type: MsgGameStarted, GameType: modeName}
	if state, ok := initial.(*TeamDraftState); ok {
		started.InitialTeamDraftState = state
	}
	if state, ok := initial.(*MindMatchState); ok {
		started.InitialMindMatchState = state
	}

	return r.publishChunk(ctx, gameID, msg.PlayerID, []GameMessage{started})
}

func (r *Registry) processModeMessage(ctx context.Context, gameID string, msg WebSocketMessage) error {
	var modeName GameMode
	switch msg.Message.Type {
	case MsgTeamDraft:
		modeName = ModeTeamDraft
	case MsgMindMatch:
		modeName = ModeMindMatch
	}

	mode, ok := r.mode(modeName)
	if !ok {
		return gameErr(CodeInvalidGameMode, "Unknown game mode")
	}

	required, err := mode.CorrectPlayerSourceID(ctx, gameID, msg.Message)
	if err != nil {
		return err
	}

	// No token is ever minted for the server sentinel, so server-only
	// messages from clients always die here.
	if msg.AuthToken == "" || required == serverOnlyAuthorized {
		logf(r.cfg, "QUEUE: Rejected unauthorized %s from %s in game %s", msg.Message.Type, msg.PlayerID, gameID)
		return nil
	}

	authorized, err := r.IsAuthorized(ctx, required, msg.AuthToken)
	if err != nil {
		return err
	}
	if !authorized {
		logf(r.cfg, "QUEUE: Rejected unauthorized %s from %s in game %s", msg.Message.Type, msg.PlayerID, gameID)
		return nil
	}

	game, err := r.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if game == nil {
		return gameErr(CodeGameNotFound, "Game not found")
	}

	batch, err := mode.HandleMessage(ctx, gameID, game.Players, msg.Message)
	if err != nil {
		return err
	}

	return r.publishChunk(ctx, gameID, required, batch)
}
