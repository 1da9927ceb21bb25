package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	maxPlayers = 8

	// No O or 0, so codes survive being read aloud.
	gameCodeAlphabet = "ABCDEFGHIJKLMNPQRSTUVWXYZ123456789"
	gameCodeLength   = 6
)

// Player is a member of a game.
type Player struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Game is the lobby-level view of one running game.
type Game struct {
	ID         string   `json:"id"`
	Code       string   `json:"code"`
	HostID     string   `json:"host_id"`
	Players    []Player `json:"players"`
	MaxPlayers int      `json:"max_players"`
	CreatedAt  int64    `json:"created_at"`
}

// GameEntry pairs a game snapshot with the freshly minted auth token of
// the player the operation was performed for.
type GameEntry struct {
	Game      Game   `json:"game"`
	AuthToken string `json:"auth_token"`
}

// Registry owns all game bookkeeping: durable state in the store, plus the
// per-game in-memory hubs and processors on this node. It is the only
// mutator of those maps.
type Registry struct {
	cfg   *Config
	store Store
	modes map[GameMode]GameModeManager

	hubMu sync.RWMutex
	hubs  map[string]*Hub

	procMu sync.RWMutex
	procs  map[string]*gameProcessor
}

func newRegistry(cfg *Config, store Store) *Registry {
	r := &Registry{
		cfg:   cfg,
		store: store,
		hubs:  make(map[string]*Hub),
		procs: make(map[string]*gameProcessor),
	}

	r.modes = map[GameMode]GameModeManager{
		ModeTeamDraft: newTeamDraftService(store),
		ModeMindMatch: newMindMatchService(store),
	}

	return r
}

func (r *Registry) mode(m GameMode) (GameModeManager, bool) {
	mode, ok := r.modes[m]
	return mode, ok
}

// generateGameCode draws a candidate code; the caller rejection-samples it
// against the game_code index until free.
func generateGameCode() string {
	buf := make([]byte, gameCodeLength)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}

	out := make([]byte, gameCodeLength)
	for i := range out {
		out[i] = gameCodeAlphabet[int(buf[i])%len(gameCodeAlphabet)]
	}
	return string(out)
}

// CreateGame mints a new game with the given host and installs its hub.
func (r *Registry) CreateGame(ctx context.Context, hostUsername string) (*GameEntry, error) {
	if strings.TrimSpace(hostUsername) == "" {
		return nil, errInvalidInput("Username cannot be empty")
	}

	gameID := uuid.NewString()
	hostID := uuid.NewString()
	authToken := uuid.NewString()

	var gameCode string
	for {
		code := generateGameCode()
		codeKey, err := key("game_code").Field(code).Finish()
		if err != nil {
			return nil, errInternal(err)
		}

		_, taken, err := r.store.Get(ctx, codeKey)
		if err != nil {
			return nil, err
		}
		if !taken {
			gameCode = code
			break
		}
	}

	host := Player{ID: hostID, Username: hostUsername}

	playerKey, err := key("player_to_game").Field(hostID).Finish()
	if err != nil {
		return nil, errInternal(err)
	}
	if _, exists, err := r.store.Get(ctx, playerKey); err != nil {
		return nil, err
	} else if exists {
		return nil, gameErr(CodePlayerAlreadyInGame, "Player already in a game")
	}

	createdAt := time.Now().Unix()
	if err := r.initGameState(ctx, gameID, gameCode, host, createdAt); err != nil {
		return nil, err
	}

	authKey, err := key("player_auth").Field(hostID).Finish()
	if err != nil {
		return nil, errInternal(err)
	}
	if err := r.store.Set(ctx, authKey, authToken); err != nil {
		return nil, err
	}
	if err := r.store.Set(ctx, playerKey, gameID); err != nil {
		return nil, err
	}

	codeKey, err := key("game_code").Field(gameCode).Finish()
	if err != nil {
		return nil, errInternal(err)
	}
	if err := r.store.Set(ctx, codeKey, gameID); err != nil {
		return nil, err
	}

	r.installHub(gameID)

	logf(r.cfg, "GAMES: Created game %s (code %s) for %q", gameID, gameCode, hostUsername)

	return &GameEntry{
		Game: Game{
			ID:         gameID,
			Code:       gameCode,
			HostID:     hostID,
			Players:    []Player{host},
			MaxPlayers: maxPlayers,
			CreatedAt:  createdAt,
		},
		AuthToken: authToken,
	}, nil
}

func (r *Registry) initGameState(ctx context.Context, gameID, gameCode string, host Player, createdAt int64) error {
	set := func(field, value string) error {
		k, err := key("game").Field(gameID).Field(field).Finish()
		if err != nil {
			return errInternal(err)
		}
		return r.store.Set(ctx, k, value)
	}

	if err := set("code", gameCode); err != nil {
		return err
	}
	if err := set("host_id", host.ID); err != nil {
		return err
	}
	if err := r.addPlayer(ctx, gameID, host); err != nil {
		return err
	}
	if err := set("max_players", strconv.Itoa(maxPlayers)); err != nil {
		return err
	}
	if err := set("created_at", strconv.FormatInt(createdAt, 10)); err != nil {
		return err
	}

	for _, mode := range r.modes {
		if err := mode.InitState(ctx, gameID, host); err != nil {
			return err
		}
	}

	return nil
}

// JoinGameByCode resolves a (case-insensitive) code and joins the game,
// rejecting usernames already present in it.
func (r *Registry) JoinGameByCode(ctx context.Context, username, gameCode string) (*GameEntry, error) {
	if strings.TrimSpace(username) == "" {
		return nil, errInvalidInput("Username cannot be empty")
	}

	gameCode = strings.ToUpper(gameCode)

	codeKey, err := key("game_code").Field(gameCode).Finish()
	if err != nil {
		return nil, gameErr(CodeInvalidGameCode, "Invalid game code")
	}

	gameID, found, err := r.store.Get(ctx, codeKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, gameErr(CodeGameNotFound, "Game not found")
	}

	players, err := r.getPlayers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	for _, p := range players {
		if p.Username == username {
			return nil, gameErr(CodeUsernameTaken, "Username taken")
		}
	}

	return r.JoinGame(ctx, username, gameID)
}

// JoinGame adds a new player to an existing game and announces them.
func (r *Registry) JoinGame(ctx context.Context, username, gameID string) (*GameEntry, error) {
	if strings.TrimSpace(username) == "" {
		return nil, errInvalidInput("Username cannot be empty")
	}

	playerID := uuid.NewString()
	authToken := uuid.NewString()

	playerKey, err := key("player_to_game").Field(playerID).Finish()
	if err != nil {
		return nil, errInternal(err)
	}
	if _, exists, err := r.store.Get(ctx, playerKey); err != nil {
		return nil, err
	} else if exists {
		return nil, gameErr(CodePlayerAlreadyInGame, "Player already in a game")
	}

	maxKey, err := key("game").Field(gameID).Field("max_players").Finish()
	if err != nil {
		return nil, errInternal(err)
	}
	maxStr, found, err := r.store.Get(ctx, maxKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, gameErr(CodeGameNotFound, "Game not found")
	}
	max, err := strconv.Atoi(maxStr)
	if err != nil {
		max = maxPlayers
	}

	players, err := r.getPlayers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if len(players) >= max {
		return nil, gameErr(CodeGameFull, "Game is full")
	}

	player := Player{ID: playerID, Username: username}
	if err := r.addPlayer(ctx, gameID, player); err != nil {
		return nil, err
	}

	authKey, err := key("player_auth").Field(playerID).Finish()
	if err != nil {
		return nil, errInternal(err)
	}
	if err := r.store.Set(ctx, authKey, authToken); err != nil {
		return nil, err
	}
	if err := r.store.Set(ctx, playerKey, gameID); err != nil {
		return nil, err
	}

	if err := r.publishChunk(ctx, gameID, playerID, []GameMessage{newPlayerJoined(username, playerID)}); err != nil {
		logErrorf("failed to broadcast player join for game %s: %v", gameID, err)
	}

	game, err := r.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game == nil {
		return nil, gameErr(CodeGameNotFound, "Game not found")
	}

	logf(r.cfg, "GAMES: Player %q joined %s", username, gameID)

	return &GameEntry{Game: *game, AuthToken: authToken}, nil
}

// GetGame reads the full lobby view, or nil if the game does not exist
// (the code field is the liveness marker).
func (r *Registry) GetGame(ctx context.Context, gameID string) (*Game, error) {
	get := func(field string) (string, bool, error) {
		k, err := key("game").Field(gameID).Field(field).Finish()
		if err != nil {
			return "", false, errInternal(err)
		}
		return r.store.Get(ctx, k)
	}

	gameCode, found, err := get("code")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	hostID, found, err := get("host_id")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, gameErr(CodeGameNotFound, "Game host not found")
	}

	maxStr, _, err := get("max_players")
	if err != nil {
		return nil, err
	}
	max, convErr := strconv.Atoi(maxStr)
	if convErr != nil {
		max = maxPlayers
	}

	createdStr, _, err := get("created_at")
	if err != nil {
		return nil, err
	}
	createdAt, convErr := strconv.ParseInt(createdStr, 10, 64)
	if convErr != nil {
		createdAt = time.Now().Unix()
	}

	players, err := r.getPlayers(ctx, gameID)
	if err != nil {
		return nil, err
	}

	return &Game{
		ID:         gameID,
		Code:       gameCode,
		HostID:     hostID,
		Players:    players,
		MaxPlayers: max,
		CreatedAt:  createdAt,
	}, nil
}

// GetAllGames scans the code keys, dedups game ids, and reads each game.
func (r *Registry) GetAllGames(ctx context.Context) ([]Game, error) {
	keys, err := r.store.ScanKeys(ctx, "game::*::code")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var games []Game

	for _, k := range keys {
		parts := strings.Split(k, "::")
		if len(parts) < 3 || parts[0] != "game" || parts[2] != "code" {
			continue
		}
		gameID := parts[1]

		if _, dup := seen[gameID]; dup {
			continue
		}
		seen[gameID] = struct{}{}

		game, err := r.GetGame(ctx, gameID)
		if err != nil || game == nil {
			continue
		}
		games = append(games, *game)
	}

	return games, nil
}

// IsAuthorized reports whether token is the minted auth token for player.
func (r *Registry) IsAuthorized(ctx context.Context, playerID, authToken string) (bool, error) {
	if authToken == "" {
		return false, nil
	}

	authKey, err := key("player_auth").Field(playerID).Finish()
	if err != nil {
		return false, errInternal(err)
	}

	stored, found, err := r.store.Get(ctx, authKey)
	if err != nil {
		return false, err
	}
	return found && stored == authToken, nil
}

// RemovePlayer runs the fixed removal sequence: drop from the player list,
// clear the reverse index, clear auth, broadcast, and destroy the game if
// it is now empty. Every step runs even if an earlier one failed.
func (r *Registry) RemovePlayer(ctx context.Context, playerID string) error {
	playerKey, err := key("player_to_game").Field(playerID).Finish()
	if err != nil {
		return errInternal(err)
	}

	gameID, found, err := r.store.Get(ctx, playerKey)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	player, err := r.getPlayer(ctx, gameID, playerID)
	if err != nil {
		logErrorf("remove: failed to read player %s: %v", playerID, err)
	}

	playersKey, err := key("game").Field(gameID).Field("players").Finish()
	if err == nil {
		if _, err := r.store.LRem(ctx, playersKey, 1, playerID); err != nil {
			logErrorf("remove: failed to drop %s from player list: %v", playerID, err)
		}
	}

	if usernameKey, err := key("player_usernames").Field(playerID).Finish(); err == nil {
		if _, err := r.store.Del(ctx, usernameKey); err != nil {
			logErrorf("remove: failed to delete username for %s: %v", playerID, err)
		}
	}

	if _, err := r.store.Del(ctx, playerKey); err != nil {
		logErrorf("remove: failed to delete reverse index for %s: %v", playerID, err)
	}

	if authKey, err := key("player_auth").Field(playerID).Finish(); err == nil {
		if _, err := r.store.Del(ctx, authKey); err != nil {
			logErrorf("remove: failed to delete auth for %s: %v", playerID, err)
		}
	}

	if player != nil {
		if err := r.publishChunk(ctx, gameID, playerID, []GameMessage{newPlayerDisconnected(player.Username, playerID)}); err != nil {
			logErrorf("remove: failed to broadcast disconnect for %s: %v", playerID, err)
		}
	}

	remaining, err := r.getPlayers(ctx, gameID)
	if err != nil {
		logErrorf("remove: failed to count remaining players in %s: %v", gameID, err)
		return nil
	}
	if len(remaining) == 0 {
		r.cleanupEmptyGame(ctx, gameID)
	}

	return nil
}

// cleanupEmptyGame destroys all durable and in-memory state for a game.
// Failures are logged; cleanup of the remaining keys continues regardless.
func (r *Registry) cleanupEmptyGame(ctx context.Context, gameID string) {
	gameCode := ""
	if codeKey, err := key("game").Field(gameID).Field("code").Finish(); err == nil {
		gameCode, _, _ = r.store.Get(ctx, codeKey)
	}

	if baseKey, err := key("game").Field(gameID).Finish(); err == nil {
		if _, err := r.store.DelPattern(ctx, baseKey+"*"); err != nil {
			logErrorf("cleanup: failed to delete game keys for %s: %v", gameID, err)
		}
	}

	for _, mode := range r.modes {
		if err := mode.CleanupState(ctx, gameID); err != nil {
			logErrorf("cleanup: failed to delete %s state for %s: %v", mode.ModeType(), gameID, err)
		}
	}

	if gameCode != "" {
		if codeKey, err := key("game_code").Field(gameCode).Finish(); err == nil {
			if _, err := r.store.Del(ctx, codeKey); err != nil {
				logErrorf("cleanup: failed to release code %s: %v", gameCode, err)
			}
		}
	}

	r.removeHub(gameID)
	r.cleanupProcessor(gameID)

	logf(r.cfg, "GAMES: Cleaned up empty game %s", gameID)
}

// HandlePlayerLeft rebroadcasts a leave as a system chat line; the actual
// membership change happens when the socket disconnects.
func (r *Registry) HandlePlayerLeft(ctx context.Context, gameID, playerID string) error {
	player, err := r.getPlayer(ctx, gameID, playerID)
	if err != nil {
		return err
	}
	if player == nil {
		return nil
	}

	return r.publishChunk(ctx, gameID, playerID, []GameMessage{
		newChatMessage("System", fmt.Sprintf("%s left the game", player.Username)),
	})
}

// publishChunk puts an ordered event batch on the game's pub/sub channel;
// every node's router fans it out to local sockets.
func (r *Registry) publishChunk(ctx context.Context, gameID, actorID string, messages []GameMessage) error {
	if len(messages) == 0 {
		return nil
	}

	channel, err := key("game_channel").Field(gameID).Finish()
	if err != nil {
		return errInternal(err)
	}

	payload, err := encodeJSON(BroadcastChunk{
		GameID:   gameID,
		PlayerID: actorID,
		Messages: messages,
	})
	if err != nil {
		return errInternal(err)
	}

	return r.store.Publish(ctx, channel, payload)
}

// Player list helpers. The ordered list holds ids; usernames live in their
// own keys so a player's name survives game membership changes atomically.

func (r *Registry) getPlayers(ctx context.Context, gameID string) ([]Player, error) {
	playersKey, err := key("game").Field(gameID).Field("players").Finish()
	if err != nil {
		return nil, errInternal(err)
	}

	ids, err := r.store.LRange(ctx, playersKey, 0, -1)
	if err != nil {
		return nil, err
	}

	players := make([]Player, 0, len(ids))
	for _, id := range ids {
		usernameKey, err := key("player_usernames").Field(id).Finish()
		if err != nil {
			return nil, errInternal(err)
		}
		username, found, err := r.store.Get(ctx, usernameKey)
		if err != nil {
			return nil, err
		}
		if !found {
			logErrorf("player %s in game %s has no username", id, gameID)
			continue
		}
		players = append(players, Player{ID: id, Username: username})
	}

	return players, nil
}

func (r *Registry) getPlayer(ctx context.Context, gameID, playerID string) (*Player, error) {
	players, err := r.getPlayers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	for _, p := range players {
		if p.ID == playerID {
			return &p, nil
		}
	}
	return nil, nil
}

func (r *Registry) addPlayer(ctx context.Context, gameID string, player Player) error {
	playersKey, err := key("game").Field(gameID).Field("players").Finish()
	if err != nil {
		return errInternal(err)
	}
	if _, err := r.store.RPush(ctx, playersKey, player.ID); err != nil {
		return err
	}

	usernameKey, err := key("player_usernames").Field(player.ID).Finish()
	if err != nil {
		return errInternal(err)
	}
	return r.store.Set(ctx, usernameKey, player.Username)
}

// Hub bookkeeping.

func (r *Registry) installHub(gameID string) {
	r.hubMu.Lock()
	defer r.hubMu.Unlock()

	if _, ok := r.hubs[gameID]; !ok {
		r.hubs[gameID] = newHub(gameID)
	}
}

func (r *Registry) hubFor(gameID string) (*Hub, bool) {
	r.hubMu.RLock()
	defer r.hubMu.RUnlock()

	hub, ok := r.hubs[gameID]
	return hub, ok
}

func (r *Registry) removeHub(gameID string) {
	r.hubMu.Lock()
	hub, ok := r.hubs[gameID]
	delete(r.hubs, gameID)
	r.hubMu.Unlock()

	if ok {
		hub.Close()
	}
}
