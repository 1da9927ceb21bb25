package main

import (
	"context"
	"strconv"
	"time"
)

const (
	defaultTeamSize  = 2
	defaultMaxRounds = 3
)

// TeamDraft phases.
const (
	PhaseYapperChoosing = "YapperChoosing"
	PhaseDrafting       = "Drafting"
	PhaseAwarding       = "Awarding"
	PhaseComplete       = "Complete"
)

// Round is the per-round slice of TeamDraft state.
type Round struct {
	Round             int                 `json:"round"`
	Pool              string              `json:"pool"`
	Competition       string              `json:"competition"`
	TeamSize          int                 `json:"team_size"`
	StartingDrafterID string              `json:"starting_drafter_id"`
	CurrentDrafterID  string              `json:"current_drafter_id"`
	PlayerToPicks     map[string][]string `json:"player_to_picks"`
}

// TeamDraftState is the public snapshot of one game's TeamDraft state, sent
// alongside GameStarted so late initializers render the same lobby.
type TeamDraftState struct {
	YapperID     string         `json:"yapper_id"`
	YapperIndex  int            `json:"yapper_index"`
	MaxRounds    int            `json:"max_rounds"`
	Phase        string         `json:"phase"`
	RoundData    Round          `json:"round_data"`
	PlayerPoints map[string]int `json:"player_points"`
}

// TeamDraftService is the TeamDraft state machine. All durable state lives
// in the store under team_draft::<game_id>::…; each handler is a function
// of that state plus one input, and returns the event batch to broadcast.
type TeamDraftService struct {
	store Store
}

func newTeamDraftService(store Store) *TeamDraftService {
	return &TeamDraftService{store: store}
}

func (s *TeamDraftService) ModeType() GameMode {
	return ModeTeamDraft
}

func (s *TeamDraftService) stateKey(gameID string, fields ...string) (string, error) {
	b := key("team_draft").Field(gameID)
	for _, f := range fields {
		b = b.Field(f)
	}
	k, err := b.Finish()
	if err != nil {
		return "", errInternal(err)
	}
	return k, nil
}

func (s *TeamDraftService) getString(ctx context.Context, gameID string, fields ...string) (string, error) {
	k, err := s.stateKey(gameID, fields...)
	if err != nil {
		return "", err
	}
	val, _, err := s.store.Get(ctx, k)
	return val, err
}

func (s *TeamDraftService) getInt(ctx context.Context, fallback int, gameID string, fields ...string) (int, error) {
	val, err := s.getString(ctx, gameID, fields...)
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.Atoi(val)
	if convErr != nil {
		return fallback, nil
	}
	return n, nil
}

func (s *TeamDraftService) setString(ctx context.Context, gameID, value string, fields ...string) error {
	k, err := s.stateKey(gameID, fields...)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, k, value)
}

// InitState wipes the game's TeamDraft keys and writes a fresh lobby with
// the given player as first yapper. Runs at creation and after completion.
func (s *TeamDraftService) InitState(ctx context.Context, gameID string, host Player) error {
	baseKey, err := s.stateKey(gameID)
	if err != nil {
		return err
	}
	if _, err := s.store.DelPattern(ctx, baseKey+"*"); err != nil {
		return err
	}

	writes := []struct {
		fields []string
		value  string
	}{
		{[]string{"yapper_id"}, host.ID},
		{[]string{"yapper_index"}, "0"},
		{[]string{"max_rounds"}, strconv.Itoa(defaultMaxRounds)},
		{[]string{"phase"}, PhaseYapperChoosing},
		{[]string{"round", "round"}, "1"},
		{[]string{"round", "team_size"}, strconv.Itoa(defaultTeamSize)},
		{[]string{"round", "pool"}, ""},
		{[]string{"round", "competition"}, ""},
		{[]string{"round", "starting_drafter_id"}, ""},
		{[]string{"round", "current_drafter_id"}, ""},
	}

	for _, w := range writes {
		if err := s.setString(ctx, gameID, w.value, w.fields...); err != nil {
			return err
		}
	}

	return nil
}

func (s *TeamDraftService) CleanupState(ctx context.Context, gameID string) error {
	baseKey, err := s.stateKey(gameID)
	if err != nil {
		return err
	}
	_, err = s.store.DelPattern(ctx, baseKey+"*")
	return err
}

// SetGameSettings pins max_rounds to the player count at game start, so
// every player gets one turn as yapper.
func (s *TeamDraftService) SetGameSettings(ctx context.Context, gameID string, numPlayers int) error {
	return s.setString(ctx, gameID, strconv.Itoa(numPlayers), "max_rounds")
}

// InitialState reads the full snapshot back out of the store.
func (s *TeamDraftService) InitialState(ctx context.Context, gameID string, players []Player) (any, error) {
	yapperID, err := s.getString(ctx, gameID, "yapper_id")
	if err != nil {
		return nil, err
	}
	yapperIndex, err := s.getInt(ctx, 0, gameID, "yapper_index")
	if err != nil {
		return nil, err
	}
	maxRounds, err := s.getInt(ctx, defaultMaxRounds, gameID, "max_rounds")
	if err != nil {
		return nil, err
	}
	phase, err := s.getString(ctx, gameID, "phase")
	if err != nil {
		return nil, err
	}
	if phase == "" {
		phase = PhaseYapperChoosing
	}

	round, err := s.getInt(ctx, 1, gameID, "round", "round")
	if err != nil {
		return nil, err
	}
	teamSize, err := s.getInt(ctx, defaultTeamSize, gameID, "round", "team_size")
	if err != nil {
		return nil, err
	}
	pool, err := s.getString(ctx, gameID, "round", "pool")
	if err != nil {
		return nil, err
	}
	competition, err := s.getString(ctx, gameID, "round", "competition")
	if err != nil {
		return nil, err
	}
	startingDrafter, err := s.getString(ctx, gameID, "round", "starting_drafter_id")
	if err != nil {
		return nil, err
	}
	currentDrafter, err := s.getString(ctx, gameID, "round", "current_drafter_id")
	if err != nil {
		return nil, err
	}

	picks := make(map[string][]string)
	for _, p := range players {
		picksKey, err := s.stateKey(gameID, "round", "player_to_picks", p.ID)
		if err != nil {
			return nil, err
		}
		playerPicks, err := s.store.LRange(ctx, picksKey, 0, -1)
		if err != nil {
			return nil, err
		}
		if len(playerPicks) > 0 {
			picks[p.ID] = playerPicks
		}
	}

	points, err := s.playerPoints(ctx, gameID)
	if err != nil {
		return nil, err
	}

	return &TeamDraftState{
		YapperID:    yapperID,
		YapperIndex: yapperIndex,
		MaxRounds:   maxRounds,
		Phase:       phase,
		RoundData: Round{
			Round:             round,
			Pool:              pool,
			Competition:       competition,
			TeamSize:          teamSize,
			StartingDrafterID: startingDrafter,
			CurrentDrafterID:  currentDrafter,
			PlayerToPicks:     picks,
		},
		PlayerPoints: points,
	}, nil
}

func (s *TeamDraftService) playerPoints(ctx context.Context, gameID string) (map[string]int, error) {
	pointsKey, err := s.stateKey(gameID, "player_points")
	if err != nil {
		return nil, err
	}
	raw, err := s.store.HGetAll(ctx, pointsKey)
	if err != nil {
		return nil, err
	}

	points := make(map[string]int, len(raw))
	for id, val := range raw {
		if n, err := strconv.Atoi(val); err == nil {
			points[id] = n
		}
	}
	return points, nil
}

// CorrectPlayerSourceID maps a message to the only player allowed to send
// it right now; server-emitted events map to serverOnlyAuthorized.
func (s *TeamDraftService) CorrectPlayerSourceID(ctx context.Context, gameID string, msg GameMessage) (string, error) {
	inner := msg.TeamDraft
	if inner == nil {
		return "", errInvalidInput("Missing TeamDraft payload")
	}

	yapperKey, err := s.stateKey(gameID, "yapper_id")
	if err != nil {
		return "", err
	}
	yapperID, found, err := s.store.Get(ctx, yapperKey)
	if err != nil {
		return "", err
	}
	if !found {
		return "", gameErr(CodeGameNotFound, "Invalid game id")
	}

	switch inner.Type {
	case TDSetPool, TDSetCompetition, TDStartDraft, TDAwardPoint:
		return yapperID, nil
	case TDDraftPick:
		drafterKey, err := s.stateKey(gameID, "round", "current_drafter_id")
		if err != nil {
			return "", err
		}
		drafterID, found, err := s.store.Get(ctx, drafterKey)
		if err != nil {
			return "", err
		}
		if !found {
			return "", gameErr(CodeGameNotFound, "Current drafter not found")
		}
		return drafterID, nil
	case TDAwardingPhase, TDNextDrafter, TDNextRound, TDCompleteGame:
		return serverOnlyAuthorized, nil
	default:
		return "", errInvalidInput("Unknown TeamDraft message type")
	}
}

// HandleMessage applies one authorized action and returns the events to
// broadcast, in order.
func (s *TeamDraftService) HandleMessage(ctx context.Context, gameID string, players []Player, msg GameMessage) ([]GameMessage, error) {
	inner := msg.TeamDraft
	if inner == nil {
		return nil, errInvalidInput("Missing TeamDraft payload")
	}

	switch inner.Type {
	case TDSetPool:
		return s.handleSetPool(ctx, gameID, *inner)
	case TDSetCompetition:
		return s.handleSetCompetition(ctx, gameID, *inner)
	case TDStartDraft:
		return s.handleStartDraft(ctx, gameID, players, *inner)
	case TDDraftPick:
		return s.handleDraftPick(ctx, gameID, players, *inner)
	case TDAwardPoint:
		return s.handleAwardPoint(ctx, gameID, players, *inner)
	case TDAwardingPhase, TDNextDrafter, TDNextRound, TDCompleteGame:
		// Outputs of other transitions, never accepted as inputs.
		return nil, nil
	default:
		return nil, errInvalidInput("Unknown TeamDraft message type")
	}
}

// inPhase reports whether the game currently sits in the named phase.
// Out-of-phase actions are ignored rather than rejected: an authorized
// sender can still race a transition it has not observed yet.
func (s *TeamDraftService) inPhase(ctx context.Context, gameID, want string) (bool, error) {
	phase, err := s.getString(ctx, gameID, "phase")
	if err != nil {
		return false, err
	}
	return phase == want, nil
}

func (s *TeamDraftService) handleSetPool(ctx context.Context, gameID string, inner TeamDraftMessage) ([]GameMessage, error) {
	if ok, err := s.inPhase(ctx, gameID, PhaseYapperChoosing); err != nil || !ok {
		return nil, err
	}

	if err := s.setString(ctx, gameID, inner.Pool, "round", "pool"); err != nil {
		return nil, err
	}
	return []GameMessage{newTeamDraftMessage(inner)}, nil
}

func (s *TeamDraftService) handleSetCompetition(ctx context.Context, gameID string, inner TeamDraftMessage) ([]GameMessage, error) {
	if ok, err := s.inPhase(ctx, gameID, PhaseYapperChoosing); err != nil || !ok {
		return nil, err
	}

	if err := s.setString(ctx, gameID, inner.Competition, "round", "competition"); err != nil {
		return nil, err
	}
	return []GameMessage{newTeamDraftMessage(inner)}, nil
}

func (s *TeamDraftService) handleStartDraft(ctx context.Context, gameID string, players []Player, inner TeamDraftMessage) ([]GameMessage, error) {
	if err := s.setString(ctx, gameID, PhaseDrafting, "phase"); err != nil {
		return nil, err
	}
	if err := s.setString(ctx, gameID, inner.StartingDrafterID, "round", "starting_drafter_id"); err != nil {
		return nil, err
	}
	if err := s.setString(ctx, gameID, inner.StartingDrafterID, "round", "current_drafter_id"); err != nil {
		return nil, err
	}

	yapperID, err := s.getString(ctx, gameID, "yapper_id")
	if err != nil {
		return nil, err
	}

	for _, p := range players {
		if p.ID == yapperID {
			continue
		}
		picksKey, err := s.stateKey(gameID, "round", "player_to_picks", p.ID)
		if err != nil {
			return nil, err
		}
		if _, err := s.store.Del(ctx, picksKey); err != nil {
			return nil, err
		}
	}

	pointsKey, err := s.stateKey(gameID, "player_points")
	if err != nil {
		return nil, err
	}
	for _, p := range players {
		if err := s.store.HSet(ctx, pointsKey, p.ID, "0"); err != nil {
			return nil, err
		}
	}

	return []GameMessage{
		newHaltTimer(3*time.Second, ReasonYapperStartingDraft),
		newTeamDraftMessage(inner),
	}, nil
}

func (s *TeamDraftService) handleDraftPick(ctx context.Context, gameID string, players []Player, inner TeamDraftMessage) ([]GameMessage, error) {
	// current_drafter_id stays set through Awarding, so the last drafter
	// is still authorized after the final pick seals the round. Only the
	// drafting phase accepts picks.
	if ok, err := s.inPhase(ctx, gameID, PhaseDrafting); err != nil || !ok {
		return nil, err
	}

	picksKey, err := s.stateKey(gameID, "round", "player_to_picks", inner.DrafterID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.RPush(ctx, picksKey, inner.Pick); err != nil {
		return nil, err
	}

	messages := []GameMessage{newTeamDraftMessage(inner)}

	teamSize, err := s.getInt(ctx, defaultTeamSize, gameID, "round", "team_size")
	if err != nil {
		return nil, err
	}
	yapperID, err := s.getString(ctx, gameID, "yapper_id")
	if err != nil {
		return nil, err
	}

	allTeamsComplete := true
	for _, p := range players {
		if p.ID == yapperID {
			continue
		}
		playerPicksKey, err := s.stateKey(gameID, "round", "player_to_picks", p.ID)
		if err != nil {
			return nil, err
		}
		picks, err := s.store.LRange(ctx, playerPicksKey, 0, -1)
		if err != nil {
			return nil, err
		}
		if len(picks) < teamSize {
			allTeamsComplete = false
			break
		}
	}

	if allTeamsComplete {
		if err := s.setString(ctx, gameID, PhaseAwarding, "phase"); err != nil {
			return nil, err
		}

		messages = append(messages,
			newHaltTimer(3*time.Second, ReasonDraftPickShowcase),
			newHaltTimer(8*time.Second, ReasonTransitionToAwarding),
			newTeamDraftMessage(TeamDraftMessage{Type: TDAwardingPhase}),
		)
		return messages, nil
	}

	currentDrafterID, err := s.getString(ctx, gameID, "round", "current_drafter_id")
	if err != nil {
		return nil, err
	}

	currentIndex := -1
	for i, p := range players {
		if p.ID == currentDrafterID {
			currentIndex = i
			break
		}
	}
	if currentIndex < 0 {
		return messages, nil
	}

	nextIndex := (currentIndex + 1) % len(players)
	for players[nextIndex].ID == yapperID {
		nextIndex = (nextIndex + 1) % len(players)
	}
	nextDrafterID := players[nextIndex].ID

	if err := s.setString(ctx, gameID, nextDrafterID, "round", "current_drafter_id"); err != nil {
		return nil, err
	}

	messages = append(messages,
		newHaltTimer(3*time.Second, ReasonDraftPickShowcase),
		newTeamDraftMessage(TeamDraftMessage{Type: TDNextDrafter, DrafterID: nextDrafterID}),
	)
	return messages, nil
}

func (s *TeamDraftService) handleAwardPoint(ctx context.Context, gameID string, players []Player, inner TeamDraftMessage) ([]GameMessage, error) {
	if ok, err := s.inPhase(ctx, gameID, PhaseAwarding); err != nil || !ok {
		return nil, err
	}

	pointsKey, err := s.stateKey(gameID, "player_points")
	if err != nil {
		return nil, err
	}

	current, _, err := s.store.HGet(ctx, pointsKey, inner.PlayerID)
	if err != nil {
		return nil, err
	}
	points, convErr := strconv.Atoi(current)
	if convErr != nil {
		points = 0
	}
	if err := s.store.HSet(ctx, pointsKey, inner.PlayerID, strconv.Itoa(points+1)); err != nil {
		return nil, err
	}

	messages := []GameMessage{newTeamDraftMessage(inner)}

	currentRound, err := s.getInt(ctx, 1, gameID, "round", "round")
	if err != nil {
		return nil, err
	}
	maxRounds, err := s.getInt(ctx, defaultMaxRounds, gameID, "max_rounds")
	if err != nil {
		return nil, err
	}

	if currentRound >= maxRounds {
		finalPoints, err := s.playerPoints(ctx, gameID)
		if err != nil {
			return nil, err
		}

		if len(players) > 0 {
			if err := s.InitState(ctx, gameID, players[0]); err != nil {
				return nil, err
			}
		}

		messages = append(messages, newTeamDraftMessage(TeamDraftMessage{
			Type:         TDCompleteGame,
			PlayerPoints: finalPoints,
		}))
		return messages, nil
	}

	oldYapperID, err := s.getString(ctx, gameID, "yapper_id")
	if err != nil {
		return nil, err
	}

	yapperIndex, err := s.getInt(ctx, 0, gameID, "yapper_index")
	if err != nil {
		return nil, err
	}
	nextYapperIndex := (yapperIndex + 1) % len(players)
	if err := s.setString(ctx, gameID, players[nextYapperIndex].ID, "yapper_id"); err != nil {
		return nil, err
	}
	if err := s.setString(ctx, gameID, strconv.Itoa(nextYapperIndex), "yapper_index"); err != nil {
		return nil, err
	}

	resets := []struct {
		fields []string
		value  string
	}{
		{[]string{"phase"}, PhaseYapperChoosing},
		{[]string{"round", "round"}, strconv.Itoa(currentRound + 1)},
		{[]string{"round", "team_size"}, strconv.Itoa(defaultTeamSize)},
		{[]string{"round", "pool"}, ""},
		{[]string{"round", "competition"}, ""},
		{[]string{"round", "starting_drafter_id"}, ""},
		{[]string{"round", "current_drafter_id"}, ""},
	}
	for _, w := range resets {
		if err := s.setString(ctx, gameID, w.value, w.fields...); err != nil {
			return nil, err
		}
	}

	for _, p := range players {
		if p.ID == oldYapperID {
			continue
		}
		picksKey, err := s.stateKey(gameID, "round", "player_to_picks", p.ID)
		if err != nil {
			return nil, err
		}
		if _, err := s.store.Del(ctx, picksKey); err != nil {
			return nil, err
		}
	}

	if _, err := s.store.Del(ctx, pointsKey); err != nil {
		return nil, err
	}

	messages = append(messages,
		newHaltTimer(8*time.Second, ReasonWaitingForNextRound),
		newTeamDraftMessage(TeamDraftMessage{
			Type:     TDNextRound,
			Round:    currentRound + 1,
			TeamSize: defaultTeamSize,
		}),
	)
	return messages, nil
}
