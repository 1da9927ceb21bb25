package main

import (
	"context"
)

// MindMatch phases.
const (
	PhaseWaitingForQuestion = "WaitingForQuestion"
	PhaseAnswering          = "Answering"
)

// MindMatchState is the public snapshot sent alongside GameStarted.
type MindMatchState struct {
	AskerID  string            `json:"asker_id"`
	Phase    string            `json:"phase"`
	Question string            `json:"question"`
	Answers  map[string]string `json:"answers"`
}

// MindMatchService is the MindMatch state machine: one asker poses a
// question, everyone else submits an answer, the batch of answers is
// revealed once the last one lands.
type MindMatchService struct {
	store Store
}

func newMindMatchService(store Store) *MindMatchService {
	return &MindMatchService{store: store}
}

func (s *MindMatchService) ModeType() GameMode {
	return ModeMindMatch
}

func (s *MindMatchService) stateKey(gameID string, fields ...string) (string, error) {
	b := key("mind_match").Field(gameID)
	for _, f := range fields {
		b = b.Field(f)
	}
	k, err := b.Finish()
	if err != nil {
		return "", errInternal(err)
	}
	return k, nil
}

func (s *MindMatchService) setString(ctx context.Context, gameID, value string, fields ...string) error {
	k, err := s.stateKey(gameID, fields...)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, k, value)
}

func (s *MindMatchService) getString(ctx context.Context, gameID string, fields ...string) (string, error) {
	k, err := s.stateKey(gameID, fields...)
	if err != nil {
		return "", err
	}
	val, _, err := s.store.Get(ctx, k)
	return val, err
}

func (s *MindMatchService) InitState(ctx context.Context, gameID string, host Player) error {
	baseKey, err := s.stateKey(gameID)
	if err != nil {
		return err
	}
	if _, err := s.store.DelPattern(ctx, baseKey+"*"); err != nil {
		return err
	}

	if err := s.setString(ctx, gameID, host.ID, "asker_id"); err != nil {
		return err
	}
	if err := s.setString(ctx, gameID, PhaseWaitingForQuestion, "phase"); err != nil {
		return err
	}
	return s.setString(ctx, gameID, "", "question")
}

func (s *MindMatchService) CleanupState(ctx context.Context, gameID string) error {
	baseKey, err := s.stateKey(gameID)
	if err != nil {
		return err
	}
	_, err = s.store.DelPattern(ctx, baseKey+"*")
	return err
}

func (s *MindMatchService) SetGameSettings(_ context.Context, _ string, _ int) error {
	return nil
}

func (s *MindMatchService) InitialState(ctx context.Context, gameID string, _ []Player) (any, error) {
	askerID, err := s.getString(ctx, gameID, "asker_id")
	if err != nil {
		return nil, err
	}
	phase, err := s.getString(ctx, gameID, "phase")
	if err != nil {
		return nil, err
	}
	if phase == "" {
		phase = PhaseWaitingForQuestion
	}
	question, err := s.getString(ctx, gameID, "question")
	if err != nil {
		return nil, err
	}

	answersKey, err := s.stateKey(gameID, "answers")
	if err != nil {
		return nil, err
	}
	answers, err := s.store.HGetAll(ctx, answersKey)
	if err != nil {
		return nil, err
	}

	return &MindMatchState{
		AskerID:  askerID,
		Phase:    phase,
		Question: question,
		Answers:  answers,
	}, nil
}

func (s *MindMatchService) CorrectPlayerSourceID(ctx context.Context, gameID string, msg GameMessage) (string, error) {
	inner := msg.MindMatch
	if inner == nil {
		return "", errInvalidInput("Missing MindMatch payload")
	}

	switch inner.Type {
	case MMShowQuestion:
		askerID, err := s.getString(ctx, gameID, "asker_id")
		if err != nil {
			return "", err
		}
		if askerID == "" {
			return "", gameErr(CodeGameNotFound, "Invalid game id")
		}
		return askerID, nil
	case MMAnswer:
		// Players may only answer as themselves.
		if inner.PlayerID == "" {
			return "", errInvalidInput("Missing player id")
		}
		return inner.PlayerID, nil
	default:
		return "", errInvalidInput("Unknown MindMatch message type")
	}
}

func (s *MindMatchService) HandleMessage(ctx context.Context, gameID string, players []Player, msg GameMessage) ([]GameMessage, error) {
	inner := msg.MindMatch
	if inner == nil {
		return nil, errInvalidInput("Missing MindMatch payload")
	}

	switch inner.Type {
	case MMShowQuestion:
		answersKey, err := s.stateKey(gameID, "answers")
		if err != nil {
			return nil, err
		}
		if _, err := s.store.Del(ctx, answersKey); err != nil {
			return nil, err
		}
		if err := s.setString(ctx, gameID, inner.Question, "question"); err != nil {
			return nil, err
		}
		if err := s.setString(ctx, gameID, PhaseAnswering, "phase"); err != nil {
			return nil, err
		}
		return []GameMessage{{Type: MsgMindMatch, MindMatch: inner}}, nil

	case MMAnswer:
		answersKey, err := s.stateKey(gameID, "answers")
		if err != nil {
			return nil, err
		}
		if err := s.store.HSet(ctx, answersKey, inner.PlayerID, inner.Answer); err != nil {
			return nil, err
		}

		// Acknowledge without leaking the answer until everyone is in.
		messages := []GameMessage{{
			Type:      MsgMindMatch,
			MindMatch: &MindMatchMessage{Type: MMAnswer, PlayerID: inner.PlayerID},
		}}

		askerID, err := s.getString(ctx, gameID, "asker_id")
		if err != nil {
			return nil, err
		}
		answers, err := s.store.HGetAll(ctx, answersKey)
		if err != nil {
			return nil, err
		}

		allIn := true
		for _, p := range players {
			if p.ID == askerID {
				continue
			}
			if _, ok := answers[p.ID]; !ok {
				allIn = false
				break
			}
		}

		if allIn {
			if err := s.setString(ctx, gameID, PhaseWaitingForQuestion, "phase"); err != nil {
				return nil, err
			}
			for _, p := range players {
				answer, ok := answers[p.ID]
				if !ok {
					continue
				}
				messages = append(messages, GameMessage{
					Type:      MsgMindMatch,
					MindMatch: &MindMatchMessage{Type: MMAnswer, PlayerID: p.ID, Answer: answer},
				})
			}
		}

		return messages, nil

	default:
		return nil, errInvalidInput("Unknown MindMatch message type")
	}
}
