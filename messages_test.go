package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketMessageRoundTrip(t *testing.T) {
	original := WebSocketMessage{
		GameID:    "g1",
		PlayerID:  "p1",
		AuthToken: "secret",
		Message: newTeamDraftMessage(TeamDraftMessage{
			Type: TDDraftPick,
			// drafter submits one pick
			DrafterID: "p2",
			Pick:      "solaire",
		}),
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded WebSocketMessage
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original.GameID, decoded.GameID)
	assert.Equal(t, original.AuthToken, decoded.AuthToken)
	require.NotNil(t, decoded.Message.TeamDraft)
	assert.Equal(t, TDDraftPick, decoded.Message.TeamDraft.Type)
	assert.Equal(t, "solaire", decoded.Message.TeamDraft.Pick)
}

func TestGameMessageOmitsUnusedVariants(t *testing.T) {
	data, err := json.Marshal(newChatMessage("A", "hi"))
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, `"type":"ChatMessage"`)
	assert.NotContains(t, text, "team_draft")
	assert.NotContains(t, text, "mind_match")
	assert.NotContains(t, text, "end_timestamp_ms")
}

func TestNewHaltTimerDeadline(t *testing.T) {
	before := time.Now().UnixMilli()
	msg := newHaltTimer(3*time.Second, ReasonYapperStartingDraft)
	after := time.Now().UnixMilli()

	assert.Equal(t, MsgHaltTimer, msg.Type)
	assert.Equal(t, ReasonYapperStartingDraft, msg.Reason)
	assert.GreaterOrEqual(t, int64(msg.EndTimestampMS), before+3000)
	assert.LessOrEqual(t, int64(msg.EndTimestampMS), after+3000)
}
