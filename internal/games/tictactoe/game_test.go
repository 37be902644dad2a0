package tictactoe

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchgate/matchgate/internal/core/engine"
)

func newGame(t *testing.T) *Game {
	t.Helper()
	core, err := New(1, []byte(`{"matched":true,"players":[1,2]}`))
	require.NoError(t, err)
	require.True(t, core.Valid())
	return core.(*Game)
}

func startGame(t *testing.T, g *Game) {
	t.Helper()
	g.Connect(1)
	g.Connect(2)
	g.Tick(time.Millisecond)
	require.True(t, g.started)
	drain(g)
}

func drain(g *Game) []engine.Outbound {
	var out []engine.Outbound
	for g.HasMessage() {
		out = append(out, g.PeekMessage())
		g.PopMessage()
	}
	return out
}

func move(g *Game, id engine.PlayerID, i, j int) {
	g.PlayerUpdate(id, mustJSON(map[string]any{"move": []int{i, j}}))
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func TestNew_PayloadValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		valid   bool
	}{
		{"matched pair", `{"matched":true,"players":[1,2]}`, true},
		{"unmatched", `{"matched":false,"players":[1,2]}`, false},
		{"wrong player count", `{"matched":true,"players":[1]}`, false},
		{"not json", `nonsense`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, err := New(1, []byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.valid, core.Valid())
		})
	}
}

func TestGame_StartsWhenBothPlayersHaveConnected(t *testing.T) {
	g := newGame(t)

	g.Connect(1)
	g.Tick(time.Millisecond)
	assert.False(t, g.started)
	assert.Empty(t, drain(g))

	g.Connect(2)
	g.Tick(time.Millisecond)
	assert.True(t, g.started)

	states := drain(g)
	require.Len(t, states, 2, "each player receives its own game state")
	var state struct {
		Type     string `json:"type"`
		YourTurn bool   `json:"your_turn"`
	}
	require.NoError(t, json.Unmarshal(states[0].Text, &state))
	assert.Equal(t, "game", state.Type)
}

func TestGame_MovesAlternateAndInvalidMovesAreIgnored(t *testing.T) {
	g := newGame(t)
	startGame(t, g)

	// O cannot move first.
	move(g, 2, 0, 0)
	assert.Empty(t, drain(g))

	move(g, 1, 0, 0)
	assert.NotEmpty(t, drain(g))

	// The cell is taken.
	move(g, 2, 0, 0)
	assert.Empty(t, drain(g))

	// Out of range.
	move(g, 2, 3, 0)
	assert.Empty(t, drain(g))

	move(g, 2, 1, 1)
	assert.NotEmpty(t, drain(g))
}

func TestGame_ColumnWinEndsTheGame(t *testing.T) {
	g := newGame(t)
	startGame(t, g)

	move(g, 1, 0, 0)
	move(g, 2, 1, 0)
	move(g, 1, 0, 1)
	move(g, 2, 1, 1)
	move(g, 1, 0, 2)

	assert.True(t, g.Done())
	assert.Equal(t, 1, g.board.State())

	result := g.ResultFor(1).(map[string]any)
	assert.Equal(t, 1, result["verdict"])
	result = g.ResultFor(2).(map[string]any)
	assert.Equal(t, -1, result["verdict"])
}

func TestGame_ClockRunsOutForTheMover(t *testing.T) {
	g := newGame(t)
	startGame(t, g)

	// X is on the move and burns its whole clock.
	g.Tick(initialClock + time.Second)

	assert.True(t, g.Done())
	result := g.ResultFor(1).(map[string]any)
	assert.Equal(t, -1, result["verdict"], "X loses on time")
}

func TestGame_TimeStateIsBroadcastEverySecond(t *testing.T) {
	g := newGame(t)
	startGame(t, g)

	g.Tick(400 * time.Millisecond)
	assert.Empty(t, drain(g))

	g.Tick(700 * time.Millisecond)
	msgs := drain(g)
	require.Len(t, msgs, 2)

	var state struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Text, &state))
	assert.Equal(t, "time", state.Type)
}

func TestGame_ReconnectGetsCurrentState(t *testing.T) {
	g := newGame(t)
	startGame(t, g)

	g.Disconnect(2)
	g.Connect(2)

	msgs := drain(g)
	require.Len(t, msgs, 1)
	assert.Equal(t, engine.PlayerID(2), msgs[0].To)

	var state struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Text, &state))
	assert.Equal(t, "game", state.Type)
}

func TestBoard_WinDetection(t *testing.T) {
	tests := []struct {
		name  string
		moves [][2]int
	}{
		{"row", [][2]int{{0, 0}, {1, 0}, {2, 0}}},
		{"column", [][2]int{{0, 0}, {0, 1}, {0, 2}}},
		{"diagonal", [][2]int{{0, 0}, {1, 1}, {2, 2}}},
		{"anti-diagonal", [][2]int{{2, 0}, {1, 1}, {0, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Board
			for _, m := range tt.moves {
				require.True(t, b.AddX(m[0], m[1]))
			}
			assert.Equal(t, 1, b.State())
			assert.True(t, b.Done())
		})
	}
}

func TestBoard_RejectsBadMoves(t *testing.T) {
	var b Board
	require.True(t, b.AddX(1, 1))
	assert.False(t, b.AddO(1, 1), "occupied")
	assert.False(t, b.AddO(3, 0), "out of range")
	assert.False(t, b.AddO(0, -1), "out of range")
}

func TestMatcher_PairsInArrivalOrder(t *testing.T) {
	m := NewMatcher(500)

	queued := []engine.QueuedEntry{
		{SessionID: 100, Players: []engine.PlayerID{1}},
		{SessionID: 101, Players: []engine.PlayerID{2}},
		{SessionID: 102, Players: []engine.PlayerID{3}},
	}
	groups := m.Match(queued, time.Millisecond)

	require.Len(t, groups, 1, "the odd entry stays queued")
	group := groups[0]
	assert.Equal(t, []engine.SessionID{100, 101}, group.Participants)
	assert.Equal(t, engine.SessionID(500), group.SessionID)

	payload := group.Payload.(map[string]any)
	assert.Equal(t, true, payload["matched"])
	assert.Equal(t, []uint64{1, 2}, payload["players"])

	// The next pair gets a fresh session id.
	groups = m.Match(queued[:2], time.Millisecond)
	require.Len(t, groups, 1)
	assert.Equal(t, engine.SessionID(501), groups[0].SessionID)
}

func TestMatcher_CancelPayload(t *testing.T) {
	m := NewMatcher(0)
	payload := m.CancelPayload().(map[string]any)
	assert.Equal(t, false, payload["matched"])
}
