package tictactoe

import (
	"encoding/json"
	"time"

	"github.com/matchgate/matchgate/internal/core/engine"
)

const initialClock = 100 * time.Second

var _ engine.SessionCore = (*Game)(nil)

// Game is a two-player tic-tac-toe session with chess clocks. The
// first player in the match payload plays X and moves first; running
// out of clock loses.
type Game struct {
	engine.Outbox

	valid   bool
	started bool
	over    bool

	players      []engine.PlayerID
	connected    map[engine.PlayerID]bool
	hasConnected map[engine.PlayerID]bool

	board  Board
	xMove  bool
	state  int // clock-loss verdict folded into the final state
	xClock time.Duration
	oClock time.Duration

	elapsed time.Duration
	moves   [][2]int
}

// matchPayload is the data claim written by the matchmaker.
type matchPayload struct {
	Matched bool     `json:"matched"`
	Players []uint64 `json:"players"`
}

// New is the engine.Factory for tic-tac-toe sessions. The payload must
// be a match announcement naming exactly two players.
func New(_ engine.PlayerID, payload json.RawMessage) (engine.SessionCore, error) {
	var data matchPayload
	valid := json.Unmarshal(payload, &data) == nil &&
		data.Matched && len(data.Players) == 2

	game := &Game{
		valid:        valid,
		xMove:        true,
		xClock:       initialClock,
		oClock:       initialClock,
		connected:    make(map[engine.PlayerID]bool),
		hasConnected: make(map[engine.PlayerID]bool),
	}
	for _, id := range data.Players {
		game.players = append(game.players, engine.PlayerID(id))
	}
	return game, nil
}

func (g *Game) Valid() bool {
	return g.valid
}

func (g *Game) Players() []engine.PlayerID {
	return g.players
}

func (g *Game) Connect(id engine.PlayerID) {
	g.connected[id] = true
	g.hasConnected[id] = true
	if g.started {
		g.PushTo(id, g.gameState(id))
	}
}

func (g *Game) Disconnect(id engine.PlayerID) {
	g.connected[id] = false
}

func (g *Game) PlayerUpdate(id engine.PlayerID, msg json.RawMessage) {
	var update struct {
		Move [2]int `json:"move"`
	}
	if err := json.Unmarshal(msg, &update); err != nil {
		return
	}
	if !g.started || g.Done() {
		return
	}

	if id != g.mover() {
		return
	}

	placed := false
	if g.xMove {
		placed = g.board.AddX(update.Move[0], update.Move[1])
	} else {
		placed = g.board.AddO(update.Move[0], update.Move[1])
	}
	if !placed {
		return
	}

	g.xMove = !g.xMove
	g.moves = append(g.moves, update.Move)
	g.broadcastState()
}

func (g *Game) Tick(delta time.Duration) {
	if !g.started {
		// Wait for both players before the clocks start.
		if g.valid && len(g.hasConnected) == 2 {
			g.started = true
			g.broadcastState()
		}
		return
	}
	if g.over {
		return
	}

	if g.xMove {
		g.xClock -= delta
	} else {
		g.oClock -= delta
	}

	if g.xClock <= 0 {
		g.xClock = 0
		g.state = oVal
		g.over = true
	} else if g.oClock <= 0 {
		g.oClock = 0
		g.state = xVal
		g.over = true
	}

	g.elapsed += delta
	if g.elapsed >= time.Second {
		g.elapsed = 0
		for _, id := range g.players {
			g.PushTo(id, g.timeState(id))
		}
	}

	if g.Done() {
		g.broadcastState()
	}
}

func (g *Game) Done() bool {
	return g.board.Done() || g.over
}

// ResultFor is the claim body of the player's result token.
func (g *Game) ResultFor(id engine.PlayerID) any {
	verdict := g.board.State() + g.state
	if id != g.players[0] {
		verdict = -verdict
	}
	return map[string]any{
		"type":    "result",
		"board":   g.board.Cells(),
		"moves":   g.movesList(),
		"verdict": verdict,
	}
}

func (g *Game) mover() engine.PlayerID {
	if g.xMove {
		return g.players[0]
	}
	return g.players[1]
}

func (g *Game) clocks(id engine.PlayerID) (own, opponent time.Duration) {
	if id == g.players[0] {
		return g.xClock, g.oClock
	}
	return g.oClock, g.xClock
}

func (g *Game) broadcastState() {
	for _, id := range g.players {
		g.PushTo(id, g.gameState(id))
	}
}

func (g *Game) gameState(id engine.PlayerID) []byte {
	own, opponent := g.clocks(id)
	yourTurn := g.mover() == id

	text, _ := json.Marshal(map[string]any{
		"type":          "game",
		"board":         g.board.Cells(),
		"time":          own.Milliseconds(),
		"opponent_time": opponent.Milliseconds(),
		"xmove":         g.xMove,
		"state":         g.board.State() + g.state,
		"done":          g.Done(),
		"your_turn":     yourTurn,
	})
	return text
}

func (g *Game) timeState(id engine.PlayerID) []byte {
	own, opponent := g.clocks(id)
	text, _ := json.Marshal(map[string]any{
		"type":          "time",
		"time":          own.Milliseconds(),
		"opponent_time": opponent.Milliseconds(),
	})
	return text
}

func (g *Game) movesList() [][2]int {
	out := make([][2]int, len(g.moves))
	copy(out, g.moves)
	return out
}
