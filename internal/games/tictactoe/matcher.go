package tictactoe

import (
	"time"

	"github.com/matchgate/matchgate/internal/core/engine"
)

var _ engine.Matcher = (*Matcher)(nil)

// Matcher pairs queued players in arrival order. Each pair becomes a
// fresh game session; an odd entry stays queued.
type Matcher struct {
	nextSession uint64
}

// NewMatcher creates a matcher issuing new session ids from start.
func NewMatcher(start uint64) *Matcher {
	return &Matcher{nextSession: start}
}

func (m *Matcher) Match(queued []engine.QueuedEntry, _ time.Duration) []engine.MatchGroup {
	var groups []engine.MatchGroup
	for i := 0; i+1 < len(queued); i += 2 {
		first, second := queued[i], queued[i+1]

		players := make([]uint64, 0, len(first.Players)+len(second.Players))
		for _, id := range first.Players {
			players = append(players, uint64(id))
		}
		for _, id := range second.Players {
			players = append(players, uint64(id))
		}

		sid := m.nextSession
		m.nextSession++

		groups = append(groups, engine.MatchGroup{
			Participants: []engine.SessionID{first.SessionID, second.SessionID},
			SessionID:    engine.SessionID(sid),
			Payload: map[string]any{
				"matched": true,
				"players": players,
			},
		})
	}
	return groups
}

func (m *Matcher) CancelPayload() any {
	return map[string]any{"matched": false}
}
