package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchgate/matchgate/internal/core/observability/log"
	"github.com/matchgate/matchgate/internal/core/token"
)

// pairMatcher groups the first two queued entries under a fixed new
// session id.
type pairMatcher struct {
	newSession SessionID
}

func (m *pairMatcher) Match(queued []QueuedEntry, _ time.Duration) []MatchGroup {
	if len(queued) < 2 {
		return nil
	}
	return []MatchGroup{{
		Participants: []SessionID{queued[0].SessionID, queued[1].SessionID},
		SessionID:    m.newSession,
		Payload:      map[string]any{"matched": true},
	}}
}

func (m *pairMatcher) CancelPayload() any {
	return map[string]any{"matched": false}
}

func newTestMatchmaker(t *testing.T) (*MatchmakerServer, token.Codec) {
	t.Helper()
	codec := testCodec(t)
	cfg := Config{
		TickPeriod:       10 * time.Millisecond,
		MatchPeriod:      10 * time.Millisecond,
		ArchiveRetention: time.Minute,
		MessageWorkers:   1,
		TickWorkers:      1,
	}
	return NewMatchmaker(cfg, codec, &pairMatcher{newSession: 500}, log.NewNop()), codec
}

func queueToken(t *testing.T, codec token.Codec, pid, sid uint64) []byte {
	t.Helper()
	signed, err := codec.Sign(token.Claims{
		token.ClaimPlayer:  pid,
		token.ClaimSession: sid,
		token.ClaimData:    map[string]any{"elo": 1500},
	})
	require.NoError(t, err)
	return []byte(signed)
}

// Scenario: three queued clients, the matcher pairs two, the third
// stays queued.
func TestMatchmaker_MatchAnnouncesNewSession(t *testing.T) {
	mm, codec := newTestMatchmaker(t)

	conns := map[uint64]*fakeConn{}
	for pid, sid := range map[uint64]uint64{1: 100, 2: 101, 3: 102} {
		conn := newFakeConn(fmt.Sprintf("c%d", sid))
		conns[pid] = conn
		mm.handleMessage(conn, queueToken(t, codec, pid, sid))
	}
	require.Equal(t, 3, mm.registry.LiveCount())

	mm.matchStep(10 * time.Millisecond)

	matched := 0
	var leftover *fakeConn
	for _, conn := range conns {
		if conn.IsClosed() {
			matched++
			assert.Equal(t, "matched", conn.reason())

			sent := conn.sentTexts()
			require.Len(t, sent, 1)
			claims, err := codec.Verify(sent[0])
			require.NoError(t, err)
			assert.Equal(t, float64(500), claims[token.ClaimSession])
			data := claims[token.ClaimData].(map[string]any)
			assert.Equal(t, true, data["matched"])
		} else {
			leftover = conn
		}
	}
	assert.Equal(t, 2, matched)
	require.NotNil(t, leftover, "one client stays queued")
	assert.Empty(t, leftover.sentTexts())

	assert.Equal(t, 1, mm.registry.LiveCount())
	_, bound := mm.registry.Binding(leftover.ID())
	assert.True(t, bound)
}

// A queued player withdraws; the next tick emits the cancel token.
func TestMatchmaker_CancelledEntryGetsCancelToken(t *testing.T) {
	mm, codec := newTestMatchmaker(t)

	conn := newFakeConn("c100")
	mm.handleMessage(conn, queueToken(t, codec, 1, 100))
	mm.handleMessage(conn, []byte(`{"cancel":true}`))

	mm.ticker.step(10 * time.Millisecond)

	sent := conn.sentTexts()
	require.Len(t, sent, 1)
	claims, err := codec.Verify(sent[0])
	require.NoError(t, err)
	assert.Equal(t, float64(100), claims[token.ClaimSession])
	data := claims[token.ClaimData].(map[string]any)
	assert.Equal(t, false, data["matched"])

	assert.True(t, conn.IsClosed())
	assert.Equal(t, "matchmaking cancelled", conn.reason())
	assert.Equal(t, 0, mm.registry.LiveCount())
}

// A cancelled entry is invisible to the matcher even before it is
// reaped.
func TestMatchmaker_CancelledEntryIsNotMatched(t *testing.T) {
	mm, codec := newTestMatchmaker(t)

	c1 := newFakeConn("c100")
	c2 := newFakeConn("c101")
	mm.handleMessage(c1, queueToken(t, codec, 1, 100))
	mm.handleMessage(c2, queueToken(t, codec, 2, 101))
	mm.handleMessage(c1, []byte(`{"cancel":true}`))

	mm.matchStep(10 * time.Millisecond)

	assert.False(t, c2.IsClosed(), "a lone live entry stays queued")
	assert.Empty(t, c2.sentTexts())
}

// Raw disconnect abandons the entry: no token, no residue.
func TestMatchmaker_DisconnectAbandonsEntry(t *testing.T) {
	mm, codec := newTestMatchmaker(t)

	conn := newFakeConn("c100")
	mm.handleMessage(conn, queueToken(t, codec, 1, 100))
	require.Equal(t, 1, mm.registry.LiveCount())

	mm.handleClose(conn)

	assert.Equal(t, 0, mm.registry.LiveCount())
	_, bound := mm.registry.Binding("c100")
	assert.False(t, bound)
	assert.Empty(t, conn.sentTexts())
}
