package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/matchgate/matchgate/internal/core/observability/log"
	"github.com/matchgate/matchgate/internal/core/token"
)

var _ SessionCore = (*QueueEntry)(nil)

// QueueEntry is the matchmaker's built-in session core: one queued
// request to be matched. Its tick is a no-op; the matcher loop does
// the time-based work. A player update of {"cancel": true} withdraws
// the entry.
type QueueEntry struct {
	Outbox
	player    PlayerID
	payload   json.RawMessage
	cancelled bool
}

func newQueueEntry(player PlayerID, payload json.RawMessage) *QueueEntry {
	return &QueueEntry{player: player, payload: payload}
}

func (e *QueueEntry) Valid() bool {
	return true
}

func (e *QueueEntry) Players() []PlayerID {
	return []PlayerID{e.player}
}

func (e *QueueEntry) Connect(PlayerID) {}

func (e *QueueEntry) Disconnect(PlayerID) {}

func (e *QueueEntry) PlayerUpdate(_ PlayerID, msg json.RawMessage) {
	var update struct {
		Cancel bool `json:"cancel"`
	}
	if err := json.Unmarshal(msg, &update); err != nil {
		return
	}
	if update.Cancel {
		e.cancelled = true
	}
}

func (e *QueueEntry) Tick(time.Duration) {}

func (e *QueueEntry) Done() bool {
	return e.cancelled
}

func (e *QueueEntry) ResultFor(PlayerID) any {
	return nil
}

// MatchmakerServer specializes the session server: every session is a
// QueueEntry, and a second periodic loop partitions queued entries
// into new concrete sessions announced as freshly signed tokens.
//
// Entry state machine: Queued, then exactly one of Matched (session
// token, close "matched"), Cancelled (cancel token, close
// "matchmaking cancelled") or Abandoned (raw disconnect, entry
// removed).
type MatchmakerServer struct {
	*Server
	matcher Matcher
	logger  log.Log
}

// NewMatchmaker builds a matchmaker around the host matching policy.
func NewMatchmaker(cfg Config, codec token.Codec, matcher Matcher, logger log.Log) *MatchmakerServer {
	mm := &MatchmakerServer{
		matcher: matcher,
		logger:  logger.With(log.String("component", "matchmaker")),
	}

	mm.Server = NewServer(cfg, codec, func(player PlayerID, payload json.RawMessage) (SessionCore, error) {
		return newQueueEntry(player, payload), nil
	}, logger)

	// A queued entry with no connection has nobody left to match, and
	// one whose core turned done takes the cancel path instead of the
	// result-token path.
	mm.Server.abandonOnClose = true
	mm.Server.ticker.onDone = mm.cancelEntry
	mm.Server.extraLoops = append(mm.Server.extraLoops, mm.matchLoop)

	return mm
}

// matchLoop invokes the matcher at the configured period, with the
// same catch-up discipline as the tick driver.
func (mm *MatchmakerServer) matchLoop(ctx context.Context) error {
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		delta := time.Since(last)
		if delta < mm.cfg.MatchPeriod {
			time.Sleep(minDuration(time.Millisecond, mm.cfg.MatchPeriod-delta))
			continue
		}
		last = time.Now()

		mm.matchStep(delta)
	}
}

// matchStep snapshots the queue under lock, hands the matcher a
// read-only view, and turns each produced group into signed session
// tokens. The matcher never touches session state.
func (mm *MatchmakerServer) matchStep(delta time.Duration) {
	sessions := mm.registry.LiveSessions()
	if len(sessions) == 0 {
		return
	}

	queued := make([]QueuedEntry, 0, len(sessions))
	for _, sess := range sessions {
		entry, pending := entrySnapshot(sess)
		if pending {
			queued = append(queued, entry)
		}
	}
	if len(queued) == 0 {
		return
	}

	for _, group := range mm.matcher.Match(queued, delta) {
		mm.dispatchGroup(group)
	}
}

// dispatchGroup announces one new session: every participant receives
// a token naming the new session id, then its connection closes.
func (mm *MatchmakerServer) dispatchGroup(group MatchGroup) {
	for _, sid := range group.Participants {
		sess, ok := mm.registry.SessionByID(sid)
		if !ok {
			mm.logger.Warn("matched entry is no longer queued", log.Uint64("session_id", uint64(sid)))
			continue
		}

		tokens := mm.signFor(sess, group.SessionID, group.Payload)
		for _, e := range sess.connectedConns() {
			if signed, ok := tokens[e.player]; ok {
				if err := e.conn.Send([]byte(signed)); err != nil {
					mm.logger.Debug("failed to deliver session token",
						log.Uint64("player_id", uint64(e.player)), log.Error(err))
				}
			}
			_ = e.conn.CloseWithReason("matched")
			mm.registry.Unbind(e.conn.ID())
		}

		mm.registry.RemoveSession(sess)
		mm.counters.addEnded()
		mm.logger.Info("entry matched",
			log.Uint64("session_id", uint64(sid)),
			log.Uint64("new_session_id", uint64(group.SessionID)))
	}
}

// cancelEntry replaces the game-mode termination path: a withdrawn
// entry gets the matcher's cancel payload instead of a result token.
func (mm *MatchmakerServer) cancelEntry(sess *Session) {
	tokens := mm.signFor(sess, sess.ID(), mm.matcher.CancelPayload())
	for _, e := range sess.connectedConns() {
		if signed, ok := tokens[e.player]; ok {
			if err := e.conn.Send([]byte(signed)); err != nil {
				mm.logger.Debug("failed to deliver cancel token",
					log.Uint64("player_id", uint64(e.player)), log.Error(err))
			}
		}
		_ = e.conn.CloseWithReason("matchmaking cancelled")
		mm.registry.Unbind(e.conn.ID())
	}

	mm.registry.RemoveSession(sess)
	mm.logger.Info("entry cancelled", log.Uint64("session_id", uint64(sess.ID())))
}

// signFor mints one token per session player naming sid and carrying
// the payload as the data claim.
func (mm *MatchmakerServer) signFor(sess *Session, sid SessionID, payload any) map[PlayerID]string {
	tokens := make(map[PlayerID]string, len(sess.Players()))
	for _, pid := range sess.Players() {
		signed, err := mm.codec.Sign(token.Claims{
			token.ClaimPlayer:  uint64(pid),
			token.ClaimSession: uint64(sid),
			token.ClaimData:    payload,
		})
		if err != nil {
			mm.logger.Error("failed to sign session token",
				log.Uint64("player_id", uint64(pid)), log.Error(err))
			continue
		}
		tokens[pid] = signed
	}
	return tokens
}

// entrySnapshot copies the matcher-visible fields of a queued entry
// under the session mutex. The second return is false once the entry
// has been withdrawn.
func entrySnapshot(sess *Session) (QueuedEntry, bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	entry, ok := sess.core.(*QueueEntry)
	if !ok || entry.cancelled {
		return QueuedEntry{}, false
	}
	return QueuedEntry{
		SessionID: sess.id,
		Players:   sess.players,
		Payload:   entry.payload,
	}, true
}
