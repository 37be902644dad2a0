package engine

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/matchgate/matchgate/internal/core/observability/log"
	"github.com/matchgate/matchgate/internal/core/token"
	"github.com/matchgate/matchgate/internal/core/transport"
)

var _ transport.Handler = (*Server)(nil)

// Server is the session server engine. It authenticates connections
// with signed connect tokens, multiplexes them into sessions built by
// the host factory, drives every session on a fixed tick, and ends
// sessions by issuing a signed result token to each participant.
//
// The server itself is the transport handler: upcalls are queued as
// actions and drained by the message workers.
type Server struct {
	cfg      Config
	codec    token.Codec
	factory  Factory
	registry *Registry
	actions  *ActionQueue
	ticker   *tickDriver
	logger   log.Log
	counters counters

	// abandonOnClose removes a session outright when any of its bound
	// players disconnects. Matchmaker mode sets it: a queued entry
	// without a connection has nobody left to match.
	abandonOnClose bool

	// extraLoops are additional periodic loops joined with the worker
	// pool. The matchmaker registers its matcher loop here.
	extraLoops []func(ctx context.Context) error

	running int32
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewServer builds a session server for the host factory. Nothing runs
// until Start.
func NewServer(cfg Config, codec token.Codec, factory Factory, logger log.Log) *Server {
	cfg = cfg.withDefaults()

	s := &Server{
		cfg:      cfg,
		codec:    codec,
		factory:  factory,
		registry: NewRegistry(cfg.ArchiveRetention),
		actions:  NewActionQueue(),
		logger:   logger.With(log.String("component", "session_server")),
	}
	s.ticker = newTickDriver(cfg.TickPeriod, cfg.TickWorkers, s.registry, s.terminate, logger)
	return s
}

// Start launches the message workers and the tick driver.
func (s *Server) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.MessageWorkers; i++ {
		group.Go(func() error {
			s.workerLoop()
			return nil
		})
	}
	group.Go(func() error {
		return s.ticker.run(ctx)
	})
	for _, loop := range s.extraLoops {
		loop := loop
		group.Go(func() error {
			return loop(ctx)
		})
	}
	s.group = group

	s.logger.Info("session server started",
		log.Int("message_workers", s.cfg.MessageWorkers),
		log.Int("tick_workers", s.cfg.TickWorkers),
		log.Duration("tick_period", s.cfg.TickPeriod))
	return nil
}

// Stop drains the action queue and joins the workers. In-flight
// sessions are abandoned without result tokens.
func (s *Server) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrNotRunning
	}

	s.actions.Close()
	s.cancel()
	err := s.group.Wait()

	s.logger.Info("session server stopped")
	return err
}

// IsRunning reports whether Start has been called and Stop has not.
func (s *Server) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

// Stats snapshots the engine counters.
func (s *Server) Stats() Stats {
	stats := s.counters.snapshot()
	stats.QueuedActions = s.actions.Len()
	stats.LiveSessions = s.registry.LiveCount()
	stats.ArchivedSessions = s.registry.ArchivedCount()
	return stats
}

// Registry exposes the session registry. Hosts should not use it.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Transport upcalls. Each connection's read loop is the single
// producer of its events, so queue order preserves per-connection
// order.

func (s *Server) HandleOpen(conn transport.Connection) {
	s.actions.Push(ActionOpen, conn, nil)
}

func (s *Server) HandleMessage(conn transport.Connection, text []byte) {
	s.actions.Push(ActionMessage, conn, text)
}

func (s *Server) HandleClose(conn transport.Connection) {
	s.actions.Push(ActionClose, conn, nil)
}

// workerLoop drains the action queue until it is closed and empty.
func (s *Server) workerLoop() {
	for {
		action, ok := s.actions.Pop()
		if !ok {
			return
		}
		s.process(action)
		s.actions.Release(action)
	}
}

func (s *Server) process(action *Action) {
	switch action.Kind {
	case ActionOpen:
		// Connections own no engine state until their first message.
		s.logger.Debug("connection opened", log.String("connection_id", action.Conn.ID()))
	case ActionClose:
		s.handleClose(action.Conn)
	case ActionMessage:
		s.handleMessage(action.Conn, action.Text)
	}
}

// handleMessage routes a frame: bound connections go to their session,
// everything else is treated as a connect token.
func (s *Server) handleMessage(conn transport.Connection, text []byte) {
	b, ok := s.registry.Binding(conn.ID())
	if !ok {
		s.admit(conn, text)
		return
	}

	sess, ok := s.registry.SessionByID(b.session)
	if !ok {
		s.logger.Error("message from bound player without a session",
			log.Uint64("player_id", uint64(b.player)),
			log.Uint64("session_id", uint64(b.session)))
		s.registry.Unbind(conn.ID())
		return
	}

	if err := sess.PlayerUpdate(b.player, text); err != nil {
		s.logger.Debug("player update was not valid json",
			log.Uint64("player_id", uint64(b.player)))
	}
}

// admit treats the first message of an unauthenticated connection as a
// connect token. Every failure is local: the message is dropped, the
// connection stays open for a retry.
func (s *Server) admit(conn transport.Connection, text []byte) {
	claims, err := s.codec.Verify(string(text))
	if err != nil {
		s.counters.addDropped()
		s.logger.Debug("connection provided a token that could not be verified", log.Error(err))
		return
	}

	player, ok := uintClaim(claims[token.ClaimPlayer])
	if !ok {
		s.counters.addDropped()
		s.logger.Debug("connect token is missing the player claim")
		return
	}
	session, ok := uintClaim(claims[token.ClaimSession])
	if !ok {
		s.counters.addDropped()
		s.logger.Debug("connect token is missing the session claim")
		return
	}
	pid, sid := PlayerID(player), SessionID(session)

	payload, err := json.Marshal(claims[token.ClaimData])
	if err != nil {
		s.counters.addDropped()
		s.logger.Debug("connect token carries an unserializable data claim", log.Error(err))
		return
	}

	logger := s.logger.With(
		log.Uint64("player_id", uint64(pid)),
		log.Uint64("session_id", uint64(sid)))

	core, err := s.factory(pid, payload)
	if err != nil || core == nil || !core.Valid() {
		s.counters.addDropped()
		logger.Debug("connection provided an invalid session payload")
		return
	}

	// Existing live session: reconnect, with redundant-connection
	// eviction if the player is already connected elsewhere.
	if sess, ok := s.registry.SessionByID(sid); ok {
		if !sess.HasPlayer(pid) {
			s.counters.addDropped()
			logger.Debug("player is not permitted in session")
			return
		}
		s.rebind(sess, pid, conn, logger)
		return
	}

	// Ended session: a late reconnect still gets its result token.
	if tokens, ok := s.registry.Archived(sid); ok {
		result, ok := tokens[pid]
		if !ok {
			s.counters.addDropped()
			logger.Debug("player is not part of archived session")
			return
		}
		if err := conn.Send([]byte(result)); err != nil {
			logger.Debug("failed to deliver archived result", log.Error(err))
		}
		_ = conn.CloseWithReason("session ended")
		logger.Debug("delivered archived result")
		return
	}

	// Fresh session.
	if !corePermits(core, pid) {
		s.counters.addDropped()
		logger.Debug("player is not in the payload's player list")
		return
	}

	sess := newSession(sid, core)
	sess.sendFailed = s.onSendFailed

	if err := s.registry.AddSession(sess); err != nil {
		s.counters.addDropped()
		logger.Debug("session admission rejected", log.Error(err))
		return
	}

	s.registry.Bind(conn, pid, sid)
	sess.Connect(pid, conn)
	s.counters.addAdmitted()
	s.counters.addCreated()
	logger.Info("session created", log.Int("players", len(sess.Players())))
}

// rebind attaches a connection to a live session, evicting any
// previous connection of the same player first so that at no instant
// two connections are bound to one player.
func (s *Server) rebind(sess *Session, pid PlayerID, conn transport.Connection, logger log.Log) {
	if old, ok := sess.ConnectionOf(pid); ok && sess.IsConnected(pid) {
		s.registry.Unbind(old.ID())
		_ = old.CloseWithReason("player connected again")
		s.counters.addEviction()
		logger.Debug("terminating redundant connection")
	}

	s.registry.Bind(conn, pid, sess.ID())
	sess.Connect(pid, conn)
	s.counters.addAdmitted()
	logger.Debug("player connected")
}

// handleClose tears down a bound connection's player state. Unbound
// connections leave nothing behind.
func (s *Server) handleClose(conn transport.Connection) {
	b, ok := s.registry.Unbind(conn.ID())
	if !ok {
		s.logger.Debug("connection closed without identity", log.String("connection_id", conn.ID()))
		return
	}

	sess, ok := s.registry.SessionByID(b.session)
	if !ok {
		return
	}

	sess.Disconnect(b.player, conn.ID())
	s.logger.Debug("player disconnected",
		log.Uint64("player_id", uint64(b.player)),
		log.Uint64("session_id", uint64(b.session)))

	if s.abandonOnClose {
		s.registry.RemoveSession(sess)
		s.logger.Debug("entry abandoned", log.Uint64("session_id", uint64(b.session)))
	}
}

// onSendFailed is the session hook for write failures: the participant
// is already marked disconnected, the engine enqueues the close.
func (s *Server) onSendFailed(conn transport.Connection) {
	_ = conn.CloseWithReason("send failed")
	s.actions.Push(ActionClose, conn, nil)
}

// terminate mints result tokens for a finished session, delivers them
// to still-connected participants, archives them for late reconnects,
// and withdraws the session from the live registry. The archive write
// happens before the withdrawal so no reconnect window is ever blind.
func (s *Server) terminate(sess *Session) {
	results := sess.resultClaims()
	tokens := make(map[PlayerID]string, len(results))
	for pid, data := range results {
		signed, err := s.codec.Sign(token.Claims{
			token.ClaimPlayer:  uint64(pid),
			token.ClaimSession: uint64(sess.ID()),
			token.ClaimData:    data,
		})
		if err != nil {
			s.logger.Error("failed to sign result token",
				log.Uint64("player_id", uint64(pid)), log.Error(err))
			continue
		}
		tokens[pid] = signed
	}

	s.registry.ArchiveSession(sess.ID(), tokens)

	for _, e := range sess.connectedConns() {
		if signed, ok := tokens[e.player]; ok {
			if err := e.conn.Send([]byte(signed)); err != nil {
				s.logger.Debug("failed to deliver result token",
					log.Uint64("player_id", uint64(e.player)), log.Error(err))
			}
		}
		_ = e.conn.CloseWithReason("game ended")
		s.registry.Unbind(e.conn.ID())
	}

	s.registry.RemoveSession(sess)
	s.counters.addEnded()
	s.logger.Info("session ended", log.Uint64("session_id", uint64(sess.ID())))
}

func corePermits(core SessionCore, id PlayerID) bool {
	for _, p := range core.Players() {
		if p == id {
			return true
		}
	}
	return false
}

// uintClaim reads an unsigned integer claim that may arrive as a JSON
// number or a decimal string.
func uintClaim(v any) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n != math.Trunc(n) {
			return 0, false
		}
		return uint64(n), true
	case string:
		u, err := strconv.ParseUint(n, 10, 64)
		return u, err == nil
	default:
		return 0, false
	}
}
