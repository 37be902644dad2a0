package engine

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/matchgate/matchgate/internal/core/transport"
)

// envelope is one resolved outbound send: the target connection was
// looked up while the session mutex was held, the write happens after
// it is released.
type envelope struct {
	player PlayerID
	conn   transport.Connection
	text   []byte
}

// Session owns one session core together with the connection state of
// its players. One mutex guards the core and the maps; every operation
// drains the core's outbound queue into a local buffer under the mutex
// and performs the transport writes without it.
type Session struct {
	id      SessionID
	core    SessionCore
	players []PlayerID

	mu        sync.Mutex
	conns     map[PlayerID]transport.Connection
	connected map[PlayerID]bool

	// sendFailed is invoked, outside the mutex, for a connection whose
	// send failed. The server enqueues a close for it.
	sendFailed func(conn transport.Connection)
}

func newSession(id SessionID, core SessionCore) *Session {
	return &Session{
		id:        id,
		core:      core,
		players:   core.Players(),
		conns:     make(map[PlayerID]transport.Connection),
		connected: make(map[PlayerID]bool),
	}
}

// ID returns the session id.
func (s *Session) ID() SessionID {
	return s.id
}

// Players returns the fixed participant set.
func (s *Session) Players() []PlayerID {
	return s.players
}

// HasPlayer reports whether the core permits the player.
func (s *Session) HasPlayer(id PlayerID) bool {
	for _, p := range s.players {
		if p == id {
			return true
		}
	}
	return false
}

// Connect binds a connection to the player and notifies the core once
// per connected stretch: a second connect from the same handle is a
// no-op for the core.
func (s *Session) Connect(id PlayerID, conn transport.Connection) {
	s.mu.Lock()
	s.conns[id] = conn
	if !s.connected[id] {
		s.connected[id] = true
		s.core.Connect(id)
	}
	envelopes := s.drainLocked()
	s.mu.Unlock()

	s.deliver(envelopes)
}

// Disconnect marks the player disconnected if connID still names its
// current connection. A stale close, evicted before a newer bind, is
// ignored.
func (s *Session) Disconnect(id PlayerID, connID string) {
	s.mu.Lock()
	conn, ok := s.conns[id]
	if !ok || conn.ID() != connID {
		s.mu.Unlock()
		return
	}
	delete(s.conns, id)
	s.connected[id] = false
	s.core.Disconnect(id)
	envelopes := s.drainLocked()
	s.mu.Unlock()

	s.deliver(envelopes)
}

// PlayerUpdate forwards one inbound message to the core. Payloads that
// are not valid JSON are rejected before the core sees them.
func (s *Session) PlayerUpdate(id PlayerID, text []byte) error {
	if !json.Valid(text) {
		return ErrBadUpdate
	}

	s.mu.Lock()
	s.core.PlayerUpdate(id, json.RawMessage(text))
	envelopes := s.drainLocked()
	s.mu.Unlock()

	s.deliver(envelopes)
	return nil
}

// Tick advances the core by delta and reports whether the session is
// done. Called only by the tick driver.
func (s *Session) Tick(delta time.Duration) bool {
	s.mu.Lock()
	s.core.Tick(delta)
	done := s.core.Done()
	envelopes := s.drainLocked()
	s.mu.Unlock()

	s.deliver(envelopes)
	return done
}

// ConnectionOf returns the player's current connection, if any.
func (s *Session) ConnectionOf(id PlayerID) (transport.Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	return conn, ok
}

// IsConnected reports whether the player currently has a live
// connection.
func (s *Session) IsConnected(id PlayerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected[id]
}

// connectedConns returns the connections of all currently connected
// players.
func (s *Session) connectedConns() []envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]envelope, 0, len(s.conns))
	for id, conn := range s.conns {
		if s.connected[id] {
			out = append(out, envelope{player: id, conn: conn})
		}
	}
	return out
}

// resultClaims snapshots the core's per-player result payloads.
func (s *Session) resultClaims() map[PlayerID]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make(map[PlayerID]any, len(s.players))
	for _, id := range s.players {
		results[id] = s.core.ResultFor(id)
	}
	return results
}

// Core exposes the session core. Callers must not mutate it.
func (s *Session) Core() SessionCore {
	return s.core
}

// drainLocked moves the core's outbound queue into envelopes, resolving
// broadcast targets against currently connected players. Caller holds
// the mutex.
func (s *Session) drainLocked() []envelope {
	var envelopes []envelope
	for s.core.HasMessage() {
		msg := s.core.PeekMessage()
		s.core.PopMessage()

		if msg.Broadcast {
			for id, conn := range s.conns {
				if s.connected[id] {
					envelopes = append(envelopes, envelope{player: id, conn: conn, text: msg.Text})
				}
			}
			continue
		}
		if conn, ok := s.conns[msg.To]; ok && s.connected[msg.To] {
			envelopes = append(envelopes, envelope{player: msg.To, conn: conn, text: msg.Text})
		}
	}
	return envelopes
}

// deliver writes drained envelopes without the mutex. A failed send
// marks the player disconnected and hands the connection to the
// sendFailed hook; the session itself continues.
func (s *Session) deliver(envelopes []envelope) {
	for _, e := range envelopes {
		if err := e.conn.Send(e.text); err == nil {
			continue
		}
		s.mu.Lock()
		if conn, ok := s.conns[e.player]; ok && conn.ID() == e.conn.ID() {
			s.connected[e.player] = false
		}
		s.mu.Unlock()
		if s.sendFailed != nil {
			s.sendFailed(e.conn)
		}
	}
}
