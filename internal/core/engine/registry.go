package engine

import (
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	gocache "github.com/patrickmn/go-cache"

	"github.com/matchgate/matchgate/internal/core/transport"
)

const bindingShardCount = 16 // power of two

// binding ties an authenticated connection to its player and session.
type binding struct {
	player  PlayerID
	session SessionID
	conn    transport.Connection
}

type bindingShard struct {
	mu       sync.RWMutex
	bindings map[string]binding
}

// Registry is the engine's index: connection → (player, session) in a
// sharded map, player → session, live sessions by id, and the archive
// of ended sessions' result tokens.
//
// Lock order: binding shard < players < sessions. No transport call is
// made under any registry lock.
type Registry struct {
	shards [bindingShardCount]bindingShard

	playersMu sync.RWMutex
	players   map[PlayerID]*Session

	sessionsMu sync.RWMutex
	sessions   map[SessionID]*Session

	archive *gocache.Cache
}

// NewRegistry creates a registry whose archive retains ended sessions
// for the given window.
func NewRegistry(retention time.Duration) *Registry {
	r := &Registry{
		players:  make(map[PlayerID]*Session),
		sessions: make(map[SessionID]*Session),
		archive:  gocache.New(retention, retention/2+time.Second),
	}
	for i := range r.shards {
		r.shards[i].bindings = make(map[string]binding)
	}
	return r
}

func (r *Registry) shardFor(connID string) *bindingShard {
	return &r.shards[xxhash.Sum64String(connID)&(bindingShardCount-1)]
}

// Bind records the authenticated identity of a connection.
func (r *Registry) Bind(conn transport.Connection, player PlayerID, session SessionID) {
	shard := r.shardFor(conn.ID())
	shard.mu.Lock()
	shard.bindings[conn.ID()] = binding{player: player, session: session, conn: conn}
	shard.mu.Unlock()
}

// Binding looks up a connection's identity.
func (r *Registry) Binding(connID string) (binding, bool) {
	shard := r.shardFor(connID)
	shard.mu.RLock()
	b, ok := shard.bindings[connID]
	shard.mu.RUnlock()
	return b, ok
}

// Unbind removes and returns a connection's identity.
func (r *Registry) Unbind(connID string) (binding, bool) {
	shard := r.shardFor(connID)
	shard.mu.Lock()
	b, ok := shard.bindings[connID]
	if ok {
		delete(shard.bindings, connID)
	}
	shard.mu.Unlock()
	return b, ok
}

// AddSession registers a live session under every permitted player.
// It fails with ErrPlayerBusy if any player already has a live session,
// preserving the one-live-session-per-player invariant.
func (r *Registry) AddSession(s *Session) error {
	r.playersMu.Lock()
	defer r.playersMu.Unlock()

	for _, id := range s.Players() {
		if _, exists := r.players[id]; exists {
			return ErrPlayerBusy
		}
	}
	for _, id := range s.Players() {
		r.players[id] = s
	}

	r.sessionsMu.Lock()
	r.sessions[s.ID()] = s
	r.sessionsMu.Unlock()

	return nil
}

// RemoveSession withdraws a session from the live indexes. Entries
// claimed by a different session (the player re-registered) are left
// alone.
func (r *Registry) RemoveSession(s *Session) {
	r.playersMu.Lock()
	for _, id := range s.Players() {
		if r.players[id] == s {
			delete(r.players, id)
		}
	}
	r.playersMu.Unlock()

	r.sessionsMu.Lock()
	delete(r.sessions, s.ID())
	r.sessionsMu.Unlock()
}

// SessionByPlayer returns the live session holding the player.
func (r *Registry) SessionByPlayer(id PlayerID) (*Session, bool) {
	r.playersMu.RLock()
	s, ok := r.players[id]
	r.playersMu.RUnlock()
	return s, ok
}

// SessionByID returns the live session with the given id.
func (r *Registry) SessionByID(id SessionID) (*Session, bool) {
	r.sessionsMu.RLock()
	s, ok := r.sessions[id]
	r.sessionsMu.RUnlock()
	return s, ok
}

// LiveSessions snapshots the live session set.
func (r *Registry) LiveSessions() []*Session {
	r.sessionsMu.RLock()
	defer r.sessionsMu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// LiveCount reports the number of live sessions.
func (r *Registry) LiveCount() int {
	r.sessionsMu.RLock()
	defer r.sessionsMu.RUnlock()
	return len(r.sessions)
}

// ArchiveSession stores the result tokens of an ended session for the
// retention window.
func (r *Registry) ArchiveSession(id SessionID, tokens map[PlayerID]string) {
	r.archive.SetDefault(archiveKey(id), tokens)
}

// Archived fetches the per-player result tokens of an ended session.
// The archive never resurrects a live session.
func (r *Registry) Archived(id SessionID) (map[PlayerID]string, bool) {
	value, ok := r.archive.Get(archiveKey(id))
	if !ok {
		return nil, false
	}
	return value.(map[PlayerID]string), true
}

// ArchivedCount reports the number of archived sessions not yet swept.
func (r *Registry) ArchivedCount() int {
	return r.archive.ItemCount()
}

func archiveKey(id SessionID) string {
	return strconv.FormatUint(uint64(id), 10)
}
