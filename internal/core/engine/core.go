package engine

import (
	"encoding/json"
	"time"

	"github.com/matchgate/matchgate/pkg/sequence"
)

// PlayerID identifies a human or account across connections.
type PlayerID uint64

// SessionID identifies a logical session: one game, one matchmaking
// slot, one party. A session is the unit of isolation.
type SessionID uint64

// Outbound is one message produced by a session core, addressed either
// to a single player or to every connected participant.
type Outbound struct {
	Broadcast bool
	To        PlayerID
	Text      []byte
}

// SessionCore is the host-supplied state machine driven by the engine.
// The engine serializes every call on the owning session's mutex; cores
// never need their own locking.
//
// A core is constructed by a Factory from the data claim of a verified
// connect token. Players must be stable for the core's lifetime. Once
// Done reports true it must stay true, and ResultFor must be ready for
// every player.
type SessionCore interface {
	Valid() bool
	Players() []PlayerID

	Connect(id PlayerID)
	Disconnect(id PlayerID)
	PlayerUpdate(id PlayerID, msg json.RawMessage)
	Tick(delta time.Duration)

	HasMessage() bool
	PeekMessage() Outbound
	PopMessage()

	Done() bool
	ResultFor(id PlayerID) any
}

// Factory builds a session core from the requesting player and the
// data claim of a verified connect token. Returning an error or a core
// whose Valid reports false rejects the admission.
type Factory func(player PlayerID, payload json.RawMessage) (SessionCore, error)

// Outbox is a ready-made outbound queue for session cores. Embed it to
// satisfy the message half of SessionCore.
type Outbox struct {
	queue sequence.Queue[Outbound]
}

// PushTo queues a message for one player.
func (o *Outbox) PushTo(id PlayerID, text []byte) {
	o.queue.Enqueue(Outbound{To: id, Text: text})
}

// PushBroadcast queues a message for every connected participant.
func (o *Outbox) PushBroadcast(text []byte) {
	o.queue.Enqueue(Outbound{Broadcast: true, Text: text})
}

func (o *Outbox) HasMessage() bool {
	return !o.queue.IsEmpty()
}

func (o *Outbox) PeekMessage() Outbound {
	msg, _ := o.queue.Peek()
	return msg
}

func (o *Outbox) PopMessage() {
	o.queue.Dequeue()
}

// QueuedEntry is the matcher's read-only view of one matchmaking
// session waiting to be grouped.
type QueuedEntry struct {
	SessionID SessionID
	Players   []PlayerID
	Payload   json.RawMessage
}

// MatchGroup is one concrete session produced by a matching policy:
// the queued sessions it consumed, the id of the new session, and the
// payload written into each participant's session token.
type MatchGroup struct {
	Participants []SessionID
	SessionID    SessionID
	Payload      any
}

// Matcher is the host-supplied matching policy. Match partitions a
// snapshot of queued entries into zero or more new sessions; entries
// left out stay queued. CancelPayload is the data claim of the token
// sent to players whose entry was cancelled.
type Matcher interface {
	Match(queued []QueuedEntry, delta time.Duration) []MatchGroup
	CancelPayload() any
}
