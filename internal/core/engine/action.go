package engine

import (
	"sync"

	"github.com/matchgate/matchgate/internal/core/transport"
	"github.com/matchgate/matchgate/pkg/generic"
	"github.com/matchgate/matchgate/pkg/sequence"
)

// ActionKind discriminates connection events flowing from the
// transport into the worker pool.
type ActionKind uint8

const (
	ActionOpen ActionKind = iota
	ActionClose
	ActionMessage
)

func (k ActionKind) String() string {
	switch k {
	case ActionOpen:
		return "open"
	case ActionClose:
		return "close"
	case ActionMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Action is one connection event. Text is set for ActionMessage only.
type Action struct {
	Kind ActionKind
	Conn transport.Connection
	Text []byte
}

var actionPool = generic.NewPool(func() *Action { return &Action{} })

// ActionQueue is the FIFO between transport upcalls and the message
// workers. Each transport read loop is the single producer for its
// connection, so per-connection order is preserved end to end.
type ActionQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  sequence.Queue[*Action]
	closed bool
}

func NewActionQueue() *ActionQueue {
	q := &ActionQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues one event. It never blocks. Events pushed after Close
// are dropped.
func (q *ActionQueue) Push(kind ActionKind, conn transport.Connection, text []byte) {
	action := actionPool.Get()
	action.Kind = kind
	action.Conn = conn
	action.Text = text

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		actionPool.Put(action)
		return
	}
	q.queue.Enqueue(action)
	q.mu.Unlock()

	q.cond.Signal()
}

// Pop blocks until an event is available or the queue is closed. The
// second return is false once the queue is closed and drained.
func (q *ActionQueue) Pop() (*Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.queue.IsEmpty() && !q.closed {
		q.cond.Wait()
	}

	action, ok := q.queue.Dequeue()
	return action, ok
}

// Release returns a processed action to the pool.
func (q *ActionQueue) Release(action *Action) {
	action.Conn = nil
	action.Text = nil
	actionPool.Put(action)
}

// Len reports the number of queued events.
func (q *ActionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.Len()
}

// Close wakes every blocked consumer. Queued events are still drained.
func (q *ActionQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
