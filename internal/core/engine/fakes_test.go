package engine

import (
	"encoding/json"
	"net"
	"sync"
	"time"
)

// fakeConn is an in-memory transport.Connection recording every send
// and close.
type fakeConn struct {
	id string

	mu          sync.Mutex
	sent        [][]byte
	closed      bool
	closeReason string
	failSends   bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string {
	return c.id
}

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func (c *fakeConn) Send(text []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSends || c.closed {
		return errSendFailedTest
	}
	buf := make([]byte, len(text))
	copy(buf, text)
	c.sent = append(c.sent, buf)
	return nil
}

func (c *fakeConn) CloseWithReason(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.closeReason = reason
	}
	return nil
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, b := range c.sent {
		out[i] = string(b)
	}
	return out
}

func (c *fakeConn) reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

type testError string

func (e testError) Error() string { return string(e) }

const errSendFailedTest = testError("fake send failure")

// testCore is a scripted SessionCore for engine tests.
type testCore struct {
	Outbox

	players []PlayerID
	valid   bool
	done    bool

	connects    map[PlayerID]int
	disconnects map[PlayerID]int
	updates     []json.RawMessage
	ticks       []time.Duration

	onTick   func(c *testCore, delta time.Duration)
	onUpdate func(c *testCore, id PlayerID, msg json.RawMessage)
}

func newTestCore(players ...PlayerID) *testCore {
	return &testCore{
		players:     players,
		valid:       true,
		connects:    make(map[PlayerID]int),
		disconnects: make(map[PlayerID]int),
	}
}

func (c *testCore) Valid() bool         { return c.valid }
func (c *testCore) Players() []PlayerID { return c.players }

func (c *testCore) Connect(id PlayerID) {
	c.connects[id]++
}

func (c *testCore) Disconnect(id PlayerID) {
	c.disconnects[id]++
}

func (c *testCore) PlayerUpdate(id PlayerID, msg json.RawMessage) {
	c.updates = append(c.updates, msg)
	if c.onUpdate != nil {
		c.onUpdate(c, id, msg)
	}
}

func (c *testCore) Tick(delta time.Duration) {
	c.ticks = append(c.ticks, delta)
	if c.onTick != nil {
		c.onTick(c, delta)
	}
}

func (c *testCore) Done() bool {
	return c.done
}

func (c *testCore) ResultFor(id PlayerID) any {
	return map[string]any{"player": uint64(id), "outcome": "finished"}
}

// factoryFor returns an engine.Factory that hands out prepared cores
// keyed by session id, mirroring how a host builds games from match
// payloads.
func factoryFor(cores map[string]*testCore) Factory {
	return func(_ PlayerID, payload json.RawMessage) (SessionCore, error) {
		var data struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, err
		}
		core, ok := cores[data.Key]
		if !ok {
			return nil, ErrBadPayload
		}
		return core, nil
	}
}
