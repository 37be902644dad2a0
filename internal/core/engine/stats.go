package engine

import "sync/atomic"

// Stats is a point-in-time snapshot of the engine counters.
type Stats struct {
	QueuedActions       int
	LiveSessions        int
	ArchivedSessions    int
	ConnectionsAdmitted uint64
	ConnectionsDropped  uint64
	RedundantEvictions  uint64
	SessionsCreated     uint64
	SessionsEnded       uint64
}

// counters are the engine's atomic counters, folded into Stats
// snapshots together with queue and registry sizes.
type counters struct {
	admitted  uint64
	dropped   uint64
	evictions uint64
	created   uint64
	ended     uint64
}

func (c *counters) addAdmitted() { atomic.AddUint64(&c.admitted, 1) }
func (c *counters) addDropped()  { atomic.AddUint64(&c.dropped, 1) }
func (c *counters) addEviction() { atomic.AddUint64(&c.evictions, 1) }
func (c *counters) addCreated()  { atomic.AddUint64(&c.created, 1) }
func (c *counters) addEnded()    { atomic.AddUint64(&c.ended, 1) }

func (c *counters) snapshot() Stats {
	return Stats{
		ConnectionsAdmitted: atomic.LoadUint64(&c.admitted),
		ConnectionsDropped:  atomic.LoadUint64(&c.dropped),
		RedundantEvictions:  atomic.LoadUint64(&c.evictions),
		SessionsCreated:     atomic.LoadUint64(&c.created),
		SessionsEnded:       atomic.LoadUint64(&c.ended),
	}
}
