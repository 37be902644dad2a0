package engine

import (
	"context"
	"time"

	"github.com/matchgate/matchgate/internal/core/observability/log"
	"github.com/matchgate/matchgate/pkg/concurrent"
)

// tickDriver advances every live session at a fixed period. Sessions
// hold independent mutexes, so the traversal dispatches them to a
// bounded worker pool. Finished sessions are handed to onDone for
// result-token emission and archival.
type tickDriver struct {
	period   time.Duration
	workers  int
	registry *Registry
	onDone   func(*Session)
	logger   log.Log
}

func newTickDriver(period time.Duration, workers int, registry *Registry, onDone func(*Session), logger log.Log) *tickDriver {
	return &tickDriver{
		period:   period,
		workers:  workers,
		registry: registry,
		onDone:   onDone,
		logger:   logger.With(log.String("component", "tick_driver")),
	}
}

// run loops until the context is cancelled. Each wake measures the
// elapsed delta; short wakes sleep at most min(1ms, period-delta) so a
// tick never fires early by more than scheduler jitter.
func (d *tickDriver) run(ctx context.Context) error {
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		delta := time.Since(last)
		if delta < d.period {
			time.Sleep(minDuration(time.Millisecond, d.period-delta))
			continue
		}
		last = time.Now()

		d.step(delta)
	}
}

// step ticks every live session once with the given delta.
func (d *tickDriver) step(delta time.Duration) {
	sessions := d.registry.LiveSessions()
	if len(sessions) == 0 {
		return
	}

	concurrent.Throttle(sessions, d.workers, func(s *Session) {
		if s.Tick(delta) {
			d.onDone(s)
		}
	})
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
