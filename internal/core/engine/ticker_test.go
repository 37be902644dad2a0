package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchgate/matchgate/internal/core/observability/log"
)

func TestTickDriver_StepTicksEverySessionOnce(t *testing.T) {
	registry := NewRegistry(time.Minute)
	cores := []*testCore{newTestCore(1), newTestCore(2), newTestCore(3)}
	for i, core := range cores {
		require.NoError(t, registry.AddSession(newSession(SessionID(i+1), core)))
	}

	var reaped []*Session
	driver := newTickDriver(10*time.Millisecond, 2, registry, func(s *Session) {
		reaped = append(reaped, s)
	}, log.NewNop())

	driver.step(25 * time.Millisecond)

	for _, core := range cores {
		require.Len(t, core.ticks, 1)
		assert.Equal(t, 25*time.Millisecond, core.ticks[0])
	}
	assert.Empty(t, reaped)
}

func TestTickDriver_StepReapsFinishedSessions(t *testing.T) {
	registry := NewRegistry(time.Minute)

	finished := newTestCore(1)
	finished.onTick = func(c *testCore, _ time.Duration) { c.done = true }
	running := newTestCore(2)

	doneSess := newSession(1, finished)
	require.NoError(t, registry.AddSession(doneSess))
	require.NoError(t, registry.AddSession(newSession(2, running)))

	var reaped []*Session
	driver := newTickDriver(10*time.Millisecond, 2, registry, func(s *Session) {
		reaped = append(reaped, s)
		registry.RemoveSession(s)
	}, log.NewNop())

	driver.step(10 * time.Millisecond)

	require.Len(t, reaped, 1)
	assert.Same(t, doneSess, reaped[0])
	assert.Equal(t, 1, registry.LiveCount())
}

func TestTickDriver_RunFiresAtThePeriod(t *testing.T) {
	registry := NewRegistry(time.Minute)
	core := newTestCore(1)
	require.NoError(t, registry.AddSession(newSession(1, core)))

	driver := newTickDriver(5*time.Millisecond, 1, registry, func(*Session) {}, log.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = driver.run(ctx)
		close(done)
	}()

	time.Sleep(40 * time.Millisecond)
	cancel()
	<-done

	ticked := len(core.ticks)
	assert.GreaterOrEqual(t, ticked, 2, "the driver keeps firing")
	for _, delta := range core.ticks {
		assert.GreaterOrEqual(t, delta, 5*time.Millisecond, "a tick never fires early")
	}
}
