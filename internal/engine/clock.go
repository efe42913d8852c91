package engine

import (
	"time"

	"github.com/runnerr0/refyn/internal/sched"
)

// guardedClock hands out timers whose callbacks run under the engine lock
// and are skipped once the engine is closed. AfterFunc must be called with
// the engine lock held.
type guardedClock struct {
	e *Engine
}

type guardedTimer struct {
	e     *Engine
	inner sched.Timer
}

func (g guardedClock) Now() time.Time {
	return g.e.clock.Now()
}

func (g guardedClock) AfterFunc(d time.Duration, f func()) sched.Timer {
	e := g.e
	t := &guardedTimer{e: e}
	t.inner = e.clock.AfterFunc(d, func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		delete(e.timers, t)
		if e.closed {
			return
		}
		f()
	})
	e.timers[t] = struct{}{}
	return t
}

// Stop must be called with the engine lock held.
func (t *guardedTimer) Stop() bool {
	delete(t.e.timers, t)
	return t.inner.Stop()
}
