package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestManual_FiresInDeadlineOrder(t *testing.T) {
	m := NewManual(epoch)
	var fired []string

	m.AfterFunc(300*time.Millisecond, func() { fired = append(fired, "c") })
	m.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "a") })
	m.AfterFunc(200*time.Millisecond, func() { fired = append(fired, "b") })

	m.Advance(250 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 1, m.Pending())

	m.Advance(50 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, epoch.Add(300*time.Millisecond), m.Now())
}

func TestManual_StopPreventsFiring(t *testing.T) {
	m := NewManual(epoch)
	fired := false

	timer := m.AfterFunc(time.Second, func() { fired = true })
	require.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports already stopped")

	m.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.Zero(t, m.Pending())
}

func TestManual_CallbackSchedulesWithinWindow(t *testing.T) {
	m := NewManual(epoch)
	var at []time.Time

	m.AfterFunc(100*time.Millisecond, func() {
		at = append(at, m.Now())
		m.AfterFunc(100*time.Millisecond, func() { at = append(at, m.Now()) })
	})

	m.Advance(time.Second)
	require.Len(t, at, 2)
	assert.Equal(t, epoch.Add(100*time.Millisecond), at[0])
	assert.Equal(t, epoch.Add(200*time.Millisecond), at[1])
}

func TestReal_AfterFuncFires(t *testing.T) {
	done := make(chan struct{})
	Real{}.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}
