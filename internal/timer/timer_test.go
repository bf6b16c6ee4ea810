package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

func TestZeroValueIsIdle(t *testing.T) {
	var tm Timer
	assert.Equal(t, idle, tm.state)
	assert.False(t, tm.Running())
	assert.Equal(t, time.Duration(0), tm.Elapsed(at(100)))
}

func TestStartPauseResume(t *testing.T) {
	tm := Timer{}.Start(at(0))
	assert.True(t, tm.Running())
	assert.Equal(t, 30*time.Second, tm.Elapsed(at(30)))

	tm = tm.Pause(at(10))
	assert.Equal(t, paused, tm.state)
	assert.False(t, tm.Running())
	assert.Equal(t, 10*time.Second, tm.Elapsed(at(500)), "paused timer must hold its value")

	tm = tm.Start(at(20))
	assert.Equal(t, 15*time.Second, tm.Elapsed(at(25)))
}

func TestStartWhileRunningKeepsOriginalStart(t *testing.T) {
	tm := Timer{}.Start(at(0)).Start(at(50))
	assert.Equal(t, 60*time.Second, tm.Elapsed(at(60)))
}

func TestPauseWhenNotRunningIsNoop(t *testing.T) {
	tm := Timer{}.Pause(at(5))
	assert.Equal(t, idle, tm.state)

	tm = Timer{}.Start(at(0)).Pause(at(5)).Pause(at(10))
	assert.Equal(t, 5*time.Second, tm.Elapsed(at(10)))
}

func TestClockGoingBackwardsCountsZero(t *testing.T) {
	tm := Timer{}.Start(at(10))
	assert.Equal(t, time.Duration(0), tm.Elapsed(at(5)))
}

func TestSeconds(t *testing.T) {
	tm := Timer{}.Start(t0)
	assert.InDelta(t, 2.5, tm.Seconds(t0.Add(2500*time.Millisecond)), 1e-9)
}

func TestCountsWholeMilliseconds(t *testing.T) {
	start := t0.Add(100 * time.Microsecond)

	tm := Timer{}.Start(start)
	assert.Equal(t, time.Duration(0), tm.Elapsed(t0.Add(900*time.Microsecond)), "same millisecond")
	assert.Equal(t, time.Millisecond, tm.Elapsed(t0.Add(1100*time.Microsecond)), "next millisecond")
	assert.Equal(t, 2*time.Second, tm.Elapsed(start.Add(2*time.Second+300*time.Microsecond)))

	tm = tm.Pause(t0.Add(900 * time.Microsecond))
	assert.Zero(t, tm.Seconds(at(60)))
}
