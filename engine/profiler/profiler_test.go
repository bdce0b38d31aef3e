package profiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTickReportsAfterInterval(t *testing.T) {
	p := NewProfiler(time.Second)
	clock := p.lastTime
	p.now = func() time.Time { return clock }

	clock = clock.Add(300 * time.Millisecond)
	assert.False(t, p.Tick(10*time.Millisecond))
	clock = clock.Add(300 * time.Millisecond)
	assert.False(t, p.Tick(0))
	clock = clock.Add(400 * time.Millisecond)
	assert.True(t, p.Tick(30*time.Millisecond))

	s := p.Last()
	assert.Equal(t, 3, s.Frames)
	assert.Equal(t, 2, s.Rendered)
	assert.InDelta(t, 3.0, s.FPS, 1e-9)
	assert.Equal(t, 20*time.Millisecond, s.RenderAvg)
	assert.Equal(t, 30*time.Millisecond, s.RenderMax)

	clock = clock.Add(100 * time.Millisecond)
	assert.False(t, p.Tick(0), "counters restart after a report")
}

func TestNewProfilerDefaultsInterval(t *testing.T) {
	assert.Equal(t, time.Second, NewProfiler(0).updateInterval)
}
