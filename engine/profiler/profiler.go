// Package profiler reports frame rate, render latency and memory statistics through the
// engine logger.
package profiler

import (
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-volume/common"
)

// Stats is one reporting interval's summary.
type Stats struct {
	FPS float64

	// Frames counts Tick calls in the interval; Rendered counts the ones that ran a kernel.
	Frames   int
	Rendered int

	// RenderAvg and RenderMax summarize the render durations passed to Tick.
	RenderAvg time.Duration
	RenderMax time.Duration

	HeapMB      float64
	AllocRateMB float64
	GCCount     uint32
	LastPauseUs uint64
	MaxPauseUs  uint64
	SysMB       float64
}

// Profiler tracks frame rate, render latency and memory statistics for performance monitoring.
// Outputs stats to the logger at a configurable interval.
type Profiler struct {
	frameCount     int
	renderCount    int
	renderTotal    time.Duration
	renderMax      time.Duration
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
	last           Stats

	now func() time.Time
}

// NewProfiler creates a new Profiler reporting every interval. Intervals <= 0 default to
// one second.
//
// Parameters:
//   - interval: the reporting interval
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(interval time.Duration) *Profiler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Profiler{
		lastTime:       time.Now(),
		updateInterval: interval,
		now:            time.Now,
	}
}

// Tick should be called once per loop iteration. render is the time spent in
// Renderer.Render, zero when the iteration did not render.
//
// Parameters:
//   - render: the render duration of this iteration
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick(render time.Duration) bool {
	p.frameCount++
	if render > 0 {
		p.renderCount++
		p.renderTotal += render
		p.renderMax = max(p.renderMax, render)
	}

	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	s := Stats{
		FPS:       float64(p.frameCount) / elapsed.Seconds(),
		Frames:    p.frameCount,
		Rendered:  p.renderCount,
		RenderMax: p.renderMax,
	}
	if p.renderCount > 0 {
		s.RenderAvg = p.renderTotal / time.Duration(p.renderCount)
	}

	runtime.ReadMemStats(&p.memStats)
	s.HeapMB = float64(p.memStats.Alloc) / 1024 / 1024
	s.SysMB = float64(p.memStats.Sys) / 1024 / 1024
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	s.AllocRateMB = float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	// PauseNs is a circular buffer of the last 256 GC pauses
	s.GCCount = p.memStats.NumGC
	if s.GCCount > 0 {
		s.LastPauseUs = p.memStats.PauseNs[(s.GCCount-1)%256] / 1000
		startIdx := p.lastGCCount
		if s.GCCount-startIdx > 256 {
			startIdx = s.GCCount - 256
		}
		for i := startIdx; i < s.GCCount; i++ {
			s.MaxPauseUs = max(s.MaxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	common.Logger().Info("profiler",
		"fps", s.FPS,
		"rendered", s.Rendered,
		"render_avg", s.RenderAvg,
		"render_max", s.RenderMax,
		"heap_mb", s.HeapMB,
		"alloc_mb_s", s.AllocRateMB,
		"gc", s.GCCount,
		"gc_last_us", s.LastPauseUs,
		"gc_max_us", s.MaxPauseUs,
		"sys_mb", s.SysMB)

	p.last = s
	p.frameCount = 0
	p.renderCount = 0
	p.renderTotal = 0
	p.renderMax = 0
	p.lastTime = currentTime
	p.lastGCCount = s.GCCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}

// Last returns the stats of the most recent report.
func (p *Profiler) Last() Stats {
	return p.last
}
