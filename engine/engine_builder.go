package engine

import (
	"time"

	"github.com/Carmen-Shannon/oxy-volume/engine/profiler"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/shader"
)

// ViewerBuilderOption is a functional option for configuring a Viewer.
// Use the With* functions to create options that are applied directly to the viewer instance.
type ViewerBuilderOption func(*viewer)

// WithProfiling enables or disables performance profiling output.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - ViewerBuilderOption: option function to apply
func WithProfiling(enabled bool) ViewerBuilderOption {
	return func(v *viewer) {
		v.profilingEnabled = enabled
	}
}

// WithProfilerInterval sets how often profiling stats are logged.
func WithProfilerInterval(d time.Duration) ViewerBuilderOption {
	return func(v *viewer) {
		v.profiler = profiler.NewProfiler(d)
	}
}

// WithRenderFrameLimit sets an optional render frame rate cap in frames per second.
// Pass 0 to uncap rendering (default).
//
// Parameters:
//   - fps: maximum render frames per second (0 = uncapped)
//
// Returns:
//   - ViewerBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) ViewerBuilderOption {
	return func(v *viewer) {
		v.SetRenderFrameLimit(fps)
	}
}

// WithShaderWatcher hands a running shader watcher to the viewer. Every recompilation
// schedules a frame; the viewer closes the watcher when it stops.
//
// Parameters:
//   - w: the watcher
//
// Returns:
//   - ViewerBuilderOption: option function to apply
func WithShaderWatcher(w shader.Watcher) ViewerBuilderOption {
	return func(v *viewer) {
		v.watcher = w
	}
}

// WithSessionPath sets the file the X key saves the session to.
func WithSessionPath(path string) ViewerBuilderOption {
	return func(v *viewer) {
		v.sessionPath = path
	}
}
