// Package engine runs the interactive volume viewer: it owns the window, the presenter and
// the renderer, maps input to render state changes and re-renders only when the state
// changed.
package engine

import (
	"fmt"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/Carmen-Shannon/oxy-volume/engine/profiler"
	rs "github.com/Carmen-Shannon/oxy-volume/engine/render_state"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend/webgpu"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-volume/engine/session"
	"github.com/Carmen-Shannon/oxy-volume/engine/window"
)

// viewer implements the Viewer interface.
// Coordinates the window message loop, the presenter and the shader watcher.
type viewer struct {
	// mu guards the render state, which input callbacks mutate while frames read it.
	mu sync.Mutex

	wg          sync.WaitGroup
	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once

	window    window.Window
	renderer  renderer.Renderer
	presenter webgpu.Presenter
	watcher   shader.Watcher

	profiler         *profiler.Profiler
	profilingEnabled bool

	dirty            atomic.Bool
	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped
	lastFrame        time.Time

	sessionPath string

	// drag state, only touched on the window thread
	dragging bool
	button   window.MouseButton
	lastX    int32
	lastY    int32
}

// Viewer shows a volume in a window and lets the user rotate, slice, zoom and toggle
// render options with the keyboard and mouse.
//
// Keys: arrows rotate (shift+left/right rolls), PageUp/PageDown move the slice plane
// (shift for steps of ten), = and - zoom, A B F L M P S T toggle options, C locks or
// unlocks the crop plane, K cycles kernels, R resets the view, X saves the session and
// Esc quits. Left drag rotates, right drag pans and the scroll wheel zooms.
type Viewer interface {
	// Window returns the underlying window.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// Renderer returns the renderer driving the view.
	//
	// Returns:
	//   - renderer.Renderer: the renderer
	Renderer() renderer.Renderer

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	// Pass 0 to uncap rendering.
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// Update runs fn on the render state under the viewer's lock and schedules a frame.
	//
	// Parameters:
	//   - fn: the mutation
	Update(fn func(s *rs.RenderState))

	// Invalidate schedules a frame without changing the state.
	Invalidate()

	// Run shows the viewer and processes window messages. It blocks until the window
	// closes or Quit is called, and must be called on the thread that created the window.
	Run()

	// Quit signals the viewer to close its window and stop.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()
}

var _ Viewer = &viewer{}

// NewViewer creates a Viewer presenting the frames of r in w. The backend must have been
// created with w's surface descriptor.
//
// Parameters:
//   - w: the window
//   - b: the WebGPU backend owning the window surface
//   - r: the renderer
//   - options: functional options for viewer configuration
//
// Returns:
//   - Viewer: the viewer
//   - error: an error if the presenter cannot be created
func NewViewer(w window.Window, b webgpu.Backend, r renderer.Renderer, options ...ViewerBuilderOption) (Viewer, error) {
	p, err := b.NewPresenter(w.Width(), w.Height())
	if err != nil {
		return nil, fmt.Errorf("viewer: %w", err)
	}

	v := &viewer{
		quitChannel: make(chan struct{}),
		window:      w,
		renderer:    r,
		presenter:   p,
		profiler:    profiler.NewProfiler(time.Second),
	}
	for _, opt := range options {
		opt(v)
	}

	bg := r.State().Background
	p.SetClearColor(color.RGBA{
		R: uint8(common.Clamp(bg[0], 0, 1) * 255),
		G: uint8(common.Clamp(bg[1], 0, 1) * 255),
		B: uint8(common.Clamp(bg[2], 0, 1) * 255),
		A: 255,
	})

	w.SetResizeCallback(func(width, height int) {
		v.presenter.Configure(width, height)
		v.Invalidate()
	})
	w.SetInputCallback(v.onInput)
	w.SetUpdateCallback(v.frame)

	v.dirty.Store(true)
	return v, nil
}

func (v *viewer) Window() window.Window {
	return v.window
}

func (v *viewer) Renderer() renderer.Renderer {
	return v.renderer
}

func (v *viewer) Run() {
	v.handle()
	v.window.ProcessMessages()
	v.signalQuit()
	v.wg.Wait()
	v.presenter.Release()
}

// Quit signals all viewer goroutines to stop and closes the window.
func (v *viewer) Quit() {
	v.signalQuit()
}

// signalQuit closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (v *viewer) signalQuit() {
	v.quitOnce.Do(func() {
		close(v.quitChannel)
	})
}

// handle launches the watcher and quit goroutines.
// Each goroutine is tracked by the viewer's WaitGroup.
func (v *viewer) handle() {
	if v.watcher != nil {
		v.wg.Add(1)
		go v.handleWatcher()
	}
	v.wg.Add(1)
	go v.handleQuit()
}

// handleWatcher schedules a frame after every kernel recompilation. The renderer picks
// up the new program generation on its own.
func (v *viewer) handleWatcher() {
	defer v.wg.Done()
	results := v.watcher.Results()
	for {
		select {
		case <-v.quitChannel:
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			if res.Err != nil {
				common.Logger().Warn("viewer: kernel recompilation failed, using the default kernel", "error", res.Err)
			} else {
				common.Logger().Info("viewer: kernels recompiled", "generation", res.Generation, "kernels", res.Kernels)
			}
			v.Invalidate()
		}
	}
}

// handleQuit blocks until the quit channel is closed, then stops the watcher.
func (v *viewer) handleQuit() {
	defer v.wg.Done()
	<-v.quitChannel
	if v.watcher != nil {
		if err := v.watcher.Close(); err != nil {
			common.Logger().Warn("viewer: closing shader watcher", "error", err)
		}
	}
}

// frame runs once per message loop iteration on the window thread. It renders and
// presents when the state changed since the last frame.
func (v *viewer) frame() {
	select {
	case <-v.quitChannel:
		if err := v.window.Close(); err != nil {
			common.Logger().Warn("viewer: closing window", "error", err)
		}
		return
	default:
	}

	var rendered time.Duration
	if v.renderFrameLimit == 0 || time.Since(v.lastFrame) >= v.renderFrameLimit {
		if v.dirty.Swap(false) {
			v.lastFrame = time.Now()
			v.renderFrame()
			rendered = time.Since(v.lastFrame)
		}
	}

	if v.profilingEnabled && v.profiler != nil {
		v.profiler.Tick(rendered)
	}
}

// renderFrame renders one frame and presents it. A frame that could not be presented is
// scheduled again.
func (v *viewer) renderFrame() {
	v.mu.Lock()
	img, err := v.renderer.Render(0, true)
	title := v.titleLocked()
	v.mu.Unlock()

	if err != nil {
		common.Logger().Error("viewer: render failed", "error", err)
		return
	}
	v.window.SetTitle(title)
	if img == nil {
		return
	}
	if err := v.presenter.Present(img); err != nil {
		common.Logger().Warn("viewer: present failed", "error", err)
		v.dirty.Store(true)
	}
}

func (v *viewer) titleLocked() string {
	s := v.renderer.State()
	label := "no data"
	if vol := v.renderer.Volume(); vol != nil {
		label = vol.Label()
	}
	kernel := common.Coalesce(v.renderer.ActiveKernel(), s.Kernel)
	return fmt.Sprintf("%s | %s | slice %d/%d | %.0f%%", label, kernel, s.Slice(), s.SliceMax(), s.Scale*100)
}

func (v *viewer) Update(fn func(s *rs.RenderState)) {
	v.mu.Lock()
	fn(v.renderer.State())
	v.mu.Unlock()
	v.Invalidate()
}

func (v *viewer) Invalidate() {
	v.dirty.Store(true)
}

// onInput handles one window event on the window thread.
func (v *viewer) onInput(e window.Event) {
	switch e.Kind {
	case window.EventKeyDown:
		v.onKey(e.Key, e.Shift)
	case window.EventScroll:
		if e.Scroll != 0 {
			v.Update(func(s *rs.RenderState) { zoom(s, e.Scroll) })
		}
	case window.EventMouseDown:
		v.dragging = true
		v.button = e.Button
		v.lastX, v.lastY = e.X, e.Y
	case window.EventMouseUp:
		if e.Button == v.button {
			v.dragging = false
		}
	case window.EventMouseMove:
		v.onDrag(e.X, e.Y)
	}
}

func (v *viewer) onKey(key uint32, shift bool) {
	v.mu.Lock()
	act := applyKey(v.renderer.State(), v.renderer.Registry().Kernels(), key, shift)
	v.mu.Unlock()

	switch act {
	case actionRender:
		v.Invalidate()
	case actionSaveSession:
		v.saveSession()
	case actionQuit:
		v.Quit()
	}
}

func (v *viewer) onDrag(x, y int32) {
	if !v.dragging {
		return
	}
	dx, dy := float32(x-v.lastX), float32(y-v.lastY)
	v.lastX, v.lastY = x, y

	v.mu.Lock()
	changed := drag(v.renderer.State(), v.button, dx, dy, min(v.window.Width(), v.window.Height()))
	v.mu.Unlock()
	if changed {
		v.Invalidate()
	}
}

func (v *viewer) saveSession() {
	if v.sessionPath == "" {
		common.Logger().Warn("viewer: no session path configured")
		return
	}
	v.mu.Lock()
	snap := session.Capture(v.renderer)
	v.mu.Unlock()
	if err := session.Save(v.sessionPath, snap); err != nil {
		common.Logger().Error("viewer: saving session", "path", v.sessionPath, "error", err)
		return
	}
	common.Logger().Info("viewer: session saved", "path", v.sessionPath)
}

// EnableProfiler enables performance profiling output to the log.
func (v *viewer) EnableProfiler() {
	v.profilingEnabled = true
}

// DisableProfiler disables performance profiling output.
func (v *viewer) DisableProfiler() {
	v.profilingEnabled = false
}

// SetRenderFrameLimit sets an optional render frame rate cap.
// Pass 0 to uncap rendering.
func (v *viewer) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		v.renderFrameLimit = 0
		return
	}
	v.renderFrameLimit = time.Duration(float64(time.Second) / fps)
}
