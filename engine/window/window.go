// Package window opens the viewer window and turns its input into Events.
package window

import (
	"fmt"
	"runtime"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
)

// MouseButton identifies a mouse button in press and release events.
type MouseButton int

const (
	MouseButtonLeft MouseButton = iota
	MouseButtonRight
	MouseButtonMiddle
)

// EventKind classifies an input Event.
type EventKind int

const (
	EventKeyDown EventKind = iota
	EventKeyUp
	EventMouseDown
	EventMouseUp
	EventMouseMove
	EventScroll
)

// Event is one keyboard or mouse event. Fields that do not apply to the kind are zero.
type Event struct {
	Kind EventKind

	// Key is the key code of key events, see the common.Key* constants. Held keys repeat
	// as EventKeyDown.
	Key uint32

	// Button is the button of press and release events.
	Button MouseButton

	// X and Y are the cursor position in framebuffer pixels.
	X, Y int32

	// Scroll is the vertical wheel delta, positive away from the user.
	Scroll float32

	// Shift reports whether a shift key was held.
	Shift bool
}

// Window is a resizable window with a WebGPU-compatible surface. All methods must be
// called on the thread that created the window.
type Window interface {
	// SetUpdateCallback sets the function called once per message loop iteration, after
	// the pending events were delivered.
	//
	// Parameters:
	//   - callback: function to call (or nil to disable)
	SetUpdateCallback(callback func())

	// SetResizeCallback sets the function called when the framebuffer size changes.
	//
	// Parameters:
	//   - callback: function receiving the new width and height in pixels
	SetResizeCallback(callback func(width, height int))

	// SetInputCallback sets the function receiving keyboard and mouse events.
	//
	// Parameters:
	//   - callback: function receiving each event
	SetInputCallback(callback func(Event))

	// SurfaceDescriptor returns a wgpu.SurfaceDescriptor for creating a WebGPU surface on
	// this window, built by the wgpuglfw bridge for the current platform.
	//
	// Returns:
	//   - *wgpu.SurfaceDescriptor: the descriptor, or nil if the window was destroyed
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// SetTitle replaces the title bar text.
	SetTitle(title string)

	// IsRunning reports whether the window is open and no close was requested.
	IsRunning() bool

	// Close asks the message loop to stop. The window is destroyed when ProcessMessages
	// returns.
	//
	// Returns:
	//   - error: an error if the window was already destroyed
	Close() error

	// ProcessMessages runs the message loop until the window is closed, then destroys it.
	// Between iterations it sleeps until an event arrives or the event wait passes.
	ProcessMessages()

	// Width returns the framebuffer width in pixels.
	Width() int

	// Height returns the framebuffer height in pixels.
	Height() int
}

// engineWindow is the implementation of the Window interface.
type engineWindow struct {
	title string

	// size limits applied while the user resizes
	minWidth, minHeight int
	maxWidth, maxHeight int

	// framebuffer size in pixels
	width, height int

	// eventWait is the longest time one loop iteration blocks waiting for events.
	eventWait time.Duration

	// internalWindow holds the platform-specific window data (glfwWindow).
	internalWindow any

	onUpdate func()
	onResize func(width, height int)
	onInput  func(Event)
}

var _ Window = &engineWindow{}

// NewWindow creates and shows a window. The calling goroutine is locked to its OS thread.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the configured window
//   - error: an error if the platform window cannot be created
func NewWindow(options ...WindowBuilderOption) (Window, error) {
	w := &engineWindow{
		title:     "oxy-volume",
		minWidth:  256,
		minHeight: 256,
		maxWidth:  4096,
		maxHeight: 4096,
		width:     800,
		height:    800,
		eventWait: 16 * time.Millisecond,
	}
	for _, opt := range options {
		opt(w)
	}
	w.width = min(max(w.width, w.minWidth), w.maxWidth)
	w.height = min(max(w.height, w.minHeight), w.maxHeight)

	runtime.LockOSThread()
	if err := newPlatformWindow(w); err != nil {
		return nil, fmt.Errorf("failed to create platform window: %w", err)
	}
	return w, nil
}

func (w *engineWindow) SetUpdateCallback(callback func()) {
	w.onUpdate = callback
}

func (w *engineWindow) SetResizeCallback(callback func(width, height int)) {
	w.onResize = callback
}

func (w *engineWindow) SetInputCallback(callback func(Event)) {
	w.onInput = callback
}

// emit delivers e to the input callback.
func (w *engineWindow) emit(e Event) {
	if w.onInput != nil {
		w.onInput(e)
	}
}

// resized records a new framebuffer size and notifies the resize callback. Minimized
// windows report 0x0, which is ignored.
func (w *engineWindow) resized(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	w.width, w.height = width, height
	if w.onResize != nil {
		w.onResize(width, height)
	}
}

func (w *engineWindow) SetTitle(title string) {
	w.title = title
	platformSetTitle(w, title)
}

func (w *engineWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	return platformSurfaceDescriptor(w)
}

func (w *engineWindow) IsRunning() bool {
	return platformIsRunning(w)
}

func (w *engineWindow) Close() error {
	return platformRequestClose(w)
}

func (w *engineWindow) ProcessMessages() {
	defer platformDestroy(w)
	for platformWaitEvents(w) {
		if w.onUpdate != nil {
			w.onUpdate()
		}
	}
}

func (w *engineWindow) Width() int {
	return w.width
}

func (w *engineWindow) Height() int {
	return w.height
}
