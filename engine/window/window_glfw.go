package window

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

var errWindowDestroyed = errors.New("window destroyed")

// glfwWindow holds the GLFW-specific window state.
type glfwWindow struct {
	window *glfw.Window
}

// glfwButtons maps the GLFW buttons the viewer handles.
var glfwButtons = map[glfw.MouseButton]MouseButton{
	glfw.MouseButtonLeft:   MouseButtonLeft,
	glfw.MouseButtonRight:  MouseButtonRight,
	glfw.MouseButtonMiddle: MouseButtonMiddle,
}

// newPlatformWindow creates the GLFW window and wires its callbacks to w.
//
// GLFW reference: https://www.glfw.org/docs/latest/window_guide.html
// go-gl/glfw: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw
func newPlatformWindow(w *engineWindow) error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("failed to initialize GLFW: %w", err)
	}

	// The surface is driven by WebGPU, no GL context.
	// Reference: https://www.glfw.org/docs/latest/window_guide.html#window_hints_ctx
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)

	win, err := glfw.CreateWindow(w.width, w.height, w.title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return fmt.Errorf("failed to create GLFW window: %w", err)
	}
	win.SetSizeLimits(w.minWidth, w.minHeight, w.maxWidth, w.maxHeight)
	w.internalWindow = &glfwWindow{window: win}

	// cursor positions are reported in screen coordinates; scale them to framebuffer pixels
	toPixels := func(x, y float64) (int32, int32) {
		ww, wh := win.GetSize()
		if ww == 0 || wh == 0 {
			return int32(x), int32(y)
		}
		return int32(x * float64(w.width) / float64(ww)), int32(y * float64(w.height) / float64(wh))
	}

	win.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, mods glfw.ModifierKey) {
		e := Event{Key: uint32(key), Shift: mods&glfw.ModShift != 0}
		switch action {
		case glfw.Press, glfw.Repeat:
			e.Kind = EventKeyDown
		case glfw.Release:
			e.Kind = EventKeyUp
		default:
			return
		}
		w.emit(e)
	})

	win.SetScrollCallback(func(_ *glfw.Window, _, yoff float64) {
		w.emit(Event{Kind: EventScroll, Scroll: float32(yoff)})
	})

	win.SetMouseButtonCallback(func(_ *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
		b, ok := glfwButtons[button]
		if !ok {
			return
		}
		e := Event{Kind: EventMouseDown, Button: b, Shift: mods&glfw.ModShift != 0}
		if action == glfw.Release {
			e.Kind = EventMouseUp
		}
		e.X, e.Y = toPixels(win.GetCursorPos())
		w.emit(e)
	})

	win.SetCursorPosCallback(func(_ *glfw.Window, xpos, ypos float64) {
		x, y := toPixels(xpos, ypos)
		w.emit(Event{Kind: EventMouseMove, X: x, Y: y})
	})

	// Framebuffer size differs from the window size on high-DPI displays; the surface
	// needs pixels.
	// Reference: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw#Window.SetFramebufferSizeCallback
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		w.resized(width, height)
	})
	w.width, w.height = win.GetFramebufferSize()
	return nil
}

func platformWindow(w *engineWindow) *glfw.Window {
	if gw, ok := w.internalWindow.(*glfwWindow); ok {
		return gw.window
	}
	return nil
}

// platformSurfaceDescriptor uses the wgpuglfw bridge, which covers Windows, X11, Wayland
// and macOS.
//
// Reference: https://pkg.go.dev/github.com/cogentcore/webgpu/wgpuglfw#GetSurfaceDescriptor
func platformSurfaceDescriptor(w *engineWindow) *wgpu.SurfaceDescriptor {
	win := platformWindow(w)
	if win == nil {
		return nil
	}
	return wgpuglfw.GetSurfaceDescriptor(win)
}

func platformIsRunning(w *engineWindow) bool {
	win := platformWindow(w)
	return win != nil && !win.ShouldClose()
}

func platformRequestClose(w *engineWindow) error {
	win := platformWindow(w)
	if win == nil {
		return errWindowDestroyed
	}
	win.SetShouldClose(true)
	return nil
}

// platformWaitEvents processes pending events, waiting up to eventWait for one to
// arrive, and reports whether the loop should continue.
//
// Reference: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw#WaitEventsTimeout
func platformWaitEvents(w *engineWindow) bool {
	if !platformIsRunning(w) {
		return false
	}
	if w.eventWait > 0 {
		glfw.WaitEventsTimeout(w.eventWait.Seconds())
	} else {
		glfw.PollEvents()
	}
	return platformIsRunning(w)
}

// platformDestroy destroys the GLFW window and terminates the library. Later calls are
// no-ops.
func platformDestroy(w *engineWindow) {
	win := platformWindow(w)
	if win == nil {
		return
	}
	win.Destroy()
	glfw.Terminate()
	w.internalWindow = nil
}

func platformSetTitle(w *engineWindow, title string) {
	if win := platformWindow(w); win != nil {
		win.SetTitle(title)
	}
}
