package common

// Virtual key codes used by the viewer. These values match GLFW key codes which use ASCII values for printable keys.
// Reference: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw#Key
const (
	KeyA = 65 // A key (ASCII), adaptive step
	KeyB = 66 // B key (ASCII), bounding box
	KeyC = 67 // C key (ASCII), crop lock
	KeyF = 70 // F key (ASCII), flip
	KeyK = 75 // K key (ASCII), next kernel
	KeyL = 76 // L key (ASCII), linear sampling
	KeyM = 77 // M key (ASCII), MPR
	KeyP = 80 // P key (ASCII), plane mode
	KeyR = 82 // R key (ASCII), reset orientation
	KeyS = 83 // S key (ASCII), shading
	KeyT = 84 // T key (ASCII), crop toggle
	KeyX = 88 // X key (ASCII), save session

	KeyEqual = 61 // = key (ASCII), zoom in
	KeyMinus = 45 // - key (ASCII), zoom out

	KeyEsc      = 256 // Escape key (GLFW)
	KeyRight    = 262 // Right arrow (GLFW)
	KeyLeft     = 263 // Left arrow (GLFW)
	KeyDown     = 264 // Down arrow (GLFW)
	KeyUp       = 265 // Up arrow (GLFW)
	KeyPageUp   = 266 // Page up (GLFW), slice forward
	KeyPageDown = 267 // Page down (GLFW), slice back
)
