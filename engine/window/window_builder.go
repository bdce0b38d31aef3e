package window

import "time"

// WindowBuilderOption is a functional option for configuring a window.
type WindowBuilderOption func(w *engineWindow)

// WithTitle sets the initial title bar text.
func WithTitle(title string) WindowBuilderOption {
	return func(w *engineWindow) {
		w.title = title
	}
}

// WithSize sets the initial window size. It is clamped to the size limits.
//
// Parameters:
//   - width: the width in pixels
//   - height: the height in pixels
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithSize(width, height int) WindowBuilderOption {
	return func(w *engineWindow) {
		if width > 0 {
			w.width = width
		}
		if height > 0 {
			w.height = height
		}
	}
}

// WithSizeLimits bounds the window size during user resizes. Non-positive values keep
// the defaults of 256 and 4096 pixels.
//
// Parameters:
//   - minWidth, minHeight: the smallest allowed size
//   - maxWidth, maxHeight: the largest allowed size
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithSizeLimits(minWidth, minHeight, maxWidth, maxHeight int) WindowBuilderOption {
	return func(w *engineWindow) {
		if minWidth > 0 {
			w.minWidth = minWidth
		}
		if minHeight > 0 {
			w.minHeight = minHeight
		}
		if maxWidth > 0 {
			w.maxWidth = maxWidth
		}
		if maxHeight > 0 {
			w.maxHeight = maxHeight
		}
	}
}

// WithEventWait sets how long one message loop iteration waits for events before the
// update callback runs anyway. Zero polls without waiting. Defaults to 16ms.
func WithEventWait(d time.Duration) WindowBuilderOption {
	return func(w *engineWindow) {
		if d >= 0 {
			w.eventWait = d
		}
	}
}
