package shader

import "time"

// WatcherOption is a functional option for configuring a Watcher.
type WatcherOption func(*watcher)

// WithDebounce sets the quiet period after the last event before recompiling.
//
// Parameters:
//   - d: the debounce period, values <= 0 keep the default
//
// Returns:
//   - WatcherOption: a function that applies the period to a watcher
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithResultHandler registers a callback invoked on the watcher goroutine after every
// recompilation, before the result is sent on the channel.
func WithResultHandler(fn func(CompileResult)) WatcherOption {
	return func(w *watcher) {
		w.onResult = fn
	}
}
