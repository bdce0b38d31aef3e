package shader

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/fsnotify/fsnotify"
)

// CompileResult reports one watcher-triggered recompilation.
type CompileResult struct {
	// Generation is the registry generation after the attempt.
	Generation uint64

	// Kernels is the number of selectable kernels after the attempt.
	Kernels int

	// Err is nil on success, otherwise wraps ErrCompileFailed or a discovery error.
	Err error
}

// watcher is the implementation of the Watcher interface.
type watcher struct {
	registry ShaderRegistry
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onResult func(CompileResult)

	results chan CompileResult
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// Watcher re-discovers and recompiles the registry's kernels whenever a .wgsl file in one
// of its user directories changes. Bursts of events are coalesced by a debounce delay.
type Watcher interface {
	// Results delivers the outcome of every recompilation. The channel holds the latest
	// result only; an unread result is replaced by a newer one.
	//
	// Returns:
	//   - <-chan CompileResult: the result channel, closed by Close
	Results() <-chan CompileResult

	// Close stops watching.
	//
	// Returns:
	//   - error: the error of closing the underlying watcher
	Close() error
}

var _ Watcher = &watcher{}

// NewWatcher starts watching the user directories of r, including their subdirectories
// at the time of the call.
//
// Parameters:
//   - r: the registry to refresh
//   - options: variadic list of WatcherOption functions
//
// Returns:
//   - Watcher: the running watcher
//   - error: an error if the file system watcher cannot be created
func NewWatcher(r ShaderRegistry, options ...WatcherOption) (Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		registry: r,
		fsw:      fsw,
		debounce: 250 * time.Millisecond,
		results:  make(chan CompileResult, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(w)
	}

	for _, dir := range r.UserDirs() {
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return fsw.Add(p)
			}
			return nil
		})
		if err != nil {
			common.Logger().Warn("shader: cannot watch kernel directory", "dir", dir, "error", err)
		}
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *watcher) loop() {
	defer w.wg.Done()
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			if event.Has(fsnotify.Create) {
				// picks up new subdirectories
				_ = w.fsw.Add(event.Name)
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			common.Logger().Warn("shader: watcher error", "error", err)
		case <-fire:
			fire = nil
			w.publish(w.refresh())
		}
	}
}

// relevant reports whether an event can change the kernel set.
func relevant(event fsnotify.Event) bool {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return false
	}
	if filepath.Ext(event.Name) == ".wgsl" {
		return true
	}
	// directories have no extension; a removed or renamed one may hold kernels
	return filepath.Ext(event.Name) == "" && !event.Has(fsnotify.Write)
}

func (w *watcher) refresh() CompileResult {
	err := w.registry.Refresh()
	res := CompileResult{
		Generation: w.registry.Generation(),
		Kernels:    len(w.registry.Kernels()),
		Err:        err,
	}
	if err != nil {
		common.Logger().Warn("shader: recompilation failed", "error", err)
	} else {
		common.Logger().Info("shader: recompiled kernels", "kernels", res.Kernels, "generation", res.Generation)
	}
	return res
}

func (w *watcher) publish(res CompileResult) {
	if w.onResult != nil {
		w.onResult(res)
	}
	select {
	case w.results <- res:
	default:
		select {
		case <-w.results:
		default:
		}
		w.results <- res
	}
}

func (w *watcher) Results() <-chan CompileResult {
	return w.results
}

func (w *watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
		close(w.results)
	})
	return err
}
