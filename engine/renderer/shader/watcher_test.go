package shader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherOptions(t *testing.T) {
	var got []CompileResult
	w := &watcher{debounce: time.Second}
	WithDebounce(-time.Second)(w)
	assert.Equal(t, time.Second, w.debounce, "non-positive debounce keeps the default")
	WithDebounce(10 * time.Millisecond)(w)
	assert.Equal(t, 10*time.Millisecond, w.debounce)

	WithResultHandler(func(res CompileResult) { got = append(got, res) })(w)
	w.results = make(chan CompileResult, 1)
	w.publish(CompileResult{Generation: 1})
	w.publish(CompileResult{Generation: 2})
	assert.Len(t, got, 2)
	assert.Equal(t, uint64(2), (<-w.results).Generation, "only the latest result is kept")
}

func TestWatcherRecompilesNewKernel(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, &fakeCompiler{})
	require.NoError(t, r.Discover(nil, dir))
	require.NoError(t, r.Load())
	before := r.Generation()

	w, err := NewWatcher(r, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	writeKernel(t, dir, "grey.wgsl", userKernel)

	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case res := <-w.Results():
			require.NoError(t, res.Err)
			assert.Greater(t, res.Generation, before)
			done = res.Kernels == 4
		case <-timeout:
			t.Fatal("no recompilation picked up the new kernel")
		}
	}
	_, ok := r.SelectKernel("user_grey")
	assert.True(t, ok)

	require.NoError(t, w.Close())
	for range w.Results() {
	}
}
