package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResizedIgnoresMinimizedWindow(t *testing.T) {
	w := &engineWindow{width: 800, height: 600}
	var calls [][2]int
	w.SetResizeCallback(func(width, height int) { calls = append(calls, [2]int{width, height}) })

	w.resized(0, 0)
	assert.Equal(t, 800, w.Width())
	assert.Empty(t, calls)

	w.resized(1024, 768)
	assert.Equal(t, 1024, w.Width())
	assert.Equal(t, 768, w.Height())
	assert.Equal(t, [][2]int{{1024, 768}}, calls)
}

func TestEmitWithoutCallback(t *testing.T) {
	w := &engineWindow{}
	assert.NotPanics(t, func() { w.emit(Event{Kind: EventKeyDown, Key: 65}) })

	var got []Event
	w.SetInputCallback(func(e Event) { got = append(got, e) })
	w.emit(Event{Kind: EventScroll, Scroll: -1})
	assert.Equal(t, []Event{{Kind: EventScroll, Scroll: -1}}, got)
}

func TestDestroyedWindow(t *testing.T) {
	w := &engineWindow{}
	assert.False(t, w.IsRunning())
	assert.Nil(t, w.SurfaceDescriptor())
	assert.ErrorIs(t, w.Close(), errWindowDestroyed)
	w.ProcessMessages()
	w.SetTitle("ignored")
	assert.Equal(t, "ignored", w.title)
}

func TestBuilderOptions(t *testing.T) {
	w := &engineWindow{minWidth: 256, minHeight: 256, maxWidth: 4096, maxHeight: 4096}
	WithSize(1000, -1)(w)
	WithSizeLimits(300, 0, 2000, 0)(w)
	WithEventWait(-1)(w)
	assert.Equal(t, 1000, w.width)
	assert.Equal(t, 0, w.height)
	assert.Equal(t, 300, w.minWidth)
	assert.Equal(t, 256, w.minHeight)
	assert.Equal(t, 2000, w.maxWidth)
	assert.Equal(t, 4096, w.maxHeight)
	assert.Zero(t, w.eventWait)
}
