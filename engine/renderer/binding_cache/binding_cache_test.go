package binding_cache

import (
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBuffer struct {
	size     uint64
	usage    backend.BufferUsage
	data     []byte
	released bool
}

func (b *fakeBuffer) Label() string              { return "fake" }
func (b *fakeBuffer) Size() uint64               { return b.size }
func (b *fakeBuffer) Usage() backend.BufferUsage { return b.usage }
func (b *fakeBuffer) Release()                   { b.released = true }

type fakeTexture struct{ name string }

func (t *fakeTexture) Label() string           { return t.name }
func (t *fakeTexture) Extent() common.Extent3D { return common.Extent3D{Width: 1, Height: 1, Depth: 1} }
func (t *fakeTexture) Release()                {}

type fakeSampler struct {
	filter   common.FilterMode
	released bool
}

func (s *fakeSampler) Filter() common.FilterMode { return s.filter }
func (s *fakeSampler) Release()                  { s.released = true }

// fakeBackend counts device operations.
type fakeBackend struct {
	buffers  []*fakeBuffer
	samplers []*fakeSampler
	writes   int
	failNext error
}

func (f *fakeBackend) Name() string { return "fake" }
func (f *fakeBackend) Limits() backend.Limits {
	return backend.Limits{MaxBufferSize: 1 << 20, MaxTextureDimension3D: 256}
}
func (f *fakeBackend) CreateBuffer(desc backend.BufferDescriptor) (backend.Buffer, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	b := &fakeBuffer{size: desc.Size, usage: desc.Usage, data: make([]byte, desc.Size)}
	f.buffers = append(f.buffers, b)
	return b, nil
}
func (f *fakeBackend) WriteBuffer(buf backend.Buffer, offset uint64, data []byte) error {
	fb := buf.(*fakeBuffer)
	if fb.released {
		return backend.ErrResourceReleased
	}
	copy(fb.data[offset:], data)
	f.writes++
	return nil
}
func (f *fakeBackend) ReadBuffer(buf backend.Buffer) ([]byte, error) {
	return common.CloneBytes(buf.(*fakeBuffer).data), nil
}
func (f *fakeBackend) CreateVolumeTexture(desc backend.TextureDescriptor) (backend.Texture, error) {
	return &fakeTexture{name: desc.Label}, nil
}
func (f *fakeBackend) CreateSampler(filter common.FilterMode) (backend.Sampler, error) {
	s := &fakeSampler{filter: filter}
	f.samplers = append(f.samplers, s)
	return s, nil
}
func (f *fakeBackend) CreateProgram(desc backend.ProgramDescriptor) (backend.Program, error) {
	return nil, errors.New("not supported")
}
func (f *fakeBackend) CreatePipeline(p pipeline.Pipeline, program backend.Program) error {
	return backend.ErrUnsupportedEntryPoint
}
func (f *fakeBackend) Dispatch(p pipeline.Pipeline, b backend.Bindings, wg [3]uint32, wait bool) error {
	return nil
}
func (f *fakeBackend) WaitIdle() error { return nil }
func (f *fakeBackend) Release()        {}

func TestBindUploadsOncePerDistinctConsecutiveValue(t *testing.T) {
	fb := &fakeBackend{}
	c := NewBindingCache(fb, "test")

	seq := [][]byte{
		{1, 2, 3, 4}, {1, 2, 3, 4}, {5, 6, 7, 8}, {5, 6, 7, 8}, {5, 6, 7, 8}, {1, 2, 3, 4},
	}
	want := []bool{true, false, true, false, false, true}
	for i, v := range seq {
		uploaded, err := c.Bind(2, v)
		require.NoError(t, err)
		assert.Equal(t, want[i], uploaded, "bind %d", i)
	}
	assert.Equal(t, 3, fb.writes)
	assert.Len(t, fb.buffers, 1, "same size reuses the buffer")
	assert.Equal(t, Stats{Uploads: 3, Skipped: 3, Allocations: 1}, c.Stats())
	assert.Equal(t, []byte{1, 2, 3, 4}, fb.buffers[0].data)
}

func TestBindIsIdempotent(t *testing.T) {
	once := &fakeBackend{}
	c1 := NewBindingCache(once, "once")
	_, err := c1.Bind(0, []byte{9, 9, 9, 9})
	require.NoError(t, err)

	twice := &fakeBackend{}
	c2 := NewBindingCache(twice, "twice")
	for range 2 {
		_, err := c2.Bind(0, []byte{9, 9, 9, 9})
		require.NoError(t, err)
	}

	assert.Equal(t, once.buffers[0].data, twice.buffers[0].data)
	assert.Equal(t, c1.Bindings().Generation, c2.Bindings().Generation)
	assert.Equal(t, SlotClean, c2.State(0))
}

func TestBindKeepsIndependentCopyOfValue(t *testing.T) {
	fb := &fakeBackend{}
	c := NewBindingCache(fb, "test")
	v := []byte{1, 1, 1, 1}
	_, err := c.Bind(0, v)
	require.NoError(t, err)
	v[0] = 2
	uploaded, err := c.Bind(0, v)
	require.NoError(t, err)
	assert.True(t, uploaded, "mutating the caller's slice must be detected")
}

func TestBindReallocatesOnSizeChange(t *testing.T) {
	fb := &fakeBackend{}
	c := NewBindingCache(fb, "test")
	_, err := c.Bind(1, make([]byte, 16))
	require.NoError(t, err)
	gen := c.Bindings().Generation

	_, err = c.Bind(1, make([]byte, 32))
	require.NoError(t, err)
	require.Len(t, fb.buffers, 2)
	assert.True(t, fb.buffers[0].released)
	assert.Equal(t, uint64(32), c.Buffer(1).Size())
	assert.Greater(t, c.Bindings().Generation, gen)

	writes := c.Writes()
	require.Len(t, writes, 2)
	assert.True(t, writes[1].Realloc)
}

func TestMarkDirtyForcesUpload(t *testing.T) {
	fb := &fakeBackend{}
	c := NewBindingCache(fb, "test")
	_, err := c.Bind(0, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	c.MarkDirty(0)
	assert.Equal(t, 1, fb.writes, "MarkDirty issues no device work")
	assert.Equal(t, SlotDirty, c.State(0))

	uploaded, err := c.Bind(0, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.True(t, uploaded)
	assert.Equal(t, SlotClean, c.State(0))

	c.MarkDirty(42)
	assert.Equal(t, SlotEmpty, c.State(42))
}

func TestWriteAlwaysUploads(t *testing.T) {
	fb := &fakeBackend{}
	c := NewBindingCache(fb, "test", WithSlotUsage(2, backend.BufferUsageStorage))
	for range 3 {
		require.NoError(t, c.Write(2, []byte{7, 7, 7, 7}))
	}
	assert.Equal(t, 3, fb.writes)
	assert.Equal(t, backend.BufferUsageStorage|backend.BufferUsageCopyDst, fb.buffers[0].usage)

	uploaded, err := c.Bind(2, []byte{7, 7, 7, 7})
	require.NoError(t, err)
	assert.True(t, uploaded)
}

func TestBindTextureRequiresMarkDirty(t *testing.T) {
	c := NewBindingCache(&fakeBackend{}, "test")
	a := &fakeTexture{name: "a"}
	b := &fakeTexture{name: "b"}

	require.NoError(t, c.BindTexture(0, a))
	gen := c.Bindings().Generation

	require.NoError(t, c.BindTexture(0, b))
	e, ok := c.Bindings().Lookup(0)
	require.True(t, ok)
	assert.Same(t, a, e.Texture, "bind without MarkDirty is a no-op")
	assert.Equal(t, gen, c.Bindings().Generation)

	c.MarkDirty(0)
	require.NoError(t, c.BindTexture(0, b))
	e, _ = c.Bindings().Lookup(0)
	assert.Same(t, b, e.Texture)
	assert.Greater(t, c.Bindings().Generation, gen)
	assert.Equal(t, 2, c.Stats().TextureRebinds)
}

func TestBindSamplerRecreatesOnlyOnFilterChange(t *testing.T) {
	fb := &fakeBackend{}
	c := NewBindingCache(fb, "test")

	require.NoError(t, c.BindSampler(1, common.FilterLinear))
	require.NoError(t, c.BindSampler(1, common.FilterNearest))
	require.Len(t, fb.samplers, 1, "not dirty, no change")

	c.MarkDirty(1)
	require.NoError(t, c.BindSampler(1, common.FilterLinear))
	require.Len(t, fb.samplers, 1, "dirty but same filter keeps the sampler")
	assert.Equal(t, SlotClean, c.State(1))

	c.MarkDirty(1)
	require.NoError(t, c.BindSampler(1, common.FilterNearest))
	require.Len(t, fb.samplers, 2)
	assert.True(t, fb.samplers[0].released)
	e, _ := c.Bindings().Lookup(1)
	assert.Equal(t, common.FilterNearest, e.Sampler.Filter())
}

func TestBindOutputSurface(t *testing.T) {
	fb := &fakeBackend{}
	c := NewBindingCache(fb, "test")

	first, err := c.BindOutputSurface(4, 64)
	require.NoError(t, err)
	assert.Equal(t, uint64(64*64*4), first.Size())
	assert.NotZero(t, first.Usage()&backend.BufferUsageCopySrc)

	again, err := c.BindOutputSurface(4, 64)
	require.NoError(t, err)
	assert.Same(t, first, again)

	bigger, err := c.BindOutputSurface(4, 128)
	require.NoError(t, err)
	assert.NotSame(t, first, bigger)
	assert.True(t, first.(*fakeBuffer).released)
	assert.Equal(t, uint64(128*128*4), bigger.Size())

	_, err = c.BindOutputSurface(4, 0)
	assert.Error(t, err)
}

func TestSlotKindMismatch(t *testing.T) {
	c := NewBindingCache(&fakeBackend{}, "test")
	require.NoError(t, c.BindTexture(0, &fakeTexture{}))
	_, err := c.Bind(0, []byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrSlotKind)
}

func TestAllocationFailureLeavesSlotEmpty(t *testing.T) {
	fb := &fakeBackend{failNext: errors.New("out of memory")}
	c := NewBindingCache(fb, "test")
	_, err := c.Bind(0, []byte{1, 2, 3, 4})
	require.Error(t, err)
	assert.Equal(t, SlotEmpty, c.State(0))

	uploaded, err := c.Bind(0, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.True(t, uploaded)
}

func TestBindingsSortedAndReleased(t *testing.T) {
	fb := &fakeBackend{}
	c := NewBindingCache(fb, "test", WithWriteHistory(1))
	_, err := c.Bind(3, []byte{1, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, c.BindSampler(1, common.FilterLinear))
	require.NoError(t, c.BindTexture(0, &fakeTexture{}))
	_, err = c.Bind(2, []byte{2, 0, 0, 0})
	require.NoError(t, err)

	entries := c.Bindings().Entries
	require.Len(t, entries, 4)
	for i, e := range entries {
		assert.Equal(t, uint32(i), e.Slot)
	}
	assert.Len(t, c.Writes(), 1)

	c.Release()
	for _, b := range fb.buffers {
		assert.True(t, b.released)
	}
	assert.True(t, fb.samplers[0].released)
	assert.Empty(t, c.Bindings().Entries)
}
