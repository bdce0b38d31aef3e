package volume

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend/software"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/shader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func newBackend(t *testing.T, limits backend.Limits) backend.Backend {
	t.Helper()
	b := software.NewSoftwareBackend(software.WithWorkers(2), software.WithLimits(limits))
	t.Cleanup(b.Release)
	return b
}

var roomy = backend.Limits{
	MaxBufferSize:               1 << 28,
	MaxStorageBufferBindingSize: 1 << 28,
	MaxTextureDimension3D:       2048,
}

func ingestProgram(t *testing.T, b backend.Backend) backend.Program {
	t.Helper()
	r := shader.NewShaderRegistry(b)
	t.Cleanup(r.Release)
	require.NoError(t, r.Discover(shader.BuiltinFS()))
	require.NoError(t, r.Load())
	return r.IngestProgram()
}

func TestAllocateVolumeWithinLimits(t *testing.T) {
	b := newBackend(t, roomy)
	v, err := AllocateVolume(b, Descriptor{
		Width: 16, Height: 8, Depth: 4, Channels: 2,
		Ranges: []common.DisplayRange{{Min: 0, Max: 10}, {Min: 5, Max: 6}},
	})
	require.NoError(t, err)
	defer v.Release()

	assert.Equal(t, common.Extent3D{Width: 16, Height: 8, Depth: 4}, v.Extent())
	assert.Equal(t, 2, v.Channels())
	assert.Equal(t, [3]float32{1, 1, 1}, v.Spacing(), "zero spacing defaults to 1")
	assert.Equal(t, common.DisplayRange{Min: 5, Max: 6}, v.Range(1))
	assert.Equal(t, common.DisplayRange{}, v.Range(3))
	assert.Equal(t, common.DisplayRange{}, v.Range(9))
}

func TestAllocateVolumeValidates(t *testing.T) {
	b := newBackend(t, roomy)
	_, err := AllocateVolume(b, Descriptor{Width: 0, Height: 1, Depth: 1, Channels: 1})
	assert.Error(t, err)
	_, err = AllocateVolume(b, Descriptor{Width: 1, Height: 1, Depth: 1, Channels: 5})
	assert.Error(t, err)
}

func TestAllocateVolumeByteLimitSuggestsRatio(t *testing.T) {
	limits := roomy
	limits.MaxBufferSize = 256 * 256 * 100 * 4 / 3
	b := newBackend(t, limits)

	desc := Descriptor{Width: 256, Height: 256, Depth: 100, Channels: 4}
	_, err := AllocateVolume(b, desc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllocation)

	var allocErr *AllocationError
	require.True(t, errors.As(err, &allocErr))
	requested := float64(256 * 256 * 100 * 4)
	assert.Equal(t, uint64(requested), allocErr.Requested)
	assert.Greater(t, allocErr.DownsizeRatio, 0.0)
	assert.Less(t, allocErr.DownsizeRatio, 1.0)
	assert.LessOrEqual(t, allocErr.DownsizeRatio*allocErr.DownsizeRatio*requested, float64(limits.MaxBufferSize))

	retry, err := AllocateVolume(b, desc.Scaled(allocErr.DownsizeRatio))
	require.NoError(t, err, "retry at the suggested ratio fits")
	retry.Release()
}

func TestAllocateVolumeXYLimitSuggestsRatio(t *testing.T) {
	limits := roomy
	limits.MaxTextureDimension3D = 100
	b := newBackend(t, limits)

	_, err := AllocateVolume(b, Descriptor{Width: 400, Height: 200, Depth: 50, Channels: 1})
	var allocErr *AllocationError
	require.True(t, errors.As(err, &allocErr))
	assert.InDelta(t, 100.0/400.0*0.95, allocErr.DownsizeRatio, 1e-9)
}

func TestAllocateVolumeBothLimitsSuggestSmallerRatio(t *testing.T) {
	limits := roomy
	limits.MaxTextureDimension3D = 100
	limits.MaxBufferSize = 160000
	b := newBackend(t, limits)

	desc := Descriptor{Width: 200, Height: 200, Depth: 10, Channels: 4}
	_, err := AllocateVolume(b, desc)
	var allocErr *AllocationError
	require.True(t, errors.As(err, &allocErr))

	requested := float64(200 * 200 * 10 * 4)
	assert.Less(t, allocErr.DownsizeRatio, 100.0/200.0*0.95, "byte limit is the tighter bound")
	assert.LessOrEqual(t, allocErr.DownsizeRatio*allocErr.DownsizeRatio*requested, float64(limits.MaxBufferSize))
	assert.Contains(t, allocErr.Reason, "texel limit")
	assert.Contains(t, allocErr.Reason, "byte buffer limit")

	retry, err := AllocateVolume(b, desc.Scaled(allocErr.DownsizeRatio))
	require.NoError(t, err, "retry at the suggested ratio fits both limits")
	retry.Release()
}

func TestAllocateVolumeDepthLimit(t *testing.T) {
	limits := roomy
	limits.MaxTextureDimension3D = 64
	b := newBackend(t, limits)

	_, err := AllocateVolume(b, Descriptor{Width: 400, Height: 32, Depth: 65, Channels: 1})
	assert.ErrorIs(t, err, ErrDepthLimit, "depth is checked before the XY edge")
	assert.NotErrorIs(t, err, ErrAllocation)
}

func TestScaledKeepsCalibration(t *testing.T) {
	d := Descriptor{Width: 200, Height: 100, Depth: 10, Spacing: [3]float32{0.5, 0.5, 2}}
	s := d.Scaled(0.5)
	assert.Equal(t, 100, s.Width)
	assert.Equal(t, 50, s.Height)
	assert.Equal(t, 10, s.Depth)
	assert.InDelta(t, 1.0, s.Spacing[0], 1e-6)
	assert.InDelta(t, 1.0, s.Spacing[1], 1e-6)
	assert.InDelta(t, 2.0, s.Spacing[2], 1e-6)
	assert.Equal(t, d, d.Scaled(1))
}

func TestIngestWritesEverySlice(t *testing.T) {
	b := newBackend(t, roomy)
	src := NewPhantomSource(8, 8, 6, 2)
	v, err := AllocateVolume(b, src.Descriptor())
	require.NoError(t, err)
	defer v.Release()

	var calls []int
	in, err := NewIngestor(b, ingestProgram(t, b), v,
		WithConversionWorkers(2),
		WithProgress(func(done, total int) {
			assert.Equal(t, 6, total)
			calls = append(calls, done)
		}))
	require.NoError(t, err)
	defer in.Release()

	require.NoError(t, in.Ingest(src))
	require.NoError(t, in.Finish())
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, calls)

	texels, err := software.Texels(v.Texture())
	require.NoError(t, err)
	center := ((3*8+4)*8 + 4) * 4
	assert.Greater(t, texels[center], byte(100), "sphere center is bright in channel 0")
	assert.Equal(t, byte(0), texels[2], "unused channel stays zero")
	assert.Equal(t, byte(0), texels[3])
}

func TestWriteSliceRescalesWithRanges(t *testing.T) {
	b := newBackend(t, roomy)
	v, err := AllocateVolume(b, Descriptor{Width: 2, Height: 1, Depth: 2, Channels: 1,
		Ranges: []common.DisplayRange{{Min: 0, Max: 100}}})
	require.NoError(t, err)
	defer v.Release()
	in, err := NewIngestor(b, ingestProgram(t, b), v)
	require.NoError(t, err)
	defer in.Release()

	require.NoError(t, in.WriteSlice(1, [][]uint16{{50, 200}}, nil))
	require.NoError(t, in.WriteSlice(0, [][]uint16{{10, 20}}, []common.DisplayRange{{Min: 10, Max: 20}}))
	require.NoError(t, in.Finish())

	texels, err := software.Texels(v.Texture())
	require.NoError(t, err)
	assert.Equal(t, byte(0), texels[0])
	assert.Equal(t, byte(255), texels[4])
	assert.Equal(t, byte(128), texels[8], "volume range used when none is passed")
	assert.Equal(t, byte(255), texels[12], "values above the range saturate")

	assert.Error(t, in.WriteSlice(2, [][]uint16{{1, 2}}, nil), "z outside depth")
	assert.Error(t, in.WriteSlice(0, [][]uint16{{1}}, nil), "short plane")
}

func TestReleasedIngestorRejectsWrites(t *testing.T) {
	b := newBackend(t, roomy)
	v, err := AllocateVolume(b, Descriptor{Width: 1, Height: 1, Depth: 1, Channels: 1})
	require.NoError(t, err)
	in, err := NewIngestor(b, ingestProgram(t, b), v)
	require.NoError(t, err)
	in.Release()
	assert.ErrorIs(t, in.WriteSlice(0, [][]uint16{{1}}, nil), ErrIngestorReleased)
	assert.ErrorIs(t, in.Finish(), ErrIngestorReleased)
}

func TestResampleNearest(t *testing.T) {
	s := Slice{Width: 4, Height: 2, Channels: [][]uint16{{0, 1, 2, 3, 4, 5, 6, 7}}}
	r := s.Resample(2, 1)
	assert.Equal(t, 2, r.Width)
	assert.Equal(t, []uint16{5, 7}, r.Channels[0])
	assert.Equal(t, s, s.Resample(4, 2))
}

func TestAutoDisplayRange(t *testing.T) {
	samples := make([]uint16, 0, 1000)
	for i := range 1000 {
		samples = append(samples, uint16(i))
	}
	samples[0] = 65535
	r := AutoDisplayRange(samples, 0.01, 0.99)
	assert.InDelta(t, 10, r.Min, 2)
	assert.InDelta(t, 990, r.Max, 2)
	assert.Equal(t, common.DisplayRange{}, AutoDisplayRange(nil, 0, 1))
}

func TestTIFFStackSource(t *testing.T) {
	dir := t.TempDir()
	for z := range 3 {
		img := image.NewGray16(image.Rect(0, 0, 3, 2))
		img.SetGray16(1, 1, color.Gray16{Y: uint16(1000 * (z + 1))})
		f, err := os.Create(filepath.Join(dir, "slice_"+string(rune('a'+z))+".tif"))
		require.NoError(t, err)
		require.NoError(t, tiff.Encode(f, img, nil))
		require.NoError(t, f.Close())
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	src, err := NewTIFFStackSource(dir, [3]float32{0.5, 0, 2})
	require.NoError(t, err)
	d := src.Descriptor()
	assert.Equal(t, 3, d.Width)
	assert.Equal(t, 2, d.Height)
	assert.Equal(t, 3, d.Depth)
	assert.Equal(t, 1, d.Channels)
	assert.Equal(t, [3]float32{0.5, 1, 2}, d.Spacing)

	s, err := src.Slice(2)
	require.NoError(t, err)
	assert.Equal(t, uint16(3000), s.Channels[0][1*3+1])
	_, err = src.Slice(3)
	assert.Error(t, err)

	_, err = NewTIFFStackSource(t.TempDir(), [3]float32{})
	assert.Error(t, err)
}

func TestLoadDownsizesOnce(t *testing.T) {
	b := newBackend(t, backend.Limits{
		MaxBufferSize:               2048,
		MaxStorageBufferBindingSize: 1 << 20,
		MaxTextureDimension3D:       256,
	})
	src := NewPhantomSource(16, 16, 4, 1)

	done := 0
	v, err := Load(b, ingestProgram(t, b), src, src.Descriptor(),
		WithProgress(func(d, total int) { done = d }))
	require.NoError(t, err)
	defer v.Release()

	assert.Equal(t, common.Extent3D{Width: 10, Height: 10, Depth: 4}, v.Extent())
	assert.InDelta(t, 1.6, v.Spacing()[0], 1e-5)
	assert.Equal(t, 4, done)
}

func TestLoadDepthLimitIsFinal(t *testing.T) {
	b := newBackend(t, backend.Limits{MaxBufferSize: 1 << 20, MaxStorageBufferBindingSize: 1 << 20, MaxTextureDimension3D: 2})
	src := NewPhantomSource(2, 2, 4, 1)
	_, err := Load(b, ingestProgram(t, b), src, src.Descriptor())
	assert.ErrorIs(t, err, ErrDepthLimit)
}
