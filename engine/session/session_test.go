package session

import (
	"os"
	"path/filepath"
	"testing"

	rs "github.com/Carmen-Shannon/oxy-volume/engine/render_state"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend/software"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-volume/engine/tone_curve"
	"github.com/Carmen-Shannon/oxy-volume/engine/volume"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRenderer(t *testing.T) renderer.Renderer {
	t.Helper()
	b := software.NewSoftwareBackend(software.WithWorkers(1))
	t.Cleanup(b.Release)
	reg := shader.NewShaderRegistry(b)
	t.Cleanup(reg.Release)
	v, err := volume.AllocateVolume(b, volume.Descriptor{Label: "phantom", Width: 16, Height: 16, Depth: 8, Channels: 2})
	require.NoError(t, err)
	t.Cleanup(v.Release)
	r, err := renderer.NewRenderer(b, reg, renderer.WithVolume(v))
	require.NoError(t, err)
	t.Cleanup(r.Release)
	return r
}

func TestCaptureSaveLoadApply(t *testing.T) {
	src := newRenderer(t)
	s := src.State()
	s.Rotate(0.3, -0.2, 0.1)
	s.LockCrop()
	s.Scale = 1.5
	s.SetZScale(2)
	s.SetSlice(10)
	s.Translation = [2]float32{3, -4}
	s.Trim.XMin = 0.25
	s.Kernel = "preset_mip"
	s.Options = rs.OptionShading | rs.OptionCropLock | rs.OptionPointOverlay
	s.AddPoint(mgl32.Vec3{1, 2, 3})
	s.AddPoint(mgl32.Vec3{4, 5, 6})
	s.SelectPoint(0)
	src.ToneCurves().SetCurve(1, tone_curve.NewToneCurve(
		tone_curve.WithPoints(tone_curve.ControlPoint{Intensity: 0, Opacity: 0}, tone_curve.ControlPoint{Intensity: 100, Opacity: 0.8}),
		tone_curve.WithMode(tone_curve.Monotone)))
	src.SetScaleBar(renderer.ScaleBar{Length: 50, Unit: "µm"})

	path := filepath.Join(t.TempDir(), "nested", "view.yaml")
	require.NoError(t, Save(path, Capture(src)))
	snap, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "phantom", snap.Volume)
	assert.Equal(t, Version, snap.Version)

	dst := newRenderer(t)
	ok, err := snap.Apply(dst)
	require.NoError(t, err)
	assert.True(t, ok)

	d := dst.State()
	assert.Equal(t, "preset_mip", d.Kernel)
	assert.Equal(t, s.Options, d.Options)
	assert.True(t, s.Orientation().ApproxEqualThreshold(d.Orientation(), 1e-5))
	assert.True(t, s.CropOrientation().ApproxEqualThreshold(d.CropOrientation(), 1e-5))
	assert.Equal(t, s.ZScale(), d.ZScale())
	assert.Equal(t, s.Slice(), d.Slice())
	assert.Equal(t, s.CropSlice(), d.CropSlice())
	assert.Equal(t, s.Translation, d.Translation)
	assert.Equal(t, s.Trim, d.Trim)
	assert.Equal(t, s.Points(), d.Points())
	assert.Equal(t, 0, d.Selected())
	assert.Equal(t, tone_curve.Monotone, dst.ToneCurves().Curve(1).Mode())
	assert.Equal(t, src.ToneCurves().Curve(1).LUT(), dst.ToneCurves().Curve(1).LUT())
	assert.Equal(t, renderer.ScaleBar{Length: 50, Unit: "µm"}, dst.ScaleBar())
}

func TestApplyMissingKernelFallsBack(t *testing.T) {
	r := newRenderer(t)
	snap := Capture(r)
	snap.Kernel = "uninstalled"

	ok, err := snap.Apply(r)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, r.Registry().DefaultKernel().Name, r.State().Kernel)
}

func TestApplyRejectsUnknownNames(t *testing.T) {
	r := newRenderer(t)
	snap := Capture(r)
	snap.Options = []string{"hologram"}
	_, err := snap.Apply(r)
	assert.Error(t, err)

	snap = Capture(r)
	snap.Curves[0].Mode = "bezier"
	_, err = snap.Apply(r)
	assert.Error(t, err)
}

func TestApplyClampsSliceToLoadedVolume(t *testing.T) {
	r := newRenderer(t)
	snap := Capture(r)
	snap.Slice = 10000
	snap.ZScale = 1
	_, err := snap.Apply(r)
	require.NoError(t, err)
	assert.Equal(t, r.State().SliceMax(), r.State().Slice())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("version: [1"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)

	newer := filepath.Join(dir, "newer.yaml")
	require.NoError(t, os.WriteFile(newer, []byte("version: 99\n"), 0o644))
	_, err = Load(newer)
	assert.ErrorIs(t, err, ErrNewerVersion)
}
