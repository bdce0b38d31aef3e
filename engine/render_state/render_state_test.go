package render_state

import (
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-4

func assertVecNear(t *testing.T, want, got mgl32.Vec3) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i], got[i], eps, "component %d of %v vs %v", i, want, got)
	}
}

func TestProjectionCenterMapsToVolumeCenter(t *testing.T) {
	s := NewRenderState(
		WithVolumeDimensions(common.Extent3D{Width: 256, Height: 256, Depth: 100}),
		WithViewSize(512),
	)
	require.Equal(t, 376, s.SliceMax())
	s.SetSlice(int(s.Radius()))

	p := s.Projection(512)
	assertVecNear(t, mgl32.Vec3{0.5, 0.5, 0.5}, p.SampleCoord(256, 256, 0))
}

func TestProjectionCenterIndependentOfOrientation(t *testing.T) {
	s := NewRenderState(WithVolumeDimensions(common.Extent3D{Width: 64, Height: 32, Depth: 16}))
	s.SetSlice(int(s.Radius()))
	s.Rotate(0.3, -0.7, 1.1)

	p := s.Projection(s.ViewSize)
	c := float32(s.ViewSize) / 2
	offset := s.Radius() - float32(s.Slice())
	assertVecNear(t, mgl32.Vec3{0.5, 0.5, 0.5}, p.SampleCoord(c, c, -offset))
}

func TestProjectionRoundTrip(t *testing.T) {
	s := NewRenderState(
		WithVolumeDimensions(common.Extent3D{Width: 120, Height: 80, Depth: 40}),
		WithZScale(2.5),
		WithScale(1.7),
	)
	s.Translation = [2]float32{12, -30}
	s.Rotate(0.4, 0.2, -0.9)
	s.SetSlice(s.SliceMax() - 20)
	s.Options = s.Options.Set(OptionFlip, true)

	p := s.Projection(300)
	for _, in := range [][3]float32{{10, 20, 0}, {150, 150, 33}, {299, 5, 120}} {
		c := p.SampleCoord(in[0], in[1], in[2])
		px, py, tt := p.Project(c)
		assert.InDelta(t, in[0], px, 1e-2)
		assert.InDelta(t, in[1], py, 1e-2)
		assert.InDelta(t, in[2], tt, 1e-2)
	}
}

func TestProjectionFlipMirrorsZ(t *testing.T) {
	s := NewRenderState(WithVolumeDimensions(common.Extent3D{Width: 10, Height: 10, Depth: 10}))
	plain := s.Projection(s.ViewSize).SampleCoord(100, 100, 3)
	s.Options = s.Options.Set(OptionFlip, true)
	flipped := s.Projection(s.ViewSize).SampleCoord(100, 100, 3)

	assert.InDelta(t, plain[0], flipped[0], eps)
	assert.InDelta(t, plain[1], flipped[1], eps)
	assert.InDelta(t, 1-plain[2], flipped[2], eps)
}

func TestTargetSizeKeepsFraming(t *testing.T) {
	s := NewRenderState(WithVolumeDimensions(common.Extent3D{Width: 50, Height: 50, Depth: 50}), WithViewSize(200))
	s.Translation = [2]float32{10, 4}
	small := s.Projection(200).SampleCoord(50, 70, 0)
	large := s.Projection(800).SampleCoord(200, 280, 0)
	assertVecNear(t, small, large)
}

func TestSliceMaxMonotonicInZScale(t *testing.T) {
	dims := common.Extent3D{Width: 256, Height: 256, Depth: 100}
	prev := SliceMax(dims, 0)
	for z := float32(0.1); z < 20; z += 0.37 {
		cur := SliceMax(dims, z)
		assert.GreaterOrEqual(t, cur, prev, "zScale %g", z)
		prev = cur
	}
}

func TestSetZScaleRecomputesBeforeClamping(t *testing.T) {
	s := NewRenderState(WithVolumeDimensions(common.Extent3D{Width: 100, Height: 100, Depth: 100}))
	oldMax := s.SliceMax()
	assert.Equal(t, oldMax, s.Slice())

	s.SetZScale(3)
	assert.Greater(t, s.SliceMax(), oldMax)
	assert.Equal(t, s.SliceMax(), s.Slice(), "slice at max follows the new maximum")

	s.SetSlice(50)
	s.SetZScale(0.1)
	assert.Equal(t, 50, s.Slice())

	s.SetSlice(10_000)
	assert.Equal(t, s.SliceMax(), s.Slice())
	s.SetCropSlice(-4)
	assert.Equal(t, 0, s.CropSlice())
}

func TestRotateCompositionOrder(t *testing.T) {
	s := NewRenderState()
	rx, ry, rz := float32(0.25), float32(-0.5), float32(0.8)
	s.Rotate(rx, ry, rz)

	qx := mgl32.QuatRotate(rx, mgl32.Vec3{1, 0, 0})
	qy := mgl32.QuatRotate(ry, mgl32.Vec3{0, 1, 0})
	qz := mgl32.QuatRotate(rz, mgl32.Vec3{0, 0, 1})
	want := qy.Mul(qz).Mul(qx).Normalize()

	got := s.Orientation()
	if got.Dot(want) < 0 {
		got = got.Scale(-1)
	}
	assert.True(t, want.ApproxEqualThreshold(got, eps), "want %v got %v", want, got)

	other := qx.Mul(qy).Mul(qz).Normalize()
	assert.False(t, other.ApproxEqualThreshold(got, eps))
}

func TestNormalsFrameTracksOrientation(t *testing.T) {
	s := NewRenderState()
	for i := 0; i < 200; i++ {
		s.Rotate(0.031, 0.017*float32(i%3), -0.023)
	}
	n := s.Normals()
	axes := [3]mgl32.Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	for i := range n {
		assert.InDelta(t, 1, n[i].Len(), eps)
		assertVecNear(t, s.Orientation().Rotate(axes[i]), n[i])
	}
	assert.InDelta(t, 0, n[0].Dot(n[1]), eps)
	assert.InDelta(t, 0, n[1].Dot(n[2]), eps)
}

func TestRotateAboutSingleAxisKeepsThatAxis(t *testing.T) {
	s := NewRenderState()
	s.Rotate(0, 0, float32(math.Pi/2))
	n := s.Normals()
	assertVecNear(t, mgl32.Vec3{0, 0, 1}, n[2])
	assertVecNear(t, mgl32.Vec3{0, 1, 0}, n[0])

	e := s.EulerAngles()
	assert.InDelta(t, 90, e[2], 1e-2)
	assert.InDelta(t, 0, e[0], 1e-2)
}

func TestLockCropSnapshotsOrientation(t *testing.T) {
	s := NewRenderState(WithVolumeDimensions(common.Extent3D{Width: 32, Height: 32, Depth: 32}))
	s.Rotate(0.5, 0, 0)
	s.SetSlice(20)
	s.LockCrop()
	locked := s.CropOrientation()

	s.Rotate(0, 0.9, 0)
	assert.True(t, s.Options.Has(OptionCropLock))
	assert.Equal(t, 20, s.CropSlice())
	assert.Equal(t, locked, s.CropOrientation())
	assert.False(t, s.Orientation().ApproxEqualThreshold(locked, eps))

	s.UnlockCrop()
	assert.False(t, s.Options.Has(OptionCropLock))
}

func TestCropKeepsSidesOfPlane(t *testing.T) {
	s := NewRenderState(WithVolumeDimensions(common.Extent3D{Width: 10, Height: 10, Depth: 10}))
	s.SetSlice(int(s.Radius()))
	s.LockCrop()
	p := s.Projection(s.ViewSize)

	front := mgl32.Vec3{0.5, 0.5, 0.1}
	back := mgl32.Vec3{0.5, 0.5, 0.9}
	assert.False(t, p.CropKeeps(front, false))
	assert.True(t, p.CropKeeps(back, false))
	assert.True(t, p.CropKeeps(front, true))
	assert.False(t, p.CropKeeps(back, true))
}

func TestPointsSelection(t *testing.T) {
	s := NewRenderState(WithVolumeDimensions(common.Extent3D{Width: 10, Height: 20, Depth: 40}))
	assert.Equal(t, -1, s.Selected())
	assert.Len(t, s.PointsBytes(), 16)

	s.AddPoint(mgl32.Vec3{5, 10, 20})
	s.AddPoint(mgl32.Vec3{1, 2, 3})
	s.AddPoint(mgl32.Vec3{9, 9, 9})
	assert.Equal(t, 2, s.Selected())

	s.SelectPoint(1)
	s.RemovePoint(0)
	assert.Equal(t, 0, s.Selected())
	s.RemovePoint(0)
	assert.Equal(t, -1, s.Selected())
	assert.Len(t, s.Points(), 1)

	buf := s.PointsBytes()
	require.Len(t, buf, 16)
	assert.InDelta(t, 0.9, common.Float32At(buf, 0), eps)
	assert.InDelta(t, 0.45, common.Float32At(buf, 4), eps)

	ov := s.PointOverlayParams()
	assert.Equal(t, uint32(1), ov.Count)
	decoded, err := UnmarshalPointOverlay(ov.Marshal())
	require.NoError(t, err)
	assert.Equal(t, ov, decoded)
}

func TestRenderParamsMarshalLayout(t *testing.T) {
	s := NewRenderState(WithVolumeDimensions(common.Extent3D{Width: 8, Height: 4, Depth: 2}), WithZScale(2))
	s.Options = OptionShading | OptionMPR
	p := s.GPUParams(64)
	p.Channels = 3
	buf := p.Marshal()
	require.Len(t, buf, RenderParamsSize)

	assert.Equal(t, float32(8), common.Float32At(buf, 160))
	assert.Equal(t, float32(2), common.Float32At(buf, 172))
	assert.Equal(t, uint32(64), common.Uint32At(buf, 216))
	assert.Equal(t, uint32(OptionShading|OptionMPR), common.Uint32At(buf, 220))
	assert.Equal(t, uint32(3), common.Uint32At(buf, 224))

	decoded, err := UnmarshalRenderParams(buf)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)

	_, err = UnmarshalRenderParams(buf[:100])
	assert.Error(t, err)
}

func TestRenderOptionNames(t *testing.T) {
	o := OptionLinearSampling | OptionFlip | OptionMPR
	names := o.Names()
	assert.Equal(t, []string{"linear-sampling", "flip", "mpr"}, names)
	parsed, err := ParseRenderOptions(names)
	require.NoError(t, err)
	assert.Equal(t, o, parsed)

	_, err = ParseRenderOptions([]string{"sparkles"})
	assert.Error(t, err)

	assert.True(t, o.Toggle(OptionFlip).Has(OptionLinearSampling))
	assert.False(t, o.Toggle(OptionFlip).Has(OptionFlip))
}

func TestCloneIsDeep(t *testing.T) {
	s := NewRenderState(WithVolumeDimensions(common.Extent3D{Width: 4, Height: 4, Depth: 4}))
	s.AddPoint(mgl32.Vec3{1, 1, 1})
	c := s.Clone()
	c.AddPoint(mgl32.Vec3{2, 2, 2})
	c.Rotate(1, 0, 0)
	assert.Len(t, s.Points(), 1)
	assert.Equal(t, mgl32.QuatIdent(), s.Orientation())
}

func TestClipRayThroughCenter(t *testing.T) {
	s := NewRenderState(WithVolumeDimensions(common.Extent3D{Width: 20, Height: 20, Depth: 20}))
	p := s.Projection(s.ViewSize)
	c := float32(s.ViewSize) / 2
	origin := p.VolumePoint(c, c, 0)
	t0, t1, ok := p.ClipRay(origin, p.ViewDirection())
	require.True(t, ok)
	assert.InDelta(t, 20, t1-t0, 1e-3)
	assertVecNear(t, mgl32.Vec3{0.5, 0.5, 0}, p.SampleCoord(c, c, t0))

	_, _, ok = p.ClipRay(p.VolumePoint(0, 0, 0), p.ViewDirection())
	assert.False(t, ok, "corner pixel at unit scale misses a 20 voxel box")
}

func TestSliceParamsRoundTrip(t *testing.T) {
	in := SliceParams{Width: 3, Height: 2, Z: 9, Channels: 2, RangeMin: [4]float32{1, 2}, RangeMax: [4]float32{10, 20}}
	out, err := UnmarshalSliceParams(in.Marshal())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
