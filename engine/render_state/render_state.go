// Package render_state holds the camera and geometry parameter block of a volume render:
// orientation, scale, slicing, cropping, trimming, options and point markers.
package render_state

import (
	"math"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/go-gl/mathgl/mgl32"
)

// DefaultKernel is the kernel selected by a fresh RenderState.
const DefaultKernel = "preset_ftb"

// TrimBounds holds per-axis [min, max] fractions of the volume kept by the kernels.
type TrimBounds struct {
	XMin, XMax float32
	YMin, YMax float32
	ZMin, ZMax float32
}

// FullTrim keeps the entire volume.
func FullTrim() TrimBounds {
	return TrimBounds{0, 1, 0, 1, 0, 1}
}

// Clamped returns the bounds clamped to [0, 1] with min <= max on every axis.
func (t TrimBounds) Clamped() TrimBounds {
	fix := func(lo, hi float32) (float32, float32) {
		lo, hi = common.Clamp(lo, 0, 1), common.Clamp(hi, 0, 1)
		if lo > hi {
			lo, hi = hi, lo
		}
		return lo, hi
	}
	t.XMin, t.XMax = fix(t.XMin, t.XMax)
	t.YMin, t.YMax = fix(t.YMin, t.YMax)
	t.ZMin, t.ZMax = fix(t.ZMin, t.ZMax)
	return t
}

// RenderState is the parameter block consumed by one render call. Callers mutate it
// between calls; the renderer only reads it.
//
// Orientation and crop orientation are independent quaternions that are only ever
// composed. The normals frame tracks the volume's own axes in view space and is updated
// by the same compositions, so incremental rotations never go through Euler angles.
type RenderState struct {
	orientation     mgl32.Quat
	normals         [3]mgl32.Vec3
	cropOrientation mgl32.Quat

	dims   common.Extent3D
	zScale float32

	sliceNo     int
	sliceMax    int
	cropSliceNo int

	points   []mgl32.Vec3
	selected int

	// Scale is the isotropic zoom, output pixels per voxel.
	Scale float32
	// Translation pans the image in output pixels.
	Translation [2]float32
	// Trim restricts sampling to a sub-box of the volume.
	Trim TrimBounds
	// IntensityRatio scales each channel's sampled intensity.
	IntensityRatio [4]float32
	// ChannelColors is the RGB color of each channel.
	ChannelColors [4][3]float32
	// Light scales the lit contribution when shading is on.
	Light float32
	// Shade is the weight of the gradient term when shading is on, in [0, 1].
	Shade float32
	// AlphaPower is the exponent applied to looked-up opacities.
	AlphaPower float32
	// Step is the ray-march step length in voxels.
	Step float32
	// ViewSize is the edge length of the square output in pixels.
	ViewSize int
	// Kernel is the name of the active rendering kernel.
	Kernel string
	// Background is the RGB color behind the volume.
	Background [3]float32
	// Options is the option bitset.
	Options RenderOption
	// PointRadius is the on-screen radius of point markers in pixels.
	PointRadius float32
}

// NewRenderState creates a RenderState with engine defaults and applies the options.
//
// Parameters:
//   - options: functional options applied after the defaults
//
// Returns:
//   - *RenderState: the new state
func NewRenderState(options ...RenderStateOption) *RenderState {
	s := &RenderState{
		orientation:     mgl32.QuatIdent(),
		normals:         identityFrame(),
		cropOrientation: mgl32.QuatIdent(),
		zScale:          1,
		selected:        -1,
		Scale:           1,
		Trim:            FullTrim(),
		IntensityRatio:  [4]float32{1, 1, 1, 1},
		ChannelColors: [4][3]float32{
			{1, 0, 0},
			{0, 1, 0},
			{0, 0, 1},
			{1, 1, 1},
		},
		Light:       1,
		Shade:       0.3,
		AlphaPower:  2,
		Step:        1,
		ViewSize:    512,
		Kernel:      DefaultKernel,
		Options:     OptionLinearSampling,
		PointRadius: 4,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func identityFrame() [3]mgl32.Vec3 {
	return [3]mgl32.Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// SliceMax returns the slice maximum for a volume: the bounding-sphere diameter of the
// volume with its depth scaled by zScale, rounded up to whole voxels.
//
// Parameters:
//   - dims: the volume dimensions in voxels
//   - zScale: the anisotropic depth scale
//
// Returns:
//   - int: the slice maximum, 0 for an empty volume
func SliceMax(dims common.Extent3D, zScale float32) int {
	w := float64(dims.Width)
	h := float64(dims.Height)
	d := float64(dims.Depth) * float64(zScale)
	return int(math.Ceil(math.Sqrt(w*w + h*h + d*d)))
}

// SetVolumeDimensions records the dimensions of a newly loaded volume, recomputes the
// slice maxima and resets the slice to show the whole volume.
//
// Parameters:
//   - dims: the volume dimensions in voxels
func (s *RenderState) SetVolumeDimensions(dims common.Extent3D) {
	s.dims = dims
	s.sliceMax = SliceMax(dims, s.zScale)
	s.sliceNo = s.sliceMax
	s.cropSliceNo = common.ClampInt(s.cropSliceNo, 0, s.sliceMax)
}

// SetZScale changes the anisotropic depth scale. The slice maxima are recomputed first;
// a slice sitting at the old maximum follows the new one, others are clamped.
//
// Parameters:
//   - z: the new depth scale, values <= 0 are ignored
func (s *RenderState) SetZScale(z float32) {
	if z <= 0 {
		return
	}
	atMax := s.sliceNo == s.sliceMax
	s.zScale = z
	s.sliceMax = SliceMax(s.dims, z)
	if atMax {
		s.sliceNo = s.sliceMax
	}
	s.sliceNo = common.ClampInt(s.sliceNo, 0, s.sliceMax)
	s.cropSliceNo = common.ClampInt(s.cropSliceNo, 0, s.sliceMax)
}

// SetSlice moves the slice plane, clamped to [0, SliceMax].
func (s *RenderState) SetSlice(n int) {
	s.sliceNo = common.ClampInt(n, 0, s.sliceMax)
}

// SetCropSlice moves the crop plane, clamped to [0, SliceMax].
func (s *RenderState) SetCropSlice(n int) {
	s.cropSliceNo = common.ClampInt(n, 0, s.sliceMax)
}

// Dimensions returns the volume dimensions the state was configured for.
func (s *RenderState) Dimensions() common.Extent3D { return s.dims }

// ZScale returns the anisotropic depth scale.
func (s *RenderState) ZScale() float32 { return s.zScale }

// Slice returns the current slice index.
func (s *RenderState) Slice() int { return s.sliceNo }

// SliceMax returns the current slice maximum.
func (s *RenderState) SliceMax() int { return s.sliceMax }

// CropSlice returns the crop slice index.
func (s *RenderState) CropSlice() int { return s.cropSliceNo }

// Radius returns half the bounding-sphere diameter.
func (s *RenderState) Radius() float32 { return float32(s.sliceMax) / 2 }

// LockCrop snapshots the current orientation and slice into the crop plane and enables
// crop lock. Subsequent rotations leave the crop plane fixed in volume space.
func (s *RenderState) LockCrop() {
	s.cropOrientation = s.orientation
	s.cropSliceNo = s.sliceNo
	s.Options = s.Options.Set(OptionCropLock, true)
}

// UnlockCrop disables the crop plane.
func (s *RenderState) UnlockCrop() {
	s.Options = s.Options.Set(OptionCropLock, false)
}

// CropOrientation returns the crop plane quaternion.
func (s *RenderState) CropOrientation() mgl32.Quat { return s.cropOrientation }

// SetCropOrientation replaces the crop plane quaternion. Used when restoring sessions.
func (s *RenderState) SetCropOrientation(q mgl32.Quat) {
	s.cropOrientation = q.Normalize()
}

// Clone returns a deep copy of the state.
func (s *RenderState) Clone() *RenderState {
	c := *s
	c.points = append([]mgl32.Vec3(nil), s.points...)
	return &c
}

// GPUParams builds the uniform block for an output of targetSize pixels. When targetSize
// differs from ViewSize the scale and translation are rescaled so the framing is unchanged.
//
// Parameters:
//   - targetSize: the output edge length in pixels
//
// Returns:
//   - RenderParams: the parameter block
func (s *RenderState) GPUParams(targetSize int) RenderParams {
	if targetSize <= 0 {
		targetSize = s.ViewSize
	}
	ratio := float32(1)
	if s.ViewSize > 0 {
		ratio = float32(targetSize) / float32(s.ViewSize)
	}
	inv := s.orientation.Inverse()
	cropInv := s.cropOrientation.Inverse()
	trim := s.Trim.Clamped()

	p := RenderParams{
		InvOrientation:     [4]float32{inv.V[0], inv.V[1], inv.V[2], inv.W},
		CropInvOrientation: [4]float32{cropInv.V[0], cropInv.V[1], cropInv.V[2], cropInv.W},
		TrimMin:            [4]float32{trim.XMin, trim.YMin, trim.ZMin, 0},
		TrimMax:            [4]float32{trim.XMax, trim.YMax, trim.ZMax, 0},
		IntensityRatio:     s.IntensityRatio,
		Background:         [4]float32{s.Background[0], s.Background[1], s.Background[2], 1},
		Dims:               [4]float32{float32(s.dims.Width), float32(s.dims.Height), float32(s.dims.Depth), s.zScale},
		Translation:        [2]float32{s.Translation[0] * ratio, s.Translation[1] * ratio},
		Scale:              s.Scale * ratio,
		SliceNo:            float32(s.sliceNo),
		Radius:             s.Radius(),
		CropSliceNo:        float32(s.cropSliceNo),
		Step:               s.Step,
		AlphaPower:         s.AlphaPower,
		Light:              s.Light,
		Shade:              s.Shade,
		ViewSize:           uint32(targetSize),
		Options:            uint32(s.Options),
	}
	for c := range s.ChannelColors {
		p.ChannelColor[c] = [4]float32{s.ChannelColors[c][0], s.ChannelColors[c][1], s.ChannelColors[c][2], 1}
	}
	return p
}

// Projection returns the sampling transform for an output of targetSize pixels.
func (s *RenderState) Projection(targetSize int) Projection {
	return NewProjection(s.GPUParams(targetSize))
}
