package render_state

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Projection maps output pixels to normalized volume sampling coordinates and back.
// It is built from a RenderParams block so the CPU path and the kernels share one
// definition of the transform.
type Projection struct {
	right   mgl32.Vec3
	up      mgl32.Vec3
	viewDir mgl32.Vec3

	cropDir    mgl32.Vec3
	cropOffset float32

	center      float32
	translation [2]float32
	scale       float32
	depthOffset float32
	half        mgl32.Vec3
	extent      mgl32.Vec3
	flip        bool
}

// NewProjection derives the transform from a parameter block.
//
// Parameters:
//   - p: the parameter block
//
// Returns:
//   - Projection: the transform
func NewProjection(p RenderParams) Projection {
	inv := quatFromParams(p.InvOrientation)
	cropInv := quatFromParams(p.CropInvOrientation)
	extent := mgl32.Vec3{p.Dims[0], p.Dims[1], p.Dims[2] * p.Dims[3]}
	scale := p.Scale
	if scale == 0 {
		scale = 1
	}
	return Projection{
		right:       inv.Rotate(mgl32.Vec3{1, 0, 0}),
		up:          inv.Rotate(mgl32.Vec3{0, 1, 0}),
		viewDir:     inv.Rotate(mgl32.Vec3{0, 0, 1}),
		cropDir:     cropInv.Rotate(mgl32.Vec3{0, 0, 1}),
		cropOffset:  p.Radius - p.CropSliceNo,
		center:      float32(p.ViewSize) / 2,
		translation: p.Translation,
		scale:       scale,
		depthOffset: p.Radius - p.SliceNo,
		half:        extent.Mul(0.5),
		extent:      extent,
		flip:        RenderOption(p.Options).Has(OptionFlip),
	}
}

func quatFromParams(v [4]float32) mgl32.Quat {
	return mgl32.Quat{W: v[3], V: mgl32.Vec3{v[0], v[1], v[2]}}
}

// ViewDirection returns the ray direction in volume space.
func (p Projection) ViewDirection() mgl32.Vec3 { return p.viewDir }

// SampleCoord returns the normalized sampling coordinate of output pixel (px, py) at ray
// parameter t voxels past the slice plane. Coordinates outside [0, 1] lie outside the volume.
//
// Parameters:
//   - px, py: output position in pixels, pixel centers at +0.5
//   - t: distance along the view ray from the slice plane, in voxels
//
// Returns:
//   - mgl32.Vec3: the sampling coordinate
func (p Projection) SampleCoord(px, py, t float32) mgl32.Vec3 {
	return p.Normalize(p.VolumePoint(px, py, t))
}

// VolumePoint returns the centered volume-space position (voxels, z scaled) of a pixel
// at ray parameter t.
func (p Projection) VolumePoint(px, py, t float32) mgl32.Vec3 {
	vx := (px - p.center - p.translation[0]) / p.scale
	vy := (py - p.center - p.translation[1]) / p.scale
	v := p.right.Mul(vx).Add(p.up.Mul(vy))
	return v.Add(p.viewDir.Mul(p.depthOffset + t))
}

// HalfExtent returns half the volume extent in voxels, z scaled.
func (p Projection) HalfExtent() mgl32.Vec3 { return p.half }

// Scale returns the output pixels per voxel.
func (p Projection) Scale() float32 { return p.scale }

// Normalize maps a centered volume-space position to its sampling coordinate.
func (p Projection) Normalize(v mgl32.Vec3) mgl32.Vec3 {
	v = v.Add(p.half)
	c := mgl32.Vec3{safeDiv(v[0], p.extent[0]), safeDiv(v[1], p.extent[1]), safeDiv(v[2], p.extent[2])}
	if p.flip {
		c[2] = 1 - c[2]
	}
	return c
}

// Project maps a normalized sampling coordinate back to the output. It is the inverse
// of SampleCoord.
//
// Parameters:
//   - c: the normalized coordinate
//
// Returns:
//   - px, py: the output position in pixels
//   - t: the ray parameter, negative when the point lies in front of the slice plane
func (p Projection) Project(c mgl32.Vec3) (px, py, t float32) {
	if p.flip {
		c[2] = 1 - c[2]
	}
	v := mgl32.Vec3{c[0] * p.extent[0], c[1] * p.extent[1], c[2] * p.extent[2]}.Sub(p.half)
	px = v.Dot(p.right)*p.scale + p.center + p.translation[0]
	py = v.Dot(p.up)*p.scale + p.center + p.translation[1]
	t = v.Dot(p.viewDir) - p.depthOffset
	return px, py, t
}

// CropKeeps reports whether a normalized coordinate survives the crop plane test.
// Without toggle the side behind the locked plane is kept.
func (p Projection) CropKeeps(c mgl32.Vec3, toggle bool) bool {
	if p.flip {
		c[2] = 1 - c[2]
	}
	v := mgl32.Vec3{c[0] * p.extent[0], c[1] * p.extent[1], c[2] * p.extent[2]}.Sub(p.half)
	return p.CropKeepsPoint(v, toggle)
}

// CropKeepsPoint is CropKeeps for a centered volume-space position.
func (p Projection) CropKeepsPoint(v mgl32.Vec3, toggle bool) bool {
	behind := v.Dot(p.cropDir) >= p.cropOffset
	return behind != toggle
}

// ClipRay intersects the ray origin + dir*t with the volume box and returns the entry
// and exit parameters. ok is false when the ray misses the box.
//
// Parameters:
//   - origin: a centered volume-space point on the ray
//   - dir: the ray direction
//
// Returns:
//   - t0, t1: the entry and exit parameters, t0 <= t1
//   - ok: whether the ray hits the box
func (p Projection) ClipRay(origin, dir mgl32.Vec3) (t0, t1 float32, ok bool) {
	t0, t1 = -math.MaxFloat32, math.MaxFloat32
	for i := range 3 {
		if math32.Abs(dir[i]) < 1e-8 {
			if origin[i] < -p.half[i] || origin[i] > p.half[i] {
				return 0, 0, false
			}
			continue
		}
		a := (-p.half[i] - origin[i]) / dir[i]
		b := (p.half[i] - origin[i]) / dir[i]
		if a > b {
			a, b = b, a
		}
		t0 = max(t0, a)
		t1 = min(t1, b)
	}
	return t0, t1, t0 <= t1
}

func safeDiv(a, b float32) float32 {
	if b == 0 {
		return 0
	}
	return a / b
}
