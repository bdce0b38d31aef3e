package software

import (
	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// volumeSampler reads an RGBA8 texture with clamp-to-edge addressing.
type volumeSampler struct {
	data    []byte
	w, h, d int
	linear  bool
}

func newVolumeSampler(t *texture, filter common.FilterMode) *volumeSampler {
	return &volumeSampler{
		data:   t.data,
		w:      t.extent.Width,
		h:      t.extent.Height,
		d:      t.extent.Depth,
		linear: filter == common.FilterLinear,
	}
}

func (s *volumeSampler) texel(x, y, z int) [4]float32 {
	x = common.ClampInt(x, 0, s.w-1)
	y = common.ClampInt(y, 0, s.h-1)
	z = common.ClampInt(z, 0, s.d-1)
	i := ((z*s.h+y)*s.w + x) * 4
	return [4]float32{
		float32(s.data[i]) / 255,
		float32(s.data[i+1]) / 255,
		float32(s.data[i+2]) / 255,
		float32(s.data[i+3]) / 255,
	}
}

// sample returns the four channels at normalized coordinate c.
func (s *volumeSampler) sample(c mgl32.Vec3) [4]float32 {
	fx := c[0] * float32(s.w)
	fy := c[1] * float32(s.h)
	fz := c[2] * float32(s.d)
	if !s.linear {
		return s.texel(int(math32.Floor(fx)), int(math32.Floor(fy)), int(math32.Floor(fz)))
	}

	fx, fy, fz = fx-0.5, fy-0.5, fz-0.5
	x0, y0, z0 := math32.Floor(fx), math32.Floor(fy), math32.Floor(fz)
	ax, ay, az := fx-x0, fy-y0, fz-z0
	ix, iy, iz := int(x0), int(y0), int(z0)

	var out [4]float32
	for corner := range 8 {
		dx, dy, dz := corner&1, (corner>>1)&1, (corner>>2)&1
		wgt := lerpWeight(ax, dx) * lerpWeight(ay, dy) * lerpWeight(az, dz)
		if wgt == 0 {
			continue
		}
		t := s.texel(ix+dx, iy+dy, iz+dz)
		for ch := range out {
			out[ch] += t[ch] * wgt
		}
	}
	return out
}

func lerpWeight(a float32, side int) float32 {
	if side == 1 {
		return a
	}
	return 1 - a
}

// gradient returns the central-difference gradient of channel ch at c, in texture axes.
func (s *volumeSampler) gradient(c mgl32.Vec3, ch int) mgl32.Vec3 {
	dx := 1 / float32(s.w)
	dy := 1 / float32(s.h)
	dz := 1 / float32(s.d)
	return mgl32.Vec3{
		s.sample(c.Add(mgl32.Vec3{dx, 0, 0}))[ch] - s.sample(c.Sub(mgl32.Vec3{dx, 0, 0}))[ch],
		s.sample(c.Add(mgl32.Vec3{0, dy, 0}))[ch] - s.sample(c.Sub(mgl32.Vec3{0, dy, 0}))[ch],
		s.sample(c.Add(mgl32.Vec3{0, 0, dz}))[ch] - s.sample(c.Sub(mgl32.Vec3{0, 0, dz}))[ch],
	}
}

// packRGBA8 packs a color the way WGSL pack4x8unorm does.
func packRGBA8(dst []byte, c [4]float32) {
	for i, v := range c {
		dst[i] = uint8(math32.Floor(common.Clamp(v, 0, 1)*255 + 0.5))
	}
}
