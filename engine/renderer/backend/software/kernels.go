package software

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-volume/common"
	rs "github.com/Carmen-Shannon/oxy-volume/engine/render_state"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// invocation runs one kernel invocation at global id (x, y, z).
type invocation func(x, y, z uint32)

// kernelFunc resolves a dispatch's bindings once and returns the per-invocation body.
type kernelFunc func(r resources) (invocation, error)

// Entry point names with a software implementation.
const (
	EntryFrontToBack = "preset_ftb"
	EntryBackToFront = "preset_btf"
	EntryMIP         = "preset_mip"
	EntryOverlay     = "overlay_points"
	EntryWriteSlice  = "write_slice"
)

type compositeMode int

const (
	compositeFrontToBack compositeMode = iota
	compositeBackToFront
	compositeMaxIntensity
)

func builtinKernels() map[string]kernelFunc {
	return map[string]kernelFunc{
		EntryFrontToBack: rayMarchKernel(compositeFrontToBack),
		EntryBackToFront: rayMarchKernel(compositeBackToFront),
		EntryMIP:         rayMarchKernel(compositeMaxIntensity),
		EntryOverlay:     overlayKernel,
		EntryWriteSlice:  writeSliceKernel,
	}
}

// marchContext is the per-dispatch state shared by every pixel of a ray-march kernel.
type marchContext struct {
	params rs.RenderParams
	proj   rs.Projection
	opts   rs.RenderOption
	vol    *volumeSampler
	lut    []float32
	out    []byte
	size   int
	mode   compositeMode

	bg     [3]float32
	colors [4][3]float32
	dir    mgl32.Vec3
	active int
}

func rayMarchKernel(mode compositeMode) kernelFunc {
	return func(r resources) (invocation, error) {
		ctx, err := newMarchContext(r, mode)
		if err != nil {
			return nil, err
		}
		return ctx.pixel, nil
	}
}

func newMarchContext(r resources, mode compositeMode) (*marchContext, error) {
	pb, err := r.buffer(rs.SlotParams)
	if err != nil {
		return nil, err
	}
	params, err := rs.UnmarshalRenderParams(pb.data)
	if err != nil {
		return nil, err
	}
	tex, err := r.texture(rs.SlotVolume)
	if err != nil {
		return nil, err
	}
	filter, err := r.sampler(rs.SlotSampler)
	if err != nil {
		return nil, err
	}
	lb, err := r.buffer(rs.SlotToneLUT)
	if err != nil {
		return nil, err
	}
	if len(lb.data) < 256*16 {
		return nil, fmt.Errorf("tone lut: need %d bytes, got %d", 256*16, len(lb.data))
	}
	ob, err := r.buffer(rs.SlotOutput)
	if err != nil {
		return nil, err
	}
	size := int(params.ViewSize)
	if len(ob.data) < size*size*4 {
		return nil, fmt.Errorf("output: need %d bytes, got %d", size*size*4, len(ob.data))
	}

	ctx := &marchContext{
		params: params,
		proj:   rs.NewProjection(params),
		opts:   rs.RenderOption(params.Options),
		vol:    newVolumeSampler(tex, filter),
		lut:    common.BytesToFloat32s(lb.data[:256*16]),
		out:    ob.data,
		size:   size,
		mode:   mode,
		bg:     [3]float32{params.Background[0], params.Background[1], params.Background[2]},
		active: int(params.Channels),
	}
	if ctx.active <= 0 || ctx.active > 4 {
		ctx.active = 4
	}
	for c := range ctx.colors {
		ctx.colors[c] = [3]float32{params.ChannelColor[c][0], params.ChannelColor[c][1], params.ChannelColor[c][2]}
	}
	ctx.dir = ctx.proj.ViewDirection()
	return ctx, nil
}

func (m *marchContext) lookup(v float32, ch int) float32 {
	idx := int(common.Clamp(v, 0, 1)*255 + 0.5)
	return m.lut[idx*4+ch]
}

func (m *marchContext) inTrim(c mgl32.Vec3) bool {
	p := m.params
	for i := range 3 {
		if c[i] < p.TrimMin[i] || c[i] > p.TrimMax[i] {
			return false
		}
	}
	return true
}

// keeps reports whether the sample at centered position v, coordinate c, is visible.
func (m *marchContext) keeps(v, c mgl32.Vec3) bool {
	if !m.inTrim(c) {
		return false
	}
	if m.opts.Has(rs.OptionCropLock) && !m.proj.CropKeepsPoint(v, m.opts.Has(rs.OptionCropToggle)) {
		return false
	}
	return true
}

func (m *marchContext) intensities(c mgl32.Vec3) [4]float32 {
	s := m.vol.sample(c)
	for ch := range s {
		s[ch] = common.Clamp(s[ch]*m.params.IntensityRatio[ch], 0, 1)
	}
	return s
}

// shadeFactor is the lighting term of channel ch at c.
func (m *marchContext) shadeFactor(c mgl32.Vec3, ch int) float32 {
	if !m.opts.Has(rs.OptionShading) {
		return 1
	}
	g := m.vol.gradient(c, ch)
	if m.opts.Has(rs.OptionFlip) {
		g[2] = -g[2]
	}
	l := g.Len()
	if l < 1e-6 {
		return 1
	}
	n := g.Mul(1 / l)
	return (1 - m.params.Shade) + m.params.Shade*m.params.Light*math32.Abs(n.Dot(m.dir))
}

func (m *marchContext) pixel(x, y, _ uint32) {
	if int(x) >= m.size || int(y) >= m.size {
		return
	}
	px, py := float32(x)+0.5, float32(y)+0.5
	origin := m.proj.VolumePoint(px, py, 0)

	var rgb [3]float32
	switch {
	case m.opts.Has(rs.OptionMPR):
		rgb = m.singlePlane(origin)
	default:
		rgb = m.march(origin)
	}

	if m.opts.Has(rs.OptionPlaneMode) {
		rgb = m.planeTint(origin, rgb)
	}
	if m.opts.Has(rs.OptionBoundingBox) && m.onBoxEdge(origin) {
		for i := range rgb {
			rgb[i] = rgb[i]*0.2 + 0.8
		}
	}

	i := (int(y)*m.size + int(x)) * 4
	packRGBA8(m.out[i:i+4], [4]float32{rgb[0], rgb[1], rgb[2], 1})
}

func (m *marchContext) insideBox(v mgl32.Vec3) bool {
	h := m.proj.HalfExtent()
	return math32.Abs(v[0]) <= h[0] && math32.Abs(v[1]) <= h[1] && math32.Abs(v[2]) <= h[2]
}

// singlePlane renders the slice plane without accumulation.
func (m *marchContext) singlePlane(origin mgl32.Vec3) [3]float32 {
	if !m.insideBox(origin) {
		return m.bg
	}
	c := m.proj.Normalize(origin)
	if !m.keeps(origin, c) {
		return m.bg
	}
	return m.resolveMax(m.intensities(c))
}

// resolveMax composites per-channel maxima over the background.
func (m *marchContext) resolveMax(mx [4]float32) [3]float32 {
	var rgb [3]float32
	var alpha float32
	for ch, v := range mx {
		a := m.lookup(v, ch)
		alpha = max(alpha, a)
		for k := range rgb {
			rgb[k] += m.colors[ch][k] * v * a
		}
	}
	for k := range rgb {
		rgb[k] += m.bg[k] * (1 - alpha)
	}
	return rgb
}

func (m *marchContext) march(origin mgl32.Vec3) [3]float32 {
	t0, t1, ok := m.proj.ClipRay(origin, m.dir)
	if !ok {
		return m.bg
	}
	t0 = max(t0, 0)
	t1 = min(t1, m.params.SliceNo)
	if t0 > t1 {
		return m.bg
	}

	step := max(m.params.Step, 0.05)
	power := max(m.params.AlphaPower, 1e-3)
	adaptive := m.opts.Has(rs.OptionAdaptiveStep)

	var color [4][3]float32
	var acc [4]float32
	var mx [4]float32
	mult := float32(1)

	t := t0
	if m.mode == compositeBackToFront {
		t = t1
	}
	for t >= t0 && t <= t1 {
		v := origin.Add(m.dir.Mul(t))
		c := m.proj.Normalize(v)
		empty := true
		if m.keeps(v, c) {
			s := m.intensities(c)
			switch m.mode {
			case compositeMaxIntensity:
				for ch := range s {
					mx[ch] = max(mx[ch], s[ch])
					if s[ch] > 0 {
						empty = false
					}
				}
			default:
				for ch := range s {
					a := math32.Pow(m.lookup(s[ch], ch), power)
					if a < 1e-4 {
						continue
					}
					empty = false
					f := s[ch] * m.shadeFactor(c, ch)
					if m.mode == compositeFrontToBack {
						w := a * (1 - acc[ch])
						for k := range 3 {
							color[ch][k] += m.colors[ch][k] * f * w
						}
						acc[ch] += w
					} else {
						for k := range 3 {
							color[ch][k] = color[ch][k]*(1-a) + m.colors[ch][k]*f*a
						}
						acc[ch] = acc[ch]*(1-a) + a
					}
				}
			}
		}
		if m.mode == compositeFrontToBack && m.saturated(acc) {
			break
		}
		if adaptive && empty {
			mult = min(mult*2, 4)
		} else {
			mult = 1
		}
		if m.mode == compositeBackToFront {
			t -= step * mult
		} else {
			t += step * mult
		}
	}

	if m.mode == compositeMaxIntensity {
		return m.resolveMax(mx)
	}
	var rgb [3]float32
	var alpha float32
	for ch := range color {
		alpha = max(alpha, acc[ch])
		for k := range rgb {
			rgb[k] += color[ch][k]
		}
	}
	for k := range rgb {
		rgb[k] += m.bg[k] * (1 - alpha)
	}
	return rgb
}

// saturated reports whether every loaded channel's accumulated alpha is above 0.99.
func (m *marchContext) saturated(acc [4]float32) bool {
	for ch := range m.active {
		if acc[ch] <= 0.99 {
			return false
		}
	}
	return true
}

// planeTint blends the slice plane's intensities over rgb.
func (m *marchContext) planeTint(origin mgl32.Vec3, rgb [3]float32) [3]float32 {
	if !m.insideBox(origin) {
		return rgb
	}
	s := m.intensities(m.proj.Normalize(origin))
	var tint [3]float32
	for ch, v := range s {
		for k := range tint {
			tint[k] += m.colors[ch][k] * v
		}
	}
	for k := range rgb {
		rgb[k] = rgb[k]*0.5 + common.Clamp(tint[k], 0, 1)*0.5
	}
	return rgb
}

// onBoxEdge reports whether the ray enters or leaves the volume within one output pixel
// of a box edge.
func (m *marchContext) onBoxEdge(origin mgl32.Vec3) bool {
	t0, t1, ok := m.proj.ClipRay(origin, m.dir)
	if !ok {
		return false
	}
	h := m.proj.HalfExtent()
	eps := 1 / m.proj.Scale()
	for _, t := range [2]float32{t0, t1} {
		p := origin.Add(m.dir.Mul(t))
		near := 0
		for i := range 3 {
			if math32.Abs(math32.Abs(p[i])-h[i]) <= eps {
				near++
			}
		}
		if near >= 2 {
			return true
		}
	}
	return false
}

// overlayKernel draws the point markers over the output image.
func overlayKernel(r resources) (invocation, error) {
	pb, err := r.buffer(rs.SlotParams)
	if err != nil {
		return nil, err
	}
	params, err := rs.UnmarshalRenderParams(pb.data)
	if err != nil {
		return nil, err
	}
	ob, err := r.buffer(rs.SlotOverlay)
	if err != nil {
		return nil, err
	}
	overlay, err := rs.UnmarshalPointOverlay(ob.data)
	if err != nil {
		return nil, err
	}
	ptb, err := r.buffer(rs.SlotPoints)
	if err != nil {
		return nil, err
	}
	out, err := r.buffer(rs.SlotOutput)
	if err != nil {
		return nil, err
	}

	proj := rs.NewProjection(params)
	size := int(params.ViewSize)
	count := min(int(overlay.Count), len(ptb.data)/16)
	screen := make([][2]float32, count)
	for i := range screen {
		c := mgl32.Vec3{
			common.Float32At(ptb.data, i*16),
			common.Float32At(ptb.data, i*16+4),
			common.Float32At(ptb.data, i*16+8),
		}
		px, py, _ := proj.Project(c)
		screen[i] = [2]float32{px, py}
	}
	radius := max(overlay.Radius, 1)

	return func(x, y, _ uint32) {
		if int(x) >= size || int(y) >= size {
			return
		}
		fx, fy := float32(x)+0.5, float32(y)+0.5
		for i, p := range screen {
			d := math32.Hypot(fx-p[0], fy-p[1])
			if math32.Abs(d-radius) > 1 && d > 1 {
				continue
			}
			col := [4]float32{1, 0.2, 0.2, 1}
			if int32(i) == overlay.Selected {
				col = [4]float32{1, 1, 0, 1}
			}
			o := (int(y)*size + int(x)) * 4
			packRGBA8(out.data[o:o+4], col)
		}
	}, nil
}

// writeSliceKernel rescales one slice of raw samples into a texture layer.
func writeSliceKernel(r resources) (invocation, error) {
	tex, err := r.texture(rs.SlotIngestVolume)
	if err != nil {
		return nil, err
	}
	pb, err := r.buffer(rs.SlotIngestSlice)
	if err != nil {
		return nil, err
	}
	params, err := rs.UnmarshalSliceParams(pb.data)
	if err != nil {
		return nil, err
	}
	sb, err := r.buffer(rs.SlotIngestSamples)
	if err != nil {
		return nil, err
	}
	e := tex.extent
	if int(params.Z) >= e.Depth {
		return nil, fmt.Errorf("write slice: z %d outside depth %d", params.Z, e.Depth)
	}
	w, h := int(params.Width), int(params.Height)
	if len(sb.data) < w*h*16 {
		return nil, fmt.Errorf("write slice: need %d sample bytes, got %d", w*h*16, len(sb.data))
	}
	channels := min(int(params.Channels), 4)

	return func(x, y, _ uint32) {
		if int(x) >= w || int(y) >= h || int(x) >= e.Width || int(y) >= e.Height {
			return
		}
		src := (int(y)*w + int(x)) * 16
		var px [4]float32
		for ch := range channels {
			v := common.Float32At(sb.data, src+ch*4)
			span := params.RangeMax[ch] - params.RangeMin[ch]
			if span <= 0 {
				if v > params.RangeMin[ch] {
					px[ch] = 1
				}
				continue
			}
			px[ch] = (v - params.RangeMin[ch]) / span
		}
		dst := ((int(params.Z)*e.Height+int(y))*e.Width + int(x)) * 4
		packRGBA8(tex.data[dst:dst+4], px)
	}, nil
}
