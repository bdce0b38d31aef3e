package render_state

import (
	"encoding/binary"
	"fmt"
	"math"
)

// RenderParamsSize is the byte size of the RenderParams uniform block.
const RenderParamsSize = 240

// RenderParams is the GPU-side parameter block read by every ray-march kernel.
// Layout (std140-compatible, 16-byte aligned):
//
//	 0 inv_orientation      vec4<f32>  inverse orientation quaternion (x, y, z, w)
//	16 crop_inv_orientation vec4<f32>
//	32 trim_min             vec4<f32>  xyz fractions
//	48 trim_max             vec4<f32>
//	64 intensity_ratio      vec4<f32>
//	80 channel_color        array<vec4<f32>, 4>
//	144 background          vec4<f32>
//	160 dims                vec4<f32>  width, height, depth, zScale
//	176 translation         vec2<f32>
//	184 scale, slice_no, radius, crop_slice_no, step, alpha_power, light, shade  f32
//	216 view_size, options, channels  u32, then 12 bytes padding
type RenderParams struct {
	InvOrientation     [4]float32
	CropInvOrientation [4]float32
	TrimMin            [4]float32
	TrimMax            [4]float32
	IntensityRatio     [4]float32
	ChannelColor       [4][4]float32
	Background         [4]float32
	Dims               [4]float32
	Translation        [2]float32
	Scale              float32
	SliceNo            float32
	Radius             float32
	CropSliceNo        float32
	Step               float32
	AlphaPower         float32
	Light              float32
	Shade              float32
	ViewSize           uint32
	Options            uint32
	// Channels is the number of loaded volume channels; 0 is read as 4.
	Channels uint32
}

// Size returns the size in bytes of the marshaled block.
func (p *RenderParams) Size() int {
	return RenderParamsSize
}

// floats returns the float32 prefix of the block in layout order.
func (p *RenderParams) floats() []float32 {
	out := make([]float32, 0, 54)
	out = append(out, p.InvOrientation[:]...)
	out = append(out, p.CropInvOrientation[:]...)
	out = append(out, p.TrimMin[:]...)
	out = append(out, p.TrimMax[:]...)
	out = append(out, p.IntensityRatio[:]...)
	for i := range p.ChannelColor {
		out = append(out, p.ChannelColor[i][:]...)
	}
	out = append(out, p.Background[:]...)
	out = append(out, p.Dims[:]...)
	out = append(out, p.Translation[:]...)
	out = append(out, p.Scale, p.SliceNo, p.Radius, p.CropSliceNo, p.Step, p.AlphaPower, p.Light, p.Shade)
	return out
}

// Marshal serializes the block into a little-endian byte slice matching the WGSL layout.
//
// Returns:
//   - []byte: RenderParamsSize bytes
func (p *RenderParams) Marshal() []byte {
	buf := make([]byte, RenderParamsSize)
	fs := p.floats()
	for i, f := range fs {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	off := len(fs) * 4
	binary.LittleEndian.PutUint32(buf[off:], p.ViewSize)
	binary.LittleEndian.PutUint32(buf[off+4:], p.Options)
	binary.LittleEndian.PutUint32(buf[off+8:], p.Channels)
	return buf
}

// UnmarshalRenderParams decodes a block produced by Marshal.
//
// Parameters:
//   - buf: at least RenderParamsSize bytes
//
// Returns:
//   - RenderParams: the decoded block
//   - error: an error if buf is too short
func UnmarshalRenderParams(buf []byte) (RenderParams, error) {
	var p RenderParams
	if len(buf) < RenderParamsSize {
		return p, fmt.Errorf("render params: need %d bytes, got %d", RenderParamsSize, len(buf))
	}
	i := 0
	next := func() float32 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		i++
		return v
	}
	fill := func(dst []float32) {
		for k := range dst {
			dst[k] = next()
		}
	}
	fill(p.InvOrientation[:])
	fill(p.CropInvOrientation[:])
	fill(p.TrimMin[:])
	fill(p.TrimMax[:])
	fill(p.IntensityRatio[:])
	for c := range p.ChannelColor {
		fill(p.ChannelColor[c][:])
	}
	fill(p.Background[:])
	fill(p.Dims[:])
	fill(p.Translation[:])
	p.Scale = next()
	p.SliceNo = next()
	p.Radius = next()
	p.CropSliceNo = next()
	p.Step = next()
	p.AlphaPower = next()
	p.Light = next()
	p.Shade = next()
	p.ViewSize = binary.LittleEndian.Uint32(buf[i*4:])
	p.Options = binary.LittleEndian.Uint32(buf[i*4+4:])
	p.Channels = binary.LittleEndian.Uint32(buf[i*4+8:])
	return p, nil
}

// PointOverlaySize is the byte size of the PointOverlay uniform block.
const PointOverlaySize = 16

// PointOverlay is the selected-index block read by the point overlay pass.
//
//	0 selected i32, 4 count u32, 8 radius f32, 12 padding
type PointOverlay struct {
	Selected int32
	Count    uint32
	Radius   float32
}

// Marshal serializes the block.
func (p *PointOverlay) Marshal() []byte {
	buf := make([]byte, PointOverlaySize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(p.Selected))
	binary.LittleEndian.PutUint32(buf[4:], p.Count)
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(p.Radius))
	return buf
}

// UnmarshalPointOverlay decodes a block produced by PointOverlay.Marshal.
func UnmarshalPointOverlay(buf []byte) (PointOverlay, error) {
	if len(buf) < PointOverlaySize {
		return PointOverlay{}, fmt.Errorf("point overlay: need %d bytes, got %d", PointOverlaySize, len(buf))
	}
	return PointOverlay{
		Selected: int32(binary.LittleEndian.Uint32(buf[0:])),
		Count:    binary.LittleEndian.Uint32(buf[4:]),
		Radius:   math.Float32frombits(binary.LittleEndian.Uint32(buf[8:])),
	}, nil
}

// Binding slots of the render program, @group(0).
const (
	SlotVolume uint32 = iota
	SlotSampler
	SlotParams
	SlotToneLUT
	SlotOutput
	SlotPoints
	SlotOverlay
)

// Binding slots of the ingest program, @group(0).
const (
	SlotIngestVolume uint32 = iota
	SlotIngestSlice
	SlotIngestSamples
)

// SliceParamsSize is the byte size of the SliceParams uniform block.
const SliceParamsSize = 48

// SliceParams describes one slice written by the ingest kernel.
//
//	 0 width, height, z, channels  u32
//	16 range_min                   vec4<f32>
//	32 range_max                   vec4<f32>
type SliceParams struct {
	Width    uint32
	Height   uint32
	Z        uint32
	Channels uint32
	RangeMin [4]float32
	RangeMax [4]float32
}

// Marshal serializes the block.
func (p *SliceParams) Marshal() []byte {
	buf := make([]byte, SliceParamsSize)
	binary.LittleEndian.PutUint32(buf[0:], p.Width)
	binary.LittleEndian.PutUint32(buf[4:], p.Height)
	binary.LittleEndian.PutUint32(buf[8:], p.Z)
	binary.LittleEndian.PutUint32(buf[12:], p.Channels)
	for i := range 4 {
		binary.LittleEndian.PutUint32(buf[16+i*4:], math.Float32bits(p.RangeMin[i]))
		binary.LittleEndian.PutUint32(buf[32+i*4:], math.Float32bits(p.RangeMax[i]))
	}
	return buf
}

// UnmarshalSliceParams decodes a block produced by SliceParams.Marshal.
func UnmarshalSliceParams(buf []byte) (SliceParams, error) {
	var p SliceParams
	if len(buf) < SliceParamsSize {
		return p, fmt.Errorf("slice params: need %d bytes, got %d", SliceParamsSize, len(buf))
	}
	p.Width = binary.LittleEndian.Uint32(buf[0:])
	p.Height = binary.LittleEndian.Uint32(buf[4:])
	p.Z = binary.LittleEndian.Uint32(buf[8:])
	p.Channels = binary.LittleEndian.Uint32(buf[12:])
	for i := range 4 {
		p.RangeMin[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[16+i*4:]))
		p.RangeMax[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[32+i*4:]))
	}
	return p, nil
}
