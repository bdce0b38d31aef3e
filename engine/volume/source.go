package volume

import (
	"fmt"
	"math"
)

// Slice is one z layer of raw samples, one plane per channel in row-major order.
type Slice struct {
	Width    int
	Height   int
	Channels [][]uint16
}

// Validate checks that every channel plane holds Width*Height samples.
func (s Slice) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("slice: invalid size %dx%d", s.Width, s.Height)
	}
	if len(s.Channels) == 0 || len(s.Channels) > MaxChannels {
		return fmt.Errorf("slice: %d channels, want 1 to %d", len(s.Channels), MaxChannels)
	}
	n := s.Width * s.Height
	for ch, plane := range s.Channels {
		if len(plane) != n {
			return fmt.Errorf("slice: channel %d has %d samples, want %d", ch, len(plane), n)
		}
	}
	return nil
}

// Resample returns the slice scaled to width x height with nearest neighbor sampling.
// It is used when a volume was reallocated at a suggested downsize ratio.
//
// Parameters:
//   - width: the target width
//   - height: the target height
//
// Returns:
//   - Slice: the resampled slice, s itself when the size already matches
func (s Slice) Resample(width, height int) Slice {
	if width == s.Width && height == s.Height {
		return s
	}
	out := Slice{Width: width, Height: height, Channels: make([][]uint16, len(s.Channels))}
	sx := float64(s.Width) / float64(width)
	sy := float64(s.Height) / float64(height)
	for ch, plane := range s.Channels {
		dst := make([]uint16, width*height)
		for y := range height {
			srcY := min(int(math.Floor((float64(y)+0.5)*sy)), s.Height-1)
			for x := range width {
				srcX := min(int(math.Floor((float64(x)+0.5)*sx)), s.Width-1)
				dst[y*width+x] = plane[srcY*s.Width+srcX]
			}
		}
		out.Channels[ch] = dst
	}
	return out
}

// SliceSource produces the slices of a dataset in z order.
type SliceSource interface {
	// Descriptor returns the dataset dimensions, channel count and calibration.
	Descriptor() Descriptor

	// Slice decodes layer z.
	//
	// Parameters:
	//   - z: the layer index, 0 <= z < depth
	//
	// Returns:
	//   - Slice: the raw samples
	//   - error: a decode error
	Slice(z int) (Slice, error)
}

// phantomSource synthesizes a test dataset: a graded sphere in channel 0, a thin shell in
// channel 1, a z ramp in channel 2 and a small off-center blob in channel 3.
type phantomSource struct {
	desc Descriptor
}

// NewPhantomSource returns a synthetic SliceSource of the given size.
//
// Parameters:
//   - width, height, depth: the dataset extent
//   - channels: the channel count, 1 to 4
//
// Returns:
//   - SliceSource: the phantom
func NewPhantomSource(width, height, depth, channels int) SliceSource {
	channels = max(1, min(channels, MaxChannels))
	desc := Descriptor{
		Label:    "Phantom",
		Width:    width,
		Height:   height,
		Depth:    depth,
		Channels: channels,
		Spacing:  [3]float32{1, 1, 1},
	}
	for range channels {
		desc.Ranges = append(desc.Ranges, fullRange)
	}
	return &phantomSource{desc: desc}
}

func (p *phantomSource) Descriptor() Descriptor {
	return p.desc
}

func (p *phantomSource) Slice(z int) (Slice, error) {
	d := p.desc
	if z < 0 || z >= d.Depth {
		return Slice{}, fmt.Errorf("phantom: slice %d outside depth %d", z, d.Depth)
	}
	s := Slice{Width: d.Width, Height: d.Height, Channels: make([][]uint16, d.Channels)}
	for ch := range s.Channels {
		s.Channels[ch] = make([]uint16, d.Width*d.Height)
	}

	cx, cy, cz := float64(d.Width)/2, float64(d.Height)/2, float64(d.Depth)/2
	radius := math.Min(cx, math.Min(cy, cz)) * 0.8
	for y := range d.Height {
		for x := range d.Width {
			dx, dy, dz := float64(x)+0.5-cx, float64(y)+0.5-cy, float64(z)+0.5-cz
			r := math.Sqrt(dx*dx+dy*dy+dz*dz) / radius
			i := y*d.Width + x
			if r < 1 {
				s.Channels[0][i] = uint16((1 - r) * math.MaxUint16)
			}
			if d.Channels > 1 && math.Abs(r-0.9) < 0.05 {
				s.Channels[1][i] = math.MaxUint16
			}
			if d.Channels > 2 && r < 1 {
				s.Channels[2][i] = uint16(float64(z) / float64(max(d.Depth-1, 1)) * math.MaxUint16)
			}
			if d.Channels > 3 {
				bx, by, bz := dx-radius*0.4, dy+radius*0.3, dz
				if bx*bx+by*by+bz*bz < radius*radius*0.04 {
					s.Channels[3][i] = math.MaxUint16
				}
			}
		}
	}
	return s, nil
}

// fullRange maps the whole uint16 domain onto [0, 1].
var fullRange = rangeOf(0, math.MaxUint16)
