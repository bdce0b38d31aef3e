package tone_curve

import (
	"encoding/binary"
	"math"
)

// Channels is the number of curves in a Set, one per volume channel.
const Channels = 4

// SetBytesSize is the byte size of Set.Bytes: LUTSize entries of vec4<f32>.
const SetBytesSize = LUTSize * Channels * 4

// Set holds the four per-channel tone curves consumed by a render.
type Set struct {
	curves [Channels]ToneCurve

	// generation advances on SetCurve and whenever a held curve's version moves.
	generation uint64
	seen       [Channels]uint64
}

// NewSet creates a Set of default curves.
func NewSet() *Set {
	s := &Set{}
	for i := range s.curves {
		s.curves[i] = NewToneCurve()
		s.seen[i] = s.curves[i].Version()
	}
	return s
}

// Curve returns the curve of channel ch.
func (s *Set) Curve(ch int) ToneCurve {
	return s.curves[ch]
}

// SetCurve replaces the curve of channel ch.
func (s *Set) SetCurve(ch int, c ToneCurve) {
	s.curves[ch] = c
	s.seen[ch] = c.Version()
	s.generation++
}

// Version returns a counter that increases whenever a curve is replaced or edited. It
// never repeats a value, so equal versions mean equal lookup tables.
func (s *Set) Version() uint64 {
	for ch, c := range s.curves {
		if v := c.Version(); v != s.seen[ch] {
			s.seen[ch] = v
			s.generation++
		}
	}
	return s.generation
}

// Bytes packs the four lookup tables as array<vec4<f32>, 256>: entry i holds the opacity
// of intensity i for channels 0 through 3.
//
// Returns:
//   - []byte: SetBytesSize bytes
func (s *Set) Bytes() []byte {
	buf := make([]byte, SetBytesSize)
	for ch, c := range s.curves {
		lut := c.LUT()
		for i, v := range lut {
			binary.LittleEndian.PutUint32(buf[(i*Channels+ch)*4:], math.Float32bits(v))
		}
	}
	return buf
}

// LUTs returns the four lookup tables.
func (s *Set) LUTs() [Channels][LUTSize]float32 {
	var out [Channels][LUTSize]float32
	for ch, c := range s.curves {
		out[ch] = c.LUT()
	}
	return out
}
