// package common contains common types that are used throughout this engine. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

// FilterMode selects how the volume texture is sampled between voxel centers.
type FilterMode int

const (
	// FilterNearest returns the value of the closest voxel.
	FilterNearest FilterMode = iota

	// FilterLinear interpolates trilinearly between the eight surrounding voxels.
	FilterLinear
)

// String returns the config name of the filter mode.
func (f FilterMode) String() string {
	if f == FilterLinear {
		return "linear"
	}
	return "nearest"
}

// Extent3D is a width/height/depth triple in voxels.
type Extent3D struct {
	Width  int
	Height int
	Depth  int
}

// Voxels returns Width*Height*Depth.
func (e Extent3D) Voxels() int {
	return e.Width * e.Height * e.Depth
}

// DisplayRange is the raw intensity window [Min, Max] mapped onto [0, 1] when a channel
// is written into the 8-bit volume texture.
type DisplayRange struct {
	Min float32 `yaml:"min"`
	Max float32 `yaml:"max"`
}

// Normalize maps v into [0, 1] using the range. A degenerate range maps everything above Min to 1.
func (r DisplayRange) Normalize(v float32) float32 {
	span := r.Max - r.Min
	if span <= 0 {
		if v > r.Min {
			return 1
		}
		return 0
	}
	return Clamp((v-r.Min)/span, 0, 1)
}
