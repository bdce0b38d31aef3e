// Package volume allocates the device volume texture and streams dataset slices into it.
// File formats stay with the caller; a SliceSource hands over raw samples per channel.
package volume

import (
	"errors"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/Carmen-Shannon/oxy-volume/engine/renderer/backend"
)

// MaxChannels is the number of channels the volume texture always carries. Datasets with
// fewer channels leave the remaining ones zero.
const MaxChannels = 4

// downsizeMargin keeps a suggested downsize strictly inside the device limit.
const downsizeMargin = 0.95

var (
	// ErrAllocation is wrapped by every *AllocationError.
	ErrAllocation = errors.New("volume allocation failed")
	// ErrDepthLimit is returned when the depth alone exceeds the device limit. No XY
	// downsize can fix it, so no ratio is suggested.
	ErrDepthLimit = errors.New("volume depth exceeds the device limit")
)

// AllocationError reports a volume that does not fit the device, together with a
// suggested XY downsize ratio the caller may retry with.
type AllocationError struct {
	// Requested is the byte size, or for dimension failures the largest XY edge, requested.
	Requested uint64
	// Limit is the device limit Requested was checked against.
	Limit uint64
	// DownsizeRatio is the factor to scale width and height by, 0 when no suggestion exists.
	DownsizeRatio float64
	// Reason is a human readable description.
	Reason string
}

func (e *AllocationError) Error() string {
	if e.DownsizeRatio > 0 {
		return fmt.Sprintf("%s: %s (suggested downsize %.3f)", ErrAllocation, e.Reason, e.DownsizeRatio)
	}
	return fmt.Sprintf("%s: %s", ErrAllocation, e.Reason)
}

func (e *AllocationError) Unwrap() error {
	return ErrAllocation
}

// Descriptor describes a dataset to allocate.
type Descriptor struct {
	Label    string
	Width    int
	Height   int
	Depth    int
	Channels int
	// Spacing is the voxel size along x, y and z in the calibration unit.
	Spacing [3]float32
	// Ranges are the per-channel display ranges used when slices are written.
	Ranges []common.DisplayRange
}

// Extent returns the voxel extent of the descriptor.
func (d Descriptor) Extent() common.Extent3D {
	return common.Extent3D{Width: d.Width, Height: d.Height, Depth: d.Depth}
}

// Scaled returns the descriptor with width and height scaled by ratio. The XY spacing
// grows by the same factor so physical calibration is kept.
//
// Parameters:
//   - ratio: the downsize ratio, in (0, 1]
//
// Returns:
//   - Descriptor: the scaled descriptor
func (d Descriptor) Scaled(ratio float64) Descriptor {
	if ratio <= 0 || ratio >= 1 {
		return d
	}
	out := d
	out.Width = max(1, int(math.Floor(float64(d.Width)*ratio)))
	out.Height = max(1, int(math.Floor(float64(d.Height)*ratio)))
	sx := float32(d.Width) / float32(out.Width)
	sy := float32(d.Height) / float32(out.Height)
	out.Spacing[0] = common.Coalesce(d.Spacing[0], 1) * sx
	out.Spacing[1] = common.Coalesce(d.Spacing[1], 1) * sy
	out.Ranges = append([]common.DisplayRange(nil), d.Ranges...)
	return out
}

// volume is the implementation of the Volume interface.
type volume struct {
	label    string
	extent   common.Extent3D
	channels int
	spacing  [3]float32
	ranges   [MaxChannels]common.DisplayRange
	texture  backend.Texture
}

// Volume is a device-resident RGBA8 3D texture holding up to four intensity channels.
// It is immutable once allocated apart from the slices written into it during ingestion;
// a reload or a downsize retry allocates a new Volume.
type Volume interface {
	// Label returns the debug label.
	Label() string

	// Extent returns the voxel dimensions.
	//
	// Returns:
	//   - common.Extent3D: width, height and depth
	Extent() common.Extent3D

	// Channels returns the number of meaningful channels, 1 to 4.
	Channels() int

	// Spacing returns the voxel size along x, y and z.
	Spacing() [3]float32

	// Range returns the display range of a channel.
	//
	// Parameters:
	//   - ch: the channel index
	//
	// Returns:
	//   - common.DisplayRange: the range, zero for unused channels
	Range(ch int) common.DisplayRange

	// Ranges returns all four display ranges.
	Ranges() [MaxChannels]common.DisplayRange

	// SetRange replaces the display range of a channel. It affects slices written afterwards.
	SetRange(ch int, r common.DisplayRange)

	// Texture returns the backend texture.
	Texture() backend.Texture

	// Release frees the texture.
	Release()
}

var _ Volume = &volume{}

// AllocateVolume checks desc against the backend limits and allocates the texture.
//
// Parameters:
//   - b: the backend to allocate on
//   - desc: the dataset descriptor
//
// Returns:
//   - Volume: the zero-filled volume
//   - error: *AllocationError when the volume does not fit, ErrDepthLimit when the depth
//     alone is too large, or a validation error
func AllocateVolume(b backend.Backend, desc Descriptor) (Volume, error) {
	if desc.Width <= 0 || desc.Height <= 0 || desc.Depth <= 0 {
		return nil, fmt.Errorf("volume: invalid dimensions %dx%dx%d", desc.Width, desc.Height, desc.Depth)
	}
	if desc.Channels < 1 || desc.Channels > MaxChannels {
		return nil, fmt.Errorf("volume: %d channels, want 1 to %d", desc.Channels, MaxChannels)
	}

	if err := checkLimits(b.Limits(), desc); err != nil {
		return nil, err
	}

	label := common.Coalesce(desc.Label, "Volume")
	tex, err := b.CreateVolumeTexture(backend.TextureDescriptor{Label: label, Size: desc.Extent()})
	if err != nil {
		return nil, &AllocationError{
			Requested: requestedBytes(desc),
			Limit:     b.Limits().MaxBufferSize,
			Reason:    err.Error(),
		}
	}

	v := &volume{
		label:    label,
		extent:   desc.Extent(),
		channels: desc.Channels,
		spacing:  desc.Spacing,
		texture:  tex,
	}
	for i := range v.spacing {
		v.spacing[i] = common.Coalesce(v.spacing[i], 1)
	}
	for ch := 0; ch < desc.Channels && ch < len(desc.Ranges); ch++ {
		v.ranges[ch] = desc.Ranges[ch]
	}
	common.Logger().Debug("volume: allocated",
		"label", label, "width", desc.Width, "height", desc.Height, "depth", desc.Depth,
		"channels", desc.Channels, "bytes", requestedBytes(desc))
	return v, nil
}

func requestedBytes(desc Descriptor) uint64 {
	return uint64(desc.Width) * uint64(desc.Height) * uint64(desc.Depth) * MaxChannels
}

// checkLimits applies the allocation rules: depth first, then the XY edge and byte size.
// When both of the latter fail, the suggested ratio satisfies both.
func checkLimits(limits backend.Limits, desc Descriptor) error {
	maxDim := int(limits.MaxTextureDimension3D)
	if maxDim > 0 && desc.Depth > maxDim {
		return fmt.Errorf("%w: depth %d, limit %d", ErrDepthLimit, desc.Depth, maxDim)
	}

	var failure *AllocationError
	if edge := max(desc.Width, desc.Height); maxDim > 0 && edge > maxDim {
		failure = &AllocationError{
			Requested:     uint64(edge),
			Limit:         uint64(maxDim),
			DownsizeRatio: float64(maxDim) / float64(edge) * downsizeMargin,
			Reason:        fmt.Sprintf("XY edge %d exceeds the %d texel limit", edge, maxDim),
		}
	}

	requested := requestedBytes(desc)
	if limit := limits.MaxBufferSize; limit > 0 && requested > limit {
		ratio := math.Sqrt(float64(limit)/float64(requested)) * downsizeMargin
		if failure == nil {
			failure = &AllocationError{
				Requested:     requested,
				Limit:         limit,
				DownsizeRatio: ratio,
				Reason:        fmt.Sprintf("%d bytes exceed the %d byte buffer limit", requested, limit),
			}
		} else if ratio < failure.DownsizeRatio {
			failure.DownsizeRatio = ratio
			failure.Reason += fmt.Sprintf(", %d bytes exceed the %d byte buffer limit", requested, limit)
		}
	}
	if failure != nil {
		return failure
	}
	return nil
}

func (v *volume) Label() string {
	return v.label
}

func (v *volume) Extent() common.Extent3D {
	return v.extent
}

func (v *volume) Channels() int {
	return v.channels
}

func (v *volume) Spacing() [3]float32 {
	return v.spacing
}

func (v *volume) Range(ch int) common.DisplayRange {
	if ch < 0 || ch >= MaxChannels {
		return common.DisplayRange{}
	}
	return v.ranges[ch]
}

func (v *volume) Ranges() [MaxChannels]common.DisplayRange {
	return v.ranges
}

func (v *volume) SetRange(ch int, r common.DisplayRange) {
	if ch < 0 || ch >= MaxChannels {
		return
	}
	v.ranges[ch] = r
}

func (v *volume) Texture() backend.Texture {
	return v.texture
}

func (v *volume) Release() {
	if v.texture != nil {
		v.texture.Release()
		v.texture = nil
	}
}
