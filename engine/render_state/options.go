package render_state

import (
	"fmt"
	"strings"
)

// RenderOption is the bitset of per-frame rendering switches shared with the kernels.
// Bit positions are part of the kernel contract and must match the WGSL OPT_* constants.
type RenderOption uint32

const (
	// OptionLinearSampling samples the volume trilinearly instead of nearest-voxel.
	OptionLinearSampling RenderOption = 1 << iota
	// OptionShading modulates samples with a gradient-based lighting term.
	OptionShading
	// OptionCropLock clips samples against the locked crop plane.
	OptionCropLock
	// OptionCropToggle keeps the side in front of the crop plane instead of behind it.
	OptionCropToggle
	// OptionFlip mirrors the volume along z.
	OptionFlip
	// OptionPlaneMode tints the current slice plane.
	OptionPlaneMode
	// OptionBoundingBox draws the volume's edges.
	OptionBoundingBox
	// OptionAdaptiveStep lengthens the step while the ray crosses empty space.
	OptionAdaptiveStep
	// OptionPointOverlay draws the point markers.
	OptionPointOverlay
	// OptionMPR samples a single plane without accumulation.
	OptionMPR
)

var optionNames = []struct {
	opt  RenderOption
	name string
}{
	{OptionLinearSampling, "linear-sampling"},
	{OptionShading, "shading"},
	{OptionCropLock, "crop-lock"},
	{OptionCropToggle, "crop-toggle"},
	{OptionFlip, "flip"},
	{OptionPlaneMode, "plane-mode"},
	{OptionBoundingBox, "bounding-box"},
	{OptionAdaptiveStep, "adaptive-step"},
	{OptionPointOverlay, "point-overlay"},
	{OptionMPR, "mpr"},
}

// Has reports whether every bit of flag is set.
func (o RenderOption) Has(flag RenderOption) bool {
	return o&flag == flag
}

// Set returns o with flag switched on or off.
func (o RenderOption) Set(flag RenderOption, on bool) RenderOption {
	if on {
		return o | flag
	}
	return o &^ flag
}

// Toggle returns o with flag inverted.
func (o RenderOption) Toggle(flag RenderOption) RenderOption {
	return o ^ flag
}

// Names lists the names of the set flags in bit order.
func (o RenderOption) Names() []string {
	names := make([]string, 0, len(optionNames))
	for _, n := range optionNames {
		if o.Has(n.opt) {
			names = append(names, n.name)
		}
	}
	return names
}

func (o RenderOption) String() string {
	return strings.Join(o.Names(), "|")
}

// ParseRenderOptions converts flag names back into a bitset.
//
// Parameters:
//   - names: flag names as produced by Names
//
// Returns:
//   - RenderOption: the combined bitset
//   - error: an error naming the first unknown flag
func ParseRenderOptions(names []string) (RenderOption, error) {
	var o RenderOption
	for _, name := range names {
		found := false
		for _, n := range optionNames {
			if n.name == name {
				o |= n.opt
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown render option %q", name)
		}
	}
	return o, nil
}
