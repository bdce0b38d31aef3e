package render_state

import "github.com/Carmen-Shannon/oxy-volume/common"

// RenderStateOption is a functional option used to configure a RenderState during construction.
type RenderStateOption func(*RenderState)

// WithVolumeDimensions configures the state for a volume of the given size.
//
// Parameters:
//   - dims: the volume dimensions in voxels
//
// Returns:
//   - RenderStateOption: a function that applies the dimensions
func WithVolumeDimensions(dims common.Extent3D) RenderStateOption {
	return func(s *RenderState) {
		s.SetVolumeDimensions(dims)
	}
}

// WithZScale sets the anisotropic depth scale.
func WithZScale(z float32) RenderStateOption {
	return func(s *RenderState) {
		s.SetZScale(z)
	}
}

// WithScale sets the isotropic zoom.
func WithScale(scale float32) RenderStateOption {
	return func(s *RenderState) {
		s.Scale = scale
	}
}

// WithViewSize sets the output edge length in pixels.
func WithViewSize(size int) RenderStateOption {
	return func(s *RenderState) {
		s.ViewSize = size
	}
}

// WithKernel selects the active kernel by name.
func WithKernel(name string) RenderStateOption {
	return func(s *RenderState) {
		s.Kernel = name
	}
}

// WithOptions replaces the option bitset.
func WithOptions(o RenderOption) RenderStateOption {
	return func(s *RenderState) {
		s.Options = o
	}
}

// WithBackground sets the background color.
func WithBackground(rgb [3]float32) RenderStateOption {
	return func(s *RenderState) {
		s.Background = rgb
	}
}

// WithStep sets the ray-march step length in voxels.
func WithStep(step float32) RenderStateOption {
	return func(s *RenderState) {
		s.Step = step
	}
}

// WithAlphaPower sets the opacity exponent.
func WithAlphaPower(p float32) RenderStateOption {
	return func(s *RenderState) {
		s.AlphaPower = p
	}
}

// WithChannelColors sets the per-channel RGB colors.
func WithChannelColors(colors [4][3]float32) RenderStateOption {
	return func(s *RenderState) {
		s.ChannelColors = colors
	}
}
