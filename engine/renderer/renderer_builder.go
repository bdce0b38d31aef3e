package renderer

import (
	rs "github.com/Carmen-Shannon/oxy-volume/engine/render_state"
	"github.com/Carmen-Shannon/oxy-volume/engine/tone_curve"
	"github.com/Carmen-Shannon/oxy-volume/engine/volume"
)

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithState sets the initial render state. Without it the renderer starts from
// render_state defaults with the registry's default kernel.
//
// Parameters:
//   - s: the render state
//
// Returns:
//   - RendererBuilderOption: a function that applies the state option to a renderer
func WithState(s *rs.RenderState) RendererBuilderOption {
	return func(r *renderer) {
		r.state = s
	}
}

// WithToneCurves sets the initial tone curve set.
//
// Parameters:
//   - set: the tone curves
//
// Returns:
//   - RendererBuilderOption: a function that applies the tone curve option to a renderer
func WithToneCurves(set *tone_curve.Set) RendererBuilderOption {
	return func(r *renderer) {
		r.curves = set
	}
}

// WithVolume sets the initial volume. The state's dimensions are taken from it.
func WithVolume(v volume.Volume) RendererBuilderOption {
	return func(r *renderer) {
		r.vol = v
		r.volumeChanged = true
	}
}

// WithScaleBar enables the calibrated scale bar.
//
// Parameters:
//   - bar: the bar length and unit
//
// Returns:
//   - RendererBuilderOption: a function that applies the scale bar option to a renderer
func WithScaleBar(bar ScaleBar) RendererBuilderOption {
	return func(r *renderer) {
		r.scaleBar = bar
	}
}

// WithKernelFallbackHandler registers the fallback notification callback.
func WithKernelFallbackHandler(fn KernelFallbackFunc) RendererBuilderOption {
	return func(r *renderer) {
		r.onFallback = fn
	}
}

// WithUploadHistory sets how many recent buffer uploads the binding cache keeps for
// diagnostics. Zero disables the history.
func WithUploadHistory(n int) RendererBuilderOption {
	return func(r *renderer) {
		r.historyCap = max(n, 0)
	}
}
