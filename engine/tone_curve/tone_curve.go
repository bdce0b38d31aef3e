// Package tone_curve builds per-channel opacity lookup tables from user-placed control points.
package tone_curve

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"gonum.org/v1/gonum/interp"
)

// LUTSize is the number of samples in a lookup table, one per 8-bit intensity.
const LUTSize = 256

// MaxIntensity is the largest intensity on the curve's x axis.
const MaxIntensity = LUTSize - 1

// InterpolationMode selects how opacity is interpolated between control points.
type InterpolationMode int

const (
	// Linear joins control points with straight segments.
	Linear InterpolationMode = iota
	// Spline fits a natural cubic spline through the control points.
	Spline
	// Monotone fits a Fritsch-Butland cubic that never overshoots between points.
	Monotone
)

func (m InterpolationMode) String() string {
	switch m {
	case Linear:
		return "linear"
	case Spline:
		return "spline"
	case Monotone:
		return "monotone"
	default:
		return fmt.Sprintf("InterpolationMode(%d)", int(m))
	}
}

// ParseInterpolationMode converts a mode name back into an InterpolationMode.
func ParseInterpolationMode(name string) (InterpolationMode, error) {
	for _, m := range []InterpolationMode{Linear, Spline, Monotone} {
		if m.String() == name {
			return m, nil
		}
	}
	return Linear, fmt.Errorf("unknown interpolation mode %q", name)
}

// ControlPoint is one user-placed point of a tone curve.
type ControlPoint struct {
	Intensity float64 `yaml:"intensity"`
	Opacity   float64 `yaml:"opacity"`
}

// DefaultPoints is the identity ramp used by a fresh curve.
func DefaultPoints() []ControlPoint {
	return []ControlPoint{{Intensity: 0, Opacity: 0}, {Intensity: MaxIntensity, Opacity: 1}}
}

// toneCurve is the implementation of the ToneCurve interface.
type toneCurve struct {
	mu      sync.Mutex
	points  []ControlPoint
	mode    InterpolationMode
	version uint64

	lut      [LUTSize]float32
	lutBuilt uint64
	lutValid bool
}

// ToneCurve maps voxel intensity to opacity for one channel.
//
// The lookup table is rebuilt lazily: editing points or the mode only bumps the version,
// and the next LUT call interpolates again.
type ToneCurve interface {
	// Points returns a copy of the normalized control points, sorted by intensity.
	//
	// Returns:
	//   - []ControlPoint: the control points
	Points() []ControlPoint

	// SetPoints replaces the control points. Points are clamped into the curve domain,
	// sorted, and de-duplicated by intensity with the later point winning.
	//
	// Parameters:
	//   - points: the new control points, an empty list restores the default ramp
	SetPoints(points []ControlPoint)

	// AddPoint inserts a single control point.
	//
	// Parameters:
	//   - p: the point to insert
	AddPoint(p ControlPoint)

	// RemovePoint deletes the control point at index i of Points.
	// The curve always keeps at least two points.
	//
	// Parameters:
	//   - i: the index to remove
	RemovePoint(i int)

	// Mode returns the interpolation mode.
	//
	// Returns:
	//   - InterpolationMode: the current mode
	Mode() InterpolationMode

	// SetMode changes the interpolation mode.
	//
	// Parameters:
	//   - mode: the new mode
	SetMode(mode InterpolationMode)

	// LUT returns the 256 opacity samples of the curve, each clamped to [0, 1].
	//
	// Returns:
	//   - [LUTSize]float32: the lookup table
	LUT() [LUTSize]float32

	// Version returns a counter bumped on every edit.
	//
	// Returns:
	//   - uint64: the edit counter
	Version() uint64
}

var _ ToneCurve = &toneCurve{}

// NewToneCurve creates a ToneCurve with the default linear ramp and applies the options.
//
// Parameters:
//   - options: variadic list of ToneCurveOption functions
//
// Returns:
//   - ToneCurve: the new curve
func NewToneCurve(options ...ToneCurveOption) ToneCurve {
	c := &toneCurve{
		points: DefaultPoints(),
		mode:   Linear,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *toneCurve) Points() []ControlPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.points)
}

func (c *toneCurve) SetPoints(points []ControlPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = normalizePoints(points)
	c.version++
}

func (c *toneCurve) AddPoint(p ControlPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = normalizePoints(append(slices.Clone(c.points), p))
	c.version++
}

func (c *toneCurve) RemovePoint(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.points) || len(c.points) <= 2 {
		return
	}
	c.points = slices.Delete(slices.Clone(c.points), i, i+1)
	c.version++
}

func (c *toneCurve) Mode() InterpolationMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *toneCurve) SetMode(mode InterpolationMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mode == c.mode {
		return
	}
	c.mode = mode
	c.version++
}

func (c *toneCurve) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *toneCurve) LUT() [LUTSize]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lutValid && c.lutBuilt == c.version {
		return c.lut
	}
	c.lut = buildLUT(c.points, c.mode)
	c.lutBuilt = c.version
	c.lutValid = true
	return c.lut
}

// normalizePoints clamps, sorts and de-duplicates control points and extends the curve
// flat to both ends of the intensity domain.
func normalizePoints(in []ControlPoint) []ControlPoint {
	if len(in) == 0 {
		return DefaultPoints()
	}
	pts := make([]ControlPoint, 0, len(in)+2)
	for _, p := range in {
		if math.IsNaN(p.Intensity) || math.IsNaN(p.Opacity) {
			continue
		}
		pts = append(pts, ControlPoint{
			Intensity: math.Round(min(max(p.Intensity, 0), MaxIntensity)),
			Opacity:   min(max(p.Opacity, 0), 1),
		})
	}
	if len(pts) == 0 {
		return DefaultPoints()
	}
	slices.SortStableFunc(pts, func(a, b ControlPoint) int {
		switch {
		case a.Intensity < b.Intensity:
			return -1
		case a.Intensity > b.Intensity:
			return 1
		}
		return 0
	})
	out := pts[:0]
	for _, p := range pts {
		if n := len(out); n > 0 && out[n-1].Intensity == p.Intensity {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	if out[0].Intensity > 0 {
		out = slices.Insert(out, 0, ControlPoint{Intensity: 0, Opacity: out[0].Opacity})
	}
	if last := out[len(out)-1]; last.Intensity < MaxIntensity {
		out = append(out, ControlPoint{Intensity: MaxIntensity, Opacity: last.Opacity})
	}
	return out
}

// buildLUT samples the interpolated curve at every integer intensity.
func buildLUT(points []ControlPoint, mode InterpolationMode) [LUTSize]float32 {
	var lut [LUTSize]float32
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.Intensity
		ys[i] = p.Opacity
	}

	predictor, err := fitPredictor(xs, ys, mode)
	if err != nil {
		common.Logger().Warn("tone curve fit failed, using linear", "mode", mode.String(), "error", err)
		predictor, err = fitPredictor(xs, ys, Linear)
		if err != nil {
			return lut
		}
	}

	lo, hi := xs[0], xs[len(xs)-1]
	for i := range lut {
		x := min(max(float64(i), lo), hi)
		lut[i] = float32(min(max(predictor.Predict(x), 0), 1))
	}
	return lut
}

func fitPredictor(xs, ys []float64, mode InterpolationMode) (interp.FittablePredictor, error) {
	var p interp.FittablePredictor
	switch {
	case len(xs) < 3 || mode == Linear:
		p = &interp.PiecewiseLinear{}
	case mode == Spline:
		p = &interp.NaturalCubic{}
	default:
		p = &interp.FritschButland{}
	}
	if err := p.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("fit %s curve: %w", mode, err)
	}
	return p, nil
}
