package tone_curve

// ToneCurveOption is a function that configures a toneCurve during construction.
type ToneCurveOption func(*toneCurve)

// WithPoints sets the initial control points.
//
// Parameters:
//   - points: the control points, normalized the same way as SetPoints
//
// Returns:
//   - ToneCurveOption: a function that applies the points
func WithPoints(points ...ControlPoint) ToneCurveOption {
	return func(c *toneCurve) {
		c.points = normalizePoints(points)
	}
}

// WithMode sets the initial interpolation mode.
func WithMode(mode InterpolationMode) ToneCurveOption {
	return func(c *toneCurve) {
		c.mode = mode
	}
}
