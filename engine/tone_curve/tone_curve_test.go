package tone_curve

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-volume/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCurveIsRamp(t *testing.T) {
	lut := NewToneCurve().LUT()
	assert.Equal(t, float32(0), lut[0])
	assert.Equal(t, float32(1), lut[255])
	assert.InDelta(t, 128.0/255.0, lut[128], 1e-6)
}

func TestPointsAreNormalized(t *testing.T) {
	c := NewToneCurve(WithPoints(
		ControlPoint{Intensity: 200, Opacity: 0.8},
		ControlPoint{Intensity: 50, Opacity: 1.7},
		ControlPoint{Intensity: 50, Opacity: 0.2},
		ControlPoint{Intensity: -4, Opacity: -1},
	))
	pts := c.Points()
	require.Equal(t, []ControlPoint{
		{Intensity: 0, Opacity: 0},
		{Intensity: 50, Opacity: 0.2},
		{Intensity: 200, Opacity: 0.8},
		{Intensity: 255, Opacity: 0.8},
	}, pts)

	lut := c.LUT()
	for i := 200; i < LUTSize; i++ {
		assert.InDelta(t, 0.8, lut[i], 1e-6)
	}
}

func TestLUTRebuildsOnlyOnEdit(t *testing.T) {
	c := NewToneCurve()
	v0 := c.Version()
	first := c.LUT()
	assert.Equal(t, v0, c.Version())
	assert.Equal(t, first, c.LUT())

	c.AddPoint(ControlPoint{Intensity: 128, Opacity: 0})
	assert.Greater(t, c.Version(), v0)
	assert.Equal(t, float32(0), c.LUT()[128])

	v1 := c.Version()
	c.SetMode(Linear)
	assert.Equal(t, v1, c.Version(), "setting the same mode is not an edit")
	c.SetMode(Spline)
	assert.Greater(t, c.Version(), v1)
}

func TestRemovePointKeepsTwo(t *testing.T) {
	c := NewToneCurve()
	c.RemovePoint(0)
	assert.Len(t, c.Points(), 2)

	c.AddPoint(ControlPoint{Intensity: 100, Opacity: 0.5})
	require.Len(t, c.Points(), 3)
	c.RemovePoint(1)
	assert.Equal(t, DefaultPoints(), c.Points())
}

func TestInterpolationModes(t *testing.T) {
	points := []ControlPoint{{0, 0}, {64, 0.1}, {128, 0.9}, {192, 1}, {255, 1}}
	for _, mode := range []InterpolationMode{Linear, Spline, Monotone} {
		t.Run(mode.String(), func(t *testing.T) {
			lut := NewToneCurve(WithPoints(points...), WithMode(mode)).LUT()
			for _, p := range points {
				assert.InDelta(t, p.Opacity, lut[int(p.Intensity)], 1e-5)
			}
			for _, v := range lut {
				assert.GreaterOrEqual(t, v, float32(0))
				assert.LessOrEqual(t, v, float32(1))
			}
		})
	}
}

func TestMonotoneDoesNotOvershoot(t *testing.T) {
	points := []ControlPoint{{0, 0}, {100, 0}, {110, 1}, {255, 1}}
	lut := NewToneCurve(WithPoints(points...), WithMode(Monotone)).LUT()
	for i := 1; i < LUTSize; i++ {
		assert.GreaterOrEqual(t, lut[i], lut[i-1], "intensity %d", i)
	}
}

func TestSplineFallsBackToLinearWithTwoPoints(t *testing.T) {
	lin := NewToneCurve().LUT()
	spl := NewToneCurve(WithMode(Spline)).LUT()
	assert.Equal(t, lin, spl)
}

func TestParseInterpolationMode(t *testing.T) {
	m, err := ParseInterpolationMode("monotone")
	require.NoError(t, err)
	assert.Equal(t, Monotone, m)
	_, err = ParseInterpolationMode("bezier")
	assert.Error(t, err)
}

func TestSetBytesInterleavesChannels(t *testing.T) {
	s := NewSet()
	s.Curve(1).SetPoints([]ControlPoint{{0, 0.25}, {255, 0.25}})
	s.SetCurve(3, NewToneCurve(WithPoints(ControlPoint{0, 1}, ControlPoint{255, 0})))

	buf := s.Bytes()
	require.Len(t, buf, SetBytesSize)

	entry := func(i, ch int) float32 { return common.Float32At(buf, (i*Channels+ch)*4) }
	assert.Equal(t, float32(0), entry(0, 0))
	assert.Equal(t, float32(1), entry(255, 0))
	assert.InDelta(t, 0.25, entry(17, 1), 1e-6)
	assert.Equal(t, float32(1), entry(0, 3))
	assert.Equal(t, float32(0), entry(255, 3))
}

func TestSetVersionTracksEdits(t *testing.T) {
	s := NewSet()
	v := s.Version()
	s.Curve(2).SetMode(Monotone)
	assert.NotEqual(t, v, s.Version())
}

func TestSetVersionTracksReplacement(t *testing.T) {
	s := NewSet()
	v := s.Version()
	s.SetCurve(0, NewToneCurve(WithPoints(ControlPoint{Intensity: 0, Opacity: 1}, ControlPoint{Intensity: 255, Opacity: 1})))
	v1 := s.Version()
	assert.Greater(t, v1, v, "a fresh curve replaces the table")
	assert.Equal(t, v1, s.Version())

	s.Curve(1).SetMode(Spline)
	v2 := s.Version()
	assert.Greater(t, v2, v1)
	s.SetCurve(1, NewToneCurve())
	assert.Greater(t, s.Version(), v2, "swapping back to a default curve is still a change")
}
