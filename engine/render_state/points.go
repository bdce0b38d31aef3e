package render_state

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Points returns the point markers in voxel coordinates.
func (s *RenderState) Points() []mgl32.Vec3 { return s.points }

// Selected returns the selected point index, or -1 when none is selected.
func (s *RenderState) Selected() int { return s.selected }

// AddPoint appends a marker in voxel coordinates and selects it.
//
// Returns:
//   - int: the index of the new marker
func (s *RenderState) AddPoint(p mgl32.Vec3) int {
	s.points = append(s.points, p)
	s.selected = len(s.points) - 1
	return s.selected
}

// RemovePoint deletes marker i. The selection follows the marker it pointed at, or is
// cleared if that marker was removed.
func (s *RenderState) RemovePoint(i int) {
	if i < 0 || i >= len(s.points) {
		return
	}
	s.points = append(s.points[:i], s.points[i+1:]...)
	switch {
	case s.selected == i:
		s.selected = -1
	case s.selected > i:
		s.selected--
	}
}

// SelectPoint selects marker i; out-of-range values clear the selection.
func (s *RenderState) SelectPoint(i int) {
	if i < 0 || i >= len(s.points) {
		s.selected = -1
		return
	}
	s.selected = i
}

// ClearPoints removes every marker.
func (s *RenderState) ClearPoints() {
	s.points = nil
	s.selected = -1
}

// PointsBytes packs the markers as normalized array<vec4<f32>> entries. The buffer always
// holds at least one element so it can be bound when the list is empty.
//
// Returns:
//   - []byte: 16 bytes per marker
func (s *RenderState) PointsBytes() []byte {
	n := max(len(s.points), 1)
	buf := make([]byte, n*16)
	for i, p := range s.points {
		c := [4]float32{
			safeDiv(p[0], float32(s.dims.Width)),
			safeDiv(p[1], float32(s.dims.Height)),
			safeDiv(p[2], float32(s.dims.Depth)),
			1,
		}
		for k, v := range c {
			binary.LittleEndian.PutUint32(buf[i*16+k*4:], math.Float32bits(v))
		}
	}
	return buf
}

// PointOverlayParams returns the selected-index block for the overlay pass.
func (s *RenderState) PointOverlayParams() PointOverlay {
	return PointOverlay{
		Selected: int32(s.selected),
		Count:    uint32(len(s.points)),
		Radius:   s.PointRadius,
	}
}
