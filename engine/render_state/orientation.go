package render_state

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Orientation returns the volume orientation quaternion (volume space to view space).
func (s *RenderState) Orientation() mgl32.Quat { return s.orientation }

// Normals returns the normals frame: the volume's x, y and z axes expressed in view space.
func (s *RenderState) Normals() [3]mgl32.Vec3 { return s.normals }

// Rotate applies an incremental rotation of rx, ry and rz radians about the normals
// frame axes. The increment is composed as Y * Z * X and left-multiplied onto the
// orientation; the normals frame is carried along by the same increment.
//
// Parameters:
//   - rx: angle about the frame's x axis
//   - ry: angle about the frame's y axis
//   - rz: angle about the frame's z axis
func (s *RenderState) Rotate(rx, ry, rz float32) {
	qx := mgl32.QuatRotate(rx, s.normals[0])
	qy := mgl32.QuatRotate(ry, s.normals[1])
	qz := mgl32.QuatRotate(rz, s.normals[2])
	delta := qy.Mul(qz).Mul(qx).Normalize()

	s.orientation = delta.Mul(s.orientation).Normalize()
	for i := range s.normals {
		s.normals[i] = delta.Rotate(s.normals[i])
	}
	s.normals = orthonormalize(s.normals)
}

// ResetOrientation restores the identity orientation and frame.
func (s *RenderState) ResetOrientation() {
	s.orientation = mgl32.QuatIdent()
	s.normals = identityFrame()
}

// SetOrientation replaces the orientation and rebuilds the normals frame from it.
// This is the only place the frame is derived from the quaternion; it is meant for
// restoring saved sessions, not for interactive rotation.
//
// Parameters:
//   - q: the new orientation
func (s *RenderState) SetOrientation(q mgl32.Quat) {
	s.orientation = q.Normalize()
	frame := identityFrame()
	for i := range frame {
		frame[i] = s.orientation.Rotate(frame[i])
	}
	s.normals = orthonormalize(frame)
}

// EulerAngles derives x, y and z rotation angles in degrees from the orientation for
// display. The values are never fed back into the orientation.
//
// Returns:
//   - [3]float32: rotation about x, y and z in degrees
func (s *RenderState) EulerAngles() [3]float32 {
	q := s.orientation
	x, y, z, w := q.V[0], q.V[1], q.V[2], q.W

	roll := math32.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	sinp := 2 * (w*y - z*x)
	if sinp > 1 {
		sinp = 1
	} else if sinp < -1 {
		sinp = -1
	}
	pitch := math32.Asin(sinp)
	yaw := math32.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))

	return [3]float32{mgl32.RadToDeg(roll), mgl32.RadToDeg(pitch), mgl32.RadToDeg(yaw)}
}

// orthonormalize applies Gram-Schmidt to keep the frame orthonormal and right-handed.
func orthonormalize(f [3]mgl32.Vec3) [3]mgl32.Vec3 {
	x := f[0].Normalize()
	y := f[1].Sub(x.Mul(x.Dot(f[1]))).Normalize()
	z := x.Cross(y)
	return [3]mgl32.Vec3{x, y, z}
}
