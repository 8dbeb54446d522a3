// Package frame converts between the robot frame and the render frame and
// provides rigid transforms built on gonum's spatial types.
//
// The robot frame is right-handed and Z-up: the floor is Z=0. The render
// frame is right-handed and Y-up: the floor is Y=0 and cameras look down
// their local -Z axis. Every conversion between the two goes through
// RobotToRender and RenderToRobot.
package frame

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// RodriguesEpsilon is the rotation angle below which a Rodrigues vector is
// treated as the identity rotation.
const RodriguesEpsilon = 1e-6

// RobotToRender maps a robot-frame (Z-up) vector to the render frame (Y-up).
func RobotToRender(v r3.Vec) r3.Vec {
	return r3.Vec{X: v.X, Y: v.Z, Z: -v.Y}
}

// RenderToRobot is the inverse of RobotToRender.
func RenderToRobot(v r3.Vec) r3.Vec {
	return r3.Vec{X: v.X, Y: -v.Z, Z: v.Y}
}

// Identity returns the identity rotation. The zero r3.Rotation is not a
// rotation at all, so callers should start from this instead.
func Identity() r3.Rotation {
	return r3.Rotation{Real: 1}
}

// FromRodrigues converts an axis-angle vector (direction is the axis,
// magnitude the angle in radians) into a rotation.
func FromRodrigues(v r3.Vec) r3.Rotation {
	theta := r3.Norm(v)
	if theta < RodriguesEpsilon {
		return Identity()
	}
	return r3.NewRotation(theta, r3.Scale(1/theta, v))
}

// ToRodrigues converts a rotation back to an axis-angle vector with the
// angle in [0, pi].
func ToRodrigues(r r3.Rotation) r3.Vec {
	q := quat.Number(r)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	s := math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if s < 1e-12 {
		return r3.Vec{}
	}
	theta := 2 * math.Atan2(s, q.Real)
	k := theta / s
	return r3.Vec{X: q.Imag * k, Y: q.Jmag * k, Z: q.Kmag * k}
}

// RodriguesFromEuler converts roll, pitch and yaw (radians, applied as
// yaw-pitch-roll about Z, Y, X) into a Rodrigues vector.
func RodriguesFromEuler(roll, pitch, yaw float64) r3.Vec {
	sy, cy := math.Sincos(yaw * 0.5)
	sp, cp := math.Sincos(pitch * 0.5)
	sr, cr := math.Sincos(roll * 0.5)

	q := quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
	return ToRodrigues(r3.Rotation(q))
}

// Transform is a rigid transform: a rotation followed by a translation.
type Transform struct {
	Position r3.Vec
	Rotation r3.Rotation
}

// NewTransform builds a transform from a position and a rotation.
func NewTransform(pos r3.Vec, rot r3.Rotation) Transform {
	return Transform{Position: pos, Rotation: rot}
}

// PoseToRender converts a robot-frame pose (position plus Rodrigues
// rotation) to a render-frame transform.
func PoseToRender(position, rodrigues r3.Vec) Transform {
	return Transform{
		Position: RobotToRender(position),
		Rotation: FromRodrigues(RobotToRender(rodrigues)),
	}
}

func (t Transform) rot() r3.Rotation {
	if t.Rotation == (r3.Rotation{}) {
		return Identity()
	}
	return t.Rotation
}

// Apply maps a point from the transform's local space to its parent space.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(t.rot().Rotate(p), t.Position)
}

// ApplyDirection rotates a direction without translating it.
func (t Transform) ApplyDirection(d r3.Vec) r3.Vec {
	return t.rot().Rotate(d)
}

// Inverse returns the transform mapping parent space back to local space.
func (t Transform) Inverse() Transform {
	inv := r3.Rotation(quat.Conj(quat.Number(t.rot())))
	return Transform{
		Position: r3.Scale(-1, inv.Rotate(t.Position)),
		Rotation: inv,
	}
}

// Compose returns the transform that applies child first, then t.
func (t Transform) Compose(child Transform) Transform {
	q := quat.Mul(quat.Number(t.rot()), quat.Number(child.rot()))
	return Transform{
		Position: t.Apply(child.Position),
		Rotation: r3.Rotation(q),
	}
}
