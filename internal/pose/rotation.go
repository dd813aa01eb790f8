package pose

import (
	"math"
)

// Quat is a unit quaternion representing a rotation in world space.
type Quat struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Identity returns the no-rotation quaternion.
func Identity() Quat {
	return Quat{W: 1}
}

// Mul returns the composed rotation. Applying Mul(q, o) to a vector rotates
// by o first, then by q.
func (q Quat) Mul(o Quat) Quat {
	return Quat{
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
	}
}

// Inverse returns the inverse rotation. Quaternions here are kept unit
// length, so the conjugate suffices.
func (q Quat) Inverse() Quat {
	return Quat{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Normalized rescales q to unit length; degenerate quaternions collapse to
// the identity rather than propagating NaN into pose math.
func (q Quat) Normalized() Quat {
	l := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if l == 0 {
		return Identity()
	}
	return Quat{W: q.W / l, X: q.X / l, Y: q.Y / l, Z: q.Z / l}
}

// Rotate applies the rotation to a vector.
func (q Quat) Rotate(v Vec3) Vec3 {
	// v' = q * (0,v) * q^-1, expanded to avoid allocating intermediates.
	x, y, z := q.X, q.Y, q.Z
	tx := 2 * (y*v.Z - z*v.Y)
	ty := 2 * (z*v.X - x*v.Z)
	tz := 2 * (x*v.Y - y*v.X)
	return Vec3{
		X: v.X + q.W*tx + (y*tz - z*ty),
		Y: v.Y + q.W*ty + (z*tx - x*tz),
		Z: v.Z + q.W*tz + (x*ty - y*tx),
	}
}

// AngleDeg returns the smallest angle between two rotations, in degrees.
func (q Quat) AngleDeg(o Quat) float64 {
	dot := q.W*o.W + q.X*o.X + q.Y*o.Y + q.Z*o.Z
	dot = math.Abs(dot)
	// acos is steep near 1, so a dot a few ulps under 1 from rounding would
	// read as a spurious micro-rotation. Snap it to exact equality.
	if dot >= 1-1e-12 {
		return 0
	}
	return 2 * math.Acos(dot) * 180 / math.Pi
}

// Nlerp interpolates from q toward o by t in [0,1], taking the short arc.
// Normalized linear interpolation is accurate enough for per-tick smoothing
// steps and considerably cheaper than slerp.
func (q Quat) Nlerp(o Quat, t float64) Quat {
	if t <= 0 {
		return q
	}
	if t >= 1 {
		return o
	}
	dot := q.W*o.W + q.X*o.X + q.Y*o.Y + q.Z*o.Z
	if dot < 0 {
		o = Quat{W: -o.W, X: -o.X, Y: -o.Y, Z: -o.Z}
	}
	return Quat{
		W: q.W + (o.W-q.W)*t,
		X: q.X + (o.X-q.X)*t,
		Y: q.Y + (o.Y-q.Y)*t,
		Z: q.Z + (o.Z-q.Z)*t,
	}.Normalized()
}

// FromAxisAngle builds a rotation of angleDeg degrees around the given axis.
func FromAxisAngle(axis Vec3, angleDeg float64) Quat {
	axis = axis.Normalized()
	half := angleDeg * math.Pi / 360
	s := math.Sin(half)
	return Quat{
		W: math.Cos(half),
		X: axis.X * s,
		Y: axis.Y * s,
		Z: axis.Z * s,
	}
}

// FromEuler builds a rotation from Euler angles in degrees, applied in
// yaw (Y), pitch (X), roll (Z) order. Content metadata carries rotation
// overrides in this form.
func FromEuler(xDeg, yDeg, zDeg float64) Quat {
	yaw := FromAxisAngle(Vec3{Y: 1}, yDeg)
	pitch := FromAxisAngle(Vec3{X: 1}, xDeg)
	roll := FromAxisAngle(Vec3{Z: 1}, zDeg)
	return yaw.Mul(pitch).Mul(roll).Normalized()
}
