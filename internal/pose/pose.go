package pose

// Pose is a rigid placement in world space: a position and an orientation.
type Pose struct {
	Position Vec3 `json:"position"`
	Rotation Quat `json:"rotation"`
}

// IdentityPose returns a pose at the origin with no rotation.
func IdentityPose() Pose {
	return Pose{Rotation: Identity()}
}

// Delta is the rigid transform taking one reference pose to another. Applying
// it to a pose expressed relative to the old reference yields the equivalent
// pose relative to the new reference, preserving the relative layout of any
// set of poses it is applied to.
type Delta struct {
	rotation Quat
	fromPos  Vec3
	toPos    Vec3
}

// RigidDelta measures the transform from one reference pose to another.
func RigidDelta(from, to Pose) Delta {
	return Delta{
		rotation: to.Rotation.Mul(from.Rotation.Inverse()).Normalized(),
		fromPos:  from.Position,
		toPos:    to.Position,
	}
}

// Apply maps a pose through the delta: the position is rotated about the old
// reference position and re-based on the new one, the orientation is composed
// with the measured rotation.
func (d Delta) Apply(p Pose) Pose {
	offset := p.Position.Sub(d.fromPos)
	return Pose{
		Position: d.toPos.Add(d.rotation.Rotate(offset)),
		Rotation: d.rotation.Mul(p.Rotation).Normalized(),
	}
}

// Translation returns the positional component of the delta.
func (d Delta) Translation() Vec3 {
	return d.toPos.Sub(d.fromPos)
}

// RotationAngleDeg returns the angular component of the delta, in degrees.
func (d Delta) RotationAngleDeg() float64 {
	return Identity().AngleDeg(d.rotation)
}
