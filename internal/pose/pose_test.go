package pose

import (
	"math"
	"testing"
)

const epsilon = 1e-9

func TestRigidDeltaTranslationOnly(t *testing.T) {
	from := Pose{Position: Vec3{X: 1, Y: 0, Z: 1}, Rotation: Identity()}
	to := Pose{Position: Vec3{X: 1.5, Y: 0.2, Z: 0.5}, Rotation: Identity()}
	delta := RigidDelta(from, to)

	p := Pose{Position: Vec3{X: 3, Y: 0, Z: 3}, Rotation: Identity()}
	moved := delta.Apply(p)

	want := p.Position.Add(delta.Translation())
	if moved.Position.Sub(want).Length() > epsilon {
		t.Fatalf("expected %v, got %v", want, moved.Position)
	}
	if Identity().AngleDeg(moved.Rotation) > epsilon {
		t.Fatalf("expected rotation unchanged, got %v", moved.Rotation)
	}
}

func TestRigidDeltaPreservesRelativeOffsets(t *testing.T) {
	a := Pose{Position: Vec3{X: 2, Y: 0, Z: 1}, Rotation: Identity()}
	b := Pose{Position: Vec3{X: -1, Y: 0.5, Z: 3}, Rotation: FromAxisAngle(Vec3{Y: 1}, 30)}
	initialOffset := b.Position.Sub(a.Position).Length()

	reference := Pose{Position: Vec3{}, Rotation: Identity()}
	drifts := []Pose{
		{Position: Vec3{X: 0.3, Y: 0, Z: -0.1}, Rotation: FromAxisAngle(Vec3{Y: 1}, 7)},
		{Position: Vec3{X: -0.2, Y: 0.05, Z: 0.4}, Rotation: FromAxisAngle(Vec3{Y: 1}, -12)},
		{Position: Vec3{X: 1.1, Y: -0.1, Z: 0.9}, Rotation: FromAxisAngle(Vec3{X: 1}, 4)},
		{Position: Vec3{X: 0.7, Y: 0.2, Z: -1.3}, Rotation: FromAxisAngle(Vec3{Z: 1}, 9)},
	}
	for _, drifted := range drifts {
		delta := RigidDelta(reference, drifted)
		a = delta.Apply(a)
		b = delta.Apply(b)
		reference = drifted

		offset := b.Position.Sub(a.Position).Length()
		if math.Abs(offset-initialOffset) > 1e-6 {
			t.Fatalf("relative offset changed: initial %f, now %f", initialOffset, offset)
		}
	}
}

func TestRigidDeltaOffsetInAnchorFrameIsConstant(t *testing.T) {
	anchor := Pose{Position: Vec3{X: 1, Z: 2}, Rotation: FromAxisAngle(Vec3{Y: 1}, 15)}
	item := Pose{Position: Vec3{X: 2.5, Y: 0.3, Z: 2}, Rotation: FromAxisAngle(Vec3{Y: 1}, 40)}
	localBefore := anchor.Rotation.Inverse().Rotate(item.Position.Sub(anchor.Position))

	drifted := Pose{Position: Vec3{X: 0.4, Y: -0.1, Z: 2.8}, Rotation: FromAxisAngle(Vec3{Y: 1}, -25)}
	delta := RigidDelta(anchor, drifted)
	anchorAfter := delta.Apply(anchor)
	itemAfter := delta.Apply(item)

	localAfter := anchorAfter.Rotation.Inverse().Rotate(itemAfter.Position.Sub(anchorAfter.Position))
	if localAfter.Sub(localBefore).Length() > 1e-6 {
		t.Fatalf("anchor-frame offset changed: before %v, after %v", localBefore, localAfter)
	}
}

func TestRigidDeltaComponents(t *testing.T) {
	from := Pose{Position: Vec3{X: 1}, Rotation: Identity()}
	to := Pose{Position: Vec3{X: 4}, Rotation: FromAxisAngle(Vec3{Y: 1}, 90)}
	delta := RigidDelta(from, to)

	if got := delta.Translation(); got.Sub(Vec3{X: 3}).Length() > epsilon {
		t.Fatalf("expected translation (3,0,0), got %v", got)
	}
	if got := delta.RotationAngleDeg(); math.Abs(got-90) > 1e-6 {
		t.Fatalf("expected 90 degree delta, got %f", got)
	}
}

func TestQuatRotate(t *testing.T) {
	q := FromAxisAngle(Vec3{Y: 1}, 90)
	rotated := q.Rotate(Vec3{X: 1})
	want := Vec3{Z: -1}
	if rotated.Sub(want).Length() > 1e-9 {
		t.Fatalf("expected %v, got %v", want, rotated)
	}
}

func TestQuatAngleDeg(t *testing.T) {
	a := FromAxisAngle(Vec3{Y: 1}, 10)
	b := FromAxisAngle(Vec3{Y: 1}, 55)
	if got := a.AngleDeg(b); math.Abs(got-45) > 1e-6 {
		t.Fatalf("expected 45 degrees, got %f", got)
	}
}

func TestQuatAngleDegSelfIsExactlyZero(t *testing.T) {
	// Rounding in the dot product must not surface as a phantom rotation;
	// the drift detector compares this result against a small threshold.
	quats := []Quat{
		Identity(),
		FromAxisAngle(Vec3{Y: 1}, 10),
		FromAxisAngle(Vec3{X: 1, Y: 1, Z: -0.5}, 33),
		FromEuler(12, 77, -4),
	}
	for _, q := range quats {
		if got := q.AngleDeg(q); got != 0 {
			t.Fatalf("expected exactly zero angle to self for %v, got %g", q, got)
		}
		// The negated quaternion encodes the same rotation.
		neg := Quat{W: -q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
		if got := q.AngleDeg(neg); got != 0 {
			t.Fatalf("expected zero angle to negation for %v, got %g", q, got)
		}
	}
}

func TestFromEulerYawOnly(t *testing.T) {
	q := FromEuler(0, 90, 0)
	want := FromAxisAngle(Vec3{Y: 1}, 90)
	if q.AngleDeg(want) > 1e-6 {
		t.Fatalf("expected yaw-only rotation, delta %f degrees", q.AngleDeg(want))
	}
}

func TestNormalizedDegenerate(t *testing.T) {
	q := Quat{}.Normalized()
	if q != Identity() {
		t.Fatalf("expected degenerate quaternion to collapse to identity, got %v", q)
	}
}

func TestSmoothDampConverges(t *testing.T) {
	current := Vec3{X: 5, Y: 1, Z: -2}
	target := Vec3{X: 0, Y: 0, Z: 0}
	velocity := Vec3{}

	for i := 0; i < 600; i++ {
		current = SmoothDamp(current, target, &velocity, 0.25, 100, 1.0/60)
	}
	if current.Sub(target).Length() > 1e-3 {
		t.Fatalf("expected convergence to target, still at %v", current)
	}
}

func TestSmoothDampRespectsSpeedBound(t *testing.T) {
	current := Vec3{}
	target := Vec3{X: 1000}
	velocity := Vec3{}
	dt := 1.0 / 60

	next := SmoothDamp(current, target, &velocity, 0.25, 2.0, dt)
	stepSpeed := next.Sub(current).Length() / dt
	// The clamp bounds the spring's effective speed; allow spring overshoot
	// headroom above the nominal bound but reject runaway steps.
	if stepSpeed > 20 {
		t.Fatalf("step speed %f far exceeds bound", stepSpeed)
	}
}

func TestSmoothDampDoesNotOvershoot(t *testing.T) {
	current := Vec3{X: 0.01}
	target := Vec3{}
	velocity := Vec3{X: -5}

	next := SmoothDamp(current, target, &velocity, 0.1, 100, 1.0/30)
	if next.X < -epsilon {
		t.Fatalf("overshot past target: %v", next)
	}
}

func TestSmoothStepBounds(t *testing.T) {
	if got := SmoothStep(0, 0.016); got != 1 {
		t.Fatalf("expected immediate step for zero smoothing, got %f", got)
	}
	got := SmoothStep(0.25, 0.016)
	if got <= 0 || got >= 1 {
		t.Fatalf("expected fractional step, got %f", got)
	}
}
