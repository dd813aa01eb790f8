package pose

import "math"

// SmoothDamp moves current toward target with a critically damped spring,
// updating the caller's velocity state in place. smoothTime is roughly the
// time to cover most of the remaining distance; maxSpeed bounds the velocity
// so a large drift correction cannot fling content across the scene in one
// tick. dt is the tick duration in seconds.
func SmoothDamp(current, target Vec3, velocity *Vec3, smoothTime, maxSpeed, dt float64) Vec3 {
	if smoothTime < 1e-4 {
		smoothTime = 1e-4
	}
	omega := 2 / smoothTime

	x := omega * dt
	decay := 1 / (1 + x + 0.48*x*x + 0.235*x*x*x)

	change := current.Sub(target)
	originalTarget := target

	// Clamp the distance covered this step to the speed bound.
	maxChange := maxSpeed * smoothTime
	if maxChange > 0 {
		if l := change.Length(); l > maxChange {
			change = change.Scale(maxChange / l)
		}
	}
	target = current.Sub(change)

	temp := velocity.Add(change.Scale(omega)).Scale(dt)
	*velocity = velocity.Sub(temp.Scale(omega)).Scale(decay)
	out := target.Add(change.Add(temp).Scale(decay))

	// Prevent overshoot past the target.
	if originalTarget.Sub(current).Dot(out.Sub(originalTarget)) > 0 {
		out = originalTarget
		*velocity = out.Sub(originalTarget).Scale(1 / dt)
	}
	return out
}

// SmoothStep returns the interpolation fraction for an exponential approach
// with the given smoothing time over one dt step. Used for rotation smoothing
// where a spring over quaternions is not worth the complexity.
func SmoothStep(smoothTime, dt float64) float64 {
	if smoothTime <= 0 {
		return 1
	}
	return 1 - math.Exp(-dt/smoothTime)
}
