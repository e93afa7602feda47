package avatar3d

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// approach moves current toward target by factor of the remaining gap.
func approach(current, target, factor float32) float32 {
	return current + (target-current)*factor
}

func approachVec3(current, target mgl32.Vec3, factor float32) mgl32.Vec3 {
	return current.Add(target.Sub(current).Mul(factor))
}

// frameFactor turns a per-frame smoothing factor tuned at 60 fps into the
// factor for a tick of dt seconds.
func frameFactor(factor, dt float32) float32 {
	if dt <= 0 {
		return 0
	}
	return 1 - float32(math.Pow(float64(1-factor), float64(dt*60)))
}
