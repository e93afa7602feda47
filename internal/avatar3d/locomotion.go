package avatar3d

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/normanking/avatarmotion/internal/bus"
	"github.com/normanking/avatarmotion/internal/command"
)

func (c *Controller) startWalking(cmd command.Command, target mgl32.Vec3) {
	target = c.cfg.Bounds.ClampInside(target, c.cfg.TargetMargin)
	c.oneShotLeft = 0
	c.wanderPending = false

	c.speed = c.cfg.WalkSpeed
	if cmd == command.Run {
		c.speed = c.cfg.RunSpeed
	}

	c.pose.WalkTarget = &target
	c.pose.Walking = true
	c.updateHeading()

	c.play(cmd)
	c.setState(StateWalking)

	c.logger.Debug().
		Str("command", cmd.String()).
		Float32("x", target[0]).
		Float32("z", target[2]).
		Msg("Walking to target")
}

// updateHeading points the walk direction and target yaw at the target.
func (c *Controller) updateHeading() {
	delta := c.pose.WalkTarget.Sub(c.pose.Position)
	delta[1] = 0
	if delta.Len() < 1e-6 {
		return
	}
	dir := delta.Normalize()
	c.pose.WalkDirection = dir
	c.pose.TargetRotation[1] = float32(math.Atan2(float64(dir[0]), float64(dir[2])))
}

func (c *Controller) stepWalk(dt float32) {
	if c.pose.WalkTarget == nil {
		c.arrive()
		return
	}
	target := *c.pose.WalkTarget

	delta := target.Sub(c.pose.Position)
	delta[1] = 0
	dist := delta.Len()
	step := c.speed * dt

	if dist < c.cfg.ArriveEpsilon || step >= dist {
		c.pose.Position = mgl32.Vec3{target[0], c.pose.Position[1], target[2]}
		c.arrive()
		return
	}

	c.pose.WalkDirection = delta.Mul(1 / dist)
	c.pose.Position = c.cfg.Bounds.Clamp(c.pose.Position.Add(c.pose.WalkDirection.Mul(step)))
}

func (c *Controller) arrive() {
	c.pose.Walking = false
	c.pose.WalkTarget = nil
	c.play(command.Idle)
	c.setState(StateIdle)

	c.bus.Emit(bus.EventTypeWalkArrived, map[string]any{
		"avatar": c.id,
		"x":      c.pose.Position[0],
		"z":      c.pose.Position[2],
	})

	if c.cfg.Wander {
		c.wanderPending = true
		c.wanderLeft = c.cfg.WanderMin + c.rng.Float32()*maxf(0, c.cfg.WanderMax-c.cfg.WanderMin)
	}
}

// stopWalking halts locomotion and any scheduled wander without touching
// the playing clip.
func (c *Controller) stopWalking() {
	c.pose.Walking = false
	c.pose.WalkTarget = nil
	c.wanderPending = false
	c.wanderLeft = 0
}

func (c *Controller) randomTarget() mgl32.Vec3 {
	b := c.cfg.Bounds
	m := maxf(c.cfg.TargetMargin, MinTargetMargin)
	return b.ClampInside(mgl32.Vec3{
		b.MinX + m + c.rng.Float32()*maxf(0, b.MaxX-b.MinX-2*m),
		0,
		b.MinZ + m + c.rng.Float32()*maxf(0, b.MaxZ-b.MinZ-2*m),
	}, m)
}
