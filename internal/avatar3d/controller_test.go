package avatar3d

import (
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/avatarmotion/internal/animation"
	"github.com/normanking/avatarmotion/internal/bus"
	"github.com/normanking/avatarmotion/internal/command"
	"github.com/normanking/avatarmotion/internal/scene"
)

const frame = float32(1.0 / 60.0)

func newTestController(t *testing.T, cfg ControllerConfig, opts ...Option) *Controller {
	t.Helper()
	cat, err := animation.CatalogFromNames("soldier.glb", "Idle", "Walking", "Running", "Punch", "Jump")
	require.NoError(t, err)
	opts = append([]Option{WithCatalog(cat), WithRand(rand.New(rand.NewSource(7)))}, opts...)
	return NewController(cfg, opts...)
}

func noWander() ControllerConfig {
	cfg := DefaultControllerConfig()
	cfg.Wander = false
	return cfg
}

func TestNewControllerStartsIdle(t *testing.T) {
	c := newTestController(t, noWander())
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, "Idle", c.Pose().Animation)
	assert.Equal(t, float32(5), c.Pose().CameraDistance)
	assert.NotEmpty(t, c.ID())
}

func TestWalkingConverges(t *testing.T) {
	b := bus.NewEventBus()
	arrivals := 0
	b.Subscribe(bus.EventTypeWalkArrived, func(bus.Event) { arrivals++ })

	c := newTestController(t, noWander(), WithBus(b))
	target := mgl32.Vec3{3, 0, 4}
	c.WalkTo(target)

	p := c.Pose()
	require.True(t, p.Walking)
	assert.Equal(t, StateWalking, c.State())
	assert.Equal(t, "Walking", p.Animation)
	assert.InDelta(t, math.Atan2(3, 4), p.TargetRotation[1], 1e-5)
	assert.InDelta(t, 0.6, p.WalkDirection[0], 1e-5)

	transitions := 0
	for i := 0; i < 1000; i++ {
		was := c.Pose().Walking
		c.Tick(frame)
		now := c.Pose().Walking
		if was && !now {
			transitions++
		}
		if now {
			assert.True(t, c.cfg.Bounds.Contains(c.Pose().Position))
		}
	}

	p = c.Pose()
	assert.Equal(t, 1, transitions)
	assert.Equal(t, 1, arrivals)
	assert.False(t, p.Walking)
	assert.Nil(t, p.WalkTarget)
	assert.Less(t, p.Position.Sub(target).Len(), c.cfg.ArriveEpsilon)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, "Idle", p.Animation)
}

func TestRunUsesRunSpeed(t *testing.T) {
	c := newTestController(t, noWander())
	c.Apply(command.Run)
	require.Equal(t, "Running", c.Pose().Animation)

	start := c.Pose().Position
	c.Tick(0.1)
	moved := c.Pose().Position.Sub(start).Len()
	if c.Pose().Walking {
		assert.InDelta(t, c.cfg.RunSpeed*0.1, moved, 1e-4)
	}
}

func strictlyInside(b Bounds, p mgl32.Vec3) bool {
	return p[0] > b.MinX && p[0] < b.MaxX && p[2] > b.MinZ && p[2] < b.MaxZ
}

func TestWalkTargetClamped(t *testing.T) {
	c := newTestController(t, noWander())
	c.WalkTo(mgl32.Vec3{100, 0, -100})

	target := c.Pose().WalkTarget
	require.NotNil(t, target)
	assert.True(t, strictlyInside(c.cfg.Bounds, *target))
	assert.InDelta(t, 4.75, target[0], 1e-6)
	assert.InDelta(t, -4.75, target[2], 1e-6)
}

func TestWalkArrivesWithoutMargin(t *testing.T) {
	for _, margin := range []float32{0, -1} {
		cfg := noWander()
		cfg.TargetMargin = margin
		c := newTestController(t, cfg)
		c.WalkTo(mgl32.Vec3{6, 0, 6})

		target := c.Pose().WalkTarget
		require.NotNil(t, target)
		assert.True(t, strictlyInside(c.cfg.Bounds, *target), "margin %g target %v", margin, *target)

		for i := 0; i < 6000 && c.Pose().Walking; i++ {
			c.Tick(frame)
		}
		assert.False(t, c.Pose().Walking, "margin %g", margin)
		assert.Equal(t, StateIdle, c.State())

		c.Apply(command.Walk)
		target = c.Pose().WalkTarget
		require.NotNil(t, target)
		assert.True(t, strictlyInside(c.cfg.Bounds, *target), "margin %g random target %v", margin, *target)
	}
}

func TestRandomTargetsInsideBounds(t *testing.T) {
	c := newTestController(t, noWander())
	for i := 0; i < 200; i++ {
		c.Apply(command.Walk)
		target := c.Pose().WalkTarget
		require.NotNil(t, target)
		assert.True(t, strictlyInside(c.cfg.Bounds, *target), "target %v", *target)
	}
}

func TestOneShotTimeout(t *testing.T) {
	c := newTestController(t, noWander())
	c.Apply(command.Attack)
	assert.Equal(t, StatePlayingOneShot, c.State())
	assert.Equal(t, "Punch", c.Pose().Animation)

	c.Tick(1.0)
	assert.Equal(t, StatePlayingOneShot, c.State())

	c.Tick(0.6)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, "Idle", c.Pose().Animation)
}

func TestOneShotStopsWalking(t *testing.T) {
	c := newTestController(t, noWander())
	c.Apply(command.Walk)
	c.Apply(command.Jump)
	assert.False(t, c.Pose().Walking)
	assert.Equal(t, "Jump", c.Pose().Animation)
}

func TestWanderLoop(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.WanderMin, cfg.WanderMax = 1, 1
	cfg.WalkSpeed = 0.01
	c := newTestController(t, cfg)

	c.WalkTo(mgl32.Vec3{0, 0, 0.01})
	c.Tick(frame)
	require.Equal(t, StateIdle, c.State())

	c.Tick(0.5)
	assert.Equal(t, StateIdle, c.State())

	c.Tick(0.6)
	assert.Equal(t, StateWalking, c.State())
	assert.True(t, c.Pose().Walking)
}

func TestIdleCancelsWander(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.WanderMin, cfg.WanderMax = 1, 1
	c := newTestController(t, cfg)

	c.WalkTo(mgl32.Vec3{0, 0, 0.01})
	c.Tick(frame)
	c.Apply(command.Idle)
	c.Tick(2)
	assert.Equal(t, StateIdle, c.State())
}

func TestReset(t *testing.T) {
	c := newTestController(t, DefaultControllerConfig())
	c.Apply(command.Rotate)
	c.Apply(command.ZoomIn)
	c.WalkTo(mgl32.Vec3{4, 0, 4})
	for i := 0; i < 30; i++ {
		c.Tick(frame)
	}

	c.Apply(command.Reset)
	p := c.Pose()
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, mgl32.Vec3{}, p.Position)
	assert.Equal(t, mgl32.Vec3{}, p.Rotation)
	assert.Equal(t, mgl32.Vec3{}, p.TargetRotation)
	assert.Equal(t, float32(5), p.CameraDistance)
	assert.False(t, p.Walking)
	assert.Equal(t, "Idle", p.Animation)

	c.Tick(10)
	assert.Equal(t, StateIdle, c.State())
}

func TestRotateTurnsAndSettles(t *testing.T) {
	c := newTestController(t, noWander())
	c.Apply(command.Rotate)
	assert.Equal(t, StateTurning, c.State())
	assert.Equal(t, "Idle", c.Pose().Animation)

	c.Tick(frame)
	assert.InDelta(t, 0.05, c.Pose().Rotation[1], 1e-4)

	for i := 0; i < 300; i++ {
		c.Tick(frame)
	}
	assert.Equal(t, StateIdle, c.State())
	assert.InDelta(t, 0.5, c.Pose().Rotation[1], 1e-6)

	c.Apply(command.LookUp)
	c.Apply(command.RotateLeft)
	assert.InDelta(t, -0.3, c.Pose().TargetRotation[0], 1e-6)
	assert.InDelta(t, 0.2, c.Pose().TargetRotation[1], 1e-6)
}

func TestZoomClamp(t *testing.T) {
	c := newTestController(t, noWander())
	for i := 0; i < 10; i++ {
		c.Apply(command.ZoomIn)
	}
	assert.Equal(t, float32(2), c.Pose().CameraDistance)
	c.Apply(command.ZoomOut)
	assert.Equal(t, float32(2.5), c.Pose().CameraDistance)
}

func TestChangeColorWritesRoot(t *testing.T) {
	g := scene.NewAvatarGraph()
	c := newTestController(t, noWander(), WithScene(g))
	c.Apply(command.ChangeColor)
	tint := c.Pose().Tint
	assert.NotEqual(t, mgl32.Vec3{1, 1, 1}, tint)

	c.Tick(frame)
	root, _ := g.Node(scene.NodeRoot)
	assert.Equal(t, tint, root.Tint)
}

func TestResolverMissKeepsPoseUpdates(t *testing.T) {
	b := bus.NewEventBus()
	missing := 0
	b.Subscribe(bus.EventTypeAnimationMissing, func(bus.Event) { missing++ })

	c := NewController(noWander(), WithBus(b), WithRand(rand.New(rand.NewSource(1))))
	assert.Equal(t, "", c.Pose().Animation)

	c.Apply(command.Dance)
	assert.Equal(t, StatePlayingOneShot, c.State())
	assert.Equal(t, "", c.Pose().Animation)

	c.WalkTo(mgl32.Vec3{2, 0, 0})
	c.Tick(0.1)
	assert.Greater(t, c.Pose().Position[0], float32(0))
	assert.Positive(t, missing)
}

func TestSetCatalogReplaysActivity(t *testing.T) {
	c := NewController(noWander(), WithRand(rand.New(rand.NewSource(1))))
	c.WalkTo(mgl32.Vec3{4, 0, 0})

	cat, err := animation.CatalogFromNames("robot.glb", "Robot_Idle", "Robot_Walking")
	require.NoError(t, err)
	c.SetCatalog(cat)

	assert.Equal(t, "Robot_Walking", c.Pose().Animation)
	snap := c.Snapshot()
	assert.Equal(t, "robot.glb", snap.Model)
	assert.Equal(t, 2, snap.Clips)
	assert.Equal(t, "Robot_Walking", snap.Playing)
}

func TestCloseStopsTimers(t *testing.T) {
	c := newTestController(t, noWander())
	c.Apply(command.Attack)
	c.Close()

	c.Tick(5)
	c.Apply(command.Walk)
	assert.False(t, c.Pose().Walking)
	assert.Equal(t, "", c.Snapshot().Playing)
}

func TestStateEventsPublished(t *testing.T) {
	b := bus.NewEventBus()
	var seen []string
	b.Subscribe(bus.EventTypeStateChanged, func(e bus.Event) { seen = append(seen, e.Data["to"].(string)) })

	c := newTestController(t, noWander(), WithBus(b))
	c.Apply(command.Jump)
	c.Tick(2)
	assert.Equal(t, []string{"playingOneShot", "idle"}, seen)
}
