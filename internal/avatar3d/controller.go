// Package avatar3d drives one avatar: pose, animation selection, autonomous
// walking and facial expression, all advanced by an explicit tick.
package avatar3d

import (
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarmotion/internal/animation"
	"github.com/normanking/avatarmotion/internal/bus"
	"github.com/normanking/avatarmotion/internal/command"
	"github.com/normanking/avatarmotion/internal/metrics"
	"github.com/normanking/avatarmotion/internal/scene"
)

// ControllerConfig holds the tunables of a Controller. Durations are in
// seconds of tick time.
type ControllerConfig struct {
	Bounds        Bounds
	TargetMargin  float32
	WalkSpeed     float32
	RunSpeed      float32
	ArriveEpsilon float32

	Wander    bool
	WanderMin float32
	WanderMax float32

	CrossFade       float32
	OneShotDuration float32

	RotationSmoothing float32
	RotationEpsilon   float32
	RotateStep        float32
	TurnStep          float32
	LookStep          float32

	CameraDistance    float32
	MinCameraDistance float32
	ZoomStep          float32

	Face FaceCalibration
}

// DefaultControllerConfig returns the stock tuning.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Bounds:            Bounds{MinX: -5, MaxX: 5, MinZ: -5, MaxZ: 5},
		TargetMargin:      0.25,
		WalkSpeed:         1.5,
		RunSpeed:          3.5,
		ArriveEpsilon:     0.05,
		Wander:            true,
		WanderMin:         2,
		WanderMax:         5,
		CrossFade:         0.3,
		OneShotDuration:   1.5,
		RotationSmoothing: 0.1,
		RotationEpsilon:   0.001,
		RotateStep:        0.5,
		TurnStep:          0.3,
		LookStep:          0.3,
		CameraDistance:    5,
		MinCameraDistance: 2,
		ZoomStep:          0.5,
		Face:              DefaultFaceCalibration(),
	}
}

type catalogSetter interface {
	SetCatalog(*animation.Catalog)
}

// Controller owns one avatar's pose and catalog. It is not safe for
// concurrent use: Apply, Tick, ApplyFace and SetCatalog must all be called
// from the goroutine running the tick loop.
type Controller struct {
	id       string
	cfg      ControllerConfig
	resolver *animation.Resolver
	mixer    animation.Mixer
	scene    scene.Scene
	faces    *ExpressionMapper
	catalog  *animation.Catalog
	rng      *rand.Rand
	logger   zerolog.Logger
	bus      *bus.EventBus

	pose  Pose
	state State
	speed float32

	// last command sent to the resolver, replayed when the model changes
	animCommand command.Command

	oneShotLeft   float32
	wanderPending bool
	wanderLeft    float32

	closed bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithBus publishes state and animation events.
func WithBus(b *bus.EventBus) Option {
	return func(c *Controller) { c.bus = b }
}

// WithRand injects the random source used for walk targets, wander delays
// and tints.
func WithRand(r *rand.Rand) Option {
	return func(c *Controller) { c.rng = r }
}

// WithScene sets the scene the pose is written to.
func WithScene(s scene.Scene) Option {
	return func(c *Controller) { c.scene = s }
}

// WithMixer replaces the default software mixer.
func WithMixer(m animation.Mixer) Option {
	return func(c *Controller) { c.mixer = m }
}

// WithResolver replaces the default resolver.
func WithResolver(r *animation.Resolver) Option {
	return func(c *Controller) { c.resolver = r }
}

// WithCatalog sets the initial catalog.
func WithCatalog(cat *animation.Catalog) Option {
	return func(c *Controller) { c.catalog = cat }
}

// NewController creates an idle avatar at the origin.
func NewController(cfg ControllerConfig, opts ...Option) *Controller {
	c := &Controller{
		id:          uuid.NewString(),
		cfg:         cfg,
		logger:      zerolog.Nop(),
		state:       StateIdle,
		animCommand: command.Idle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "avatar").Str("avatar", c.id).Logger()

	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	if c.resolver == nil {
		c.resolver = animation.NewResolver(nil, nil)
	}
	if c.catalog == nil {
		c.catalog = animation.EmptyCatalog("")
	}
	if c.mixer == nil {
		c.mixer = animation.NewSoftwareMixer(c.catalog)
	} else if cs, ok := c.mixer.(catalogSetter); ok {
		cs.SetCatalog(c.catalog)
	}
	if c.scene == nil {
		c.scene = scene.NewAvatarGraph()
	}
	c.faces = NewExpressionMapper(cfg.Face)

	c.pose = Pose{
		CameraDistance: cfg.CameraDistance,
		Tint:           mgl32.Vec3{1, 1, 1},
		Command:        command.Idle,
	}
	c.play(command.Idle)
	c.writeScene()
	return c
}

// ID identifies the avatar instance.
func (c *Controller) ID() string { return c.id }

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Pose returns a copy of the pose.
func (c *Controller) Pose() Pose { return c.pose.Clone() }

// Catalog returns the catalog of the loaded model.
func (c *Controller) Catalog() *animation.Catalog { return c.catalog }

// Snapshot copies the observable state.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		ID:      c.id,
		State:   c.state,
		Pose:    c.pose.Clone(),
		Model:   c.catalog.Source(),
		Clips:   c.catalog.Len(),
		Playing: c.mixer.Active(),
	}
}

// Apply executes an accepted command. It implements router.Sink.
func (c *Controller) Apply(cmd command.Command) {
	if c.closed || cmd.IsNone() {
		return
	}
	c.pose.Command = cmd
	c.logger.Debug().Str("command", cmd.String()).Str("state", c.state.String()).Msg("Applying command")

	switch cmd {
	case command.Rotate:
		c.turn(0, c.cfg.RotateStep)
	case command.RotateLeft:
		c.turn(0, -c.cfg.TurnStep)
	case command.RotateRight:
		c.turn(0, c.cfg.TurnStep)
	case command.LookUp:
		c.turn(-c.cfg.LookStep, 0)
	case command.LookDown:
		c.turn(c.cfg.LookStep, 0)
	case command.ZoomIn:
		c.pose.CameraDistance = maxf(c.cfg.MinCameraDistance, c.pose.CameraDistance-c.cfg.ZoomStep)
	case command.ZoomOut:
		c.pose.CameraDistance += c.cfg.ZoomStep
	case command.ChangeColor:
		c.pose.Tint = mgl32.Vec3{c.rng.Float32(), c.rng.Float32(), c.rng.Float32()}
	case command.Reset:
		c.reset()
	case command.Walk, command.Run:
		c.startWalking(cmd, c.randomTarget())
	case command.Attack, command.Jump, command.Dance:
		c.stopWalking()
		c.play(cmd)
		c.oneShotLeft = c.cfg.OneShotDuration
		c.setState(StatePlayingOneShot)
	default:
		// idle, crouch, death and literal clip names
		c.stopWalking()
		c.oneShotLeft = 0
		c.play(cmd)
		c.setState(StateIdle)
	}
}

// WalkTo starts walking toward target, clamped inside the bounds.
func (c *Controller) WalkTo(target mgl32.Vec3) {
	if c.closed {
		return
	}
	c.pose.Command = command.Walk
	c.startWalking(command.Walk, target)
}

// Tick advances every timer, the locomotion, the rotation smoothing and
// the mixer by dt seconds.
func (c *Controller) Tick(dt float32) {
	if c.closed || dt <= 0 {
		return
	}

	if c.state == StatePlayingOneShot {
		c.oneShotLeft -= dt
		if c.oneShotLeft <= 0 {
			c.oneShotLeft = 0
			c.play(command.Idle)
			c.setState(StateIdle)
		}
	}

	if c.wanderPending {
		c.wanderLeft -= dt
		if c.wanderLeft <= 0 {
			c.wanderPending = false
			c.pose.Command = command.Walk
			c.startWalking(command.Walk, c.randomTarget())
		}
	}

	if c.state == StateWalking {
		c.stepWalk(dt)
	}

	c.pose.Rotation = approachVec3(c.pose.Rotation, c.pose.TargetRotation, frameFactor(c.cfg.RotationSmoothing, dt))
	if c.state == StateTurning && c.rotationSettled() {
		c.pose.Rotation = c.pose.TargetRotation
		c.setState(StateIdle)
	}

	c.mixer.Update(dt)
	c.writeScene()
}

// ApplyFace maps one face-tracking sample onto the scene.
func (c *Controller) ApplyFace(m FaceMetrics) {
	if c.closed {
		return
	}
	c.faces.Apply(m, c.scene)
}

// SetCatalog replaces the model's catalog and replays the clip matching the
// current activity against the new names.
func (c *Controller) SetCatalog(cat *animation.Catalog) {
	if c.closed {
		return
	}
	if cat == nil {
		cat = animation.EmptyCatalog("")
	}
	c.catalog = cat
	if cs, ok := c.mixer.(catalogSetter); ok {
		cs.SetCatalog(cat)
	} else {
		c.mixer.StopAll(0)
	}
	c.pose.Animation = ""
	metrics.CatalogClips.Set(float64(cat.Len()))
	c.logger.Info().Str("model", cat.Source()).Int("clips", cat.Len()).Msg("Catalog loaded")

	c.play(c.animCommand)
}

// Close stops the avatar. Pending one-shot and wander timers are dropped and
// later calls are ignored.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.oneShotLeft = 0
	c.wanderPending = false
	c.mixer.StopAll(0)
	c.closed = true
}

func (c *Controller) turn(dPitch, dYaw float32) {
	c.pose.TargetRotation[0] += dPitch
	c.pose.TargetRotation[1] += dYaw
	if c.state == StateIdle {
		c.setState(StateTurning)
	}
}

func (c *Controller) rotationSettled() bool {
	return c.pose.TargetRotation.Sub(c.pose.Rotation).Len() < c.cfg.RotationEpsilon
}

func (c *Controller) reset() {
	c.stopWalking()
	c.oneShotLeft = 0
	c.pose.Rotation = mgl32.Vec3{}
	c.pose.TargetRotation = mgl32.Vec3{}
	c.pose.Position = mgl32.Vec3{}
	c.pose.CameraDistance = c.cfg.CameraDistance
	c.play(command.Idle)
	c.setState(StateIdle)
}

// play resolves cmd against the catalog. A miss leaves the current clip.
func (c *Controller) play(cmd command.Command) {
	c.animCommand = cmd
	m, ok := c.resolver.Resolve(cmd, c.catalog.Names())
	if !ok {
		metrics.Resolutions.WithLabelValues(animation.TierNone.String()).Inc()
		c.logger.Warn().Str("command", cmd.String()).Str("model", c.catalog.Source()).Msg("No animation available")
		c.bus.Emit(bus.EventTypeAnimationMissing, map[string]any{"command": cmd.String()})
		return
	}
	metrics.Resolutions.WithLabelValues(m.Tier.String()).Inc()

	if m.Name == c.pose.Animation && !cmd.IsOneShot() {
		return
	}
	c.mixer.Play(m.Name, c.cfg.CrossFade)
	c.pose.Animation = m.Name

	c.logger.Debug().
		Str("command", cmd.String()).
		Str("clip", m.Name).
		Str("tier", m.Tier.String()).
		Msg("Animation changed")
	c.bus.Emit(bus.EventTypeAnimationChanged, map[string]any{
		"command": cmd.String(),
		"clip":    m.Name,
		"tier":    m.Tier.String(),
	})
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	prev := c.state
	c.state = s
	c.bus.Emit(bus.EventTypeStateChanged, map[string]any{
		"avatar": c.id,
		"from":   prev.String(),
		"to":     s.String(),
	})
}

func (c *Controller) writeScene() {
	if root, ok := c.scene.Node(scene.NodeRoot); ok {
		root.Position = c.pose.Position
		root.Rotation = c.pose.Rotation
		root.Tint = c.pose.Tint
	}
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
