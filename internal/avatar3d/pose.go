package avatar3d

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/normanking/avatarmotion/internal/command"
)

// State is the locomotion state of the avatar.
type State int

const (
	StateIdle State = iota
	StatePlayingOneShot
	StateWalking
	StateTurning
)

var stateNames = [...]string{"idle", "playingOneShot", "walking", "turning"}

func (s State) String() string {
	if int(s) < len(stateNames) && s >= 0 {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Bounds is the walkable rectangle on the XZ plane.
type Bounds struct {
	MinX float32 `json:"minX"`
	MaxX float32 `json:"maxX"`
	MinZ float32 `json:"minZ"`
	MaxZ float32 `json:"maxZ"`
}

// Contains reports whether p lies inside the rectangle, edges included.
func (b Bounds) Contains(p mgl32.Vec3) bool {
	return p[0] >= b.MinX && p[0] <= b.MaxX && p[2] >= b.MinZ && p[2] <= b.MaxZ
}

// Clamp pulls p onto the rectangle, keeping Y.
func (b Bounds) Clamp(p mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{clamp(p[0], b.MinX, b.MaxX), p[1], clamp(p[2], b.MinZ, b.MaxZ)}
}

// MinTargetMargin is the smallest inset ClampInside applies. Targets on an
// edge are never reached because positions are clamped to the bounds.
const MinTargetMargin float32 = 0.01

// ClampInside pulls p at least margin away from every edge. A margin wider
// than half the rectangle collapses that axis to its centre.
func (b Bounds) ClampInside(p mgl32.Vec3, margin float32) mgl32.Vec3 {
	if margin < MinTargetMargin {
		margin = MinTargetMargin
	}
	return mgl32.Vec3{
		clampInset(p[0], b.MinX, b.MaxX, margin),
		0,
		clampInset(p[2], b.MinZ, b.MaxZ, margin),
	}
}

func clampInset(v, min, max, margin float32) float32 {
	lo, hi := min+margin, max-margin
	if lo >= hi {
		return (min + max) / 2
	}
	return clamp(v, lo, hi)
}

// Pose is the mutable state of one avatar. Only the controller writes it.
type Pose struct {
	Rotation       mgl32.Vec3      `json:"rotation"`
	TargetRotation mgl32.Vec3      `json:"targetRotation"`
	Position       mgl32.Vec3      `json:"position"`
	CameraDistance float32         `json:"cameraDistance"`
	Tint           mgl32.Vec3      `json:"tint"`
	Command        command.Command `json:"command"`
	Animation      string          `json:"animation"`
	WalkTarget     *mgl32.Vec3     `json:"walkTarget,omitempty"`
	WalkDirection  mgl32.Vec3      `json:"walkDirection"`
	Walking        bool            `json:"walking"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (p Pose) Clone() Pose {
	if p.WalkTarget != nil {
		t := *p.WalkTarget
		p.WalkTarget = &t
	}
	return p
}

// Snapshot is a read-only view of a controller after a tick.
type Snapshot struct {
	ID      string `json:"id"`
	State   State  `json:"state"`
	Pose    Pose   `json:"pose"`
	Model   string `json:"model"`
	Clips   int    `json:"clips"`
	Playing string `json:"playing"`
}
