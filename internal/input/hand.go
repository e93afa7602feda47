package input

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/normanking/avatarmotion/internal/command"
)

// DefaultFingerThreshold is the tip-to-palm distance, in tracker pixels,
// separating a curled finger from an extended one.
const DefaultFingerThreshold = 100

// Finger holds four joints from knuckle to tip.
type Finger [4]mgl32.Vec3

// Tip returns the last joint.
func (f Finger) Tip() mgl32.Vec3 { return f[3] }

// HandLandmarks is one tracked hand in hand-pose annotation form.
type HandLandmarks struct {
	Thumb    Finger     `json:"thumb"`
	Index    Finger     `json:"indexFinger"`
	Middle   Finger     `json:"middleFinger"`
	Ring     Finger     `json:"ringFinger"`
	Pinky    Finger     `json:"pinky"`
	PalmBase mgl32.Vec3 `json:"palmBase"`
}

// ClassifyHand recognizes a small set of static hand poses:
//
//	fist           -> reset
//	open palm      -> rotate
//	index only     -> zoomIn
//	index + middle -> zoomOut
//	thumb only     -> changeColor
func ClassifyHand(h HandLandmarks, threshold float32) (command.Command, bool) {
	if threshold <= 0 {
		threshold = DefaultFingerThreshold
	}
	ext := func(f Finger) bool {
		return f.Tip().Sub(h.PalmBase).Len() > threshold
	}
	thumb, index, middle, ring, pinky := ext(h.Thumb), ext(h.Index), ext(h.Middle), ext(h.Ring), ext(h.Pinky)

	switch {
	case !thumb && !index && !middle && !ring && !pinky:
		return command.Reset, true
	case thumb && index && middle && ring && pinky:
		return command.Rotate, true
	case index && !thumb && !middle && !ring && !pinky:
		return command.ZoomIn, true
	case index && middle && !thumb && !ring && !pinky:
		return command.ZoomOut, true
	case thumb && !index && !middle && !ring && !pinky:
		return command.ChangeColor, true
	}
	return command.None, false
}
