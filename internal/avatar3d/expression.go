package avatar3d

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/normanking/avatarmotion/internal/scene"
)

// Face-mesh landmark indices used to derive FaceMetrics.
const (
	lmLeftEyeUpper  = 159
	lmLeftEyeLower  = 145
	lmRightEyeUpper = 386
	lmRightEyeLower = 374
	lmUpperLip      = 13
	lmLowerLip      = 14
	lmLeftBrow      = 105
	lmNoseTip       = 1
	lmLeftEyeOuter  = 33
	lmRightEyeOuter = 263

	// MinFaceLandmarks is the landmark count MetricsFromLandmarks needs.
	MinFaceLandmarks = lmRightEyeUpper + 1
)

// FaceMetrics is one face-tracking sample in tracker units. It is applied
// once and not retained.
type FaceMetrics struct {
	LeftEye   float32     `json:"leftEye"`
	RightEye  float32     `json:"rightEye"`
	Mouth     float32     `json:"mouth"`
	BrowRaise float32     `json:"browRaise"`
	Nose      mgl32.Vec2  `json:"nose"`
	Head      *mgl32.Vec3 `json:"head,omitempty"`
}

// EyeOpenness averages both eyes.
func (m FaceMetrics) EyeOpenness() float32 {
	return (m.LeftEye + m.RightEye) / 2
}

// MetricsFromLandmarks derives metrics from a face-mesh landmark array. It
// returns false when the array is too short.
func MetricsFromLandmarks(lm []mgl32.Vec3) (FaceMetrics, bool) {
	if len(lm) < MinFaceLandmarks {
		return FaceMetrics{}, false
	}
	absf := func(v float32) float32 { return float32(math.Abs(float64(v))) }

	eyeMid := lm[lmLeftEyeOuter].Add(lm[lmRightEyeOuter]).Mul(0.5)
	nose := lm[lmNoseTip].Sub(eyeMid)

	return FaceMetrics{
		LeftEye:   absf(lm[lmLeftEyeUpper][1] - lm[lmLeftEyeLower][1]),
		RightEye:  absf(lm[lmRightEyeUpper][1] - lm[lmRightEyeLower][1]),
		Mouth:     absf(lm[lmUpperLip][1] - lm[lmLowerLip][1]),
		BrowRaise: absf(lm[lmLeftEyeUpper][1] - lm[lmLeftBrow][1]),
		Nose:      mgl32.Vec2{nose[0], nose[1]},
	}, true
}

// FaceCalibration divides raw metrics into normalized targets.
type FaceCalibration struct {
	Eyes          float32 `json:"eyes"`
	Mouth         float32 `json:"mouth"`
	Brows         float32 `json:"brows"`
	Nose          float32 `json:"nose"`
	Smoothing     float32 `json:"smoothing"`
	HeadSmoothing float32 `json:"headSmoothing"`
}

// DefaultFaceCalibration matches a webcam face mesh in pixel units.
func DefaultFaceCalibration() FaceCalibration {
	return FaceCalibration{
		Eyes:          15,
		Mouth:         20,
		Brows:         30,
		Nose:          50,
		Smoothing:     0.2,
		HeadSmoothing: 0.1,
	}
}

// ExpressionMapper eases face nodes toward tracked metrics.
type ExpressionMapper struct {
	cal FaceCalibration
}

func NewExpressionMapper(cal FaceCalibration) *ExpressionMapper {
	return &ExpressionMapper{cal: cal}
}

// Apply moves every face node present in s one smoothing step toward the
// target derived from m. Missing nodes are skipped.
func (e *ExpressionMapper) Apply(m FaceMetrics, s scene.Scene) {
	f := e.cal.Smoothing

	if n, ok := s.Node(scene.NodeEyes); ok {
		n.Scale[1] = approach(n.Scale[1], normalize(m.EyeOpenness(), e.cal.Eyes, 0, 1), f)
	}
	if n, ok := s.Node(scene.NodeMouth); ok {
		n.Scale[1] = approach(n.Scale[1], normalize(m.Mouth, e.cal.Mouth, 0, 1), f)
	}
	if n, ok := s.Node(scene.NodeEyebrows); ok {
		n.Position[1] = approach(n.Position[1], normalize(m.BrowRaise, e.cal.Brows, -1, 1), f)
	}
	if n, ok := s.Node(scene.NodeNose); ok {
		n.Position[0] = approach(n.Position[0], normalize(m.Nose[0], e.cal.Nose, -1, 1), f)
		n.Position[1] = approach(n.Position[1], normalize(m.Nose[1], e.cal.Nose, -1, 1), f)
	}
	if m.Head != nil {
		if n, ok := s.Node(scene.NodeHead); ok {
			n.Rotation = approachVec3(n.Rotation, *m.Head, e.cal.HeadSmoothing)
		}
	}
}

func normalize(raw, calibration, min, max float32) float32 {
	if calibration == 0 {
		return clamp(0, min, max)
	}
	return clamp(raw/calibration, min, max)
}
