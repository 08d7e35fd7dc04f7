// Package posture implements the per-frame posture analysis engine: joint
// angle extraction, rule scoring, directional cue selection, feedback merge,
// and repetition counting.
//
// Every function in this package is a pure function of its arguments. State
// that must survive across frames (the [RepCounter]) is a plain value owned
// by the caller and threaded through successive calls, so any number of
// sessions can run concurrently without sharing anything.
package posture

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/MrWong99/posecoach/pkg/pose"
)

// Joint names one derived body measurement.
type Joint string

const (
	NeckFlexion  Joint = "neck_flexion"
	TrunkAngle   Joint = "trunk_angle"
	LeftKnee     Joint = "left_knee"
	RightKnee    Joint = "right_knee"
	LeftHip      Joint = "left_hip"
	RightHip     Joint = "right_hip"
	LeftElbow    Joint = "left_elbow"
	RightElbow   Joint = "right_elbow"
	ShoulderTilt Joint = "shoulder_tilt"
)

// Joints lists every measurement [ExtractAngles] can produce.
var Joints = []Joint{
	NeckFlexion, TrunkAngle,
	LeftKnee, RightKnee,
	LeftHip, RightHip,
	LeftElbow, RightElbow,
	ShoulderTilt,
}

// IsValid reports whether j is a known joint name.
func (j Joint) IsValid() bool {
	for _, k := range Joints {
		if j == k {
			return true
		}
	}
	return false
}

// neckReferenceHeight places the synthetic vertical reference used for neck
// flexion well above any plausible head position.
const neckReferenceHeight = 1.0

// JointAngles is the sparse set of measurements derived from one frame, in
// degrees. A joint is present only when all landmarks it depends on were
// visible. [ShoulderTilt] is signed; all other angles lie in [0,180].
type JointAngles map[Joint]float64

// Get returns the measurement for j and whether it is present.
func (a JointAngles) Get(j Joint) (float64, bool) {
	v, ok := a[j]
	return v, ok
}

// vertex stores the angle at landmark b between a and c, if all three are
// visible and non-degenerate.
func (a JointAngles) vertex(f pose.Frame, j Joint, ia, ib, ic int) {
	pts, ok := f.Points(ia, ib, ic)
	if !ok {
		return
	}
	a.setAngle(j, pts[0], pts[1], pts[2])
}

func (a JointAngles) setAngle(j Joint, p, vertex, q r3.Vec) {
	if deg, ok := pose.Angle(p, vertex, q); ok {
		a[j] = deg
	}
}

// ExtractAngles computes every measurement whose landmarks are visible in f.
func ExtractAngles(f pose.Frame) JointAngles {
	a := make(JointAngles, len(Joints))

	a.vertex(f, LeftKnee, pose.LeftHip, pose.LeftKnee, pose.LeftAnkle)
	a.vertex(f, RightKnee, pose.RightHip, pose.RightKnee, pose.RightAnkle)
	a.vertex(f, LeftHip, pose.LeftShoulder, pose.LeftHip, pose.LeftKnee)
	a.vertex(f, RightHip, pose.RightShoulder, pose.RightHip, pose.RightKnee)
	a.vertex(f, LeftElbow, pose.LeftShoulder, pose.LeftElbow, pose.LeftWrist)
	a.vertex(f, RightElbow, pose.RightShoulder, pose.RightElbow, pose.RightWrist)

	shoulders, ok := f.Points(pose.LeftShoulder, pose.RightShoulder)
	if !ok {
		return a
	}
	if tilt, ok := pose.Tilt(shoulders[0], shoulders[1]); ok {
		a[ShoulderTilt] = tilt
	}
	shoulderMid := pose.Midpoint(shoulders[0], shoulders[1])

	// Neck flexion: head deviation from the vertical through the upper spine.
	if nose, ok := f.Point(pose.Nose); ok {
		a.setAngle(NeckFlexion, shoulderMid, nose, pose.Above(shoulderMid, neckReferenceHeight))
	}

	if lower, ok := f.Points(pose.LeftHip, pose.RightHip, pose.LeftKnee, pose.RightKnee); ok {
		hipMid := pose.Midpoint(lower[0], lower[1])
		kneeMid := pose.Midpoint(lower[2], lower[3])
		a.setAngle(TrunkAngle, shoulderMid, hipMid, kneeMid)
	}
	return a
}

// meanKnee averages the visible knee angles.
func (a JointAngles) meanKnee() (float64, bool) {
	l, lok := a[LeftKnee]
	r, rok := a[RightKnee]
	switch {
	case lok && rok:
		return (l + r) / 2, true
	case lok:
		return l, true
	case rok:
		return r, true
	}
	return 0, false
}
