package posture

import (
	"math"

	"github.com/MrWong99/posecoach/pkg/pose"
)

// Thresholds for directional cues. Offsets are in normalized image units,
// angles in degrees.
const (
	headOffsetLimit    = 0.04
	shoulderTiltLimit  = 4.0
	trunkOffsetLimit   = 0.04
	squatShallowKnee   = 130.0
	squatDeepKnee      = 80.0
	kneeAsymmetryLimit = 15.0
	forwardLeanTrunk   = 80.0
	neutralSpineLow    = 90.0
	neutralSpineHigh   = 110.0
)

// Cue keys. A given deviation always maps to the same key so the voice
// throttler can recognise repeats.
const (
	KeyHeadShiftLeft      = "head_shift_left"
	KeyHeadShiftRight     = "head_shift_right"
	KeyRaiseLeftShoulder  = "raise_left_shoulder"
	KeyRaiseRightShoulder = "raise_right_shoulder"
	KeyTrunkShiftLeft     = "trunk_shift_left"
	KeyTrunkShiftRight    = "trunk_shift_right"
	KeySquatDeeper        = "squat_deeper"
	KeySquatTooDeep       = "squat_too_deep"
	KeyKneeSymmetry       = "knee_symmetry"
	KeyChestUp            = "chest_up"
	KeyIncreaseRange      = "increase_range"
)

// Cue is a single directional correction.
type Cue struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// SelectCue returns the highest-priority directional correction for the
// frame, if any. Priority: head centring, shoulder level, trunk lean, then
// the family-specific checks.
//
// Head and trunk cues are given in image space: "left" means toward smaller
// x in the frame as delivered, which is the user's own left when the client
// shows a mirrored selfie view. Shoulder cues name the anatomical side from
// the LeftShoulder and RightShoulder landmarks and do not change when the
// frame is mirrored.
func SelectCue(angles JointAngles, family Family, f pose.Frame) (Cue, bool) {
	shoulders, haveShoulders := f.Points(pose.LeftShoulder, pose.RightShoulder)

	if haveShoulders {
		mid := pose.Midpoint(shoulders[0], shoulders[1])
		if nose, ok := f.Point(pose.Nose); ok {
			switch off := nose.X - mid.X; {
			case off > headOffsetLimit:
				return Cue{KeyHeadShiftLeft, "Bring your head back to center, move it to the left"}, true
			case off < -headOffsetLimit:
				return Cue{KeyHeadShiftRight, "Bring your head back to center, move it to the right"}, true
			}
		}
	}

	if tilt, ok := angles.Get(ShoulderTilt); ok && math.Abs(tilt) > shoulderTiltLimit {
		if tilt > 0 {
			return Cue{KeyRaiseRightShoulder, "Raise your right shoulder to level them"}, true
		}
		return Cue{KeyRaiseLeftShoulder, "Raise your left shoulder to level them"}, true
	}

	if haveShoulders {
		if hips, ok := f.Points(pose.LeftHip, pose.RightHip); ok {
			sm := pose.Midpoint(shoulders[0], shoulders[1])
			hm := pose.Midpoint(hips[0], hips[1])
			switch off := sm.X - hm.X; {
			case off > trunkOffsetLimit:
				return Cue{KeyTrunkShiftLeft, "You are leaning, shift your upper body to the left"}, true
			case off < -trunkOffsetLimit:
				return Cue{KeyTrunkShiftRight, "You are leaning, shift your upper body to the right"}, true
			}
		}
	}

	switch family {
	case FamilySquat:
		return squatCue(angles)
	case FamilySpinalFlow:
		if trunk, ok := angles.Get(TrunkAngle); ok && trunk >= neutralSpineLow && trunk <= neutralSpineHigh {
			return Cue{KeyIncreaseRange, "Move further, round then arch your back with your breath"}, true
		}
	}
	return Cue{}, false
}

func squatCue(angles JointAngles) (Cue, bool) {
	if knee, ok := angles.meanKnee(); ok {
		switch {
		case knee > squatShallowKnee:
			return Cue{KeySquatDeeper, "Bend your knees a little more"}, true
		case knee < squatDeepKnee:
			return Cue{KeySquatTooDeep, "Not so deep, come up a little"}, true
		}
	}
	l, lok := angles.Get(LeftKnee)
	r, rok := angles.Get(RightKnee)
	if lok && rok && math.Abs(l-r) > kneeAsymmetryLimit {
		return Cue{KeyKneeSymmetry, "Bend both knees evenly"}, true
	}
	if trunk, ok := angles.Get(TrunkAngle); ok && trunk < forwardLeanTrunk {
		return Cue{KeyChestUp, "Keep your chest up"}, true
	}
	return Cue{}, false
}
