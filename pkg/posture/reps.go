package posture

import "math"

// RepState is the phase of a repetitive movement.
type RepState int

const (
	RepUnknown RepState = iota
	RepUp
	RepDown
)

// String returns "unknown", "up" or "down".
func (s RepState) String() string {
	switch s {
	case RepUp:
		return "up"
	case RepDown:
		return "down"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s RepState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Thresholds below which a movement counts as "down".
const (
	squatDownKnee   = 110.0
	neckDownFlexion = 170.0
	spineDownTrunk  = 120.0
)

// RepCounter is the per-session rep state. The zero value is a fresh
// counter in the unknown state. Callers own it and pass it to every
// [AdvanceRepState] call; the engine keeps no copy.
type RepCounter struct {
	// Reps counts confirmed up/down transitions (half-cycles).
	Reps int `json:"reps"`

	// Last is the most recent derived state.
	Last RepState `json:"last_state"`

	// Confidence is how far the last signal sat from its threshold,
	// relative to the threshold, clamped to [0,1].
	Confidence float64 `json:"state_confidence"`
}

// Completed returns the number of full down-and-up repetitions, i.e. pairs
// of half-cycles.
func (c RepCounter) Completed() int { return c.Reps / 2 }

// repSignal returns the measurement that drives the rep counter for the
// family, and the threshold separating down from up.
func repSignal(f Family, a JointAngles) (value, threshold float64, ok bool) {
	switch f {
	case FamilySquat:
		v, ok := a.meanKnee()
		return v, squatDownKnee, ok
	case FamilyNeck:
		v, ok := a.Get(NeckFlexion)
		return v, neckDownFlexion, ok
	case FamilySpinalFlow:
		v, ok := a.Get(TrunkAngle)
		return v, spineDownTrunk, ok
	}
	return 0, 0, false
}

// Phase derives the rep state of one frame. It returns [RepUnknown] when the
// exercise has no rep signal or the signal's landmarks were not visible.
func (p Profile) Phase(a JointAngles) (state RepState, confidence float64) {
	v, th, ok := repSignal(p.Family(), a)
	if !ok || !finite(v) {
		return RepUnknown, 0
	}
	confidence = math.Min(1, math.Abs(v-th)/th)
	if v < th {
		return RepDown, confidence
	}
	return RepUp, confidence
}

// AdvanceRepState folds one frame into c. A change of derived state counts
// one rep unless the previous state was unknown. Frames without the signal
// leave c untouched.
func AdvanceRepState(angles JointAngles, p Profile, c RepCounter) RepCounter {
	return p.AdvanceReps(angles, c, 0)
}

// AdvanceReps is [AdvanceRepState] with an optional hysteresis band in
// degrees. When hysteresis is positive, a transition between up and down is
// only accepted once the signal has crossed the threshold by at least that
// much; readings inside the band keep the previous state. A zero band counts
// every oscillation.
func (p Profile) AdvanceReps(angles JointAngles, c RepCounter, hysteresis float64) RepCounter {
	state, conf := p.Phase(angles)
	if state == RepUnknown {
		return c
	}
	c.Confidence = conf
	if state == c.Last {
		return c
	}
	if c.Last != RepUnknown && hysteresis > 0 {
		v, th, _ := repSignal(p.Family(), angles)
		if math.Abs(v-th) < hysteresis {
			return c
		}
	}
	if c.Last != RepUnknown {
		c.Reps++
	}
	c.Last = state
	return c
}
