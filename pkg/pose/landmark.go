// Package pose defines the body-landmark representation consumed by the
// posture engine and the geometry helpers that operate on it.
//
// Landmarks arrive once per video frame from an external pose-estimation
// model. Each landmark is a normalized 3D point plus a visibility confidence
// in [0,1]. A [Frame] holds the landmarks of one frame in the fixed 33-slot
// body schema (see the index constants below). Frames are treated as
// immutable for the duration of one analysis call.
//
// The adapter role is played by [Frame.Point]: it returns a landmark as an
// [r3.Vec] only when the slot exists and its visibility exceeds
// [MinVisibility], so downstream code never sees occluded points.
package pose

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Body landmark indices of the 33-point pose schema.
const (
	Nose           = 0
	LeftEyeInner   = 1
	LeftEye        = 2
	LeftEyeOuter   = 3
	RightEyeInner  = 4
	RightEye       = 5
	RightEyeOuter  = 6
	LeftEar        = 7
	RightEar       = 8
	MouthLeft      = 9
	MouthRight     = 10
	LeftShoulder   = 11
	RightShoulder  = 12
	LeftElbow      = 13
	RightElbow     = 14
	LeftWrist      = 15
	RightWrist     = 16
	LeftPinky      = 17
	RightPinky     = 18
	LeftIndex      = 19
	RightIndex     = 20
	LeftThumb      = 21
	RightThumb     = 22
	LeftHip        = 23
	RightHip       = 24
	LeftKnee       = 25
	RightKnee      = 26
	LeftAnkle      = 27
	RightAnkle     = 28
	LeftHeel       = 29
	RightHeel      = 30
	LeftFootIndex  = 31
	RightFootIndex = 32
	NumLandmarks   = 33
)

// MinVisibility is the visibility a landmark must exceed to be used.
const MinVisibility = 0.5

// MaxCoordinate bounds the magnitude of a usable coordinate. Pose models
// report normalized positions close to [0,1]; anything far outside is noise.
const MaxCoordinate = 1e3

// Landmark is a single tracked body keypoint. X and Y are normalized to the
// image (origin top-left, y grows downward); Z is the model's relative depth.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// Vec returns the landmark position as an [r3.Vec].
func (l Landmark) Vec() r3.Vec {
	return r3.Vec{X: l.X, Y: l.Y, Z: l.Z}
}

// Visible reports whether the landmark passes the [MinVisibility] threshold
// and every coordinate is finite and within [MaxCoordinate].
func (l Landmark) Visible() bool {
	return l.Visibility > MinVisibility &&
		inRange(l.X) && inRange(l.Y) && inRange(l.Z)
}

// inRange is false for NaN as well as for large magnitudes.
func inRange(v float64) bool {
	return math.Abs(v) <= MaxCoordinate
}

// Frame holds the landmarks of a single video frame, indexed by the
// constants above. A frame may be shorter than [NumLandmarks] when the model
// reports a partial skeleton; missing slots are treated as invisible.
type Frame []Landmark

// Point returns the position of landmark idx if the slot exists and the
// landmark is visible.
func (f Frame) Point(idx int) (r3.Vec, bool) {
	if idx < 0 || idx >= len(f) {
		return r3.Vec{}, false
	}
	l := f[idx]
	if !l.Visible() {
		return r3.Vec{}, false
	}
	return l.Vec(), true
}

// Points resolves several landmarks at once. ok is false if any of them is
// missing or below the visibility threshold.
func (f Frame) Points(idx ...int) (pts []r3.Vec, ok bool) {
	pts = make([]r3.Vec, len(idx))
	for i, id := range idx {
		p, ok := f.Point(id)
		if !ok {
			return nil, false
		}
		pts[i] = p
	}
	return pts, true
}

// Detected reports whether the frame contains a pose at all: at least one
// landmark with non-zero visibility. Empty frames and frames whose every
// landmark has zero visibility mean the user is out of view.
func (f Frame) Detected() bool {
	for _, l := range f {
		if l.Visibility > 0 {
			return true
		}
	}
	return false
}

// VisibleCount returns the number of landmarks above [MinVisibility].
func (f Frame) VisibleCount() int {
	n := 0
	for _, l := range f {
		if l.Visible() {
			n++
		}
	}
	return n
}
