// Package posetest builds synthetic skeletons for tests.
package posetest

import (
	"math"

	"github.com/MrWong99/posecoach/pkg/pose"
)

// Standing returns a front-facing, upright, fully visible skeleton: head
// centred over level shoulders, straight legs and nearly straight arms.
func Standing() pose.Frame {
	f := make(pose.Frame, pose.NumLandmarks)
	for i := range f {
		f[i] = pose.Landmark{X: 0.5, Y: 0.18, Visibility: 0.9}
	}
	set := func(idx int, x, y float64) { f[idx] = pose.Landmark{X: x, Y: y, Visibility: 0.95} }
	set(pose.Nose, 0.5, 0.2)
	set(pose.LeftShoulder, 0.6, 0.35)
	set(pose.RightShoulder, 0.4, 0.35)
	set(pose.LeftElbow, 0.62, 0.5)
	set(pose.RightElbow, 0.38, 0.5)
	set(pose.LeftWrist, 0.63, 0.65)
	set(pose.RightWrist, 0.37, 0.65)
	set(pose.LeftHip, 0.57, 0.6)
	set(pose.RightHip, 0.43, 0.6)
	set(pose.LeftKnee, 0.57, 0.8)
	set(pose.RightKnee, 0.43, 0.8)
	set(pose.LeftAnkle, 0.57, 1.0)
	set(pose.RightAnkle, 0.43, 1.0)
	return f
}

// WithKnees bends both legs so the hip-knee-ankle angles equal left and
// right degrees. The hips move in depth only, keeping the frame centred.
func WithKnees(f pose.Frame, left, right float64) pose.Frame {
	out := append(pose.Frame(nil), f...)
	bend := func(hip, knee int, deg float64) {
		rad := deg * math.Pi / 180
		k := out[knee]
		out[hip].X = k.X
		out[hip].Y = k.Y + 0.2*math.Cos(rad)
		out[hip].Z = k.Z + 0.2*math.Sin(rad)
	}
	bend(pose.LeftHip, pose.LeftKnee, left)
	bend(pose.RightHip, pose.RightKnee, right)
	return out
}

// Squat is Standing with both knees at deg.
func Squat(deg float64) pose.Frame { return WithKnees(Standing(), deg, deg) }

// WithVisibility returns a copy of f with every landmark at vis.
func WithVisibility(f pose.Frame, vis float64) pose.Frame {
	out := append(pose.Frame(nil), f...)
	for i := range out {
		out[i].Visibility = vis
	}
	return out
}

// DropShoulder returns a copy of f with one shoulder lowered by dy in
// normalised image units. side is "left" or "right".
func DropShoulder(f pose.Frame, side string, dy float64) pose.Frame {
	out := append(pose.Frame(nil), f...)
	idx := pose.RightShoulder
	if side == "left" {
		idx = pose.LeftShoulder
	}
	out[idx].Y += dy
	return out
}
