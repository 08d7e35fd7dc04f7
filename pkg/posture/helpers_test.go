package posture

import (
	"math"
	"math/rand/v2"

	"github.com/MrWong99/posecoach/pkg/pose"
	"github.com/MrWong99/posecoach/pkg/pose/posetest"
)

func standingFrame() pose.Frame { return posetest.Standing() }

func withKnees(f pose.Frame, left, right float64) pose.Frame {
	return posetest.WithKnees(f, left, right)
}

func withVisibility(f pose.Frame, vis float64) pose.Frame {
	return posetest.WithVisibility(f, vis)
}

// randomFrame returns a frame with arbitrary positions and visibilities.
func randomFrame(r *rand.Rand) pose.Frame {
	f := make(pose.Frame, pose.NumLandmarks)
	for i := range f {
		f[i] = pose.Landmark{
			X:          r.Float64(),
			Y:          r.Float64(),
			Z:          r.Float64() - 0.5,
			Visibility: r.Float64(),
		}
	}
	return f
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }
