package pose

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// minNorm is the shortest segment length treated as a real vector. Shorter
// segments come from coincident landmarks and carry no direction.
const minNorm = 1e-9

// Midpoint returns the arithmetic mean of a and b.
func Midpoint(a, b r3.Vec) r3.Vec {
	return r3.Scale(0.5, r3.Add(a, b))
}

// Angle returns the angle in degrees, in [0,180], subtended at vertex by the
// rays towards a and c. ok is false when either ray has zero length or the
// computation overflows.
//
// The cosine is clamped to [-1,1] before arccos so rounding error on nearly
// collinear points can never produce NaN.
func Angle(a, vertex, c r3.Vec) (deg float64, ok bool) {
	u := r3.Sub(a, vertex)
	v := r3.Sub(c, vertex)
	nu, nv := r3.Norm(u), r3.Norm(v)
	if !finite(nu) || !finite(nv) || nu < minNorm || nv < minNorm {
		return 0, false
	}
	// Normalise first so the dot product stays within [-1,1] up to rounding.
	cos := r3.Dot(r3.Scale(1/nu, u), r3.Scale(1/nv, v))
	if !finite(cos) {
		return 0, false
	}
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi, true
}

// Tilt returns the signed inclination in degrees of the segment from left to
// right, measured in the image plane. Positive means right sits lower than
// left (image y grows downward). The horizontal span is taken as an absolute
// value so mirrored and non-mirrored camera feeds agree on the sign. ok is
// false when the span is not finite.
func Tilt(left, right r3.Vec) (deg float64, ok bool) {
	dx := math.Abs(left.X - right.X)
	dy := right.Y - left.Y
	if !finite(dx) || !finite(dy) {
		return 0, false
	}
	return math.Atan2(dy, dx) * 180 / math.Pi, true
}

// Above returns a point dist normalized units vertically above p.
func Above(p r3.Vec, dist float64) r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y - dist, Z: p.Z}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
