package posture

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/MrWong99/posecoach/pkg/pose"
)

func TestExtractAngles_Standing(t *testing.T) {
	t.Parallel()

	a := ExtractAngles(standingFrame())
	for _, j := range Joints {
		if _, ok := a.Get(j); !ok {
			t.Errorf("joint %s missing on a fully visible frame", j)
		}
	}

	want := map[Joint]float64{
		LeftKnee:     180,
		RightKnee:    180,
		TrunkAngle:   180,
		NeckFlexion:  180,
		ShoulderTilt: 0,
	}
	for j, w := range want {
		if got := a[j]; !near(got, w) {
			t.Errorf("%s = %v, want %v", j, got, w)
		}
	}
	for _, j := range []Joint{LeftElbow, RightElbow} {
		if got := a[j]; got < 170 || got > 180 {
			t.Errorf("%s = %v, want nearly straight arm", j, got)
		}
	}
}

func TestExtractAngles_KneeBend(t *testing.T) {
	t.Parallel()

	for _, deg := range []float64{170, 120, 95, 60} {
		a := ExtractAngles(withKnees(standingFrame(), deg, deg))
		if !near(a[LeftKnee], deg) || !near(a[RightKnee], deg) {
			t.Errorf("bend %v: knees = %v / %v", deg, a[LeftKnee], a[RightKnee])
		}
	}
}

func TestExtractAngles_OmitsOccludedJoints(t *testing.T) {
	t.Parallel()

	f := standingFrame()
	f[pose.LeftKnee].Visibility = 0

	a := ExtractAngles(f)
	for _, j := range []Joint{LeftKnee, LeftHip, TrunkAngle} {
		if v, ok := a.Get(j); ok {
			t.Errorf("%s = %v, want absent when the left knee is invisible", j, v)
		}
	}
	for _, j := range []Joint{RightKnee, RightHip, NeckFlexion, ShoulderTilt} {
		if _, ok := a.Get(j); !ok {
			t.Errorf("%s should not depend on the left knee", j)
		}
	}
}

func TestExtractAngles_NeckFlexionDropsWithForwardHead(t *testing.T) {
	t.Parallel()

	f := standingFrame()
	f[pose.Nose].Z = -0.12 // head pushed towards the camera

	a := ExtractAngles(f)
	if got := a[NeckFlexion]; got >= 170 {
		t.Errorf("NeckFlexion = %v, want < 170 for a forward head", got)
	}
}

func TestExtractAngles_ShoulderTiltSign(t *testing.T) {
	t.Parallel()

	f := standingFrame()
	f[pose.RightShoulder].Y += 0.15
	if got := ExtractAngles(f)[ShoulderTilt]; got <= 4 {
		t.Errorf("ShoulderTilt = %v, want > 4 with the right shoulder lower", got)
	}

	f = standingFrame()
	f[pose.LeftShoulder].Y += 0.15
	if got := ExtractAngles(f)[ShoulderTilt]; got >= -4 {
		t.Errorf("ShoulderTilt = %v, want < -4 with the left shoulder lower", got)
	}
}

func TestExtractAngles_CoincidentPointsOmitted(t *testing.T) {
	t.Parallel()

	f := standingFrame()
	f[pose.LeftAnkle] = f[pose.LeftKnee]
	if v, ok := ExtractAngles(f).Get(LeftKnee); ok {
		t.Errorf("LeftKnee = %v, want absent for a zero-length shin", v)
	}
}

func TestExtractAngles_ExtremeCoordinatesStayFinite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		edit func(f pose.Frame)
		gone []Joint
	}{
		{
			name: "huge depth on ankle and hip",
			edit: func(f pose.Frame) {
				f[pose.LeftAnkle].Z = 1e200
				f[pose.LeftHip].Z = 1e200
			},
			gone: []Joint{LeftKnee, LeftHip, TrunkAngle},
		},
		{
			name: "huge opposite shoulders",
			edit: func(f pose.Frame) {
				f[pose.LeftShoulder].X = -1e300
				f[pose.RightShoulder].X = 1e300
			},
			gone: []Joint{ShoulderTilt, NeckFlexion},
		},
		{
			name: "nose far away",
			edit: func(f pose.Frame) { f[pose.Nose].Y = -1e150 },
			gone: []Joint{NeckFlexion},
		},
		{
			name: "large but plausible offset",
			edit: func(f pose.Frame) {
				for i := range f {
					f[i].X += 900
				}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := standingFrame()
			tc.edit(f)

			angles := ExtractAngles(f)
			for j, v := range angles {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Errorf("%s = %v, want finite or absent", j, v)
				}
			}
			for _, j := range tc.gone {
				if v, ok := angles.Get(j); ok {
					t.Errorf("%s = %v, want absent for an out-of-range landmark", j, v)
				}
			}

			a := AnalyzeAngles(f, angles, DefaultCatalog().Resolve("squats_gentle"))
			if _, err := json.Marshal(struct {
				Analysis
				Angles JointAngles `json:"angles"`
			}{a, angles}); err != nil {
				t.Fatalf("analysis does not encode: %v", err)
			}
			if a.Score < 0 || a.Score > 100 {
				t.Errorf("Score = %v, want [0,100]", a.Score)
			}
		})
	}
}
