package posture

import "github.com/MrWong99/posecoach/pkg/pose"

// Keys of the neutral outcomes. None of them is a correction.
const (
	KeyNoPose           = "no_pose"
	KeyInsufficientData = "insufficient_data"
	KeyOpenPosture      = "open_posture"
	KeyGoodForm         = "good_form"
	KeyMinorAdjustment  = "minor_adjustment"

	// RuleKeyPrefix prefixes the rule id when a rule violation is the
	// primary feedback.
	RuleKeyPrefix = "rule:"
)

const (
	ruleNoteThreshold  = 85.0
	minorAdjustScore   = 90.0
	msgNoPose          = "No pose detected"
	msgInsufficient    = "Move closer to the camera so your whole body is visible"
	msgOpenPosture     = "Move freely and keep breathing steadily"
	msgGoodForm        = "Good form, keep it up"
	msgMinorAdjustment = "Almost there, make a small adjustment"
)

// IsNeutralKey reports whether key denotes an outcome that needs no
// correction. Neutral keys are never spoken.
func IsNeutralKey(key string) bool {
	switch key {
	case KeyNoPose, KeyInsufficientData, KeyOpenPosture, KeyGoodForm, "":
		return true
	}
	return false
}

// Analysis is the result of scoring one frame.
type Analysis struct {
	// Score is the posture conformance score in [0,100].
	Score float64 `json:"score"`

	// Feedback is the primary message shown to the user.
	Feedback string `json:"feedback"`

	// Key identifies the primary feedback for throttling.
	Key string `json:"key"`

	// Cues lists the corrective messages for this frame, primary first,
	// without duplicates. Empty when no correction is needed.
	Cues []string `json:"cues,omitempty"`
}

// ScorePosture analyses f for the exercise identified by exerciseID using
// the built-in catalog. Unknown identifiers are scored as unconstrained.
func ScorePosture(f pose.Frame, exerciseID string) Analysis {
	return Analyze(f, DefaultCatalog().Resolve(exerciseID))
}

// Analyze scores f against the resolved profile p.
func Analyze(f pose.Frame, p Profile) Analysis {
	if !f.Detected() {
		return noPose()
	}
	return AnalyzeAngles(f, ExtractAngles(f), p)
}

// AnalyzeAngles is [Analyze] for callers that already extracted angles from
// f, e.g. to share them with the rep counter.
func AnalyzeAngles(f pose.Frame, angles JointAngles, p Profile) Analysis {
	if !f.Detected() {
		return noPose()
	}
	if len(p.Rules) == 0 {
		return Analysis{Score: 100, Feedback: msgOpenPosture, Key: KeyOpenPosture}
	}

	res := EvaluateRules(angles, p.Rules)
	if res.Evaluated == 0 {
		return Analysis{Score: 100, Feedback: msgInsufficient, Key: KeyInsufficientData}
	}

	out := Analysis{Score: res.Score}
	worstNeedsNote := res.Worst != nil && res.Worst.Score < ruleNoteThreshold

	cue, hasCue := SelectCue(angles, p.Family(), f)
	switch {
	case hasCue:
		out.Feedback, out.Key = cue.Message, cue.Key
		out.addCue(cue.Message)
		if worstNeedsNote {
			out.addCue(res.Worst.Rule.Message)
		}
	case worstNeedsNote:
		out.Feedback, out.Key = res.Worst.Rule.Message, RuleKeyPrefix+res.Worst.Rule.ID
		out.addCue(res.Worst.Rule.Message)
	case res.Score < minorAdjustScore:
		out.Feedback, out.Key = msgMinorAdjustment, KeyMinorAdjustment
		out.addCue(msgMinorAdjustment)
	default:
		out.Feedback, out.Key = msgGoodForm, KeyGoodForm
	}
	return out
}

func noPose() Analysis {
	return Analysis{Score: 0, Feedback: msgNoPose, Key: KeyNoPose}
}

func (a *Analysis) addCue(msg string) {
	for _, c := range a.Cues {
		if c == msg {
			return
		}
	}
	a.Cues = append(a.Cues, msg)
}
