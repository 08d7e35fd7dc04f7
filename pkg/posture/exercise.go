package posture

import (
	"fmt"
	"slices"
)

// Exercise is the closed set of exercises the engine knows how to coach.
// Identifiers arriving from callers are resolved to an Exercise once per
// session via [Catalog.Resolve]; unknown identifiers map to [ExerciseUnknown].
type Exercise int

const (
	ExerciseUnknown Exercise = iota
	ExerciseSquatsGentle
	ExerciseDeskStretch
	ExerciseCatCow
	ExerciseChinTucks
	ExerciseNeckSideBend
)

var exerciseIDs = [...]string{
	ExerciseUnknown:      "",
	ExerciseSquatsGentle: "squats_gentle",
	ExerciseDeskStretch:  "desk_stretch",
	ExerciseCatCow:       "cat_cow",
	ExerciseChinTucks:    "chin_tucks",
	ExerciseNeckSideBend: "neck_side_bend",
}

// Exercises lists every known exercise in catalog order.
var Exercises = []Exercise{
	ExerciseSquatsGentle,
	ExerciseDeskStretch,
	ExerciseCatCow,
	ExerciseChinTucks,
	ExerciseNeckSideBend,
}

// String returns the exercise identifier, or "unknown".
func (e Exercise) String() string {
	if e <= ExerciseUnknown || int(e) >= len(exerciseIDs) {
		return "unknown"
	}
	return exerciseIDs[e]
}

// ParseExercise maps an identifier to its Exercise. Unknown identifiers
// yield [ExerciseUnknown], never an error.
func ParseExercise(id string) Exercise {
	for _, e := range Exercises {
		if exerciseIDs[e] == id {
			return e
		}
	}
	return ExerciseUnknown
}

// IDs returns the identifiers of all known exercises.
func IDs() []string {
	ids := make([]string, len(Exercises))
	for i, e := range Exercises {
		ids[i] = e.String()
	}
	return ids
}

// Family groups exercises that share directional cues and a rep signal.
type Family int

const (
	FamilyNone Family = iota
	FamilySquat
	FamilyNeck
	FamilySpinalFlow
)

// String returns the family name.
func (f Family) String() string {
	switch f {
	case FamilySquat:
		return "squat"
	case FamilyNeck:
		return "neck"
	case FamilySpinalFlow:
		return "spinal_flow"
	default:
		return "none"
	}
}

// Family returns the movement family of e.
func (e Exercise) Family() Family {
	switch e {
	case ExerciseSquatsGentle:
		return FamilySquat
	case ExerciseDeskStretch, ExerciseChinTucks, ExerciseNeckSideBend:
		return FamilyNeck
	case ExerciseCatCow:
		return FamilySpinalFlow
	default:
		return FamilyNone
	}
}

// Rule is one postural requirement: the measured Joint should sit at Target
// degrees, with Tolerance degrees of slack before the rule scores zero.
type Rule struct {
	ID        string  `json:"id" yaml:"id"`
	Joint     Joint   `json:"joint" yaml:"joint"`
	Target    float64 `json:"target" yaml:"target"`
	Tolerance float64 `json:"tolerance" yaml:"tolerance"`
	Weight    float64 `json:"weight" yaml:"weight"`
	Message   string  `json:"message" yaml:"message"`
}

// Validate checks that r can be evaluated.
func (r Rule) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("posture: rule id is required")
	case !r.Joint.IsValid():
		return fmt.Errorf("posture: rule %q: unknown joint %q", r.ID, r.Joint)
	case !(r.Tolerance > 0) || !finite(r.Tolerance):
		return fmt.Errorf("posture: rule %q: tolerance must be positive", r.ID)
	case !(r.Weight > 0) || !finite(r.Weight):
		return fmt.Errorf("posture: rule %q: weight must be positive", r.ID)
	case r.Message == "":
		return fmt.Errorf("posture: rule %q: message is required", r.ID)
	}
	return nil
}

// Profile is an exercise resolved for one session: its rule table and the
// signal that drives the rep counter. Profiles are immutable once resolved.
type Profile struct {
	Exercise Exercise
	Rules    []Rule
}

// Family is shorthand for p.Exercise.Family().
func (p Profile) Family() Family { return p.Exercise.Family() }

// Catalog maps exercises to rule tables. The zero value has no rules for
// any exercise; use [DefaultCatalog] for the built-in tables.
type Catalog struct {
	rules map[Exercise][]Rule
}

// defaultCatalog is read-only after initialisation.
var defaultCatalog = &Catalog{rules: builtinRules()}

// DefaultCatalog returns the catalog holding the built-in rule tables.
func DefaultCatalog() *Catalog { return defaultCatalog }

// WithRules returns a copy of c in which e uses rules. The rules are
// validated and copied; c itself is left unchanged.
func (c *Catalog) WithRules(e Exercise, rules []Rule) (*Catalog, error) {
	if e == ExerciseUnknown {
		return nil, fmt.Errorf("posture: cannot attach rules to an unknown exercise")
	}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("posture: %s: duplicate rule id %q", e, r.ID)
		}
		seen[r.ID] = true
	}
	next := &Catalog{rules: make(map[Exercise][]Rule, len(c.rules)+1)}
	for k, v := range c.rules {
		next.rules[k] = v
	}
	next.rules[e] = slices.Clone(rules)
	return next, nil
}

// Resolve looks up the exercise identified by id. Unknown identifiers
// resolve to a profile with no rules, which always scores 100.
func (c *Catalog) Resolve(id string) Profile {
	return c.Profile(ParseExercise(id))
}

// Profile returns the resolved profile for e.
func (c *Catalog) Profile(e Exercise) Profile {
	if c == nil || e == ExerciseUnknown {
		return Profile{Exercise: ExerciseUnknown}
	}
	return Profile{Exercise: e, Rules: slices.Clone(c.rules[e])}
}

// Profiles returns the resolved profiles of every known exercise.
func (c *Catalog) Profiles() []Profile {
	out := make([]Profile, 0, len(Exercises))
	for _, e := range Exercises {
		out = append(out, c.Profile(e))
	}
	return out
}

func builtinRules() map[Exercise][]Rule {
	return map[Exercise][]Rule{
		ExerciseSquatsGentle: {
			{ID: "squat_left_knee", Joint: LeftKnee, Target: 100, Tolerance: 40, Weight: 1, Message: "Bend your left knee towards ninety degrees"},
			{ID: "squat_right_knee", Joint: RightKnee, Target: 100, Tolerance: 40, Weight: 1, Message: "Bend your right knee towards ninety degrees"},
			{ID: "squat_trunk", Joint: TrunkAngle, Target: 100, Tolerance: 40, Weight: 0.8, Message: "Keep your chest lifted as you sit back"},
		},
		ExerciseDeskStretch: {
			{ID: "desk_shoulders_level", Joint: ShoulderTilt, Target: 0, Tolerance: 8, Weight: 1.5, Message: "Relax your shoulders down and keep them level"},
			{ID: "desk_neck_long", Joint: NeckFlexion, Target: 175, Tolerance: 20, Weight: 1, Message: "Lengthen the back of your neck"},
		},
		ExerciseCatCow: {
			{ID: "catcow_tabletop", Joint: TrunkAngle, Target: 100, Tolerance: 30, Weight: 1, Message: "Stack your hips over your knees"},
			{ID: "catcow_left_arm", Joint: LeftElbow, Target: 170, Tolerance: 25, Weight: 0.7, Message: "Keep your left arm straight under your shoulder"},
			{ID: "catcow_right_arm", Joint: RightElbow, Target: 170, Tolerance: 25, Weight: 0.7, Message: "Keep your right arm straight under your shoulder"},
		},
		ExerciseChinTucks: {
			{ID: "chintuck_neck", Joint: NeckFlexion, Target: 172, Tolerance: 12, Weight: 1, Message: "Glide your chin straight back"},
			{ID: "chintuck_shoulders", Joint: ShoulderTilt, Target: 0, Tolerance: 8, Weight: 0.7, Message: "Keep your shoulders level"},
		},
		ExerciseNeckSideBend: {
			{ID: "sidebend_shoulders", Joint: ShoulderTilt, Target: 0, Tolerance: 6, Weight: 1.5, Message: "Keep your shoulders down while your head tilts"},
		},
	}
}
