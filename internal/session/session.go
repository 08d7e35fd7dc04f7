// Package session tracks live coaching sessions: one [Session] per connected
// client, owning the rep counter, the voice throttle state and running
// statistics, and a [Manager] that starts, looks up and ends them.
package session

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/posecoach/internal/observe"
	"github.com/MrWong99/posecoach/internal/store"
	"github.com/MrWong99/posecoach/internal/voice"
	"github.com/MrWong99/posecoach/pkg/pose"
	"github.com/MrWong99/posecoach/pkg/posture"
)

// Config holds the per-session settings fixed at start.
type Config struct {
	// ID identifies the session. A random UUID is generated when empty.
	ID string

	// Profile is the resolved exercise.
	Profile posture.Profile

	// Throttle gates spoken cues.
	Throttle voice.Throttle

	// Hysteresis is the rep-counter band in degrees; 0 disables it.
	Hysteresis float64

	// Metrics receives frame, rep and cue measurements. Nil uses
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// FrameResult is the outcome of processing one frame.
type FrameResult struct {
	posture.Analysis

	Angles        posture.JointAngles `json:"angles,omitempty"`
	Reps          int                 `json:"reps"`
	CompletedReps int                 `json:"completed_reps"`
	RepState      posture.RepState    `json:"rep_state"`

	// Speak reports whether the primary cue passed the voice throttle.
	Speak bool `json:"speak"`
}

// Session is one client's coaching run. Process may be called from one
// goroutine while another reads Summary; all methods are safe for
// concurrent use.
type Session struct {
	id         string
	profile    posture.Profile
	throttle   voice.Throttle
	hysteresis float64
	metrics    *observe.Metrics
	startedAt  time.Time

	mu     sync.Mutex
	reps   posture.RepCounter
	speech voice.ThrottleState
	stats  stats
}

// stats accumulates per-session numbers for the summary.
type stats struct {
	frames   int
	scored   int
	sum      float64
	min, max float64
	cues     map[string]int
	spoken   int
	last     time.Time
}

// New creates a session started at startedAt.
func New(cfg Config, startedAt time.Time) *Session {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Session{
		id:         id,
		profile:    cfg.Profile,
		throttle:   cfg.Throttle,
		hysteresis: cfg.Hysteresis,
		metrics:    m,
		startedAt:  startedAt,
		stats:      stats{cues: make(map[string]int), last: startedAt},
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Exercise returns the exercise identifier, "unknown" for unrecognised ones.
func (s *Session) Exercise() string { return s.profile.Exercise.String() }

// Profile returns the exercise profile resolved at start.
func (s *Session) Profile() posture.Profile { return s.profile }

// StartedAt returns the session start time.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Process analyses one frame captured at now, advances the rep counter and
// decides whether the primary cue should be spoken.
func (s *Session) Process(ctx context.Context, f pose.Frame, now time.Time) FrameResult {
	start := time.Now()
	angles := posture.ExtractAngles(f)
	analysis := posture.AnalyzeAngles(f, angles, s.profile)

	s.mu.Lock()
	before := s.reps.Reps
	s.reps = s.profile.AdvanceReps(angles, s.reps, s.hysteresis)
	reps := s.reps

	var speak bool
	speak, s.speech = s.throttle.Decide(s.speech, analysis.Key, now)
	s.stats.add(analysis, speak, now)
	s.mu.Unlock()

	exercise := s.Exercise()
	s.metrics.RecordFrame(ctx, exercise, time.Since(start), analysis.Score)
	s.metrics.RecordReps(ctx, exercise, reps.Reps-before)
	if !posture.IsNeutralKey(analysis.Key) {
		status := observe.CueSuppressed
		if speak {
			status = observe.CueSpoken
		}
		s.metrics.RecordCue(ctx, analysis.Key, status)
	}

	return FrameResult{
		Analysis:      analysis,
		Angles:        angles,
		Reps:          reps.Reps,
		CompletedReps: reps.Completed(),
		RepState:      reps.Last,
		Speak:         speak,
	}
}

// Reps returns a copy of the rep counter.
func (s *Session) Reps() posture.RepCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reps
}

// Summary reports the session so far, ending at endedAt. A zero endedAt uses
// the time of the last processed frame.
func (s *Session) Summary(endedAt time.Time) store.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	if endedAt.IsZero() {
		endedAt = s.stats.last
	}
	sum := store.Summary{
		SessionID:     s.id,
		Exercise:      s.Exercise(),
		StartedAt:     s.startedAt,
		EndedAt:       endedAt,
		Frames:        s.stats.frames,
		ScoredFrames:  s.stats.scored,
		Reps:          s.reps.Reps,
		CompletedReps: s.reps.Completed(),
		CueCounts:     make(map[string]int, len(s.stats.cues)),
		SpokenCues:    s.stats.spoken,
	}
	for k, v := range s.stats.cues {
		sum.CueCounts[k] = v
	}
	if s.stats.scored > 0 {
		sum.MeanScore = roundScore(s.stats.sum / float64(s.stats.scored))
		sum.MinScore = s.stats.min
		sum.MaxScore = s.stats.max
	}
	return sum
}

func (st *stats) add(a posture.Analysis, spoken bool, now time.Time) {
	st.frames++
	st.cues[a.Key]++
	if spoken {
		st.spoken++
	}
	if now.After(st.last) {
		st.last = now
	}
	if a.Key == posture.KeyNoPose {
		return
	}
	if st.scored == 0 || a.Score < st.min {
		st.min = a.Score
	}
	if st.scored == 0 || a.Score > st.max {
		st.max = a.Score
	}
	st.scored++
	st.sum += a.Score
}

func roundScore(v float64) float64 { return math.Round(v*100) / 100 }
