// Package voice turns corrective posture cues into speech.
//
// It has two halves. The throttle decides, per session, which cue keys may be
// spoken: a repeated key is suppressed until a cooldown has passed and
// neutral keys are never spoken. The [Announcer] synthesises the allowed cues
// through a [tts.Provider], guarded by a breaker so an unavailable speech
// backend mutes coaching instead of stalling it.
package voice

import (
	"time"

	"github.com/MrWong99/posecoach/pkg/posture"
)

// DefaultCooldown is the minimum gap between two emissions of the same key.
const DefaultCooldown = 4 * time.Second

// ThrottleState is the per-session memory of the last spoken cue. The zero
// value has spoken nothing. Callers own it and thread it through [Throttle.Decide].
type ThrottleState struct {
	LastKey  string    `json:"last_key,omitempty"`
	LastEmit time.Time `json:"last_emit,omitzero"`
}

// Throttle rate-limits spoken cues by key.
type Throttle struct {
	// Cooldown is the minimum gap between two emissions of the same key.
	// Zero or negative uses DefaultCooldown.
	Cooldown time.Duration
}

func (t Throttle) cooldown() time.Duration {
	if t.Cooldown <= 0 {
		return DefaultCooldown
	}
	return t.Cooldown
}

// Decide reports whether key may be spoken at now and returns the state to
// keep. A key is allowed when it differs from the last emitted key or when
// the cooldown has elapsed since that key was emitted. Neutral keys are never
// allowed. The state only changes when the emission is allowed.
func (t Throttle) Decide(s ThrottleState, key string, now time.Time) (bool, ThrottleState) {
	if posture.IsNeutralKey(key) {
		return false, s
	}
	if key == s.LastKey && now.Sub(s.LastEmit) < t.cooldown() {
		return false, s
	}
	return true, ThrottleState{LastKey: key, LastEmit: now}
}

// ShouldSpeak is [Throttle.Decide] with the default cooldown.
func ShouldSpeak(s ThrottleState, key string, now time.Time) (bool, ThrottleState) {
	return Throttle{}.Decide(s, key, now)
}
