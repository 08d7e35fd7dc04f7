package config

import (
	"reflect"
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CooldownChanged bool
	NewCooldown     time.Duration

	HysteresisChanged bool
	NewHysteresis     float64

	// ExercisesChanged is true if any exercise override was added, removed
	// or had its rule table modified. ChangedExercises lists the affected ids
	// in sorted order.
	ExercisesChanged bool
	ChangedExercises []string
}

// Any reports whether d contains at least one hot-reloadable change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.CooldownChanged || d.HysteresisChanged || d.ExercisesChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Voice.Cooldown != new.Voice.Cooldown {
		d.CooldownChanged = true
		d.NewCooldown = new.Voice.Cooldown
	}
	if old.Reps.HysteresisDegrees != new.Reps.HysteresisDegrees {
		d.HysteresisChanged = true
		d.NewHysteresis = new.Reps.HysteresisDegrees
	}

	oldEx := exerciseIndex(old.Exercises)
	newEx := exerciseIndex(new.Exercises)
	for id, o := range oldEx {
		n, exists := newEx[id]
		if !exists || !reflect.DeepEqual(o.Rules, n.Rules) {
			d.ChangedExercises = append(d.ChangedExercises, id)
		}
	}
	for id := range newEx {
		if _, exists := oldEx[id]; !exists {
			d.ChangedExercises = append(d.ChangedExercises, id)
		}
	}
	if len(d.ChangedExercises) > 0 {
		d.ExercisesChanged = true
		slices.Sort(d.ChangedExercises)
	}

	return d
}

func exerciseIndex(list []ExerciseConfig) map[string]ExerciseConfig {
	m := make(map[string]ExerciseConfig, len(list))
	for _, ex := range list {
		m[ex.ID] = ex
	}
	return m
}

// RestartRequired lists the yaml paths of settings that differ between old
// and new but are only read at startup.
func RestartRequired(old, new *Config) []string {
	var fields []string
	add := func(changed bool, path string) {
		if changed {
			fields = append(fields, path)
		}
	}
	add(old.Server.ListenAddr != new.Server.ListenAddr, "server.listen_addr")
	add(!reflect.DeepEqual(old.Server.TLS, new.Server.TLS), "server.tls")
	add(!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins), "server.allowed_origins")
	add(old.Store != new.Store, "store")
	add(!reflect.DeepEqual(old.Voice.Provider, new.Voice.Provider), "voice.provider")
	add(old.Voice.VoiceID != new.Voice.VoiceID, "voice.voice_id")
	add(old.Voice.SpeedFactor != new.Voice.SpeedFactor, "voice.speed_factor")
	add(old.Voice.QueueSize != new.Voice.QueueSize, "voice.queue_size")
	add(old.Voice.Breaker != new.Voice.Breaker, "voice.breaker")
	return fields
}
