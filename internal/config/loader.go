package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/posecoach/pkg/posture"
)

// ValidTTSProviders lists the built-in TTS provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidTTSProviders = []string{"elevenlabs", "openai"}

// suggestThreshold is the minimum Jaro-Winkler similarity for a
// "did you mean" hint.
const suggestThreshold = 0.8

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied.
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, validates it and applies
// defaults. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
	}

	// Voice
	v := cfg.Voice
	if v.Enabled() {
		validateProviderName(v.Provider.Name)
		if v.VoiceID == "" {
			errs = append(errs, fmt.Errorf("voice.voice_id is required when voice.provider is configured"))
		}
	}
	if v.SpeedFactor != 0 && (v.SpeedFactor < 0.5 || v.SpeedFactor > 2.0) {
		errs = append(errs, fmt.Errorf("voice.speed_factor %.2f is out of range [0.5, 2.0]", v.SpeedFactor))
	}
	if v.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("voice.cooldown must not be negative"))
	}
	if v.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("voice.queue_size must not be negative"))
	}
	if v.Breaker.MaxFailures < 0 || v.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("voice.breaker values must not be negative"))
	}

	// Reps
	if cfg.Reps.HysteresisDegrees < 0 || cfg.Reps.HysteresisDegrees > 45 {
		errs = append(errs, fmt.Errorf("reps.hysteresis_degrees %.1f is out of range [0, 45]", cfg.Reps.HysteresisDegrees))
	}

	// Exercise overrides
	seen := make(map[string]int, len(cfg.Exercises))
	for i, ex := range cfg.Exercises {
		prefix := fmt.Sprintf("exercises[%d]", i)
		if ex.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
			continue
		}
		if prev, ok := seen[ex.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of exercises[%d]", prefix, ex.ID, prev))
			continue
		}
		seen[ex.ID] = i
		e := posture.ParseExercise(ex.ID)
		if e == posture.ExerciseUnknown {
			errs = append(errs, fmt.Errorf("%s.id %q is not a known exercise%s", prefix, ex.ID, didYouMean(ex.ID, posture.IDs())))
			continue
		}
		if len(ex.Rules) == 0 {
			errs = append(errs, fmt.Errorf("%s.rules must not be empty", prefix))
			continue
		}
		if _, err := posture.DefaultCatalog().WithRules(e, ex.Rules); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}

	// Store
	if cfg.Store.PostgresDSN != "" && cfg.Store.FilePath != "" {
		slog.Warn("store.postgres_dsn and store.file_path are both set; using postgres")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not a built-in provider.
func validateProviderName(name string) {
	if slices.Contains(ValidTTSProviders, name) {
		return
	}
	slog.Warn("unknown TTS provider name; may be a typo or third-party provider",
		"name", name,
		"known", ValidTTSProviders,
	)
}

// Suggest returns the candidate most similar to input, or "" when none is
// similar enough to be a plausible typo.
func Suggest(input string, candidates []string) string {
	best, bestScore := "", suggestThreshold
	for _, c := range candidates {
		if s := matchr.JaroWinkler(input, c, false); s >= bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

func didYouMean(input string, candidates []string) string {
	if s := Suggest(input, candidates); s != "" {
		return fmt.Sprintf(" (did you mean %q?)", s)
	}
	return fmt.Sprintf("; valid values: %v", candidates)
}
