package tts

// Voice selects the synthesis voice used for spoken cues.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string `json:"id"`

	// Name is the human-readable voice name.
	Name string `json:"name,omitempty"`

	// Provider identifies which TTS provider this voice belongs to.
	Provider string `json:"provider,omitempty"`

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default, 0 = provider default).
	SpeedFactor float64 `json:"speed_factor,omitempty"`

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SampleRate is the PCM sample rate every provider is configured to emit.
// Clients play the binary frames at this rate.
const SampleRate = 24000
