// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// The speech endpoint accepts a complete input string, so SynthesizeStream
// collects every fragment from the text channel before issuing one request.
// The response body is streamed back as raw 24 kHz PCM chunks.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/posecoach/pkg/provider/tts"
)

// DefaultModel is the default OpenAI speech model.
const DefaultModel = oai.SpeechModelTTS1

const chunkSize = 4800 // 100 ms of 24 kHz 16-bit mono

// builtinVoices are the voices the speech endpoint accepts.
var builtinVoices = []string{"alloy", "ash", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer"}

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  oai.SpeechModel
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI speech Provider.
// If model is empty, DefaultModel (tts-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	m := oai.SpeechModel(model)
	if model == "" {
		m = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: m}, nil
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("openai tts: voice.ID must not be empty")
	}

	audioCh := make(chan []byte, 16)
	go func() {
		defer close(audioCh)

		input := collect(ctx, text)
		if input == "" || ctx.Err() != nil {
			return
		}

		params := oai.AudioSpeechNewParams{
			Input:          input,
			Model:          p.model,
			Voice:          oai.AudioSpeechNewParamsVoice(voice.ID),
			ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
		}
		if voice.SpeedFactor > 0 {
			params.Speed = oai.Float(voice.SpeedFactor)
		}
		resp, err := p.client.Audio.Speech.New(ctx, params)
		if err != nil {
			return
		}
		defer resp.Body.Close()

		for {
			buf := make([]byte, chunkSize)
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				select {
				case audioCh <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return audioCh, nil
}

// ListVoices implements tts.Provider. The speech API has no voice listing
// endpoint; the built-in voice names are returned.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	out := make([]tts.Voice, len(builtinVoices))
	for i, v := range builtinVoices {
		out[i] = tts.Voice{ID: v, Name: v, Provider: "openai"}
	}
	return out, nil
}

// collect joins every non-empty fragment from text until it closes.
func collect(ctx context.Context, text <-chan string) string {
	var parts []string
	for {
		select {
		case s, ok := <-text:
			if !ok {
				return strings.Join(parts, " ")
			}
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		case <-ctx.Done():
			return ""
		}
	}
}
