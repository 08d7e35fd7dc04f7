package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/posecoach/internal/observe"
	"github.com/MrWong99/posecoach/pkg/provider/tts"
)

const (
	defaultSpeakTimeout = 10 * time.Second
	defaultQueueSize    = 4
)

// errNoAudio is reported when a provider closes its stream without output.
var errNoAudio = errors.New("voice: provider returned no audio")

// Option is a functional option for [Announcer].
type Option func(*Announcer)

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Announcer) { a.metrics = m }
}

// WithBreaker replaces the default breaker.
func WithBreaker(b *Breaker) Option {
	return func(a *Announcer) { a.breaker = b }
}

// WithTimeout bounds a single synthesis. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(a *Announcer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// Announcer synthesises cue messages into PCM. One Announcer is shared by all
// sessions; it is safe for concurrent use.
type Announcer struct {
	provider     tts.Provider
	providerName string
	voice        tts.Voice
	breaker      *Breaker
	metrics      *observe.Metrics
	timeout      time.Duration
}

// NewAnnouncer creates an Announcer speaking with voice through provider.
// providerName labels metrics and logs.
func NewAnnouncer(provider tts.Provider, providerName string, voice tts.Voice, opts ...Option) *Announcer {
	a := &Announcer{
		provider:     provider,
		providerName: providerName,
		voice:        voice,
		timeout:      defaultSpeakTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.breaker == nil {
		a.breaker = NewBreaker(BreakerConfig{})
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Speak synthesises text and returns the complete PCM clip. It returns
// [ErrSpeakerOpen] without calling the provider while the breaker is open.
func (a *Announcer) Speak(ctx context.Context, text string) ([]byte, error) {
	if err := a.breaker.Allow(); err != nil {
		return nil, err
	}

	start := time.Now()
	pcm, err := a.synthesize(ctx, text)
	// Caller cancellation is not counted as a backend failure.
	if ctx.Err() == nil {
		a.breaker.Done(err)
		a.metrics.RecordTTS(ctx, a.providerName, time.Since(start), err)
	} else {
		a.breaker.Done(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("voice: speak: %w", err)
	}
	return pcm, nil
}

func (a *Announcer) synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	in := make(chan string, 1)
	in <- text
	close(in)

	audio, err := a.provider.SynthesizeStream(ctx, in, a.voice)
	if err != nil {
		return nil, err
	}
	var pcm []byte
	for chunk := range audio {
		pcm = append(pcm, chunk...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, errNoAudio
	}
	return pcm, nil
}

// State returns the breaker state.
func (a *Announcer) State() BreakerState { return a.breaker.State() }

// Check implements the readiness probe: it fails while the breaker is open.
func (a *Announcer) Check(_ context.Context) error {
	if a.breaker.State() == BreakerOpen {
		return ErrSpeakerOpen
	}
	return nil
}

// Voice returns the voice cues are spoken with.
func (a *Announcer) Voice() tts.Voice { return a.voice }

// Voices lists the voices offered by the provider.
func (a *Announcer) Voices(ctx context.Context) ([]tts.Voice, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	voices, err := a.provider.ListVoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("voice: list %s voices: %w", a.providerName, err)
	}
	return voices, nil
}

// Sink receives synthesised audio for one session, in cue order.
type Sink func(ctx context.Context, key string, pcm []byte) error

type utterance struct {
	key, text string
}

// Queue serialises the cues of one session onto a single synthesis
// goroutine. Offers never block: when the queue is full the cue is dropped,
// since a stale correction is worse than none.
type Queue struct {
	announcer *Announcer
	sink      Sink
	pending   chan utterance

	closeOnce sync.Once
	done      chan struct{}
}

// NewQueue creates a queue of the given capacity feeding sink. A size of
// zero or less uses the default of 4.
func (a *Announcer) NewQueue(size int, sink Sink) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Queue{
		announcer: a,
		sink:      sink,
		pending:   make(chan utterance, size),
		done:      make(chan struct{}),
	}
}

// Offer enqueues a cue without blocking and reports whether it was accepted.
func (q *Queue) Offer(ctx context.Context, key, text string) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.pending <- utterance{key: key, text: text}:
		return true
	default:
		q.announcer.metrics.RecordCue(ctx, key, observe.CueDropped)
		return false
	}
}

// Run synthesises queued cues until ctx is cancelled or [Queue.Close] is
// called. Synthesis failures are logged and skipped; only a sink error stops
// the loop.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case u := <-q.pending:
			pcm, err := q.announcer.Speak(ctx, u.text)
			if err != nil {
				if !errors.Is(err, ErrSpeakerOpen) && ctx.Err() == nil {
					slog.Warn("voice: cue synthesis failed", "key", u.key, "err", err)
				}
				continue
			}
			if err := q.sink(ctx, u.key, pcm); err != nil {
				return fmt.Errorf("voice: deliver %q: %w", u.key, err)
			}
		}
	}
}

// Close stops Run. Pending cues are discarded. Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
