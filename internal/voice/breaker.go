package voice

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrSpeakerOpen is returned while the breaker is open: recent syntheses
// failed and the speech backend is being given time to recover.
var ErrSpeakerOpen = errors.New("voice: speaker muted after repeated synthesis failures")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards every synthesis.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects syntheses with [ErrSpeakerOpen] until the reset
	// timeout elapses.
	BreakerOpen

	// BreakerHalfOpen lets a single probe through. Its outcome closes or
	// re-opens the breaker.
	BreakerHalfOpen
)

// String returns the human-readable name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the breaker
	// opens. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before a probe is
	// allowed. Default: 30s.
	ResetTimeout time.Duration

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

// Breaker is a three-state circuit breaker around speech synthesis. It is
// safe for concurrent use.
type Breaker struct {
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed [Breaker]. Zero-value config fields are
// replaced with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		now:          cfg.Now,
	}
}

// Allow reserves a synthesis slot. It returns [ErrSpeakerOpen] while open,
// and while a half-open probe is already in flight. Every nil return must be
// followed by exactly one [Breaker.Done].
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return ErrSpeakerOpen
		}
		b.state = BreakerHalfOpen
		slog.Info("voice: breaker half-open, probing speech backend")
		fallthrough
	case BreakerHalfOpen:
		if b.probing {
			return ErrSpeakerOpen
		}
		b.probing = true
	}
	return nil
}

// Done reports the outcome of a synthesis admitted by [Breaker.Allow].
func (b *Breaker) Done(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.probing = false
		if err != nil {
			b.trip()
			return
		}
		b.state = BreakerClosed
		b.failures = 0
		slog.Info("voice: breaker closed, speech backend recovered")
		return
	}

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.trip()
	}
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	slog.Warn("voice: breaker opened", "consecutive_failures", b.failures, "reset_after", b.resetTimeout)
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [BreakerHalfOpen]; the transition itself happens on the
// next [Breaker.Allow].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}
