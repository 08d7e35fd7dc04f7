package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/posecoach/internal/observe"
	"github.com/MrWong99/posecoach/internal/store"
	"github.com/MrWong99/posecoach/internal/voice"
	"github.com/MrWong99/posecoach/pkg/posture"
)

// ErrUnknownSession is returned by [Manager.End] for ids that are not live.
var ErrUnknownSession = errors.New("session: unknown session")

// ManagerConfig holds the dependencies of a [Manager].
type ManagerConfig struct {
	// Catalog resolves exercise ids. Nil uses [posture.DefaultCatalog].
	Catalog *posture.Catalog

	// Store persists summaries of ended sessions. Nil keeps them in memory.
	Store store.Store

	// Cooldown is the voice throttle cooldown for new sessions.
	Cooldown time.Duration

	// Hysteresis is the rep-counter band for new sessions.
	Hysteresis float64

	// Metrics is shared by all sessions. Nil uses [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

// Manager owns the live sessions. Settings changed through the setters apply
// to sessions started afterwards; running sessions keep the profile and
// throttle they were started with. All methods are safe for concurrent use.
type Manager struct {
	store   store.Store
	metrics *observe.Metrics
	now     func() time.Time

	mu         sync.RWMutex
	catalog    *posture.Catalog
	cooldown   time.Duration
	hysteresis float64
	sessions   map[string]*Session
}

// NewManager creates a Manager with the given dependencies.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		store:      cfg.Store,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
		catalog:    cfg.Catalog,
		cooldown:   cfg.Cooldown,
		hysteresis: cfg.Hysteresis,
		sessions:   make(map[string]*Session),
	}
	if m.store == nil {
		m.store = store.NewMemStore()
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.catalog == nil {
		m.catalog = posture.DefaultCatalog()
	}
	return m
}

// Start resolves exerciseID and registers a new live session. Unknown ids
// start an unconstrained session rather than failing.
func (m *Manager) Start(ctx context.Context, exerciseID string) *Session {
	m.mu.Lock()
	s := New(Config{
		Profile:    m.catalog.Resolve(exerciseID),
		Throttle:   voice.Throttle{Cooldown: m.cooldown},
		Hysteresis: m.hysteresis,
		Metrics:    m.metrics,
	}, m.now())
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1)
	observe.SessionLogger(ctx, s.ID(), s.Exercise()).Info("session started", "requested_exercise", exerciseID)
	return s
}

// Get returns the live session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// End removes the session, persists its summary and returns it.
func (m *Manager) End(ctx context.Context, id string) (store.Summary, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return store.Summary{}, fmt.Errorf("%w: %q", ErrUnknownSession, id)
	}

	m.metrics.ActiveSessions.Add(ctx, -1)
	sum := s.Summary(m.now())
	if err := m.store.Save(ctx, sum); err != nil {
		return sum, fmt.Errorf("session: save summary: %w", err)
	}
	observe.SessionLogger(ctx, s.ID(), s.Exercise()).Info("session ended",
		"frames", sum.Frames,
		"mean_score", sum.MeanScore,
		"completed_reps", sum.CompletedReps,
		"duration", sum.Duration(),
	)
	return sum, nil
}

// Lookup returns the summary of a live session, or of a stored one.
func (m *Manager) Lookup(ctx context.Context, id string) (sum store.Summary, live bool, err error) {
	if s, ok := m.Get(id); ok {
		return s.Summary(m.now()), true, nil
	}
	sum, err = m.store.Get(ctx, id)
	return sum, false, err
}

// History lists stored summaries.
func (m *Manager) History(ctx context.Context, opts store.ListOptions) ([]store.Summary, error) {
	return m.store.List(ctx, opts)
}

// Shutdown ends every live session, saving their summaries. It returns the
// joined save errors.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if _, err := m.End(ctx, id); err != nil && !errors.Is(err, ErrUnknownSession) {
			errs = append(errs, err)
		}
	}
	if len(ids) > 0 {
		slog.Info("session manager: ended live sessions on shutdown", "count", len(ids))
	}
	return errors.Join(errs...)
}

// Catalog returns the catalog used for new sessions.
func (m *Manager) Catalog() *posture.Catalog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.catalog
}

// SetCatalog replaces the catalog used for new sessions.
func (m *Manager) SetCatalog(c *posture.Catalog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog = c
}

// SetCooldown replaces the voice cooldown used for new sessions.
func (m *Manager) SetCooldown(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldown = d
}

// SetHysteresis replaces the rep hysteresis used for new sessions.
func (m *Manager) SetHysteresis(deg float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hysteresis = deg
}
