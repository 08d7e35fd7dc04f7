package store

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// Guard wraps a [Store] so that a failing backend never ends a coaching
// session with an error. Save failures are logged and swallowed; reads still
// report their errors. The [Guard.IsDegraded] flag tracks whether the most
// recent operation on the underlying store failed.
//
// Guard implements [Store]. All methods are safe for concurrent use.
type Guard struct {
	store    Store
	degraded atomic.Bool
	dropped  atomic.Int64
}

// Compile-time interface check.
var _ Store = (*Guard)(nil)

// NewGuard creates a new [Guard] wrapping s.
func NewGuard(s Store) *Guard {
	return &Guard{store: s}
}

// Save attempts to persist sum. On failure the error is logged and
// swallowed; the store is marked as degraded.
func (g *Guard) Save(ctx context.Context, sum Summary) error {
	if err := g.store.Save(ctx, sum); err != nil {
		g.degraded.Store(true)
		g.dropped.Add(1)
		slog.Warn("store guard: save failed, summary dropped",
			"session_id", sum.SessionID,
			"err", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Get delegates to the underlying store. A missing summary is not a backend
// failure and leaves the degraded flag untouched.
func (g *Guard) Get(ctx context.Context, id string) (Summary, error) {
	sum, err := g.store.Get(ctx, id)
	g.observe(err)
	return sum, err
}

// List delegates to the underlying store.
func (g *Guard) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	list, err := g.store.List(ctx, opts)
	g.observe(err)
	return list, err
}

// Ping delegates to the underlying store and updates the degraded flag.
func (g *Guard) Ping(ctx context.Context) error {
	err := g.store.Ping(ctx)
	g.observe(err)
	return err
}

// Close closes the underlying store.
func (g *Guard) Close() error { return g.store.Close() }

// IsDegraded reports whether the most recent operation on the underlying
// store failed.
func (g *Guard) IsDegraded() bool { return g.degraded.Load() }

// Dropped returns how many summaries could not be saved.
func (g *Guard) Dropped() int64 { return g.dropped.Load() }

func (g *Guard) observe(err error) {
	switch {
	case err == nil:
		g.degraded.Store(false)
	case errors.Is(err, ErrNotFound), errors.Is(err, context.Canceled):
	default:
		g.degraded.Store(true)
	}
}
