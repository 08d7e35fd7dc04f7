package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// failingStore fails every operation with err.
type failingStore struct {
	err   error
	saves int
}

func (f *failingStore) Save(context.Context, Summary) error {
	f.saves++
	return f.err
}
func (f *failingStore) Get(context.Context, string) (Summary, error) { return Summary{}, f.err }
func (f *failingStore) List(context.Context, ListOptions) ([]Summary, error) {
	return nil, f.err
}
func (f *failingStore) Ping(context.Context) error { return f.err }
func (f *failingStore) Close() error               { return nil }

func TestGuard_SaveSwallowsErrors(t *testing.T) {
	t.Parallel()
	inner := &failingStore{err: errors.New("db down")}
	g := NewGuard(inner)

	if err := g.Save(context.Background(), Summary{SessionID: "s"}); err != nil {
		t.Fatalf("Save() = %v, want nil", err)
	}
	if inner.saves != 1 {
		t.Errorf("inner saves = %d, want 1", inner.saves)
	}
	if !g.IsDegraded() {
		t.Error("guard should be degraded after a failed save")
	}
	if g.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", g.Dropped())
	}
}

func TestGuard_RecoversOnSuccess(t *testing.T) {
	t.Parallel()
	inner := &failingStore{err: errors.New("db down")}
	g := NewGuard(inner)
	_ = g.Save(context.Background(), Summary{SessionID: "s"})

	inner.err = nil
	if err := g.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() = %v", err)
	}
	if g.IsDegraded() {
		t.Error("guard should recover after a successful operation")
	}
}

func TestGuard_ReadsPropagateErrors(t *testing.T) {
	t.Parallel()
	g := NewGuard(&failingStore{err: errors.New("timeout")})
	if _, err := g.Get(context.Background(), "x"); err == nil {
		t.Error("Get() should propagate backend errors")
	}
	if _, err := g.List(context.Background(), ListOptions{}); err == nil {
		t.Error("List() should propagate backend errors")
	}
	if !g.IsDegraded() {
		t.Error("guard should be degraded after failed reads")
	}
}

func TestGuard_NotFoundIsNotDegraded(t *testing.T) {
	t.Parallel()
	g := NewGuard(NewMemStore())
	_, err := g.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() = %v, want ErrNotFound", err)
	}
	if g.IsDegraded() {
		t.Error("a missing summary must not mark the store degraded")
	}

	_ = g.Save(context.Background(), sample("ok", "cat_cow", time.Second))
	if got, err := g.Get(context.Background(), "ok"); err != nil || got.SessionID != "ok" {
		t.Errorf("Get() = %+v, %v", got, err)
	}
}
