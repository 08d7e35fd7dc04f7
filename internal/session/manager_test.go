package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/posecoach/internal/store"
	"github.com/MrWong99/posecoach/pkg/pose/posetest"
	"github.com/MrWong99/posecoach/pkg/posture"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManager(t *testing.T) (*Manager, *store.MemStore, *fakeClock) {
	t.Helper()
	m, _ := newTestMetrics(t)
	st := store.NewMemStore()
	clock := &fakeClock{now: t0}
	return NewManager(ManagerConfig{
		Store:    st,
		Cooldown: 2 * time.Second,
		Metrics:  m,
		Now:      clock.Now,
	}), st, clock
}

func TestManager_StartEnd(t *testing.T) {
	t.Parallel()
	m, st, clock := newManager(t)
	ctx := context.Background()

	s := m.Start(ctx, "squats_gentle")
	if m.Active() != 1 {
		t.Fatalf("Active() = %d, want 1", m.Active())
	}
	if got, ok := m.Get(s.ID()); !ok || got != s {
		t.Fatal("Get should return the live session")
	}
	if !s.StartedAt().Equal(t0) {
		t.Errorf("StartedAt = %v, want injected clock", s.StartedAt())
	}

	s.Process(ctx, posetest.Standing(), t0)
	clock.Advance(30 * time.Second)

	sum, err := m.End(ctx, s.ID())
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if sum.Frames != 1 || sum.Duration() != 30*time.Second {
		t.Errorf("summary = %+v", sum)
	}
	if m.Active() != 0 {
		t.Errorf("Active() = %d after End, want 0", m.Active())
	}
	if _, err := st.Get(ctx, s.ID()); err != nil {
		t.Errorf("summary should be persisted: %v", err)
	}
}

func TestManager_EndUnknown(t *testing.T) {
	t.Parallel()
	m, _, _ := newManager(t)
	if _, err := m.End(context.Background(), "nope"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("End() = %v, want ErrUnknownSession", err)
	}
}

func TestManager_EndTwice(t *testing.T) {
	t.Parallel()
	m, _, _ := newManager(t)
	ctx := context.Background()
	s := m.Start(ctx, "cat_cow")
	if _, err := m.End(ctx, s.ID()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.End(ctx, s.ID()); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("second End() = %v, want ErrUnknownSession", err)
	}
}

func TestManager_Lookup(t *testing.T) {
	t.Parallel()
	m, _, _ := newManager(t)
	ctx := context.Background()
	s := m.Start(ctx, "desk_stretch")

	sum, live, err := m.Lookup(ctx, s.ID())
	if err != nil || !live || sum.SessionID != s.ID() {
		t.Errorf("Lookup(live) = %+v, %v, %v", sum, live, err)
	}

	_, _ = m.End(ctx, s.ID())
	sum, live, err = m.Lookup(ctx, s.ID())
	if err != nil || live || sum.Exercise != "desk_stretch" {
		t.Errorf("Lookup(stored) = %+v, %v, %v", sum, live, err)
	}

	if _, _, err := m.Lookup(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Lookup(missing) err = %v, want ErrNotFound", err)
	}

	hist, err := m.History(ctx, store.ListOptions{Exercise: "desk_stretch"})
	if err != nil || len(hist) != 1 {
		t.Errorf("History = %v, %v", hist, err)
	}
}

func TestManager_SettingsApplyToNewSessions(t *testing.T) {
	t.Parallel()
	m, _, _ := newManager(t)
	ctx := context.Background()

	before := m.Start(ctx, "cat_cow")

	custom, err := posture.DefaultCatalog().WithRules(posture.ExerciseCatCow, []posture.Rule{
		{ID: "only", Joint: posture.TrunkAngle, Target: 90, Tolerance: 10, Weight: 1, Message: "m"},
	})
	if err != nil {
		t.Fatal(err)
	}
	m.SetCatalog(custom)
	m.SetCooldown(10 * time.Second)
	m.SetHysteresis(5)

	after := m.Start(ctx, "cat_cow")
	if len(before.Profile().Rules) == 1 {
		t.Error("running session must keep the profile it started with")
	}
	if len(after.Profile().Rules) != 1 {
		t.Errorf("new session rules = %d, want 1", len(after.Profile().Rules))
	}
	if m.Catalog() != custom {
		t.Error("Catalog() should return the replaced catalog")
	}
	if after.throttle.Cooldown != 10*time.Second || after.hysteresis != 5 {
		t.Errorf("new session settings = %v/%v", after.throttle.Cooldown, after.hysteresis)
	}
}

func TestManager_Shutdown(t *testing.T) {
	t.Parallel()
	m, st, _ := newManager(t)
	ctx := context.Background()
	for _, ex := range []string{"cat_cow", "chin_tucks", "neck_side_bend"} {
		m.Start(ctx, ex)
	}
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if m.Active() != 0 {
		t.Errorf("Active() = %d after Shutdown", m.Active())
	}
	list, _ := st.List(ctx, store.ListOptions{})
	if len(list) != 3 {
		t.Errorf("stored summaries = %d, want 3", len(list))
	}
}

func TestManager_ConcurrentSessions(t *testing.T) {
	t.Parallel()
	m, _, _ := newManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := m.Start(ctx, "squats_gentle")
			for i, knee := range []float64{170, 95, 170} {
				s.Process(ctx, posetest.Squat(knee), t0.Add(time.Duration(i)*time.Second))
			}
			sum, err := m.End(ctx, s.ID())
			if err != nil {
				t.Errorf("End: %v", err)
				return
			}
			if sum.Reps != 2 {
				t.Errorf("reps = %d, want 2", sum.Reps)
			}
		}()
	}
	wg.Wait()
	if m.Active() != 0 {
		t.Errorf("Active() = %d, want 0", m.Active())
	}
}
