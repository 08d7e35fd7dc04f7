package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/posecoach/internal/app"
	"github.com/MrWong99/posecoach/internal/config"
	"github.com/MrWong99/posecoach/internal/observe"
	"github.com/MrWong99/posecoach/internal/store"
	"github.com/MrWong99/posecoach/pkg/pose/posetest"
	ttsmock "github.com/MrWong99/posecoach/pkg/provider/tts/mock"
)

// testConfig returns a minimal valid config listening on a random port.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Voice:  config.VoiceConfig{VoiceID: "coach"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// failingStore fails every call.
type failingStore struct{}

var errDown = errors.New("store down")

func (failingStore) Save(context.Context, store.Summary) error { return errDown }
func (failingStore) Get(context.Context, string) (store.Summary, error) {
	return store.Summary{}, errDown
}
func (failingStore) List(context.Context, store.ListOptions) ([]store.Summary, error) {
	return nil, errDown
}
func (failingStore) Ping(context.Context) error { return errDown }
func (failingStore) Close() error               { return nil }

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	st := store.NewMemStore()
	application, err := app.New(context.Background(), testConfig(),
		&app.Providers{TTS: &ttsmock.Provider{}, TTSName: "mock"},
		app.WithStore(st),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application.Handler() == nil || application.Manager() == nil {
		t.Fatal("New() left subsystems nil")
	}
	if err := application.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNew_FileStoreFromConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Store.FilePath = filepath.Join(t.TempDir(), "sessions.jsonl")

	application, err := app.New(context.Background(), cfg, nil, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	s := application.Manager().Start(ctx, "cat_cow")
	s.Process(ctx, posetest.Standing(), time.Now())
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	got, err := store.NewFileStore(cfg.Store.FilePath).Get(ctx, s.ID())
	if err != nil {
		t.Fatalf("summary of a live session was not persisted on shutdown: %v", err)
	}
	if got.Frames != 1 || got.Exercise != "cat_cow" {
		t.Errorf("summary = %+v", got)
	}
}

func TestNew_InvalidExerciseOverride(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Exercises = []config.ExerciseConfig{{ID: "moonwalk"}}
	_, err := app.New(context.Background(), cfg, nil, app.WithStore(store.NewMemStore()), app.WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("expected an error for an unknown exercise override")
	}
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		store      store.Store
		wantStatus int
	}{
		{"healthy store", store.NewMemStore(), http.StatusOK},
		{"failing store", failingStore{}, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			application, err := app.New(context.Background(), testConfig(),
				&app.Providers{TTS: &ttsmock.Provider{}, TTSName: "mock"},
				app.WithStore(tc.store), app.WithMetrics(testMetrics(t)))
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { _ = application.Shutdown(context.Background()) })

			rec := httptest.NewRecorder()
			application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tc.wantStatus, rec.Body)
			}
		})
	}
}

func TestFailingStoreDoesNotBreakAnalysis(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), nil,
		app.WithStore(failingStore{}), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(map[string]any{"landmarks": posetest.Standing()})
	rec := httptest.NewRecorder()
	application.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/v1/analyze?exercise=squats_gentle", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d", rec.Code)
	}

	ctx := context.Background()
	application.Manager().Start(ctx, "squats_gentle")
	if err := application.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown with a failing store: %v", err)
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), nil,
		app.WithStore(store.NewMemStore()), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}

	if err := application.Shutdown(context.Background()); err != nil {
		t.Errorf("first Shutdown: %v", err)
	}
	// Second call is a no-op.
	if err := application.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestApp_ShutdownRespectsDeadline(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), nil,
		app.WithStore(store.NewMemStore()), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := application.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown = %v, want context.Canceled", err)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), nil,
		app.WithStore(store.NewMemStore()), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for application.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("Run did not start listening")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get("http://" + application.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if err := application.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestConfigReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "posecoach.yaml")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("server:\n  log_level: info\nvoice:\n  cooldown: 4s\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	var lv slog.LevelVar
	application, err := app.New(context.Background(), cfg, nil,
		app.WithStore(store.NewMemStore()),
		app.WithMetrics(testMetrics(t)),
		app.WithLevelVar(&lv),
		app.WithConfigWatch(path, config.WithInterval(20*time.Millisecond)),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = application.Shutdown(context.Background()) })

	// Ensure a different mtime on coarse filesystems.
	time.Sleep(20 * time.Millisecond)
	write(`server:
  log_level: debug
exercises:
  - id: neck_side_bend
    rules:
      - {id: tilt, joint: shoulder_tilt, target: 0, tolerance: 2, weight: 1, message: Level shoulders}
`)

	reloaded := func() bool {
		p := application.Manager().Catalog().Resolve("neck_side_bend")
		return lv.Level() == slog.LevelDebug && len(p.Rules) == 1 && p.Rules[0].ID == "tilt"
	}
	deadline := time.Now().Add(5 * time.Second)
	for !reloaded() {
		if time.Now().After(deadline) {
			t.Fatalf("config was not hot-reloaded: level %v, rules %+v",
				lv.Level(), application.Manager().Catalog().Resolve("neck_side_bend").Rules)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
