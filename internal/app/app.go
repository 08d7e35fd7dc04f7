// Package app wires all posecoach subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject test doubles via functional options (WithStore,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/posecoach/internal/config"
	"github.com/MrWong99/posecoach/internal/health"
	"github.com/MrWong99/posecoach/internal/observe"
	"github.com/MrWong99/posecoach/internal/server"
	"github.com/MrWong99/posecoach/internal/session"
	"github.com/MrWong99/posecoach/internal/store"
	"github.com/MrWong99/posecoach/internal/voice"
	"github.com/MrWong99/posecoach/pkg/provider/tts"
)

// Providers holds the external backends. Nil means the backend is not
// configured. Populated by main.go via the config registry.
type Providers struct {
	// TTS speaks coaching cues. Nil disables audio output.
	TTS tts.Provider

	// TTSName labels synthesis metrics and logs.
	TTSName string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg            *config.Config
	providers      *Providers
	configPath     string
	watchOpts      []config.WatcherOption
	metricsHandler http.Handler
	level          *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	store     store.Store
	guard     *store.Guard
	metrics   *observe.Metrics
	announcer *voice.Announcer
	manager   *session.Manager
	health    *health.Handler
	handler   http.Handler
	watcher   *config.Watcher

	mu   sync.Mutex
	addr net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a summary store instead of opening one from config.
// The store is still wrapped in a [store.Guard].
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler served at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads adjust the log level of the handler
// built around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigWatch enables hot-reload of the config file at path.
func WithConfigWatch(path string, opts ...config.WatcherOption) Option {
	return func(a *App) {
		a.configPath = path
		a.watchOpts = opts
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Summary store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Exercise catalog + session manager ────────────────────────────
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, fmt.Errorf("app: build catalog: %w", err)
	}
	a.manager = session.NewManager(session.ManagerConfig{
		Catalog:    catalog,
		Store:      a.guard,
		Cooldown:   cfg.Voice.Cooldown,
		Hysteresis: cfg.Reps.HysteresisDegrees,
		Metrics:    a.metrics,
	})

	// ── 3. Voice announcer ───────────────────────────────────────────────
	a.initVoice()

	// ── 4. Health checks ─────────────────────────────────────────────────
	checkers := []health.Checker{{Name: "store", Check: a.guard.Ping}}
	if a.announcer != nil {
		checkers = append(checkers, health.Checker{Name: "voice", Check: a.announcer.Check, Optional: true})
	}
	a.health = health.New(checkers...)

	// ── 5. HTTP handler ──────────────────────────────────────────────────
	a.handler = server.New(server.Config{
		Manager:        a.manager,
		Announcer:      a.announcer,
		QueueSize:      cfg.Voice.QueueSize,
		Health:         a.health,
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHandler,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}).Handler()

	// ── 6. Config hot-reload ─────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig, a.watchOpts...)
		if err != nil {
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
		// Stop reloads before anything they touch is closed.
		a.closers = append([]func() error{func() error {
			w.Stop()
			return nil
		}}, a.closers...)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured store, or uses the injected one, and wraps
// it in a guard so a failing backend never interrupts coaching.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		switch {
		case a.cfg.Store.PostgresDSN != "":
			pg, err := store.OpenPostgres(ctx, a.cfg.Store.PostgresDSN)
			if err != nil {
				return err
			}
			a.store = pg
			slog.Info("session store ready", "backend", "postgres")
		default:
			a.store = store.NewFileStore(a.cfg.Store.FilePath)
			slog.Info("session store ready", "backend", "file", "path", a.cfg.Store.FilePath)
		}
	}
	a.guard = store.NewGuard(a.store)
	a.closers = append(a.closers, a.guard.Close)
	return nil
}

// initVoice creates the announcer when a TTS provider is configured.
func (a *App) initVoice() {
	if a.providers.TTS == nil {
		slog.Info("voice output disabled")
		return
	}
	vc := a.cfg.Voice
	a.announcer = voice.NewAnnouncer(
		a.providers.TTS,
		a.providers.TTSName,
		tts.Voice{
			ID:          vc.VoiceID,
			Provider:    a.providers.TTSName,
			SpeedFactor: vc.SpeedFactor,
		},
		voice.WithMetrics(a.metrics),
		voice.WithBreaker(voice.NewBreaker(voice.BreakerConfig{
			MaxFailures:  vc.Breaker.MaxFailures,
			ResetTimeout: vc.Breaker.ResetTimeout,
		})),
	)
}

// applyConfig is the watcher callback. Only settings that are safe to change
// at runtime are applied; live sessions keep the settings they started with.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Any() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
	}
	if d.CooldownChanged {
		a.manager.SetCooldown(d.NewCooldown)
	}
	if d.HysteresisChanged {
		a.manager.SetHysteresis(d.NewHysteresis)
	}
	if d.ExercisesChanged {
		cat, err := new.Catalog()
		if err != nil {
			slog.Warn("config reload: keeping previous exercise rules", "err", err)
		} else {
			a.manager.SetCatalog(cat)
		}
	}
	slog.Info("config reloaded",
		"log_level_changed", d.LogLevelChanged,
		"cooldown_changed", d.CooldownChanged,
		"hysteresis_changed", d.HysteresisChanged,
		"exercises", d.ChangedExercises,
	)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler { return a.handler }

// Manager returns the session manager.
func (a *App) Manager() *session.Manager { return a.manager }

// Addr returns the address Run is listening on, or nil before it started.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the server fails. When ctx is done, in-flight requests get
// the configured shutdown timeout to finish, then Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		return nil
	})

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends live sessions, persisting their summaries, then runs the
// closers in order. It respects the context deadline: if ctx expires before
// all closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "live_sessions", a.manager.Active(), "closers", len(a.closers))

		if err := a.manager.Shutdown(ctx); err != nil {
			slog.Warn("session shutdown error", "err", err)
		}
		if n := a.guard.Dropped(); n > 0 {
			slog.Warn("session summaries lost while the store was degraded", "count", n)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
