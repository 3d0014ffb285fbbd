// Package app wires all voicegate subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture pipeline and the admin API, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithMetrics,
// etc.). When an option is not provided, New creates real implementations
// from the config.
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

	"github.com/MrWong99/voicegate/internal/api"
	"github.com/MrWong99/voicegate/internal/config"
	"github.com/MrWong99/voicegate/internal/features"
	"github.com/MrWong99/voicegate/internal/gate"
	"github.com/MrWong99/voicegate/internal/health"
	"github.com/MrWong99/voicegate/internal/matcher"
	"github.com/MrWong99/voicegate/internal/observe"
	"github.com/MrWong99/voicegate/internal/resilience"
	"github.com/MrWong99/voicegate/internal/telemetry"
	"github.com/MrWong99/voicegate/pkg/audio"
	"github.com/MrWong99/voicegate/pkg/enrollment"
	"github.com/MrWong99/voicegate/pkg/provider/actuate"
	"github.com/MrWong99/voicegate/pkg/provider/classify"
	"github.com/MrWong99/voicegate/pkg/provider/embedding"
	"github.com/MrWong99/voicegate/pkg/provider/vad"
)

// Providers holds one interface value per collaborator slot. All are
// required. Populated by main.go via the config registry.
type Providers struct {
	Device     audio.Device
	VAD        vad.Engine
	Embedding  embedding.Provider
	Classifier classify.Provider
	Actuator   actuate.Actuator
}

func (p *Providers) validate() error {
	if p == nil {
		return errors.New("providers are required")
	}
	var errs []error
	if p.Device == nil {
		errs = append(errs, errors.New("device provider is required"))
	}
	if p.VAD == nil {
		errs = append(errs, errors.New("vad provider is required"))
	}
	if p.Embedding == nil {
		errs = append(errs, errors.New("embedding provider is required"))
	}
	if p.Classifier == nil {
		errs = append(errs, errors.New("classifier provider is required"))
	}
	if p.Actuator == nil {
		errs = append(errs, errors.New("actuator provider is required"))
	}
	return errors.Join(errs...)
}

// App owns all subsystem lifetimes and orchestrates the voicegate pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	log     *slog.Logger
	level   *slog.LevelVar
	metrics *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	store     enrollment.Store
	pinger    health.Pinger
	extractor *features.Extractor
	embedder  *resilience.EmbeddingGuard
	classify  *resilience.ClassifierGuard
	actuator  *resilience.ActuatorFallback
	matcher   *matcher.Matcher
	hub       *telemetry.Hub
	gate      *gate.Controller
	health    *health.Handler
	api       *api.Server
	server    *http.Server
	listener  net.Listener

	configPath  string
	watcherOpts []config.WatcherOption
	watcher     *config.Watcher

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects an enrollment store instead of opening the configured
// backend. The caller keeps ownership; Shutdown does not close it.
func WithStore(s enrollment.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLogger sets the logger handed to every subsystem. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar connects the hot-reloadable log level to v. Without it a
// log_level change in the config file is reported but has no effect.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics injects the metrics instance. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConfigWatch enables hot reload of the config file at path. The log
// level, gate policy and matcher thresholds are applied in place; any other
// change is logged as requiring a restart.
func WithConfigWatch(path string, opts ...config.WatcherOption) Option {
	return func(a *App) {
		a.configPath = path
		a.watcherOpts = opts
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: store connection, extractor
// and matcher construction, controller assembly and binding the admin API
// listener. On error every resource acquired so far is released.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (_ *App, err error) {
	if err := providers.validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			a.runClosers()
		}
	}()

	// ── 1. Enrollment store ─────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Feature extractor ────────────────────────────────────────────
	a.extractor, err = features.New(cfg.FeaturesConfig())
	if err != nil {
		return nil, fmt.Errorf("app: init features: %w", err)
	}

	// ── 3. Circuit breakers ─────────────────────────────────────────────
	a.initGuards()

	// ── 4. Matcher ──────────────────────────────────────────────────────
	if err := a.initMatcher(); err != nil {
		return nil, fmt.Errorf("app: init matcher: %w", err)
	}

	// ── 5. Telemetry hub ────────────────────────────────────────────────
	a.hub = telemetry.NewHub()
	a.closers = append(a.closers, func() error {
		a.hub.Close()
		return nil
	})

	// ── 6. Gate controller ──────────────────────────────────────────────
	if err := a.initGate(); err != nil {
		return nil, fmt.Errorf("app: init gate: %w", err)
	}

	// ── 7. Health + admin API ───────────────────────────────────────────
	if err := a.initAPI(); err != nil {
		return nil, fmt.Errorf("app: init api: %w", err)
	}

	// ── 8. Config watcher ───────────────────────────────────────────────
	if a.configPath != "" {
		opts := append([]config.WatcherOption{config.WithWatcherLogger(a.log)}, a.watcherOpts...)
		a.watcher, err = config.NewWatcher(a.configPath, a.applyConfig, opts...)
		if err != nil {
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.closers = append(a.closers, func() error {
			a.watcher.Stop()
			return nil
		})
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured enrollment backend or uses the injected one.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	st, err := OpenStore(ctx, a.cfg.Enrollment)
	if err != nil {
		return err
	}
	a.store = st.Store
	a.pinger = st.Pinger
	a.closers = append(a.closers, st.Close)
	if a.cfg.Enrollment.Backend == config.BackendMemory {
		a.log.Warn("enrollments are kept in memory and lost on exit")
	}
	return nil
}

// initGuards wraps the inference and actuation providers in circuit breakers
// configured from gate.circuit_breaker.
func (a *App) initGuards() {
	cb := a.cfg.Gate.CircuitBreaker
	breaker := resilience.CircuitBreakerConfig{
		MaxFailures:  cb.MaxFailures,
		ResetTimeout: cb.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			a.log.Warn("circuit breaker state change", "provider", name, "from", from, "to", to)
			if to == resilience.StateOpen {
				a.metrics.RecordProviderError(context.Background(), name, "circuit_open")
			}
		},
	}

	// Inference calls are bounded per cycle by the gate policy, which is
	// hot-reloadable, so the guards carry no timeout of their own.
	fb := resilience.FallbackConfig{CircuitBreaker: breaker}
	a.embedder = resilience.NewEmbeddingGuard(a.providers.Embedding, "embedding", fb)
	a.classify = resilience.NewClassifierGuard(a.providers.Classifier, "classifier", fb)
	a.actuator = resilience.NewActuatorFallback(a.providers.Actuator, "actuator", fb)
}

func (a *App) initMatcher() error {
	if dims := a.embedder.Dimensions(); dims > 0 && dims != a.cfg.Enrollment.Dimensions {
		return fmt.Errorf("embedding model produces %d dimensions, enrollment.dimensions is %d",
			dims, a.cfg.Enrollment.Dimensions)
	}
	m, err := matcher.New(a.extractor, a.embedder, a.store, matcher.Config{
		UtteranceLength: a.cfg.Audio.UtteranceSamples,
		Thresholds:      a.cfg.Thresholds(),
	},
		matcher.WithLogger(a.log),
		matcher.WithAutoEnrollHook(func(rec enrollment.Record, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			a.metrics.RecordAutoEnrollment(context.Background(), status)
		}),
	)
	if err != nil {
		return err
	}
	a.matcher = m
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		return m.Close(ctx)
	})
	return nil
}

func (a *App) initGate() error {
	gcfg, err := a.cfg.GateConfig()
	if err != nil {
		return err
	}
	g, err := gate.New(gcfg, gate.Deps{
		Device:     a.providers.Device,
		VAD:        a.providers.VAD,
		Verifier:   a.matcher,
		Classifier: a.classify,
		Actuator:   a.actuator,
	},
		gate.WithLogger(a.log),
		gate.WithMetrics(a.metrics),
		gate.WithTelemetry(a.hub),
	)
	if err != nil {
		return err
	}
	a.gate = g
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		return g.Stop(ctx)
	})
	return nil
}

func (a *App) initAPI() error {
	checks := []health.Checker{health.RunningCheck("gate", a.gate.Running)}
	if a.pinger != nil {
		checks = append(checks, health.PingCheck("enrollment_store", a.pinger))
	}
	checks = append(checks,
		breakerCheck("embedding_circuit", a.embedder.States),
		breakerCheck("classifier_circuit", a.classify.States),
	)
	a.health = health.New(checks...)

	a.api = api.New(api.Deps{
		Gate:       a.gate,
		Store:      a.store,
		Enroller:   a.matcher,
		Hub:        a.hub,
		Health:     a.health,
		SampleRate: a.cfg.Audio.SampleRate,
	},
		api.WithLogger(a.log),
		api.WithMetrics(a.metrics),
		api.WithQueueSize(a.cfg.Telemetry.QueueSize),
	)

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		a.log.Info("admin API disabled")
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	a.listener = ln
	a.server = &http.Server{
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.closers = append(a.closers, func() error {
		// Closing an unserved listener; Serve closes it itself otherwise.
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Gate returns the controller.
func (a *App) Gate() *gate.Controller { return a.gate }

// Matcher returns the embedding matcher.
func (a *App) Matcher() *matcher.Matcher { return a.matcher }

// Store returns the enrollment store in use.
func (a *App) Store() enrollment.Store { return a.store }

// Hub returns the telemetry hub.
func (a *App) Hub() *telemetry.Hub { return a.hub }

// Handler returns the admin API handler, also when no listener is configured.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// Addr returns the bound admin API address, or nil when the API is disabled.
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts listening and blocks until ctx is cancelled.
//
// When the admin API is enabled the gate may be stopped and restarted
// through it, so a run that ends on its own (end of a file source, device
// failure) is only logged. Without the API, Run returns once the run ends:
// nil at the end of the stream, or the error that stopped it.
func (a *App) Run(ctx context.Context) error {
	var sub *telemetry.Subscription
	if a.server != nil {
		sub = a.hub.Subscribe(a.cfg.Telemetry.QueueSize)
	}
	if err := a.gate.Start(ctx); err != nil {
		if sub != nil {
			sub.Close()
		}
		return fmt.Errorf("app: start gate: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.log.Info("admin API listening", "addr", a.listener.Addr().String(), "tls", a.cfg.Server.TLS != nil)
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = a.server.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
			} else {
				err = a.server.Serve(a.listener)
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: serve admin API: %w", err)
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.shutdownTimeout())
			defer cancel()
			return a.server.Shutdown(sctx)
		})
		g.Go(func() error {
			a.watchGate(gctx, sub)
			return nil
		})
	} else {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-a.gate.Done():
				if err := a.gate.Err(); err != nil {
					return fmt.Errorf("app: gate: %w", err)
				}
				return errStreamEnded
			}
		})
	}

	a.log.Info("app running", "device", a.cfg.Providers.Device.Name, "target", a.cfg.Gate.TargetLabel)
	err := g.Wait()
	if errors.Is(err, errStreamEnded) {
		return nil
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

var errStreamEnded = errors.New("app: audio stream ended")

// ErrNoConfigWatch is returned by [App.ReloadConfig] when no config file is
// watched.
var ErrNoConfigWatch = errors.New("app: no config file watched")

// watchGate logs every run that fails while the API keeps serving. It reads
// the state events the controller publishes on the hub.
func (a *App) watchGate(ctx context.Context, sub *telemetry.Subscription) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.Kind != telemetry.KindState || ev.Detail != gate.StateIdle.String() {
				continue
			}
			if err := a.gate.Err(); err != nil {
				a.log.Error("gate run failed; restart it via POST /v1/gate/start", "err", err)
			}
		}
	}
}

// breakerCheck fails readiness while any circuit of a guarded provider is
// open: the gate keeps running but cannot verify or classify.
func breakerCheck(name string, states func() map[string]resilience.State) health.Checker {
	return health.Checker{
		Name: name,
		Check: func(context.Context) error {
			for provider, st := range states() {
				if st == resilience.StateOpen {
					return fmt.Errorf("circuit for %s is open", provider)
				}
			}
			return nil
		},
	}
}

// ─── Config hot reload ───────────────────────────────────────────────────────

// ReloadConfig re-reads the watched config file now. It returns
// [ErrNoConfigWatch] when the App was built without [WithConfigWatch] and
// [config.ErrUnchanged] when the file content did not change.
func (a *App) ReloadConfig() error {
	if a.watcher == nil {
		return ErrNoConfigWatch
	}
	if err := a.watcher.Reload(); err != nil {
		return fmt.Errorf("app: reload config: %w", err)
	}
	return nil
}

// applyConfig is the watcher callback.
func (a *App) applyConfig(_, new *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged {
		if a.level != nil {
			a.level.Set(SlogLevel(d.NewLogLevel))
		}
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PolicyChanged {
		pol, err := new.Policy()
		if err == nil {
			err = a.gate.SetPolicy(pol)
		}
		if err != nil {
			a.log.Warn("config reload: policy not applied", "err", err)
		}
	}
	if d.ThresholdsChanged {
		if err := a.matcher.SetThresholds(new.Thresholds()); err != nil {
			a.log.Warn("config reload: thresholds not applied", "err", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes take effect after a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config log level to its slog counterpart.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order: the watcher and
// listener, the gate, the telemetry hub, the matcher's pending
// auto-enrollments and finally the store. It respects the context deadline:
// if ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases what a failed New acquired.
func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("closer error", "err", err)
		}
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if d := a.cfg.Server.ShutdownTimeout; d > 0 {
		return d
	}
	return 10 * time.Second
}
