// Package app wires the voxend subsystems into a running server.
//
// New builds the utterance store, the detection [Service] and the HTTP
// surface; Run serves until its context ends; Shutdown releases what New
// opened. Dependencies can be injected with functional options for tests.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxend/internal/config"
	"github.com/MrWong99/voxend/internal/endpoint"
	"github.com/MrWong99/voxend/internal/health"
	"github.com/MrWong99/voxend/internal/observe"
	"github.com/MrWong99/voxend/internal/resilience"
	"github.com/MrWong99/voxend/internal/transcript"
	"github.com/MrWong99/voxend/pkg/provider/stt"
	"github.com/MrWong99/voxend/pkg/provider/vad"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Providers holds the provider instances. A nil STT means detection only.
type Providers struct {
	VAD vad.Engine
	STT stt.Provider
}

// BuildProviders instantiates the configured providers through reg. When
// STT fallbacks are configured the transcriber is an [resilience.STTFallback]
// trying the primary first.
func BuildProviders(cfg config.ProvidersConfig, reg *config.Registry, metrics *observe.Metrics) (*Providers, error) {
	engine, err := reg.CreateVAD(cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("app: create vad %q: %w", cfg.VAD.Name, err)
	}
	p := &Providers{VAD: engine}
	if cfg.STT.Name == "" {
		return p, nil
	}

	primary, err := reg.CreateSTT(cfg.STT)
	if err != nil {
		return nil, fmt.Errorf("app: create stt %q: %w", cfg.STT.Name, err)
	}
	if len(cfg.STTFallbacks) == 0 {
		p.STT = primary
		return p, nil
	}

	fb := resilience.NewSTTFallback(primary, cfg.STT.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("stt circuit breaker changed state", "provider", name, "from", from, "to", to)
			},
		},
	}, metrics)
	for i, e := range cfg.STTFallbacks {
		alt, err := reg.CreateSTT(e)
		if err != nil {
			return nil, fmt.Errorf("app: create stt fallback %d (%q): %w", i, e.Name, err)
		}
		fb.AddFallback(e.Name, alt)
	}
	p.STT = fb
	return p, nil
}

// App owns the subsystem lifetimes of the voxend server.
type App struct {
	cfg       *config.Config
	providers *Providers

	store          transcript.Store
	pool           *pgxpool.Pool
	metrics        *observe.Metrics
	metricsHandler http.Handler
	checkers       []health.Checker

	svc      *Service
	sessions *Sessions
	health   *health.Handler

	// closers run in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option configures an [App].
type Option func(*App)

// WithStore injects an utterance store instead of creating one from config.
func WithStore(s transcript.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the instruments used by detectors and middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at the configured metrics path.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithCheckers adds readiness checks.
func WithCheckers(c ...health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c...) }
}

// New creates an App from cfg and providers.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.VAD == nil {
		return nil, errors.New("app: a vad engine is required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	vadCfg, err := VADConfig(cfg.Providers.VAD)
	if err != nil {
		_ = a.closeAll()
		return nil, err
	}
	svc, err := NewService(ServiceConfig{
		Endpoint:       EndpointConfig(cfg.Endpoint),
		MaxUtteranceMs: cfg.Endpoint.MaxUtteranceMs,
		Language:       cfg.Providers.STT.Language,
		VAD:            providers.VAD,
		VADConfig:      vadCfg,
		STT:            providers.STT,
		Store:          a.store,
		Metrics:        a.metrics,
	})
	if err != nil {
		_ = a.closeAll()
		return nil, err
	}
	a.svc = svc
	a.sessions = NewSessions(a.metrics)
	a.health = health.New(append(a.readinessChecks(), a.checkers...)...)
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		a.store = transcript.NewMemStore(a.cfg.Store.HistorySize)
		return nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	pg := transcript.NewPostgresStore(pool, a.cfg.Store.HistorySize)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}
	a.pool, a.store = pool, pg
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	slog.Info("utterance log uses postgres", "history_size", a.cfg.Store.HistorySize)
	return nil
}

// readinessChecks reports the store and the transcriber chain.
func (a *App) readinessChecks() []health.Checker {
	var checks []health.Checker
	if a.pool != nil {
		checks = append(checks, health.Ping("store", a.pool))
	} else {
		store := a.store
		checks = append(checks, health.Checker{Name: "store", Check: func(ctx context.Context) error {
			_, err := store.Recent(ctx, "readyz", 1)
			return err
		}})
	}
	checks = append(checks, health.Checker{Name: "stt", Check: func(context.Context) error {
		return sttReady(a.providers.STT)
	}})
	return checks
}

type breakerStatus interface {
	Status() []resilience.EntryStatus
}

func sttReady(p stt.Provider) error {
	if p == nil {
		return errors.New("no stt provider configured")
	}
	bs, ok := p.(breakerStatus)
	if !ok {
		return nil
	}
	for _, e := range bs.Status() {
		if e.State != resilience.StateOpen {
			return nil
		}
	}
	return errors.New("all stt providers have open circuit breakers")
}

// EndpointConfig converts the YAML endpoint section to detector settings.
func EndpointConfig(c config.EndpointConfig) endpoint.Config {
	return endpoint.Config{
		ChunkDurationMs: c.ChunkDurationMs,
		MuteTimeMs:      c.MuteTimeMs,
		SampleRate:      c.SampleRate,
	}
}

// VADConfig reads the classifier thresholds from the options of the vad
// provider entry: speech_threshold, silence_threshold and min_silence_ms.
func VADConfig(e config.ProviderEntry) (vad.Config, error) {
	var (
		c    vad.Config
		err  error
		errs []error
	)
	if c.SpeechThreshold, err = e.OptionFloat("speech_threshold", 0); err != nil {
		errs = append(errs, err)
	}
	if c.SilenceThreshold, err = e.OptionFloat("silence_threshold", 0); err != nil {
		errs = append(errs, err)
	}
	if c.MinSilenceMs, err = e.OptionInt("min_silence_ms", 0); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return vad.Config{}, fmt.Errorf("app: vad options: %w", err)
	}
	return c, nil
}

// Service returns the detection service.
func (a *App) Service() *Service { return a.svc }

// Sessions returns the live session registry.
func (a *App) Sessions() *Sessions { return a.sessions }

// ApplyConfig applies the hot-reloadable parts of a config change. It is
// meant to be called from a [config.Watcher] callback.
func (a *App) ApplyConfig(diff config.ConfigDiff) {
	if !diff.EndpointChanged {
		return
	}
	if err := a.svc.SetEndpoint(EndpointConfig(diff.NewEndpoint), diff.NewEndpoint.MaxUtteranceMs); err != nil {
		slog.Warn("ignoring endpoint change", "err", err)
		return
	}
	slog.Info("endpoint settings updated for new detections",
		"chunk_duration_ms", diff.NewEndpoint.ChunkDurationMs,
		"mute_time_ms", diff.NewEndpoint.MuteTimeMs,
		"max_utterance_ms", diff.NewEndpoint.MaxUtteranceMs,
	)
}

// Handler returns the complete HTTP surface wrapped in the telemetry
// middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET "+a.cfg.Telemetry.MetricsPath, a.metricsHandler)
	}
	mux.HandleFunc("POST /v1/utterances", a.handleUpload)
	mux.HandleFunc("GET /v1/utterances", a.handleHistory)
	mux.HandleFunc("DELETE /v1/utterances", a.handleResetHistory)
	mux.HandleFunc("GET /v1/sessions", a.handleSessions)
	mux.HandleFunc("DELETE /v1/sessions/{id}", a.handleCancelSession)
	mux.HandleFunc("GET /v1/listen", a.handleListen)
	return observe.Middleware(a.metrics)(mux)
}

// Run serves HTTP on the configured address until ctx is cancelled, then
// drains readiness, cancels live detections and shuts the server down.
func (a *App) Run(ctx context.Context) error {
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.health.Drain()
		a.sessions.CancelAll()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutCtx)
		// Hijacked streaming connections are not tracked by Shutdown.
		cancelBase()
		return err
	})
	return g.Wait()
}

// Shutdown releases everything New opened. Closers are skipped once ctx
// expires.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				err = ctx.Err()
				return
			}
			if cerr := a.closers[i](); cerr != nil {
				slog.Warn("closer failed", "err", cerr)
			}
		}
	})
	return err
}

func (a *App) closeAll() error {
	return a.Shutdown(context.Background())
}
