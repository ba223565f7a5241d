// Command voxend is the entry point of the voxend endpoint detection server.
//
// Without mode flags it serves the HTTP and WebSocket API. With -file or -mic
// it detects a single instruction and prints its text; with -mcp it serves
// the transcribe_instruction tool over stdio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/MrWong99/voxend/internal/app"
	"github.com/MrWong99/voxend/internal/config"
	"github.com/MrWong99/voxend/internal/endpoint"
	"github.com/MrWong99/voxend/internal/mcpserver"
	"github.com/MrWong99/voxend/internal/observe"
	"github.com/MrWong99/voxend/pkg/audio"
	"github.com/MrWong99/voxend/pkg/audio/mic"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	filePath := flag.String("file", "", "detect the instruction in this WAV file, print it and exit")
	useMic := flag.Bool("mic", false, "detect one instruction from the default microphone, print it and exit")
	serveMCP := flag.Bool("mcp", false, "serve the transcribe_instruction tool over stdio")
	watch := flag.Bool("watch", true, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxend: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxend: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voxend starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	closers := registerBuiltinProviders(reg)
	defer closers.close()

	providers, err := app.BuildProviders(cfg.Providers, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if providers.STT == nil {
		slog.Warn("no stt provider configured, utterances will be detected but not transcribed")
	}

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.Handler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	var runErr error
	switch {
	case *filePath != "":
		runErr = transcribeOnce(ctx, application.Service(), func(c endpoint.Config) (audio.ChunkSource, func() error, error) {
			src, err := audio.OpenFile(*filePath, audio.WithChunkMs(c.ChunkDurationMs), audio.WithTargetRate(c.SampleRate))
			return src, func() error { return nil }, err
		})
	case *useMic:
		runErr = transcribeOnce(ctx, application.Service(), func(c endpoint.Config) (audio.ChunkSource, func() error, error) {
			src, err := mic.Open(c.SampleRate, c.ChunkDurationMs)
			if err != nil {
				return nil, nil, err
			}
			return src, src.Close, nil
		})
	case *serveMCP:
		slog.Info("serving mcp tool over stdio", "tool", mcpserver.ToolName)
		runErr = mcpserver.Run(ctx, application.Service(), version)
	default:
		printStartupSummary(cfg)
		if *watch {
			w, err := config.NewWatcher(*configPath, func(_, _ *config.Config, diff config.ConfigDiff) {
				if diff.LogLevelChanged {
					level.Set(slogLevel(diff.NewLogLevel))
					slog.Info("log level changed", "level", diff.NewLogLevel)
				}
				application.ApplyConfig(diff)
				if len(diff.RestartRequired) > 0 {
					slog.Warn("config changes need a restart", "sections", diff.RestartRequired)
				}
			})
			if err != nil {
				slog.Warn("config watcher disabled", "err", err)
			} else {
				defer w.Stop()
			}
		}
		slog.Info("server ready, press Ctrl+C to shut down")
		runErr = application.Run(ctx)
	}

	exit := 0
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exit
}

// transcribeOnce detects one instruction on the source built by open and
// prints its text to stdout. No speech is reported on stderr and is not a
// failure.
func transcribeOnce(ctx context.Context, svc *app.Service, open func(endpoint.Config) (audio.ChunkSource, func() error, error)) error {
	cfg, _ := svc.Endpoint()
	src, closeSrc, err := open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSrc(); err != nil {
			slog.Warn("close audio source", "err", err)
		}
	}()

	res, err := svc.Process(ctx, "", src)
	if endpoint.IsNoSpeech(err) {
		fmt.Fprintf(os.Stderr, "voxend: no speech detected (%s)\n", res.Reason)
		return nil
	}
	if err != nil {
		return err
	}
	slog.Debug("instruction detected", "start", res.Start, "end", res.End, "duration_ms", res.DurationMs, "reason", res.Reason)
	fmt.Println(res.Text)
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          voxend startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("VAD", providerLabel(cfg.Providers.VAD))
	printRow("STT", providerLabel(cfg.Providers.STT))
	printRow("STT fallbacks", fmt.Sprint(len(cfg.Providers.STTFallbacks)))
	printRow("Sample rate", fmt.Sprintf("%d Hz", cfg.Endpoint.SampleRate))
	printRow("Chunk", fmt.Sprintf("%d ms", cfg.Endpoint.ChunkDurationMs))
	printRow("Mute time", fmt.Sprintf("%d ms", cfg.Endpoint.MuteTimeMs))
	store := "memory"
	if cfg.Store.PostgresDSN != "" {
		store = "postgres"
	}
	printRow("Store", store)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-13s   : %-19s ║\n", key, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}
