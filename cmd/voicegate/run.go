package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voicegate/internal/app"
	"github.com/MrWong99/voicegate/internal/config"
	"github.com/MrWong99/voicegate/internal/observe"
)

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the gate and the admin API",
		Long: `Start listening on the configured audio device.

Every confirmed utterance is verified against the enrolled voices. A match
whose speaker class equals gate.target_label fires the actuator, at most once
per cooldown. The gate policy, matcher thresholds and log level are reloaded
when the config file changes or the process receives SIGHUP.

Examples:
  voicegate run
  voicegate -c /etc/voicegate/config.yaml run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *configPath, cmd.OutOrStdout())
		},
	}
}

// serve runs the application until SIGINT or SIGTERM.
func serve(parent context.Context, configPath string, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	logger := newLogger(level)
	slog.SetDefault(logger)

	slog.Info("voicegate starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── OpenTelemetry ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      "voicegate",
		ServiceVersion:   version,
		CycleSampleRatio: cfg.Telemetry.CycleSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("otel shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Audio.SampleRate)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}
	defer closeProviders(providers)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(out, cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithConfigWatch(configPath),
	)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	go reloadOnHangup(ctx, application)

	slog.Info("gate ready; press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
		slog.Info("shutdown signal received, stopping")
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	if runErr != nil {
		return runErr
	}

	slog.Info("goodbye")
	return nil
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, application *app.App) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			switch err := application.ReloadConfig(); {
			case err == nil:
				slog.Info("config reloaded on SIGHUP")
			case errors.Is(err, config.ErrUnchanged):
				slog.Info("SIGHUP received, config unchanged")
			default:
				slog.Warn("SIGHUP reload failed, keeping previous config", "err", err)
			}
		}
	}
}
