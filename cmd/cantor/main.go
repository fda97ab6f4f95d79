// Command cantor is the main entry point for the Cantor Discord TTS bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/cantor-bot/cantor/internal/config"
	discordbot "github.com/cantor-bot/cantor/internal/discord"
	"github.com/cantor-bot/cantor/internal/dispatch"
	"github.com/cantor-bot/cantor/internal/health"
	"github.com/cantor-bot/cantor/internal/observe"
	"github.com/cantor-bot/cantor/internal/queue"
	"github.com/cantor-bot/cantor/internal/resilience"
	"github.com/cantor-bot/cantor/internal/settings"
	"github.com/cantor-bot/cantor/internal/speech"
	"github.com/cantor-bot/cantor/internal/voice"
	"github.com/cantor-bot/cantor/pkg/synth/kokoro"
	voicediscord "github.com/cantor-bot/cantor/pkg/voice/discord"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cantor: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cantor: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("cantor starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "cantor",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Synthesis pipeline ────────────────────────────────────────────────────
	provider, err := kokoro.New(cfg.TTS.ServerURL, kokoro.WithTimeout(cfg.TTS.Timeout()))
	if err != nil {
		slog.Error("failed to create TTS provider", "err", err)
		return 1
	}

	gateway, err := speech.NewGateway(ctx, speech.GatewayConfig{
		Provider: provider,
		Cache:    speech.NewCache(cfg.Dispatch.MaxCacheSize, cfg.Dispatch.CacheTTL()),
		Breaker: resilience.New(resilience.Config{
			Name:      "synthesis",
			Threshold: cfg.Dispatch.CircuitBreakerThreshold,
			Recovery:  cfg.Dispatch.CircuitBreakerRecovery(),
		}),
		Metrics: metrics,
	})
	if err != nil {
		slog.Error("failed to reach TTS server", "server_url", cfg.TTS.ServerURL, "err", err)
		return 1
	}
	slog.Info("tts server reachable", "server_url", cfg.TTS.ServerURL, "voices", len(gateway.Voices()))

	// ── Settings store ────────────────────────────────────────────────────────
	store, closeStore, err := newSettingsStore(ctx, cfg.Settings)
	if err != nil {
		slog.Error("failed to initialise settings store", "err", err)
		return 1
	}
	defer closeStore()

	defaultVoice := cfg.TTS.DefaultVoice
	if !slices.Contains(gateway.Voices(), defaultVoice) {
		defaultVoice = gateway.DefaultVoice()
		slog.Info("configured default voice not in catalogue, substituting", "voice", defaultVoice)
	}
	settingsMgr := settings.NewManager(store, settings.Defaults(defaultVoice, cfg.TTS.DefaultLanguage))

	// ── Discord session and playback pipeline ─────────────────────────────────
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		slog.Error("failed to create discord session", "err", err)
		return 1
	}

	voices, err := voice.NewManager(voice.Config{
		Transport: voicediscord.New(session),
		Policy:    cfg.Dispatch.CleanupPolicy,
		Metrics:   metrics,
	})
	if err != nil {
		slog.Error("failed to create voice manager", "err", err)
		return 1
	}

	q := queue.New(queue.Config{
		MaxSize: cfg.Dispatch.MaxQueueSize,
		TTL:     cfg.Dispatch.MessageTTL(),
		Metrics: metrics,
	})

	bot, err := discordbot.New(ctx, session, discordbot.Config{
		Prefix:          cfg.Discord.CommandPrefix,
		DeleteDelay:     cfg.Discord.DeleteDelay(),
		CleanupInterval: cfg.Dispatch.IdleCleanup(),
		Settings:        settingsMgr,
		Speech:          gateway,
		Queue:           q,
		Voices:          voices,
		Driver:          dispatch.NewDriver(q, voices, metrics),
		Metrics:         metrics,
	})
	if err != nil {
		slog.Error("failed to connect discord bot", "err", err)
		return 1
	}

	voices.StartMonitor(ctx)

	// ── Health and metrics server ─────────────────────────────────────────────
	mux := http.NewServeMux()
	health.New(
		health.DiscordChecker(session),
		health.TTSChecker(provider),
	).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return bot.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	slog.Info("cantor ready, press Ctrl+C to shut down")

	exitCode := 0
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exitCode = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	voices.StopMonitor()
	if err := bot.Close(); err != nil {
		slog.Warn("discord bot close error", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return exitCode
}

// newSettingsStore picks the persistence backend: PostgreSQL when a DSN is
// configured, in-memory otherwise.
func newSettingsStore(ctx context.Context, cfg config.SettingsConfig) (settings.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		slog.Info("settings persistence disabled, using in-memory store")
		return settings.NewMemStore(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	store := settings.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate settings schema: %w", err)
	}

	slog.Info("settings persisted to postgres")
	return store, pool.Close, nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
