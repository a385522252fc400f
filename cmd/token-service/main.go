package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"qms/token-service/internal/config"
	"qms/token-service/internal/engine"
	"qms/token-service/internal/events"
	"qms/token-service/internal/httpapi"
	"qms/token-service/internal/metrics"
	"qms/token-service/internal/notify"
	"qms/token-service/internal/store"
	"qms/token-service/internal/store/postgres"
	"qms/token-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "token-service"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, envFile string
	flagSet := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file (default: $CONFIG_FILE)")
	flagSet.StringVar(&envFile, "env-file", ".env", "load environment variables from this file when it exists")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	}, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	recorder := metrics.NewPrometheus(prometheus.DefaultRegisterer, "qms")

	hub := events.NewHub(logger)
	sinks := []events.Sink{hub}

	var archive *postgres.Archive
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer pool.Close()
		archive = postgres.NewArchive(pool, loc)
		if cfg.EnsureSchema {
			if err := archive.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
		}
		sinks = append(sinks, events.NewArchiveSink(archive, 5*time.Second))
	}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name(serviceName))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer func() { _ = nc.Drain() }()
		sinks = append(sinks, events.NewNATSSink(nc, cfg.NATSSubject))
	}

	bus := events.NewBus(cfg.EventBuffer, logger, recorder, sinks...)
	go bus.Run(context.WithoutCancel(ctx))

	provider := notify.NewProvider(notify.ProviderConfig{
		Kind:         cfg.Notify.Provider,
		WebhookURL:   cfg.Notify.WebhookURL,
		WebhookToken: cfg.Notify.WebhookToken,
		Logger:       logger,
	})
	dispatcher := notify.NewDispatcher(provider, notify.Config{
		QueueSize: cfg.Notify.QueueSize,
		Workers:   cfg.Notify.Workers,
		Timeout:   cfg.Notify.Timeout,
		Template:  cfg.Notify.Template,
	}, logger, recorder)
	dispatcher.Start(context.WithoutCancel(ctx))

	selector, err := engine.NewResourceSelector(cfg.ResourcePolicy, cfg.ResourceSeed)
	if err != nil {
		return err
	}
	coord := engine.NewCoordinator(store.NewLedger(), store.NewRateLimitStore(cfg.RateLimitWindow), engine.Options{
		Queues:         cfg.Queues,
		ServiceMinutes: cfg.ServiceMinutes,
		ResourceCount:  cfg.ResourceCount,
		MaxSequence:    cfg.MaxSequence,
		Selector:       selector,
		Notifier:       dispatcher,
		Publisher:      bus,
		Metrics:        recorder,
		Logger:         logger,
		Location:       loc,
	})

	if archive != nil {
		tokens, err := archive.LoadTokens(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("restore queue day: %w", err)
		}
		if err := coord.Restore(tokens); err != nil {
			return fmt.Errorf("restore queue day: %w", err)
		}
		logger.Info("queue day restored", "tokens", len(tokens))
	}

	watcher := engine.NewRolloverWatcher(coord, time.Now())
	go watcher.Run(ctx, cfg.RolloverInterval)

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})
	go runJanitor(ctx, cfg.RateLimitEvictInterval, func(now time.Time) {
		evicted := coord.EvictRateLimits(now)
		swept := limiter.Sweep(cfg.RateLimitEvictInterval)
		if evicted > 0 || swept > 0 {
			logger.Debug("rate limit records evicted", "phones", evicted, "clients", swept)
		}
	})

	mux := http.NewServeMux()
	httpapi.NewHandler(coord, httpapi.Options{}).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/realtime/", httpapi.NewRealtimeHandler(hub, logger))

	handler := httpapi.StaffAuthMiddleware(cfg.StaffToken, mux)
	handler = limiter.Middleware(handler)
	handler = httpapi.LoggingMiddleware(logger, recorder, handler)
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     otelhttp.NewHandler(handler, serviceName),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("token-service listening", "addr", server.Addr, "queues", strings.Join(cfg.Queues, ","))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("notification queue not drained", "error", err)
	}
	if err := bus.Close(shutdownCtx); err != nil {
		logger.Warn("event bus not drained", "error", err)
	}
	return nil
}

func runJanitor(ctx context.Context, interval time.Duration, fn func(time.Time)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fn(now)
		}
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)).With("service", serviceName)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts)).With("service", serviceName)
}
