package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/hapra/internal/chat"
	"github.com/haasonsaas/hapra/internal/config"
	"github.com/haasonsaas/hapra/internal/engagement"
	"github.com/haasonsaas/hapra/internal/gateway"
	"github.com/haasonsaas/hapra/internal/mcp"
	"github.com/haasonsaas/hapra/internal/observability"
	"github.com/haasonsaas/hapra/internal/relay"
	"github.com/haasonsaas/hapra/internal/runtime"
	"github.com/haasonsaas/hapra/internal/scheduler"
)

// app holds the wired components of a running bridge.
type app struct {
	config   *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	chat    *chat.Client
	runtime *runtime.Client
	relay   *relay.Relay
	tools   *mcp.ToolSet
	service *engagement.Service
	server  *gateway.Server

	shutdownTracer func(context.Context) error
}

// newApp builds every component from cfg. Nothing is contacted until the
// first request arrives.
func newApp(cfg *config.Config, logger *slog.Logger) *app {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	tracing := cfg.Observability.Tracing
	traceCfg := observability.TraceConfig{
		ServiceName:    tracing.ServiceName,
		ServiceVersion: version,
		Environment:    tracing.Environment,
		SamplingRate:   tracing.SamplingRate,
		EnableInsecure: tracing.Insecure,
	}
	if tracing.Enabled {
		traceCfg.Endpoint = tracing.Endpoint
	}
	tracer, shutdownTracer := observability.NewTracer(traceCfg)

	resolver := chat.NewEndpointResolver(chat.ResolverConfig{
		Rewrites:             cfg.Chat.Rewrites,
		ContainerAliasPrefix: cfg.Chat.ContainerAliasPrefix,
		LoopbackFallback:     cfg.Chat.LoopbackFallback,
		ProbeTimeout:         cfg.Chat.ProbeTimeout,
	}, nil, logger)
	chatClient := chat.NewClient(chat.Config{
		Timeout:   cfg.Chat.Timeout,
		RateLimit: cfg.Chat.RateLimit,
		Burst:     cfg.Chat.Burst,
	}, resolver, logger, metrics)

	runtimeClient := runtime.NewClient(runtime.Config{
		BaseURL:     cfg.Runtime.URL,
		UserID:      cfg.Runtime.UserID,
		Timeout:     cfg.Runtime.Timeout,
		TurnTimeout: cfg.Runtime.TurnTimeout,
	}, logger, metrics)

	turnRelay := relay.New(chatClient, runtimeClient, relay.Config{
		SSE:         cfg.Runtime.StreamingEnabled(),
		TurnTimeout: runtimeClient.TurnTimeout(),
	}, relay.WithLogger(logger), relay.WithMetrics(metrics), relay.WithTracer(tracer))

	tools := mcp.NewToolSet(mcp.ToolSetConfig{
		URL:              cfg.Tools.URL,
		Headers:          cfg.Tools.Headers,
		Tags:             cfg.Tools.Tags,
		ModelHeader:      cfg.Tools.ModelHeader,
		DiscoveryTimeout: cfg.Tools.DiscoveryTimeout,
		InvokeTimeout:    cfg.Tools.InvokeTimeout,
	}, logger, metrics, tracer)

	service := engagement.NewService(engagement.Config{
		PublicURL: cfg.Server.PublicURL,
		Heartbeat: engagement.HeartbeatConfig{
			Enabled:     cfg.Heartbeat.Enabled,
			Name:        cfg.Heartbeat.Name,
			Description: cfg.Heartbeat.Description,
			Cron:        cfg.Heartbeat.Cron,
			Message:     cfg.Heartbeat.Message,
		},
		Cards: cfg.Cards,
	}, engagement.Deps{
		Chat:       chatClient,
		Sessions:   runtimeClient,
		Relay:      turnRelay,
		Schedulers: schedulerFactory(cfg.Scheduler, logger, metrics),
		Tools:      tools,
		Logger:     logger,
	})

	server := gateway.NewServer(gateway.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		MetricsEnabled:    cfg.Metrics.IsEnabled(),
		MetricsPath:       cfg.Metrics.Path,
	}, service, gateway.Options{
		Logger:   logger,
		Metrics:  metrics,
		Gatherer: registry,
		Tracer:   tracer,
	})

	return &app{
		config:         cfg,
		logger:         logger,
		registry:       registry,
		metrics:        metrics,
		tracer:         tracer,
		chat:           chatClient,
		runtime:        runtimeClient,
		relay:          turnRelay,
		tools:          tools,
		service:        service,
		server:         server,
		shutdownTracer: shutdownTracer,
	}
}

// schedulerFactory builds per-caller scheduler clients. The client is
// returned through the interface only on success so a failed build never
// yields a non-nil interface holding a nil pointer.
func schedulerFactory(cfg config.SchedulerConfig, logger *slog.Logger, metrics *observability.Metrics) engagement.SchedulerFactory {
	return func(token, modelRef string) (engagement.TaskScheduler, error) {
		client, err := scheduler.NewClient(token, modelRef, scheduler.Options{
			Timeout:            cfg.Timeout,
			Rewrites:           cfg.Rewrites,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Logger:             logger,
			Metrics:            metrics,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:  cfg.Level,
		Format: cfg.Format,
	})
}

// runServe loads configuration, starts the HTTP server and blocks until a
// shutdown signal arrives.
func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting hapra",
		"version", version,
		"commit", commit,
		"config", configPath,
		"runtime_url", cfg.Runtime.URL,
		"tools_url", cfg.Tools.URL,
		"streaming", cfg.Runtime.StreamingEnabled(),
		"heartbeat", cfg.Heartbeat.Enabled,
	)

	a := newApp(cfg, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.server.Start(ctx); err != nil {
		return err
	}
	logger.Info("hapra started", "addr", a.server.Addr(), "public_url", cfg.Server.PublicURL)

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	return a.shutdown()
}

func (a *app) shutdown() error {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := a.shutdownTracer(shutdownCtx); err != nil {
		a.logger.Warn("tracer shutdown failed", "error", err)
	}

	a.logger.Info("hapra stopped gracefully")
	return nil
}
