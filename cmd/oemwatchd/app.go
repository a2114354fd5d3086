package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Paul008/oem-agent-sub002/internal/alert"
	"github.com/Paul008/oem-agent-sub002/internal/config"
	"github.com/Paul008/oem-agent-sub002/internal/discovery"
	"github.com/Paul008/oem-agent-sub002/internal/driver"
	"github.com/Paul008/oem-agent-sub002/internal/fetch"
	"github.com/Paul008/oem-agent-sub002/internal/llm"
	"github.com/Paul008/oem-agent-sub002/internal/objectstore"
	"github.com/Paul008/oem-agent-sub002/internal/registry"
	"github.com/Paul008/oem-agent-sub002/internal/render"
	"github.com/Paul008/oem-agent-sub002/internal/repository"
	"github.com/Paul008/oem-agent-sub002/internal/scheduler"
	"github.com/Paul008/oem-agent-sub002/internal/telemetry"
	"github.com/Paul008/oem-agent-sub002/internal/transport"
)

// app bundles every long-lived collaborator the daemon's subcommands share,
// so run/discover don't each re-derive the same wiring.
type app struct {
	cfg      *config.Config
	registry *registry.Registry
	repo     *repository.SQLiteRepository
	metrics  *telemetry.Metrics
	logger   *telemetry.Logger
	driver   *driver.Driver
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("oemwatchd: load config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.LogLevel)

	if _, err := telemetry.NewTracerProvider("oemwatchd"); err != nil {
		return nil, fmt.Errorf("oemwatchd: tracer provider: %w", err)
	}

	reg, err := registry.Load(cfg.RegistryPath, logger.Slog())
	if err != nil {
		return nil, fmt.Errorf("oemwatchd: load registry: %w", err)
	}

	repo, err := repository.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("oemwatchd: open repository: %w", err)
	}

	store, err := newObjectStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("oemwatchd: open object store: %w", err)
	}

	metrics := telemetry.NewMetrics()
	discoveryRegistry := discovery.NewRegistry(store, 256, logger.Slog())
	for _, tenant := range reg.Tenants() {
		if err := discoveryRegistry.Hydrate(context.Background(), tenant.ID); err != nil {
			logger.Slog().Warn("oemwatchd: discovery hydrate failed", "tenant", tenant.ID, "error", err)
		}
	}

	webhookURLs := cfg.WebhookURLs
	if webhookURLs == nil {
		webhookURLs = map[string]string{}
	}
	tr := transport.NewWebhookTransport(webhookURLs, transport.RetryConfig{}, logger.Slog())

	d := &driver.Driver{
		Registry:    reg,
		Queue:       scheduler.NewPriorityQueue(),
		KeyLock:     scheduler.NewKeyedMutex(),
		Budget:      scheduler.NewBudgetTracker(2, 5),
		Repo:        repo,
		Fetcher:     fetch.New(fetch.Policy{RespectRobots: true}),
		Renderer:    render.NewHTTPRenderer(cfg.RendererBaseURL, cfg.RendererSecret),
		Oracle:      llm.NewAnthropicOracle(cfg.AnthropicModel),
		Discovery:   discoveryRegistry,
		Batcher:     alert.NewBatcher(),
		Transport:   tr,
		Metrics:     metrics,
		Logger:      logger,
		Slots:       slotsFor,
		WorkerCount: 4,
	}

	return &app{cfg: cfg, registry: reg, repo: repo, metrics: metrics, logger: logger, driver: d}, nil
}

func newObjectStore(cfg *config.Config) (objectstore.Store, error) {
	if cfg.RedisAddr == "" {
		return objectstore.NewFileStore(cfg.ObjectStoreDir), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return objectstore.NewRedisStore(client), nil
}
