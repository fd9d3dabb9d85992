package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"healthwatch/config"
	"healthwatch/internal/fetch"
	"healthwatch/internal/logger"
	"healthwatch/internal/output/alerthttp"
	"healthwatch/internal/output/alertqueue"
	"healthwatch/internal/output/runjson"
	"healthwatch/internal/pipeline"
	"healthwatch/internal/sources"
	"healthwatch/internal/store/memory"
	"healthwatch/internal/store/mongo"
	"healthwatch/internal/store/postgres"
	"healthwatch/internal/store/redis"
	"healthwatch/pkg/models"
)

// app holds the long-lived components shared by serve and once.
type app struct {
	store   pipeline.AlertStore
	engine  *pipeline.Engine
	metrics *pipeline.Metrics
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	hw := cfg.HealthWatch

	store, err := buildStore(ctx, hw.Store)
	if err != nil {
		return nil, err
	}

	fetcher := fetch.NewHTTPFetcher(fetch.Config{
		Timeout:   hw.Fetch.Timeout,
		Proxies:   hw.Fetch.Proxies,
		UserAgent: hw.Fetch.UserAgent,
		Headers:   hw.Fetch.Headers,
	})
	srcs, err := buildSources(hw.Sources, sources.Deps{Fetcher: fetcher, Prober: fetcher})
	if err != nil {
		store.Close()
		return nil, err
	}

	hooks, err := buildHooks(hw.Notify)
	if err != nil {
		store.Close()
		return nil, err
	}
	if *hw.Engine.Metrics {
		hooks.Metrics = pipeline.NewMetrics()
	}

	engine := pipeline.NewEngine(pipeline.EngineConfig{
		SourceTimeout: hw.Engine.SourceTimeout,
	}, store, srcs, hooks)

	return &app{store: store, engine: engine, metrics: hooks.Metrics}, nil
}

func (a *app) metricsHandler() http.Handler {
	if a.metrics == nil {
		return nil
	}
	return promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{})
}

// Close releases the engine hooks and the store.
func (a *app) Close() {
	if err := a.engine.Close(); err != nil {
		logger.Errorf("Error closing engine: %v", err)
	}
	if err := a.store.Close(); err != nil {
		logger.Errorf("Error closing store: %v", err)
	}
}

func buildStore(ctx context.Context, cfg config.StoreConfig) (pipeline.AlertStore, error) {
	switch strings.ToLower(cfg.Mode) {
	case "memory":
		logger.Infof("Store mode: memory")
		return memory.New(cfg.Memory.MaxRuns), nil
	case "redis":
		s, err := redis.NewStore(redis.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			MaxRuns:   int64(cfg.Redis.MaxRuns),
		})
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		logger.Infof("Store mode: redis (%s)", cfg.Redis.Addr)
		return s, nil
	case "postgres":
		s, err := postgres.Open(postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			AutoMigrate:     cfg.Postgres.AutoMigrate,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		logger.Infof("Store mode: postgres")
		return s, nil
	case "mongo":
		s, err := mongo.Open(ctx, mongo.Config{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
			Timeout:  cfg.Mongo.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("mongo store: %w", err)
		}
		logger.Infof("Store mode: mongo (%s)", cfg.Mongo.Database)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store mode: %s", cfg.Mode)
	}
}

func buildSources(list []config.SourceConfig, deps sources.Deps) ([]sources.Source, error) {
	reg := sources.DefaultRegistry()
	var out []sources.Source
	for i, sc := range list {
		if !sc.IsEnabled() {
			logger.Infof("Source %d (%s) disabled", i, sc.Kind)
			continue
		}
		src, err := reg.Build(sources.Spec{
			Kind:        sc.Kind,
			Name:        sc.Name,
			Service:     models.ServiceName(strings.ToLower(sc.Service)),
			Endpoints:   sc.Endpoints,
			Probes:      sc.Probes,
			MaxItems:    sc.MaxItems,
			MaxAge:      sc.MaxAge,
			Probability: sc.Probability,
			FailureRate: sc.FailureRate,
			Seed:        sc.Seed,
		}, deps)
		if err != nil {
			return nil, fmt.Errorf("source %d (%s): %w", i, sc.Kind, err)
		}
		logger.Infof("Source enabled: %s (%s)", src.Name(), src.Service())
		out = append(out, src)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no sources enabled")
	}
	return out, nil
}

func buildHooks(cfg config.NotifyConfig) (pipeline.Hooks, error) {
	var hooks pipeline.Hooks
	var changes pipeline.MultiChangeWriter
	if cfg.Webhook.Enabled {
		services := make([]models.ServiceName, 0, len(cfg.Webhook.Services))
		for _, s := range cfg.Webhook.Services {
			services = append(services, models.ServiceName(strings.ToLower(s)))
		}
		w, err := alerthttp.NewWriter(alerthttp.Config{
			URL:      cfg.Webhook.URL,
			Timeout:  cfg.Webhook.Timeout,
			Headers:  cfg.Webhook.Headers,
			Regions:  cfg.Webhook.Regions,
			Services: services,
		})
		if err != nil {
			return hooks, fmt.Errorf("webhook notifier: %w", err)
		}
		changes = append(changes, w)
	}
	if cfg.Queue.Enabled {
		w, err := alertqueue.NewWriter(alertqueue.Config{
			Addr:     cfg.Queue.Addr,
			Password: cfg.Queue.Password,
			DB:       cfg.Queue.DB,
			Key:      cfg.Queue.Key,
			MaxLen:   cfg.Queue.MaxLen,
		})
		if err != nil {
			changes.Close()
			return hooks, fmt.Errorf("queue notifier: %w", err)
		}
		changes = append(changes, w)
	}
	switch len(changes) {
	case 0:
	case 1:
		hooks.Changes = changes[0]
	default:
		hooks.Changes = changes
	}
	if cfg.RunLog.Enabled {
		w, err := runjson.NewWriter(cfg.RunLog.Path)
		if err != nil {
			changes.Close()
			return hooks, fmt.Errorf("run log: %w", err)
		}
		hooks.Runs = w
	}
	return hooks, nil
}
