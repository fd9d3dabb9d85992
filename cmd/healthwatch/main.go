package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"healthwatch/config"
	"healthwatch/internal/api"
	"healthwatch/internal/health"
	"healthwatch/internal/logger"
	"healthwatch/internal/scheduler"
	"healthwatch/pkg/models"
)

const defaultConfigName = "healthwatch.yml"

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat(defaultConfigName); err == nil {
		return defaultConfigName
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, defaultConfigName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return defaultConfigName
}

// loadConfig reads path. A missing file yields the built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: %s not found, using built-in defaults", path)
		cfg, err = &config.Config{}, nil
	}
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func boolPtr(v bool) *bool { return &v }

func applyDefaults(cfg *config.Config) {
	hw := &cfg.HealthWatch

	if hw.Scheduler.Interval <= 0 {
		hw.Scheduler.Interval = 60 * time.Second
	}
	if hw.Scheduler.AutoStart == nil {
		hw.Scheduler.AutoStart = boolPtr(true)
	}
	if hw.Scheduler.Backoff.Enabled == nil {
		hw.Scheduler.Backoff.Enabled = boolPtr(true)
	}
	if hw.Scheduler.Backoff.After <= 0 {
		hw.Scheduler.Backoff.After = 3
	}
	if hw.Scheduler.Backoff.MaxInterval <= 0 {
		hw.Scheduler.Backoff.MaxInterval = 10 * time.Minute
	}

	if hw.Engine.SourceTimeout <= 0 {
		hw.Engine.SourceTimeout = 10 * time.Second
	}
	if hw.Engine.ResolvedWindowDays <= 0 {
		hw.Engine.ResolvedWindowDays = 30
	}
	if hw.Engine.Metrics == nil {
		hw.Engine.Metrics = boolPtr(true)
	}

	if hw.Fetch.Timeout <= 0 {
		hw.Fetch.Timeout = 10 * time.Second
	}

	if len(hw.Sources) == 0 {
		hw.Sources = []config.SourceConfig{
			{Kind: "azure"},
			{Kind: "microsoft365"},
			{Kind: "entra"},
			{Kind: "github"},
		}
	}

	if hw.Store.Mode == "" {
		hw.Store.Mode = "memory"
	}
	if hw.Store.Redis.Addr == "" {
		hw.Store.Redis.Addr = "127.0.0.1:6379"
	}
	if hw.Store.Redis.KeyPrefix == "" {
		hw.Store.Redis.KeyPrefix = "healthwatch"
	}
	if hw.Store.Mongo.Database == "" {
		hw.Store.Mongo.Database = "healthwatch"
	}

	if hw.API.Enabled == nil {
		hw.API.Enabled = boolPtr(true)
	}
	if hw.API.Addr == "" {
		hw.API.Addr = ":8080"
	}
	if hw.API.Mode == "" {
		hw.API.Mode = "release"
	}

	if hw.Notify.Webhook.Timeout <= 0 {
		hw.Notify.Webhook.Timeout = 5 * time.Second
	}
	if hw.Notify.Queue.Addr == "" {
		hw.Notify.Queue.Addr = hw.Store.Redis.Addr
	}
	if hw.Notify.Queue.Key == "" {
		hw.Notify.Queue.Key = "healthwatch:changes"
	}
	if hw.Notify.RunLog.Path == "" {
		hw.Notify.RunLog.Path = "output/runs.jsonl"
	}

	if hw.Logging.Level == "" {
		hw.Logging.Level = "info"
	}
}

func initLogging(cfg *config.Config) {
	l := cfg.HealthWatch.Logging
	if err := logger.Init(logger.Options{Enabled: l.Enabled, Level: l.Level, File: l.File, Console: l.Console}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
}

func runServe(args []string) {
	configPath := findConfigFile(firstArg(args))
	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	initLogging(cfg)
	defer logger.Close()

	logger.Infof("HealthWatch starting")
	logger.Infof("Config loaded from: %s", configPath)

	app, err := buildApp(context.Background(), cfg)
	if err != nil {
		logger.Errorf("Startup failed: %v", err)
		log.Fatalf("Startup failed: %v", err)
	}
	defer app.Close()

	hw := cfg.HealthWatch
	sched := scheduler.New(scheduler.Config{
		Interval: hw.Scheduler.Interval,
		Backoff: scheduler.BackoffConfig{
			Enabled:     *hw.Scheduler.Backoff.Enabled,
			After:       hw.Scheduler.Backoff.After,
			MaxInterval: hw.Scheduler.Backoff.MaxInterval,
			Multiplier:  hw.Scheduler.Backoff.Multiplier,
			Jitter:      hw.Scheduler.Backoff.Jitter,
		},
	}, app.engine)

	agg := health.NewAggregator(health.Config{
		ResolvedWindowDays: hw.Engine.ResolvedWindowDays,
		SearchLimit:        hw.Engine.SearchLimit,
	}, app.store)

	var server *api.Server
	if *hw.API.Enabled {
		server = api.NewServer(api.Config{Addr: hw.API.Addr, Mode: hw.API.Mode},
			api.NewHandler(agg, sched), app.metricsHandler())
		go func() {
			if err := server.Run(); err != nil {
				logger.Errorf("HTTP API error: %v", err)
			}
		}()
	}

	if *hw.Scheduler.AutoStart {
		sched.Start()
	} else {
		logger.Infof("Scheduler auto_start disabled; start it via the API")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(ctx); err != nil {
			logger.Errorf("Error stopping HTTP API: %v", err)
		}
		cancel()
	}
	sched.Stop()

	logger.Infof("HealthWatch stopped")
}

func runOnce(args []string) int {
	configPath := findConfigFile(firstArg(args))
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	initLogging(cfg)
	defer logger.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return 1
	}
	defer app.Close()

	run := app.engine.RunCycle(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode run: %v\n", err)
		return 1
	}
	if run.Status == models.RunFailed {
		return 1
	}
	return 0
}

func firstArg(args []string) string {
	if len(args) > 0 {
		return strings.TrimSpace(args[0])
	}
	return ""
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "once":
			os.Exit(runOnce(os.Args[2:]))
		default:
			// First arg is a config path.
			runServe(os.Args[1:])
			return
		}
	}

	runServe(nil)
}
