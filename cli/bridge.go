// Package cli holds the cobra subcommands for the houbridge binary.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	otelapi "go.opentelemetry.io/otel"

	"github.com/scanline-labs/houbridge/cache"
	"github.com/scanline-labs/houbridge/config"
	"github.com/scanline-labs/houbridge/conn"
	"github.com/scanline-labs/houbridge/execute"
	"github.com/scanline-labs/houbridge/hou"
	houotel "github.com/scanline-labs/houbridge/otel"
	"github.com/scanline-labs/houbridge/pool"
)

// newLogger builds the process logger. Logs always go to stderr: in
// serve mode stdout carries the protocol stream.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// bridge is the assembled core stack shared by the subcommands.
type bridge struct {
	cfg     config.Config
	manager *conn.Manager
	client  *hou.Client
	cache   *cache.Cache
	log     *slog.Logger
}

// buildBridge wires manager, executor, controller, cache and client
// from the effective configuration. cachePath selects a persistent
// enumeration cache; empty keeps it in memory.
func buildBridge(cfg config.Config, cachePath string, logger *slog.Logger) (*bridge, error) {
	observer, err := houotel.NewBridgeObserver(
		otelapi.GetMeterProvider().Meter("houbridge"),
		otelapi.GetTracerProvider().Tracer("houbridge"),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}

	manager, err := conn.NewManager(conn.ManagerConfig{
		Host: cfg.Host,
		Port: cfg.Port,
		Policy: conn.RetryPolicy{
			MaxRetries:      cfg.Retry.MaxRetries,
			BaseDelay:       cfg.Retry.BaseDelay,
			MaxDelay:        cfg.Retry.MaxDelay,
			ExponentialBase: cfg.Retry.ExponentialBase,
			Jitter:          cfg.Retry.JitterEnabled(),
		},
		Observer: observer,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	executor := execute.NewExecutor(execute.ExecutorConfig{
		Invalidator:    manager,
		Observer:       observer,
		DefaultTimeout: cfg.DefaultTimeout,
		Logger:         logger,
	})
	controller := pool.NewController(pool.ControllerConfig{
		Runner:         executor,
		MaxConcurrency: cfg.MaxConcurrency,
		Logger:         logger,
	})

	var cacheStore cache.Store
	if cachePath != "" {
		sqliteStore, err := cache.NewSQLiteStore(cachePath)
		if err != nil {
			return nil, fmt.Errorf("opening cache store: %w", err)
		}
		cacheStore = sqliteStore
	}
	enumCache := cache.New(cache.Config{
		Name:       "enumerations",
		DefaultTTL: cfg.CacheTTL,
		Store:      cacheStore,
		Logger:     logger,
	})
	if err := houotel.RegisterCacheStats(
		otelapi.GetMeterProvider().Meter("houbridge"), "enumerations", enumCache); err != nil {
		return nil, fmt.Errorf("registering cache metrics: %w", err)
	}

	client, err := hou.NewClient(hou.ClientConfig{
		Manager:    manager,
		Executor:   executor,
		Controller: controller,
		Cache:      enumCache,
		CacheTTL:   cfg.CacheTTL,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &bridge{
		cfg:     cfg,
		manager: manager,
		client:  client,
		cache:   enumCache,
		log:     logger,
	}, nil
}
