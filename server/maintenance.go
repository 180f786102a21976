package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scanline-labs/houbridge/cache"
	"github.com/scanline-labs/houbridge/conn"
	"github.com/scanline-labs/houbridge/store"
)

const defaultMaintenanceSchedule = "@every 10m"

// MaintenanceConfig configures the periodic housekeeping pass.
type MaintenanceConfig struct {
	// Schedule is a cron expression or descriptor ("@every 10m").
	Schedule string
	Cache    *cache.Cache
	CallLog  *store.CallLog
	// CallLogMaxAge bounds retention; 0 keeps records forever.
	CallLogMaxAge time.Duration
	Health        *conn.HealthMonitor
	Logger        *slog.Logger
}

// Maintenance prunes expired cache entries and aged call log records
// on a cron schedule, and hosts the periodic connection health probe.
type Maintenance struct {
	cron          *cron.Cron
	cache         *cache.Cache
	callLog       *store.CallLog
	callLogMaxAge time.Duration
	health        *conn.HealthMonitor
	log           *slog.Logger
}

// NewMaintenance creates the maintenance runner. It does nothing until
// Start.
func NewMaintenance(cfg MaintenanceConfig) (*Maintenance, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = defaultMaintenanceSchedule
	}
	if cfg.Cache == nil && cfg.CallLog == nil {
		return nil, errors.New("server: maintenance needs a cache or a call log")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Maintenance{
		cron:          cron.New(),
		cache:         cfg.Cache,
		callLog:       cfg.CallLog,
		callLogMaxAge: cfg.CallLogMaxAge,
		health:        cfg.Health,
		log:           cfg.Logger.With("component", "maintenance"),
	}
	if _, err := m.cron.AddFunc(cfg.Schedule, m.runOnce); err != nil {
		return nil, fmt.Errorf("server: invalid maintenance schedule %q: %w", cfg.Schedule, err)
	}
	return m, nil
}

// Start launches the cron loop and the health monitor.
func (m *Maintenance) Start() {
	m.cron.Start()
	if m.health != nil {
		m.health.Start()
	}
	m.log.Info("maintenance started")
}

// Stop halts scheduling and waits for a running pass to finish.
func (m *Maintenance) Stop() {
	if m.health != nil {
		m.health.Stop()
	}
	<-m.cron.Stop().Done()
	m.log.Info("maintenance stopped")
}

func (m *Maintenance) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if m.cache != nil {
		pruned, err := m.cache.Prune(ctx)
		if err != nil {
			m.log.Warn("cache prune failed", "error", err)
		} else if pruned > 0 {
			m.log.Info("cache pruned", "entries", pruned)
		}
	}

	if m.callLog != nil && m.callLogMaxAge > 0 {
		pruned, err := m.callLog.Prune(ctx, m.callLogMaxAge)
		if err != nil {
			m.log.Warn("call log prune failed", "error", err)
		} else if pruned > 0 {
			m.log.Info("call log pruned", "records", pruned)
		}
	}
}
