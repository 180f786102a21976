package conn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const defaultProbeInterval = 30 * time.Second

// HealthMonitorConfig controls background liveness probing.
type HealthMonitorConfig struct {
	Manager *Manager
	// Interval between probes.
	Interval time.Duration
	// ProbeTimeout bounds a single probe call.
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

// HealthMonitor periodically issues a lightweight remote call against
// the live session. A failed probe invalidates the connection so the
// next EnsureConnected reconnects instead of handing out a dead handle.
// The monitor never connects on its own; a Disconnected or Failed
// manager is left alone.
type HealthMonitor struct {
	mgr          *Manager
	interval     time.Duration
	probeTimeout time.Duration
	log          *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthMonitor creates a monitor for the given manager.
func NewHealthMonitor(cfg HealthMonitorConfig) (*HealthMonitor, error) {
	if cfg.Manager == nil {
		return nil, errors.New("conn: health monitor manager is nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &HealthMonitor{
		mgr:          cfg.Manager,
		interval:     cfg.Interval,
		probeTimeout: cfg.ProbeTimeout,
		log:          cfg.Logger.With("component", "health"),
	}, nil
}

// Start begins probing. Starting an already-started monitor is a no-op.
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.cancel != nil {
		h.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.cancel = cancel
	h.done = done
	h.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				h.ProbeOnce(loopCtx)
			}
		}
	}()
}

// Stop terminates probing and waits for the loop to exit.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	done := h.done
	h.cancel = nil
	h.done = nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// ProbeOnce performs one liveness check. Returns true when the session
// is alive or the manager is not currently connected (nothing to probe).
func (h *HealthMonitor) ProbeOnce(ctx context.Context) bool {
	h.mgr.mu.Lock()
	if h.mgr.state != StateConnected {
		h.mgr.mu.Unlock()
		return true
	}
	session := h.mgr.session
	h.mgr.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, h.probeTimeout)
	defer cancel()

	if err := session.Invoke(probeCtx, "application.version", nil, nil); err != nil {
		h.log.Warn("liveness probe failed", "error", err)
		h.mgr.invalidateSession(session)
		return false
	}
	return true
}
