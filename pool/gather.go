// Package pool bounds how many logical operations run against the
// bridge at once. Gather fans a batch of units out under a concurrency
// cap and hands results back in input order; Offload moves a single
// blocking call onto a bounded worker pool so the caller stays
// responsive.
package pool

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scanline-labs/houbridge/execute"
)

// DefaultMaxConcurrency caps in-flight units when the caller passes no
// limit of its own.
const DefaultMaxConcurrency = 4

// Unit is one schedulable remote call: the operation, its display name
// for logs and results, and an optional per-unit timeout (0 means the
// runner's default).
type Unit struct {
	Name    string
	Timeout time.Duration
	Op      execute.Operation
}

// Runner executes a single guarded operation. Production code passes
// *execute.Executor; tests substitute instrumented fakes.
type Runner interface {
	Run(ctx context.Context, op execute.Operation, timeout time.Duration, name string) execute.Result
}

var _ Runner = (*execute.Executor)(nil)

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	Runner         Runner
	MaxConcurrency int
	Logger         *slog.Logger
}

// Controller schedules units through a Runner with bounded parallelism.
type Controller struct {
	runner Runner
	max    int
	sem    chan struct{}
	log    *slog.Logger
}

// NewController creates a controller. MaxConcurrency <= 0 falls back to
// DefaultMaxConcurrency.
func NewController(cfg ControllerConfig) *Controller {
	max := cfg.MaxConcurrency
	if max <= 0 {
		max = DefaultMaxConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		runner: cfg.Runner,
		max:    max,
		sem:    make(chan struct{}, max),
		log:    cfg.Logger.With("component", "pool"),
	}
}

// MaxConcurrency reports the configured cap.
func (c *Controller) MaxConcurrency() int { return c.max }

// Gather runs every unit with at most the configured number executing
// at any instant and returns one result per unit, positioned to match
// the input order regardless of completion order. A unit's failure is
// carried in its own result slot; it neither cancels the other units
// nor aborts the gather.
func (c *Controller) Gather(ctx context.Context, units []Unit) []execute.Result {
	return c.GatherLimit(ctx, units, c.max)
}

// GatherLimit is Gather with a per-call concurrency cap overriding the
// controller's default.
func (c *Controller) GatherLimit(ctx context.Context, units []Unit, maxConcurrency int) []execute.Result {
	if maxConcurrency <= 0 {
		maxConcurrency = c.max
	}

	results := make([]execute.Result, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for i, unit := range units {
		g.Go(func() error {
			results[i] = c.runner.Run(gctx, unit.Op, unit.Timeout, unit.Name)
			// Failures stay in their slot; returning an error here
			// would cancel sibling units.
			return nil
		})
	}

	// No unit returns an error through the group, so Wait only blocks.
	_ = g.Wait()

	c.log.Debug("gather complete",
		"units", len(units), "max_concurrency", maxConcurrency)
	return results
}
