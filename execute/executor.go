package execute

import (
	"context"
	"log/slog"
	"time"

	"github.com/scanline-labs/houbridge/rpc"
)

// DefaultTimeout bounds operations when the caller passes none.
const DefaultTimeout = 30 * time.Second

// Operation is one unit of remote work to guard.
type Operation func(ctx context.Context) (any, error)

// Invalidator is the hook back into the connection manager. The
// executor signals it when a call reveals the channel is dead.
type Invalidator interface {
	Invalidate()
}

// Observer receives per-operation lifecycle callbacks for telemetry.
type Observer interface {
	OperationStarted(name string)
	OperationFinished(name string, r Result)
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Invalidator    Invalidator
	Observer       Observer
	DefaultTimeout time.Duration
	Logger         *slog.Logger
}

// Executor runs operations on a worker goroutine of its own so the
// timeout holds even though the underlying call is a blocking
// request/response exchange.
type Executor struct {
	invalidator    Invalidator
	observer       Observer
	defaultTimeout time.Duration
	log            *slog.Logger
}

// NewExecutor creates an executor. Invalidator may be nil when there is
// no connection to invalidate (tests, offline tools).
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		invalidator:    cfg.Invalidator,
		observer:       cfg.Observer,
		defaultTimeout: cfg.DefaultTimeout,
		log:            cfg.Logger.With("component", "execute"),
	}
}

// Run executes op with the given timeout (0 means the default) and
// classifies the outcome. On timeout the in-flight worker is abandoned,
// not cancelled: it may still be running against the session when the
// timed-out result is returned. That is a deliberate, known resource
// leak inherited from the source behavior; the session is treated as
// suspect afterwards rather than torn down eagerly.
func (e *Executor) Run(ctx context.Context, op Operation, timeout time.Duration, name string) Result {
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	if e.observer != nil {
		e.observer.OperationStarted(name)
	}

	start := time.Now()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	opCtx, cancel := context.WithTimeout(ctx, timeout)

	go func() {
		defer cancel()
		value, err := op(opCtx)
		done <- outcome{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var r Result
	select {
	case out := <-done:
		r = e.classify(name, out.value, out.err, time.Since(start))
	case <-timer.C:
		r = Result{
			OperationName: name,
			TimedOut:      true,
			Kind:          KindTimeout,
			Err:           context.DeadlineExceeded,
			Elapsed:       time.Since(start),
		}
		e.log.Warn("operation timed out, worker abandoned",
			"operation", name, "timeout", timeout)
	case <-ctx.Done():
		r = Result{
			OperationName: name,
			TimedOut:      true,
			Kind:          KindTimeout,
			Err:           ctx.Err(),
			Elapsed:       time.Since(start),
		}
	}

	if e.observer != nil {
		e.observer.OperationFinished(name, r)
	}
	return r
}

func (e *Executor) classify(name string, value any, err error, elapsed time.Duration) Result {
	if err == nil {
		return Result{
			OperationName: name,
			Success:       true,
			Value:         value,
			Elapsed:       elapsed,
		}
	}

	if rpc.IsTransient(err) {
		e.log.Warn("connection lost during operation", "operation", name, "error", err)
		if e.invalidator != nil {
			e.invalidator.Invalidate()
		}
		return Result{
			OperationName:  name,
			ConnectionLost: true,
			Kind:           KindConnectionLost,
			Err:            err,
			Elapsed:        elapsed,
		}
	}

	// Not a channel failure: surface with full context, leave the
	// connection alone.
	e.log.Error("operation failed",
		"operation", name, "elapsed", elapsed, "error", err)
	return Result{
		OperationName: name,
		Kind:          KindUnexpected,
		Err:           err,
		Elapsed:       elapsed,
	}
}
