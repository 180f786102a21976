// Package otel records bridge activity into OpenTelemetry: one span and
// a set of counters/histograms per guarded operation, plus connection
// state transitions and cache effectiveness.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/scanline-labs/houbridge/cache"
	"github.com/scanline-labs/houbridge/conn"
	"github.com/scanline-labs/houbridge/execute"
)

// BridgeObserver translates executor and connection-manager callbacks
// into OpenTelemetry signals.
type BridgeObserver struct {
	tracer trace.Tracer

	operations  metric.Int64Counter
	failures    metric.Int64Counter
	inflight    metric.Int64UpDownCounter
	duration    metric.Float64Histogram
	transitions metric.Int64Counter
	reconnects  metric.Int64Counter
}

// NewBridgeObserver creates an observer bound to the provided meter and
// tracer.
func NewBridgeObserver(meter metric.Meter, tracer trace.Tracer) (*BridgeObserver, error) {
	operations, err := meter.Int64Counter("houbridge.operation.count",
		metric.WithDescription("Number of guarded operations"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("houbridge.operation.failures",
		metric.WithDescription("Number of failed operations by kind"),
	)
	if err != nil {
		return nil, err
	}
	inflight, err := meter.Int64UpDownCounter("houbridge.operation.inflight",
		metric.WithDescription("Operations currently executing"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("houbridge.operation.duration",
		metric.WithDescription("Operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("houbridge.connection.transitions",
		metric.WithDescription("Connection state transitions"),
	)
	if err != nil {
		return nil, err
	}
	reconnects, err := meter.Int64Counter("houbridge.connection.reconnects",
		metric.WithDescription("Times the live connection was invalidated"),
	)
	if err != nil {
		return nil, err
	}

	return &BridgeObserver{
		tracer:      tracer,
		operations:  operations,
		failures:    failures,
		inflight:    inflight,
		duration:    duration,
		transitions: transitions,
		reconnects:  reconnects,
	}, nil
}

// OperationStarted implements execute.Observer.
func (o *BridgeObserver) OperationStarted(name string) {
	if o == nil {
		return
	}
	o.inflight.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("operation", name)))
}

// OperationFinished implements execute.Observer. The span covers the
// whole operation; it is created retroactively from the result's
// elapsed time so concurrent operations with the same name never need
// pairing state.
func (o *BridgeObserver) OperationFinished(name string, r execute.Result) {
	if o == nil {
		return
	}
	ctx := context.Background()
	now := time.Now()

	attrs := []attribute.KeyValue{
		attribute.String("operation", name),
		attribute.String("outcome", outcome(r)),
	}
	set := metric.WithAttributes(attrs...)

	o.inflight.Add(ctx, -1,
		metric.WithAttributes(attribute.String("operation", name)))
	o.operations.Add(ctx, 1, set)
	o.duration.Record(ctx, r.Elapsed.Seconds(), set)
	if !r.Success {
		o.failures.Add(ctx, 1, set)
	}

	_, span := o.tracer.Start(ctx, "op:"+name,
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(now.Add(-r.Elapsed)),
	)
	if r.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, outcome(r))
		if r.Err != nil {
			span.RecordError(r.Err)
		}
	}
	span.End(trace.WithTimestamp(now))
}

// StateChanged implements conn.Observer.
func (o *BridgeObserver) StateChanged(from, to conn.State) {
	if o == nil {
		return
	}
	ctx := context.Background()
	o.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
	if from == conn.StateConnected && to == conn.StateDisconnected {
		o.reconnects.Add(ctx, 1)
	}
}

func outcome(r execute.Result) string {
	if r.Success {
		return "success"
	}
	return r.Kind.String()
}

// RegisterCacheStats exposes a cache's hit/miss/invalidation counters
// as observable instruments, polled at collection time.
func RegisterCacheStats(meter metric.Meter, name string, c *cache.Cache) error {
	hits, err := meter.Int64ObservableCounter("houbridge.cache.hits",
		metric.WithDescription("Cache hits"),
	)
	if err != nil {
		return err
	}
	misses, err := meter.Int64ObservableCounter("houbridge.cache.misses",
		metric.WithDescription("Cache misses"),
	)
	if err != nil {
		return err
	}
	invalidations, err := meter.Int64ObservableCounter("houbridge.cache.invalidations",
		metric.WithDescription("Cache invalidations"),
	)
	if err != nil {
		return err
	}

	attrs := metric.WithAttributes(attribute.String("cache", name))
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		stats := c.Stats()
		obs.ObserveInt64(hits, stats.Hits, attrs)
		obs.ObserveInt64(misses, stats.Misses, attrs)
		obs.ObserveInt64(invalidations, stats.Invalidations, attrs)
		return nil
	}, hits, misses, invalidations)
	return err
}

var (
	_ execute.Observer = (*BridgeObserver)(nil)
	_ conn.Observer    = (*BridgeObserver)(nil)
)
