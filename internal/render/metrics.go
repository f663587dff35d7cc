package render

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentation = "github.com/davidkant/rpp/render"

type metrics struct {
	started        metric.Int64Counter
	completed      metric.Int64Counter
	failed         metric.Int64Counter
	timeouts       metric.Int64Counter
	artifactErrors metric.Int64Counter
	latency        metric.Float64Histogram
}

func newMetrics(registry *Registry, log *slog.Logger) *metrics {
	m := &metrics{}
	if err := m.init(otel.Meter(instrumentation), registry); err != nil {
		log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return m
}

func (m *metrics) init(meter metric.Meter, registry *Registry) error {
	var err error
	if m.started, err = meter.Int64Counter("rpp.render.started", metric.WithDescription("Renders triggered")); err != nil {
		return err
	}
	if m.completed, err = meter.Int64Counter("rpp.render.completed", metric.WithDescription("Renders reported complete by the engine")); err != nil {
		return err
	}
	if m.failed, err = meter.Int64Counter("rpp.render.failed", metric.WithDescription("Renders aborted while configuring")); err != nil {
		return err
	}
	if m.timeouts, err = meter.Int64Counter("rpp.render.timeouts", metric.WithDescription("Renders that never reported completion")); err != nil {
		return err
	}
	if m.artifactErrors, err = meter.Int64Counter("rpp.render.artifact_errors", metric.WithDescription("Parameter CSV writes that failed")); err != nil {
		return err
	}
	if m.latency, err = meter.Float64Histogram("rpp.render.latency", metric.WithDescription("Time from request to completion"), metric.WithUnit("s")); err != nil {
		return err
	}
	inflight, err := meter.Int64ObservableGauge("rpp.render.inflight", metric.WithDescription("Renders awaiting completion"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(inflight, int64(registry.Len()))
		return nil
	}, inflight)
	return err
}

func add(ctx context.Context, c metric.Int64Counter) {
	if c != nil {
		c.Add(ctx, 1)
	}
}

func (m *metrics) observeLatency(ctx context.Context, d time.Duration) {
	if m.latency != nil {
		m.latency.Record(ctx, d.Seconds())
	}
}
