package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/davidkant/rpp/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// Renders take seconds to minutes, so the latency buckets are in that range.
var renderLatencyBuckets = []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300}

// setupTelemetry installs the global tracer and meter providers. Metrics are
// gathered into a registry owned by this runtime and served by the returned
// handler.
func setupTelemetry(cfg config.Config, logger *slog.Logger) (func(context.Context) error, http.Handler, error) {
	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(runtimeAttributes(cfg)...))
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry resource: %w", err)
	}

	tp, mode, err := newTracerProvider(ctx, cfg.Telemetry, res)
	if err != nil {
		return nil, nil, err
	}
	otel.SetTracerProvider(tp)

	mp, handler, err := newMeterProvider(res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	otel.SetMeterProvider(mp)

	logger.Info("telemetry initialized",
		slog.String("traces", mode),
		slog.String("service", cfg.RuntimeName),
	)

	shutdown := func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}
	return shutdown, handler, nil
}

// runtimeAttributes describe this rppd and the engine it drives.
func runtimeAttributes(cfg config.Config) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.ServiceName(cfg.RuntimeName),
		attribute.String("deployment.environment", cfg.Environment),
		attribute.String("rpp.engine.address", fmt.Sprintf("%s:%d", cfg.Engine.Host, cfg.Engine.Port)),
		attribute.String("rpp.engine.listen", fmt.Sprintf("%s:%d", cfg.Engine.ListenBind, cfg.Engine.ListenPort)),
		attribute.String("rpp.render.preset", cfg.Render.Preset),
		attribute.Int("rpp.render.batch_size", cfg.Render.BatchSize),
	}
}

// traceMode resolves "auto" and "" against the OTLP endpoint.
func traceMode(cfg config.TelemetryConfig) string {
	switch cfg.Traces {
	case "", "auto":
		if strings.TrimSpace(cfg.OTLPEndpoint) != "" {
			return "otlp"
		}
		return "stderr"
	}
	return cfg.Traces
}

func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource) (*sdktrace.TracerProvider, string, error) {
	mode := traceMode(cfg)
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	switch mode {
	case "otlp":
		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(strings.TrimSpace(cfg.OTLPEndpoint))}
		if cfg.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, clientOpts...)
		if err != nil {
			return nil, mode, fmt.Errorf("otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	case "stderr":
		// stdout carries the JSON log
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, mode, fmt.Errorf("stderr exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	case "none":
	default:
		return nil, mode, fmt.Errorf("unknown trace mode %q", mode)
	}
	return sdktrace.NewTracerProvider(opts...), mode, nil
}

func newMeterProvider(res *resource.Resource) (*sdkmetric.MeterProvider, http.Handler, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	latency := sdkmetric.NewView(
		sdkmetric.Instrument{Name: "rpp.render.latency"},
		sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: renderLatencyBuckets}},
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
		sdkmetric.WithView(latency),
	)
	return mp, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
