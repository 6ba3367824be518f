package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// metricInterval is how often phase metrics are pushed; Shutdown flushes the rest.
const metricInterval = 10 * time.Second

// Provider owns the exporters installed as the global OTEL providers.
type Provider struct {
	enabled bool
	closers []func(context.Context) error
}

// Enabled reports whether spans and metrics are exported.
func (p *Provider) Enabled() bool { return p.enabled }

// InitProvider installs tracer and meter providers exporting over OTLP gRPC
// to endpoint. An empty endpoint leaves the global no-op providers in place.
// The dial is lazy, so an unreachable collector does not fail startup.
func InitProvider(ctx context.Context, endpoint, serviceName, version string, useInsecure bool) (*Provider, error) {
	p := &Provider{}
	if endpoint == "" {
		return p, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
			semconv.ServiceNamespace("studysprint"),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("building OTEL resource: %w", err)
	}

	var dialOpts []grpc.DialOption
	if useInsecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating gRPC client for OTEL: %w", err)
	}
	// Closers run in reverse, so the shared connection closes last.
	p.closers = append(p.closers, func(context.Context) error { return conn.Close() })

	if err := p.installTracing(ctx, conn, res); err != nil {
		p.Shutdown(ctx) //nolint:errcheck
		return nil, err
	}
	if err := p.installMetrics(ctx, conn, res); err != nil {
		p.Shutdown(ctx) //nolint:errcheck
		return nil, err
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		slog.Debug("otel export error", "err", err)
	}))

	p.enabled = true
	return p, nil
}

func (p *Provider) installTracing(ctx context.Context, conn *grpc.ClientConn, res *resource.Resource) error {
	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return fmt.Errorf("creating trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	p.closers = append(p.closers, tp.Shutdown)
	return nil
}

func (p *Provider) installMetrics(ctx context.Context, conn *grpc.ClientConn, res *resource.Resource) error {
	exp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		return fmt.Errorf("creating metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(metricInterval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	p.closers = append(p.closers, mp.Shutdown)
	return nil
}

// Shutdown flushes the providers and closes the collector connection. Flush
// failures are logged, only the close error is returned. ctx should carry a
// deadline.
func (p *Provider) Shutdown(ctx context.Context) error {
	var closeErr error
	for i := len(p.closers) - 1; i >= 0; i-- {
		err := p.closers[i](ctx)
		switch {
		case err == nil:
		case i == 0:
			closeErr = err
		default:
			slog.Debug("otel flush failed", "err", err)
		}
	}
	p.closers = nil
	return closeErr
}
