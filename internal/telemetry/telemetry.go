// Package telemetry wires optional OpenTelemetry export for pulsebook. Traces,
// metrics and logs go to one OTLP gRPC collector over a shared connection.
//
// Call [Setup] once during startup and defer the returned [ShutdownFunc].
// Without a telemetry block the global providers stay no-ops.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pulsebook/pulsebook/internal/config"
)

// DefaultServiceName is reported as service.name unless overridden.
const DefaultServiceName = "pulsebook"

// ShutdownFunc flushes and closes the providers. Pass a fresh context; the
// main one is usually cancelled by then.
type ShutdownFunc func(context.Context) error

// Setup installs the global trace, metric and log providers. version is
// reported as service.version.
//
// The returned ShutdownFunc is never nil, so callers can defer it even when
// Setup fails.
func Setup(ctx context.Context, cfg *config.TelemetryConfig, version string) (ShutdownFunc, error) {
	if cfg == nil {
		return noopShutdown, nil
	}

	res, err := newResource(cfg.ServiceName, version)
	if err != nil {
		return noopShutdown, err
	}

	conn, err := dial(cfg)
	if err != nil {
		return noopShutdown, err
	}

	var shutdowns []func(context.Context) error
	fail := func(err error) (ShutdownFunc, error) {
		for _, sd := range shutdowns {
			_ = sd(ctx)
		}
		_ = conn.Close()
		return noopShutdown, err
	}

	tp, err := newTraceProvider(ctx, conn, cfg.Headers, res)
	if err != nil {
		return fail(err)
	}
	shutdowns = append(shutdowns, tp.Shutdown)

	mp, err := newMeterProvider(ctx, conn, cfg.Headers, res)
	if err != nil {
		return fail(err)
	}
	shutdowns = append(shutdowns, mp.Shutdown)

	lp, err := newLoggerProvider(ctx, conn, cfg.Headers, res)
	if err != nil {
		return fail(err)
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)

	return func(ctx context.Context) error {
		var errs []error
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric provider shutdown: %w", err))
		}
		if err := lp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("log provider shutdown: %w", err))
		}
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("OTLP connection close: %w", err))
		}
		return errors.Join(errs...)
	}, nil
}

func newResource(name, version string) (*resource.Resource, error) {
	if name == "" {
		name = DefaultServiceName
	}
	// Schemaless keeps resource.Default() and our semconv version from
	// clashing on schema URL.
	svc := resource.NewSchemaless(
		semconv.ServiceName(name),
		semconv.ServiceVersion(version),
	)
	res, err := resource.Merge(resource.Default(), svc)
	if err != nil {
		return nil, fmt.Errorf("building OTel resource: %w", err)
	}
	return res, nil
}

func dial(cfg *config.TelemetryConfig) (*grpc.ClientConn, error) {
	creds := credentials.NewTLS(nil)
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dialling OTLP collector at %q: %w", cfg.OTLPEndpoint, err)
	}
	return conn, nil
}

func newTraceProvider(ctx context.Context, conn *grpc.ClientConn, headers map[string]string, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithGRPCConn(conn),
		otlptracegrpc.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}

func newMeterProvider(ctx context.Context, conn *grpc.ClientConn, headers map[string]string, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithGRPCConn(conn),
		otlpmetricgrpc.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	), nil
}

func newLoggerProvider(ctx context.Context, conn *grpc.ClientConn, headers map[string]string, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	exp, err := otlploggrpc.New(ctx,
		otlploggrpc.WithGRPCConn(conn),
		otlploggrpc.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP log exporter: %w", err)
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	), nil
}

func noopShutdown(context.Context) error { return nil }
