// Package tracing installs the global OpenTelemetry tracer provider.
// Server spans come from otelgin and client spans from the otelhttp
// transport; both pick up the provider and propagator set here.
package tracing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Options selects the exporter and names the service.
type Options struct {
	ServiceName string
	NodeName    string
	Exporter    string
	Endpoint    string    // OTLP gRPC collector, host:port
	Insecure    bool      // plaintext OTLP
	Writer      io.Writer // stdout exporter target; nil means os.Stdout
}

// Shutdown flushes and stops the provider.
type Shutdown func(ctx context.Context)

// Init builds the exporter, registers a batching tracer provider and the
// W3C propagators, and returns a shutdown hook. ExporterNone installs only
// the propagators, so trace headers still pass through the node.
func Init(ctx context.Context, opts Options) (Shutdown, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch opts.Exporter {
	case "", ExporterNone:
		return func(context.Context) {}, nil
	case ExporterStdout:
		stdOpts := []stdouttrace.Option{}
		if opts.Writer != nil {
			stdOpts = append(stdOpts, stdouttrace.WithWriter(opts.Writer))
		}
		exporter, err = stdouttrace.New(stdOpts...)
	case ExporterOTLP:
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
		if opts.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, grpcOpts...)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", opts.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", opts.Exporter, err)
	}

	name := opts.ServiceName
	if name == "" {
		name = "thingdir"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", name),
		attribute.String("thingdir.node", opts.NodeName)))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("failed to shut down tracer provider", "error", err)
		}
	}, nil
}
