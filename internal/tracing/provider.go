package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Exporter names accepted by Init.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

type Options struct {
	// Exporter is otlp, stdout or none. Empty picks otlp when Endpoint is
	// set and none otherwise.
	Exporter string
	// Endpoint is the OTLP/HTTP collector, host:port or a full URL.
	Endpoint string

	writer io.Writer
}

// Init registers an SDK tracer provider for serviceName as the global
// provider and installs the propagator. With the none exporter spans are
// still recorded and sampled but never leave the process. Callers must Shutdown
// the returned provider on exit to flush pending spans.
func Init(ctx context.Context, serviceName string, opts Options) (*sdktrace.TracerProvider, error) {
	exporter, err := newExporter(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("init %s trace exporter: %w", opts.Exporter, err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTracerProvider(tp)
	InstallPropagator()
	return tp, nil
}

func newExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	kind := strings.ToLower(strings.TrimSpace(opts.Exporter))
	if kind == "" {
		kind = ExporterNone
		if opts.Endpoint != "" {
			kind = ExporterOTLP
		}
	}

	switch kind {
	case ExporterNone:
		return nil, nil
	case ExporterStdout:
		w := opts.writer
		if w == nil {
			w = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case ExporterOTLP:
		var httpOpts []otlptracehttp.Option
		switch {
		case strings.Contains(opts.Endpoint, "://"):
			httpOpts = append(httpOpts, otlptracehttp.WithEndpointURL(opts.Endpoint))
		case opts.Endpoint != "":
			httpOpts = append(httpOpts, otlptracehttp.WithEndpoint(opts.Endpoint), otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, httpOpts...)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", opts.Exporter)
	}
}
