package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ThomasTBO/rsr-sea-ice/internal/logging"
)

const tracerName = "github.com/ThomasTBO/rsr-sea-ice"

// Span attribute keys of pipeline work units.
const (
	AttrUnitKind = attribute.Key("seaice.unit.kind")
	AttrUnitID   = attribute.Key("seaice.unit.id")
)

// TracingConfig selects the span exporter. Tracing is off unless Enabled.
type TracingConfig struct {
	Enabled     bool
	ServiceName string    // default rsr-sea-ice
	Exporter    string    // stdout (default) or otlp
	Endpoint    string    // otlp collector, default localhost:4317
	SampleRatio float64   // in [0, 1], default 1
	Output      io.Writer // stdout exporter destination, default os.Stderr
}

// TracingConfigFromEnv reads RSR_TRACING_ENABLED, RSR_TRACING_EXPORTER,
// RSR_TRACING_SERVICE_NAME, RSR_TRACING_SAMPLE_RATIO and RSR_OTLP_ENDPOINT.
// Invalid ratios are ignored.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(os.Getenv("RSR_TRACING_ENABLED"), "true"),
		ServiceName: os.Getenv("RSR_TRACING_SERVICE_NAME"),
		Exporter:    strings.ToLower(os.Getenv("RSR_TRACING_EXPORTER")),
		Endpoint:    os.Getenv("RSR_OTLP_ENDPOINT"),
		SampleRatio: 1,
	}
	if r, err := strconv.ParseFloat(os.Getenv("RSR_TRACING_SAMPLE_RATIO"), 64); err == nil && r >= 0 && r <= 1 {
		cfg.SampleRatio = r
	}
	return cfg.withDefaults()
}

func (c TracingConfig) withDefaults() TracingConfig {
	if c.ServiceName == "" {
		c.ServiceName = "rsr-sea-ice"
	}
	if c.Exporter == "" {
		c.Exporter = "stdout"
	}
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
	if c.Output == nil {
		c.Output = os.Stderr
	}
	return c
}

// InitTracing installs the global tracer provider and returns its shutdown
// function, which flushes pending spans. When tracing is disabled a noop
// provider is installed and the shutdown function does nothing.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}
	cfg = cfg.withDefaults()

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "seaice"),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service", cfg.ServiceName),
		logging.Float("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(cfg.Output), stdouttrace.WithoutTimestamps())
	case "otlp", "otlpgrpc":
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes spans within five seconds. Failures are only
// logged.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil && log != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}

// Tracer returns the pipeline tracer of the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span around one unit of work: a download batch, a
// product file or a fit partition.
func StartSpan(ctx context.Context, name, unitKind, unitID string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := append([]attribute.KeyValue{AttrUnitKind.String(unitKind), AttrUnitID.String(unitID)}, extra...)
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan marks span failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
