package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ThomasTBO/rsr-sea-ice/internal/logging"
)

func TestTracingConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("RSR_TRACING_ENABLED", "")
	t.Setenv("RSR_TRACING_EXPORTER", "")
	t.Setenv("RSR_TRACING_SERVICE_NAME", "")
	t.Setenv("RSR_TRACING_SAMPLE_RATIO", "7")

	cfg := TracingConfigFromEnv()
	if cfg.Enabled {
		t.Fatalf("Enabled = true, want false by default")
	}
	if cfg.Exporter != "stdout" || cfg.ServiceName != "rsr-sea-ice" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("SampleRatio = %v, want out-of-range value ignored", cfg.SampleRatio)
	}
}

func TestInitTracingDisabledReturnsNoopShutdown(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	_, span := Tracer().Start(context.Background(), "probe")
	span.End()
}

func TestInitTracingStdoutFlushesOnShutdown(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Output: &buf}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	_, span := StartSpan(context.Background(), "psep.file", "file", "CS_OFFL_SIR_SAR_1B.nc")
	EndSpan(span, nil)
	ShutdownWithTimeout(context.Background(), shutdown, logging.Noop())

	if !strings.Contains(buf.String(), "psep.file") || !strings.Contains(buf.String(), "CS_OFFL_SIR_SAR_1B.nc") {
		t.Fatalf("exported spans = %q", buf.String())
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if err == nil {
		t.Fatalf("InitTracing() error = nil, want unsupported exporter error")
	}
}

func TestStartSpanRecordsAttributesAndError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartSpan(context.Background(), "psep.batch", "batch", "0_50")
	EndSpan(span, errors.New("boom"))

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	got := ended[0]
	if got.Name() != "psep.batch" {
		t.Fatalf("span name = %q", got.Name())
	}
	if got.Status().Code != codes.Error {
		t.Fatalf("span status = %v, want Error", got.Status().Code)
	}
	found := false
	for _, kv := range got.Attributes() {
		if kv.Key == AttrUnitID && kv.Value.AsString() == "0_50" {
			found = true
		}
	}
	if !found {
		t.Fatalf("unit id attribute missing: %v", got.Attributes())
	}
}
