package tracing_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/loadcurve/internal/config"
	"github.com/torosent/loadcurve/internal/tracing"
)

// recordingProvider returns a Provider whose spans land in memory.
func recordingProvider(t *testing.T, propagate bool) (*tracing.Provider, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	p := tracing.New(sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)), propagate)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, exporter
}

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	out := make(map[string]attribute.Value, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value
	}
	return out
}

func TestInit(t *testing.T) {
	off := false
	tests := []struct {
		name          string
		cfg           config.TracingConfig
		envEndpoint   string
		wantErr       string
		wantSampled   bool
		wantPropagate bool
	}{
		{name: "no endpoint is a no-op", cfg: config.TracingConfig{Protocol: "grpc", SampleRate: 1}},
		{
			name:          "grpc collector",
			cfg:           config.TracingConfig{Endpoint: "localhost:4317", Protocol: "grpc", SampleRate: 1, Insecure: true},
			wantSampled:   true,
			wantPropagate: true,
		},
		{
			name:          "http collector",
			cfg:           config.TracingConfig{Endpoint: "localhost:4318", Protocol: "HTTP", SampleRate: 1, Insecure: true},
			wantSampled:   true,
			wantPropagate: true,
		},
		{
			name:          "endpoint from environment",
			cfg:           config.TracingConfig{SampleRate: 1, Insecure: true},
			envEndpoint:   "localhost:4317",
			wantSampled:   true,
			wantPropagate: true,
		},
		{
			name:          "zero sample rate still propagates",
			cfg:           config.TracingConfig{Endpoint: "localhost:4317", SampleRate: 0, Insecure: true},
			wantPropagate: true,
		},
		{
			name:        "propagation switched off",
			cfg:         config.TracingConfig{Endpoint: "localhost:4317", SampleRate: 1, Insecure: true, Propagate: &off},
			wantSampled: true,
		},
		{name: "unknown protocol", cfg: config.TracingConfig{Endpoint: "localhost:4317", Protocol: "zipkin", SampleRate: 1}, wantErr: "zipkin"},
		{name: "negative sample rate", cfg: config.TracingConfig{Endpoint: "localhost:4317", SampleRate: -0.5}, wantErr: "sample_rate"},
		{name: "sample rate above one", cfg: config.TracingConfig{Endpoint: "localhost:4317", SampleRate: 1.5}, wantErr: "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", tt.envEndpoint)

			p, err := tracing.Init(context.Background(), tt.cfg, "01HRUNID")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Init() error = %v, want it to mention %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			t.Cleanup(func() {
				// Nothing listens on the collector address; don't wait out retries.
				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer cancel()
				_ = p.Shutdown(ctx)
			})

			_, span := p.Tracer().Start(context.Background(), "tick")
			defer span.End()
			if got := span.SpanContext().IsSampled(); got != tt.wantSampled {
				t.Errorf("span sampled = %v, want %v", got, tt.wantSampled)
			}
			if got := p.ShouldPropagate(); got != tt.wantPropagate {
				t.Errorf("ShouldPropagate() = %v, want %v", got, tt.wantPropagate)
			}
		})
	}
}

func TestZeroProviderIsUsable(t *testing.T) {
	for name, p := range map[string]*tracing.Provider{"nil": nil, "empty": {}} {
		t.Run(name, func(t *testing.T) {
			if p.ShouldPropagate() {
				t.Error("ShouldPropagate() = true")
			}
			if err := p.Shutdown(context.Background()); err != nil {
				t.Errorf("Shutdown() error = %v", err)
			}
			_, span := tracing.StartRequestSpan(context.Background(), p.Tracer(), "inference", "")
			tracing.EndSpan(span, nil)
		})
	}
}

func TestStatusPollSpan(t *testing.T) {
	p, exporter := recordingProvider(t, false)

	_, span := tracing.StartRequestSpan(context.Background(), p.Tracer(), "status", "http://localhost:9000/workers/_status")
	tracing.EndSpan(span, errors.New("http status 404"), attribute.Int("loadcurve.busy_workers", 0))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "loadcurve status" || got.SpanKind != trace.SpanKindClient {
		t.Errorf("span = %q kind %v, want client span loadcurve status", got.Name, got.SpanKind)
	}
	attrs := attrMap(got.Attributes)
	if attrs["loadcurve.operation"].AsString() != "status" {
		t.Errorf("loadcurve.operation = %v", attrs["loadcurve.operation"])
	}
	if attrs["url.full"].AsString() != "http://localhost:9000/workers/_status" {
		t.Errorf("url.full = %v", attrs["url.full"])
	}
	if v, ok := attrs["loadcurve.busy_workers"]; !ok || v.AsInt64() != 0 {
		t.Errorf("loadcurve.busy_workers = %v, %v", v, ok)
	}
	if got.Status.Code != codes.Error || got.Status.Description != "http status 404" {
		t.Errorf("status = %+v, want error with message", got.Status)
	}
	if len(got.Events) != 1 || got.Events[0].Name != "exception" {
		t.Errorf("expected one exception event, got %+v", got.Events)
	}
}

func TestInferenceSpanSucceeds(t *testing.T) {
	p, exporter := recordingProvider(t, true)

	_, span := tracing.StartRequestSpan(context.Background(), p.Tracer(), "inference", "http://localhost:9000/inference")
	tracing.EndSpan(span, nil, attribute.Float64("loadcurve.overhead_ms", 3.5))

	got := exporter.GetSpans()[0]
	if got.Status.Code != codes.Ok {
		t.Errorf("status = %v, want Ok", got.Status.Code)
	}
	if v := attrMap(got.Attributes)["loadcurve.overhead_ms"]; v.AsFloat64() != 3.5 {
		t.Errorf("loadcurve.overhead_ms = %v", v)
	}
}

func TestInjectHTTPHeadersCarriesRequestSpan(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	p, _ := recordingProvider(t, true)

	ctx, span := tracing.StartRequestSpan(context.Background(), p.Tracer(), "inference", "")
	defer span.End()

	headers := http.Header{}
	tracing.InjectHTTPHeaders(ctx, headers)
	traceID := span.SpanContext().TraceID().String()
	if got := headers.Get("Traceparent"); !strings.Contains(got, traceID) {
		t.Errorf("traceparent = %q, want trace id %s", got, traceID)
	}

	bare := http.Header{}
	tracing.InjectHTTPHeaders(context.Background(), bare)
	if got := bare.Get("Traceparent"); got != "" {
		t.Errorf("traceparent without a span = %q, want empty", got)
	}
}
