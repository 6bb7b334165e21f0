package tracing

import (
	"context"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"ntonix-ai/ntonix/pkg/config"
)

func TestNewDisabledIsNoop(t *testing.T) {
	tracer, err := New(context.Background(), config.TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if tracer.Enabled() {
		t.Error("Enabled() = true for disabled config")
	}

	ctx, span := tracer.Start(context.Background(), "op")
	defer span.End()

	if span.SpanContext().IsValid() {
		t.Error("disabled tracer produced a recording span")
	}
	if ctx == nil {
		t.Error("Start() returned nil context")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		ratio    float64
		wantErr  bool
	}{
		{"always", SamplerAlways, 0, false},
		{"never", SamplerNever, 0, false},
		{"ratio", SamplerRatio, 0.5, false},
		{"ratio zero", SamplerRatio, 0, false},
		{"ratio too high", SamplerRatio, 1.5, true},
		{"ratio negative", SamplerRatio, -0.1, true},
		{"unknown", "sometimes", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sampler, err := createSampler(tt.strategy, tt.ratio)
			if (err != nil) != tt.wantErr {
				t.Fatalf("createSampler() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && sampler == nil {
				t.Error("createSampler() returned nil sampler")
			}
		})
	}
}

func TestExtractInjectRoundTrip(t *testing.T) {
	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
		_ = tp.Shutdown(context.Background())
	})

	ctx, span := tp.Tracer("test").Start(context.Background(), "origin")
	defer span.End()

	headers := make(http.Header)
	Inject(ctx, headers)

	if headers.Get("Traceparent") == "" {
		t.Fatal("Inject() wrote no traceparent header")
	}

	extracted := Extract(context.Background(), headers)
	got := trace.SpanContextFromContext(extracted)
	if got.TraceID() != span.SpanContext().TraceID() {
		t.Errorf("extracted trace id %s, want %s", got.TraceID(), span.SpanContext().TraceID())
	}
}
