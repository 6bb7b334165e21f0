package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// W3C Trace Context (https://www.w3.org/TR/trace-context/) travels in
// the traceparent and tracestate headers. The gateway extracts it from
// inbound requests and injects it into the rewritten upstream request,
// so a trace spans client, gateway, and backend.

// Extract returns a context carrying any trace context found in the
// request headers. With no traceparent present, ctx is returned as-is.
func Extract(ctx context.Context, headers http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(headers))
}

// Inject writes the active trace context from ctx into headers, for
// requests leaving the gateway.
func Inject(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
