package instrumentation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
//
// SECURITY WARNING: never put token, refresh token, code or secret values on
// spans. Only metadata such as grant types, client IDs and results.
const (
	AttrClientID     = "oauth.client_id"
	AttrUserID       = "oauth.user_id"
	AttrScope        = "oauth.scope"
	AttrGrantType    = "oauth.grant_type"
	AttrResponseType = "oauth.response_type"
	AttrTokenType    = "oauth.token_type" //nolint:gosec // token kind, not a token
	AttrTokenRotated = "oauth.token.rotated"
	AttrTokenReused  = "oauth.token.reused"
	AttrError        = "oauth.error"

	AttrStorageBackend   = "storage.backend"
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"

	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span without recording an
// exception, for protocol errors that are not failures of the server
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddOAuthFlowAttributes adds common OAuth flow attributes to a span, skipping empty values
func AddOAuthFlowAttributes(span trace.Span, clientID, userID, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// StorageOp traces and meters a single storage call. A nil Instrumentation
// yields a no-op.
type StorageOp struct {
	inst      *Instrumentation
	span      trace.Span
	backend   string
	operation string
	start     time.Time
}

// StartStorageOp begins a storage span named "storage.<operation>"
func StartStorageOp(ctx context.Context, inst *Instrumentation, backend, operation string) (context.Context, *StorageOp) {
	op := &StorageOp{inst: inst, backend: backend, operation: operation, start: time.Now()}
	if inst == nil {
		return ctx, op
	}
	ctx, op.span = inst.Tracer("storage").Start(ctx, "storage."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrStorageBackend, backend),
			attribute.String(AttrStorageOperation, operation),
		))
	return ctx, op
}

// End finishes the span and records the operation. notFound errors are
// reported as a "not_found" result rather than a failure.
func (op *StorageOp) End(ctx context.Context, err error, notFound bool) {
	if op.inst == nil {
		return
	}
	defer op.span.End()

	result := "success"
	switch {
	case err != nil && notFound:
		result = "not_found"
		SetSpanSuccess(op.span)
	case err != nil:
		result = "error"
		RecordError(op.span, err)
	default:
		SetSpanSuccess(op.span)
	}
	SetSpanAttributes(op.span, attribute.String(AttrStorageResult, result))

	durationMs := float64(time.Since(op.start).Microseconds()) / 1000
	op.inst.Metrics().RecordStorageOperation(ctx, op.backend, op.operation, result, durationMs)
}
