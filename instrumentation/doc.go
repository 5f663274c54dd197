// Package instrumentation provides OpenTelemetry instrumentation for the
// OAuth2 engine and its storage backends.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:     "my-oauth-service",
//		ServiceVersion:  "1.0.0",
//		Enabled:         true,
//		MetricsExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	http.Handle("/metrics", promhttp.Handler())
//
// When Enabled is false every provider is a no-op.
//
// # Available Metrics
//
// Provider:
//   - oauth.requests.total{endpoint, status}
//   - oauth.request.duration{endpoint}
//   - oauth.tokens.issued{grant_type, refresh_token}
//   - oauth.tokens.refreshed{rotated}
//   - oauth.tokens.revoked
//   - oauth.codes.issued
//   - oauth.errors{endpoint, error}
//
// Storage:
//   - storage.operation.total{backend, operation, result}
//   - storage.operation.duration{backend, operation}
//   - storage.tokens.count, storage.refresh_tokens.count,
//     storage.codes.count, storage.clients.count {backend}
//
// # Traces
//
// Provider.Dispatch opens an "oauth.dispatch" span per request; storage
// backends open "storage.<operation>" child spans through StartStorageOp.
// Credential values are never attached to spans.
package instrumentation
