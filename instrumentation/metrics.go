package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments
type Metrics struct {
	// Dispatch
	RequestsTotal   metric.Int64Counter
	RequestDuration metric.Float64Histogram

	// Grants
	TokensIssued    metric.Int64Counter
	TokensRefreshed metric.Int64Counter
	TokensRevoked   metric.Int64Counter
	CodesIssued     metric.Int64Counter
	GrantErrors     metric.Int64Counter

	// Storage
	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	StorageTokensCount        metric.Int64ObservableGauge
	StorageRefreshTokensCount metric.Int64ObservableGauge
	StorageCodesCount         metric.Int64ObservableGauge
	StorageClientsCount       metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	providerMeter := inst.Meter("provider")
	storageMeter := inst.Meter("storage")

	m := &Metrics{}
	var err error

	counters := []struct {
		dst   *metric.Int64Counter
		meter metric.Meter
		name  string
		desc  string
		unit  string
	}{
		{&m.RequestsTotal, providerMeter, "oauth.requests.total", "Total number of dispatched requests", "{request}"},
		{&m.TokensIssued, providerMeter, "oauth.tokens.issued", "Number of access tokens issued", "{token}"},
		{&m.TokensRefreshed, providerMeter, "oauth.tokens.refreshed", "Number of refresh token exchanges", "{refresh}"},
		{&m.TokensRevoked, providerMeter, "oauth.tokens.revoked", "Number of revoked refresh tokens", "{revocation}"},
		{&m.CodesIssued, providerMeter, "oauth.codes.issued", "Number of authorization codes issued", "{code}"},
		{&m.GrantErrors, providerMeter, "oauth.errors", "Number of OAuth error responses", "{error}"},
		{&m.StorageOperationTotal, storageMeter, "storage.operation.total", "Total number of storage operations", "{operation}"},
	}
	for _, c := range counters {
		*c.dst, err = c.meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.RequestDuration, err = providerMeter.Float64Histogram(
		"oauth.request.duration",
		metric.WithDescription("Dispatch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	gauges := []struct {
		dst  *metric.Int64ObservableGauge
		name string
		desc string
	}{
		{&m.StorageTokensCount, "storage.tokens.count", "Number of stored access tokens"},
		{&m.StorageRefreshTokensCount, "storage.refresh_tokens.count", "Number of stored refresh tokens"},
		{&m.StorageCodesCount, "storage.codes.count", "Number of pending authorization codes"},
		{&m.StorageClientsCount, "storage.clients.count", "Number of registered clients"},
	}
	for _, g := range gauges {
		*g.dst, err = storageMeter.Int64ObservableGauge(g.name, metric.WithDescription(g.desc), metric.WithUnit("{item}"))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gauge: %w", g.name, err)
		}
	}

	return m, nil
}

// RecordRequest records a dispatched request
func (m *Metrics) RecordRequest(ctx context.Context, endpoint string, status int, durationMs float64) {
	m.RequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.Int("status", status),
	))
	m.RequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordTokenIssued records an issued access token
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string, withRefresh bool) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.Bool("refresh_token", withRefresh),
	))
}

// RecordTokenRefreshed records a refresh token exchange
func (m *Metrics) RecordTokenRefreshed(ctx context.Context, rotated bool) {
	m.TokensRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("rotated", rotated),
	))
}

// RecordTokenRevoked records a revoked refresh token
func (m *Metrics) RecordTokenRevoked(ctx context.Context) {
	m.TokensRevoked.Add(ctx, 1)
}

// RecordCodeIssued records an issued authorization code
func (m *Metrics) RecordCodeIssued(ctx context.Context) {
	m.CodesIssued.Add(ctx, 1)
}

// RecordError records an OAuth error response
func (m *Metrics) RecordError(ctx context.Context, endpoint, code string) {
	m.GrantErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("error", code),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, backend, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		backendAttr(backend),
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		backendAttr(backend),
		attribute.String("operation", operation),
	))
}

func backendAttr(backend string) attribute.KeyValue {
	return attribute.String("backend", backend)
}
