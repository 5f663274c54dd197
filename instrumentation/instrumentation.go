package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "oauth2-stateless"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	// instrumentationPrefix prefixes every meter and tracer scope name
	instrumentationPrefix = "github.com/giantswarm/oauth2-stateless/"
)

// Metrics exporters understood by Config.MetricsExporter
const (
	ExporterNone       = "none"
	ExporterPrometheus = "prometheus"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, uses no-op providers (zero overhead).
	Enabled bool

	// MetricsExporter selects where metrics go: "prometheus" or "none".
	// Default: "none"
	MetricsExporter string

	// PrometheusRegisterer receives the prometheus exporter's collector.
	// Default: prometheus.DefaultRegisterer
	PrometheusRegisterer prometheus.Registerer

	// MetricReader overrides MetricsExporter with a caller-supplied reader
	MetricReader sdkmetric.Reader

	// SpanExporter receives finished spans in batches. When nil, spans are
	// still recorded (and carry valid IDs) but not exported.
	SpanExporter sdktrace.SpanExporter

	// Resource allows custom resource attributes.
	// If nil, a resource with service name and version is created.
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	// shutdownFuncs are registered during New only
	shutdownFuncs []func(context.Context) error
	flushFuncs    []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}
	if config.MetricsExporter == "" {
		config.MetricsExporter = ExporterNone
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	metrics, err := newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	inst.metrics = metrics

	return inst, nil
}

// initializeProviders wires the SDK meter and tracer providers
func (i *Instrumentation) initializeProviders() error {
	reader := i.config.MetricReader
	if reader == nil {
		switch i.config.MetricsExporter {
		case ExporterPrometheus:
			registerer := i.config.PrometheusRegisterer
			if registerer == nil {
				registerer = prometheus.DefaultRegisterer
			}
			exporter, err := otelprom.New(otelprom.WithRegisterer(registerer))
			if err != nil {
				return fmt.Errorf("failed to create prometheus exporter: %w", err)
			}
			reader = exporter
		case ExporterNone:
		default:
			return fmt.Errorf("unsupported metrics exporter %q", i.config.MetricsExporter)
		}
	}

	if reader != nil {
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(i.resource),
			sdkmetric.WithReader(reader),
		)
		i.meterProvider = mp
		i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)
		i.flushFuncs = append(i.flushFuncs, mp.ForceFlush)
	} else {
		i.meterProvider = noop.NewMeterProvider()
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(i.resource)}
	if i.config.SpanExporter != nil {
		opts = append(opts, sdktrace.WithBatcher(i.config.SpanExporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	i.tracerProvider = tp
	i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)
	i.flushFuncs = append(i.flushFuncs, tp.ForceFlush)

	return nil
}

// ForceFlush exports everything buffered so far
func (i *Instrumentation) ForceFlush(ctx context.Context) error {
	var errs []error
	for _, fn := range i.flushFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown gracefully shuts down all instrumentation providers.
// Only the first call has an effect.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		var errs []error
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		shutdownErr = errors.Join(errs...)
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope, e.g. "provider" or "storage"
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(instrumentationPrefix + scope)
}

// Tracer returns a named tracer for the given scope, e.g. "provider" or "storage"
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(instrumentationPrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// StorageSizeCallback is a function that returns the current size of a storage component
type StorageSizeCallback func() int64

// RegisterStorageSizeCallbacks reports live record counts for a backend.
// Nil callbacks are skipped.
func (i *Instrumentation) RegisterStorageSizeCallbacks(backend string, tokens, refreshTokens, codes, clients StorageSizeCallback) error {
	if i.meterProvider == nil {
		return fmt.Errorf("meter provider not initialized")
	}

	meter := i.Meter("storage")
	m := i.metrics

	_, err := meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			observe := func(gauge metric.Int64ObservableGauge, cb StorageSizeCallback) {
				if cb != nil {
					observer.ObserveInt64(gauge, cb(), metric.WithAttributes(backendAttr(backend)))
				}
			}
			observe(m.StorageTokensCount, tokens)
			observe(m.StorageRefreshTokensCount, refreshTokens)
			observe(m.StorageCodesCount, codes)
			observe(m.StorageClientsCount, clients)
			return nil
		},
		m.StorageTokensCount,
		m.StorageRefreshTokensCount,
		m.StorageCodesCount,
		m.StorageClientsCount,
	)

	return err
}
