package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes points engine instruments.
type Metrics struct {
	deductions       metric.Int64Counter
	pointsCharged    metric.Int64Counter
	warnings         metric.Int64Counter
	ledgerEntries    metric.Int64Counter
	retries          metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	jobRuns          metric.Int64Counter
	jobDuration      metric.Float64Histogram
	ledgerDrift      metric.Int64Counter
	scopesExpired    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "edupoints"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.deductions, "edupoints_deductions_total", "Deduction attempts by outcome."},
		{&m.pointsCharged, "edupoints_points_charged_total", "Points charged to billing scopes."},
		{&m.warnings, "edupoints_overage_warnings_total", "Deductions admitted into the overage buffer."},
		{&m.ledgerEntries, "edupoints_ledger_entries_total", "Ledger entries appended by kind."},
		{&m.retries, "edupoints_deduction_retries_total", "Deduction transactions retried after a transient failure."},
		{&m.rateLimitAllowed, "edupoints_rate_limit_allowed_total", "Requests allowed by the rate limiter."},
		{&m.rateLimitDenied, "edupoints_rate_limit_denied_total", "Requests denied by the rate limiter."},
		{&m.jobRuns, "edupoints_scheduler_job_runs_total", "Scheduler job runs by outcome."},
		{&m.ledgerDrift, "edupoints_ledger_drift_scopes_total", "Scopes whose consumption disagrees with their ledger."},
		{&m.scopesExpired, "edupoints_scopes_expired_total", "Scopes deactivated after their period ended."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}

	duration, err := meter.Float64Histogram("edupoints_scheduler_job_duration_seconds",
		metric.WithDescription("Scheduler job duration."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	m.jobDuration = duration

	return m, nil
}

// RecordDeduction counts a deduction attempt and, when admitted, its charge.
func (m *Metrics) RecordDeduction(ctx context.Context, scopeType, outcome, reason string, points int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("scope_type", strings.TrimSpace(scopeType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.deductions.Add(ctx, 1, metric.WithAttributes(attrs...))
	if points > 0 {
		m.pointsCharged.Add(ctx, points, metric.WithAttributes(FilterAttributes(
			attribute.String("scope_type", strings.TrimSpace(scopeType)),
		)...))
	}
}

func (m *Metrics) RecordWarning(ctx context.Context, scopeType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("scope_type", strings.TrimSpace(scopeType)))
	m.warnings.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerEntry increments ledger entry counts.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRetry(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.retries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordJob counts a scheduler job run and observes its duration.
func (m *Metrics) RecordJob(ctx context.Context, job, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("job", strings.TrimSpace(job)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.jobRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.jobDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(FilterAttributes(
		attribute.String("job", strings.TrimSpace(job)),
	)...))
}

func (m *Metrics) RecordLedgerDrift(ctx context.Context, scopeType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("scope_type", strings.TrimSpace(scopeType)))
	m.ledgerDrift.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordScopesExpired(ctx context.Context, scopeType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("scope_type", strings.TrimSpace(scopeType)))
	m.scopesExpired.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Scope and actor ids are deliberately absent: they are unbounded.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"scope_type":  {},
	"outcome":     {},
	"reason":      {},
	"kind":        {},
	"endpoint":    {},
	"status_code": {},
	"job":         {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
