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

// Metrics exposes application-level instruments.
type Metrics struct {
	debits            metric.Int64Counter
	creditsDebited    metric.Int64Counter
	credits           metric.Int64Counter
	creditsGranted    metric.Int64Counter
	byokInvalidations metric.Int64Counter
	providerCalls     metric.Int64Counter
	rateLimitAllowed  metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
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

// New registers the credit, BYOK and provider instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "leadforge"
	}
	b := counterBuilder{meter: provider.Meter(name)}

	m := &Metrics{
		debits:            b.counter("leadforge_debits_total", "Debit attempts by action and outcome."),
		creditsDebited:    b.counter("leadforge_credits_debited_total", "Credits removed from wallets."),
		credits:           b.counter("leadforge_credits_total", "Balance increases by source action."),
		creditsGranted:    b.counter("leadforge_credits_granted_total", "Credits added to wallets."),
		byokInvalidations: b.counter("leadforge_byok_invalidations_total", "BYOK wallets forced back to credits."),
		providerCalls:     b.counter("leadforge_provider_calls_total", "Upstream provider calls."),
		rateLimitAllowed:  b.counter("leadforge_rate_limit_allowed_total", "Actions admitted by the limiter."),
		rateLimitDenied:   b.counter("leadforge_rate_limit_denied_total", "Actions rejected by the limiter."),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// counterBuilder keeps the first instrument error so New reads as a table.
type counterBuilder struct {
	meter metric.Meter
	err   error
}

func (b *counterBuilder) counter(name, description string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("metric %s: %w", name, err)
	}
	return c
}

// RecordDebit counts debit decisions and the credits they removed.
func (m *Metrics) RecordDebit(ctx context.Context, actionType, outcome string, amount int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("action_type", strings.TrimSpace(actionType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.debits.Add(ctx, 1, metric.WithAttributes(attrs...))
	if amount > 0 {
		m.creditsDebited.Add(ctx, amount, metric.WithAttributes(attrs...))
	}
}

// RecordCredit counts balance increases by source action.
func (m *Metrics) RecordCredit(ctx context.Context, actionType string, amount int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("action_type", strings.TrimSpace(actionType)))
	m.credits.Add(ctx, 1, metric.WithAttributes(attrs...))
	if amount > 0 {
		m.creditsGranted.Add(ctx, amount, metric.WithAttributes(attrs...))
	}
}

// RecordByokInvalidation counts forced BYOK disables.
func (m *Metrics) RecordByokInvalidation(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.byokInvalidations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordProviderCall counts upstream provider calls by credential source and status.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, source, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.providerCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, actionType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("action_type", strings.TrimSpace(actionType)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, actionType, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("action_type", strings.TrimSpace(actionType)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"action_type": {},
	"outcome":     {},
	"provider":    {},
	"source":      {},
	"status":      {},
	"reason":      {},
	"endpoint":    {},
	"status_code": {},
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
