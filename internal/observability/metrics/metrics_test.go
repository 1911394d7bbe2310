package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("action_type", "ai_email"),
		attribute.String("user_id", "c0ffee"),
		attribute.String("outcome", "charged"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "user_id" {
			t.Fatalf("expected user_id to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordDebit(context.Background(), "google_search", "charged", 10)
	m.RecordCredit(context.Background(), "purchase", 100)
	m.RecordByokInvalidation(context.Background(), "provider_rejected")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "leadforge"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordDebit(context.Background(), "google_search", "exempt", 0)
	m.RecordProviderCall(context.Background(), "places", "system", "ok")
}

func TestRecordDebitCountsCredits(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	m, err := New(Config{}, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	m.RecordDebit(ctx, "google_search", "charged", 10)
	m.RecordDebit(ctx, "google_search", "charged", 10)
	m.RecordDebit(ctx, "google_search", "exempt", 0)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	var debited int64
	for _, scope := range rm.ScopeMetrics {
		for _, inst := range scope.Metrics {
			if inst.Name != "leadforge_credits_debited_total" {
				continue
			}
			sum, ok := inst.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", inst.Data)
			}
			for _, dp := range sum.DataPoints {
				debited += dp.Value
			}
		}
	}
	if debited != 20 {
		t.Fatalf("expected 20 credits debited, got %d", debited)
	}
}
