package tracing

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSecrets(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/ai/email"),
		attribute.String("api_key", "sk-123"),
		attribute.String("Authorization", "Bearer abc"),
	)
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attribute, got %d", len(attrs))
	}
	if attrs[0].Key != "http.route" {
		t.Fatalf("unexpected attribute %s", attrs[0].Key)
	}
}

func TestSafeErrorRedactsCredentials(t *testing.T) {
	err := SafeError(errors.New("GET https://maps.googleapis.com/maps/api/geocode/json?key=AIza failed"))
	if err.Error() != "redacted error" {
		t.Fatalf("expected redacted error, got %q", err.Error())
	}
	plain := errors.New("connection reset")
	if SafeError(plain) != plain {
		t.Fatalf("expected plain error to pass through")
	}
}
