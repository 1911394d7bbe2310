package places

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
	providerdomain "github.com/smallbiznis/leadforge/internal/providers/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, zap.NewNop())
}

func TestNearbyPassesQueryAndKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/place/nearbysearch/json", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "-6.2,106.8", q.Get("location"))
		assert.Equal(t, "1500", q.Get("radius"))
		assert.Equal(t, "dentist", q.Get("keyword"))
		assert.Equal(t, "establishment", q.Get("type"))
		assert.Equal(t, "user-key", q.Get("key"))
		_, _ = w.Write([]byte(`{"status":"OK","results":[{"name":"Smile"}]}`))
	})

	body, err := client.Nearby(context.Background(), "user-key", NearbyRequest{
		Location: "-6.2,106.8",
		Radius:   "1500",
		Keyword:  "dentist",
	})
	require.NoError(t, err)
	assert.Contains(t, string(body), "Smile")
}

func TestNearbyRequiresParameters(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", time.Second, nil)
	_, err := client.Nearby(context.Background(), "key", NearbyRequest{Location: "1,1"})
	assert.ErrorIs(t, err, providerdomain.ErrInvalidInput)
}

func TestMissingKeyIsRejectedLocally(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", time.Second, nil)
	_, err := client.Geocode(context.Background(), "  ", "Jakarta")
	assert.ErrorIs(t, err, providerdomain.ErrMissingKey)
}

func TestRequestDeniedIsUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"REQUEST_DENIED","error_message":"The provided API key is invalid."}`))
	})

	_, err := client.Details(context.Background(), "bad", DetailsRequest{PlaceID: "abc"})
	require.Error(t, err)
	assert.True(t, providerdomain.IsUnauthorized(err))

	var upstream *providerdomain.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, "REQUEST_DENIED", upstream.Status)
	assert.Contains(t, upstream.Error(), "invalid")
}

func TestQuotaErrorsAreNotUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OVER_QUERY_LIMIT"}`))
	})

	_, err := client.Geocode(context.Background(), "key", "Jakarta")
	assert.ErrorIs(t, err, providerdomain.ErrRateLimited)
	assert.False(t, providerdomain.IsUnauthorized(err))
}

func TestHTTPFailureIsUpstream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.Geocode(context.Background(), "key", "Jakarta")
	assert.ErrorIs(t, err, providerdomain.ErrUpstream)
}

func TestValidator(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") == "good" {
			_, _ = w.Write([]byte(`{"status":"OK","results":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"REQUEST_DENIED"}`))
	})
	v := NewValidator(client)

	assert.Equal(t, byokdomain.ProviderPlaces, v.Provider())
	assert.NoError(t, v.Validate(context.Background(), "good"))
	assert.ErrorIs(t, v.Validate(context.Background(), "bad"), providerdomain.ErrUnauthorized)
}
