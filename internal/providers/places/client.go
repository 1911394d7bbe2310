package places

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
	"github.com/smallbiznis/leadforge/internal/config"
	providerdomain "github.com/smallbiznis/leadforge/internal/providers/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://maps.googleapis.com/maps/api"
	defaultType    = "establishment"
	defaultFields  = "formatted_phone_number,website,rating,user_ratings_total,url"

	validationAddress = "1600 Amphitheatre Parkway, Mountain View, CA"
)

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

// Client talks to the Google Maps web services. Every call takes the key to
// use so the caller decides between a user key and the system key.
type Client struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

type NearbyRequest struct {
	Location string `form:"location" json:"location"`
	Radius   string `form:"radius" json:"radius"`
	Keyword  string `form:"keyword" json:"keyword"`
	Type     string `form:"type" json:"type"`
}

// MissingField names the first required parameter left blank, or "".
func (r NearbyRequest) MissingField() string {
	switch {
	case strings.TrimSpace(r.Location) == "":
		return "location"
	case strings.TrimSpace(r.Radius) == "":
		return "radius"
	case strings.TrimSpace(r.Keyword) == "":
		return "keyword"
	}
	return ""
}

type DetailsRequest struct {
	PlaceID string `form:"place_id" json:"place_id"`
	Fields  string `form:"fields" json:"fields"`
}

type envelope struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

func New(p Params) *Client {
	timeout := time.Duration(p.Cfg.ProviderTimeoutS) * time.Second
	return NewClient(p.Cfg.PlacesBaseURL, timeout, p.Log)
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log.Named("places.client"),
	}
}

// Nearby runs a nearby search and returns the upstream JSON untouched.
func (c *Client) Nearby(ctx context.Context, key string, req NearbyRequest) (json.RawMessage, error) {
	if req.MissingField() != "" {
		return nil, providerdomain.ErrInvalidInput
	}
	placeType := strings.TrimSpace(req.Type)
	if placeType == "" {
		placeType = defaultType
	}
	values := url.Values{}
	values.Set("location", req.Location)
	values.Set("radius", req.Radius)
	values.Set("keyword", req.Keyword)
	values.Set("type", placeType)
	return c.get(ctx, "/place/nearbysearch/json", key, values)
}

func (c *Client) Details(ctx context.Context, key string, req DetailsRequest) (json.RawMessage, error) {
	if strings.TrimSpace(req.PlaceID) == "" {
		return nil, providerdomain.ErrInvalidInput
	}
	fields := strings.TrimSpace(req.Fields)
	if fields == "" {
		fields = defaultFields
	}
	values := url.Values{}
	values.Set("place_id", req.PlaceID)
	values.Set("fields", fields)
	return c.get(ctx, "/place/details/json", key, values)
}

func (c *Client) Geocode(ctx context.Context, key string, address string) (json.RawMessage, error) {
	if strings.TrimSpace(address) == "" {
		return nil, providerdomain.ErrInvalidInput
	}
	values := url.Values{}
	values.Set("address", address)
	return c.get(ctx, "/geocode/json", key, values)
}

func (c *Client) get(ctx context.Context, path string, key string, values url.Values) (json.RawMessage, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, providerdomain.ErrMissingKey
	}
	values.Set("key", key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &providerdomain.UpstreamError{Kind: providerdomain.ErrUpstream, Status: resp.Status}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &providerdomain.UpstreamError{Kind: providerdomain.ErrUpstream, Status: resp.Status}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &providerdomain.UpstreamError{Kind: providerdomain.ErrUpstream, Status: "invalid_response"}
	}
	if err := classifyStatus(env); err != nil {
		c.log.Debug("places request rejected",
			zap.String("path", path),
			zap.String("status", env.Status),
		)
		return nil, err
	}
	return body, nil
}

func classifyStatus(env envelope) error {
	switch env.Status {
	case "OK", "ZERO_RESULTS", "":
		return nil
	case "REQUEST_DENIED":
		return &providerdomain.UpstreamError{Kind: providerdomain.ErrUnauthorized, Status: env.Status, Message: env.ErrorMessage}
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT":
		return &providerdomain.UpstreamError{Kind: providerdomain.ErrRateLimited, Status: env.Status, Message: env.ErrorMessage}
	case "INVALID_REQUEST", "NOT_FOUND":
		return &providerdomain.UpstreamError{Kind: providerdomain.ErrInvalidInput, Status: env.Status, Message: env.ErrorMessage}
	default:
		return &providerdomain.UpstreamError{Kind: providerdomain.ErrUpstream, Status: env.Status, Message: env.ErrorMessage}
	}
}

// Validator checks a places key with a cheap geocode call.
type Validator struct {
	client *Client
}

func NewValidator(client *Client) *Validator {
	return &Validator{client: client}
}

func (v *Validator) Provider() byokdomain.Provider { return byokdomain.ProviderPlaces }

func (v *Validator) Validate(ctx context.Context, key string) error {
	_, err := v.client.Geocode(ctx, key, validationAddress)
	return err
}
