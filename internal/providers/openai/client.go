package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
	"github.com/smallbiznis/leadforge/internal/config"
	providerdomain "github.com/smallbiznis/leadforge/internal/providers/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4o-mini"
	defaultTemperature = 0.7
	defaultMaxTokens   = 2000
)

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type Client struct {
	baseURL string
	model   string
	client  *http.Client
	log     *zap.Logger
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Completion struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func New(p Params) *Client {
	timeout := time.Duration(p.Cfg.ProviderTimeoutS) * time.Second
	return NewClient(p.Cfg.OpenAIBaseURL, p.Cfg.OpenAIModel, timeout, p.Log)
}

func NewClient(baseURL, model string, timeout time.Duration, log *zap.Logger) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		log:     log.Named("openai.client"),
	}
}

// Complete runs a chat completion with the given key.
func (c *Client) Complete(ctx context.Context, key string, messages []Message) (*Completion, error) {
	if len(messages) == 0 {
		return nil, providerdomain.ErrInvalidInput
	}
	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	var out chatResponse
	if err := c.do(ctx, http.MethodPost, "/chat/completions", key, payload, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, &providerdomain.UpstreamError{Kind: providerdomain.ErrUpstream, Status: "empty_choices"}
	}
	return &Completion{
		Content: out.Choices[0].Message.Content,
		Model:   out.Model,
		Usage:   out.Usage,
	}, nil
}

// ListModels is the cheapest authenticated call; used for key validation.
func (c *Client) ListModels(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodGet, "/models", key, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, key string, body []byte, out any) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return providerdomain.ErrMissingKey
	}

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		c.log.Debug("openai request rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("error_type", apiErr.Error.Type),
		)
		return &providerdomain.UpstreamError{
			Kind:    classifyStatus(resp.StatusCode),
			Status:  resp.Status,
			Message: strings.TrimSpace(apiErr.Error.Message),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &providerdomain.UpstreamError{Kind: providerdomain.ErrUpstream, Status: "invalid_response"}
	}
	return nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return providerdomain.ErrUnauthorized
	case status == http.StatusTooManyRequests:
		return providerdomain.ErrRateLimited
	case status == http.StatusBadRequest:
		return providerdomain.ErrInvalidInput
	default:
		return providerdomain.ErrUpstream
	}
}

// Validator checks a generation key against the models endpoint.
type Validator struct {
	client *Client
}

func NewValidator(client *Client) *Validator {
	return &Validator{client: client}
}

func (v *Validator) Provider() byokdomain.Provider { return byokdomain.ProviderGeneration }

func (v *Validator) Validate(ctx context.Context, key string) error {
	return v.client.ListModels(ctx, key)
}
