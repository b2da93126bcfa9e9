package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"openrouter-proxy/internal/domain"
	"openrouter-proxy/internal/jsonextract"
)

const (
	DefaultModel         = "deepseek/deepseek-chat-v3-0324:free"
	DefaultCompletionURL = "https://openrouter.ai/api/v1/chat/completions"
	DefaultCreditsURL    = "https://openrouter.ai/api/v1/credits"
	DefaultProvidersURL  = "https://openrouter.ai/api/v1/providers"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4096
	maxBody        = 1 << 20
)

// Operation names used in logs and metrics.
const (
	OpGenerate              = "generate"
	OpSendMessage           = "send_message"
	OpSendStructured        = "send_structured"
	OpSendHistory           = "send_history"
	OpSendStructuredHistory = "send_structured_history"
	OpAccountCredits        = "account_credits"
	OpListProviders         = "list_providers"
)

// chatRequest is the request shape for the chat completions endpoint.
type chatRequest struct {
	Model          string               `json:"model"`
	Messages       []domain.ChatMessage `json:"messages"`
	MaxTokens      int                  `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat      `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string                `json:"type"`
	JSONSchema domain.ResponseSchema `json:"json_schema"`
}

// chatResponse is the minimal response shape needed to read the first reply.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Config is the static upstream configuration. It is read once at startup.
type Config struct {
	APIKey            string
	Model             string
	MaxTokens         int
	GenerateMaxTokens int
	CompletionURL     string
	CreditsURL        string
	ProvidersURL      string
	Timeout           time.Duration
}

// Logger is the logging capability used for upstream failures.
// *slog.Logger satisfies it.
type Logger interface {
	Log(ctx context.Context, level slog.Level, msg string, args ...any)
}

// Observer receives the outcome of every upstream call.
type Observer interface {
	ObserveUpstream(operation string, ok bool, elapsed time.Duration)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openrouter: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is the completion gateway for OpenRouter. Every method issues exactly
// one HTTP request and never retries.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     Logger
	observer   Observer
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// NewClient validates cfg, fills in endpoint defaults and returns a Client.
// A nil logger logs through slog.Default().
func NewClient(cfg Config, logger Logger, opts ...Option) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("openrouter: api key must not be empty")
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.CompletionURL == "" {
		cfg.CompletionURL = DefaultCompletionURL
	}
	if cfg.CreditsURL == "" {
		cfg.CreditsURL = DefaultCreditsURL
	}
	if cfg.ProvidersURL == "" {
		cfg.ProvidersURL = DefaultProvidersURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the configured model id.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Generate sends a single user turn and returns the upstream chat completion
// body verbatim. Unlike the other operations it reports why it failed.
func (c *Client) Generate(ctx context.Context, text string) (json.RawMessage, error) {
	start := time.Now()
	raw, err := c.postCompletion(ctx, chatRequest{
		Model:     c.cfg.Model,
		Messages:  userTurn(text),
		MaxTokens: c.cfg.GenerateMaxTokens,
	})
	if err == nil && !json.Valid(raw) {
		err = errors.New("openrouter: response body is not valid JSON")
	}
	c.observe(OpGenerate, err == nil, start)
	if err != nil {
		c.logFailure(ctx, OpGenerate, err)
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// SendMessage posts a single user turn and returns the first choice's content.
func (c *Client) SendMessage(ctx context.Context, text string) (string, bool) {
	return c.complete(ctx, OpSendMessage, userTurn(text), nil)
}

// SendStructured posts a single user turn constrained by schema and returns the
// reply parsed by jsonextract.
func (c *Client) SendStructured(ctx context.Context, text string, schema domain.ResponseSchema) (any, bool) {
	return c.completeStructured(ctx, OpSendStructured, userTurn(text), schema)
}

// SendHistory posts messages as-is, in order, and returns the first choice's content.
func (c *Client) SendHistory(ctx context.Context, messages []domain.ChatMessage) (string, bool) {
	return c.complete(ctx, OpSendHistory, messages, nil)
}

// SendStructuredHistory posts messages constrained by schema and returns the
// reply parsed by jsonextract.
func (c *Client) SendStructuredHistory(ctx context.Context, messages []domain.ChatMessage, schema domain.ResponseSchema) (any, bool) {
	return c.completeStructured(ctx, OpSendStructuredHistory, messages, schema)
}

// AccountCredits fetches the account's credit report.
func (c *Client) AccountCredits(ctx context.Context) (any, bool) {
	return c.getJSON(ctx, OpAccountCredits, c.cfg.CreditsURL, true)
}

// ListProviders fetches the provider listing. The endpoint is public, so no
// Authorization header is sent.
func (c *Client) ListProviders(ctx context.Context) (any, bool) {
	return c.getJSON(ctx, OpListProviders, c.cfg.ProvidersURL, false)
}

func userTurn(text string) []domain.ChatMessage {
	return []domain.ChatMessage{{Role: domain.RoleUser, Content: text}}
}

func (c *Client) completeStructured(ctx context.Context, op string, messages []domain.ChatMessage, schema domain.ResponseSchema) (any, bool) {
	content, ok := c.complete(ctx, op, messages, &responseFormat{Type: "json_schema", JSONSchema: schema})
	if !ok {
		return nil, false
	}
	return jsonextract.Extract(ctx, c.logger, content)
}

func (c *Client) complete(ctx context.Context, op string, messages []domain.ChatMessage, format *responseFormat) (string, bool) {
	start := time.Now()
	content, err := c.completeContent(ctx, messages, format)
	c.observe(op, err == nil, start)
	if err != nil {
		c.logFailure(ctx, op, err)
		return "", false
	}
	return content, true
}

func (c *Client) completeContent(ctx context.Context, messages []domain.ChatMessage, format *responseFormat) (string, error) {
	raw, err := c.postCompletion(ctx, chatRequest{
		Model:          c.cfg.Model,
		Messages:       messages,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseFormat: format,
	})
	if err != nil {
		return "", err
	}

	var payload chatResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("openrouter: decode response: %w", decErr)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("openrouter: no choices in response")
	}
	content := payload.Choices[0].Message.Content
	if content == nil || *content == "" {
		return "", errors.New("openrouter: no message content in response")
	}
	return *content, nil
}

func (c *Client) postCompletion(ctx context.Context, in chatRequest) ([]byte, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("openrouter: marshal request: %w", err)
	}

	url := c.cfg.CompletionURL
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return nil, fmt.Errorf("openrouter: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	return c.doJSONRequest(req, url)
}

func (c *Client) getJSON(ctx context.Context, op, url string, authenticated bool) (any, bool) {
	start := time.Now()
	v, err := c.fetchJSON(ctx, url, authenticated)
	c.observe(op, err == nil, start)
	if err != nil {
		c.logFailure(ctx, op, err)
		return nil, false
	}
	return v, true
}

func (c *Client) fetchJSON(ctx context.Context, url string, authenticated bool) (any, error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if reqErr != nil {
		return nil, fmt.Errorf("openrouter: create request: %w", reqErr)
	}
	req.Header.Set("Accept", "application/json")
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if decErr := dec.Decode(&v); decErr != nil {
		return nil, fmt.Errorf("openrouter: decode response: %w", decErr)
	}
	return v, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("openrouter: request failed: %w", doErr)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("openrouter: read response body: %w", err)
	}
	return buf, nil
}

// resolvedHTTPClient returns the configured HTTP client, or a default using the
// configured timeout if none was set.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: c.cfg.Timeout}
}

func (c *Client) logFailure(ctx context.Context, op string, err error) {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		c.logger.Log(ctx, slog.LevelError, "openrouter request failed",
			"operation", op,
			"status", statusErr.StatusCode,
			"body", statusErr.Body,
		)
		return
	}
	c.logger.Log(ctx, slog.LevelError, "openrouter request failed",
		"operation", op,
		"err", err.Error(),
	)
}

func (c *Client) observe(op string, ok bool, start time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveUpstream(op, ok, time.Since(start))
}
