package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"openrouter-proxy/internal/domain"
	"openrouter-proxy/internal/repository"
	"openrouter-proxy/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	apiPrefix         = "/api"
	unmatchedRoute    = "unmatched"
)

// Service is the set of route-level operations the handler dispatches to.
type Service interface {
	Generate(ctx context.Context, message string) (json.RawMessage, error)
	Respond(ctx context.Context, message string) (string, error)
	Credits(ctx context.Context) (any, error)
	Providers(ctx context.Context) (any, error)
	WeatherReport(ctx context.Context) (any, error)
	Chat(ctx context.Context, history []domain.ChatMessage) ([]domain.ChatMessage, error)
	StructuredChat(ctx context.Context, history []domain.ChatMessage) (any, error)
	ContentIdea(ctx context.Context) (any, error)
}

// Recorder persists one ledger entry per handled request.
type Recorder interface {
	Record(ctx context.Context, ex domain.Exchange) error
}

// RequestObserver receives per-request metrics.
type RequestObserver interface {
	ObserveRequest(route string, status int, elapsed time.Duration)
}

type Option func(*Handler)

// WithRecorder enables the exchange ledger.
func WithRecorder(r Recorder) Option {
	return func(h *Handler) { h.recorder = r }
}

func WithObserver(o RequestObserver) Option {
	return func(h *Handler) { h.observer = o }
}

// WithModel sets the model id written to ledger entries.
func WithModel(model string) Option {
	return func(h *Handler) { h.model = model }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

type routeFunc func(ctx context.Context, body []byte) (int, any)

type route struct {
	name string
	fn   routeFunc
}

// Handler serves the proxy routes for API Gateway proxy events.
type Handler struct {
	svc      Service
	recorder Recorder
	observer RequestObserver
	model    string
	logger   *slog.Logger
	routes   map[string]route
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type historyRequest struct {
	Messages []domain.ChatMessage `json:"messages"`
}

type generateResponse struct {
	Response json.RawMessage `json:"response"`
}

type endpointResponse struct {
	Response string `json:"response"`
	Success  bool   `json:"success"`
}

type chatResponse struct {
	Messages []domain.ChatMessage `json:"messages"`
}

type structuredChatResponse struct {
	Messages           []domain.ChatMessage `json:"messages"`
	StructuredResponse any                  `json:"structured_response"`
}

func NewHandler(svc Service, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: service must not be nil")
	}
	h := &Handler{svc: svc}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.routes = map[string]route{
		routeKey(http.MethodPost, "/generate"):                    {name: "/generate", fn: h.generate},
		routeKey(http.MethodPost, "/openrouter/generate"):         {name: "/openrouter/generate", fn: h.generate},
		routeKey(http.MethodPost, "/openrouter/endpoint"):         {name: "/openrouter/endpoint", fn: h.endpoint},
		routeKey(http.MethodGet, "/openrouter/credits"):           {name: "/openrouter/credits", fn: h.credits},
		routeKey(http.MethodGet, "/openrouter/providers"):         {name: "/openrouter/providers", fn: h.providers},
		routeKey(http.MethodGet, "/openrouter/structured"):        {name: "/openrouter/structured", fn: h.structured},
		routeKey(http.MethodPost, "/openrouter/chat"):             {name: "/openrouter/chat", fn: h.chat},
		routeKey(http.MethodPost, "/openrouter/structured-chat"):  {name: "/openrouter/structured-chat", fn: h.structuredChat},
		routeKey(http.MethodGet, "/openrouter/structured-prompt"): {name: "/openrouter/structured-prompt", fn: h.structuredPrompt},
		routeKey(http.MethodGet, "/health"):                       {name: "/health", fn: h.health},
	}
	return h, nil
}

// Handle dispatches one API Gateway proxy event. It always returns a response;
// the error is reserved for the Lambda runtime and is never set.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	name := unmatchedRoute
	status, payload := http.StatusNotFound, any(errorResponse{Error: "Not found"})
	if r, ok := h.routes[routeKey(event.HTTPMethod, normalizePath(event.Path))]; ok {
		name = r.name
		body, err := eventBody(event)
		if err != nil {
			status, payload = http.StatusBadRequest, errorResponse{Error: "Invalid request body"}
		} else {
			status, payload = r.fn(ctx, body)
		}
	}

	resp := jsonResponse(status, payload, correlationID)
	h.finish(ctx, name, resp.StatusCode, correlationID, time.Since(start))
	return resp, nil
}

func (h *Handler) finish(ctx context.Context, name string, status int, correlationID string, elapsed time.Duration) {
	if h.observer != nil {
		h.observer.ObserveRequest(name, status, elapsed)
	}
	if h.recorder != nil {
		ex := repository.NewExchange(name, status, correlationID, h.model, elapsed)
		if err := h.recorder.Record(ctx, ex); err != nil {
			h.logger.WarnContext(ctx, "ledger write failed", "correlation_id", correlationID, "err", err)
		}
	}
	h.logger.InfoContext(ctx, "request handled",
		"route", name,
		"status", status,
		"correlation_id", correlationID,
		"duration_ms", elapsed.Milliseconds(),
	)
}

func (h *Handler) generate(ctx context.Context, body []byte) (int, any) {
	var req messageRequest
	if err := json.Unmarshal(body, &req); err != nil || strings.TrimSpace(req.Message) == "" {
		return http.StatusBadRequest, errorResponse{Error: "Message is required"}
	}
	raw, err := h.svc.Generate(ctx, req.Message)
	if err != nil {
		if isInvalidInput(err) {
			return http.StatusBadRequest, errorResponse{Error: "Message is required"}
		}
		return http.StatusInternalServerError, errorResponse{
			Error:   "An error occurred while processing the request",
			Details: errorDetails(err),
		}
	}
	return http.StatusOK, generateResponse{Response: raw}
}

func (h *Handler) endpoint(ctx context.Context, body []byte) (int, any) {
	var req messageRequest
	if err := json.Unmarshal(body, &req); err != nil || strings.TrimSpace(req.Message) == "" {
		return http.StatusBadRequest, errorResponse{Error: "Message is required"}
	}
	reply, err := h.svc.Respond(ctx, req.Message)
	if err != nil {
		if isInvalidInput(err) {
			return http.StatusBadRequest, errorResponse{Error: "Message is required"}
		}
		return http.StatusInternalServerError, errorResponse{Error: "Failed to get a valid response from OpenRouter"}
	}
	return http.StatusOK, endpointResponse{Response: reply, Success: true}
}

func (h *Handler) credits(ctx context.Context, _ []byte) (int, any) {
	v, err := h.svc.Credits(ctx)
	if err != nil {
		return http.StatusInternalServerError, errorResponse{Error: "Failed to fetch credits"}
	}
	return http.StatusOK, map[string]any{"credits": v}
}

func (h *Handler) providers(ctx context.Context, _ []byte) (int, any) {
	v, err := h.svc.Providers(ctx)
	if err != nil {
		return http.StatusInternalServerError, errorResponse{Error: "Failed to fetch providers"}
	}
	return http.StatusOK, map[string]any{"providers": v}
}

func (h *Handler) structured(ctx context.Context, _ []byte) (int, any) {
	v, err := h.svc.WeatherReport(ctx)
	if err != nil {
		return http.StatusInternalServerError, errorResponse{Error: "Failed to fetch structured data"}
	}
	return http.StatusOK, map[string]any{"data": v}
}

func (h *Handler) chat(ctx context.Context, body []byte) (int, any) {
	history, ok := decodeHistory(body, usecase.ExampleHistory)
	if !ok {
		return http.StatusBadRequest, errorResponse{Error: "Invalid message history"}
	}
	messages, err := h.svc.Chat(ctx, history)
	if err != nil {
		if isInvalidInput(err) {
			return http.StatusBadRequest, errorResponse{Error: "Invalid message history"}
		}
		return http.StatusInternalServerError, errorResponse{Error: "Failed to get model response"}
	}
	return http.StatusOK, chatResponse{Messages: messages}
}

func (h *Handler) structuredChat(ctx context.Context, body []byte) (int, any) {
	history, ok := decodeHistory(body, usecase.ExampleStructuredHistory)
	if !ok {
		return http.StatusBadRequest, errorResponse{Error: "Invalid message history"}
	}
	v, err := h.svc.StructuredChat(ctx, history)
	if err != nil {
		if isInvalidInput(err) {
			return http.StatusBadRequest, errorResponse{Error: "Invalid message history"}
		}
		return http.StatusInternalServerError, errorResponse{Error: "Failed to fetch structured weather data"}
	}
	return http.StatusOK, structuredChatResponse{Messages: history, StructuredResponse: v}
}

func (h *Handler) structuredPrompt(ctx context.Context, _ []byte) (int, any) {
	v, err := h.svc.ContentIdea(ctx)
	if err != nil {
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) && ucErr.Code == usecase.ErrorMalformedOutput {
			return http.StatusInternalServerError, errorResponse{Error: "Failed to parse structured JSON"}
		}
		return http.StatusInternalServerError, errorResponse{Error: "Failed to generate response"}
	}
	return http.StatusOK, map[string]any{"data": v}
}

func (h *Handler) health(context.Context, []byte) (int, any) {
	return http.StatusOK, map[string]string{"status": "ok"}
}

// decodeHistory reads {"messages": [...]}. An empty body or an absent
// messages field selects the fallback conversation.
func decodeHistory(body []byte, fallback func() []domain.ChatMessage) ([]domain.ChatMessage, bool) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return fallback(), true
	}
	var req historyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, false
	}
	if req.Messages == nil {
		return fallback(), true
	}
	return req.Messages, true
}

func isInvalidInput(err error) bool {
	var ucErr *usecase.Error
	return errors.As(err, &ucErr) && ucErr.Code == usecase.ErrorInvalidInput
}

// errorDetails returns the underlying cause without the usecase wrapper.
func errorDetails(err error) string {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) && ucErr.Err != nil {
		return ucErr.Err.Error()
	}
	return err.Error()
}

func eventBody(event events.APIGatewayProxyRequest) ([]byte, error) {
	if !event.IsBase64Encoded {
		return []byte(event.Body), nil
	}
	return base64.StdEncoding.DecodeString(event.Body)
}

func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

func normalizePath(path string) string {
	if path != "/" {
		path = strings.TrimRight(path, "/")
	}
	if path == apiPrefix {
		return "/"
	}
	if strings.HasPrefix(path, apiPrefix+"/") {
		path = strings.TrimPrefix(path, apiPrefix)
	}
	return path
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func jsonResponse(status int, payload any, correlationID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"An error occurred while processing the request"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}
