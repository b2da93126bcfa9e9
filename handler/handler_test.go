package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"openrouter-proxy/internal/domain"
	"openrouter-proxy/internal/usecase"
)

type stubService struct {
	raw      json.RawMessage
	text     string
	value    any
	messages []domain.ChatMessage
	err      error

	calls   int
	message string
	history []domain.ChatMessage
}

func (s *stubService) Generate(_ context.Context, message string) (json.RawMessage, error) {
	s.calls++
	s.message = message
	return s.raw, s.err
}

func (s *stubService) Respond(_ context.Context, message string) (string, error) {
	s.calls++
	s.message = message
	return s.text, s.err
}

func (s *stubService) Credits(context.Context) (any, error) {
	s.calls++
	return s.value, s.err
}

func (s *stubService) Providers(context.Context) (any, error) {
	s.calls++
	return s.value, s.err
}

func (s *stubService) WeatherReport(context.Context) (any, error) {
	s.calls++
	return s.value, s.err
}

func (s *stubService) Chat(_ context.Context, history []domain.ChatMessage) ([]domain.ChatMessage, error) {
	s.calls++
	s.history = history
	return s.messages, s.err
}

func (s *stubService) StructuredChat(_ context.Context, history []domain.ChatMessage) (any, error) {
	s.calls++
	s.history = history
	return s.value, s.err
}

func (s *stubService) ContentIdea(context.Context) (any, error) {
	s.calls++
	return s.value, s.err
}

type stubRecorder struct {
	records []domain.Exchange
	err     error
}

func (r *stubRecorder) Record(_ context.Context, ex domain.Exchange) error {
	r.records = append(r.records, ex)
	return r.err
}

type observed struct {
	route  string
	status int
}

type stubObserver struct {
	requests []observed
}

func (o *stubObserver) ObserveRequest(route string, status int, _ time.Duration) {
	o.requests = append(o.requests, observed{route: route, status: status})
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, svc Service, opts ...Option) *Handler {
	t.Helper()
	h, err := NewHandler(svc, opts...)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_Generate(t *testing.T) {
	svc := &stubService{raw: json.RawMessage(`{"id":"gen-1","choices":[{"message":{"content":"hi"}}]}`)}
	h := newTestHandler(t, svc)

	for _, path := range []string{"/generate", "/openrouter/generate", "/api/generate"} {
		resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, path, `{"message":"hello"}`))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		require.JSONEq(t, `{"response":{"id":"gen-1","choices":[{"message":{"content":"hi"}}]}}`, resp.Body)
		require.Equal(t, "hello", svc.message)
	}
}

func TestHandle_MissingMessageRejectedBeforeServiceCall(t *testing.T) {
	cases := []struct {
		path string
		body string
	}{
		{path: "/generate", body: `{}`},
		{path: "/generate", body: `not-json`},
		{path: "/openrouter/generate", body: `{"message":""}`},
		{path: "/openrouter/endpoint", body: `{"message":"   "}`},
		{path: "/openrouter/endpoint", body: ``},
		{path: "/openrouter/endpoint", body: `{"message":42}`},
	}
	for _, tc := range cases {
		svc := &stubService{}
		h := newTestHandler(t, svc)

		resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, tc.path, tc.body))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, tc.path+" "+tc.body)
		require.Equal(t, "Message is required", parseBody[errorResponse](t, resp.Body).Error)
		require.Zero(t, svc.calls)
	}
}

func TestHandle_GenerateFailureCarriesDetails(t *testing.T) {
	svc := &stubService{err: &usecase.Error{
		Code:   usecase.ErrorUpstream,
		Reason: "generate_error",
		Err:    errors.New("openrouter: unexpected status 429"),
	}}
	h := newTestHandler(t, svc)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/generate", `{"message":"hello"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, "An error occurred while processing the request", out.Error)
	require.Equal(t, "openrouter: unexpected status 429", out.Details)
}

func TestHandle_Endpoint(t *testing.T) {
	svc := &stubService{text: "Hello there"}
	h := newTestHandler(t, svc)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/openrouter/endpoint", `{"message":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"response":"Hello there","success":true}`, resp.Body)
}

func TestHandle_GetRoutes(t *testing.T) {
	value := map[string]any{"data": map[string]any{"total_credits": 10.5}}
	cases := []struct {
		path string
		key  string
	}{
		{path: "/openrouter/credits", key: "credits"},
		{path: "/openrouter/providers", key: "providers"},
		{path: "/openrouter/structured", key: "data"},
		{path: "/openrouter/structured-prompt", key: "data"},
	}
	for _, tc := range cases {
		h := newTestHandler(t, &stubService{value: value})

		resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, tc.path, ""))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, tc.path)

		out := parseBody[map[string]any](t, resp.Body)
		require.Equal(t, value, out[tc.key], tc.path)
	}
}

func TestHandle_FailureMessagesPerRoute(t *testing.T) {
	upstream := &usecase.Error{Code: usecase.ErrorUpstream, Reason: "x"}
	cases := []struct {
		method string
		path   string
		body   string
		err    error
		want   string
	}{
		{http.MethodPost, "/openrouter/endpoint", `{"message":"hi"}`, upstream, "Failed to get a valid response from OpenRouter"},
		{http.MethodGet, "/openrouter/credits", "", upstream, "Failed to fetch credits"},
		{http.MethodGet, "/openrouter/providers", "", upstream, "Failed to fetch providers"},
		{http.MethodGet, "/openrouter/structured", "", upstream, "Failed to fetch structured data"},
		{http.MethodPost, "/openrouter/chat", "", upstream, "Failed to get model response"},
		{http.MethodPost, "/openrouter/structured-chat", "", upstream, "Failed to fetch structured weather data"},
		{http.MethodGet, "/openrouter/structured-prompt", "", upstream, "Failed to generate response"},
		{http.MethodGet, "/openrouter/structured-prompt", "", &usecase.Error{Code: usecase.ErrorMalformedOutput, Reason: "structured_parse_error"}, "Failed to parse structured JSON"},
	}
	for _, tc := range cases {
		t.Run(tc.path+" "+tc.want, func(t *testing.T) {
			h := newTestHandler(t, &stubService{err: tc.err})

			resp, err := h.Handle(context.Background(), makeEvent(tc.method, tc.path, tc.body))
			require.NoError(t, err)
			require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			require.Equal(t, tc.want, parseBody[errorResponse](t, resp.Body).Error)
		})
	}
}

func TestHandle_ChatUsesExampleHistoryWhenBodyEmpty(t *testing.T) {
	reply := append(usecase.ExampleHistory(), domain.ChatMessage{Role: domain.RoleAssistant, Content: "Variables hold values."})
	svc := &stubService{messages: reply}
	h := newTestHandler(t, svc)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/openrouter/chat", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.ExampleHistory(), svc.history)

	out := parseBody[chatResponse](t, resp.Body)
	require.Equal(t, reply, out.Messages)
}

func TestHandle_ChatUsesProvidedHistory(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	_, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/openrouter/chat", `{"messages":[{"role":"user","content":"Hi"}]}`))
	require.NoError(t, err)
	require.Equal(t, []domain.ChatMessage{{Role: domain.RoleUser, Content: "Hi"}}, svc.history)
}

func TestHandle_ChatInvalidHistory(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/openrouter/chat", `{"messages":"nope"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Invalid message history", parseBody[errorResponse](t, resp.Body).Error)
	require.Zero(t, svc.calls)

	svc.err = &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_role"}
	resp, err = h.Handle(context.Background(), makeEvent(http.MethodPost, "/openrouter/structured-chat", `{"messages":[{"role":"tool","content":"x"}]}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Invalid message history", parseBody[errorResponse](t, resp.Body).Error)
}

func TestHandle_StructuredChat(t *testing.T) {
	svc := &stubService{value: map[string]any{"location": "London", "temperature": 14.0, "conditions": "Cloudy"}}
	h := newTestHandler(t, svc)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/openrouter/structured-chat", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := parseBody[structuredChatResponse](t, resp.Body)
	require.Equal(t, usecase.ExampleStructuredHistory(), out.Messages)
	require.Equal(t, svc.value, out.StructuredResponse)
}

func TestHandle_Base64Body(t *testing.T) {
	svc := &stubService{text: "ok"}
	h := newTestHandler(t, svc)

	event := makeEvent(http.MethodPost, "/openrouter/endpoint", base64.StdEncoding.EncodeToString([]byte(`{"message":"encoded"}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "encoded", svc.message)
}

func TestHandle_HealthAndNotFound(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/api/health/", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, resp.Body)

	for _, ev := range []events.APIGatewayProxyRequest{
		makeEvent(http.MethodGet, "/nope", ""),
		makeEvent(http.MethodGet, "/generate", ""),
	} {
		resp, err := h.Handle(context.Background(), ev)
		require.NoError(t, err)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		require.Equal(t, "Not found", parseBody[errorResponse](t, resp.Body).Error)
		require.Equal(t, "application/json", resp.Headers["Content-Type"])
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubService{text: "ok"})

	event := makeEvent(http.MethodPost, "/openrouter/endpoint", `{"message":"hi"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_GeneratesCorrelationID(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/health", ""))
	require.NoError(t, err)
	require.Len(t, resp.Headers["X-Correlation-Id"], 36)
}

func TestHandle_RecordsLedgerAndMetrics(t *testing.T) {
	rec := &stubRecorder{}
	obs := &stubObserver{}
	h := newTestHandler(t, &stubService{value: map[string]any{"data": []any{}}},
		WithRecorder(rec), WithObserver(obs), WithModel("test/model"))

	event := makeEvent(http.MethodGet, "/openrouter/providers", "")
	event.Headers["X-Correlation-Id"] = "corr-1"
	_, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	_, err = h.Handle(context.Background(), makeEvent(http.MethodGet, "/missing", ""))
	require.NoError(t, err)

	require.Equal(t, []observed{
		{route: "/openrouter/providers", status: http.StatusOK},
		{route: unmatchedRoute, status: http.StatusNotFound},
	}, obs.requests)

	require.Len(t, rec.records, 2)
	ex := rec.records[0]
	require.Equal(t, "/openrouter/providers", ex.Route)
	require.Equal(t, http.StatusOK, ex.Status)
	require.Equal(t, "corr-1", ex.CorrelationID)
	require.Equal(t, "test/model", ex.Model)
	require.Equal(t, "ROUTE#/openrouter/providers", ex.PK)
}

func TestHandle_LedgerFailureIsLoggedNotSurfaced(t *testing.T) {
	var buf bytes.Buffer
	rec := &stubRecorder{err: errors.New("throttled")}
	h := newTestHandler(t, &stubService{}, WithRecorder(rec), WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/health", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, buf.String(), `"msg":"ledger write failed"`)
	require.Contains(t, buf.String(), `"msg":"request handled"`)
	require.Contains(t, buf.String(), `"route":"/health"`)
}
