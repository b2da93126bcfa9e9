package handler

import (
	"io"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

const maxRequestBody = 1 << 20

// NewRouter serves the proxy routes over plain HTTP for local runs.
// metrics may be nil.
func NewRouter(h *Handler, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.HandleFunc("/*", h.ServeHTTP)

	return r
}

// ServeHTTP adapts a net/http request to the proxy event shape.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, `{"error":"Invalid request body"}`, http.StatusRequestEntityTooLarge)
		return
	}

	event := events.APIGatewayProxyRequest{
		HTTPMethod:            r.Method,
		Path:                  r.URL.Path,
		Headers:               make(map[string]string, len(r.Header)),
		QueryStringParameters: make(map[string]string, len(r.URL.Query())),
		Body:                  string(body),
	}
	for k := range r.Header {
		event.Headers[k] = r.Header.Get(k)
	}
	for k := range r.URL.Query() {
		event.QueryStringParameters[k] = r.URL.Query().Get(k)
	}

	resp, _ := h.Handle(r.Context(), event)
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}
