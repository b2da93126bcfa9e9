package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouter_ForwardsToHandler(t *testing.T) {
	svc := &stubService{text: "pong"}
	h := newTestHandler(t, svc)
	srv := httptest.NewServer(NewRouter(h, nil))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/openrouter/endpoint", strings.NewReader(`{"message":"ping"}`))
	require.NoError(t, err)
	req.Header.Set("X-Correlation-Id", "corr-http")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.Equal(t, "corr-http", resp.Header.Get("X-Correlation-Id"))
	require.JSONEq(t, `{"response":"pong","success":true}`, string(body))
	require.Equal(t, "ping", svc.message)
}

func TestRouter_NotFound(t *testing.T) {
	srv := httptest.NewServer(NewRouter(newTestHandler(t, &stubService{}), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.JSONEq(t, `{"error":"Not found"}`, string(body))
}

func TestRouter_ServesMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})
	srv := httptest.NewServer(NewRouter(newTestHandler(t, &stubService{}), metrics))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "# metrics\n", string(body))
}
