package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestHandler_ServesBackendAndMetrics(t *testing.T) {
	t.Setenv("ENV", "TEST")
	ts := httptest.NewServer(newHandler(config.New(), prometheus.NewRegistry()))
	defer ts.Close()

	body, err := json.Marshal(map[string]string{"username": "ghost", "password": "nope"})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+authapi.RouteLogin, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	metrics, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(metrics), `auth_backend_requests_total{code="401",route="/api/auth/login"} 1`)
}
