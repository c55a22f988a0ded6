package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPerformHealthCheck(t *testing.T) {
	tests := []struct {
		name           string
		statusCode     int
		responseBody   interface{}
		expectHealthy  bool
		expectError    bool
		expectedStatus string
	}{
		{
			name:           "liveness ok",
			statusCode:     http.StatusOK,
			responseBody:   map[string]string{"status": "ok"},
			expectHealthy:  true,
			expectedStatus: "ok",
		},
		{
			name:       "ready server",
			statusCode: http.StatusOK,
			responseBody: HealthResponse{
				Status: "healthy",
				Checks: map[string]CheckResult{"database": {Status: "pass"}},
			},
			expectHealthy:  true,
			expectedStatus: "healthy",
		},
		{
			name:       "degraded server",
			statusCode: http.StatusOK,
			responseBody: HealthResponse{
				Status: "degraded",
				Checks: map[string]CheckResult{
					"database": {Status: "pass"},
					"cache":    {Status: "warn"},
				},
			},
			expectedStatus: "degraded",
		},
		{
			name:           "unhealthy server (503)",
			statusCode:     http.StatusServiceUnavailable,
			responseBody:   HealthResponse{Status: "unhealthy"},
			expectedStatus: "unhealthy",
		},
		{
			name:         "invalid response",
			statusCode:   http.StatusOK,
			responseBody: "not json",
			expectError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				if str, ok := tt.responseBody.(string); ok {
					fmt.Fprint(w, str)
				} else {
					_ = json.NewEncoder(w).Encode(tt.responseBody)
				}
			}))
			defer server.Close()

			result := performHealthCheck(context.Background(), server.URL, time.Second)

			if result.IsHealthy != tt.expectHealthy {
				t.Errorf("expected IsHealthy=%v, got %v", tt.expectHealthy, result.IsHealthy)
			}
			if tt.expectError && result.Error == "" {
				t.Error("expected error, got none")
			}
			if !tt.expectError && result.Status != tt.expectedStatus {
				t.Errorf("expected status=%s, got %s", tt.expectedStatus, result.Status)
			}
			if result.HTTPStatus != tt.statusCode {
				t.Errorf("expected http status %d, got %d", tt.statusCode, result.HTTPStatus)
			}
			if result.LatencyMs < 0 {
				t.Error("expected non-negative latency")
			}
		})
	}
}

func TestPerformHealthCheckTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	result := performHealthCheck(context.Background(), server.URL, 100*time.Millisecond)

	if result.Error == "" {
		t.Error("expected timeout error, got none")
	}
	if result.IsHealthy {
		t.Error("expected unhealthy result on timeout")
	}
}

func TestHealthcheckURL(t *testing.T) {
	tests := []struct {
		name       string
		flagURL    string
		ready      bool
		serverPort string
		expected   string
	}{
		{name: "explicit URL", flagURL: "http://example.com/healthz", expected: "http://example.com/healthz"},
		{name: "default with SERVER_PORT", serverPort: "9000", expected: "http://localhost:9000/healthz"},
		{name: "default without SERVER_PORT", expected: "http://localhost:8080/healthz"},
		{name: "readiness", ready: true, expected: "http://localhost:8080/readyz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SERVER_PORT", tt.serverPort)

			if got := healthcheckURL(tt.flagURL, tt.ready); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestHealthcheckCommand(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer healthy.Close()

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "unhealthy"})
	}))
	defer unhealthy.Close()

	tests := []struct {
		name        string
		url         string
		expectError bool
	}{
		{name: "healthy", url: healthy.URL + "/healthz"},
		{name: "unhealthy", url: unhealthy.URL + "/healthz", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCommand()
			buf := new(bytes.Buffer)
			root.SetOut(buf)
			root.SetErr(buf)
			root.SetArgs([]string{"healthcheck", "--url", tt.url, "--timeout", "2s"})

			err := root.Execute()
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !strings.Contains(buf.String(), `"url":"`+tt.url+`"`) {
				t.Errorf("expected JSON result for %s, got:\n%s", tt.url, buf.String())
			}
		})
	}
}
