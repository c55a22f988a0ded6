package audit

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoggerLogSuccess(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithZerolog(zerolog.New(&buf))

	logger.LogSuccess("account.erased", "user-1", "user", "user-1", "10.0.0.1", map[string]string{"tastings": "3"})

	var line struct {
		LogType string `json:"log_type"`
		Audit   Entry  `json:"audit"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "audit", line.LogType)
	require.Equal(t, "account.erased", line.Audit.Action)
	require.Equal(t, "success", line.Audit.Status)
	require.Equal(t, "3", line.Audit.Details["tastings"])
	require.False(t, line.Audit.Timestamp.IsZero())
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.LogFailure("account.erased", "cli", "user", "x", "", nil)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("DELETE", "/api/v1/account", nil)
	r.RemoteAddr = "192.0.2.1:4321"
	require.Equal(t, "192.0.2.1", ClientIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.2")
	require.Equal(t, "198.51.100.2", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	require.Equal(t, "203.0.113.5", ClientIP(r))
}
