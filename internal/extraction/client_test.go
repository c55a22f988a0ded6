package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func chatReply(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
	})
	return string(payload)
}

func newTestClient(url string) *Client {
	return NewClient(url, "test-key", "test-model", WithRateLimit(1000), WithRetryDelay(time.Millisecond))
}

func TestClientCompleteSendsChatRequest(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(chatReply(`{"producer_name":"Chateau Test"}`)))
	}))
	defer server.Close()

	content, err := newTestClient(server.URL+"/v1/").Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	require.Equal(t, `{"producer_name":"Chateau Test"}`, content)
	require.Equal(t, "test-model", got.Model)
	require.Equal(t, "json_object", got.ResponseFormat["type"])
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(chatReply("{}")))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestClientGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvocation)
	require.Equal(t, int32(MaxRetries+1), calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad model"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvocation)
	require.Equal(t, int32(1), calls.Load())
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	body := strings.Repeat("a", 199) + "é suite"
	got := truncate(body, 200)
	require.Equal(t, strings.Repeat("a", 199), got)
	require.True(t, utf8.ValidString(got))

	require.Equal(t, "short", truncate("short", 200))
	require.Equal(t, "ok", truncate("o\xffk", 200))
}

func TestClientNoResponse(t *testing.T) {
	replies := []string{`{"choices":[]}`, chatReply("   "), `{"choices":[{"message":{"content":null}}]}`}
	for _, reply := range replies {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(reply))
		}))

		_, err := newTestClient(server.URL).Complete(context.Background(), nil)
		require.ErrorIs(t, err, ErrNoResponse, reply)
		server.Close()
	}
}

func TestClientTimeoutIsInvocationFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(server.URL).Complete(ctx, nil)
	require.ErrorIs(t, err, ErrInvocation)
}
