package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliamunaev/paper-order-pipeline/internal/apperr"
)

func completionServer(t *testing.T, status int, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewOpenAIProvider(Config{})
	require.Error(t, err)
}

func TestComplete(t *testing.T) {
	t.Parallel()

	var seen map[string]any
	srv := completionServer(t, http.StatusOK, "Generated text", &seen)

	p, err := NewOpenAIProvider(Config{APIKey: "k", BaseURL: srv.URL + "/v1/", Model: "test-model"})
	require.NoError(t, err)

	got, err := p.Complete(context.Background(), "Write about Rome", Params{System: "be brief", MaxTokens: Int(100)})
	require.NoError(t, err)
	assert.Equal(t, "Generated text", got)

	assert.Equal(t, "test-model", seen["model"])
	msgs, ok := seen["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "be brief", msgs[0].(map[string]any)["content"])
	assert.Equal(t, "Write about Rome", msgs[1].(map[string]any)["content"])
}

func TestCompleteProviderError(t *testing.T) {
	t.Parallel()

	srv := completionServer(t, http.StatusBadRequest, "", nil)
	p, err := NewOpenAIProvider(Config{APIKey: "k", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), "x", Params{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrProviderUnavailable))
	assert.Equal(t, "provider_unavailable", apperr.Kind(err))
}

func TestCompleteEmptyContent(t *testing.T) {
	t.Parallel()

	srv := completionServer(t, http.StatusOK, "   ", nil)
	p, err := NewOpenAIProvider(Config{APIKey: "k", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), "x", Params{})
	assert.ErrorIs(t, err, apperr.ErrProviderUnavailable)
}

func TestCompleteTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	p, err := NewOpenAIProvider(Config{APIKey: "k", BaseURL: srv.URL + "/v1", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), "x", Params{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
