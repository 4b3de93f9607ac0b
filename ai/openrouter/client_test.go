package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, srv *httptest.Server, cfg Config) *Client {
	t.Helper()
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	cfg.BaseURL = srv.URL
	cfg.Logger = zaptest.NewLogger(t).Sugar()
	c := NewClient(cfg)
	c.SetHTTPClient(srv.Client())
	c.retryDelay = time.Millisecond
	return c
}

func writeCompletion(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(ChatCompletionResponse{
		ID:    "gen-1",
		Model: DefaultModel,
		Choices: []Choice{{
			Message:      Message{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: Usage{PromptTokens: 120, CompletionTokens: 40, TotalTokens: 160},
	}))
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{APIKey: "test-key"})

	assert.Equal(t, DefaultModel, client.config.Model)
	assert.Equal(t, 0.2, *client.config.Temperature)
	assert.Equal(t, 1000, *client.config.MaxTokens)
	assert.Equal(t, 3, client.config.MaxRetries)
	assert.Equal(t, DefaultBaseURL, client.baseURL)
	assert.Nil(t, client.limiter)
	assert.True(t, client.IsConfigured())

	assert.False(t, NewClient(Config{APIKey: "  "}).IsConfigured())
}

func TestNewClient_PreservesCustomValues(t *testing.T) {
	temp := 0.8
	tokens := 2000
	client := NewClient(Config{
		APIKey:            "test-key",
		Model:             "custom/model",
		BaseURL:           "https://proxy.example.com/v1/",
		Temperature:       &temp,
		MaxTokens:         &tokens,
		RequestsPerMinute: 30,
	})

	assert.Equal(t, "custom/model", client.config.Model)
	assert.Equal(t, "https://proxy.example.com/v1", client.baseURL)
	assert.Equal(t, 0.8, *client.config.Temperature)
	assert.Equal(t, 2000, *client.config.MaxTokens)
	assert.NotNil(t, client.limiter)
}

func TestChat_SendsRequest(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "keywatch", r.Header.Get("X-Title"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(t, w, "  {\"summary\":\"ok\"}  ")
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	resp, err := client.Chat(context.Background(), ChatRequest{
		SystemPrompt: "You write reports.",
		UserPrompt:   "Posts about golang",
		JSON:         true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"summary":"ok"}`, resp.Content)
	assert.Equal(t, 160, resp.Usage.TotalTokens)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, DefaultModel, got.Model)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestChat_RequestOverrides(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(t, w, "done")
	}))
	defer srv.Close()

	temp := 0.9
	tokens := 4000
	model := "anthropic/claude-3.5-haiku"
	client := newTestClient(t, srv, Config{})
	_, err := client.Chat(context.Background(), ChatRequest{
		UserPrompt:  "hi",
		Temperature: &temp,
		MaxTokens:   &tokens,
		Model:       &model,
	})
	require.NoError(t, err)

	assert.Equal(t, model, got.Model)
	assert.Equal(t, 0.9, got.Temperature)
	assert.Equal(t, 4000, got.MaxTokens)
	assert.Len(t, got.Messages, 1)
	assert.Nil(t, got.ResponseFormat)
}

func TestChat_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, `{"error":"upstream overloaded"}`, http.StatusBadGateway)
			return
		}
		writeCompletion(t, w, "third time lucky")
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	resp, err := client.Chat(context.Background(), ChatRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestChat_RateLimitedIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeCompletion(t, w, "ok")
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	_, err := client.Chat(context.Background(), ChatRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChat_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	_, err := client.Chat(context.Background(), ChatRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestChat_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{MaxRetries: 2})
	_, err := client.Chat(context.Background(), ChatRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, int32(2), calls.Load())
}

func TestChat_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"gen-1","choices":[]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	_, err := client.Chat(context.Background(), ChatRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no response choices")
}

func TestChat_RequiresAPIKey(t *testing.T) {
	client := NewClient(Config{})
	_, err := client.Chat(context.Background(), ChatRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key not configured")
}

func TestChat_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, Config{})
	client.retryDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Chat(ctx, ChatRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(&StatusError{StatusCode: 429}))
	assert.True(t, isRetryableError(&StatusError{StatusCode: 503}))
	assert.False(t, isRetryableError(&StatusError{StatusCode: 400}))
	assert.True(t, isRetryableError(errString("read tcp: connection reset by peer")))
	assert.False(t, isRetryableError(errString("invalid character 'x'")))
}

type errString string

func (e errString) Error() string { return string(e) }
