package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/keywatch/errors"
	"github.com/teranos/keywatch/internal/httpclient"
)

const (
	// DefaultModel is the fallback model when none is specified.
	// Keep in sync with the default in am/defaults.go.
	DefaultModel = "openai/gpt-4o-mini"

	// DefaultBaseURL is the OpenRouter API root
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	defaultTimeout = 120 * time.Second
)

// Client is an OpenRouter chat-completions client
type Client struct {
	baseURL    string
	httpClient *httpclient.SaferClient
	limiter    *rate.Limiter
	config     Config
	logger     *zap.SugaredLogger
	retryDelay time.Duration
}

// Config holds AI client configuration
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string   // "" = DefaultBaseURL
	Temperature *float64 // nil = use default (0.2)
	MaxTokens   *int     // nil = use default (1000)
	MaxRetries  int      // 0 = 3 attempts in total
	// RequestsPerMinute caps outbound calls; 0 disables the limiter
	RequestsPerMinute int
	AppName           string
	Logger            *zap.SugaredLogger
}

// NewClient creates a client with keywatch defaults applied
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Temperature == nil {
		defaultTemp := 0.2
		config.Temperature = &defaultTemp
	}
	if config.MaxTokens == nil {
		defaultTokens := 1000
		config.MaxTokens = &defaultTokens
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.AppName == "" {
		config.AppName = "keywatch"
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	baseURL := strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	var limiter *rate.Limiter
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpclient.New(defaultTimeout, httpclient.Options{}),
		limiter:    limiter,
		config:     config,
		logger:     logger.Named("openrouter"),
		retryDelay: time.Second,
	}
}

// ChatCompletionRequest is the wire body of POST /chat/completions
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ResponseFormat asks the model for a JSON object reply
type ResponseFormat struct {
	Type string `json:"type"`
}

// Message is one chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a high-level request to the model
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  *float64 // Override default temperature
	MaxTokens    *int     // Override default max tokens
	Model        *string  // Override default model
	JSON         bool     // Request a JSON object response
}

// ChatResponse is the model reply
type ChatResponse struct {
	Content string
	Model   string
	Usage   Usage
}

// ChatCompletionResponse is the wire reply of POST /chat/completions
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage is token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StatusError is a non-2xx reply from the API
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openrouter returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// CreateChatCompletion sends one chat completion request
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("X-Title", c.config.AppName)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := strings.TrimSpace(string(respBody))
		if len(body) > 700 {
			body = body[:700]
		}
		return nil, errors.WithStack(&StatusError{StatusCode: resp.StatusCode, Body: body})
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	return &chatResp, nil
}

// Chat sends a chat request, retrying transient failures
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if !c.IsConfigured() {
		return nil, errors.New("OpenRouter API key not configured")
	}

	temperature := *c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := *c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	model := c.config.Model
	if req.Model != nil {
		model = *req.Model
	}

	messages := []Message{{Role: "user", Content: req.UserPrompt}}
	if req.SystemPrompt != "" {
		messages = append([]Message{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}

	wireReq := ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if req.JSON {
		wireReq.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	c.logger.Debugw("chat request",
		"model", model,
		"temperature", temperature,
		"max_tokens", maxTokens,
		"prompt_chars", len(req.UserPrompt),
	)

	var (
		resp *ChatCompletionResponse
		err  error
	)
	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.retryDelay
			c.logger.Debugw("retrying request", "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "chat interrupted")
			case <-time.After(delay):
			}
		}

		if c.limiter != nil {
			if werr := c.limiter.Wait(ctx); werr != nil {
				return nil, errors.Wrap(werr, "rate limiter")
			}
		}

		resp, err = c.CreateChatCompletion(ctx, wireReq)
		if err == nil {
			if attempt > 0 {
				c.logger.Infow("request succeeded after retries", "attempts", attempt+1, "model", model)
			}
			break
		}

		c.logger.Warnw("OpenRouter API error",
			"attempt", attempt+1, "max_attempts", c.config.MaxRetries,
			"error", err, "model", model)

		if !isRetryableError(err) {
			return nil, errors.Wrap(err, "OpenRouter API error")
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "OpenRouter API error after %d attempts", c.config.MaxRetries)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("no response choices from OpenRouter")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("empty response from OpenRouter")
	}

	c.logger.Debugw("chat response",
		"content_length", len(content),
		"total_tokens", resp.Usage.TotalTokens,
		"cost_usd", EstimateCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	)

	replyModel := resp.Model
	if replyModel == "" {
		replyModel = model
	}
	return &ChatResponse{Content: content, Model: replyModel, Usage: resp.Usage}, nil
}

func isRetryableError(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var errno syscall.Errno
		if errors.As(opErr.Err, &errno) {
			switch errno {
			case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
				return true
			}
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection reset by peer",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// IsConfigured returns true if the client has an API key
func (c *Client) IsConfigured() bool {
	return strings.TrimSpace(c.config.APIKey) != ""
}

// SetHTTPClient overrides the HTTP client. Tests only: the replacement
// skips private-address blocking.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.Wrap(client)
}
