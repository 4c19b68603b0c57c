// Package llm provides the one-shot LLM client the skill pipeline consumes.
// The concrete backend is an external collaborator; this package carries the
// contract plus an OpenAI-compatible HTTP implementation with retry and
// backoff.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxResponseSize limits the response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Client is the one-shot completion contract. Stateless: every call stands
// alone.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	endpoint    string
	model       string
	temperature float64
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(client *HTTPClient) { client.httpClient = c }
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) HTTPOption {
	return func(client *HTTPClient) { client.retryConfig = cfg }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) HTTPOption {
	return func(client *HTTPClient) { client.temperature = temperature }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(client *HTTPClient) { client.logger = logger }
}

// NewHTTPClient creates a client for the given endpoint and model.
func NewHTTPClient(endpoint, model string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		model:       model,
		temperature: 0.2,
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
		retryConfig: DefaultRetryConfig(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends the prompt and returns the generated text. Transient
// failures are retried with exponential backoff; fatal failures return
// immediately.
func (c *HTTPClient) Complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.retryConfig.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := c.retryConfig.backoff(attempt - 1)
			c.logger.Debug("retrying LLM request", "attempt", attempt+1, "backoff", wait)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		text, err := c.complete(ctx, prompt)
		if err == nil {
			return text, nil
		}
		if IsFatal(err) || ctx.Err() != nil {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("llm request failed after %d attempts: %w", c.retryConfig.MaxAttempts, lastErr)
}

func (c *HTTPClient) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", NewFatalError(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", NewFatalError(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", NewTransientError(fmt.Errorf("llm request: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", NewTransientError(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", NewTransientError(fmt.Errorf("llm endpoint returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return "", NewFatalError(fmt.Errorf("llm endpoint returned %d: %s", resp.StatusCode, data))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", NewFatalError(fmt.Errorf("parse response: %w", err))
	}
	if parsed.Error != nil {
		return "", NewFatalError(fmt.Errorf("llm error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", NewFatalError(fmt.Errorf("llm response has no choices"))
	}
	return parsed.Choices[0].Message.Content, nil
}
