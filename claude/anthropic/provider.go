// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package anthropic implements the direct Anthropic Messages API transport.
// It serves both direct API keys and OAuth tokens obtained from the Claude
// CLI credential store; OAuth requests carry the beta header the API
// requires for CLI-issued tokens.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"axonflow/claude-wrapper/claude"
	"axonflow/claude-wrapper/claude/sdk"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version
	DefaultAPIVersion = "2023-06-01"

	// OAuthBeta is the anthropic-beta value required for OAuth bearer tokens
	OAuthBeta = "oauth-2025-04-20"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 4096
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements the upstream transport against the Anthropic API.
type Provider struct {
	auth       sdk.AuthProvider
	method     claude.AuthMethod
	baseURL    string
	apiVersion string
	beta       string
	timeout    time.Duration
	client     HTTPClient
	retry      *sdk.RetryConfig
	breaker    *sdk.CircuitBreaker
	healthy    bool
	mu         sync.RWMutex
}

var _ claude.Provider = (*Provider)(nil)

// Config contains configuration for the Anthropic transport
type Config struct {
	Auth       sdk.AuthProvider    // Required: credential injection for outbound requests
	Method     claude.AuthMethod   // Optional: reported auth method (default: api-key)
	BaseURL    string              // Optional: API base URL (default: https://api.anthropic.com)
	APIVersion string              // Optional: API version (default: 2023-06-01)
	Beta       []string            // Optional: anthropic-beta header values
	Timeout    time.Duration       // Optional: HTTP timeout (default: 120s)
	Retry      *sdk.RetryConfig    // Optional: retry policy (default: 2 retries on retryable errors)
	Breaker    *sdk.CircuitBreaker // Optional: circuit breaker (default: 5 failures, 30s reset)
}

// NewProvider creates a new Anthropic transport instance
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Auth == nil {
		return nil, fmt.Errorf("anthropic auth provider is required")
	}

	if cfg.Method == "" {
		cfg.Method = claude.AuthMethodAPIKey
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.Retry == nil {
		cfg.Retry = &sdk.RetryConfig{
			MaxRetries:     2,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			BackoffFactor:  2.0,
			Jitter:         0.2,
			RetryIf:        claude.IsRetryable,
		}
	}

	if cfg.Breaker == nil {
		cfg.Breaker = sdk.NewCircuitBreaker("anthropic", 5, 30*time.Second)
	}

	return &Provider{
		auth:       cfg.Auth,
		method:     cfg.Method,
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		beta:       strings.Join(cfg.Beta, ","),
		timeout:    cfg.Timeout,
		client:     &http.Client{Timeout: cfg.Timeout},
		retry:      cfg.Retry,
		breaker:    cfg.Breaker,
		healthy:    true,
	}, nil
}

// NewWithAPIKey creates a transport that authenticates with a direct
// Anthropic API key via the x-api-key header.
func NewWithAPIKey(apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	return NewProvider(Config{
		Auth:   sdk.NewAPIKeyAuth(apiKey),
		Method: claude.AuthMethodAPIKey,
	})
}

// NewWithOAuth creates a transport that authenticates with an OAuth access
// token from the Claude CLI credential store. The API only accepts these
// tokens when the oauth beta header is present.
func NewWithOAuth(token string) (*Provider, error) {
	if token == "" {
		return nil, fmt.Errorf("anthropic OAuth token is required")
	}
	return NewProvider(Config{
		Auth:   sdk.NewBearerTokenAuth(token),
		Method: claude.AuthMethodCLI,
		Beta:   []string{OAuthBeta},
	})
}

// Name returns the transport name
func (p *Provider) Name() string {
	return "anthropic"
}

// Method returns the auth method this transport was built with
func (p *Provider) Method() claude.AuthMethod {
	return p.method
}

// SupportsStreaming indicates if the transport supports streaming
func (p *Provider) SupportsStreaming() bool {
	return true
}

// IsHealthy returns whether the transport is healthy
func (p *Provider) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy
}

// setHealthy updates the transport health status
func (p *Provider) setHealthy(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

// HealthCheck reports the transport's view from recent traffic.
// No upstream call is made; the Anthropic API has no free probe endpoint.
func (p *Provider) HealthCheck(ctx context.Context) (*claude.HealthCheckResult, error) {
	start := time.Now()

	result := &claude.HealthCheckResult{
		Status:      claude.HealthStatusHealthy,
		Message:     "anthropic API reachable",
		LastChecked: time.Now(),
	}
	if !p.IsHealthy() {
		result.Status = claude.HealthStatusDegraded
		result.Message = "last anthropic request failed"
	}
	result.Latency = time.Since(start)

	return result, nil
}

// Complete generates a completion for the given request. Retryable
// failures are retried with backoff; repeated failures open the circuit
// breaker so a dead upstream fails fast until the reset timeout.
func (p *Provider) Complete(ctx context.Context, req claude.Request) (*claude.Response, error) {
	return p.guard(ctx, true, func(ctx context.Context) (*claude.Response, error) {
		return p.completeOnce(ctx, req)
	})
}

// CompleteStream generates a streaming completion for the given request.
// Streams pass through the circuit breaker but are never retried here: a
// retry after the first delivered chunk would duplicate output, and the
// router already handles pre-delivery failover.
func (p *Provider) CompleteStream(ctx context.Context, req claude.Request, handler claude.StreamHandler) (*claude.Response, error) {
	return p.guard(ctx, false, func(ctx context.Context) (*claude.Response, error) {
		return p.streamOnce(ctx, req, handler)
	})
}

// guard routes a call through the retry policy and the circuit breaker
// when configured. Only retryable upstream failures count toward opening
// the breaker; auth and request-shaped errors say nothing about upstream
// health.
func (p *Provider) guard(ctx context.Context, withRetry bool, fn func(context.Context) (*claude.Response, error)) (*claude.Response, error) {
	attempt := fn
	if withRetry && p.retry != nil {
		attempt = func(ctx context.Context) (*claude.Response, error) {
			return sdk.RetryWithBackoff(ctx, *p.retry, fn)
		}
	}

	if p.breaker == nil {
		return attempt(ctx)
	}

	var resp *claude.Response
	var callErr error
	err := p.breaker.Execute(ctx, func() error {
		resp, callErr = attempt(ctx)
		if callErr != nil && !claude.IsRetryable(callErr) {
			return nil
		}
		return callErr
	})
	if err != nil {
		var open *sdk.CircuitBreakerOpenError
		if errors.As(err, &open) {
			return nil, claude.NewProviderError("anthropic", claude.ErrCodeUnavailable, open.Error())
		}
		return nil, err
	}
	return resp, callErr
}

// completeOnce performs a single non-streaming request attempt.
func (p *Provider) completeOnce(ctx context.Context, req claude.Request) (*claude.Response, error) {
	start := time.Now()

	reqBody, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if err := p.setHeaders(httpReq); err != nil {
		return nil, fmt.Errorf("failed to set auth headers: %w", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.setHealthy(false)
		return nil, claude.WrapProviderError("anthropic", claude.ErrCodeUnavailable, "request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			p.setHealthy(false)
		}
		return nil, p.parseAPIError(resp.StatusCode, body)
	}

	p.setHealthy(true)

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var contentBuilder strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			contentBuilder.WriteString(block.Text)
		}
	}

	return &claude.Response{
		Content:    contentBuilder.String(),
		Model:      apiResp.Model,
		StopReason: apiResp.StopReason,
		Usage: claude.Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
			TotalTokens:  apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// streamOnce performs a single streaming request attempt.
func (p *Provider) streamOnce(ctx context.Context, req claude.Request, handler claude.StreamHandler) (*claude.Response, error) {
	start := time.Now()

	reqBody, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if err := p.setHeaders(httpReq); err != nil {
		return nil, fmt.Errorf("failed to set auth headers: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.setHealthy(false)
		return nil, claude.WrapProviderError("anthropic", claude.ErrCodeUnavailable, "request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			p.setHealthy(false)
		}
		return nil, p.parseAPIError(resp.StatusCode, body)
	}

	p.setHealthy(true)

	return p.processStream(resp.Body, handler, start, req.Model)
}

// buildRequest converts the unified request into the Messages API wire shape
func (p *Provider) buildRequest(req claude.Request, stream bool) anthropicRequest {
	model := claude.ResolveModelAlias(req.Model)
	if model == "" {
		model = claude.DefaultModel
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	return anthropicRequest{
		Model:         model,
		Messages:      messages,
		MaxTokens:     maxTokens,
		System:        req.System,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
		Stream:        stream,
	}
}

// processStream processes the SSE stream from Anthropic
func (p *Provider) processStream(body io.Reader, handler claude.StreamHandler, start time.Time, model string) (*claude.Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	var usage claude.Usage
	var stopReason string
	var responseModel string

	for scanner.Scan() {
		line := scanner.Text()

		// Skip empty lines
		if line == "" {
			continue
		}

		// Parse SSE event
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // Skip malformed events
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				responseModel = event.Message.Model
				if event.Message.Usage != nil {
					usage.InputTokens = event.Message.Usage.InputTokens
				}
			}

		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" {
				contentBuilder.WriteString(event.Delta.Text)
				if handler != nil {
					if err := handler(claude.StreamChunk{
						Type:    "content",
						Content: event.Delta.Text,
						Done:    false,
					}); err != nil {
						return nil, fmt.Errorf("handler error: %w", err)
					}
				}
			}

		case "message_delta":
			if event.Delta != nil {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			if handler != nil {
				if err := handler(claude.StreamChunk{Type: "done", Done: true}); err != nil {
					return nil, fmt.Errorf("handler error: %w", err)
				}
			}

		case "error":
			if event.Error != nil {
				return nil, claude.NewProviderError("anthropic", codeForErrorType(0, event.Error.Type), event.Error.Message)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read error: %w", err)
	}

	if responseModel == "" {
		responseModel = claude.ResolveModelAlias(model)
	}

	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	return &claude.Response{
		Content:    contentBuilder.String(),
		Model:      responseModel,
		StopReason: stopReason,
		Usage:      usage,
		Latency:    time.Since(start),
	}, nil
}

// setHeaders sets the required headers for Anthropic API requests
func (p *Provider) setHeaders(req *http.Request) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", p.apiVersion)
	if p.beta != "" {
		req.Header.Set("anthropic-beta", p.beta)
	}
	return p.auth.Apply(req)
}

// parseAPIError parses an API error response and classifies it for the router
func (p *Provider) parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	perr := claude.NewProviderError("anthropic", codeForErrorType(statusCode, errResp.Error.Type), message)
	perr.StatusCode = statusCode
	return perr
}

// codeForErrorType maps Anthropic error types and HTTP statuses to the
// unified error codes the router keys failover on.
func codeForErrorType(statusCode int, apiType string) string {
	switch apiType {
	case "authentication_error", "permission_error":
		return claude.ErrCodeAuth
	case "rate_limit_error":
		return claude.ErrCodeRateLimit
	case "overloaded_error":
		return claude.ErrCodeOverloaded
	case "not_found_error":
		return claude.ErrCodeModelNotFound
	case "invalid_request_error":
		return claude.ErrCodeInvalidRequest
	case "api_error":
		return claude.ErrCodeServerError
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return claude.ErrCodeAuth
	case statusCode == http.StatusTooManyRequests:
		return claude.ErrCodeRateLimit
	case statusCode == http.StatusNotFound:
		return claude.ErrCodeModelNotFound
	case statusCode == 529:
		return claude.ErrCodeOverloaded
	case statusCode >= 500:
		return claude.ErrCodeServerError
	default:
		return claude.ErrCodeInvalidRequest
	}
}

// Internal API types

type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Role       string `json:"role"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type streamEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index,omitempty"`
	Message *struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Usage *struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage,omitempty"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type       string `json:"type,omitempty"`
		Text       string `json:"text,omitempty"`
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
