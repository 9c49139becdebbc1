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

// Package claude provides a unified interface and types for the upstream
// Claude transports used by the wrapper. The same request/response shapes
// flow through the direct Anthropic API, AWS Bedrock, and Google Vertex AI,
// which lets the HTTP layer stay ignorant of the credential source in use.
package claude

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AuthMethod identifies the upstream credential source a provider uses.
// Methods are tried in a fixed fallback order; see auth.go.
type AuthMethod string

const (
	// AuthMethodCLI uses the OAuth token stored by the Claude CLI
	// (keychain on macOS, credentials file elsewhere).
	AuthMethodCLI AuthMethod = "claude-cli"

	// AuthMethodAPIKey uses a direct Anthropic API key.
	AuthMethodAPIKey AuthMethod = "api-key"

	// AuthMethodBedrock routes requests through AWS Bedrock.
	AuthMethodBedrock AuthMethod = "bedrock"

	// AuthMethodVertex routes requests through Google Vertex AI.
	AuthMethodVertex AuthMethod = "vertex"

	// AuthMethodNone indicates no upstream credentials were found.
	AuthMethodNone AuthMethod = "none"
)

// Message is a single conversation turn sent upstream.
// Role is "user" or "assistant"; system content travels separately.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request encapsulates all parameters for an upstream completion request.
// This is the unified request type used across all transports.
type Request struct {
	// Model is the Claude model id (e.g. "claude-sonnet-4-20250514").
	Model string `json:"model"`

	// System is an optional system prompt.
	System string `json:"system,omitempty"`

	// Messages is the full conversation history, oldest first.
	Messages []Message `json:"messages"`

	// MaxTokens limits the maximum number of tokens in the response.
	// If 0, transport defaults are used.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness. Nil means transport default;
	// 0.0 is a valid deterministic setting.
	Temperature *float64 `json:"temperature,omitempty"`

	// TopP is the nucleus sampling parameter (0.0 to 1.0).
	TopP *float64 `json:"top_p,omitempty"`

	// TopK limits sampling to the top K tokens.
	TopK *int `json:"top_k,omitempty"`

	// StopSequences are strings that cause generation to stop.
	StopSequences []string `json:"stop_sequences,omitempty"`

	// Stream enables streaming response mode.
	// When true, use CompleteStream instead of Complete.
	Stream bool `json:"stream,omitempty"`

	// Metadata contains request-scoped context (client id, session id).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Response contains the result of an upstream completion.
type Response struct {
	// Content is the generated text.
	Content string `json:"content"`

	// Model is the actual model used (may differ from requested).
	Model string `json:"model"`

	// StopReason is the upstream stop reason
	// ("end_turn", "max_tokens", "stop_sequence", "tool_use").
	StopReason string `json:"stop_reason,omitempty"`

	// Usage contains token usage statistics.
	Usage Usage `json:"usage"`

	// Latency is the time taken to generate the response.
	Latency time.Duration `json:"latency"`
}

// Usage tracks token usage for billing and monitoring.
type Usage struct {
	// InputTokens is the number of tokens in the input.
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the number of tokens generated.
	OutputTokens int `json:"output_tokens"`

	// TotalTokens is the sum of input and output tokens.
	TotalTokens int `json:"total_tokens"`
}

// StreamChunk represents a single chunk in a streaming response.
type StreamChunk struct {
	// Type identifies the chunk type: "content", "done", "error".
	Type string `json:"type"`

	// Content is the text content of this chunk.
	Content string `json:"content,omitempty"`

	// Done indicates this is the final chunk.
	Done bool `json:"done"`
}

// StreamHandler is a callback function for processing streaming chunks.
// Return an error to abort the stream.
type StreamHandler func(chunk StreamChunk) error

// HealthStatus represents the health state of a transport.
type HealthStatus string

const (
	// HealthStatusHealthy indicates the transport is operational.
	HealthStatusHealthy HealthStatus = "healthy"

	// HealthStatusDegraded indicates the transport is working but with issues.
	HealthStatusDegraded HealthStatus = "degraded"

	// HealthStatusUnhealthy indicates the transport is not operational.
	HealthStatusUnhealthy HealthStatus = "unhealthy"

	// HealthStatusUnknown indicates health hasn't been checked yet.
	HealthStatusUnknown HealthStatus = "unknown"
)

// HealthCheckResult contains detailed health check information.
type HealthCheckResult struct {
	// Status is the overall health status.
	Status HealthStatus `json:"status"`

	// Latency is the time taken for the health check.
	Latency time.Duration `json:"latency"`

	// Message provides additional context about the status.
	Message string `json:"message,omitempty"`

	// LastChecked is when the health check was performed.
	LastChecked time.Time `json:"last_checked"`
}

// Error types for upstream operations.

// ProviderError represents an error from an upstream transport.
type ProviderError struct {
	// Provider is the name of the transport that returned the error.
	Provider string `json:"provider"`

	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// StatusCode is the HTTP status code (if applicable).
	StatusCode int `json:"status_code,omitempty"`

	// Retryable indicates if the request can be retried.
	Retryable bool `json:"retryable"`

	// Cause is the underlying error (if any).
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Common error codes.
const (
	// ErrCodeRateLimit indicates rate limiting.
	ErrCodeRateLimit = "rate_limit"

	// ErrCodeAuth indicates authentication failure.
	ErrCodeAuth = "authentication_error"

	// ErrCodeInvalidRequest indicates a malformed request.
	ErrCodeInvalidRequest = "invalid_request"

	// ErrCodeModelNotFound indicates the requested model doesn't exist.
	ErrCodeModelNotFound = "model_not_found"

	// ErrCodeContextLength indicates input exceeds the context window.
	ErrCodeContextLength = "context_length_exceeded"

	// ErrCodeOverloaded indicates the upstream API is overloaded.
	ErrCodeOverloaded = "overloaded_error"

	// ErrCodeServerError indicates an upstream server error.
	ErrCodeServerError = "server_error"

	// ErrCodeTimeout indicates a request timeout.
	ErrCodeTimeout = "timeout"

	// ErrCodeUnavailable indicates the transport is unavailable.
	ErrCodeUnavailable = "unavailable"
)

// NewProviderError creates a new ProviderError with retryability derived
// from the error code.
func NewProviderError(provider, code, message string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: isRetryableCode(code),
	}
}

// WrapProviderError wraps an underlying error with provider context.
func WrapProviderError(provider, code, message string, cause error) *ProviderError {
	err := NewProviderError(provider, code, message)
	err.Cause = cause
	return err
}

// isRetryableCode determines if an error code is retryable.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRateLimit, ErrCodeOverloaded, ErrCodeServerError, ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is a retryable upstream error.
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsAuthError reports whether err is an upstream authentication failure.
// The wrapper maps these to HTTP 401 with a human-readable cause.
func IsAuthError(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Code == ErrCodeAuth
	}
	return false
}

// StatusCodeOf returns the upstream HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.StatusCode
	}
	return 0
}
