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

package wrapper

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"axonflow/claude-wrapper/adapter"
	"axonflow/claude-wrapper/claude"
)

// OpenAI-compatible wire types. Field names and JSON shapes follow the
// OpenAI Chat Completions API so existing clients work unmodified.

// ChatCompletionRequest is the POST /v1/chat/completions body.
type ChatCompletionRequest struct {
	Model       string                `json:"model"`
	Messages    []adapter.ChatMessage `json:"messages"`
	Temperature *float64              `json:"temperature,omitempty"`
	TopP        *float64              `json:"top_p,omitempty"`
	N           *int                  `json:"n,omitempty"`
	Stream      bool                  `json:"stream,omitempty"`
	Stop        interface{}           `json:"stop,omitempty"`
	MaxTokens   *int                  `json:"max_tokens,omitempty"`
	User        string                `json:"user,omitempty"`

	// SessionID is a wrapper extension: when set, prior messages from
	// the named session are prepended and the exchange is recorded.
	SessionID string `json:"session_id,omitempty"`

	// EnableTools is a wrapper extension: tool-invocation XML in the
	// assistant output is passed through instead of stripped, for
	// clients that parse tool calls out of the text themselves.
	EnableTools bool `json:"enable_tools,omitempty"`
}

// stopSequences normalizes the polymorphic "stop" field (string or
// array of strings) into a slice.
func (r *ChatCompletionRequest) stopSequences() []string {
	switch v := r.Stop.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ChatResponseMessage is the assistant message inside a choice.
type ChatResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatChoice is one completion choice. Claude produces exactly one.
type ChatChoice struct {
	Index        int                 `json:"index"`
	Message      ChatResponseMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

// UsageInfo is the OpenAI token usage block.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the non-streaming response body.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   UsageInfo    `json:"usage"`
}

// ChunkDelta carries the incremental fields of a streaming choice.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice is one choice inside a streaming chunk. FinishReason is
// a pointer so intermediate chunks serialize it as null.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChatCompletionChunk is one SSE event body in a streaming response.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *UsageInfo    `json:"usage,omitempty"`
}

// ModelInfo is one entry in the GET /v1/models response. Capabilities
// is a wrapper extension beyond the OpenAI schema.
type ModelInfo struct {
	ID           string                    `json:"id"`
	Object       string                    `json:"object"`
	Created      int64                     `json:"created"`
	OwnedBy      string                    `json:"owned_by"`
	Capabilities *claude.ModelCapabilities `json:"capabilities,omitempty"`
}

// ModelList is the GET /v1/models response body.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ErrorDetail is the inner error object of an OpenAI error response.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ErrorResponse is the OpenAI error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// newCompletionID generates a chat completion ID in the OpenAI format.
func newCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// errorTypeForStatus maps an HTTP status to the OpenAI error type
// vocabulary clients switch on.
func errorTypeForStatus(statusCode int) string {
	switch {
	case statusCode == 401:
		return "authentication_error"
	case statusCode == 403:
		return "permission_error"
	case statusCode == 404:
		return "invalid_request_error"
	case statusCode == 429:
		return "rate_limit_error"
	case statusCode >= 500:
		return "api_error"
	default:
		return "invalid_request_error"
	}
}

// errorCodeOf extracts the machine-readable error code from upstream
// provider errors so it survives the translation to OpenAI shape.
func errorCodeOf(err error) string {
	var provErr *claude.ProviderError
	if errors.As(err, &provErr) {
		return provErr.Code
	}
	return ""
}

// validateChatRequest checks the request invariants shared by the
// streaming and non-streaming paths. The returned message is safe to
// send to clients.
func validateChatRequest(req *ChatCompletionRequest) error {
	if req.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	if req.N != nil && *req.N > 1 {
		return fmt.Errorf("n > 1 is not supported: Claude produces a single completion")
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if req.TopP != nil && (*req.TopP < 0 || *req.TopP > 1) {
		return fmt.Errorf("top_p must be between 0 and 1")
	}
	return nil
}
