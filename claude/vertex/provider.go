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

// Package vertex implements the Google Vertex AI transport for Claude
// models. Authentication uses Application Default Credentials through an
// OAuth2-injecting HTTP client, so service accounts and workload identity
// work without an Anthropic API key.
package vertex

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	"axonflow/claude-wrapper/claude"
)

const (
	// DefaultRegion is the default Vertex AI region for Claude models
	DefaultRegion = "us-east5"

	// AnthropicVersion is the anthropic_version Vertex requires in the body
	AnthropicVersion = "vertex-2023-10-16"

	// CloudPlatformScope is the OAuth2 scope for Vertex AI calls
	CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 4096
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements the upstream transport against Vertex AI.
type Provider struct {
	project string
	region  string
	timeout time.Duration
	client  HTTPClient
	healthy bool
	mu      sync.RWMutex
}

var _ claude.Provider = (*Provider)(nil)

// Config contains configuration for the Vertex transport
type Config struct {
	Project         string        // Required: GCP project id
	Region          string        // Optional: Vertex region (default: us-east5)
	CredentialsFile string        // Optional: service account key path; ADC otherwise
	Timeout         time.Duration // Optional: HTTP timeout (default: 120s)
}

// NewProvider creates a new Vertex transport. The HTTP client injects
// OAuth2 tokens from Application Default Credentials on every request.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Project == "" {
		return nil, fmt.Errorf("vertex project id is required")
	}

	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := []option.ClientOption{
		option.WithScopes(CloudPlatformScope),
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	httpClient, _, err := htransport.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticated vertex client: %w", err)
	}
	httpClient.Timeout = cfg.Timeout

	return &Provider{
		project: cfg.Project,
		region:  cfg.Region,
		timeout: cfg.Timeout,
		client:  httpClient,
		healthy: true,
	}, nil
}

// Name returns the transport name
func (p *Provider) Name() string {
	return "vertex"
}

// Method returns the auth method this transport represents
func (p *Provider) Method() claude.AuthMethod {
	return claude.AuthMethodVertex
}

// SupportsStreaming indicates if the transport supports streaming
func (p *Provider) SupportsStreaming() bool {
	return true
}

// Project returns the configured GCP project id
func (p *Provider) Project() string {
	return p.project
}

// Region returns the configured Vertex region
func (p *Provider) Region() string {
	return p.region
}

// IsHealthy returns whether the transport is healthy
func (p *Provider) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy && p.project != ""
}

func (p *Provider) setHealthy(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

// HealthCheck reports the transport's view from recent traffic.
func (p *Provider) HealthCheck(ctx context.Context) (*claude.HealthCheckResult, error) {
	start := time.Now()

	result := &claude.HealthCheckResult{
		Status:      claude.HealthStatusHealthy,
		Message:     fmt.Sprintf("vertex reachable (project: %s, region: %s)", p.project, p.region),
		LastChecked: time.Now(),
	}
	if !p.IsHealthy() {
		result.Status = claude.HealthStatusDegraded
		result.Message = "last vertex request failed"
	}
	result.Latency = time.Since(start)

	return result, nil
}

// Complete generates a completion for the given request
func (p *Provider) Complete(ctx context.Context, req claude.Request) (*claude.Response, error) {
	start := time.Now()

	model := VertexModelID(req.Model)

	reqBody, err := json.Marshal(buildRequestBody(req, false))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint(model, "rawPredict"), bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.setHealthy(false)
		return nil, claude.WrapProviderError("vertex", claude.ErrCodeUnavailable, "request failed", err)
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

	var apiResp vertexResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var contentBuilder strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			contentBuilder.WriteString(block.Text)
		}
	}

	respModel := apiResp.Model
	if respModel == "" {
		respModel = model
	}

	return &claude.Response{
		Content:    contentBuilder.String(),
		Model:      respModel,
		StopReason: apiResp.StopReason,
		Usage: claude.Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
			TotalTokens:  apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// CompleteStream generates a streaming completion for the given request
func (p *Provider) CompleteStream(ctx context.Context, req claude.Request, handler claude.StreamHandler) (*claude.Response, error) {
	start := time.Now()

	model := VertexModelID(req.Model)

	reqBody, err := json.Marshal(buildRequestBody(req, true))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint(model, "streamRawPredict"), bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.setHealthy(false)
		return nil, claude.WrapProviderError("vertex", claude.ErrCodeUnavailable, "request failed", err)
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

	return p.processStream(resp.Body, handler, start, model)
}

// endpoint builds the publisher model URL for the given API verb.
func (p *Provider) endpoint(model, verb string) string {
	host := fmt.Sprintf("https://%s-aiplatform.googleapis.com", p.region)
	if p.region == "global" {
		host = "https://aiplatform.googleapis.com"
	}
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/anthropic/models/%s:%s",
		host, p.project, p.region, model, verb)
}

// datedModelSuffix matches dated Anthropic model ids like
// claude-sonnet-4-20250514.
var datedModelSuffix = regexp.MustCompile(`^(.*)-(\d{8})$`)

// vertexModelOverrides handles ids whose Vertex name differs beyond the
// date separator.
var vertexModelOverrides = map[string]string{
	claude.ModelClaude35Sonnet: "claude-3-5-sonnet-v2@20241022",
}

// VertexModelID converts a Claude model name to its Vertex publisher id.
// Vertex separates the version date with "@" instead of "-":
//
//	claude-sonnet-4-20250514 -> claude-sonnet-4@20250514
//	claude-3-5-sonnet-20241022 -> claude-3-5-sonnet-v2@20241022
//
// Ids already containing "@" pass through unchanged.
func VertexModelID(model string) string {
	if model == "" {
		model = claude.DefaultModel
	}
	if strings.Contains(model, "@") {
		return model
	}

	resolved := claude.ResolveModelAlias(model)
	if override, ok := vertexModelOverrides[resolved]; ok {
		return override
	}
	if m := datedModelSuffix.FindStringSubmatch(resolved); m != nil {
		return m[1] + "@" + m[2]
	}
	return resolved
}

// buildRequestBody builds the Messages API body for Vertex. The model is
// addressed in the URL, never in the body, and the API version rides in
// the body instead of a header.
func buildRequestBody(req claude.Request, stream bool) map[string]interface{} {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}

	body := map[string]interface{}{
		"anthropic_version": AnthropicVersion,
		"max_tokens":        maxTokens,
		"messages":          messages,
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.TopK != nil {
		body["top_k"] = *req.TopK
	}
	if len(req.StopSequences) > 0 {
		body["stop_sequences"] = req.StopSequences
	}
	if stream {
		body["stream"] = true
	}

	return body
}

// processStream processes the SSE stream from Vertex. Events use the
// standard Messages API stream shapes.
func (p *Provider) processStream(body io.Reader, handler claude.StreamHandler, start time.Time, model string) (*claude.Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	var usage claude.Usage
	var stopReason string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			continue
		}

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
			if event.Message != nil && event.Message.Usage != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
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
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read error: %w", err)
	}

	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	return &claude.Response{
		Content:    contentBuilder.String(),
		Model:      model,
		StopReason: stopReason,
		Usage:      usage,
		Latency:    time.Since(start),
	}, nil
}

// parseAPIError parses a Google API error response and classifies it.
func (p *Provider) parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	message := strings.TrimSpace(string(body))
	status := ""
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		status = errResp.Error.Status
	}

	perr := claude.NewProviderError("vertex", codeForStatus(statusCode, status), message)
	perr.StatusCode = statusCode
	return perr
}

// codeForStatus maps google.rpc status strings and HTTP statuses to the
// unified error codes.
func codeForStatus(statusCode int, rpcStatus string) string {
	switch rpcStatus {
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		return claude.ErrCodeAuth
	case "RESOURCE_EXHAUSTED":
		return claude.ErrCodeRateLimit
	case "NOT_FOUND":
		return claude.ErrCodeModelNotFound
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION":
		return claude.ErrCodeInvalidRequest
	case "DEADLINE_EXCEEDED":
		return claude.ErrCodeTimeout
	case "UNAVAILABLE":
		return claude.ErrCodeUnavailable
	case "INTERNAL":
		return claude.ErrCodeServerError
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return claude.ErrCodeAuth
	case statusCode == http.StatusTooManyRequests:
		return claude.ErrCodeRateLimit
	case statusCode == http.StatusNotFound:
		return claude.ErrCodeModelNotFound
	case statusCode >= 500:
		return claude.ErrCodeServerError
	default:
		return claude.ErrCodeInvalidRequest
	}
}

// SetHTTPClient sets a custom HTTP client for testing.
func (p *Provider) SetHTTPClient(client HTTPClient) {
	p.client = client
}

// Internal API types

type vertexResponse struct {
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
	Message *struct {
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
}
