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

// Package bedrock implements the AWS Bedrock transport for Claude models.
// Requests are signed with AWS Signature V4 through the SDK, so IAM roles,
// instance profiles, and static credentials all work without an Anthropic
// API key.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"axonflow/claude-wrapper/claude"
)

const (
	// DefaultRegion is used when no AWS region is configured
	DefaultRegion = "us-east-1"

	// AnthropicVersion is the anthropic_version Bedrock requires in the body
	AnthropicVersion = "bedrock-2023-05-31"

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 4096
)

// inferenceProfilePrefixes are the known Bedrock inference profile prefixes.
var inferenceProfilePrefixes = []string{"eu", "us", "apac", "global"}

// BedrockAPI captures the bedrockruntime operations the transport uses
// (enables testing)
type BedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

// Provider implements the upstream transport against AWS Bedrock.
type Provider struct {
	client  BedrockAPI
	region  string
	profile string
	healthy bool
	mu      sync.RWMutex
}

var _ claude.Provider = (*Provider)(nil)

// Config contains configuration for the Bedrock transport
type Config struct {
	Region           string // Optional: AWS region (default: us-east-1)
	InferenceProfile string // Optional: inference profile prefix (eu, us, apac, global)
	AccessKeyID      string // Optional: static credentials; default chain otherwise
	SecretAccessKey  string // Optional: static credentials
	SessionToken     string // Optional: static credentials
}

// NewProvider creates a new Bedrock transport. The default AWS credential
// chain is used unless static credentials are configured.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	// Use explicit credentials if provided, otherwise use default credential chain
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		optFns = append(optFns, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", cfg.Region, err)
	}

	return &Provider{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		region:  cfg.Region,
		profile: cfg.InferenceProfile,
		healthy: true,
	}, nil
}

// Name returns the transport name
func (p *Provider) Name() string {
	return "bedrock"
}

// Method returns the auth method this transport represents
func (p *Provider) Method() claude.AuthMethod {
	return claude.AuthMethodBedrock
}

// SupportsStreaming indicates if the transport supports streaming
func (p *Provider) SupportsStreaming() bool {
	return true
}

// Region returns the configured AWS region
func (p *Provider) Region() string {
	return p.region
}

// IsHealthy returns whether the transport is healthy
func (p *Provider) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy && p.region != ""
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
		Message:     fmt.Sprintf("bedrock reachable (region: %s)", p.region),
		LastChecked: time.Now(),
	}
	if !p.IsHealthy() {
		result.Status = claude.HealthStatusDegraded
		result.Message = "last bedrock request failed"
	}
	result.Latency = time.Since(start)

	return result, nil
}

// Complete generates a completion for the given request
func (p *Provider) Complete(ctx context.Context, req claude.Request) (*claude.Response, error) {
	start := time.Now()

	modelID := p.modelID(req.Model)

	requestJSON, err := json.Marshal(buildRequestBody(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		p.setHealthy(false)
		return nil, classifyAWSError(err)
	}

	p.setHealthy(true)

	var apiResp bedrockResponse
	if err := json.Unmarshal(output.Body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var contentBuilder strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			contentBuilder.WriteString(block.Text)
		}
	}

	model := apiResp.Model
	if model == "" {
		model = modelID
	}

	return &claude.Response{
		Content:    contentBuilder.String(),
		Model:      model,
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

	modelID := p.modelID(req.Model)

	requestJSON, err := json.Marshal(buildRequestBody(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(modelID),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		p.setHealthy(false)
		return nil, classifyAWSError(err)
	}

	p.setHealthy(true)

	stream := output.GetStream()
	defer func() {
		_ = stream.Close()
	}()

	var contentBuilder strings.Builder
	var usage claude.Usage
	var stopReason string

	for event := range stream.Events() {
		chunk, ok := event.(*types.ResponseStreamMemberChunk)
		if !ok {
			continue
		}

		// Each chunk carries one Messages API stream event as JSON
		var streamEv streamEvent
		if err := json.Unmarshal(chunk.Value.Bytes, &streamEv); err != nil {
			continue
		}

		switch streamEv.Type {
		case "message_start":
			if streamEv.Message != nil && streamEv.Message.Usage != nil {
				usage.InputTokens = streamEv.Message.Usage.InputTokens
			}

		case "content_block_delta":
			if streamEv.Delta != nil && streamEv.Delta.Type == "text_delta" {
				contentBuilder.WriteString(streamEv.Delta.Text)
				if handler != nil {
					if err := handler(claude.StreamChunk{
						Type:    "content",
						Content: streamEv.Delta.Text,
						Done:    false,
					}); err != nil {
						return nil, fmt.Errorf("handler error: %w", err)
					}
				}
			}

		case "message_delta":
			if streamEv.Delta != nil {
				stopReason = streamEv.Delta.StopReason
			}
			if streamEv.Usage != nil {
				usage.OutputTokens = streamEv.Usage.OutputTokens
			}

		case "message_stop":
			if handler != nil {
				if err := handler(claude.StreamChunk{Type: "done", Done: true}); err != nil {
					return nil, fmt.Errorf("handler error: %w", err)
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		p.setHealthy(false)
		return nil, classifyAWSError(err)
	}

	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	return &claude.Response{
		Content:    contentBuilder.String(),
		Model:      modelID,
		StopReason: stopReason,
		Usage:      usage,
		Latency:    time.Since(start),
	}, nil
}

// modelID maps a Claude model name to its Bedrock model or inference
// profile id. Native Bedrock ids pass through unchanged.
func (p *Provider) modelID(model string) string {
	return ModelID(model, p.profile)
}

// ModelID converts a Claude model name to a Bedrock model id.
//
//	claude-sonnet-4-20250514         -> anthropic.claude-sonnet-4-20250514-v1:0
//	claude-sonnet-4 (alias)          -> anthropic.claude-sonnet-4-20250514-v1:0
//	anthropic.claude-...-v1:0        -> unchanged
//	eu.anthropic.claude-...-v1:0     -> unchanged
//
// A non-empty profile ("eu", "us", "apac", "global") is prepended to
// mapped ids for cross-region inference.
func ModelID(model, profile string) string {
	if model == "" {
		model = claude.DefaultModel
	}

	// Native Bedrock ids and inference profile ids contain a dot
	if strings.Contains(model, ".") {
		return model
	}

	resolved := claude.ResolveModelAlias(model)
	id := "anthropic." + resolved + "-v1:0"

	for _, prefix := range inferenceProfilePrefixes {
		if profile == prefix {
			return profile + "." + id
		}
	}
	return id
}

// buildRequestBody builds the anthropic-family Bedrock request body.
// Bedrock carries the API version inside the body instead of a header;
// streaming is selected by the Invoke operation, not a body field.
func buildRequestBody(req claude.Request) map[string]interface{} {
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

	return body
}

// classifyAWSError maps Bedrock SDK errors to the unified error codes.
func classifyAWSError(err error) error {
	var (
		accessDenied *types.AccessDeniedException
		throttled    *types.ThrottlingException
		quota        *types.ServiceQuotaExceededException
		notFound     *types.ResourceNotFoundException
		validation   *types.ValidationException
		modelTimeout *types.ModelTimeoutException
		notReady     *types.ModelNotReadyException
		internal     *types.InternalServerException
		modelErr     *types.ModelErrorException
	)

	code := claude.ErrCodeUnavailable
	switch {
	case errors.As(err, &accessDenied):
		code = claude.ErrCodeAuth
	case errors.As(err, &throttled):
		code = claude.ErrCodeRateLimit
	case errors.As(err, &quota):
		code = claude.ErrCodeRateLimit
	case errors.As(err, &notFound):
		code = claude.ErrCodeModelNotFound
	case errors.As(err, &validation):
		code = claude.ErrCodeInvalidRequest
	case errors.As(err, &modelTimeout):
		code = claude.ErrCodeTimeout
	case errors.As(err, &notReady):
		code = claude.ErrCodeUnavailable
	case errors.As(err, &internal):
		code = claude.ErrCodeServerError
	case errors.As(err, &modelErr):
		code = claude.ErrCodeServerError
	}

	return claude.WrapProviderError("bedrock", code, err.Error(), err)
}

// Internal API types

type bedrockResponse struct {
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
