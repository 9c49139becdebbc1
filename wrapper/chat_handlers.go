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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"axonflow/claude-wrapper/adapter"
	"axonflow/claude-wrapper/claude"
	"axonflow/claude-wrapper/claude/auth"
	"axonflow/claude-wrapper/common/usage"
)

// chatCompletionsHandler serves POST /v1/chat/completions, the main
// OpenAI-compatible endpoint. Streaming and non-streaming share the
// request pipeline up to the upstream call.
func chatCompletionsHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	atomic.AddInt64(&wrapperMetrics.totalRequests, 1)
	requestID := fmt.Sprintf("req_%d", time.Now().UnixNano())

	// 1. Authenticate the caller
	clientID, err := authenticateRequest(r)
	if err != nil {
		atomic.AddInt64(&wrapperMetrics.failedRequests, 1)
		promRequestsTotal.WithLabelValues("chat_completions", "unauthorized").Inc()
		writeOpenAIError(w, http.StatusUnauthorized, "Authentication failed: "+err.Error(), "authentication_error", "")
		return
	}

	// 2. Decode and validate the request
	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		failChatRequest(w, clientID, requestID, http.StatusBadRequest, "Invalid request body: "+err.Error(), "")
		return
	}
	if err := validateChatRequest(&req); err != nil {
		failChatRequest(w, clientID, requestID, http.StatusBadRequest, err.Error(), "")
		return
	}
	if !claude.IsValidModel(req.Model) {
		failChatRequest(w, clientID, requestID, http.StatusNotFound,
			fmt.Sprintf("The model '%s' does not exist or is not a Claude model", req.Model), "model_not_found")
		return
	}
	model := claude.ResolveModelAlias(req.Model)

	// 3. Rate limit by client identity
	if wrapperConfig.RateLimitPerMinute > 0 {
		if err := checkRateLimitRedis(r.Context(), clientID, wrapperConfig.RateLimitPerMinute); err != nil {
			w.Header().Set("Retry-After", "60")
			failChatRequest(w, clientID, requestID, http.StatusTooManyRequests, err.Error(), "rate_limit_exceeded")
			return
		}
	}

	// 4. Prepend session history when the client named a session
	messages := req.Messages
	if req.SessionID != "" {
		if history := sessionManager.History(req.SessionID); len(history) > 0 {
			merged := make([]adapter.ChatMessage, 0, len(history)+len(req.Messages))
			merged = append(merged, history...)
			merged = append(merged, req.Messages...)
			messages = merged
		}
	}

	// 5. Translate OpenAI messages into a Claude request
	system, turns, err := adapter.MessagesToRequest(messages)
	if err != nil {
		failChatRequest(w, clientID, requestID, http.StatusBadRequest, err.Error(), "")
		return
	}

	maxTokens := wrapperConfig.DefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	claudeReq := claude.Request{
		Model:         model,
		System:        system,
		Messages:      turns,
		MaxTokens:     maxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.stopSequences(),
		Stream:        req.Stream,
	}

	// 6. Resolve the provider chain. This is where a wrapper with no
	// usable Claude credentials turns requests away with 401.
	ctx, cancel := context.WithTimeout(r.Context(), wrapperConfig.RequestTimeout)
	defer cancel()

	router, err := getRouter(ctx)
	if err != nil {
		status := writeCompletionError(w, err)
		finishChatMetrics(clientID, requestID, req.SessionID, nil, claude.Usage{}, req.Stream, startTime, status)
		return
	}

	if req.Stream {
		streamChatCompletion(ctx, w, router, claudeReq, &req, clientID, requestID, startTime)
		return
	}

	// 7. Non-streaming completion
	resp, route, err := router.Complete(ctx, claudeReq)
	if err != nil {
		status := writeCompletionError(w, err)
		finishChatMetrics(clientID, requestID, req.SessionID, route, claude.Usage{}, false, startTime, status)
		return
	}

	content := filterCompletion(resp.Content, req.EnableTools)
	tokens := usageOrEstimate(resp.Usage, system, turns, content)
	completion := ChatCompletionResponse{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   responseModel(resp, model),
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ChatResponseMessage{Role: "assistant", Content: content},
			FinishReason: adapter.MapFinishReason(resp.StopReason),
		}},
		Usage: UsageInfo{
			PromptTokens:     tokens.InputTokens,
			CompletionTokens: tokens.OutputTokens,
			TotalTokens:      tokens.TotalTokens,
		},
	}

	// 8. Record the exchange before responding so an immediate follow-up
	// request sees it in the session history
	appendExchange(req.SessionID, req.Messages, content)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(completion); err != nil {
		log.Printf("Error writing completion response: %v", err)
	}

	atomic.AddInt64(&wrapperMetrics.successRequests, 1)
	finishChatMetrics(clientID, requestID, req.SessionID, route, tokens, false, startTime, http.StatusOK)
}

// appendExchange stores the client's new messages plus the assistant
// reply in the named session. No-op for empty session IDs.
func appendExchange(sessionID string, clientMessages []adapter.ChatMessage, assistantContent string) {
	if sessionID == "" {
		return
	}
	toAppend := make([]adapter.ChatMessage, 0, len(clientMessages)+1)
	toAppend = append(toAppend, clientMessages...)
	toAppend = append(toAppend, adapter.ChatMessage{Role: "assistant", Content: assistantContent})
	sessionManager.Append(sessionID, toAppend...)
}

// responseModel picks the model id to report: what upstream actually
// served when known, otherwise what was requested.
func responseModel(resp *claude.Response, requested string) string {
	if resp != nil && resp.Model != "" {
		return resp.Model
	}
	return requested
}

// filterCompletion strips model-internal markup from assistant output,
// honoring the request's tool passthrough extension.
func filterCompletion(content string, enableTools bool) string {
	if enableTools {
		return adapter.FilterContentKeepTools(content)
	}
	return adapter.FilterContent(content)
}

// usageOrEstimate returns the upstream token usage, or the length-based
// estimate when the provider reported none.
func usageOrEstimate(reported claude.Usage, system string, turns []claude.Message, completion string) claude.Usage {
	if reported.TotalTokens > 0 {
		return reported
	}
	in := adapter.EstimateMessagesTokens(system, turns)
	out := adapter.EstimateTokens(completion)
	return claude.Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}

// failChatRequest writes an error response for a request that never
// reached the upstream and records failure metrics.
func failChatRequest(w http.ResponseWriter, clientID, requestID string, statusCode int, message, code string) {
	atomic.AddInt64(&wrapperMetrics.failedRequests, 1)
	promRequestsTotal.WithLabelValues("chat_completions", "failed").Inc()
	wrapperLogger.Warn(clientID, requestID, "chat completion rejected", map[string]interface{}{
		"status_code": statusCode,
		"reason":      message,
	})
	writeOpenAIError(w, statusCode, message, errorTypeForStatus(statusCode), code)
}

// writeCompletionError translates an upstream or credential error into
// the OpenAI error envelope and returns the HTTP status it chose.
func writeCompletionError(w http.ResponseWriter, err error) int {
	var noCreds *auth.NoCredentialsError
	if errors.As(err, &noCreds) {
		writeOpenAIError(w, http.StatusUnauthorized, noCreds.Error(), "authentication_error", "no_credentials")
		return http.StatusUnauthorized
	}

	statusCode := claude.StatusCodeOf(err)
	if statusCode == 0 {
		if errors.Is(err, context.DeadlineExceeded) {
			statusCode = http.StatusGatewayTimeout
		} else {
			statusCode = http.StatusBadGateway
		}
	}
	writeOpenAIError(w, statusCode, err.Error(), errorTypeForStatus(statusCode), errorCodeOf(err))
	return statusCode
}

// finishChatMetrics records latency, Prometheus counters, the in-memory
// usage tracker and the async database event for one completion.
func finishChatMetrics(clientID, requestID, sessionID string, route *claude.RouteInfo, tokens claude.Usage, stream bool, startTime time.Time, statusCode int) {
	latencyMs := time.Since(startTime).Milliseconds()
	wrapperMetrics.recordLatency(latencyMs)
	promRequestDuration.WithLabelValues("chat_completions").Observe(float64(latencyMs))

	if statusCode == http.StatusOK {
		promRequestsTotal.WithLabelValues("chat_completions", "success").Inc()
	} else {
		atomic.AddInt64(&wrapperMetrics.failedRequests, 1)
		promRequestsTotal.WithLabelValues("chat_completions", "failed").Inc()
	}

	provider := ""
	method := ""
	model := ""
	if route != nil {
		provider = route.Provider
		method = string(route.Method)
		model = route.Model
		if route.FailedOver {
			promFailoversTotal.Inc()
		}
	}

	if statusCode == http.StatusOK {
		usageTracker.Track(provider, model, tokens.InputTokens, tokens.OutputTokens)
		promTokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(tokens.InputTokens))
		promTokensTotal.WithLabelValues(provider, model, "completion").Add(float64(tokens.OutputTokens))
	}

	wrapperLogger.InfoWithDuration(clientID, requestID, "chat completion", float64(latencyMs), map[string]interface{}{
		"provider":    provider,
		"model":       model,
		"stream":      stream,
		"status_code": statusCode,
		"tokens":      tokens.TotalTokens,
	})

	// Record usage asynchronously (don't block response)
	if usageRecorder.Enabled() {
		event := usage.RequestEvent{
			ClientID:         clientID,
			RequestID:        requestID,
			SessionID:        sessionID,
			InstanceID:       wrapperConfig.InstanceID,
			Provider:         provider,
			Method:           method,
			Model:            model,
			PromptTokens:     tokens.InputTokens,
			CompletionTokens: tokens.OutputTokens,
			TotalTokens:      tokens.TotalTokens,
			Stream:           stream,
			LatencyMs:        latencyMs,
			HTTPStatusCode:   statusCode,
		}
		go func() {
			_ = usageRecorder.RecordRequest(event)
		}()
	}
}

// writeOpenAIError writes an OpenAI-shaped error envelope
func writeOpenAIError(w http.ResponseWriter, statusCode int, message, errType, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorDetail{
		Message: message,
		Type:    errType,
		Code:    code,
	}}); err != nil {
		log.Printf("Error encoding error response: %v", err)
	}
}
