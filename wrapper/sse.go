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
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"axonflow/claude-wrapper/adapter"
	"axonflow/claude-wrapper/claude"
)

// streamChatCompletion serves the stream=true path of POST
// /v1/chat/completions as Server-Sent Events in the OpenAI chunk
// format: a role delta first, content deltas, a finish_reason chunk
// with usage, then the [DONE] sentinel.
func streamChatCompletion(ctx context.Context, w http.ResponseWriter, router *claude.Router, claudeReq claude.Request, req *ChatCompletionRequest, clientID, requestID string, startTime time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		failChatRequest(w, clientID, requestID, http.StatusInternalServerError, "Streaming is not supported by this server", "")
		return
	}

	atomic.AddInt64(&wrapperMetrics.streamingRequests, 1)
	promActiveStreams.Inc()
	defer promActiveStreams.Dec()

	completionID := newCompletionID()
	created := time.Now().Unix()
	filter := adapter.NewStreamFilter()
	if req.EnableTools {
		filter = adapter.NewStreamFilterKeepTools()
	}
	streamOpen := false

	writeEvent := func(payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	contentChunk := func(content string) ChatCompletionChunk {
		return ChatCompletionChunk{
			ID:      completionID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   claudeReq.Model,
			Choices: []ChunkChoice{{Index: 0, Delta: ChunkDelta{Content: content}}},
		}
	}

	// openStream sends headers and the initial role delta. Deferred to
	// the first content so pre-stream failures can still use a plain
	// HTTP error status.
	openStream := func() error {
		if streamOpen {
			return nil
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		streamOpen = true
		return writeEvent(ChatCompletionChunk{
			ID:      completionID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   claudeReq.Model,
			Choices: []ChunkChoice{{Index: 0, Delta: ChunkDelta{Role: "assistant"}}},
		})
	}

	handler := func(chunk claude.StreamChunk) error {
		if chunk.Type != "content" || chunk.Content == "" {
			return nil
		}
		delta := filter.Push(chunk.Content)
		if delta == "" {
			return nil
		}
		if err := openStream(); err != nil {
			return err
		}
		return writeEvent(contentChunk(delta))
	}

	resp, route, err := router.CompleteStream(ctx, claudeReq, handler)
	if err != nil {
		if !streamOpen {
			// Nothing delivered yet: plain HTTP error response
			status := writeCompletionError(w, err)
			finishChatMetrics(clientID, requestID, req.SessionID, route, claude.Usage{}, true, startTime, status)
			return
		}

		// Mid-stream failure: the status line is already sent, so the
		// error travels as an SSE event followed by the sentinel
		statusCode := claude.StatusCodeOf(err)
		if statusCode == 0 {
			statusCode = http.StatusBadGateway
		}
		if werr := writeEvent(ErrorResponse{Error: ErrorDetail{
			Message: err.Error(),
			Type:    errorTypeForStatus(statusCode),
			Code:    errorCodeOf(err),
		}}); werr != nil {
			log.Printf("Error writing stream error event: %v", werr)
		}
		if _, werr := fmt.Fprint(w, "data: [DONE]\n\n"); werr == nil {
			flusher.Flush()
		}
		finishChatMetrics(clientID, requestID, req.SessionID, route, claude.Usage{}, true, startTime, statusCode)
		return
	}

	// Remainder withheld by the filter (or the whole response when it
	// was a single suppressed block)
	if rem := filter.Flush(); rem != "" {
		if err := openStream(); err == nil {
			if werr := writeEvent(contentChunk(rem)); werr != nil {
				log.Printf("Error writing stream remainder: %v", werr)
			}
		}
	}

	// Even an empty completion produces the role delta before the close
	if err := openStream(); err != nil {
		log.Printf("Error opening stream for final chunk: %v", err)
		finishChatMetrics(clientID, requestID, req.SessionID, route, resp.Usage, true, startTime, http.StatusBadGateway)
		return
	}

	content := filter.Content()
	tokens := usageOrEstimate(resp.Usage, claudeReq.System, claudeReq.Messages, content)

	finishReason := adapter.MapFinishReason(resp.StopReason)
	final := ChatCompletionChunk{
		ID:      completionID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   responseModel(resp, claudeReq.Model),
		Choices: []ChunkChoice{{Index: 0, Delta: ChunkDelta{}, FinishReason: &finishReason}},
		Usage: &UsageInfo{
			PromptTokens:     tokens.InputTokens,
			CompletionTokens: tokens.OutputTokens,
			TotalTokens:      tokens.TotalTokens,
		},
	}
	if err := writeEvent(final); err != nil {
		log.Printf("Error writing final stream chunk: %v", err)
	}
	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err == nil {
		flusher.Flush()
	}

	appendExchange(req.SessionID, req.Messages, content)

	atomic.AddInt64(&wrapperMetrics.successRequests, 1)
	finishChatMetrics(clientID, requestID, req.SessionID, route, tokens, true, startTime, http.StatusOK)
}
