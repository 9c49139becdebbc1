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

package usage

import (
	"sync"
	"time"
)

// historyLimit bounds the per-request history kept in memory. The
// aggregate totals keep accumulating past the limit.
const historyLimit = 1024

// Record is one tracked completion
type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
}

// Summary aggregates tracked usage for reporting
type Summary struct {
	TotalPromptTokens      int64   `json:"total_prompt_tokens"`
	TotalCompletionTokens  int64   `json:"total_completion_tokens"`
	TotalTokens            int64   `json:"total_tokens"`
	Completions            int64   `json:"completions"`
	AvgTokensPerCompletion float64 `json:"avg_tokens_per_completion"`
}

// Tracker accumulates token usage in memory. It backs the usage
// endpoint and needs no database.
type Tracker struct {
	mu               sync.RWMutex
	promptTokens     int64
	completionTokens int64
	completions      int64
	history          []Record

	now func() time.Time
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Track adds one completed request to the running totals
func (t *Tracker) Track(provider, model string, promptTokens, completionTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.promptTokens += int64(promptTokens)
	t.completionTokens += int64(completionTokens)
	t.completions++

	t.history = append(t.history, Record{
		Timestamp:        t.now(),
		Provider:         provider,
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	})
	if len(t.history) > historyLimit {
		t.history = t.history[len(t.history)-historyLimit:]
	}
}

// Summary returns the aggregate view of everything tracked so far
func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Summary{
		TotalPromptTokens:     t.promptTokens,
		TotalCompletionTokens: t.completionTokens,
		TotalTokens:           t.promptTokens + t.completionTokens,
		Completions:           t.completions,
	}
	if t.completions > 0 {
		s.AvgTokensPerCompletion = float64(s.TotalTokens) / float64(t.completions)
	}
	return s
}

// History returns a copy of the retained per-request records, oldest first
func (t *Tracker) History() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, len(t.history))
	copy(out, t.history)
	return out
}

// Reset clears totals and history
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.promptTokens = 0
	t.completionTokens = 0
	t.completions = 0
	t.history = nil
}
