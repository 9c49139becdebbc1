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
	"database/sql"
	"log"
)

// Recorder handles recording request events to the database
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a new usage recorder with a database connection.
// A nil db yields a no-op recorder, so the wrapper runs unchanged when
// DATABASE_URL is not configured.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Enabled reports whether events are actually persisted
func (r *Recorder) Enabled() bool {
	return r != nil && r.db != nil
}

// RecordRequest records a completed chat completion event to the database
// Callers run this in a goroutine - errors are logged but don't block responses
func (r *Recorder) RecordRequest(event RequestEvent) error {
	if !r.Enabled() {
		return nil
	}

	// Calculate cost based on model pricing
	costCents := CalculateCost(event.Model, event.PromptTokens, event.CompletionTokens)

	_, err := r.db.Exec(`
		INSERT INTO usage_events (
			client_id, request_id, session_id, event_type, instance_id,
			provider, auth_method, model, prompt_tokens, completion_tokens,
			total_tokens, estimated_cost_cents, stream, latency_ms, http_status_code
		) VALUES ($1, $2, $3, 'chat_completion', $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, nullString(event.ClientID), event.RequestID, nullString(event.SessionID),
		event.InstanceID, event.Provider, event.Method, event.Model,
		event.PromptTokens, event.CompletionTokens, event.TotalTokens,
		costCents, event.Stream, event.LatencyMs, event.HTTPStatusCode)

	if err != nil {
		log.Printf("[USAGE] Failed to record request: %v", err)
	}

	return err
}

// nullString converts an empty string to NULL for database insertion
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
