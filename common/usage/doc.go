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

/*
Package usage provides token usage accounting for the wrapper.

# Overview

Every chat completion produces a usage event: which model ran, which
provider served it, how many tokens it consumed, and what it cost. The
package offers two sinks:

  - Tracker: in-memory totals and recent history, always available
  - Recorder: PostgreSQL persistence, enabled when DATABASE_URL is set

# Tracking

Create one tracker per process and feed it from the request path:

	tracker := usage.NewTracker()
	tracker.Track("anthropic", "claude-sonnet-4-20250514", 150, 200)

	summary := tracker.Summary()
	// summary.TotalTokens, summary.Completions, summary.AvgTokensPerCompletion

Track is cheap and safe for concurrent use. History keeps a bounded
window of recent requests; the totals are unbounded.

# Recording

Create a recorder with a database connection (nil disables persistence):

	recorder := usage.NewRecorder(db)

	err := recorder.RecordRequest(usage.RequestEvent{
	    ClientID:         "client-456",
	    RequestID:        "req-789",
	    InstanceID:       "wrapper-001",
	    Provider:         "anthropic",
	    Method:           "oauth",
	    Model:            "claude-sonnet-4-20250514",
	    PromptTokens:     150,
	    CompletionTokens: 200,
	    TotalTokens:      350,
	    LatencyMs:        1200,
	    HTTPStatusCode:   200,
	})

Record usage asynchronously to avoid blocking request processing:

	go func() {
	    if err := recorder.RecordRequest(event); err != nil {
	        log.Printf("Failed to record usage: %v", err)
	    }
	}()

# Cost Calculation

Costs are calculated from the model pricing table in integer cents:

	costCents := usage.CalculateCost("claude-sonnet-4-20250514", promptTokens, completionTokens)

Dated model ids are reduced to their family before lookup, so
"claude-sonnet-4-20250514" and "claude-sonnet-4" price identically.
Unknown models fall back to Sonnet rates.

# Database Schema

Events are stored in the usage_events table with columns for:
  - Client, request, and session identification
  - Provider, credential method, and model
  - Token counts and estimated cost in cents
  - Latency and HTTP status
*/
package usage
