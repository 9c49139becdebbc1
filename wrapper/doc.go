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
Package wrapper provides the Claude Wrapper service - an OpenAI-compatible
HTTP facade that lets Chat Completions clients talk to Claude unmodified.

# Overview

The wrapper translates the OpenAI Chat Completions wire format into Claude
requests and back, so any OpenAI SDK or tool can be pointed at it by
changing a base URL. It handles:

  - POST /v1/chat/completions, streaming (SSE) and non-streaming
  - Model catalog with Claude capabilities on /v1/models
  - Conversation sessions with a one hour inactivity TTL
  - Claude credential detection across four methods with failover
  - Rate limiting (in-memory or Redis-backed)
  - Token usage tracking, with optional PostgreSQL metering

# Architecture

Requests flow through a fixed pipeline:

	Client → auth → rate limit → session history → adapter → router → Claude

The adapter package translates between the OpenAI and Claude message
shapes and strips model-internal markup (thinking blocks, tool XML)
from responses. The claude package routes each completion across the
detected credential chain, failing over when a provider returns a
retryable or credential error.

# Credential Chain

Upstream Claude access is resolved in a fixed order at startup:

  1. Claude CLI OAuth keychain credentials
  2. ANTHROPIC_API_KEY (or a secrets-manager reference)
  3. AWS Bedrock (CLAUDE_CODE_USE_BEDROCK=1)
  4. Google Vertex AI (CLAUDE_CODE_USE_VERTEX=1)

The first available method is primary; the rest are failover targets.
When no method works, completions return 401 with the per-method
failure list. POST /v1/auth/refresh re-probes the chain at runtime.

# Sessions

Clients opt into server-side conversation state by sending session_id
in a chat request. Stored history is prepended to the messages before
translation, and the new exchange is appended after the completion.
Sessions expire after one hour of inactivity; a janitor sweeps them out
every five minutes. The /v1/sessions endpoints list, inspect and delete
stored conversations.

# Thread Safety

All shared state (session store, rate limit windows, usage tracker,
metrics) is guarded by mutexes or atomics. Handlers are safe for
concurrent use; the completion router serializes only its lazy build.

# Metrics

GET /metrics serves a JSON snapshot (request counters, latency
percentiles, token totals, session stats). GET /prometheus serves the
same signals in Prometheus exposition format.

# Usage

	// Start the wrapper service
	wrapper.Run()

	// The wrapper reads configuration from environment variables:
	// PORT                  - HTTP server port (default: 8000)
	// API_KEY               - optional inbound bearer key
	// JWT_SECRET            - optional JWT authentication secret
	// ANTHROPIC_API_KEY     - Claude API key credential
	// CLAUDE_CODE_USE_BEDROCK - enable the Bedrock credential method
	// CLAUDE_CODE_USE_VERTEX  - enable the Vertex credential method
	// DATABASE_URL          - PostgreSQL metering (optional)
	// REDIS_URL             - distributed rate limiting (optional)
	// SESSION_TTL           - session inactivity window (default: 1h)
	// DEBUG_MODE            - expose /v1/debug/request
*/
package wrapper
