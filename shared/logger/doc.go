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
Package logger provides structured JSON logging for the wrapper service.

# Overview

The logger outputs single-line JSON entries to stdout, making logs easily
consumable by CloudWatch, ELK, or any other log aggregation system.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (wrapper, session, claude, etc.)
  - Instance ID and container name
  - Client ID (requesting API client, when identified)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("wrapper")

Log messages with client and request context:

	log.Info("client-123", "req-456", "Chat completion dispatched", map[string]interface{}{
	    "model":  "claude-sonnet-4-20250514",
	    "stream": true,
	})

Log errors with status codes:

	log.ErrorWithCode("client-123", "req-456", "Upstream request failed", 502, err, nil)

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("client-123", "req-456", "Request completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Output Format

Log entries are output as single-line JSON:

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"wrapper","instance_id":"i-abc123","container":"wrapper-xyz",
	 "client_id":"client-123","request_id":"req-456",
	 "message":"Chat completion dispatched","fields":{"model":"claude-sonnet-4-20250514"}}

# Environment Variables

The logger reads these environment variables:

  - INSTANCE_ID: Deployment instance identifier
  - LOG_LEVEL: Minimum level to emit (DEBUG/INFO/WARN/ERROR, default INFO)
  - VERBOSE: When "true", forces the DEBUG level

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
