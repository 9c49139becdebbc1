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

// Package main is the entry point for the Claude Wrapper service.
//
// The wrapper is an OpenAI-compatible HTTP facade over Claude that:
// - Serves /v1/chat/completions (streaming and non-streaming)
// - Detects Claude credentials across CLI keychain, API key, Bedrock and Vertex
// - Maintains in-memory conversation sessions with a one hour TTL
// - Meters token usage per client
//
// Usage:
//
//	./wrapper
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8000)
//	API_KEY - optional static bearer key protecting the /v1 surface
//	JWT_SECRET - optional secret enabling JWT bearer authentication
//	ANTHROPIC_API_KEY - Claude API key credential
//	DATABASE_URL - PostgreSQL connection string for usage metering
//	REDIS_URL - Redis connection string for distributed rate limiting
//	WRAPPER_CONFIG - optional YAML configuration file
//
// For more information, see https://docs.getaxonflow.com
package main

import (
	"axonflow/claude-wrapper/wrapper"
)

func main() {
	wrapper.Run()
}
