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

package claude

import (
	"context"
)

// Provider is the interface implemented by each upstream Claude transport.
//
// Implementations must be safe for concurrent use: the wrapper calls
// Complete/CompleteStream from multiple request handlers simultaneously.
type Provider interface {
	// Name returns a unique transport name (e.g. "anthropic", "bedrock").
	Name() string

	// Method returns the credential source this transport uses.
	Method() AuthMethod

	// Complete generates a completion and blocks until the full response
	// is available.
	Complete(ctx context.Context, req Request) (*Response, error)

	// CompleteStream generates a completion, invoking handler for each
	// chunk as it arrives. The returned Response aggregates the full
	// content and final usage.
	CompleteStream(ctx context.Context, req Request, handler StreamHandler) (*Response, error)

	// HealthCheck verifies the transport can reach its upstream.
	HealthCheck(ctx context.Context) (*HealthCheckResult, error)

	// SupportsStreaming indicates if the transport supports streaming.
	SupportsStreaming() bool
}
