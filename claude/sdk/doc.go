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

// Package sdk provides the HTTP plumbing shared by the upstream Claude
// transports: request authentication, retry with exponential backoff,
// circuit breaking, and token-bucket rate limiting.
//
// The package is deliberately free of transport-specific types so the
// anthropic, bedrock, and vertex packages can all build on it.
package sdk
