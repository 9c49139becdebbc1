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

// RequestEvent represents one completed chat completion to be recorded
type RequestEvent struct {
	ClientID         string // Optional: API key owner or JWT subject
	RequestID        string
	SessionID        string // Optional: conversation the request belonged to
	InstanceID       string // Which wrapper instance served the request
	Provider         string // "anthropic", "bedrock", "vertex"
	Method           string // Credential method behind the provider
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Stream           bool
	LatencyMs        int64
	HTTPStatusCode   int
}
