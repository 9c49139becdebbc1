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

import "strings"

// Model constants for supported Claude models
const (
	// Claude 4 models (Opus 4 and Sonnet 4)
	ModelClaude4Opus   = "claude-opus-4-20250514"
	ModelClaude4Sonnet = "claude-sonnet-4-20250514"

	// Claude 3.7 models
	ModelClaude37Sonnet = "claude-3-7-sonnet-20250219"

	// Claude 3.5 models
	ModelClaude35Sonnet    = "claude-3-5-sonnet-20241022"
	ModelClaude35SonnetOld = "claude-3-5-sonnet-20240620"
	ModelClaude35Haiku     = "claude-3-5-haiku-20241022"

	// Claude 3 models
	ModelClaude3Opus  = "claude-3-opus-20240229"
	ModelClaude3Haiku = "claude-3-haiku-20240307"

	// Default model
	DefaultModel = ModelClaude4Sonnet
)

// modelAliases maps short model names to their dated ids. Clients built
// against the OpenAI API often send undated names.
var modelAliases = map[string]string{
	"claude-opus-4":     ModelClaude4Opus,
	"claude-sonnet-4":   ModelClaude4Sonnet,
	"claude-3-7-sonnet": ModelClaude37Sonnet,
	"claude-3-5-sonnet": ModelClaude35Sonnet,
	"claude-3-5-haiku":  ModelClaude35Haiku,
	"claude-3-opus":     ModelClaude3Opus,
	"claude-3-haiku":    ModelClaude3Haiku,
}

// ModelCapabilities describes what a model supports. Reported on
// /v1/models so OpenAI clients can build their ModelInfo.
type ModelCapabilities struct {
	Vision           bool   `json:"vision"`
	FunctionCalling  bool   `json:"function_calling"`
	JSONOutput       bool   `json:"json_output"`
	Streaming        bool   `json:"streaming"`
	StructuredOutput bool   `json:"structured_output"`
	Family           string `json:"family"`
}

// SupportedModels returns the list of supported Claude models
func SupportedModels() []string {
	return []string{
		ModelClaude4Opus,
		ModelClaude4Sonnet,
		ModelClaude37Sonnet,
		ModelClaude35Sonnet,
		ModelClaude35SonnetOld,
		ModelClaude35Haiku,
		ModelClaude3Opus,
		ModelClaude3Haiku,
	}
}

// IsValidModel checks if the given model is a valid Claude model
func IsValidModel(model string) bool {
	resolved := ResolveModelAlias(model)
	for _, m := range SupportedModels() {
		if m == resolved {
			return true
		}
	}
	// Also allow custom/future models starting with "claude-"
	return strings.HasPrefix(model, "claude-")
}

// ResolveModelAlias maps an undated model name to its dated id.
// Unknown names pass through unchanged.
func ResolveModelAlias(model string) string {
	if dated, ok := modelAliases[model]; ok {
		return dated
	}
	return model
}

// CapabilitiesFor returns the capability set for a model. All current
// Claude models share the same surface; haiku-class models lack vision.
func CapabilitiesFor(model string) ModelCapabilities {
	resolved := ResolveModelAlias(model)
	caps := ModelCapabilities{
		Vision:           true,
		FunctionCalling:  true,
		JSONOutput:       true,
		Streaming:        true,
		StructuredOutput: true,
		Family:           "claude",
	}
	if strings.Contains(resolved, "haiku") {
		caps.Vision = false
	}
	return caps
}
