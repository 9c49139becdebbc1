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

import "testing"

func TestResolveModelAlias(t *testing.T) {
	tests := []struct {
		name  string
		model string
		want  string
	}{
		{"sonnet 4 alias", "claude-sonnet-4", ModelClaude4Sonnet},
		{"opus 4 alias", "claude-opus-4", ModelClaude4Opus},
		{"3.5 sonnet alias", "claude-3-5-sonnet", ModelClaude35Sonnet},
		{"haiku alias", "claude-3-haiku", ModelClaude3Haiku},
		{"dated id passes through", ModelClaude4Sonnet, ModelClaude4Sonnet},
		{"unknown passes through", "claude-next-9000", "claude-next-9000"},
		{"empty passes through", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveModelAlias(tt.model); got != tt.want {
				t.Errorf("ResolveModelAlias(%q) = %q, want %q", tt.model, got, tt.want)
			}
		})
	}
}

func TestIsValidModel(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{ModelClaude4Sonnet, true},
		{"claude-sonnet-4", true},
		{"claude-future-model", true}, // claude- prefix is allowed through
		{"gpt-4", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := IsValidModel(tt.model); got != tt.want {
				t.Errorf("IsValidModel(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestSupportedModelsIncludesDefault(t *testing.T) {
	found := false
	for _, m := range SupportedModels() {
		if m == DefaultModel {
			found = true
		}
	}
	if !found {
		t.Errorf("default model %q missing from SupportedModels", DefaultModel)
	}
}

func TestCapabilitiesFor(t *testing.T) {
	sonnet := CapabilitiesFor(ModelClaude4Sonnet)
	if !sonnet.Vision || !sonnet.Streaming || !sonnet.FunctionCalling {
		t.Errorf("sonnet capabilities = %+v", sonnet)
	}
	if sonnet.Family != "claude" {
		t.Errorf("family = %q", sonnet.Family)
	}

	haiku := CapabilitiesFor("claude-3-5-haiku")
	if haiku.Vision {
		t.Error("haiku models do not support vision")
	}
	if !haiku.Streaming {
		t.Error("haiku models support streaming")
	}
}
