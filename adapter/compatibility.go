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

package adapter

import "sort"

// supportedParameters are OpenAI chat-completion fields honored by the
// wrapper, including its extension fields.
var supportedParameters = map[string]bool{
	"model":       true,
	"messages":    true,
	"stream":      true,
	"temperature": true,
	"top_p":       true,
	"max_tokens":  true,
	"stop":        true,
	"user":        true,
	// Extension fields
	"session_id":   true,
	"enable_tools": true,
}

// ignoredParameters are OpenAI fields accepted but silently dropped
// because the upstream Messages API has no equivalent here.
var ignoredParameters = map[string]bool{
	"functions":           true,
	"function_call":       true,
	"tools":               true,
	"tool_choice":         true,
	"parallel_tool_calls": true,
	"logit_bias":          true,
	"logprobs":            true,
	"top_logprobs":        true,
	"presence_penalty":    true,
	"frequency_penalty":   true,
	"response_format":     true,
	"seed":                true,
	"n":                   true,
	"service_tier":        true,
	"store":               true,
	"metadata":            true,
}

// CompatibilityReport lists how the fields of a request payload are
// treated by the wrapper.
type CompatibilityReport struct {
	SupportedParameters []string `json:"supported_parameters"`
	IgnoredParameters   []string `json:"ignored_parameters"`
	UnknownParameters   []string `json:"unknown_parameters,omitempty"`
}

// CheckCompatibility classifies every field of an OpenAI request payload
// as supported, ignored, or unknown. Field lists are sorted for stable
// output.
func CheckCompatibility(payload map[string]interface{}) CompatibilityReport {
	report := CompatibilityReport{
		SupportedParameters: []string{},
		IgnoredParameters:   []string{},
	}

	for field := range payload {
		switch {
		case supportedParameters[field]:
			report.SupportedParameters = append(report.SupportedParameters, field)
		case ignoredParameters[field]:
			report.IgnoredParameters = append(report.IgnoredParameters, field)
		default:
			report.UnknownParameters = append(report.UnknownParameters, field)
		}
	}

	sort.Strings(report.SupportedParameters)
	sort.Strings(report.IgnoredParameters)
	sort.Strings(report.UnknownParameters)
	return report
}
