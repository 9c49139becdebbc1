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

import (
	"reflect"
	"strings"
	"testing"

	"axonflow/claude-wrapper/claude"
)

func TestContentText(t *testing.T) {
	tests := []struct {
		name string
		msg  ChatMessage
		want string
	}{
		{
			name: "plain string",
			msg:  ChatMessage{Role: RoleUser, Content: "hello"},
			want: "hello",
		},
		{
			name: "nil content",
			msg:  ChatMessage{Role: RoleUser},
			want: "",
		},
		{
			name: "multimodal text parts",
			msg: ChatMessage{Role: RoleUser, Content: []interface{}{
				map[string]interface{}{"type": "text", "text": "first"},
				map[string]interface{}{"type": "text", "text": "second"},
			}},
			want: "first\nsecond",
		},
		{
			name: "image part becomes placeholder",
			msg: ChatMessage{Role: RoleUser, Content: []interface{}{
				map[string]interface{}{"type": "text", "text": "look at this"},
				map[string]interface{}{"type": "image_url", "image_url": map[string]interface{}{"url": "https://example.com/cat.png"}},
			}},
			want: "look at this\n[Image attached]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.ContentText(); got != tt.want {
				t.Errorf("ContentText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessagesToRequest(t *testing.T) {
	tests := []struct {
		name       string
		messages   []ChatMessage
		wantSystem string
		wantTurns  []claude.Message
		wantErr    bool
	}{
		{
			name: "single user message",
			messages: []ChatMessage{
				{Role: RoleUser, Content: "hello"},
			},
			wantTurns: []claude.Message{{Role: "user", Content: "hello"}},
		},
		{
			name: "system prompt extracted",
			messages: []ChatMessage{
				{Role: RoleSystem, Content: "Be terse."},
				{Role: RoleUser, Content: "hello"},
			},
			wantSystem: "Be terse.",
			wantTurns:  []claude.Message{{Role: "user", Content: "hello"}},
		},
		{
			name: "multiple system messages concatenated",
			messages: []ChatMessage{
				{Role: RoleSystem, Content: "Be terse."},
				{Role: RoleDeveloper, Content: "Answer in French."},
				{Role: RoleUser, Content: "hello"},
			},
			wantSystem: "Be terse.\n\nAnswer in French.",
			wantTurns:  []claude.Message{{Role: "user", Content: "hello"}},
		},
		{
			name: "conversation history preserved",
			messages: []ChatMessage{
				{Role: RoleUser, Content: "What is 2+2?"},
				{Role: RoleAssistant, Content: "4"},
				{Role: RoleUser, Content: "And 3+3?"},
			},
			wantTurns: []claude.Message{
				{Role: "user", Content: "What is 2+2?"},
				{Role: "assistant", Content: "4"},
				{Role: "user", Content: "And 3+3?"},
			},
		},
		{
			name: "consecutive same-role turns merged",
			messages: []ChatMessage{
				{Role: RoleUser, Content: "part one"},
				{Role: RoleUser, Content: "part two"},
			},
			wantTurns: []claude.Message{
				{Role: "user", Content: "part one\n\npart two"},
			},
		},
		{
			name: "tool result folds into user turn",
			messages: []ChatMessage{
				{Role: RoleUser, Content: "run the lookup"},
				{Role: RoleAssistant, Content: "running"},
				{Role: RoleTool, Content: "lookup result: 42"},
			},
			wantTurns: []claude.Message{
				{Role: "user", Content: "run the lookup"},
				{Role: "assistant", Content: "running"},
				{Role: "user", Content: "lookup result: 42"},
			},
		},
		{
			name: "empty content turns dropped",
			messages: []ChatMessage{
				{Role: RoleUser, Content: ""},
				{Role: RoleUser, Content: "real question"},
			},
			wantTurns: []claude.Message{
				{Role: "user", Content: "real question"},
			},
		},
		{
			name: "unknown role rejected",
			messages: []ChatMessage{
				{Role: "narrator", Content: "meanwhile"},
			},
			wantErr: true,
		},
		{
			name: "system-only conversation rejected",
			messages: []ChatMessage{
				{Role: RoleSystem, Content: "Be terse."},
			},
			wantErr: true,
		},
		{
			name:     "empty conversation rejected",
			messages: nil,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, turns, err := MessagesToRequest(tt.messages)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("MessagesToRequest() error = %v", err)
			}
			if system != tt.wantSystem {
				t.Errorf("system = %q, want %q", system, tt.wantSystem)
			}
			if !reflect.DeepEqual(turns, tt.wantTurns) {
				t.Errorf("turns = %+v, want %+v", turns, tt.wantTurns)
			}
		})
	}
}

func TestFilterContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "plain text passes through",
			content: "The answer is 4.",
			want:    "The answer is 4.",
		},
		{
			name:    "thinking block removed",
			content: "<thinking>2+2... carry the... yes</thinking>The answer is 4.",
			want:    "The answer is 4.",
		},
		{
			name:    "multiline thinking block removed",
			content: "Before.\n<thinking>\nstep 1\nstep 2\n</thinking>\nAfter.",
			want:    "Before.\n\nAfter.",
		},
		{
			name:    "tool invocation blocks removed",
			content: "<function_calls>call read_file</function_calls>Here is the file.<function_results>contents</function_results>",
			want:    "Here is the file.",
		},
		{
			name:    "tool_use and tool_result removed",
			content: "Looking.<tool_use>{\"name\":\"search\"}</tool_use><tool_result>found it</tool_result> Done.",
			want:    "Looking. Done.",
		},
		{
			name:    "blank runs collapsed",
			content: "first\n\n\n\n\nsecond",
			want:    "first\n\nsecond",
		},
		{
			name:    "image placeholder preserved",
			content: "[Image attached]\nNice photo.",
			want:    "[Image attached]\nNice photo.",
		},
		{
			name:    "fully filtered content falls back",
			content: "<thinking>internal only</thinking>",
			want:    emptyContentFallback,
		},
		{
			name:    "empty stays empty",
			content: "",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FilterContent(tt.content); got != tt.want {
				t.Errorf("FilterContent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilterContentKeepTools(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "thinking removed, tool blocks survive",
			content: "<thinking>which tool?</thinking><tool_use>{\"name\":\"search\"}</tool_use>Searching.",
			want:    "<tool_use>{\"name\":\"search\"}</tool_use>Searching.",
		},
		{
			name:    "function call pair survives",
			content: "<function_calls>read_file</function_calls>Here.<function_results>contents</function_results>",
			want:    "<function_calls>read_file</function_calls>Here.<function_results>contents</function_results>",
		},
		{
			name:    "thinking-only content still falls back",
			content: "<thinking>internal only</thinking>",
			want:    emptyContentFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FilterContentKeepTools(tt.content); got != tt.want {
				t.Errorf("FilterContentKeepTools() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMapFinishReason(t *testing.T) {
	tests := []struct {
		stopReason string
		want       string
	}{
		{"end_turn", "stop"},
		{"stop_sequence", "stop"},
		{"max_tokens", "length"},
		{"tool_use", "tool_calls"},
		{"", "stop"},
		{"something_new", "stop"},
	}

	for _, tt := range tests {
		t.Run(tt.stopReason, func(t *testing.T) {
			if got := MapFinishReason(tt.stopReason); got != tt.want {
				t.Errorf("MapFinishReason(%q) = %q, want %q", tt.stopReason, got, tt.want)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"hi", 1}, // short text still counts as one token
		{"12345678", 2},
		{strings.Repeat("word ", 20), 25},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := EstimateTokens(tt.text); got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestEstimateMessagesTokens(t *testing.T) {
	turns := []claude.Message{
		{Role: "user", Content: "12345678"},      // 2 tokens + 3 overhead
		{Role: "assistant", Content: "12345678"}, // 2 tokens + 3 overhead
	}
	// system: 8 chars -> 2 tokens
	got := EstimateMessagesTokens("12345678", turns)
	if got != 12 {
		t.Errorf("EstimateMessagesTokens() = %d, want 12", got)
	}
}

func TestCheckCompatibility(t *testing.T) {
	payload := map[string]interface{}{
		"model":            "claude-sonnet-4",
		"messages":         []interface{}{},
		"temperature":      0.5,
		"tools":            []interface{}{},
		"presence_penalty": 0.1,
		"made_up_field":    true,
	}

	report := CheckCompatibility(payload)

	wantSupported := []string{"messages", "model", "temperature"}
	if !reflect.DeepEqual(report.SupportedParameters, wantSupported) {
		t.Errorf("supported = %v, want %v", report.SupportedParameters, wantSupported)
	}

	wantIgnored := []string{"presence_penalty", "tools"}
	if !reflect.DeepEqual(report.IgnoredParameters, wantIgnored) {
		t.Errorf("ignored = %v, want %v", report.IgnoredParameters, wantIgnored)
	}

	wantUnknown := []string{"made_up_field"}
	if !reflect.DeepEqual(report.UnknownParameters, wantUnknown) {
		t.Errorf("unknown = %v, want %v", report.UnknownParameters, wantUnknown)
	}
}

func TestCheckCompatibilityEmptyPayload(t *testing.T) {
	report := CheckCompatibility(map[string]interface{}{})
	if len(report.SupportedParameters) != 0 || len(report.IgnoredParameters) != 0 || len(report.UnknownParameters) != 0 {
		t.Errorf("report = %+v, want empty lists", report)
	}
}
