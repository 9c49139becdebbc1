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

// Package adapter translates between the OpenAI chat-completion format
// and the unified Claude request/response types. It owns the message
// shape both directions share: system prompt extraction, multimodal
// content flattening, assistant output filtering, and finish-reason
// mapping.
package adapter

import (
	"fmt"
	"regexp"
	"strings"

	"axonflow/claude-wrapper/claude"
)

// Chat message roles in the OpenAI format.
const (
	RoleSystem    = "system"
	RoleDeveloper = "developer"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleFunction  = "function"
)

// ChatMessage is a single OpenAI-format chat message. Content is either
// a plain string or a list of typed content parts (multimodal).
type ChatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
	Name    string      `json:"name,omitempty"`
}

// ContentText flattens the message content to plain text. Multimodal
// text parts are concatenated; image parts become placeholder markers
// since the upstream transports here are text-only.
func (m ChatMessage) ContentText() string {
	switch content := m.Content.(type) {
	case string:
		return content
	case []interface{}:
		var parts []string
		for _, raw := range content {
			part, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if text := partText(part); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", content)
	}
}

func partText(part map[string]interface{}) string {
	switch part["type"] {
	case "text":
		if text, ok := part["text"].(string); ok {
			return text
		}
	case "image_url", "image":
		return "[Image attached]"
	}
	return ""
}

// MessagesToRequest splits OpenAI chat messages into a system prompt and
// alternating Claude conversation turns. System (and developer) messages
// are concatenated into the system prompt; tool and function results are
// folded into user turns; consecutive same-role turns are merged, which
// the Messages API requires. Empty turns are dropped.
func MessagesToRequest(messages []ChatMessage) (system string, turns []claude.Message, err error) {
	var systemParts []string

	for _, msg := range messages {
		content := msg.ContentText()
		switch msg.Role {
		case RoleSystem, RoleDeveloper:
			if content != "" {
				systemParts = append(systemParts, content)
			}
		case RoleUser, RoleAssistant:
			appendTurn(&turns, msg.Role, content)
		case RoleTool, RoleFunction:
			appendTurn(&turns, RoleUser, content)
		default:
			return "", nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}

	if len(turns) == 0 {
		return "", nil, fmt.Errorf("at least one user or assistant message is required")
	}

	return strings.Join(systemParts, "\n\n"), turns, nil
}

func appendTurn(turns *[]claude.Message, role, content string) {
	if content == "" {
		return
	}
	if n := len(*turns); n > 0 && (*turns)[n-1].Role == role {
		(*turns)[n-1].Content += "\n\n" + content
		return
	}
	*turns = append(*turns, claude.Message{Role: role, Content: content})
}

var (
	thinkingBlockPattern = regexp.MustCompile(`(?s)<thinking>.*?</thinking>`)

	toolBlockPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?s)<function_calls>.*?</function_calls>`),
		regexp.MustCompile(`(?s)<function_results>.*?</function_results>`),
		regexp.MustCompile(`(?s)<tool_use>.*?</tool_use>`),
		regexp.MustCompile(`(?s)<tool_result>.*?</tool_result>`),
	}

	blankRunPattern = regexp.MustCompile(`\n{3,}`)
)

// emptyContentFallback is returned when filtering removes everything, so
// clients always receive a non-empty assistant message.
const emptyContentFallback = "(no displayable content)"

// FilterContent removes model-internal markup from assistant output:
// thinking blocks and tool-invocation XML. Image placeholders pass
// through untouched. Blank runs left by the removals are collapsed.
func FilterContent(content string) string {
	return filterContent(content, false)
}

// FilterContentKeepTools removes thinking blocks but leaves
// tool-invocation XML in place, for clients that parse tool calls out
// of the text themselves.
func FilterContentKeepTools(content string) string {
	return filterContent(content, true)
}

func filterContent(content string, keepTools bool) string {
	filtered := thinkingBlockPattern.ReplaceAllString(content, "")
	if !keepTools {
		for _, pattern := range toolBlockPatterns {
			filtered = pattern.ReplaceAllString(filtered, "")
		}
	}

	filtered = blankRunPattern.ReplaceAllString(filtered, "\n\n")
	filtered = strings.TrimSpace(filtered)

	if filtered == "" && content != "" {
		return emptyContentFallback
	}
	return filtered
}

// MapFinishReason converts an upstream Claude stop reason to the OpenAI
// finish_reason vocabulary.
func MapFinishReason(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}

// EstimateTokens approximates the token count of a text when upstream
// usage is unavailable. Four characters per token is the standard rough
// cut for English prose.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	tokens := len(text) / 4
	if tokens == 0 {
		return 1
	}
	return tokens
}

// EstimateMessagesTokens approximates the prompt token count for a
// conversation, counting a small per-message overhead for role framing.
func EstimateMessagesTokens(system string, turns []claude.Message) int {
	total := EstimateTokens(system)
	for _, turn := range turns {
		total += EstimateTokens(turn.Content) + 3
	}
	return total
}
