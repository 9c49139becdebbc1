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

import "strings"

type filterTag struct {
	open  string
	close string
}

// filteredTags are the block markers FilterContent removes, thinking
// first. The stream filter must know them individually so it can hold
// text back while a block is still open mid-stream.
var filteredTags = []filterTag{
	{"<thinking>", "</thinking>"},
	{"<function_calls>", "</function_calls>"},
	{"<function_results>", "</function_results>"},
	{"<tool_use>", "</tool_use>"},
	{"<tool_result>", "</tool_result>"},
}

// longestTagLen bounds how much tail text a partially received tag can
// hold back.
var longestTagLen = func() int {
	max := 0
	for _, t := range filteredTags {
		if len(t.close) > max {
			max = len(t.close)
		}
	}
	return max
}()

// StreamFilter applies FilterContent semantics to a response that
// arrives in chunks. Text inside a thinking or tool block is withheld
// until the block closes; everything else is released as soon as it is
// known to be outside any block.
//
// Push returns the newly displayable text for each chunk, which may be
// empty while a block is open. Flush returns whatever remains after the
// final chunk.
type StreamFilter struct {
	raw       strings.Builder
	emitted   string
	keepTools bool
}

// NewStreamFilter returns a filter for one streaming response.
func NewStreamFilter() *StreamFilter {
	return &StreamFilter{}
}

// NewStreamFilterKeepTools returns a filter matching
// FilterContentKeepTools: thinking blocks are withheld, tool blocks
// stream through.
func NewStreamFilterKeepTools() *StreamFilter {
	return &StreamFilter{keepTools: true}
}

// Push appends a raw chunk and returns the displayable delta.
func (f *StreamFilter) Push(chunk string) string {
	f.raw.WriteString(chunk)

	safe := f.raw.String()[:f.safeLength(f.raw.String())]
	filtered := f.filterBlocks(safe)

	// Nothing emitted yet: drop leading whitespace so the stream starts
	// where the final filtered text would.
	if f.emitted == "" {
		filtered = strings.TrimLeft(filtered, " \t\r\n")
	}

	// The filtered view only ever grows by appending. If a pathological
	// input breaks that, withhold output rather than corrupt the stream;
	// Flush reconciles against the complete text.
	if !strings.HasPrefix(filtered, f.emitted) {
		return ""
	}

	delta := filtered[len(f.emitted):]
	f.emitted = filtered
	return delta
}

// Flush filters the complete accumulated text and returns any remainder
// not yet emitted. Call after the last chunk.
func (f *StreamFilter) Flush() string {
	final := f.finalContent()
	if !strings.HasPrefix(final, f.emitted) {
		// Trailing whitespace trimmed by the final pass, or a fallback
		// replacement. Nothing sensible left to emit incrementally.
		if f.emitted == "" {
			return final
		}
		return ""
	}
	delta := final[len(f.emitted):]
	f.emitted = final
	return delta
}

// Content returns the filtered complete response, for session storage.
func (f *StreamFilter) Content() string {
	return f.finalContent()
}

func (f *StreamFilter) finalContent() string {
	return filterContent(f.raw.String(), f.keepTools)
}

// tagSet returns the tags this filter strips: all of them, or only the
// thinking block when tool output streams through.
func (f *StreamFilter) tagSet() []filterTag {
	if f.keepTools {
		return filteredTags[:1]
	}
	return filteredTags
}

// filterBlocks removes complete filtered blocks and collapses the blank
// runs they leave, without the final trim that FilterContent applies.
// Trimming mid-stream would swallow whitespace later chunks build on.
func (f *StreamFilter) filterBlocks(s string) string {
	filtered := thinkingBlockPattern.ReplaceAllString(s, "")
	if !f.keepTools {
		for _, pattern := range toolBlockPatterns {
			filtered = pattern.ReplaceAllString(filtered, "")
		}
	}
	return blankRunPattern.ReplaceAllString(filtered, "\n\n")
}

// safeLength returns the length of the prefix of s that is safe to
// filter and emit: text before any still-open block, and before a
// partially received tag at the tail.
func (f *StreamFilter) safeLength(s string) int {
	n := len(s)
	tags := f.tagSet()

	for _, t := range tags {
		idx := strings.LastIndex(s, t.open)
		if idx >= 0 && !strings.Contains(s[idx+len(t.open):], t.close) && idx < n {
			n = idx
		}
	}

	// A lone "<" near the tail may be the start of a tag split across
	// chunks. Hold it back until enough text arrives to decide.
	tailStart := len(s) - longestTagLen
	if tailStart < 0 {
		tailStart = 0
	}
	if idx := strings.LastIndex(s[tailStart:], "<"); idx >= 0 {
		abs := tailStart + idx
		if !strings.Contains(s[abs:], ">") && couldBeTagPrefix(s[abs:], tags) && abs < n {
			n = abs
		}
	}

	return n
}

// couldBeTagPrefix reports whether the tail fragment could still grow
// into one of the given tags.
func couldBeTagPrefix(tail string, tags []filterTag) bool {
	for _, t := range tags {
		if strings.HasPrefix(t.open, tail) || strings.HasPrefix(t.close, tail) {
			return true
		}
	}
	return false
}
