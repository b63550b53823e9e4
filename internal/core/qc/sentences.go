// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package qc

import (
	"regexp"
	"strings"
)

// A sentence ends with terminal punctuation, optionally followed by closing
// quotes or brackets.
var sentenceEnd = regexp.MustCompile(`[.!?…]+["'”’)\]]*`)

// SplitSentences breaks text into trimmed sentences. Trailing text without
// terminal punctuation is returned as the last sentence.
func SplitSentences(text string) []string {
	out := make([]string, 0)
	rest := strings.TrimSpace(text)
	for rest != "" {
		loc := sentenceEnd.FindStringIndex(rest)
		if loc == nil {
			out = append(out, rest)
			break
		}
		// Only split when the punctuation is followed by whitespace or the end,
		// so decimals like "3.5" stay in one sentence.
		end := loc[1]
		for end < len(rest) && !isSpace(rest[end]) {
			next := sentenceEnd.FindStringIndex(rest[end:])
			if next == nil {
				end = len(rest)
				break
			}
			end += next[1]
		}
		if s := strings.TrimSpace(rest[:end]); s != "" {
			out = append(out, s)
		}
		rest = strings.TrimSpace(rest[end:])
	}
	return out
}

// EndsWithTerminal reports whether text ends in terminal punctuation.
func EndsWithTerminal(text string) bool {
	t := strings.TrimRight(strings.TrimSpace(text), `"'”’)]`)
	if t == "" {
		return false
	}
	return strings.HasSuffix(t, ".") || strings.HasSuffix(t, "!") || strings.HasSuffix(t, "?") || strings.HasSuffix(t, "…")
}

// Terminate appends a period when text does not already end a sentence.
// Dangling clause punctuation is dropped first.
func Terminate(text string) string {
	t := strings.TrimSpace(text)
	if t == "" || EndsWithTerminal(t) {
		return t
	}
	t = strings.TrimRight(t, ",;:-– ")
	return t + "."
}

// TrimToWords shortens text to at most maxWords words. It keeps whole
// sentences when it can; a single sentence longer than the limit is cut at
// the last clause boundary inside the limit. When no boundary exists the
// result is empty and the caller substitutes its own line. A non-empty
// result always ends in terminal punctuation.
func TrimToWords(text string, maxWords int) string {
	sentences := SplitSentences(text)
	kept := make([]string, 0, len(sentences))
	count := 0
	for _, s := range sentences {
		n := len(strings.Fields(s))
		if count+n > maxWords {
			break
		}
		kept = append(kept, s)
		count += n
	}
	if len(kept) > 0 {
		return Terminate(strings.Join(kept, " "))
	}
	if len(sentences) == 0 || maxWords <= 0 {
		return ""
	}

	words := strings.Fields(sentences[0])
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	for i := len(words) - 1; i > 0; i-- {
		if strings.HasSuffix(words[i], ",") || strings.HasSuffix(words[i], ";") || strings.HasSuffix(words[i], ":") {
			return Terminate(strings.Join(words[:i+1], " "))
		}
	}
	return ""
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
