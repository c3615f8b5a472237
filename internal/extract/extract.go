// Package extract separates the delimited thinking sub-section of raw assistant output from
// the user-visible content. Models wrap free-form reasoning in <think>...</think> markers
// anywhere in the text, possibly several times; the rest of the application only ever deals
// with the split form.
package extract

import (
	"regexp"
	"strings"
)

// Result holds the two halves of a raw assistant text: the concatenated reasoning sections
// and the remaining visible content.
type Result struct {
	Thinking string
	Content  string
}

// thinkRe matches one fully-closed thinking section. Matching is case-insensitive and spans
// newlines; the inner capture is non-greedy so multiple sections stay non-overlapping.
var thinkRe = regexp.MustCompile(`(?is)<think>(.*?)</think>`)

// Extract splits s into thinking and content. All fully-closed sections are collected in
// order of appearance, trimmed, and joined with a blank line; the delimited regions, markers
// included, are removed from s to produce the trimmed content.
//
// An opening marker with no matching close is left in the content untouched: the stream may
// still be in flight, and the caller is expected to re-run Extract as more text arrives.
// Extract is pure and idempotent over its own content output.
func Extract(s string) Result {
	matches := thinkRe.FindAllStringSubmatch(s, -1)
	if matches == nil {
		return Result{Content: strings.TrimSpace(s)}
	}

	var sections []string
	for _, m := range matches {
		if inner := strings.TrimSpace(m[1]); inner != "" {
			sections = append(sections, inner)
		}
	}

	return Result{
		Thinking: strings.Join(sections, "\n\n"),
		Content:  strings.TrimSpace(thinkRe.ReplaceAllString(s, "")),
	}
}

// HasMarkers reports whether s contains an opening thinking marker, closed or not. The UI
// uses this to decide whether a reasoning panel is worth showing at all.
func HasMarkers(s string) bool {
	return strings.Contains(strings.ToLower(s), "<think>")
}
