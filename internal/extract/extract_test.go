package extract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tarwood/hearth/internal/extract"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name         string
		in           string
		wantThinking string
		wantContent  string
	}{
		{
			name:        "plain text",
			in:          "Result: 42",
			wantContent: "Result: 42",
		},
		{
			name:         "single section",
			in:           "<think>plan A</think>Result: 42",
			wantThinking: "plan A",
			wantContent:  "Result: 42",
		},
		{
			name:         "multiple sections",
			in:           "<think>first</think>middle<think>second</think>end",
			wantThinking: "first\n\nsecond",
			wantContent:  "middleend",
		},
		{
			name:         "case insensitive markers",
			in:           "<THINK>loud</Think>quiet",
			wantThinking: "loud",
			wantContent:  "quiet",
		},
		{
			name:         "multiline section",
			in:           "<think>line one\nline two</think>\nanswer",
			wantThinking: "line one\nline two",
			wantContent:  "answer",
		},
		{
			name:        "unterminated marker stays in content",
			in:          "before <think>still streaming",
			wantContent: "before <think>still streaming",
		},
		{
			name:         "closed section followed by open marker",
			in:           "<think>done</think>text <think>not yet",
			wantThinking: "done",
			wantContent:  "text <think>not yet",
		},
		{
			name:        "empty section dropped",
			in:          "<think>  </think>just text",
			wantContent: "just text",
		},
		{
			name:        "orphan close marker untouched",
			in:          "odd</think> tail",
			wantContent: "odd</think> tail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extract.Extract(tt.in)
			assert.Equal(t, tt.wantThinking, got.Thinking)
			assert.Equal(t, tt.wantContent, got.Content)
		})
	}
}

func TestExtractIdempotent(t *testing.T) {
	inputs := []string{
		"Result: 42",
		"<think>plan A</think>Result: 42",
		"<think>a</think>b<think>c</think>d",
		"open <think>never closed",
		"</think>orphan",
		"",
	}

	for _, in := range inputs {
		once := extract.Extract(in)
		twice := extract.Extract(once.Content)
		assert.Equal(t, once.Content, twice.Content, "input %q", in)
		assert.Empty(t, twice.Thinking, "input %q", in)
	}
}

func TestExtractNoDataLoss(t *testing.T) {
	in := "lead <think> inner one </think> body <think>inner two</think> tail"
	got := extract.Extract(in)

	// Every non-marker character survives in one of the two halves.
	assert.Contains(t, got.Thinking, "inner one")
	assert.Contains(t, got.Thinking, "inner two")
	assert.Contains(t, got.Content, "lead")
	assert.Contains(t, got.Content, "body")
	assert.Contains(t, got.Content, "tail")
	assert.NotContains(t, got.Content, "<think>")
	assert.NotContains(t, got.Content, "</think>")
}

func TestHasMarkers(t *testing.T) {
	assert.True(t, extract.HasMarkers("a <think> b"))
	assert.True(t, extract.HasMarkers("a <THINK> b"))
	assert.False(t, extract.HasMarkers("a </think> b"))
	assert.False(t, extract.HasMarkers("plain"))
}
