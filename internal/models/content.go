package models

import (
	"encoding/json"
	"strings"
)

// Turn is one element of the provider-facing conversation. Unlike Message it can carry
// tool-call exchanges, which only exist while the agent loop runs and are never persisted
// to the thread.
type Turn struct {
	Role     Role
	Contents []Content
}

// TextTurn builds a plain text turn.
func TextTurn(role Role, text string) Turn {
	return Turn{
		Role:     role,
		Contents: []Content{{Type: ContentTypeText, Text: text}},
	}
}

// Text returns the concatenated text contents of the turn.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, c := range t.Contents {
		if c.Type == ContentTypeText {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}

// Content is a single block of provider input or output.
type Content struct {
	Type ContentType

	// Text would be filled if Type is ContentTypeText.
	Text string

	// ToolName would be filled if Type is ContentTypeCallTool.
	ToolName string
	// ToolInput would be filled if Type is ContentTypeCallTool.
	ToolInput json.RawMessage

	// ToolResult would be filled if Type is ContentTypeToolResult. The value is either the
	// tool result or an error payload.
	ToolResult json.RawMessage

	// CallToolID would be filled if Type is ContentTypeCallTool or ContentTypeToolResult.
	CallToolID string
	// CallToolFailed is set to true if the call failed and Type is ContentTypeToolResult.
	CallToolFailed bool
}

// ContentType represents the type of a content block.
type ContentType string

const (
	// ContentTypeText represents text content.
	ContentTypeText ContentType = "text"
	// ContentTypeCallTool represents a call to a tool.
	ContentTypeCallTool ContentType = "call_tool"
	// ContentTypeToolResult represents the result of a tool call.
	ContentTypeToolResult ContentType = "tool_result"
)
