package models

import (
	"strings"
	"time"
)

// Message represents an individual turn within a chat thread. Content always has any thinking
// sub-section stripped out; the extracted reasoning lives in Thinking. During streaming an
// assistant message carries a provisional id which is swapped for a final one when the stream
// finalizes.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Thinking  string
	Timestamp time.Time

	// ResponseTime is the elapsed seconds from request start to the terminal stream event.
	// It is set exactly once at completion and stays zero for user messages.
	ResponseTime float64
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a model-generated message.
	RoleAssistant Role = "assistant"
	// RoleSystem represents the fixed instruction block sent with every request. System
	// messages are never shown in conversation listings.
	RoleSystem Role = "system"
)

// NormalizeRole maps the role labels used by upstream frameworks onto the internal Role type.
// Upstream messages arrive in several shapes ("human"/"ai" from agent frameworks, "user"/
// "assistant" from chat APIs); this is the single boundary where those spellings are
// recognized, in this priority order:
//
//  1. the internal spellings "user" and "assistant"
//  2. the agent-framework spellings "human" and "ai"
//
// Everything else, including "system", "tool", and unknown labels, returns false, and
// callers are expected to drop those messages. Internal logic only ever sees the normalized
// form.
func NormalizeRole(raw string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user", "human":
		return RoleUser, true
	case "assistant", "ai":
		return RoleAssistant, true
	default:
		return "", false
	}
}
