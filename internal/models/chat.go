package models

import "time"

// Chat represents a conversation thread in the chat system. Threads are identified by an opaque
// id and carry a short title plus a preview derived from the first user message, both of which
// exist only for listing UIs.
type Chat struct {
	ID        string
	Title     string
	Preview   string
	CreatedAt time.Time
}
