// Package stream implements the streaming response pipeline: the wire events relayed by the
// server, the frame parser that recovers them from a response body, the reducer that folds
// them into an evolving message, and the transport client that issues chat requests.
package stream

// EventType tags the variants of a stream event.
type EventType string

// The five frame types of the chat stream. Exactly one start event begins a stream and
// exactly one of complete or error ends it; any number of delta and tool_call events may
// occur in between, in arrival order.
const (
	EventStart    EventType = "start"
	EventDelta    EventType = "delta"
	EventToolCall EventType = "tool_call"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Turn is a normalized role/content pair as carried by complete frames and by the request
// body. Role is always one of "user", "assistant", or "system" on the request side; complete
// frames never carry system turns.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Event is the wire unit of the chat stream. Which fields are populated depends on Type:
// start carries ThreadID and IsNewThread, delta carries Content and Role, tool_call carries
// Message, complete carries ThreadID, Messages, TotalMessages and IsNewThread, and error
// carries Error.
type Event struct {
	Type EventType `json:"type"`

	ThreadID    string `json:"thread_id,omitempty"`
	IsNewThread bool   `json:"is_new_thread,omitempty"`

	Content string `json:"content,omitempty"`
	Role    string `json:"role,omitempty"`

	Message string `json:"message,omitempty"`

	Messages      []Turn `json:"messages,omitempty"`
	TotalMessages int    `json:"total_messages,omitempty"`

	Error string `json:"error,omitempty"`
}

// Terminal reports whether the event ends a stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}
