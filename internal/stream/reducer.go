package stream

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tarwood/hearth/internal/extract"
	"github.com/tarwood/hearth/internal/models"
)

// Status describes the reducer's position in the stream lifecycle. Idle is the state before
// any start event; Finalized and Failed are terminal.
type Status int

// Reducer lifecycle states.
const (
	StatusIdle Status = iota
	StatusStarted
	StatusStreaming
	StatusFinalized
	StatusFailed
)

// UpdateKind tags the state-transition records emitted by the reducer.
type UpdateKind int

// The transition records a host can receive. UpdateNone means the event changed nothing the
// host needs to act on (duplicate terminal events, events after finalization).
const (
	UpdateNone UpdateKind = iota
	// UpdateOpened: the stream opened; ThreadID and IsNewThread are set.
	UpdateOpened
	// UpdateMessage: the provisional message changed; Message carries the fresh split.
	UpdateMessage
	// UpdateToolCall: transient tool-usage note in Note; nothing about the message changed.
	UpdateToolCall
	// UpdateFinalized: Message carries the finalized message with its final id.
	UpdateFinalized
	// UpdateFailed: Message carries a new assistant message explaining the failure.
	UpdateFailed
)

// Update is an explicit state-transition record. The reducer never reaches into ambient UI
// state; the hosting layer subscribes to these records and applies them to its message list.
type Update struct {
	Kind        UpdateKind
	ThreadID    string
	IsNewThread bool
	Note        string
	Message     models.Message
}

// Reducer folds a sequence of stream events into an evolving assistant message. It owns the
// single provisional message of an active send: the message is either promoted to final form
// by a terminal event (or by Finish, if the transport ends silently) or replaced by an error
// message, never both.
//
// A Reducer is single-use and not safe for concurrent use; events must be applied in arrival
// order, which matches the one-writer-per-send model of the transport.
type Reducer struct {
	now       func() time.Time
	startedAt time.Time

	status      Status
	threadID    string
	isNewThread bool

	provisionalID string
	acc           string
}

// NewReducer creates a reducer for one send. The send's wall clock starts immediately, so
// construct the reducer at the moment the request is issued.
func NewReducer() *Reducer {
	return newReducerAt(time.Now)
}

func newReducerAt(now func() time.Time) *Reducer {
	return &Reducer{
		now:           now,
		startedAt:     now(),
		provisionalID: "stream-" + uuid.New().String(),
	}
}

// Status returns the current lifecycle state.
func (r *Reducer) Status() Status { return r.status }

// ThreadID returns the thread id recorded from the start event, if any.
func (r *Reducer) ThreadID() string { return r.threadID }

// ProvisionalID returns the id carried by the in-flight assistant message until finalization.
func (r *Reducer) ProvisionalID() string { return r.provisionalID }

// Apply folds one event into the reducer and returns the transition record the host should
// act on. Events arriving after a terminal state are ignored.
func (r *Reducer) Apply(ev Event) Update {
	if r.status == StatusFinalized || r.status == StatusFailed {
		return Update{Kind: UpdateNone}
	}

	switch ev.Type {
	case EventStart:
		if r.status != StatusIdle {
			return Update{Kind: UpdateNone}
		}
		r.status = StatusStarted
		r.threadID = ev.ThreadID
		r.isNewThread = ev.IsNewThread
		return Update{Kind: UpdateOpened, ThreadID: ev.ThreadID, IsNewThread: ev.IsNewThread}

	case EventDelta:
		if r.status != StatusStarted && r.status != StatusStreaming {
			return Update{Kind: UpdateNone}
		}
		r.status = StatusStreaming
		r.append(ev.Content)
		split := extract.Extract(r.acc)
		return Update{
			Kind:     UpdateMessage,
			ThreadID: r.threadID,
			Message: models.Message{
				ID:        r.provisionalID,
				Role:      models.RoleAssistant,
				Content:   split.Content,
				Thinking:  split.Thinking,
				Timestamp: r.startedAt,
			},
		}

	case EventToolCall:
		if r.status != StatusStarted && r.status != StatusStreaming {
			return Update{Kind: UpdateNone}
		}
		r.status = StatusStreaming
		return Update{Kind: UpdateToolCall, ThreadID: r.threadID, Note: ev.Message}

	case EventComplete:
		// The authoritative final text always wins over accumulated deltas, even when it
		// differs byte-for-byte: incremental diffing may have drifted.
		text := r.acc
		for i := len(ev.Messages) - 1; i >= 0; i-- {
			role, ok := models.NormalizeRole(ev.Messages[i].Role)
			if ok && role == models.RoleAssistant {
				text = ev.Messages[i].Content
				break
			}
		}
		threadID := ev.ThreadID
		if threadID == "" {
			threadID = r.threadID
		}
		return r.finalize(text, threadID, ev.IsNewThread || r.isNewThread)

	case EventError:
		r.status = StatusFailed
		text := ev.Error
		if text == "" {
			text = "The assistant ran into an unexpected error. Please try again."
		}
		return Update{
			Kind:     UpdateFailed,
			ThreadID: r.threadID,
			Message: models.Message{
				ID:        uuid.New().String(),
				Role:      models.RoleAssistant,
				Content:   text,
				Timestamp: r.now(),
			},
		}
	}

	return Update{Kind: UpdateNone}
}

// Finish handles the transport ending without a terminal event. Whatever text accumulated is
// surfaced as an implicit success rather than leaving the UI loading forever; showing partial
// output beats showing nothing. Finish after a terminal event is a no-op.
func (r *Reducer) Finish() Update {
	if r.status != StatusStarted && r.status != StatusStreaming {
		return Update{Kind: UpdateNone}
	}
	return r.finalize(r.acc, r.threadID, r.isNewThread)
}

// Fail reports a transport-level failure as the single synthetic error outcome of the send.
func (r *Reducer) Fail(err error) Update {
	return r.Apply(Event{
		Type:  EventError,
		Error: fmt.Sprintf("Failed to reach the chat server: %v. Please try again.", err),
	})
}

func (r *Reducer) finalize(text, threadID string, isNewThread bool) Update {
	r.status = StatusFinalized
	split := extract.Extract(text)
	return Update{
		Kind:        UpdateFinalized,
		ThreadID:    threadID,
		IsNewThread: isNewThread,
		Message: models.Message{
			ID:           uuid.New().String(),
			Role:         models.RoleAssistant,
			Content:      split.Content,
			Thinking:     split.Thinking,
			Timestamp:    r.startedAt,
			ResponseTime: r.now().Sub(r.startedAt).Seconds(),
		},
	}
}

// append grows the accumulator by the incremental suffix of content. A delta that restates
// the whole accumulator is a cumulative resend, not new text: only the part beyond the
// last-seen length is appended, so replays cannot duplicate output.
func (r *Reducer) append(content string) {
	if content == "" {
		return
	}
	if r.acc != "" && len(content) >= len(r.acc) && content[:len(r.acc)] == r.acc {
		r.acc = content
		return
	}
	r.acc += content
}
