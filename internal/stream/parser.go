package stream

import (
	"encoding/json"
	"io"
	"iter"

	"github.com/tmaxmax/go-sse"
)

// Events converts a raw chat-stream body into a sequence of parsed events. Chunks may arrive
// in arbitrary sizes with no alignment to frame boundaries; buffering across chunks is
// handled by the underlying SSE reader, which splits the body into "data: <json>" frames.
//
// A frame whose payload is not valid JSON is skipped silently: transient parse failures must
// never kill the connection, so the parser simply waits for the next frame. A read failure on
// the transport itself is yielded once as a non-nil error, after which the sequence ends.
//
// The sequence is lazy, finite, and tied to one transport instance; it cannot be restarted.
func Events(r io.Reader) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for ev, err := range sse.Read(r, nil) {
			if err != nil {
				yield(Event{}, err)
				return
			}

			var e Event
			if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
				// Best effort: malformed or partial frame, move on.
				continue
			}
			if e.Type == "" {
				continue
			}

			if !yield(e, nil) {
				return
			}
		}
	}
}
