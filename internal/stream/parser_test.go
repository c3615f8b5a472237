package stream_test

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarwood/hearth/internal/stream"
)

// chunkReader hands out the body in fixed-size pieces so frames split across reads.
type chunkReader struct {
	data string
	pos  int
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	end := c.pos + c.size
	if end > len(c.data) {
		end = len(c.data)
	}
	n := copy(p, c.data[c.pos:end])
	c.pos += n
	return n, nil
}

func collect(t *testing.T, r io.Reader) []stream.Event {
	t.Helper()
	var events []stream.Event
	for ev, err := range stream.Events(r) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func TestEvents(t *testing.T) {
	body := `data: {"type":"start","thread_id":"t1","is_new_thread":true}` + "\n\n" +
		`data: {"type":"delta","content":"Hello","role":"assistant"}` + "\n\n" +
		`data: {"type":"complete","thread_id":"t1","messages":[{"role":"assistant","content":"Hello"}],"total_messages":2}` + "\n\n"

	events := collect(t, strings.NewReader(body))
	require.Len(t, events, 3)

	assert.Equal(t, stream.EventStart, events[0].Type)
	assert.Equal(t, "t1", events[0].ThreadID)
	assert.True(t, events[0].IsNewThread)

	assert.Equal(t, stream.EventDelta, events[1].Type)
	assert.Equal(t, "Hello", events[1].Content)

	assert.Equal(t, stream.EventComplete, events[2].Type)
	assert.Equal(t, 2, events[2].TotalMessages)
	require.Len(t, events[2].Messages, 1)
	assert.Equal(t, "Hello", events[2].Messages[0].Content)
}

func TestEventsArbitraryChunking(t *testing.T) {
	body := `data: {"type":"delta","content":"one"}` + "\n\n" +
		`data: {"type":"delta","content":"two"}` + "\n\n"

	for _, size := range []int{1, 2, 3, 7, 1024} {
		events := collect(t, &chunkReader{data: body, size: size})
		require.Len(t, events, 2, "chunk size %d", size)
		assert.Equal(t, "one", events[0].Content)
		assert.Equal(t, "two", events[1].Content)
	}
}

func TestEventsSkipsMalformedFrames(t *testing.T) {
	body := "data: {broken json\n\n" +
		`data: {"type":"delta","content":"ok"}` + "\n\n"

	events := collect(t, strings.NewReader(body))
	require.Len(t, events, 1)
	assert.Equal(t, stream.EventDelta, events[0].Type)
	assert.Equal(t, "ok", events[0].Content)
}

func TestEventsSkipsUntypedFrames(t *testing.T) {
	body := `data: {"content":"no type"}` + "\n\n" +
		`data: {"type":"delta","content":"typed"}` + "\n\n"

	events := collect(t, strings.NewReader(body))
	require.Len(t, events, 1)
	assert.Equal(t, "typed", events[0].Content)
}

func TestEventsEmptyBody(t *testing.T) {
	events := collect(t, strings.NewReader(""))
	assert.Empty(t, events)
}
