package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"
)

// Request is the chat request body. ThreadID left empty asks the server to mint a new thread
// and report it back in the start event.
type Request struct {
	Model    string `json:"model"`
	Messages []Turn `json:"messages"`
	ThreadID string `json:"thread_id,omitempty"`
}

// Conversation is one entry of the conversation listing.
type Conversation struct {
	ThreadID  string    `json:"thread_id"`
	Title     string    `json:"title,omitempty"`
	Preview   string    `json:"preview,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Thread is the full role/content history of one conversation.
type Thread struct {
	ThreadID      string `json:"thread_id"`
	Messages      []Turn `json:"messages"`
	TotalMessages int    `json:"total_messages"`
}

// Client is the transport adapter: it issues one request per user-submitted message and
// exposes the response as a pull-based event sequence. It enforces no timeout of its own and
// performs no retries; the caller owns the one-concurrent-send rule.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a transport client for the given server base URL.
func NewClient(baseURL string) Client {
	return Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Send issues the chat request and streams back parsed events. A network-level failure is
// reported as a single non-nil error, after which the sequence ends; no partial recovery is
// attempted. Cancelling ctx releases the response body and ends the sequence silently, since
// a torn-down caller has nothing left to report to.
func (c Client) Send(ctx context.Context, req Request) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		body, err := json.Marshal(req)
		if err != nil {
			yield(Event{}, fmt.Errorf("error marshaling request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/api/chat", bytes.NewBuffer(body))
		if err != nil {
			yield(Event{}, fmt.Errorf("error creating request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(httpReq)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(Event{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			yield(Event{}, fmt.Errorf("chat request failed with status %d", resp.StatusCode))
			return
		}

		for ev, err := range Events(resp.Body) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(Event{}, fmt.Errorf("error reading response: %w", err))
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Conversations lists the server's conversations, newest first.
func (c Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var out struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := c.getJSON(ctx, "/api/conversations", &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// Conversation fetches one conversation's role/content messages.
func (c Client) Conversation(ctx context.Context, threadID string) (Thread, error) {
	var out Thread
	if err := c.getJSON(ctx, "/api/conversations/"+threadID, &out); err != nil {
		return Thread{}, err
	}
	return out, nil
}

// DeleteConversation removes one conversation and its messages.
func (c Client) DeleteConversation(ctx context.Context, threadID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/conversations/"+threadID, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
