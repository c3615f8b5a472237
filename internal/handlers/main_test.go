package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/tarwood/hearth/internal/agent"
	"github.com/tarwood/hearth/internal/handlers"
	"github.com/tarwood/hearth/internal/models"
	"github.com/tarwood/hearth/internal/services"
	"github.com/tarwood/hearth/internal/stream"
)

type mockRunner struct {
	events []agent.Event
	err    error
}

// mockStore guards its maps with a mutex since title generation runs on its own goroutine.
type mockStore struct {
	mu       sync.Mutex
	chats    []models.Chat
	messages map[string][]models.Message
	err      error
}

type mockTitles struct {
	title string
	err   error
}

type mockHealth struct {
	names []string
	err   error
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMain(t *testing.T, runner *mockRunner, store *mockStore) handlers.Main {
	t.Helper()
	m, err := handlers.NewMain(runner, mockTitles{title: "A title"}, store, mockHealth{}, discardLogger())
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}
	return m
}

func parseFrames(t *testing.T, body string) []stream.Event {
	t.Helper()
	var events []stream.Event
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev stream.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("invalid frame %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func postChat(t *testing.T, m handlers.Main, req stream.Request) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(string(body)))
	w := httptest.NewRecorder()
	m.HandleChat(w, r)
	return w
}

func TestNewMain(t *testing.T) {
	m := newTestMain(t, &mockRunner{}, &mockStore{messages: map[string][]models.Message{}})

	if m.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
}

func TestHandleChat(t *testing.T) {
	runner := &mockRunner{
		events: []agent.Event{
			{Type: agent.EventTextDelta, Text: "Hello"},
			{Type: agent.EventTextDelta, Text: " world"},
			{Type: agent.EventDone, Final: "Hello world"},
		},
	}
	store := &mockStore{messages: map[string][]models.Message{}}
	m := newTestMain(t, runner, store)

	w := postChat(t, m, stream.Request{
		Messages: []stream.Turn{{Role: "human", Content: "Hi"}},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("HandleChat() status = %v, want %v", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	events := parseFrames(t, w.Body.String())
	if len(events) != 4 {
		t.Fatalf("got %d frames, want 4: %+v", len(events), events)
	}

	if events[0].Type != stream.EventStart {
		t.Errorf("first frame type = %v, want start", events[0].Type)
	}
	if events[0].ThreadID == "" {
		t.Error("start frame should carry a thread id")
	}
	if !events[0].IsNewThread {
		t.Error("start frame should mark the thread as new")
	}

	if events[1].Type != stream.EventDelta || events[1].Content != "Hello" {
		t.Errorf("second frame = %+v, want delta %q", events[1], "Hello")
	}
	if events[2].Type != stream.EventDelta || events[2].Content != " world" {
		t.Errorf("third frame = %+v, want delta %q", events[2], " world")
	}

	last := events[3]
	if last.Type != stream.EventComplete {
		t.Fatalf("last frame type = %v, want complete", last.Type)
	}
	if last.TotalMessages != 2 {
		t.Errorf("total_messages = %d, want 2", last.TotalMessages)
	}
	finalTurn := last.Messages[len(last.Messages)-1]
	if finalTurn.Role != "assistant" || finalTurn.Content != "Hello world" {
		t.Errorf("final turn = %+v, want assistant %q", finalTurn, "Hello world")
	}

	// Both the user and the assistant message must be persisted
	stored := store.messages[events[0].ThreadID]
	if len(stored) != 2 {
		t.Fatalf("stored %d messages, want 2", len(stored))
	}
	if stored[0].Role != models.RoleUser || stored[0].Content != "Hi" {
		t.Errorf("stored user message = %+v", stored[0])
	}
	if stored[1].Role != models.RoleAssistant || stored[1].Content != "Hello world" {
		t.Errorf("stored assistant message = %+v", stored[1])
	}
}

func TestHandleChatThinking(t *testing.T) {
	final := "<think>pondering</think>The answer."
	runner := &mockRunner{
		events: []agent.Event{
			{Type: agent.EventTextDelta, Text: final},
			{Type: agent.EventDone, Final: final},
		},
	}
	store := &mockStore{messages: map[string][]models.Message{}}
	m := newTestMain(t, runner, store)

	w := postChat(t, m, stream.Request{
		Messages: []stream.Turn{{Role: "user", Content: "Hi"}},
	})

	events := parseFrames(t, w.Body.String())
	last := events[len(events)-1]
	if last.Type != stream.EventComplete {
		t.Fatalf("last frame type = %v, want complete", last.Type)
	}
	// The wire keeps the raw text; extraction happens at the edges
	if got := last.Messages[len(last.Messages)-1].Content; got != final {
		t.Errorf("complete frame content = %q, want raw %q", got, final)
	}

	stored := store.messages[events[0].ThreadID]
	aiMsg := stored[len(stored)-1]
	if aiMsg.Content != "The answer." {
		t.Errorf("stored content = %q, want %q", aiMsg.Content, "The answer.")
	}
	if aiMsg.Thinking != "pondering" {
		t.Errorf("stored thinking = %q, want %q", aiMsg.Thinking, "pondering")
	}
	if aiMsg.ResponseTime <= 0 {
		t.Error("stored assistant message should carry a response time")
	}
}

func TestHandleChatToolCall(t *testing.T) {
	runner := &mockRunner{
		events: []agent.Event{
			{Type: agent.EventToolCall, Note: "Using tool roll_dice"},
			{Type: agent.EventTextDelta, Text: "You rolled a 4."},
			{Type: agent.EventDone, Final: "You rolled a 4."},
		},
	}
	m := newTestMain(t, runner, &mockStore{messages: map[string][]models.Message{}})

	w := postChat(t, m, stream.Request{
		Messages: []stream.Turn{{Role: "user", Content: "Roll a d6"}},
	})

	events := parseFrames(t, w.Body.String())
	if len(events) != 4 {
		t.Fatalf("got %d frames, want 4", len(events))
	}
	if events[1].Type != stream.EventToolCall || events[1].Message != "Using tool roll_dice" {
		t.Errorf("tool call frame = %+v", events[1])
	}
}

func TestHandleChatAgentError(t *testing.T) {
	runner := &mockRunner{
		events: []agent.Event{{Type: agent.EventTextDelta, Text: "partial"}},
		err:    fmt.Errorf("provider exploded"),
	}
	m := newTestMain(t, runner, &mockStore{messages: map[string][]models.Message{}})

	w := postChat(t, m, stream.Request{
		Messages: []stream.Turn{{Role: "user", Content: "Hi"}},
	})

	events := parseFrames(t, w.Body.String())
	last := events[len(events)-1]
	if last.Type != stream.EventError {
		t.Fatalf("last frame type = %v, want error", last.Type)
	}
	if !strings.Contains(last.Error, "provider exploded") {
		t.Errorf("error frame = %q, want provider error", last.Error)
	}

	terminals := 0
	for _, ev := range events {
		if ev.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("got %d terminal frames, want exactly 1", terminals)
	}
}

func TestHandleChatBadRequests(t *testing.T) {
	m := newTestMain(t, &mockRunner{}, &mockStore{messages: map[string][]models.Message{}})

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "Invalid json",
			body:       "{broken",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "No messages",
			body:       `{"messages":[]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Only unsupported roles",
			body:       `{"messages":[{"role":"system","content":"x"},{"role":"tool","content":"y"}]}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			m.HandleChat(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleChat() status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleChatExistingThread(t *testing.T) {
	runner := &mockRunner{
		events: []agent.Event{{Type: agent.EventDone, Final: "ok"}},
	}
	store := &mockStore{
		chats:    []models.Chat{{ID: "t1"}},
		messages: map[string][]models.Message{"t1": {}},
	}
	m := newTestMain(t, runner, store)

	w := postChat(t, m, stream.Request{
		ThreadID: "t1",
		Messages: []stream.Turn{{Role: "user", Content: "again"}},
	})

	events := parseFrames(t, w.Body.String())
	if events[0].ThreadID != "t1" {
		t.Errorf("thread id = %q, want t1", events[0].ThreadID)
	}
	if events[0].IsNewThread {
		t.Error("existing thread should not be marked new")
	}
}

func TestHandleConversations(t *testing.T) {
	store := &mockStore{
		chats: []models.Chat{
			{ID: "t1", Title: "First", Preview: "hello"},
			{ID: "t2", Preview: "second"},
		},
		messages: map[string][]models.Message{},
	}
	m := newTestMain(t, &mockRunner{}, store)

	r := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	w := httptest.NewRecorder()
	m.HandleConversations(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %v, want %v", w.Code, http.StatusOK)
	}

	var resp struct {
		Conversations []struct {
			ThreadID string `json:"thread_id"`
			Title    string `json:"title"`
			Preview  string `json:"preview"`
		} `json:"conversations"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Conversations) != 2 {
		t.Fatalf("got %d conversations, want 2", len(resp.Conversations))
	}
	if resp.Conversations[0].ThreadID != "t1" || resp.Conversations[0].Title != "First" {
		t.Errorf("first conversation = %+v", resp.Conversations[0])
	}
}

func TestHandleConversation(t *testing.T) {
	store := &mockStore{
		messages: map[string][]models.Message{
			"t1": {
				{Role: models.RoleSystem, Content: "instructions"},
				{Role: models.RoleUser, Content: "Hi"},
				{Role: models.RoleAssistant, Content: "Hello!", Thinking: "greeting"},
			},
		},
	}
	m := newTestMain(t, &mockRunner{}, store)

	tests := []struct {
		name       string
		threadID   string
		wantStatus int
		wantTotal  int
	}{
		{
			name:       "Known thread filters system messages",
			threadID:   "t1",
			wantStatus: http.StatusOK,
			wantTotal:  2,
		},
		{
			name:       "Unknown thread",
			threadID:   "nope",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/conversations/"+tt.threadID, nil)
			r.SetPathValue("thread_id", tt.threadID)
			w := httptest.NewRecorder()
			m.HandleConversation(w, r)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %v, want %v", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp struct {
				ThreadID string `json:"thread_id"`
				Messages []struct {
					Role     string `json:"role"`
					Content  string `json:"content"`
					Thinking string `json:"thinking"`
				} `json:"messages"`
				TotalMessages int `json:"total_messages"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.TotalMessages != tt.wantTotal {
				t.Errorf("total_messages = %d, want %d", resp.TotalMessages, tt.wantTotal)
			}
			for _, msg := range resp.Messages {
				if msg.Role == "system" {
					t.Error("system messages must not be listed")
				}
			}
			if resp.Messages[1].Thinking != "greeting" {
				t.Errorf("assistant thinking = %q, want %q", resp.Messages[1].Thinking, "greeting")
			}
		})
	}
}

func TestHandleDeleteConversation(t *testing.T) {
	store := &mockStore{
		chats:    []models.Chat{{ID: "t1"}},
		messages: map[string][]models.Message{"t1": {}},
	}
	m := newTestMain(t, &mockRunner{}, store)

	tests := []struct {
		name       string
		threadID   string
		wantStatus int
	}{
		{name: "Existing thread", threadID: "t1", wantStatus: http.StatusOK},
		{name: "Unknown thread", threadID: "t1", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodDelete, "/api/conversations/"+tt.threadID, nil)
			r.SetPathValue("thread_id", tt.threadID)
			w := httptest.NewRecorder()
			m.HandleDeleteConversation(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	store := &mockStore{messages: map[string][]models.Message{}}

	tests := []struct {
		name       string
		health     mockHealth
		wantStatus int
	}{
		{
			name:       "Healthy",
			health:     mockHealth{names: []string{"llama3"}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "Unhealthy",
			health:     mockHealth{err: fmt.Errorf("connection refused")},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := handlers.NewMain(&mockRunner{}, mockTitles{}, store, tt.health, discardLogger())
			if err != nil {
				t.Fatal(err)
			}

			r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			w := httptest.NewRecorder()
			m.HandleHealth(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleHome(t *testing.T) {
	store := &mockStore{
		chats: []models.Chat{{ID: "t1", Title: "Test Chat"}},
		messages: map[string][]models.Message{
			"t1": {{ID: "1", Role: models.RoleUser, Content: "Hello"}},
		},
	}
	m := newTestMain(t, &mockRunner{}, store)

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Home page without chat",
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody:   "Test Chat",
		},
		{
			name:       "Home page with chat",
			url:        "/?chat_id=t1",
			wantStatus: http.StatusOK,
			wantBody:   "Hello",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			w := httptest.NewRecorder()

			m.HandleHome(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleHome() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("HandleHome() body should contain %q", tt.wantBody)
			}
		})
	}
}

func (m *mockRunner) Run(_ context.Context, _ []models.Turn) iter.Seq2[agent.Event, error] {
	return func(yield func(agent.Event, error) bool) {
		for _, ev := range m.events {
			if !yield(ev, nil) {
				return
			}
		}
		if m.err != nil {
			yield(agent.Event{}, m.err)
		}
	}
}

func (m mockTitles) GenerateTitle(context.Context, string) (string, error) {
	return m.title, m.err
}

func (m mockHealth) Health(context.Context) ([]string, error) {
	return m.names, m.err
}

func (m *mockStore) Chats(context.Context) ([]models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return slices.Clone(m.chats), nil
}

func (m *mockStore) AddChat(_ context.Context, chat models.Chat) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.chats = append(m.chats, chat)
	if m.messages[chat.ID] == nil {
		m.messages[chat.ID] = []models.Message{}
	}
	return chat.ID, nil
}

func (m *mockStore) UpdateChat(_ context.Context, chat models.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := slices.IndexFunc(m.chats, func(c models.Chat) bool { return c.ID == chat.ID })
	if idx == -1 {
		return fmt.Errorf("chat not found")
	}
	m.chats[idx] = chat
	return m.err
}

func (m *mockStore) DeleteChat(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[chatID]; !ok {
		return services.ErrThreadNotFound
	}
	delete(m.messages, chatID)
	m.chats = slices.DeleteFunc(m.chats, func(c models.Chat) bool { return c.ID == chatID })
	return m.err
}

func (m *mockStore) Messages(_ context.Context, chatID string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	msgs, ok := m.messages[chatID]
	if !ok {
		return nil, services.ErrThreadNotFound
	}
	return slices.Clone(msgs), nil
}

func (m *mockStore) AddMessage(_ context.Context, chatID string, msg models.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.messages[chatID] = append(m.messages[chatID], msg)
	return msg.ID, nil
}
