package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	"github.com/tarwood/hearth/internal/agent"
	"github.com/tarwood/hearth/internal/extract"
	"github.com/tarwood/hearth/internal/models"
	"github.com/tarwood/hearth/internal/services"
	"github.com/tarwood/hearth/internal/stream"
)

const previewLength = 80

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []stream.Turn `json:"messages"`
	ThreadID string        `json:"thread_id"`
}

// frameWriter serializes stream events onto an SSE response. Terminal frames latch the
// writer shut so a stream can never carry more than one complete or error frame.
type frameWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	done    bool
}

func (f *frameWriter) write(ev stream.Event) error {
	if f.done {
		return nil
	}
	if ev.Terminal() {
		f.done = true
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(f.w, "data: %s\n\n", b); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	f.flusher.Flush()
	return nil
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// HandleChat processes one chat send. It accepts a JSON body carrying the model name, the
// message history, and an optional thread id, then relays the agent's output as a
// server-sent event stream of start, delta, tool_call, and complete frames. Provider
// failures surface as a single error frame.
//
// Inbound message roles are normalized at this boundary; system, tool, and unknown roles
// are dropped before the conversation reaches the agent. When no thread id is given a new
// thread is created and announced in the start frame.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	turns, wireTurns := normalizeTurns(req.Messages)
	lastUser := lastUserText(turns)
	if lastUser == "" {
		m.logger.Error("Message is required")
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	threadID := req.ThreadID
	isNewThread := false
	if threadID == "" {
		threadID = uuid.New().String()
	}
	if _, err := m.store.Messages(r.Context(), threadID); err != nil {
		if !errors.Is(err, services.ErrThreadNotFound) {
			m.logger.Error("Failed to get messages", slog.String(errLoggerKey, err.Error()))
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := m.newThread(threadID, lastUser); err != nil {
			m.logger.Error("Failed to create thread", slog.String(errLoggerKey, err.Error()))
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		isNewThread = true
	}

	userMsg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   lastUser,
		Timestamp: time.Now(),
	}
	if _, err := m.store.AddMessage(r.Context(), threadID, userMsg); err != nil {
		m.logger.Error("Failed to add user message", slog.String(errLoggerKey, err.Error()))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	relay := &frameWriter{w: w, flusher: flusher}

	if err := relay.write(stream.Event{
		Type:        stream.EventStart,
		ThreadID:    threadID,
		IsNewThread: isNewThread,
	}); err != nil {
		m.logger.Error("Failed to write start frame", slog.String(errLoggerKey, err.Error()))
		return
	}

	startedAt := time.Now()
	var final string
	doneSeen := false

	for ev, err := range m.agent.Run(r.Context(), turns) {
		if err != nil {
			m.logger.Error("Error from agent", slog.String(errLoggerKey, err.Error()))
			_ = relay.write(stream.Event{Type: stream.EventError, Error: err.Error()})
			return
		}

		switch ev.Type {
		case agent.EventTextDelta:
			if err := relay.write(stream.Event{
				Type:    stream.EventDelta,
				Content: ev.Text,
				Role:    string(models.RoleAssistant),
			}); err != nil {
				m.logger.Error("Failed to write delta frame", slog.String(errLoggerKey, err.Error()))
				return
			}
		case agent.EventToolCall:
			if err := relay.write(stream.Event{
				Type:    stream.EventToolCall,
				Message: ev.Note,
			}); err != nil {
				m.logger.Error("Failed to write tool call frame", slog.String(errLoggerKey, err.Error()))
				return
			}
		case agent.EventDone:
			final = ev.Final
			doneSeen = true
		}
	}

	if !doneSeen {
		// The agent iterator ended without a Done event, which means the client went away
		// mid-stream. Nothing left to relay.
		return
	}

	res := extract.Extract(final)
	aiMsg := models.Message{
		ID:           uuid.New().String(),
		Role:         models.RoleAssistant,
		Content:      res.Content,
		Thinking:     res.Thinking,
		Timestamp:    time.Now(),
		ResponseTime: time.Since(startedAt).Seconds(),
	}
	if _, err := m.store.AddMessage(r.Context(), threadID, aiMsg); err != nil {
		m.logger.Error("Failed to add AI message", slog.String(errLoggerKey, err.Error()))
		_ = relay.write(stream.Event{Type: stream.EventError, Error: err.Error()})
		return
	}

	// The complete frame carries the raw final text so clients can run their own extraction.
	wireTurns = append(wireTurns, stream.Turn{
		Role:    string(models.RoleAssistant),
		Content: final,
	})
	if err := relay.write(stream.Event{
		Type:          stream.EventComplete,
		ThreadID:      threadID,
		IsNewThread:   isNewThread,
		Messages:      wireTurns,
		TotalMessages: len(wireTurns),
	}); err != nil {
		m.logger.Error("Failed to write complete frame", slog.String(errLoggerKey, err.Error()))
		return
	}

	if isNewThread {
		go m.generateChatTitle(threadID, lastUser)
	}
}

// normalizeTurns maps inbound wire turns through role normalization, dropping system, tool,
// and unknown roles. It returns both the agent-facing turns and the normalized wire form
// echoed back in the complete frame.
func normalizeTurns(wire []stream.Turn) ([]models.Turn, []stream.Turn) {
	var turns []models.Turn
	var kept []stream.Turn
	for _, t := range wire {
		role, ok := models.NormalizeRole(t.Role)
		if !ok {
			continue
		}
		turns = append(turns, models.TextTurn(role, t.Content))
		kept = append(kept, stream.Turn{Role: string(role), Content: t.Content})
	}
	return turns, kept
}

func lastUserText(turns []models.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == models.RoleUser {
			return turns[i].Text()
		}
	}
	return ""
}

func preview(text string) string {
	if runes := []rune(text); len(runes) > previewLength {
		return string(runes[:previewLength])
	}
	return text
}

func (m Main) newThread(threadID, firstMessage string) error {
	chat := models.Chat{
		ID:        threadID,
		Preview:   preview(firstMessage),
		CreatedAt: time.Now(),
	}
	if _, err := m.store.AddChat(context.Background(), chat); err != nil {
		return fmt.Errorf("failed to add chat: %w", err)
	}

	if err := m.publishChatList(threadID); err != nil {
		return fmt.Errorf("failed to publish chats: %w", err)
	}
	return nil
}

func (m Main) generateChatTitle(threadID string, message string) {
	title, err := m.titles.GenerateTitle(context.Background(), message)
	if err != nil {
		m.logger.Error("Error generating chat title",
			slog.String("message", message),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	chats, err := m.store.Chats(context.Background())
	if err != nil {
		m.logger.Error("Failed to get chats", slog.String(errLoggerKey, err.Error()))
		return
	}
	for _, chat := range chats {
		if chat.ID != threadID {
			continue
		}
		chat.Title = title
		if err := m.store.UpdateChat(context.Background(), chat); err != nil {
			m.logger.Error("Failed to update chat title", slog.String(errLoggerKey, err.Error()))
			return
		}
		break
	}

	if err := m.publishChatList(threadID); err != nil {
		m.logger.Error("Failed to publish chats", slog.String(errLoggerKey, err.Error()))
	}
}

// publishChatList renders the sidebar entries and broadcasts them on the chats SSE topic.
func (m Main) publishChatList(activeID string) error {
	chats, err := m.store.Chats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get chats: %w", err)
	}

	var sb strings.Builder
	for _, ch := range chats {
		err := m.templates.ExecuteTemplate(&sb, "chat_title", chatView{
			ID:     ch.ID,
			Title:  chatTitle(ch),
			Active: ch.ID == activeID,
		})
		if err != nil {
			return fmt.Errorf("failed to execute chat_title template: %w", err)
		}
	}

	msg := sse.Message{Type: chatsSSEType}
	msg.AppendData(sb.String())
	return m.sseSrv.Publish(&msg, chatsSSETopic)
}
