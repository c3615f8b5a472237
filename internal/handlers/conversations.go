package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tarwood/hearth/internal/models"
	"github.com/tarwood/hearth/internal/services"
)

type conversationSummary struct {
	ThreadID  string    `json:"thread_id"`
	Title     string    `json:"title,omitempty"`
	Preview   string    `json:"preview"`
	CreatedAt time.Time `json:"created_at"`
}

type conversationMessage struct {
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	Thinking     string    `json:"thinking,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	ResponseTime float64   `json:"response_time,omitempty"`
}

// HandleConversations lists all stored threads, newest first.
func (m Main) HandleConversations(w http.ResponseWriter, r *http.Request) {
	chats, err := m.store.Chats(r.Context())
	if err != nil {
		m.logger.Error("Failed to get chats", slog.String(errLoggerKey, err.Error()))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	summaries := make([]conversationSummary, 0, len(chats))
	for _, chat := range chats {
		summaries = append(summaries, conversationSummary{
			ThreadID:  chat.ID,
			Title:     chat.Title,
			Preview:   chat.Preview,
			CreatedAt: chat.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"conversations": summaries})
}

// HandleConversation returns the messages of one thread. System messages never appear in
// the response; only normalized user and assistant turns are listed.
func (m Main) HandleConversation(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")

	messages, err := m.store.Messages(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, services.ErrThreadNotFound) {
			writeJSONError(w, http.StatusNotFound, "thread not found")
			return
		}
		m.logger.Error("Failed to get messages",
			slog.String("threadID", threadID),
			slog.String(errLoggerKey, err.Error()))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]conversationMessage, 0, len(messages))
	for _, msg := range messages {
		role, ok := models.NormalizeRole(string(msg.Role))
		if !ok {
			continue
		}
		out = append(out, conversationMessage{
			Role:         string(role),
			Content:      msg.Content,
			Thinking:     msg.Thinking,
			Timestamp:    msg.Timestamp,
			ResponseTime: msg.ResponseTime,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"thread_id":      threadID,
		"messages":       out,
		"total_messages": len(out),
	})
}

// HandleDeleteConversation removes a thread and its messages.
func (m Main) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")

	if err := m.store.DeleteChat(r.Context(), threadID); err != nil {
		if errors.Is(err, services.ErrThreadNotFound) {
			writeJSONError(w, http.StatusNotFound, "thread not found")
			return
		}
		m.logger.Error("Failed to delete chat",
			slog.String("threadID", threadID),
			slog.String(errLoggerKey, err.Error()))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}
