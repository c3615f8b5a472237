package handlers

import (
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/tarwood/hearth/internal/markdown"
	"github.com/tarwood/hearth/internal/models"
)

type chatView struct {
	ID    string
	Title string

	Active bool
}

type messageView struct {
	ID        string
	Role      string
	Content   template.HTML
	Thinking  string
	Timestamp time.Time
}

type homePageData struct {
	CurrentChatID string
	Chats         []chatView
	Messages      []messageView
}

func chatTitle(chat models.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	if chat.Preview != "" {
		return chat.Preview
	}
	return "New conversation"
}

// HandleHome renders the chat page: the thread sidebar plus the messages of the thread
// selected through the chat_id query parameter. Assistant messages are rendered as
// markdown; user messages stay escaped plain text.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	chats, err := m.store.Chats(r.Context())
	if err != nil {
		m.logger.Error("Failed to get chats", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	currentChatID := r.URL.Query().Get("chat_id")

	chatViews := make([]chatView, len(chats))
	for i, chat := range chats {
		chatViews[i] = chatView{
			ID:     chat.ID,
			Title:  chatTitle(chat),
			Active: chat.ID == currentChatID,
		}
	}

	var messageViews []messageView
	if currentChatID != "" {
		messages, err := m.store.Messages(r.Context(), currentChatID)
		if err != nil {
			m.logger.Error("Failed to get messages",
				slog.String("chatID", currentChatID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		for _, msg := range messages {
			role, ok := models.NormalizeRole(string(msg.Role))
			if !ok {
				continue
			}

			content := template.HTML(template.HTMLEscapeString(msg.Content))
			if role == models.RoleAssistant {
				rendered, err := markdown.Render(msg.Content)
				if err != nil {
					m.logger.Error("Failed to render markdown",
						slog.String(errLoggerKey, err.Error()))
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				content = rendered
			}

			messageViews = append(messageViews, messageView{
				ID:        msg.ID,
				Role:      string(role),
				Content:   content,
				Thinking:  msg.Thinking,
				Timestamp: msg.Timestamp,
			})
		}
	}

	data := homePageData{
		CurrentChatID: currentChatID,
		Chats:         chatViews,
		Messages:      messageViews,
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
