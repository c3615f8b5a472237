// Package handlers wires the HTTP surface of the server: the streaming chat endpoint, the
// conversation management API, the health check, and the server-rendered home page.
package handlers

import (
	"context"
	"fmt"
	"html/template"
	"iter"
	"log/slog"
	"time"

	"github.com/tmaxmax/go-sse"

	hearth "github.com/tarwood/hearth"
	"github.com/tarwood/hearth/internal/agent"
	"github.com/tarwood/hearth/internal/models"
)

const errLoggerKey = "err"

// Runner executes one agent send over a normalized conversation, yielding text deltas,
// tool-call notes, and a final Done event.
type Runner interface {
	Run(ctx context.Context, turns []models.Turn) iter.Seq2[agent.Event, error]
}

// HealthChecker reports whether the backing model provider is reachable, returning the
// model names it serves.
type HealthChecker interface {
	Health(ctx context.Context) ([]string, error)
}

// Store defines the persistence operations the handlers need. It covers thread bookkeeping
// and message storage for both atomic writes and bulk reads.
type Store interface {
	Chats(ctx context.Context) ([]models.Chat, error)
	AddChat(ctx context.Context, chat models.Chat) (string, error)
	UpdateChat(ctx context.Context, chat models.Chat) error
	DeleteChat(ctx context.Context, chatID string) error

	Messages(ctx context.Context, chatID string) ([]models.Message, error)
	AddMessage(ctx context.Context, chatID string, message models.Message) (string, error)
}

// Main holds the shared dependencies of all HTTP handlers: the SSE server used for sidebar
// updates, the parsed templates, the agent, and the store.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	agent  Runner
	titles agent.TitleGenerator
	store  Store
	health HealthChecker

	logger *slog.Logger
}

const chatsSSETopic = "chats"

var chatsSSEType = sse.Type("chats")

// NewMain creates a Main instance from the agent, title generator, store, and health checker.
// It parses the HTML templates from the embedded filesystem and configures the SSE server
// that pushes sidebar updates to connected browsers.
func NewMain(runner Runner, titles agent.TitleGenerator, store Store, health HealthChecker, logger *slog.Logger) (Main, error) {
	// Layout, pages, and partials live in separate directories to keep the templates small
	tmpl, err := template.ParseFS(
		hearth.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic, chatsSSETopic},
				}, true
			},
		},
		templates: tmpl,
		agent:     runner,
		titles:    titles,
		store:     store,
		health:    health,
		logger:    logger.With(slog.String("module", "handlers")),
	}, nil
}

// SSEHandler exposes the go-sse server for the /sse/chats endpoint.
func (m Main) SSEHandler() *sse.Server {
	return m.sseSrv
}

// Shutdown gracefully terminates the SSE server. It broadcasts a close message to connected
// clients and waits up to 5 seconds for them to disconnect before forcing the remainder.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// The SSE spec requires data on every event, even a goodbye
	e.AppendData("bye")

	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
