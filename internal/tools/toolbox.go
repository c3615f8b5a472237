// Package tools hosts the agent's toolbox: the built-in tools (dice rolling, web search,
// web scraping) and an adapter that merges in tools served by external MCP servers.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/MegaGrindStone/go-mcp"
)

const errLoggerKey = "err"

// Handler executes one tool call. The returned payload is a JSON-encoded []mcp.Content; the
// boolean reports whether the call succeeded. Failed calls still return a payload so the
// model can read the failure.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, bool)

// Toolbox is the registry the agent dispatches tool calls through. Tool names are unique;
// on a collision the first registrant wins.
type Toolbox struct {
	defs     []mcp.Tool
	handlers map[string]Handler

	logger *slog.Logger
}

// NewToolbox creates an empty toolbox.
func NewToolbox(logger *slog.Logger) *Toolbox {
	return &Toolbox{
		handlers: make(map[string]Handler),
		logger:   logger.With(slog.String("module", "tools")),
	}
}

// Register adds a tool declaration and its handler. Registrations after the first for the
// same name are ignored.
func (t *Toolbox) Register(def mcp.Tool, h Handler) {
	if _, ok := t.handlers[def.Name]; ok {
		t.logger.Warn("Duplicate tool registration ignored", slog.String("toolName", def.Name))
		return
	}
	t.defs = append(t.defs, def)
	t.handlers[def.Name] = h
}

// Tools returns the declarations of every registered tool, in registration order.
func (t *Toolbox) Tools() []mcp.Tool {
	return t.defs
}

// Call dispatches one tool call and returns the result payload plus a success flag. Unknown
// tools fail with an explanatory payload rather than an error: the model asked for them, so
// the model gets to read the answer.
func (t *Toolbox) Call(ctx context.Context, params mcp.CallToolParams) (json.RawMessage, bool) {
	h, ok := t.handlers[params.Name]
	if !ok {
		t.logger.Error("Tool not found", slog.String("toolName", params.Name))
		return TextResult("tool " + params.Name + " is not found"), false
	}

	res, success := h(ctx, params.Arguments)

	t.logger.Debug("Tool result",
		slog.String("toolName", params.Name),
		slog.Bool("success", success),
		slog.String("result", string(res)))

	return res, success
}

// TextResult wraps a plain string into the JSON-encoded content list tool results carry.
func TextResult(text string) json.RawMessage {
	contents := []mcp.Content{
		{
			Type: mcp.ContentTypeText,
			Text: text,
		},
	}

	res, _ := json.Marshal(contents)
	return res
}

// ErrorResult wraps an error into the same content-list shape as TextResult.
func ErrorResult(err error) json.RawMessage {
	return TextResult(err.Error())
}
