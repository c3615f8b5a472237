package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/MegaGrindStone/go-mcp"
	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
	"github.com/tarwood/hearth/internal/models"
)

// Ollama provides an implementation of the LLM interface for interacting with a local Ollama
// server. It handles streaming chat completions, tool calls, and the liveness probe backing
// the UI status banner.
type Ollama struct {
	host         string
	model        string
	systemPrompt string

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The
// host parameter should be a valid URL pointing to an Ollama server; if it is invalid, the
// function will panic.
func NewOllama(host, model, systemPrompt string, logger *slog.Logger) Ollama {
	u, err := url.Parse(host)
	if err != nil {
		panic(err)
	}

	return Ollama{
		host:         host,
		model:        model,
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
		logger:       logger.With(slog.String("module", "ollama")),
	}
}

func ollamaMessages(turns []models.Turn) []api.Message {
	var msgs []api.Message
	for _, turn := range turns {
		for _, ct := range turn.Contents {
			switch ct.Type {
			case models.ContentTypeText:
				if ct.Text != "" {
					msgs = append(msgs, api.Message{
						Role:    string(turn.Role),
						Content: ct.Text,
					})
				}
			case models.ContentTypeCallTool:
				var args api.ToolCallFunctionArguments
				if err := json.Unmarshal(ct.ToolInput, &args); err != nil {
					args = api.ToolCallFunctionArguments{}
				}
				msgs = append(msgs, api.Message{
					Role: "assistant",
					ToolCalls: []api.ToolCall{
						{
							Function: api.ToolCallFunction{
								Name:      ct.ToolName,
								Arguments: args,
							},
						},
					},
				})
			case models.ContentTypeToolResult:
				msgs = append(msgs, api.Message{
					Role:    "tool",
					Content: string(ct.ToolResult),
				})
			}
		}
	}
	return msgs
}

// ollamaTools converts MCP tool declarations into the Ollama request shape through a JSON
// round-trip, which keeps this code independent of the api package's nested schema structs.
func ollamaTools(tools []mcp.Tool) (api.Tools, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	raw := make([]map[string]any, len(tools))
	for i, tool := range tools {
		schemaJSON, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tool schema: %w", err)
		}
		var schema map[string]any
		if err := json.Unmarshal(schemaJSON, &schema); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool schema: %w", err)
		}
		raw[i] = map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  schema,
			},
		}
	}

	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tools: %w", err)
	}

	var out api.Tools
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, fmt.Errorf("failed to build ollama tools: %w", err)
	}
	return out, nil
}

// Chat implements the LLM interface by streaming responses from the Ollama model. The
// returned iterator yields text chunks as they arrive; if the model decides to call a tool,
// one call_tool content is yielded after the stream drains and the iterator ends.
func (o Ollama) Chat(ctx context.Context, turns []models.Turn, tools []mcp.Tool) iter.Seq2[models.Content, error] {
	return func(yield func(models.Content, error) bool) {
		msgs := ollamaMessages(turns)
		msgs = slices.Insert(msgs, 0, api.Message{
			Role:    "system",
			Content: o.systemPrompt,
		})

		oTools, err := ollamaTools(tools)
		if err != nil {
			yield(models.Content{}, err)
			return
		}

		t := true
		req := api.ChatRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   &t,
			Tools:    oTools,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		toolUse := false
		callToolContent := models.Content{
			Type: models.ContentTypeCallTool,
		}

		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if len(res.Message.ToolCalls) > 0 {
				if len(res.Message.ToolCalls) > 1 {
					o.logger.Warn("Received multiple tool calls, but only the first one is supported",
						slog.Int("count", len(res.Message.ToolCalls)))
				}
				tc := res.Message.ToolCalls[0]
				input, err := json.Marshal(tc.Function.Arguments)
				if err != nil {
					input = []byte("{}")
				}
				toolUse = true
				callToolContent.ToolName = tc.Function.Name
				callToolContent.ToolInput = input
				callToolContent.CallToolID = "call-" + uuid.New().String()
				return nil
			}

			if res.Message.Content == "" {
				return nil
			}
			if !yield(models.Content{
				Type: models.ContentTypeText,
				Text: res.Message.Content,
			}, nil) {
				cancel()
			}
			return nil
		}); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(models.Content{}, fmt.Errorf("error sending request: %w", err))
			return
		}

		if toolUse {
			o.logger.Debug("Call Tool",
				slog.String("name", callToolContent.ToolName),
				slog.String("args", string(callToolContent.ToolInput)))
			yield(callToolContent, nil)
		}
	}
}

// GenerateTitle generates a title for a given message. It sends a single message to the
// Ollama API and returns the first response content as the title.
func (o Ollama) GenerateTitle(ctx context.Context, message string) (string, error) {
	f := false
	req := api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: "Write a short title (at most six words) for a conversation that starts with: " + message,
			},
		},
		Stream: &f,
	}

	var title string

	if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
		title = res.Message.Content
		return nil
	}); err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	return title, nil
}

// Health probes the Ollama server and returns the names of the installed models. An error
// means the runtime is unreachable.
func (o Ollama) Health(ctx context.Context) ([]string, error) {
	resp, err := o.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ollama is not reachable at %s: %w", o.host, err)
	}

	names := make([]string, len(resp.Models))
	for i, m := range resp.Models {
		names[i] = m.Name
	}
	return names, nil
}
