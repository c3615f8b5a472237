// Package agent runs the tool-calling loop between a language model provider and the
// toolbox. The loop is the server-side engine behind every chat stream: provider output is
// forwarded as it arrives, tool calls suspend the stream while the tool runs, and the final
// assistant text is delivered once a pass completes without calling a tool.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"

	"github.com/MegaGrindStone/go-mcp"
	"github.com/tarwood/hearth/internal/models"
	"github.com/tarwood/hearth/internal/tools"
)

const errLoggerKey = "err"

// maxToolPasses bounds how many times one send may re-enter the provider after a tool call.
const maxToolPasses = 10

// LLM represents a language model provider. It accepts the provider-facing conversation and
// the available tool declarations, returning an iterator that yields content blocks and
// potential errors.
type LLM interface {
	Chat(ctx context.Context, turns []models.Turn, tools []mcp.Tool) iter.Seq2[models.Content, error]
}

// TitleGenerator produces a short thread title from the first user message.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, message string) (string, error)
}

// Toolbox dispatches tool calls requested by the model.
type Toolbox interface {
	Tools() []mcp.Tool
	Call(ctx context.Context, params mcp.CallToolParams) (json.RawMessage, bool)
}

// EventType tags the events the agent loop yields.
type EventType int

const (
	// EventTextDelta carries an incremental fragment of assistant text in Text.
	EventTextDelta EventType = iota
	// EventToolCall carries a human-readable tool-usage description in Note.
	EventToolCall
	// EventDone carries the full assistant text of the send in Final.
	EventDone
)

// Event is one unit of agent output.
type Event struct {
	Type  EventType
	Text  string
	Note  string
	Final string
}

// Agent wires a provider and a toolbox into the tool-calling loop.
type Agent struct {
	llm     LLM
	toolbox Toolbox

	logger *slog.Logger
}

// New creates an agent from a provider and a toolbox.
func New(llm LLM, toolbox Toolbox, logger *slog.Logger) Agent {
	return Agent{
		llm:     llm,
		toolbox: toolbox,
		logger:  logger.With(slog.String("module", "agent")),
	}
}

// Run executes one send. Text deltas and tool-call notes are yielded in arrival order,
// strictly one at a time; the terminating EventDone carries the concatenated assistant text
// of all passes. A provider error ends the run with that error and no partial Done.
func (a Agent) Run(ctx context.Context, turns []models.Turn) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		turns = slices.Clone(turns)
		var final strings.Builder

		for pass := 0; ; pass++ {
			if pass >= maxToolPasses {
				yield(Event{}, fmt.Errorf("tool loop exceeded %d passes", maxToolPasses))
				return
			}

			assistantTurn := models.Turn{
				Role:     models.RoleAssistant,
				Contents: []models.Content{{Type: models.ContentTypeText}},
			}
			callTool := false
			badToolInputFlag := false
			badToolInput := json.RawMessage("{}")

			for content, err := range a.llm.Chat(ctx, turns, a.toolbox.Tools()) {
				if err != nil {
					a.logger.Error("Error from llm provider", slog.String(errLoggerKey, err.Error()))
					yield(Event{}, err)
					return
				}

				switch content.Type {
				case models.ContentTypeText:
					assistantTurn.Contents[0].Text += content.Text
					final.WriteString(content.Text)
					if !yield(Event{Type: EventTextDelta, Text: content.Text}, nil) {
						return
					}
				case models.ContentTypeCallTool:
					// Some models emit tool input that isn't valid json. Flag it so the model
					// hears about its mistake instead of the request blowing up downstream.
					if _, err := json.Marshal(content.ToolInput); err != nil {
						badToolInputFlag = true
						badToolInput = content.ToolInput
						content.ToolInput = []byte("{}")
					}
					callTool = true
					assistantTurn.Contents = append(assistantTurn.Contents, content)
					if !yield(Event{
						Type: EventToolCall,
						Note: fmt.Sprintf("Using tool %s", content.ToolName),
					}, nil) {
						return
					}
				case models.ContentTypeToolResult:
					a.logger.Error("Content type tool result is not allowed from providers")
					yield(Event{}, fmt.Errorf("unexpected tool result from provider"))
					return
				}

				if callTool {
					break
				}
			}

			if !callTool {
				turns = append(turns, assistantTurn)
				break
			}

			callContent := assistantTurn.Contents[len(assistantTurn.Contents)-1]
			resultContent := models.Content{
				Type:       models.ContentTypeToolResult,
				CallToolID: callContent.CallToolID,
			}

			if badToolInputFlag {
				resultContent.ToolResult = tools.ErrorResult(
					fmt.Errorf("tool input %s is not valid json", string(badToolInput)))
				resultContent.CallToolFailed = true
			} else {
				result, success := a.toolbox.Call(ctx, mcp.CallToolParams{
					Name:      callContent.ToolName,
					Arguments: callContent.ToolInput,
				})
				resultContent.ToolResult = result
				resultContent.CallToolFailed = !success
			}

			assistantTurn.Contents = append(assistantTurn.Contents, resultContent)
			turns = append(turns, assistantTurn)
		}

		yield(Event{Type: EventDone, Final: final.String()}, nil)
	}
}
