package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/MegaGrindStone/go-mcp"
)

// RegisterMCPClient lists the tools served by a connected MCP client and registers each one
// with the toolbox, dispatching calls back through the client. The client must already be
// connected.
func RegisterMCPClient(ctx context.Context, tb *Toolbox, cli *mcp.Client, logger *slog.Logger) error {
	res, err := cli.ListTools(ctx, mcp.ListToolsParams{})
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}

	log := logger.With(slog.String("module", "tools"))
	for _, tool := range res.Tools {
		log.Info("Registering MCP tool",
			slog.String("server", cli.ServerInfo().Name),
			slog.String("toolName", tool.Name))

		name := tool.Name
		tb.Register(tool, func(ctx context.Context, args json.RawMessage) (json.RawMessage, bool) {
			toolRes, err := cli.CallTool(ctx, mcp.CallToolParams{
				Name:      name,
				Arguments: args,
			})
			if err != nil {
				log.Error("Tool call failed",
					slog.String("toolName", name),
					slog.String(errLoggerKey, err.Error()))
				return ErrorResult(fmt.Errorf("tool call failed: %w", err)), false
			}

			content, err := json.Marshal(toolRes.Content)
			if err != nil {
				return ErrorResult(fmt.Errorf("failed to marshal content: %w", err)), false
			}

			return content, !toolRes.IsError
		})
	}

	return nil
}
