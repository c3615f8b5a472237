package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/MegaGrindStone/go-mcp"
)

var rollDiceTool = mcp.Tool{
	Name:        "roll_dice",
	Description: "Rolls an N-sided die and returns the result",
	InputSchema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"sides": {
				"type": "integer",
				"description": "Number of sides on the die, at least 2",
				"minimum": 2
			}
		},
		"required": ["sides"]
	}`),
}

// RegisterRollDice adds the dice-rolling tool to the toolbox.
func RegisterRollDice(tb *Toolbox) {
	tb.Register(rollDiceTool, rollDice)
}

func rollDice(_ context.Context, args json.RawMessage) (json.RawMessage, bool) {
	var input struct {
		Sides int `json:"sides"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return ErrorResult(fmt.Errorf("invalid roll_dice input: %w", err)), false
	}
	if input.Sides < 2 {
		return ErrorResult(fmt.Errorf("a die needs at least 2 sides, got %d", input.Sides)), false
	}

	value := 1 + rand.IntN(input.Sides)
	return TextResult(fmt.Sprintf("You rolled a %d!", value)), true
}
