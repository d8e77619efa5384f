package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/plotchat/plotchat/internal/llm"
)

// ToolBridge exposes a Client's tools to the chat engine: specs for the
// model request and an executor for the tool loop.
type ToolBridge struct {
	client *Client
}

func NewToolBridge(client *Client) *ToolBridge {
	return &ToolBridge{client: client}
}

// Specs fetches the server's tool list as provider tool specs.
func (b *ToolBridge) Specs(ctx context.Context) ([]llm.ToolSpec, error) {
	defs, err := b.client.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	specs := make([]llm.ToolSpec, 0, len(defs))
	for _, def := range defs {
		schema := def.InputSchema
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		specs = append(specs, llm.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Schema:      schema,
		})
	}
	return specs, nil
}

// Execute implements llm.ToolRunner. Server-flagged failures surface as
// errors so the engine can report them back to the model.
func (b *ToolBridge) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	result, err := b.client.CallTool(ctx, name, args)
	if err != nil {
		return "", err
	}
	if result.IsError {
		if result.Text == "" {
			return "", errors.New("tool reported an unspecified error")
		}
		return "", errors.New(result.Text)
	}
	return result.Text, nil
}
