package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"go.uber.org/zap"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider implements Provider against an Anthropic-compatible
// messages endpoint. The response arrives as a single message with content
// blocks rather than a token stream, so the whole text is surfaced as one
// delta once the call returns.
type AnthropicProvider struct {
	transport Transport
	client    anthropic.Client
	logger    *zap.Logger
}

func NewAnthropicProvider(t Transport, logger *zap.Logger) *AnthropicProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	// anthropic-sdk-go resolves its own v1/ request paths against the base
	// URL, so it gets the bare host root rather than the /v1 endpoint.
	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimSuffix(t.Endpoint, "/v1")),
	}
	if t.APIKey != "" {
		opts = append(opts, option.WithAPIKey(t.APIKey))
	}
	for key, value := range t.Headers {
		opts = append(opts, option.WithHeader(key, value))
	}
	return &AnthropicProvider{
		transport: t,
		client:    anthropic.NewClient(opts...),
		logger:    logger,
	}
}

func (p *AnthropicProvider) Name() string {
	return fmt.Sprintf("%s (%s)", p.transport.Label, p.transport.Model)
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		system, messages := buildAnthropicMessages(req.Messages)
		if len(messages) == 0 {
			return fmt.Errorf("%s: no messages provided", p.transport.Label)
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(chooseModel(req.Model, p.transport.Model)),
			MaxTokens: anthropicMaxTokens(req.MaxOutputTokens),
			Messages:  messages,
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}
		if req.Temperature > 0 {
			params.Temperature = anthropic.Float(req.Temperature)
		}
		if len(req.Tools) > 0 {
			params.Tools = buildAnthropicTools(req.Tools)
			if req.ToolChoiceAuto {
				params.ToolChoice = anthropic.ToolChoiceUnionParam{
					OfAuto: &anthropic.ToolChoiceAutoParam{},
				}
			}
		}

		p.logger.Debug("messages request",
			zap.String("endpoint", p.transport.Endpoint),
			zap.Int("messages", len(messages)),
			zap.Int("tools", len(req.Tools)))

		message, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return fmt.Errorf("%s: request failed: %w", p.transport.Label, err)
		}

		var textParts []string
		var toolCalls []ToolCall
		for _, block := range message.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				if variant.Text != "" {
					textParts = append(textParts, variant.Text)
				}
			case anthropic.ToolUseBlock:
				toolCalls = append(toolCalls, ToolCall{
					ID:        variant.ID,
					Name:      variant.Name,
					Arguments: finalizeArguments(string(toolInputToRaw(variant.Input))),
				})
			}
		}

		if text := strings.Join(textParts, ""); text != "" {
			events <- Event{Type: EventTextDelta, Text: text}
		}
		for _, call := range toolCalls {
			call := call
			events <- Event{Type: EventToolCall, Tool: &call}
		}
		if message.Usage.OutputTokens > 0 {
			events <- Event{Type: EventUsage, Use: &Usage{
				InputTokens:  int(message.Usage.InputTokens),
				OutputTokens: int(message.Usage.OutputTokens),
			}}
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

func buildAnthropicMessages(messages []Message) (string, []anthropic.MessageParam) {
	var systemParts []string
	var out []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, collectTextParts(msg.Parts))
		case RoleUser:
			blocks := buildAnthropicBlocks(msg.Parts, false)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		case RoleAssistant:
			blocks := buildAnthropicBlocks(msg.Parts, true)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case RoleTool:
			// Tool results travel as user-role tool_result blocks.
			blocks := buildAnthropicBlocks(msg.Parts, false)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}

	return strings.Join(systemParts, "\n\n"), out
}

func buildAnthropicBlocks(parts []Part, allowToolUse bool) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case PartToolCall:
			if allowToolUse && part.ToolCall != nil {
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, part.ToolCall.Arguments, part.ToolCall.Name))
			}
		case PartToolResult:
			if part.ToolResult != nil {
				blocks = append(blocks, toolResultBlock(part.ToolResult))
			}
		}
	}
	return blocks
}

func toolResultBlock(result *ToolResult) anthropic.ContentBlockParamUnion {
	block := anthropic.ToolResultBlockParam{
		ToolUseID: result.ID,
		IsError:   anthropic.Bool(result.IsError),
		Content: []anthropic.ToolResultBlockParamContentUnion{
			{OfText: &anthropic.TextBlockParam{Text: result.Content}},
		},
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: &block}
}

func buildAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: spec.Schema["properties"],
			Required:   schemaRequired(spec.Schema),
		}
		tool := anthropic.ToolUnionParamOfTool(inputSchema, spec.Name)
		if spec.Description != "" {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

func schemaRequired(schema map[string]interface{}) []string {
	raw, ok := schema["required"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func collectTextParts(parts []Part) string {
	var out []string
	for _, part := range parts {
		if part.Type == PartText && part.Text != "" {
			out = append(out, part.Text)
		}
	}
	return strings.Join(out, "\n")
}

func toolInputToRaw(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return json.RawMessage(data)
	}
}

func anthropicMaxTokens(requested int) int64 {
	if requested > 0 {
		return int64(requested)
	}
	return defaultAnthropicMaxTokens
}
