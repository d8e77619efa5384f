package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxTurns bounds the tool loop. A model that never stops requesting tools
// terminates with whatever text has accumulated instead of looping forever.
const maxTurns = 10

// ToolRunner executes a named tool call and returns its text output.
type ToolRunner interface {
	Execute(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// Engine orchestrates provider turns and external tool execution. One Send
// call owns its conversation history for the duration of the loop.
type Engine struct {
	provider Provider
	runner   ToolRunner
	logger   *zap.Logger
}

func NewEngine(provider Provider, runner ToolRunner, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		provider: provider,
		runner:   runner,
		logger:   logger,
	}
}

// Send runs the multi-turn tool loop for one user prompt. Events arrive
// strictly ordered per turn: deltas, then one ToolStart/ToolResult pair per
// executed call, then either the next turn or a final Complete.
func (e *Engine) Send(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		return e.runLoop(ctx, req, events)
	}), nil
}

func (e *Engine) runLoop(ctx context.Context, req Request, events chan<- Event) error {
	sessionID := uuid.NewString()
	events <- Event{Type: EventSessionStarted, SessionID: sessionID}

	var totalText strings.Builder
	lastPreviewID := ""

	for attempt := 0; attempt < maxTurns; attempt++ {
		stream, err := e.provider.Stream(ctx, req)
		if err != nil {
			return err
		}

		var toolCalls []ToolCall
		var turnText strings.Builder
		for {
			event, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				stream.Close()
				return err
			}
			switch event.Type {
			case EventError:
				stream.Close()
				if event.Err != nil {
					return event.Err
				}
				return fmt.Errorf("provider error")
			case EventToolCall:
				if event.Tool != nil {
					toolCalls = append(toolCalls, *event.Tool)
				}
			case EventTextDelta:
				turnText.WriteString(event.Text)
				totalText.WriteString(event.Text)
				events <- event
			case EventDone:
				// Turn boundary is the stream's EOF.
			default:
				events <- event
			}
		}
		stream.Close()

		if len(toolCalls) == 0 {
			events <- Event{Type: EventComplete, Text: totalText.String()}
			return nil
		}

		toolCalls = ensureToolCallIDs(toolCalls)
		toolCalls = dedupeToolCalls(toolCalls)

		e.logger.Debug("executing tool calls",
			zap.String("session", sessionID),
			zap.Int("turn", attempt),
			zap.Int("calls", len(toolCalls)))

		// The assistant turn carries its raw tool calls so the provider sees
		// its own requests when the loop continues.
		req.Messages = append(req.Messages, buildAssistantMessage(turnText.String(), toolCalls))

		// Sequential execution: a preview call followed by a confirm call
		// must observe a consistent order.
		for i := range toolCalls {
			call := &toolCalls[i]
			if isConfirmTool(call.Name) && lastPreviewID != "" {
				call.Arguments = substitutePreviewID(call.Arguments, lastPreviewID)
			}

			events <- Event{
				Type:       EventToolStart,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				ToolInfo:   extractToolInfo(*call),
			}

			output, execErr := e.runner.Execute(ctx, call.Name, call.Arguments)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if execErr != nil {
				errText := "ERROR: " + execErr.Error()
				events <- Event{
					Type:        EventToolResult,
					ToolCallID:  call.ID,
					ToolName:    call.Name,
					ToolOutput:  errText,
					ToolIsError: true,
				}
				req.Messages = append(req.Messages, ToolErrorMessage(call.ID, call.Name, errText))
				continue
			}

			events <- Event{
				Type:       EventToolResult,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				ToolOutput: output,
			}
			req.Messages = append(req.Messages, ToolResultMessage(call.ID, call.Name, output))

			if isPreviewTool(call.Name) {
				if id := extractPreviewID(output); id != "" {
					lastPreviewID = id
				}
			}
		}
	}

	// Cap reached with the model still requesting tools.
	e.logger.Warn("tool loop hit turn cap", zap.String("session", sessionID), zap.Int("turns", maxTurns))
	events <- Event{Type: EventComplete, Text: totalText.String()}
	return nil
}

// buildAssistantMessage creates an assistant message with text and tool calls.
func buildAssistantMessage(text string, toolCalls []ToolCall) Message {
	var parts []Part
	if text != "" {
		parts = append(parts, Part{Type: PartText, Text: text})
	}
	for i := range toolCalls {
		call := toolCalls[i]
		parts = append(parts, Part{Type: PartToolCall, ToolCall: &call})
	}
	return Message{Role: RoleAssistant, Parts: parts}
}

func ensureToolCallIDs(calls []ToolCall) []ToolCall {
	for i := range calls {
		if strings.TrimSpace(calls[i].ID) == "" {
			calls[i].ID = fmt.Sprintf("toolcall-%d", i+1)
		}
	}
	return calls
}

func dedupeToolCalls(calls []ToolCall) []ToolCall {
	if len(calls) < 2 {
		return calls
	}
	seen := make(map[string]struct{}, len(calls))
	out := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		id := strings.TrimSpace(call.ID)
		if id == "" {
			out = append(out, call)
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, call)
	}
	return out
}

// extractToolInfo builds a short argument preview for a tool call, e.g.
// "(kind:line, series:revenue)".
func extractToolInfo(call ToolCall) string {
	if len(call.Arguments) == 0 {
		return ""
	}
	var args map[string]any
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return ""
	}
	return formatToolArgs(args, 200, 4)
}

func formatToolArgs(args map[string]any, maxLen, maxParams int) string {
	if len(args) == 0 {
		return ""
	}

	type argPair struct {
		key string
		val string
	}
	var pairs []argPair

	for k, v := range args {
		var valStr string
		switch val := v.(type) {
		case string:
			if val == "" {
				continue
			}
			valStr = val
		case float64:
			if val == float64(int(val)) {
				valStr = fmt.Sprintf("%d", int(val))
			} else {
				valStr = fmt.Sprintf("%g", val)
			}
		case bool:
			valStr = fmt.Sprintf("%v", val)
		default:
			continue
		}

		if len(valStr) > 80 {
			valStr = valStr[:77] + "..."
		}
		pairs = append(pairs, argPair{key: k, val: valStr})
	}

	if len(pairs) == 0 {
		return ""
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].key < pairs[j].key
	})

	var parts []string
	for i, p := range pairs {
		if i >= maxParams {
			parts = append(parts, "...")
			break
		}
		parts = append(parts, p.key+":"+p.val)
	}
	result := "(" + strings.Join(parts, ", ") + ")"

	if len(result) > maxLen {
		result = result[:maxLen-4] + "...)"
	}

	return result
}
