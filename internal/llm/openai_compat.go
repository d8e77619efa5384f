package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// httpClientTimeout is the default timeout for HTTP requests.
const httpClientTimeout = 10 * time.Minute

// defaultHTTPClient is a shared HTTP client with a generous timeout;
// streaming responses can legitimately run for minutes.
var defaultHTTPClient = &http.Client{
	Timeout: httpClientTimeout,
}

// OpenAICompatProvider implements Provider for OpenAI-compatible APIs:
// local servers, the hosted relay, and the vendor API itself.
type OpenAICompatProvider struct {
	transport Transport
	client    *http.Client
	logger    *zap.Logger
}

func NewOpenAICompatProvider(t Transport, logger *zap.Logger) *OpenAICompatProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAICompatProvider{
		transport: t,
		client:    defaultHTTPClient,
		logger:    logger,
	}
}

func (p *OpenAICompatProvider) Name() string {
	return fmt.Sprintf("%s (%s)", p.transport.Label, p.transport.Model)
}

// OpenAI-compatible request/response structures.
type oaiChatRequest struct {
	Model         string            `json:"model"`
	Messages      []oaiMessage      `json:"messages"`
	Temperature   *float64          `json:"temperature,omitempty"`
	MaxTokens     *int              `json:"max_tokens,omitempty"`
	Stream        bool              `json:"stream"`
	StreamOptions *oaiStreamOptions `json:"stream_options,omitempty"`
	Tools         []oaiTool         `json:"tools,omitempty"`
	ToolChoice    interface{}       `json:"tool_choice,omitempty"`
}

type oaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type oaiToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

type oaiChatResponse struct {
	ID      string       `json:"id"`
	Choices []oaiChoice  `json:"choices"`
	Usage   *oaiUsage    `json:"usage,omitempty"`
	Error   *oaiAPIError `json:"error,omitempty"`
}

type oaiChoice struct {
	Index        int         `json:"index"`
	Delta        *oaiMessage `json:"delta,omitempty"`
	FinishReason string      `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type oaiAPIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (p *OpenAICompatProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		messages := buildCompatMessages(req.Messages)
		if len(messages) == 0 {
			return fmt.Errorf("%s: no messages provided", p.transport.Label)
		}

		tools, err := buildCompatTools(req.Tools)
		if err != nil {
			return err
		}

		chatReq := oaiChatRequest{
			Model:         chooseModel(req.Model, p.transport.Model),
			Messages:      messages,
			Stream:        true,
			StreamOptions: &oaiStreamOptions{IncludeUsage: true},
			Tools:         tools,
		}
		if len(tools) > 0 && req.ToolChoiceAuto {
			chatReq.ToolChoice = "auto"
		}
		if req.Temperature > 0 {
			v := req.Temperature
			chatReq.Temperature = &v
		}
		if req.MaxOutputTokens > 0 {
			v := req.MaxOutputTokens
			chatReq.MaxTokens = &v
		}

		body, err := json.Marshal(chatReq)
		if err != nil {
			return err
		}

		endpoint := p.transport.ChatCompletionsURL()
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if p.transport.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+p.transport.APIKey)
		}
		for key, value := range p.transport.Headers {
			httpReq.Header.Set(key, value)
		}

		p.logger.Debug("chat request",
			zap.String("endpoint", endpoint),
			zap.Int("messages", len(messages)),
			zap.Int("tools", len(tools)))

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("%s: request failed: %w", p.transport.Label, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
			return &UpstreamError{
				Provider: p.transport.Label,
				Status:   resp.StatusCode,
				Body:     strings.TrimSpace(string(respBody)),
			}
		}

		reader := bufio.NewReaderSize(resp.Body, 64*1024)
		if err := sniffNonSSE(reader, p.transport.Label); err != nil {
			return err
		}

		scanner := bufio.NewScanner(reader)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		toolState := newCompatToolState()
		var lastUsage *Usage

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}

			var chatResp oaiChatResponse
			if err := json.Unmarshal([]byte(data), &chatResp); err != nil {
				continue
			}

			if chatResp.Error != nil {
				return fmt.Errorf("%s: API error: %s", p.transport.Label, chatResp.Error.Message)
			}

			if chatResp.Usage != nil {
				lastUsage = &Usage{
					InputTokens:  chatResp.Usage.PromptTokens,
					OutputTokens: chatResp.Usage.CompletionTokens,
				}
			}

			for _, choice := range chatResp.Choices {
				if choice.Delta == nil {
					continue
				}
				if choice.Delta.Content != "" {
					events <- Event{Type: EventTextDelta, Text: choice.Delta.Content}
				}
				if len(choice.Delta.ToolCalls) > 0 {
					toolState.Add(choice.Delta.ToolCalls)
				}
			}
		}

		if err := scanner.Err(); err != nil {
			return fmt.Errorf("%s: streaming error: %w", p.transport.Label, err)
		}

		for _, call := range toolState.Calls() {
			call := call
			events <- Event{Type: EventToolCall, Tool: &call}
		}
		if lastUsage != nil {
			events <- Event{Type: EventUsage, Use: lastUsage}
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

// sniffNonSSE peeks at the first body bytes and fails fast when the
// upstream returned an HTML page or a bare JSON error object instead of an
// event stream (misconfigured proxies answer 200 with a login page).
func sniffNonSSE(reader *bufio.Reader, label string) error {
	peeked, err := reader.Peek(512)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return fmt.Errorf("%s: reading response: %w", label, err)
	}
	head := strings.TrimSpace(strings.ToLower(string(peeked)))
	if head == "" {
		return nil
	}
	if strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html") {
		return fmt.Errorf("%s: upstream returned a non-API response (HTML page); check the endpoint URL", label)
	}
	if strings.HasPrefix(head, "{") {
		return fmt.Errorf("%s: upstream returned a non-API response (JSON body instead of an event stream): %s",
			label, firstLine(strings.TrimSpace(string(peeked))))
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func buildCompatMessages(messages []Message) []oaiMessage {
	var result []oaiMessage
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem, RoleUser, RoleAssistant:
			text, toolCalls := splitParts(msg.Parts)
			if msg.Role == RoleAssistant && len(toolCalls) > 0 {
				result = append(result, oaiMessage{
					Role:      "assistant",
					Content:   text,
					ToolCalls: toolCalls,
				})
				continue
			}
			if text == "" {
				continue
			}
			result = append(result, oaiMessage{Role: string(msg.Role), Content: text})
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type != PartToolResult || part.ToolResult == nil {
					continue
				}
				result = append(result, oaiMessage{
					Role:       "tool",
					Content:    part.ToolResult.Content,
					ToolCallID: part.ToolResult.ID,
				})
			}
		}
	}
	return result
}

func splitParts(parts []Part) (string, []oaiToolCall) {
	var textParts []string
	var toolCalls []oaiToolCall
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				textParts = append(textParts, part.Text)
			}
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			call := oaiToolCall{
				ID:   part.ToolCall.ID,
				Type: "function",
			}
			call.Function.Name = part.ToolCall.Name
			call.Function.Arguments = string(part.ToolCall.Arguments)
			toolCalls = append(toolCalls, call)
		}
	}
	return strings.Join(textParts, ""), toolCalls
}

func buildCompatTools(specs []ToolSpec) ([]oaiTool, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	tools := make([]oaiTool, 0, len(specs))
	for _, spec := range specs {
		schema, err := json.Marshal(spec.Schema)
		if err != nil {
			return nil, fmt.Errorf("marshal tool schema %s: %w", spec.Name, err)
		}
		tools = append(tools, oaiTool{
			Type: "function",
			Function: oaiFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schema,
			},
		})
	}
	return tools, nil
}

// compatToolState accumulates streamed tool-call fragments keyed by the
// provider-assigned index. A single response can interleave fragments for
// multiple parallel calls.
type compatToolState struct {
	byIndex map[int]*toolCallState
	order   []int
}

type toolCallState struct {
	id   string
	name string
	args string
}

func newCompatToolState() *compatToolState {
	return &compatToolState{byIndex: make(map[int]*toolCallState)}
}

func (s *compatToolState) Add(calls []oaiToolCall) {
	for _, call := range calls {
		idx := call.Index
		state, ok := s.byIndex[idx]
		if !ok {
			state = &toolCallState{}
			s.byIndex[idx] = state
			s.order = append(s.order, idx)
		}
		// id and name arrive whole; first write wins.
		if call.ID != "" && state.id == "" {
			state.id = call.ID
		}
		if call.Function.Name != "" && state.name == "" {
			state.name = call.Function.Name
		}
		if call.Function.Arguments != "" {
			state.args = mergeArgumentFragment(state.args, call.Function.Arguments)
		}
	}
}

// Calls finalizes the accumulated state. A call without a name never made
// it past the fragment stage and is dropped; a missing id is synthesized.
func (s *compatToolState) Calls() []ToolCall {
	if len(s.order) == 0 {
		return nil
	}
	sort.Ints(s.order)
	calls := make([]ToolCall, 0, len(s.order))
	for _, idx := range s.order {
		state := s.byIndex[idx]
		if state == nil || state.name == "" {
			continue
		}
		id := state.id
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		calls = append(calls, ToolCall{
			ID:        id,
			Name:      state.name,
			Arguments: finalizeArguments(state.args),
		})
	}
	return calls
}
