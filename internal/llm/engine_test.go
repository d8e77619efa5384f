package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/tidwall/gjson"
)

// scriptedProvider replays one slice of events per turn. The last script
// repeats if the loop asks for more turns than scripted.
type scriptedProvider struct {
	turns    [][]Event
	calls    int
	requests []Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	idx := p.calls
	if idx >= len(p.turns) {
		idx = len(p.turns) - 1
	}
	p.calls++
	p.requests = append(p.requests, req)
	script := p.turns[idx]
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		for _, ev := range script {
			events <- ev
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

// recordingRunner records executed calls and returns canned outputs.
type recordingRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   []ToolCall
}

func (r *recordingRunner) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.calls = append(r.calls, ToolCall{Name: name, Arguments: args})
	if err, ok := r.errs[name]; ok {
		return "", err
	}
	return r.outputs[name], nil
}

func runEngine(t *testing.T, provider Provider, runner ToolRunner) []Event {
	t.Helper()
	engine := NewEngine(provider, runner, nil)
	stream, err := engine.Send(context.Background(), Request{
		Messages: []Message{UserText("plot revenue")},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	defer stream.Close()
	return collectEvents(t, stream)
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func toolCallEvent(id, name, args string) Event {
	return Event{Type: EventToolCall, Tool: &ToolCall{
		ID:        id,
		Name:      name,
		Arguments: json.RawMessage(args),
	}}
}

func TestEngineTextOnlyCompletes(t *testing.T) {
	provider := &scriptedProvider{turns: [][]Event{{
		{Type: EventTextDelta, Text: "Here is "},
		{Type: EventTextDelta, Text: "your chart."},
	}}}
	events := runEngine(t, provider, &recordingRunner{})

	if len(eventsOfType(events, EventSessionStarted)) != 1 {
		t.Error("missing session_started event")
	}
	completes := eventsOfType(events, EventComplete)
	if len(completes) != 1 {
		t.Fatalf("got %d complete events, want 1", len(completes))
	}
	if completes[0].Text != "Here is your chart." {
		t.Errorf("complete text = %q", completes[0].Text)
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1", provider.calls)
	}
}

func TestEngineToolCallPairing(t *testing.T) {
	provider := &scriptedProvider{turns: [][]Event{
		{toolCallEvent("call_1", "render_chart", `{"kind":"line"}`)},
		{{Type: EventTextDelta, Text: "done"}},
	}}
	runner := &recordingRunner{outputs: map[string]string{"render_chart": "rendered"}}
	events := runEngine(t, provider, runner)

	starts := eventsOfType(events, EventToolStart)
	results := eventsOfType(events, EventToolResult)
	if len(starts) != 1 || len(results) != 1 {
		t.Fatalf("got %d starts, %d results, want 1 each", len(starts), len(results))
	}
	if starts[0].ToolCallID != "call_1" || results[0].ToolCallID != "call_1" {
		t.Error("start/result ids do not pair")
	}
	if results[0].ToolOutput != "rendered" || results[0].ToolIsError {
		t.Errorf("result = %+v", results[0])
	}

	// The second request must carry the assistant turn plus the tool result.
	if len(provider.requests) != 2 {
		t.Fatalf("provider called %d times, want 2", len(provider.requests))
	}
	msgs := provider.requests[1].Messages
	if len(msgs) != 3 {
		t.Fatalf("second request has %d messages, want 3", len(msgs))
	}
	if msgs[1].Role != RoleAssistant || msgs[2].Role != RoleTool {
		t.Errorf("roles = %s, %s", msgs[1].Role, msgs[2].Role)
	}
}

func TestEngineToolErrorRecovered(t *testing.T) {
	provider := &scriptedProvider{turns: [][]Event{
		{toolCallEvent("call_1", "render_chart", `{}`)},
		{{Type: EventTextDelta, Text: "sorry"}},
	}}
	runner := &recordingRunner{errs: map[string]error{"render_chart": errors.New("plotd exited")}}
	events := runEngine(t, provider, runner)

	results := eventsOfType(events, EventToolResult)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if !results[0].ToolIsError || results[0].ToolOutput != "ERROR: plotd exited" {
		t.Errorf("result = %+v", results[0])
	}
	// The loop recovers instead of failing the session.
	if len(eventsOfType(events, EventComplete)) != 1 {
		t.Error("expected a complete event after recovery")
	}
	// The error travels back to the model as a tool message.
	msgs := provider.requests[1].Messages
	last := msgs[len(msgs)-1]
	if last.Role != RoleTool || last.Parts[0].ToolResult.Content != "ERROR: plotd exited" {
		t.Errorf("tool message = %+v", last)
	}
}

func TestEngineTurnCapForcesCompletion(t *testing.T) {
	// A model that always calls tools must still terminate.
	provider := &scriptedProvider{turns: [][]Event{{
		{Type: EventTextDelta, Text: "x"},
		toolCallEvent("call_1", "render_chart", `{}`),
	}}}
	runner := &recordingRunner{outputs: map[string]string{"render_chart": "ok"}}
	events := runEngine(t, provider, runner)

	if provider.calls != maxTurns {
		t.Errorf("provider called %d times, want %d", provider.calls, maxTurns)
	}
	completes := eventsOfType(events, EventComplete)
	if len(completes) != 1 {
		t.Fatalf("got %d complete events, want 1", len(completes))
	}
	if len(completes[0].Text) != maxTurns {
		t.Errorf("accumulated text %q, want %d characters", completes[0].Text, maxTurns)
	}
}

func TestEnginePreviewIDContinuity(t *testing.T) {
	provider := &scriptedProvider{turns: [][]Event{
		{toolCallEvent("call_1", "generate_chart_preview", `{"kind":"bar"}`)},
		{toolCallEvent("call_2", "confirm_chart", `{"preview_id":"pv_xxx"}`)},
		{{Type: EventTextDelta, Text: "saved"}},
	}}
	runner := &recordingRunner{outputs: map[string]string{
		"generate_chart_preview": `{"preview_id":"pv_real42","status":"ok"}`,
		"confirm_chart":          "confirmed",
	}}
	runEngine(t, provider, runner)

	if len(runner.calls) != 2 {
		t.Fatalf("got %d tool executions, want 2", len(runner.calls))
	}
	got := gjson.GetBytes(runner.calls[1].Arguments, "preview_id").String()
	if got != "pv_real42" {
		t.Errorf("confirm preview_id = %q, want pv_real42", got)
	}
}

func TestEngineDuplicateCallsDeduped(t *testing.T) {
	provider := &scriptedProvider{turns: [][]Event{
		{
			toolCallEvent("call_1", "render_chart", `{}`),
			toolCallEvent("call_1", "render_chart", `{}`),
		},
		{{Type: EventTextDelta, Text: "done"}},
	}}
	runner := &recordingRunner{outputs: map[string]string{"render_chart": "ok"}}
	runEngine(t, provider, runner)

	if len(runner.calls) != 1 {
		t.Errorf("got %d executions, want 1 after dedupe", len(runner.calls))
	}
}

func TestEngineProviderErrorPropagates(t *testing.T) {
	wantErr := errors.New("upstream down")
	provider := &scriptedProvider{turns: [][]Event{{
		{Type: EventError, Err: wantErr},
	}}}
	engine := NewEngine(provider, &recordingRunner{}, nil)
	stream, err := engine.Send(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	defer stream.Close()

	for {
		_, err := stream.Recv()
		if err == io.EOF {
			t.Fatal("expected an error, got clean EOF")
		}
		if err != nil {
			if !errors.Is(err, wantErr) {
				t.Errorf("err = %v, want %v", err, wantErr)
			}
			return
		}
	}
}
