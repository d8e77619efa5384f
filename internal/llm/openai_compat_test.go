package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func collectEvents(t *testing.T, s Stream) []Event {
	t.Helper()
	var events []Event
	for {
		ev, err := s.Recv()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		events = append(events, ev)
	}
}

func compatProvider(url string) *OpenAICompatProvider {
	return NewOpenAICompatProvider(Transport{
		Label:    "test",
		Endpoint: url + "/v1",
		Model:    "test-model",
		Format:   WireOpenAI,
	}, nil)
}

func TestCompatTextStreaming(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"Hello"}}]}`,
		`{"choices":[{"delta":{"content":" world"}}]}`,
		`{"choices":[{"delta":{}}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`,
	})
	defer srv.Close()

	stream, err := compatProvider(srv.URL).Stream(context.Background(), Request{
		Messages: []Message{UserText("hi")},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	events := collectEvents(t, stream)

	var text strings.Builder
	var usage *Usage
	sawDone := false
	for _, ev := range events {
		switch ev.Type {
		case EventTextDelta:
			text.WriteString(ev.Text)
		case EventUsage:
			usage = ev.Use
		case EventDone:
			sawDone = true
		}
	}
	if text.String() != "Hello world" {
		t.Errorf("text = %q, want %q", text.String(), "Hello world")
	}
	if usage == nil || usage.InputTokens != 5 || usage.OutputTokens != 2 {
		t.Errorf("usage = %+v, want 5/2", usage)
	}
	if !sawDone {
		t.Error("missing done event")
	}
}

func TestCompatToolCallFragments(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"render_chart"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"kind\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"line\"}"}}]}}]}`,
	})
	defer srv.Close()

	stream, err := compatProvider(srv.URL).Stream(context.Background(), Request{
		Messages: []Message{UserText("plot it")},
		Tools: []ToolSpec{{
			Name:   "render_chart",
			Schema: map[string]interface{}{"type": "object"},
		}},
		ToolChoiceAuto: true,
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	var calls []ToolCall
	for _, ev := range collectEvents(t, stream) {
		if ev.Type == EventToolCall {
			calls = append(calls, *ev.Tool)
		}
	}
	if len(calls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Name != "render_chart" {
		t.Errorf("call = %+v", calls[0])
	}
	if string(calls[0].Arguments) != `{"kind":"line"}` {
		t.Errorf("arguments = %s", calls[0].Arguments)
	}
}

func TestCompatDuplicateFullArguments(t *testing.T) {
	// Some servers send the full argument string twice instead of deltas.
	full := `{\"kind\":\"bar\",\"series\":\"revenue\"}`
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_2","function":{"name":"render_chart","arguments":"` + full + `"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"` + full + `"}}]}}]}`,
	})
	defer srv.Close()

	stream, err := compatProvider(srv.URL).Stream(context.Background(), Request{
		Messages: []Message{UserText("plot it")},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	var calls []ToolCall
	for _, ev := range collectEvents(t, stream) {
		if ev.Type == EventToolCall {
			calls = append(calls, *ev.Tool)
		}
	}
	if len(calls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(calls))
	}
	want := `{"kind":"bar","series":"revenue"}`
	if string(calls[0].Arguments) != want {
		t.Errorf("arguments = %s, want %s", calls[0].Arguments, want)
	}
}

func TestCompatNamelessCallDropped(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"x\":1}"}}]}}]}`,
		`{"choices":[{"delta":{"content":"fine"}}]}`,
	})
	defer srv.Close()

	stream, err := compatProvider(srv.URL).Stream(context.Background(), Request{
		Messages: []Message{UserText("hi")},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	for _, ev := range collectEvents(t, stream) {
		if ev.Type == EventToolCall {
			t.Errorf("unexpected tool call %+v", ev.Tool)
		}
	}
}

func TestCompatUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model not found"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	stream, err := compatProvider(srv.URL).Stream(context.Background(), Request{
		Messages: []Message{UserText("hi")},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	_, err = stream.Recv()
	if err == nil || err == io.EOF {
		t.Fatalf("expected upstream error, got %v", err)
	}
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("error %v is not UpstreamError", err)
	}
	if upstream.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", upstream.Status)
	}
}

func TestCompatHTMLResponseDetected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<!DOCTYPE html><html><body>login page</body></html>")
	}))
	defer srv.Close()

	stream, err := compatProvider(srv.URL).Stream(context.Background(), Request{
		Messages: []Message{UserText("hi")},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	_, err = stream.Recv()
	if err == nil || !strings.Contains(err.Error(), "non-API response") {
		t.Fatalf("expected non-API response error, got %v", err)
	}
}
