package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"WeatherChat/internal/session"
)

const parisStream = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"test"}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me check"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" Paris."}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: content_block_start
data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}

event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"ci"}}

event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"ty\": \"Paris\"}"}}

event: content_block_stop
data: {"type":"content_block_stop","index":1}

event: message_delta
data: {"type":"message_delta","delta":{"type":"message_delta","stop_reason":"tool_use"}}

event: message_stop
data: {"type":"message_stop"}

`

func newStreamingClient(t *testing.T, handler http.HandlerFunc) *AnthropicClient {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	client, err := NewAnthropicClient(AnthropicConfig{
		Endpoint: ts.URL,
		APIKey:   "test-key",
		Model:    "test-model",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil)
	if err != nil {
		t.Fatalf("NewAnthropicClient failed: %v", err)
	}
	return client
}

func TestStreamDecodesTextAndToolCalls(t *testing.T) {
	t.Parallel()

	client := newStreamingClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic-version header")
		}
		var body AnthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if !body.Stream {
			t.Error("request did not ask for streaming")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, parisStream)
	})

	var events []Event
	err := client.Stream(context.Background(), Request{
		Turns: []session.Turn{{Role: session.RoleUser, Content: "weather in Paris?"}},
	}, func(event Event) error {
		events = append(events, event)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	var text strings.Builder
	var calls []*session.ToolCall
	for _, event := range events {
		switch event.Kind {
		case EventTextDelta:
			text.WriteString(event.Text)
		case EventToolCallRequest:
			calls = append(calls, event.ToolCall)
		}
	}
	if text.String() != "Let me check Paris." {
		t.Errorf("text = %q", text.String())
	}
	if len(calls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(calls))
	}
	if calls[0].ID != "toolu_1" || calls[0].Name != "get_weather" {
		t.Errorf("tool call = %+v", calls[0])
	}
	if city := calls[0].Arguments["city"]; city != "Paris" {
		t.Errorf("city argument = %v, want Paris", city)
	}

	last := events[len(events)-1]
	if last.Kind != EventDone || last.StopReason != "tool_use" {
		t.Errorf("final event = %+v, want done with stop_reason tool_use", last)
	}
}

func TestStreamAPIError(t *testing.T) {
	t.Parallel()

	client := newStreamingClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"type":"api_error","message":"overloaded"}}`)
	})

	err := client.Stream(context.Background(), Request{
		Turns: []session.Turn{{Role: session.RoleUser, Content: "hi"}},
	}, func(Event) error { return nil })
	if err == nil {
		t.Fatal("Stream succeeded against a 500, want error")
	}
	if !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("error = %v, want upstream body included", err)
	}
}

func TestStreamErrorFrame(t *testing.T) {
	t.Parallel()

	client := newStreamingClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"try later\"}}\n\n")
	})

	err := client.Stream(context.Background(), Request{
		Turns: []session.Turn{{Role: session.RoleUser, Content: "hi"}},
	}, func(Event) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "overloaded_error") {
		t.Errorf("error = %v, want overloaded_error", err)
	}
}

func TestFrameDecoderRejectsBadToolJSON(t *testing.T) {
	t.Parallel()

	decoder := newFrameDecoder(func(Event) error { return nil })
	frames := []string{
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\": "}}`,
	}
	for _, frame := range frames {
		if err := decoder.handle("", frame); err != nil {
			t.Fatalf("handle failed early: %v", err)
		}
	}
	if err := decoder.handle("", `{"type":"content_block_stop","index":0}`); err == nil {
		t.Error("truncated tool arguments accepted")
	}
}

func TestConsumeSSEJoinsMultilineData(t *testing.T) {
	t.Parallel()

	stream := "event: test\n" +
		": a comment to ignore\n" +
		"data: first\n" +
		"data: second\n" +
		"\n" +
		"data: lone\n" +
		"\n"

	type record struct{ event, data string }
	var records []record
	err := consumeSSE(context.Background(), strings.NewReader(stream), func(event, data string) error {
		records = append(records, record{event, data})
		return nil
	})
	if err != nil {
		t.Fatalf("consumeSSE failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(records), records)
	}
	if records[0].event != "test" || records[0].data != "first\nsecond" {
		t.Errorf("record 0 = %+v", records[0])
	}
	if records[1].event != "" || records[1].data != "lone" {
		t.Errorf("record 1 = %+v", records[1])
	}
}

func TestTurnsToMessages(t *testing.T) {
	t.Parallel()

	turns := []session.Turn{
		{Role: session.RoleUser, Content: "weather in Paris?"},
		{
			Role:    session.RoleAssistant,
			Content: "Sunny in Paris.",
			ToolCalls: []session.ToolCall{
				{ID: "toolu_1", Name: "get_weather", Arguments: map[string]any{"city": "Paris"}},
			},
			ToolResults: []session.ToolResult{
				{CallID: "toolu_1", Status: session.StatusOK, Payload: `{"found":true}`},
			},
		},
		{Role: session.RoleUser, Content: "and tomorrow?"},
	}

	messages := turnsToMessages(turns)
	wantRoles := []string{"user", "assistant", "user", "assistant", "user"}
	if len(messages) != len(wantRoles) {
		t.Fatalf("got %d messages, want %d: %+v", len(messages), len(wantRoles), messages)
	}
	for i, role := range wantRoles {
		if messages[i].Role != role {
			t.Errorf("message %d role = %s, want %s", i, messages[i].Role, role)
		}
	}

	toolUse, ok := messages[1].Content.([]AnthropicContent)
	if !ok || len(toolUse) != 1 || toolUse[0].Type != "tool_use" {
		t.Fatalf("message 1 content = %+v, want one tool_use block", messages[1].Content)
	}
	results, ok := messages[2].Content.([]AnthropicContent)
	if !ok || len(results) != 1 || results[0].Type != "tool_result" {
		t.Fatalf("message 2 content = %+v, want one tool_result block", messages[2].Content)
	}
	if results[0].ToolUseID != "toolu_1" || results[0].IsError {
		t.Errorf("tool_result block = %+v", results[0])
	}
	if messages[3].Content != "Sunny in Paris." {
		t.Errorf("message 3 content = %v", messages[3].Content)
	}
}

func TestTurnsToMessagesInFlightShape(t *testing.T) {
	t.Parallel()

	turns := []session.Turn{
		{Role: session.RoleUser, Content: "weather in Paris?"},
		{
			Role: session.RoleAssistant,
			ToolCalls: []session.ToolCall{
				{ID: "toolu_1", Name: "get_weather", Arguments: map[string]any{"city": "Paris"}},
			},
		},
		{
			Role: session.RoleTool,
			ToolResults: []session.ToolResult{
				{CallID: "toolu_1", Status: session.StatusError, Payload: `{"error":"unavailable"}`},
			},
		},
	}

	messages := turnsToMessages(turns)
	wantRoles := []string{"user", "assistant", "user"}
	if len(messages) != len(wantRoles) {
		t.Fatalf("got %d messages, want %d", len(messages), len(wantRoles))
	}
	results, ok := messages[2].Content.([]AnthropicContent)
	if !ok || len(results) != 1 {
		t.Fatalf("message 2 content = %+v", messages[2].Content)
	}
	if !results[0].IsError {
		t.Error("error tool result not flagged is_error")
	}
}
