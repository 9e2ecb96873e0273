package backend

import (
	"context"

	"WeatherChat/internal/session"
)

// EventKind discriminates model stream events
type EventKind string

const (
	// EventTextDelta carries a fragment of assistant text
	EventTextDelta EventKind = "text_delta"
	// EventToolCallRequest carries a fully assembled, JSON-valid tool call
	EventToolCallRequest EventKind = "tool_call_request"
	// EventDone signals the model finished its message
	EventDone EventKind = "done"
)

// Event is a tagged variant emitted by a streaming model. Exactly one of the
// payload fields is meaningful for a given kind.
type Event struct {
	Kind       EventKind
	Text       string
	ToolCall   *session.ToolCall
	StopReason string
}

// Request is the model input contract: the full ordered turn history plus
// the tool schema the model may call.
type Request struct {
	Turns []session.Turn
	Tools []AnthropicTool
}

// Model streams a single assistant message. fn is invoked for each event in
// emission order; returning an error from fn aborts the stream. Model output
// is untrusted: implementations must validate tool-call arguments before
// surfacing an EventToolCallRequest.
type Model interface {
	Stream(ctx context.Context, req Request, fn func(Event) error) error
}
