package session

import "time"

// Role identifies the author of a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ResultStatus classifies the outcome of a tool invocation
type ResultStatus string

const (
	StatusOK       ResultStatus = "ok"
	StatusNotFound ResultStatus = "not_found"
	StatusError    ResultStatus = "error"
)

// ToolCall is a structured tool request issued by the model
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResult is the outcome of executing a ToolCall
type ToolResult struct {
	CallID  string       `json:"call_id"`
	Status  ResultStatus `json:"status"`
	Payload string       `json:"payload,omitempty"`
}

// Turn represents a single role-attributed message within a session.
// Turns are immutable once appended.
type Turn struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Session represents an ordered conversation between one client and the agent
type Session struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Turns        []Turn    `json:"turns"`
}

// CloneTurn returns a deep copy suitable for handing across goroutines
func CloneTurn(in Turn) Turn {
	out := in
	if len(in.ToolCalls) > 0 {
		out.ToolCalls = make([]ToolCall, len(in.ToolCalls))
		for i, call := range in.ToolCalls {
			out.ToolCalls[i] = call
			if call.Arguments != nil {
				args := make(map[string]any, len(call.Arguments))
				for k, v := range call.Arguments {
					args[k] = v
				}
				out.ToolCalls[i].Arguments = args
			}
		}
	}
	if len(in.ToolResults) > 0 {
		out.ToolResults = make([]ToolResult, len(in.ToolResults))
		copy(out.ToolResults, in.ToolResults)
	}
	return out
}

// CloneTurns returns deep copies of all turns
func CloneTurns(in []Turn) []Turn {
	out := make([]Turn, len(in))
	for i := range in {
		out[i] = CloneTurn(in[i])
	}
	return out
}
