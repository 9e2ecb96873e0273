package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"WeatherChat/internal/backend"
	"WeatherChat/internal/mcp"
	"WeatherChat/internal/session"
	"WeatherChat/internal/weather"
)

// ConvertTools converts tool-server descriptors into the model's tool schema
func ConvertTools(tools []mcp.Tool) []backend.AnthropicTool {
	converted := make([]backend.AnthropicTool, len(tools))
	for i, tool := range tools {
		converted[i] = backend.AnthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}
	}
	return converted
}

// ToolInvoker is the narrow tool-transport surface the runner needs
type ToolInvoker interface {
	CallTool(ctx context.Context, toolName string, args map[string]interface{}) (mcp.CallToolResult, error)
}

// ToolRunner adapts orchestrator-level tool calls onto the tool-server wire.
// It validates model-supplied arguments before invoking anything, bounds each
// call with a timeout, and normalizes every outcome into a session.ToolResult:
// transport failures become StatusError, a server-reported unknown city
// becomes StatusNotFound.
type ToolRunner struct {
	client  ToolInvoker
	timeout time.Duration
	logger  *slog.Logger
}

// NewToolRunner creates a ToolRunner around a tool-server client
func NewToolRunner(client ToolInvoker, timeout time.Duration, logger *slog.Logger) (*ToolRunner, error) {
	if client == nil {
		return nil, fmt.Errorf("tool client is required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("tool call timeout must be > 0")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &ToolRunner{client: client, timeout: timeout, logger: logger}, nil
}

// Invoke executes one tool call. The returned ToolResult always references
// the originating call ID; its payload is the lookup JSON on ok/not_found
// and a user-safe error document otherwise.
func (r *ToolRunner) Invoke(ctx context.Context, call session.ToolCall) session.ToolResult {
	if err := validateCall(call); err != nil {
		r.logger.Warn("rejected tool call from model", "tool", call.Name, "error", err)
		return errorResult(call, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	wireResult, err := r.client.CallTool(ctx, call.Name, call.Arguments)
	if err != nil {
		r.logger.Warn("tool call transport failure", "tool", call.Name, "error", err)
		return errorResult(call, "weather service unavailable")
	}
	if wireResult.IsError {
		r.logger.Warn("tool call rejected by server", "tool", call.Name, "message", contentText(wireResult))
		return errorResult(call, "weather service rejected the request")
	}

	payload := contentText(wireResult)
	var lookup weather.LookupResult
	if err := json.Unmarshal([]byte(payload), &lookup); err != nil {
		r.logger.Warn("malformed tool result payload", "tool", call.Name, "error", err)
		return errorResult(call, "weather service returned a malformed response")
	}

	result := session.ToolResult{
		CallID:  call.ID,
		Status:  session.StatusOK,
		Payload: payload,
	}
	if !lookup.Found {
		result.Status = session.StatusNotFound
	}
	r.logger.Info("tool call completed", "tool", call.Name, "status", result.Status)
	return result
}

func validateCall(call session.ToolCall) error {
	if call.Name != "get_weather" {
		return fmt.Errorf("unknown tool requested: %s", call.Name)
	}
	raw, ok := call.Arguments["city"]
	if !ok {
		return fmt.Errorf("get_weather requires a city argument")
	}
	city, ok := raw.(string)
	if !ok {
		return fmt.Errorf("city argument must be a string")
	}
	if strings.TrimSpace(city) == "" {
		return fmt.Errorf("city argument must not be empty")
	}
	return nil
}

func errorResult(call session.ToolCall, message string) session.ToolResult {
	return session.ToolResult{
		CallID:  call.ID,
		Status:  session.StatusError,
		Payload: fmt.Sprintf(`{"error":%q}`, message),
	}
}

func contentText(result mcp.CallToolResult) string {
	for _, content := range result.Content {
		if content.Type == "text" {
			return content.Text
		}
	}
	return ""
}
