package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"WeatherChat/internal/session"
)

const anthropicVersion = "2023-06-01"

// AnthropicClient streams assistant messages from an Anthropic-style
// /v1/messages endpoint.
type AnthropicClient struct {
	endpoint   string
	apiKey     string
	model      string
	maxTokens  int
	system     string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
}

// AnthropicConfig collects the knobs for an AnthropicClient
type AnthropicConfig struct {
	Endpoint  string
	APIKey    string
	Model     string
	MaxTokens int
	System    string
	Timeout   time.Duration
}

// NewAnthropicClient creates a streaming model client
func NewAnthropicClient(cfg AnthropicConfig, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (*AnthropicClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("model endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	if tracer == nil {
		tracer = otel.Tracer("weatherchat/backend")
	}
	if meter == nil {
		meter = otel.Meter("weatherchat/backend")
	}
	return &AnthropicClient{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxTokens:  maxTokens,
		system:     cfg.System,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		tracer:     tracer,
		meter:      meter,
	}, nil
}

// Stream sends the turn history and tool schema to the model and forwards
// decoded events to fn in emission order.
func (c *AnthropicClient) Stream(ctx context.Context, req Request, fn func(Event) error) error {
	ctx, span := c.tracer.Start(ctx, "model_stream")
	defer span.End()

	start := time.Now()

	reqBody := AnthropicRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    c.system,
		Messages:  turnsToMessages(req.Turns),
		Tools:     req.Tools,
		Stream:    true,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	decoder := newFrameDecoder(fn)
	if err := consumeSSE(ctx, resp.Body, decoder.handle); err != nil {
		return err
	}

	duration := time.Since(start)
	histogram, err := c.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(duration.Milliseconds()))
	}

	c.logger.Info("model stream finished",
		"model", c.model,
		"stop_reason", decoder.stopReason,
		"duration_ms", duration.Milliseconds())
	return nil
}

// frameDecoder assembles model events out of raw SSE frames. Tool-call
// arguments arrive as input_json_delta fragments and are only surfaced once
// the block closes and the accumulated JSON parses.
type frameDecoder struct {
	fn         func(Event) error
	stopReason string

	toolOpen bool
	toolID   string
	toolName string
	toolJSON bytes.Buffer
}

func newFrameDecoder(fn func(Event) error) *frameDecoder {
	return &frameDecoder{fn: fn}
}

func (d *frameDecoder) handle(event, data string) error {
	var frame streamFrame
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		return fmt.Errorf("failed to unmarshal stream frame: %w", err)
	}
	if event == "" {
		event = frame.Type
	}

	switch event {
	case "error":
		if frame.Error != nil {
			return fmt.Errorf("model stream error: %s: %s", frame.Error.Type, frame.Error.Message)
		}
		return fmt.Errorf("model stream error")

	case "content_block_start":
		if frame.ContentBlock != nil && frame.ContentBlock.Type == "tool_use" {
			d.toolOpen = true
			d.toolID = frame.ContentBlock.ID
			d.toolName = frame.ContentBlock.Name
			d.toolJSON.Reset()
		}

	case "content_block_delta":
		if frame.Delta == nil {
			return nil
		}
		switch frame.Delta.Type {
		case "text_delta":
			if frame.Delta.Text == "" {
				return nil
			}
			return d.fn(Event{Kind: EventTextDelta, Text: frame.Delta.Text})
		case "input_json_delta":
			if d.toolOpen {
				d.toolJSON.WriteString(frame.Delta.PartialJSON)
			}
		}

	case "content_block_stop":
		if d.toolOpen {
			call, err := d.finishToolCall()
			if err != nil {
				return err
			}
			return d.fn(Event{Kind: EventToolCallRequest, ToolCall: call})
		}

	case "message_delta":
		if frame.Delta != nil && frame.Delta.StopReason != "" {
			d.stopReason = frame.Delta.StopReason
		}

	case "message_stop":
		return d.fn(Event{Kind: EventDone, StopReason: d.stopReason})
	}
	return nil
}

func (d *frameDecoder) finishToolCall() (*session.ToolCall, error) {
	defer func() {
		d.toolOpen = false
		d.toolID = ""
		d.toolName = ""
		d.toolJSON.Reset()
	}()

	arguments := map[string]any{}
	if d.toolJSON.Len() > 0 {
		if err := json.Unmarshal(d.toolJSON.Bytes(), &arguments); err != nil {
			return nil, fmt.Errorf("invalid tool call arguments from model: %w", err)
		}
	}
	if d.toolName == "" {
		return nil, fmt.Errorf("tool call from model is missing a name")
	}
	return &session.ToolCall{
		ID:        d.toolID,
		Name:      d.toolName,
		Arguments: arguments,
	}, nil
}

// turnsToMessages converts session history to the Anthropic message shape:
// assistant tool calls become tool_use blocks and tool turns are replayed as
// user messages carrying tool_result blocks.
func turnsToMessages(turns []session.Turn) []AnthropicMessage {
	messages := make([]AnthropicMessage, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case session.RoleUser:
			messages = append(messages, AnthropicMessage{
				Role:    "user",
				Content: turn.Content,
			})

		case session.RoleAssistant:
			if len(turn.ToolCalls) == 0 {
				messages = append(messages, AnthropicMessage{
					Role:    "assistant",
					Content: turn.Content,
				})
				continue
			}
			toolUse := make([]AnthropicContent, 0, len(turn.ToolCalls))
			for _, call := range turn.ToolCalls {
				toolUse = append(toolUse, AnthropicContent{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: call.Arguments,
				})
			}
			if len(turn.ToolResults) == 0 {
				// In-flight shape: the tool results follow as a separate
				// tool turn.
				messages = append(messages, AnthropicMessage{
					Role:    "assistant",
					Content: toolUse,
				})
				continue
			}
			// Committed shape: one assembled assistant turn replays as
			// calls, then results, then the final text.
			messages = append(messages, AnthropicMessage{
				Role:    "assistant",
				Content: toolUse,
			})
			messages = append(messages, AnthropicMessage{
				Role:    "user",
				Content: toolResultBlocks(turn.ToolResults),
			})
			if turn.Content != "" {
				messages = append(messages, AnthropicMessage{
					Role:    "assistant",
					Content: turn.Content,
				})
			}

		case session.RoleTool:
			messages = append(messages, AnthropicMessage{
				Role:    "user",
				Content: toolResultBlocks(turn.ToolResults),
			})
		}
	}
	return messages
}

func toolResultBlocks(results []session.ToolResult) []AnthropicContent {
	blocks := make([]AnthropicContent, 0, len(results))
	for _, result := range results {
		blocks = append(blocks, AnthropicContent{
			Type:      "tool_result",
			ToolUseID: result.CallID,
			Content:   result.Payload,
			IsError:   result.Status == session.StatusError,
		})
	}
	return blocks
}
