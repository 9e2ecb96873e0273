package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"WeatherChat/internal/backend"
	"WeatherChat/internal/session"
)

// DefaultMaxToolCalls bounds the model/tool ping-pong per user message
const DefaultMaxToolCalls = 5

const (
	modelFailureNote   = "The assistant is unavailable right now. Please try again."
	toolFailureNote    = "The weather service could not be reached for that lookup."
	budgetExceededNote = "Stopped after too many weather lookups; answering with what is known so far."
	cancelledNote      = "The request was cancelled."
)

// Orchestrator drives the model/tool loop for one user message at a time.
// Each request owns one orchestration: history in, stream of events out.
type Orchestrator struct {
	model        backend.Model
	tools        *ToolRunner
	store        *session.Store
	toolSchema   []backend.AnthropicTool
	maxToolCalls int
	logger       *slog.Logger
	tracer       trace.Tracer
	meter        metric.Meter
}

// Options configures an Orchestrator
type Options struct {
	Model        backend.Model
	Tools        *ToolRunner
	Store        *session.Store
	ToolSchema   []backend.AnthropicTool
	MaxToolCalls int
	Logger       *slog.Logger
	Tracer       trace.Tracer
	Meter        metric.Meter
}

// New creates an Orchestrator
func New(opts Options) (*Orchestrator, error) {
	if opts.Model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if opts.Tools == nil {
		return nil, fmt.Errorf("tool runner is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	maxToolCalls := opts.MaxToolCalls
	if maxToolCalls <= 0 {
		maxToolCalls = DefaultMaxToolCalls
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("weatherchat/agent")
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter("weatherchat/agent")
	}
	return &Orchestrator{
		model:        opts.Model,
		tools:        opts.Tools,
		store:        opts.Store,
		toolSchema:   opts.ToolSchema,
		maxToolCalls: maxToolCalls,
		logger:       opts.Logger,
		tracer:       opts.Tracer,
		meter:        opts.Meter,
	}, nil
}

// MaxToolCalls reports the per-message tool invocation budget
func (o *Orchestrator) MaxToolCalls() int { return o.maxToolCalls }

// Handle runs one orchestration: it takes the session's single-writer lease,
// appends the user turn, and streams events until exactly one done event.
// The returned channel is single-consumption and closes after done. The
// session id is returned so callers can surface server-generated ids.
//
// A concurrent request for the same session fails fast with
// session.ErrSessionBusy.
func (o *Orchestrator) Handle(ctx context.Context, sessionID, userMessage string) (string, <-chan StreamEvent, error) {
	if strings.TrimSpace(userMessage) == "" {
		return "", nil, fmt.Errorf("message must not be empty")
	}

	snapshot, release, err := o.store.Acquire(sessionID)
	if err != nil {
		return "", nil, err
	}

	userTurn := session.Turn{
		Role:      session.RoleUser,
		Content:   userMessage,
		Timestamp: time.Now(),
	}
	if err := o.store.Append(snapshot.ID, userTurn); err != nil {
		release()
		return "", nil, fmt.Errorf("failed to append user turn: %w", err)
	}
	snapshot.Turns = append(snapshot.Turns, userTurn)

	events := make(chan StreamEvent, 8)
	go func() {
		// Release before the channel closes so a client that retries as
		// soon as the stream ends never sees a stale busy lease.
		defer close(events)
		defer release()
		o.run(ctx, snapshot, events)
	}()

	return snapshot.ID, events, nil
}

// run executes the bounded model/tool loop and always terminates the stream
// with a single done event (unless the client is already gone).
func (o *Orchestrator) run(ctx context.Context, snapshot session.Session, events chan<- StreamEvent) {
	ctx, span := o.tracer.Start(ctx, "orchestration")
	defer span.End()

	start := time.Now()
	emit := func(event StreamEvent) bool {
		select {
		case events <- event:
			return true
		case <-ctx.Done():
			return false
		}
	}

	working := snapshot.Turns
	var finalText strings.Builder
	var allCalls []session.ToolCall
	var allResults []session.ToolResult
	toolCallsUsed := 0
	budgetHit := false

loop:
	for {
		// AwaitingModel: stream one assistant message, forwarding text
		// deltas as they arrive and collecting any tool-call requests.
		var pendingCalls []session.ToolCall
		streamErr := o.model.Stream(ctx, backend.Request{
			Turns: working,
			Tools: o.toolSchema,
		}, func(event backend.Event) error {
			switch event.Kind {
			case backend.EventTextDelta:
				finalText.WriteString(event.Text)
				if !emit(StreamEvent{Type: EventText, Content: event.Text}) {
					return context.Canceled
				}
			case backend.EventToolCallRequest:
				pendingCalls = append(pendingCalls, *event.ToolCall)
			}
			return nil
		})

		if ctx.Err() != nil {
			o.logger.Info("orchestration cancelled", "session_id", snapshot.ID)
			o.tryEmitFinal(events, cancelledNote)
			return
		}
		if streamErr != nil {
			// ModelError is fatal to the turn: the session keeps only the
			// user turn, no partial assistant turn is appended.
			o.logger.Error("model call failed", "session_id", snapshot.ID, "error", streamErr)
			emit(StreamEvent{Type: EventError, Content: modelFailureNote})
			emit(StreamEvent{Type: EventDone})
			return
		}

		if len(pendingCalls) == 0 {
			break loop
		}

		// The assistant asked for tools; replay its request into the
		// working history before invoking anything.
		working = append(working, session.Turn{
			Role:      session.RoleAssistant,
			ToolCalls: pendingCalls,
			Timestamp: time.Now(),
		})

		// InvokingTool
		var roundResults []session.ToolResult
		for _, call := range pendingCalls {
			if toolCallsUsed >= o.maxToolCalls {
				budgetHit = true
				o.logger.Warn("tool call budget exhausted",
					"session_id", snapshot.ID,
					"budget", o.maxToolCalls)
				emit(StreamEvent{Type: EventError, Content: budgetExceededNote})
				break
			}
			toolCallsUsed++

			result := o.tools.Invoke(ctx, call)
			if ctx.Err() != nil {
				o.tryEmitFinal(events, cancelledNote)
				return
			}

			switch result.Status {
			case session.StatusOK:
				// weather_data immediately follows the result that
				// produced it.
				if !emit(StreamEvent{Type: EventWeatherData, Content: result.Payload}) {
					return
				}
			case session.StatusError:
				if !emit(StreamEvent{Type: EventError, Content: toolFailureNote}) {
					return
				}
			case session.StatusNotFound:
				// A valid outcome the model narrates; no error event.
			}

			allCalls = append(allCalls, call)
			allResults = append(allResults, result)
			roundResults = append(roundResults, result)
		}

		if len(roundResults) > 0 {
			working = append(working, session.Turn{
				Role:        session.RoleTool,
				ToolResults: roundResults,
				Timestamp:   time.Now(),
			})
		}
		if budgetHit {
			break loop
		}
	}

	// Completed: commit the assembled assistant turn, then terminate the
	// stream.
	assistantTurn := session.Turn{
		Role:        session.RoleAssistant,
		Content:     finalText.String(),
		ToolCalls:   allCalls,
		ToolResults: allResults,
		Timestamp:   time.Now(),
	}
	if err := o.store.Append(snapshot.ID, assistantTurn); err != nil {
		o.logger.Error("failed to append assistant turn", "session_id", snapshot.ID, "error", err)
	}

	emit(StreamEvent{Type: EventDone})

	duration := time.Since(start)
	o.recordTurnMetrics(ctx, duration, toolCallsUsed)
	o.logger.Info("orchestration completed",
		"session_id", snapshot.ID,
		"tool_calls", toolCallsUsed,
		"budget_hit", budgetHit,
		"duration_ms", duration.Milliseconds())
}

// tryEmitFinal is the cancellation path: best-effort error + done without
// blocking on a consumer that is already gone.
func (o *Orchestrator) tryEmitFinal(events chan<- StreamEvent, note string) {
	select {
	case events <- StreamEvent{Type: EventError, Content: note}:
	default:
	}
	select {
	case events <- StreamEvent{Type: EventDone}:
	default:
	}
}

func (o *Orchestrator) recordTurnMetrics(ctx context.Context, duration time.Duration, toolCalls int) {
	if o.meter == nil {
		return
	}
	histogram, err := o.meter.Float64Histogram(
		"agent.turn.duration",
		metric.WithDescription("Orchestration duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(duration.Milliseconds()))
	}
	counter, err := o.meter.Int64Counter(
		"agent.tool.invocations",
		metric.WithDescription("Tool invocations per completed turn"),
	)
	if err == nil {
		counter.Add(ctx, int64(toolCalls))
	}
}
