package agent

// EventType discriminates outbound stream events
type EventType string

const (
	// EventText carries a fragment of conversational text
	EventText EventType = "text"
	// EventWeatherData carries a JSON-encoded weather lookup result
	EventWeatherData EventType = "weather_data"
	// EventError carries a user-safe failure note
	EventError EventType = "error"
	// EventDone terminates the stream; every stream ends with exactly one
	EventDone EventType = "done"
)

// StreamEvent is one unit of the outbound wire protocol
type StreamEvent struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
}
