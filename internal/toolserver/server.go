package toolserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"WeatherChat/internal/mcp"
	"WeatherChat/internal/weather"
)

const (
	// ServerName identifies this tool server in the initialize handshake
	ServerName = "weathertool"
	// ServerVersion is reported alongside ServerName
	ServerVersion = "1.0.0"
	// ToolGetWeather is the only tool this server exposes
	ToolGetWeather = "get_weather"
)

// GetWeatherTool describes the get_weather tool and its input schema
func GetWeatherTool() mcp.ToolInfo {
	return mcp.ToolInfo{
		Name:        ToolGetWeather,
		Description: "Look up current weather conditions for a city.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"city": map[string]interface{}{
					"type":        "string",
					"description": "City name, e.g. \"Paris\"",
				},
			},
			"required": []interface{}{"city"},
		},
	}
}

// Server is the mock Weather Lookup Service: a JSON-RPC 2.0 tool server whose
// single capability is get_weather, reachable over plain HTTP POST or a
// WebSocket connection.
type Server struct {
	generator *weather.Generator
	logger    *slog.Logger
	tracer    trace.Tracer
	meter     metric.Meter
	mux       *http.ServeMux
	upgrader  websocket.Upgrader
}

// New creates a Server around the given weather generator
func New(generator *weather.Generator, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Server {
	if tracer == nil {
		tracer = otel.Tracer("weatherchat/toolserver")
	}
	if meter == nil {
		meter = otel.Meter("weatherchat/toolserver")
	}
	s := &Server{
		generator: generator,
		logger:    logger,
		tracer:    tracer,
		meter:     meter,
		mux:       http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the tool server
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("/rpc", s.handleRPC)
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"status":"ok"}`)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var request mcp.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.writeResponse(w, errorResponse(0, mcp.CodeParseError, fmt.Sprintf("invalid JSON-RPC request: %v", err)))
		return
	}

	s.writeResponse(w, s.dispatch(r, request))
}

// handleWS serves the JSON-RPC protocol over a WebSocket connection: one
// request frame, one response frame, in order.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	s.logger.Info("websocket client connected", "remote", r.RemoteAddr)

	for {
		var request mcp.JSONRPCRequest
		if err := conn.ReadJSON(&request); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		if err := conn.WriteJSON(s.dispatch(r, request)); err != nil {
			s.logger.Warn("websocket write failed", "error", err)
			return
		}
	}
}

// dispatch routes one JSON-RPC request, shared by the HTTP and WebSocket
// transports.
func (s *Server) dispatch(r *http.Request, request mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	ctx, span := s.tracer.Start(r.Context(), "tool_rpc")
	defer span.End()

	start := time.Now()
	var response mcp.JSONRPCResponse

	switch request.Method {
	case mcp.MethodInitialize:
		response = resultResponse(request.ID, mcp.InitializeResult{
			ProtocolVersion: mcp.ProtocolVersion,
			Capabilities: mcp.ServerCapabilities{
				Tools: &mcp.ToolsCapability{},
			},
			ServerInfo: mcp.ServerInfo{
				Name:    ServerName,
				Version: ServerVersion,
			},
		})

	case mcp.MethodListTools:
		response = resultResponse(request.ID, mcp.ListToolsResult{
			Tools: []mcp.ToolInfo{GetWeatherTool()},
		})

	case mcp.MethodCallTool:
		response = s.callTool(request)

	default:
		response = errorResponse(request.ID, mcp.CodeMethodNotFound, fmt.Sprintf("unknown method: %s", request.Method))
	}

	duration := time.Since(start)
	histogram, err := s.meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("Tool RPC duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(duration.Milliseconds()))
	}
	s.logger.Info("handled tool rpc", "method", request.Method, "duration_ms", duration.Milliseconds())
	return response
}

func (s *Server) callTool(request mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	params, err := decodeParams(request.Params)
	if err != nil {
		return errorResponse(request.ID, mcp.CodeInvalidParams, err.Error())
	}

	if params.Name != ToolGetWeather {
		return resultResponse(request.ID, toolErrorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	rawCity, ok := params.Arguments["city"]
	if !ok {
		return errorResponse(request.ID, mcp.CodeInvalidParams, "city argument is required")
	}
	city, ok := rawCity.(string)
	if !ok {
		return errorResponse(request.ID, mcp.CodeInvalidParams, "city argument must be a string")
	}

	data, err := s.generator.Lookup(city)
	var lookup weather.LookupResult
	switch {
	case errors.Is(err, weather.ErrCityNotFound):
		lookup = weather.LookupResult{Found: false, City: strings.TrimSpace(city)}
		s.logger.Info("weather lookup: city not found", "city", city)
	case err != nil:
		return errorResponse(request.ID, mcp.CodeInternalError, fmt.Sprintf("lookup failed: %v", err))
	default:
		lookup = weather.LookupResult{Found: true, City: data.City, Weather: &data}
		s.logger.Info("weather lookup", "city", data.City, "condition", data.Condition)
	}

	payload, err := json.Marshal(lookup)
	if err != nil {
		return errorResponse(request.ID, mcp.CodeInternalError, fmt.Sprintf("failed to marshal lookup result: %v", err))
	}

	return resultResponse(request.ID, mcp.CallToolResult{
		Content: []mcp.Content{{Type: "text", Text: string(payload)}},
	})
}

func decodeParams(raw interface{}) (mcp.CallToolParams, error) {
	paramsJSON, err := json.Marshal(raw)
	if err != nil {
		return mcp.CallToolParams{}, fmt.Errorf("invalid params: %v", err)
	}
	var params mcp.CallToolParams
	if err := json.Unmarshal(paramsJSON, &params); err != nil {
		return mcp.CallToolParams{}, fmt.Errorf("invalid params: %v", err)
	}
	if params.Name == "" {
		return mcp.CallToolParams{}, fmt.Errorf("tool name is required")
	}
	return params, nil
}

func toolErrorResult(message string) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.Content{{Type: "text", Text: message}},
		IsError: true,
	}
}

func resultResponse(id int, result interface{}) mcp.JSONRPCResponse {
	return mcp.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

func errorResponse(id int, code int, message string) mcp.JSONRPCResponse {
	return mcp.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &mcp.RPCError{
			Code:    code,
			Message: message,
		},
	}
}

func (s *Server) writeResponse(w http.ResponseWriter, response mcp.JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("failed to encode rpc response", "error", err)
	}
}
