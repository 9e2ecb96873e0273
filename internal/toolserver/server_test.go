package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"WeatherChat/internal/mcp"
	"WeatherChat/internal/weather"
)

func newTestServer(t *testing.T) (*httptest.Server, *mcp.HTTPClient) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(weather.NewGenerator(42), logger, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := mcp.NewHTTPClient("weathertool", ts.URL, 5*time.Second, logger)
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	return ts, client
}

func TestInitializeHandshake(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t)
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
}

func TestListTools(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t)
	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(tools))
	}
	if tools[0].Name != ToolGetWeather {
		t.Errorf("tool name = %q, want %q", tools[0].Name, ToolGetWeather)
	}
	required, ok := tools[0].InputSchema["required"].([]interface{})
	if !ok || len(required) != 1 || required[0] != "city" {
		t.Errorf("input schema required = %v, want [city]", tools[0].InputSchema["required"])
	}
}

func TestCallToolKnownCity(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t)
	result, err := client.CallTool(context.Background(), ToolGetWeather, map[string]interface{}{"city": "Paris"})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %+v", result)
	}

	var lookup weather.LookupResult
	if err := json.Unmarshal([]byte(result.Content[0].Text), &lookup); err != nil {
		t.Fatalf("failed to decode lookup payload: %v", err)
	}
	if !lookup.Found {
		t.Fatal("Paris reported as not found")
	}
	if lookup.Weather == nil || lookup.Weather.City != "Paris" {
		t.Errorf("weather = %+v, want city Paris", lookup.Weather)
	}

	// Same process, same answer.
	again, err := client.CallTool(context.Background(), ToolGetWeather, map[string]interface{}{"city": "paris"})
	if err != nil {
		t.Fatalf("second CallTool failed: %v", err)
	}
	var second weather.LookupResult
	if err := json.Unmarshal([]byte(again.Content[0].Text), &second); err != nil {
		t.Fatalf("failed to decode second payload: %v", err)
	}
	if second.Weather.TemperatureC != lookup.Weather.TemperatureC {
		t.Errorf("temperature changed between lookups: %v vs %v", second.Weather.TemperatureC, lookup.Weather.TemperatureC)
	}
}

func TestCallToolUnknownCity(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t)
	result, err := client.CallTool(context.Background(), ToolGetWeather, map[string]interface{}{"city": "Atlantis"})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if result.IsError {
		t.Fatal("unknown city must not be a tool error")
	}

	var lookup weather.LookupResult
	if err := json.Unmarshal([]byte(result.Content[0].Text), &lookup); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if lookup.Found {
		t.Error("Atlantis reported as found")
	}
	if lookup.Weather != nil {
		t.Errorf("not-found result carries weather: %+v", lookup.Weather)
	}
}

func TestCallToolUnknownTool(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t)
	result, err := client.CallTool(context.Background(), "get_stocks", map[string]interface{}{"city": "Paris"})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if !result.IsError {
		t.Errorf("unknown tool did not report IsError: %+v", result)
	}
}

func TestCallToolInvalidParams(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t)
	cases := []map[string]interface{}{
		{},             // missing city
		{"city": 1234}, // wrong type
	}
	for _, args := range cases {
		if _, err := client.CallTool(context.Background(), ToolGetWeather, args); err == nil {
			t.Errorf("CallTool(%v) succeeded, want invalid-params RPC error", args)
		}
	}
}

func TestRPCUnknownMethod(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	body, _ := json.Marshal(mcp.JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "tools/unknown"})
	resp, err := http.Post(ts.URL+"/rpc", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp mcp.JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if rpcResp.Error == nil || rpcResp.Error.Code != mcp.CodeMethodNotFound {
		t.Errorf("error = %+v, want method-not-found", rpcResp.Error)
	}
}

func TestRPCMalformedBody(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/rpc", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp mcp.JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if rpcResp.Error == nil || rpcResp.Error.Code != mcp.CodeParseError {
		t.Errorf("error = %+v, want parse error", rpcResp.Error)
	}
}

func TestRPCRejectsGET(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/rpc")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestWebSocketTransport(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	client, err := mcp.NewWebSocketClient("weathertool", wsURL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewWebSocketClient failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize over websocket failed: %v", err)
	}
	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools over websocket failed: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != ToolGetWeather {
		t.Fatalf("tools = %+v, want one get_weather", tools)
	}

	result, err := client.CallTool(context.Background(), ToolGetWeather, map[string]interface{}{"city": "Tokyo"})
	if err != nil {
		t.Fatalf("CallTool over websocket failed: %v", err)
	}
	var lookup weather.LookupResult
	if err := json.Unmarshal([]byte(result.Content[0].Text), &lookup); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if !lookup.Found {
		t.Error("Tokyo reported as not found over websocket")
	}
}

func TestClientTimeout(t *testing.T) {
	t.Parallel()

	stall := make(chan struct{})
	defer close(stall)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-stall:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(slow.Close)

	client, err := mcp.NewHTTPClient("weathertool", slow.URL, 50*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	if _, err := client.CallTool(context.Background(), ToolGetWeather, map[string]interface{}{"city": "Paris"}); err == nil {
		t.Error("CallTool against a stalled server succeeded, want timeout error")
	}
}
