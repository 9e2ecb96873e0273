package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultHTTPAddr           = "127.0.0.1:8080"
	defaultToolServerURL      = "http://127.0.0.1:8081"
	defaultModelEndpoint      = "https://api.anthropic.com"
	defaultModelName          = "claude-sonnet-4-20250514"
	defaultModelMaxTokens     = 1024
	defaultMaxToolCalls       = 5
	defaultSessionIdleTimeout = 30 * time.Minute
	defaultSweepInterval      = time.Minute
	defaultToolCallTimeout    = 10 * time.Second
	defaultModelTimeout       = 60 * time.Second
	defaultShutdownTimeout    = 5 * time.Second
	defaultLogDir             = "logs"

	defaultSystemPrompt = "You are a friendly weather assistant. Use the " +
		"get_weather tool to answer questions about current weather. If a " +
		"city is not found, say so conversationally and do not invent data."
)

// Duration is a time.Duration that unmarshals from TOML strings like "30s"
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds chat-server configuration. Precedence: flags > config file >
// defaults; flag wiring lives in cmd/weatherchat.
type Config struct {
	HTTPAddr           string   `toml:"http_addr"`
	ToolServerURL      string   `toml:"tool_server_url"`
	ModelEndpoint      string   `toml:"model_endpoint"`
	ModelName          string   `toml:"model_name"`
	ModelMaxTokens     int      `toml:"model_max_tokens"`
	SystemPrompt       string   `toml:"system_prompt"`
	MaxToolCalls       int      `toml:"max_tool_calls"`
	SessionIdleTimeout Duration `toml:"session_idle_timeout"`
	SweepInterval      Duration `toml:"sweep_interval"`
	ToolCallTimeout    Duration `toml:"tool_call_timeout"`
	ModelTimeout       Duration `toml:"model_timeout"`
	ShutdownTimeout    Duration `toml:"shutdown_timeout"`
	Debug              bool     `toml:"debug"`
	LogDir             string   `toml:"log_dir"`
}

// Default returns the chat-server configuration defaults
func Default() Config {
	return Config{
		HTTPAddr:           defaultHTTPAddr,
		ToolServerURL:      defaultToolServerURL,
		ModelEndpoint:      defaultModelEndpoint,
		ModelName:          defaultModelName,
		ModelMaxTokens:     defaultModelMaxTokens,
		SystemPrompt:       defaultSystemPrompt,
		MaxToolCalls:       defaultMaxToolCalls,
		SessionIdleTimeout: Duration(defaultSessionIdleTimeout),
		SweepInterval:      Duration(defaultSweepInterval),
		ToolCallTimeout:    Duration(defaultToolCallTimeout),
		ModelTimeout:       Duration(defaultModelTimeout),
		ShutdownTimeout:    Duration(defaultShutdownTimeout),
		LogDir:             defaultLogDir,
	}
}

// LoadFile overlays values from a TOML file onto cfg. A missing file is only
// an error when the path was explicitly requested.
func LoadFile(path string, cfg *Config, explicit bool) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects nonsensical configuration
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("validate config: http_addr is required")
	}
	if c.ToolServerURL == "" {
		return errors.New("validate config: tool_server_url is required")
	}
	if c.ModelEndpoint == "" {
		return errors.New("validate config: model_endpoint is required")
	}
	if c.ModelName == "" {
		return errors.New("validate config: model_name is required")
	}
	if c.MaxToolCalls < 1 {
		return fmt.Errorf("validate config: max_tool_calls must be >= 1, got %d", c.MaxToolCalls)
	}
	for name, d := range map[string]Duration{
		"session_idle_timeout": c.SessionIdleTimeout,
		"sweep_interval":       c.SweepInterval,
		"tool_call_timeout":    c.ToolCallTimeout,
		"model_timeout":        c.ModelTimeout,
		"shutdown_timeout":     c.ShutdownTimeout,
	} {
		if d.Std() <= 0 {
			return fmt.Errorf("validate config: %s must be > 0", name)
		}
	}
	return nil
}

// ToolConfig holds tool-server configuration
type ToolConfig struct {
	HTTPAddr        string   `toml:"http_addr"`
	Seed            uint64   `toml:"seed"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	Debug           bool     `toml:"debug"`
	LogDir          string   `toml:"log_dir"`
}

// DefaultTool returns the tool-server configuration defaults. Seed zero
// means derive one from the process start time.
func DefaultTool() ToolConfig {
	return ToolConfig{
		HTTPAddr:        "127.0.0.1:8081",
		ShutdownTimeout: Duration(defaultShutdownTimeout),
		LogDir:          defaultLogDir,
	}
}

// LoadToolFile overlays values from a TOML file onto cfg
func LoadToolFile(path string, cfg *ToolConfig, explicit bool) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects nonsensical tool-server configuration
func (c ToolConfig) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("validate config: http_addr is required")
	}
	if c.ShutdownTimeout.Std() <= 0 {
		return errors.New("validate config: shutdown_timeout must be > 0")
	}
	return nil
}
