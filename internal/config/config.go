// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server        ServerConfig           `yaml:"server"`
	Bridge        BridgeConfig           `yaml:"bridge"`
	Sandbox       map[string]interface{} `yaml:"sandbox"`
	Transport     TransportConfig        `yaml:"transport"`
	EventHook     EventHookConfig        `yaml:"eventhook"`
	Observability ObservabilityConfig    `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	WebSocketPath   string        `yaml:"websocket_path"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BridgeConfig holds bridge controller configuration.
type BridgeConfig struct {
	Provider string `yaml:"provider"`
	Platform string `yaml:"platform"` // "callback" or "result"
	// ChannelKey, when set, initializes messaging at startup.
	ChannelKey        string        `yaml:"channel_key"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	PresentationStyle string        `yaml:"presentation_style"` // "fullScreen" or "pageSheet"
}

// TransportConfig holds host transport configuration.
type TransportConfig struct {
	WebSocket WebSocketConfig `yaml:"websocket"`
	Polling   PollingConfig   `yaml:"polling"`
}

// WebSocketConfig holds WebSocket transport configuration. The endpoint is
// served at server.websocket_path.
type WebSocketConfig struct {
	Enabled        bool          `yaml:"enabled"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// PollingConfig holds HTTP polling transport configuration.
type PollingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	MaxBuffered int    `yaml:"max_buffered"`
}

// EventHookConfig holds event webhook configuration.
type EventHookConfig struct {
	Enabled         bool          `yaml:"enabled"`
	URL             string        `yaml:"url"`
	AuthHeader      string        `yaml:"auth_header"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	QueueSize       int           `yaml:"queue_size"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	MetricsPath string `yaml:"metrics_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			WebSocketPath:   "/ws",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Bridge: BridgeConfig{
			Provider:          "sandbox",
			Platform:          "callback",
			CommandTimeout:    10 * time.Second,
			PresentationStyle: "fullScreen",
		},
		Transport: TransportConfig{
			WebSocket: WebSocketConfig{
				Enabled:        true,
				WriteTimeout:   10 * time.Second,
				MaxMessageSize: 1 << 20,
			},
			Polling: PollingConfig{
				Enabled:     false,
				Path:        "/api/v1/bridge",
				MaxBuffered: 1000,
			},
		},
		EventHook: EventHookConfig{
			Enabled:         false,
			Timeout:         10 * time.Second,
			MaxRetries:      3,
			QueueSize:       256,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			MetricsPath: "/metrics",
		},
	}
}

// Load loads configuration from a YAML file. ${VAR} references are expanded
// from the environment before parsing.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults if file doesn't exist
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	if c.Bridge.Provider == "" {
		return fmt.Errorf("bridge provider is required")
	}

	switch c.Bridge.Platform {
	case "callback", "result":
	default:
		return fmt.Errorf("invalid bridge platform %q (want callback or result)", c.Bridge.Platform)
	}

	switch c.Bridge.PresentationStyle {
	case "fullScreen", "pageSheet":
	default:
		return fmt.Errorf("invalid presentation style %q", c.Bridge.PresentationStyle)
	}

	if c.Bridge.CommandTimeout <= 0 {
		return fmt.Errorf("bridge command timeout must be positive")
	}

	if c.Transport.WebSocket.Enabled && !strings.HasPrefix(c.Server.WebSocketPath, "/") {
		return fmt.Errorf("websocket path must start with /: %q", c.Server.WebSocketPath)
	}

	if c.Transport.Polling.Enabled {
		if !strings.HasPrefix(c.Transport.Polling.Path, "/") {
			return fmt.Errorf("polling path must start with /: %q", c.Transport.Polling.Path)
		}
		if c.Transport.Polling.MaxBuffered <= 0 {
			return fmt.Errorf("polling max_buffered must be positive")
		}
	}

	if !c.Transport.WebSocket.Enabled && !c.Transport.Polling.Enabled && !c.EventHook.Enabled {
		return fmt.Errorf("at least one of transport.websocket, transport.polling or eventhook must be enabled")
	}

	if c.EventHook.Enabled {
		if c.EventHook.URL == "" {
			return fmt.Errorf("eventhook url is required when enabled")
		}
		if c.EventHook.MaxRetries < 0 {
			return fmt.Errorf("eventhook max_retries must not be negative")
		}
	}

	switch c.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Observability.LogLevel)
	}

	if c.Observability.MetricsPath != "" && !strings.HasPrefix(c.Observability.MetricsPath, "/") {
		return fmt.Errorf("metrics path must start with /: %q", c.Observability.MetricsPath)
	}

	return nil
}
