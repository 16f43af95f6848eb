package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the daemon-wide settings tree. Precedence: file > environment
// (TAPDECK_*) > defaults.
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Heartbeat *HeartbeatConfig `json:"heartbeat"`
	Log       *LogConfig       `json:"log"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// HeartbeatConfig drives the session heartbeat scheduler: ticks start at
// BaseInterval, stretch by BackoffFactor per consecutive failure and cap at
// MaxInterval.
type HeartbeatConfig struct {
	BaseInterval  time.Duration `json:"base_interval"`
	MaxInterval   time.Duration `json:"max_interval"`
	BackoffFactor float64       `json:"backoff_factor"`
}

type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // console or json
}

// DefaultConfig returns production-ready defaults for a household deployment.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./data/tapdeck.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Heartbeat: &HeartbeatConfig{
			BaseInterval:  30 * time.Second,
			MaxInterval:   120 * time.Second,
			BackoffFactor: 1.5,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks every section before any component is wired.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket read timeout must be positive")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Heartbeat == nil {
		return fmt.Errorf("heartbeat configuration is required")
	}
	if c.Heartbeat.BaseInterval <= 0 {
		return fmt.Errorf("heartbeat base interval must be positive")
	}
	if c.Heartbeat.MaxInterval < c.Heartbeat.BaseInterval {
		return fmt.Errorf("heartbeat max interval must be at least the base interval")
	}
	if c.Heartbeat.BackoffFactor < 1.0 {
		return fmt.Errorf("heartbeat backoff factor must be at least 1.0")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log format must be console or json")
	}

	return nil
}

// LoadFromEnv returns defaults overridden by TAPDECK_* environment
// variables. Unparseable values fall back silently to the default.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if dbPath := os.Getenv("TAPDECK_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}
	if dbTimeout := os.Getenv("TAPDECK_DATABASE_TIMEOUT"); dbTimeout != "" {
		if timeout, err := time.ParseDuration(dbTimeout); err == nil {
			config.Database.Timeout = timeout
		}
	}

	if port := os.Getenv("TAPDECK_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if host := os.Getenv("TAPDECK_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if readTimeout := os.Getenv("TAPDECK_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if timeout, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = timeout
		}
	}
	if writeTimeout := os.Getenv("TAPDECK_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if timeout, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = timeout
		}
	}

	if pingInterval := os.Getenv("TAPDECK_WEBSOCKET_PING_INTERVAL"); pingInterval != "" {
		if interval, err := time.ParseDuration(pingInterval); err == nil {
			config.WebSocket.PingInterval = interval
		}
	}
	if wsReadTimeout := os.Getenv("TAPDECK_WEBSOCKET_READ_TIMEOUT"); wsReadTimeout != "" {
		if timeout, err := time.ParseDuration(wsReadTimeout); err == nil {
			config.WebSocket.ReadTimeout = timeout
		}
	}
	if wsWriteTimeout := os.Getenv("TAPDECK_WEBSOCKET_WRITE_TIMEOUT"); wsWriteTimeout != "" {
		if timeout, err := time.ParseDuration(wsWriteTimeout); err == nil {
			config.WebSocket.WriteTimeout = timeout
		}
	}
	if bufferSize := os.Getenv("TAPDECK_WEBSOCKET_BUFFER_SIZE"); bufferSize != "" {
		if size, err := strconv.Atoi(bufferSize); err == nil {
			config.WebSocket.BufferSize = size
		}
	}

	if base := os.Getenv("TAPDECK_HEARTBEAT_BASE_INTERVAL"); base != "" {
		if interval, err := time.ParseDuration(base); err == nil {
			config.Heartbeat.BaseInterval = interval
		}
	}
	if max := os.Getenv("TAPDECK_HEARTBEAT_MAX_INTERVAL"); max != "" {
		if interval, err := time.ParseDuration(max); err == nil {
			config.Heartbeat.MaxInterval = interval
		}
	}
	if factor := os.Getenv("TAPDECK_HEARTBEAT_BACKOFF_FACTOR"); factor != "" {
		if f, err := strconv.ParseFloat(factor, 64); err == nil {
			config.Heartbeat.BackoffFactor = f
		}
	}

	if level := os.Getenv("TAPDECK_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	if format := os.Getenv("TAPDECK_LOG_FORMAT"); format != "" {
		config.Log.Format = format
	}

	return config
}

// ConfigFile is the JSON shape for file-based configuration; durations are
// strings like "30s" for readability.
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Heartbeat *HeartbeatConfigFile `json:"heartbeat"`
	Log       *LogConfig           `json:"log"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type HeartbeatConfigFile struct {
	BaseInterval  string  `json:"base_interval"`
	MaxInterval   string  `json:"max_interval"`
	BackoffFactor float64 `json:"backoff_factor"`
}

// LoadFromFile parses a JSON config file on top of the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.Database != nil {
		if configFile.Database.Path != "" {
			config.Database.Path = configFile.Database.Path
		}
		if configFile.Database.Timeout != "" {
			if timeout, err := time.ParseDuration(configFile.Database.Timeout); err == nil {
				config.Database.Timeout = timeout
			}
		}
	}

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if configFile.HTTP.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.ReadTimeout); err == nil {
				config.HTTP.ReadTimeout = timeout
			}
		}
		if configFile.HTTP.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.WriteTimeout); err == nil {
				config.HTTP.WriteTimeout = timeout
			}
		}
	}

	if configFile.WebSocket != nil {
		if configFile.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = configFile.WebSocket.BufferSize
		}
		if configFile.WebSocket.PingInterval != "" {
			if interval, err := time.ParseDuration(configFile.WebSocket.PingInterval); err == nil {
				config.WebSocket.PingInterval = interval
			}
		}
		if configFile.WebSocket.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.WebSocket.ReadTimeout); err == nil {
				config.WebSocket.ReadTimeout = timeout
			}
		}
		if configFile.WebSocket.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.WebSocket.WriteTimeout); err == nil {
				config.WebSocket.WriteTimeout = timeout
			}
		}
	}

	if configFile.Heartbeat != nil {
		if configFile.Heartbeat.BaseInterval != "" {
			if interval, err := time.ParseDuration(configFile.Heartbeat.BaseInterval); err == nil {
				config.Heartbeat.BaseInterval = interval
			}
		}
		if configFile.Heartbeat.MaxInterval != "" {
			if interval, err := time.ParseDuration(configFile.Heartbeat.MaxInterval); err == nil {
				config.Heartbeat.MaxInterval = interval
			}
		}
		if configFile.Heartbeat.BackoffFactor > 0 {
			config.Heartbeat.BackoffFactor = configFile.Heartbeat.BackoffFactor
		}
	}

	if configFile.Log != nil {
		if configFile.Log.Level != "" {
			config.Log.Level = configFile.Log.Level
		}
		if configFile.Log.Format != "" {
			config.Log.Format = configFile.Log.Format
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves the final configuration:
// file > environment > defaults. File errors are ignored silently so a
// missing file still yields a working environment-based config.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}
