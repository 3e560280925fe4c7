package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the strand runtime.
type Config struct {
	// Server configuration
	HTTPPort int    `env:"STRAND_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"STRAND_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Durable storage
	Store StoreConfig

	// Redis configuration (optional event/state mirror)
	Redis RedisConfig

	// LLM configuration
	LLM LLMConfig

	// Turn loop defaults, used when a graph omits loop_config values
	Loop LoopConfig

	// Health monitor configuration
	Monitor MonitorConfig

	// Timeouts
	Timeouts TimeoutConfig

	// Diagnostic sink
	Debug DebugConfig
}

// StoreConfig selects and tunes the durable session store.
type StoreConfig struct {
	// Backend is "file" or "redis".
	Backend string `env:"STORE_BACKEND" envDefault:"file"`
	DataDir string `env:"STORE_DATA_DIR" envDefault:"./data"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"LLM_API_KEY"`

	RequestTimeout time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"120s"`
	MaxRetries     int           `env:"LLM_MAX_RETRIES" envDefault:"3"`

	DefaultModel       string  `env:"LLM_DEFAULT_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	DefaultTemperature float64 `env:"LLM_DEFAULT_TEMPERATURE" envDefault:"0.7"`
	DefaultMaxTokens   int     `env:"LLM_DEFAULT_MAX_TOKENS" envDefault:"4096"`
}

// LoopConfig holds turn loop defaults applied when a graph omits its own.
type LoopConfig struct {
	MaxIterations       int `env:"LOOP_MAX_ITERATIONS" envDefault:"20"`
	MaxToolCallsPerTurn int `env:"LOOP_MAX_TOOL_CALLS_PER_TURN" envDefault:"8"`
	MaxHistoryTokens    int `env:"LOOP_MAX_HISTORY_TOKENS" envDefault:"60000"`
}

// MonitorConfig holds health monitor configuration.
type MonitorConfig struct {
	Enabled        bool          `env:"MONITOR_ENABLED" envDefault:"true"`
	Interval       time.Duration `env:"MONITOR_INTERVAL" envDefault:"60s"`
	VerdictWindow  int           `env:"MONITOR_VERDICT_WINDOW" envDefault:"5"`
	StallThreshold time.Duration `env:"MONITOR_STALL_THRESHOLD" envDefault:"10m"`
}

// TimeoutConfig holds various timeout configurations.
type TimeoutConfig struct {
	ToolCallTimeout   time.Duration `env:"TIMEOUT_TOOL_CALL" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
	KeepaliveInterval time.Duration `env:"TIMEOUT_STREAM_KEEPALIVE" envDefault:"15s"`
}

// DebugConfig holds diagnostic sink configuration.
type DebugConfig struct {
	Enabled bool   `env:"DEBUG_SINK_ENABLED" envDefault:"false"`
	Path    string `env:"DEBUG_SINK_PATH" envDefault:"./strand-debug.jsonl"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	switch c.Store.Backend {
	case "file":
		if c.Store.DataDir == "" {
			return fmt.Errorf("data directory is required for the file store")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis store")
		}
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}

	if c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key is required")
	}

	if c.Loop.MaxIterations < 1 {
		return fmt.Errorf("loop max iterations must be at least 1")
	}
	if c.Monitor.Enabled && c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address.
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
