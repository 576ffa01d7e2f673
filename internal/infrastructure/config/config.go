package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Paths     PathsConfig     `toml:"paths"`
	Network   NetworkConfig   `toml:"network"`
	Sandbox   SandboxConfig   `toml:"sandbox"`
	Logging   LogConfig       `toml:"logging"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	CORS      CORSConfig      `toml:"cors"`
}

// ServerConfig holds RPC listener configuration.
type ServerConfig struct {
	Host            string        `envconfig:"HOST" default:"127.0.0.1" toml:"host"`
	Port            int           `envconfig:"PORT" default:"0" toml:"port"`
	StopGrace       time.Duration `envconfig:"STOP_GRACE" default:"100ms" toml:"stop_grace"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"30s" toml:"read_timeout"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"2m" toml:"write_timeout"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s" toml:"shutdown_timeout"`
}

// PathsConfig holds the data root. Empty means the per-user default.
type PathsConfig struct {
	RootDir string `envconfig:"ROOT_DIR" toml:"root_dir"`
}

// NetworkConfig holds the outbound client policy shared by every source.
type NetworkConfig struct {
	UserAgent      string        `envconfig:"USER_AGENT" toml:"user_agent"`
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s" toml:"connect_timeout"`
	CallTimeout    time.Duration `envconfig:"CALL_TIMEOUT" default:"2m" toml:"call_timeout"`
	RetryMax       int           `envconfig:"RETRY_MAX" default:"2" toml:"retry_max"`
	RetryWaitMin   time.Duration `envconfig:"RETRY_WAIT_MIN" default:"500ms" toml:"retry_wait_min"`
	RetryWaitMax   time.Duration `envconfig:"RETRY_WAIT_MAX" default:"5s" toml:"retry_wait_max"`
	// RequestsPerSecond caps each source's outbound rate; 0 is unlimited.
	RequestsPerSecond float64 `envconfig:"NETWORK_RPS" default:"0" toml:"requests_per_second"`
	// CacheSize bounds the outbound response cache in bytes; 0 disables it.
	CacheSize int64 `envconfig:"NETWORK_CACHE_SIZE" default:"5242880" toml:"cache_size"`
}

// SandboxConfig holds per-bundle runtime limits.
type SandboxConfig struct {
	// Timeout interrupts a running call; 0 disables interruption.
	Timeout      time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"0" toml:"timeout"`
	MaxCallStack int           `envconfig:"SANDBOX_MAX_CALL_STACK" default:"1024" toml:"max_call_stack"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" toml:"development"`
}

// RateLimitConfig holds inbound rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"false" toml:"enabled"`
}

// CORSConfig lists the browser origins allowed to call the host. Empty
// admits every origin.
type CORSConfig struct {
	AllowOrigins []string `envconfig:"CORS_ALLOW_ORIGINS" toml:"allow_origins"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            0,
			StopGrace:       100 * time.Millisecond,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 5 * time.Second,
		},
		Network: NetworkConfig{
			ConnectTimeout: 30 * time.Second,
			CallTimeout:    2 * time.Minute,
			RetryMax:       2,
			RetryWaitMin:   500 * time.Millisecond,
			RetryWaitMax:   5 * time.Second,
			CacheSize:      5 << 20,
		},
		Sandbox: SandboxConfig{
			MaxCallStack: 1024,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           false,
		},
	}
}
