package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// duration decodes TOML strings such as "250ms".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// fileConfig mirrors Config for server.toml. Pointers tell an absent key from
// a zero value.
type fileConfig struct {
	Server    *fileServer    `toml:"server"`
	Paths     *filePaths     `toml:"paths"`
	Network   *fileNetwork   `toml:"network"`
	Sandbox   *fileSandbox   `toml:"sandbox"`
	Logging   *fileLogging   `toml:"logging"`
	RateLimit *fileRateLimit `toml:"rate_limit"`
	CORS      *fileCORS      `toml:"cors"`
}

type fileServer struct {
	Host            *string   `toml:"host"`
	Port            *int      `toml:"port"`
	StopGrace       *duration `toml:"stop_grace"`
	ReadTimeout     *duration `toml:"read_timeout"`
	WriteTimeout    *duration `toml:"write_timeout"`
	ShutdownTimeout *duration `toml:"shutdown_timeout"`
}

type filePaths struct {
	RootDir *string `toml:"root_dir"`
}

type fileNetwork struct {
	UserAgent         *string   `toml:"user_agent"`
	ConnectTimeout    *duration `toml:"connect_timeout"`
	CallTimeout       *duration `toml:"call_timeout"`
	RetryMax          *int      `toml:"retry_max"`
	RetryWaitMin      *duration `toml:"retry_wait_min"`
	RetryWaitMax      *duration `toml:"retry_wait_max"`
	RequestsPerSecond *float64  `toml:"requests_per_second"`
	CacheSize         *int64    `toml:"cache_size"`
}

type fileSandbox struct {
	Timeout      *duration `toml:"timeout"`
	MaxCallStack *int      `toml:"max_call_stack"`
}

type fileLogging struct {
	Level       *string `toml:"level"`
	Development *bool   `toml:"development"`
}

type fileRateLimit struct {
	RequestsPerSecond *int  `toml:"requests_per_second"`
	Burst             *int  `toml:"burst"`
	Enabled           *bool `toml:"enabled"`
}

type fileCORS struct {
	AllowOrigins *[]string `toml:"allow_origins"`
}

// LoadFile overlays the TOML file at path onto cfg. Keys absent from the file
// keep their current values. A missing file is not an error.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f fileConfig
	if err := toml.NewDecoder(bytes.NewReader(data)).Decode(&f); err != nil {
		var de *toml.DecodeError
		if errors.As(err, &de) {
			row, col := de.Position()
			return fmt.Errorf("parse config file %s:%d:%d: %w", path, row, col, err)
		}
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	f.apply(cfg)
	return nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *duration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}

func (f *fileConfig) apply(cfg *Config) {
	if s := f.Server; s != nil {
		set(&cfg.Server.Host, s.Host)
		set(&cfg.Server.Port, s.Port)
		setDuration(&cfg.Server.StopGrace, s.StopGrace)
		setDuration(&cfg.Server.ReadTimeout, s.ReadTimeout)
		setDuration(&cfg.Server.WriteTimeout, s.WriteTimeout)
		setDuration(&cfg.Server.ShutdownTimeout, s.ShutdownTimeout)
	}
	if p := f.Paths; p != nil {
		set(&cfg.Paths.RootDir, p.RootDir)
	}
	if n := f.Network; n != nil {
		set(&cfg.Network.UserAgent, n.UserAgent)
		setDuration(&cfg.Network.ConnectTimeout, n.ConnectTimeout)
		setDuration(&cfg.Network.CallTimeout, n.CallTimeout)
		set(&cfg.Network.RetryMax, n.RetryMax)
		setDuration(&cfg.Network.RetryWaitMin, n.RetryWaitMin)
		setDuration(&cfg.Network.RetryWaitMax, n.RetryWaitMax)
		set(&cfg.Network.RequestsPerSecond, n.RequestsPerSecond)
		set(&cfg.Network.CacheSize, n.CacheSize)
	}
	if s := f.Sandbox; s != nil {
		setDuration(&cfg.Sandbox.Timeout, s.Timeout)
		set(&cfg.Sandbox.MaxCallStack, s.MaxCallStack)
	}
	if l := f.Logging; l != nil {
		set(&cfg.Logging.Level, l.Level)
		set(&cfg.Logging.Development, l.Development)
	}
	if r := f.RateLimit; r != nil {
		set(&cfg.RateLimit.RequestsPerSecond, r.RequestsPerSecond)
		set(&cfg.RateLimit.Burst, r.Burst)
		set(&cfg.RateLimit.Enabled, r.Enabled)
	}
	if c := f.CORS; c != nil {
		set(&cfg.CORS.AllowOrigins, c.AllowOrigins)
	}
}
