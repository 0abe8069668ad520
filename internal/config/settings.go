package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable read by LoadServerSettings.
const EnvPrefix = "LOGPLOT"

const (
	DefaultListen = "127.0.0.1:3030"

	// MinReapIdle is the shortest idle time before a consumer is forgotten.
	MinReapIdle = 5 * time.Minute
)

var ErrInvalidSettings = errors.New("invalid settings")

// ServerSettings holds HTTP server configuration.
type ServerSettings struct {
	Listen      string   `envconfig:"LISTEN" default:"127.0.0.1:3030"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`

	// Embedded so its variables keep the bare LOGPLOT_ prefix.
	RateLimit
}

// RateLimit bounds how often one client may poll.
type RateLimit struct {
	RequestsPerSecond float64 `envconfig:"RATE_LIMIT_RPS" default:"20"`
	Burst             int     `envconfig:"RATE_LIMIT_BURST" default:"40"`
	Enabled           bool    `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// LoadServerSettings reads LOGPLOT_* environment variables.
func LoadServerSettings() (*ServerSettings, error) {
	var s ServerSettings
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// DefaultServerSettings mirrors the envconfig defaults.
func DefaultServerSettings() *ServerSettings {
	return &ServerSettings{
		Listen:      DefaultListen,
		CORSOrigins: []string{"*"},
		RateLimit: RateLimit{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
	}
}

// Validate rejects settings the server cannot run with.
func (s *ServerSettings) Validate() error {
	if s.Listen == "" {
		return fmt.Errorf("%w: empty listen address", ErrInvalidSettings)
	}
	if s.RateLimit.Enabled {
		if s.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("%w: rate limit rps must be positive", ErrInvalidSettings)
		}
		if s.RateLimit.Burst < 1 {
			return fmt.Errorf("%w: rate limit burst must be at least 1", ErrInvalidSettings)
		}
	}
	return nil
}

// RunConfig contains configuration for the run command.
type RunConfig struct {
	// Inputs
	LogPath    string
	ConfigPath string
	FromStart  bool

	// Retention window in seconds; zero or less keeps everything.
	MaxDuration float64

	// HTTP
	StaticDir string
	Server    *ServerSettings

	// Ingestion loop
	Backoff       time.Duration
	StatsInterval time.Duration
}

// Validate fills defaults and checks required inputs.
func (c *RunConfig) Validate() error {
	if c.LogPath == "" {
		return fmt.Errorf("%w: log file is required", ErrInvalidSettings)
	}
	if c.ConfigPath == "" {
		return fmt.Errorf("%w: config file is required", ErrInvalidSettings)
	}
	if c.Server == nil {
		c.Server = DefaultServerSettings()
	}
	if c.Backoff == 0 {
		c.Backoff = 50 * time.Millisecond
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = 5 * time.Second
	}
	return c.Server.Validate()
}

// ReapIdle is how long a consumer may stay silent before its cursor is
// dropped: the retention window, but never less than MinReapIdle. Unbounded
// retention never reaps, since a returning consumer would be sent the whole
// history again.
func (c *RunConfig) ReapIdle() time.Duration {
	if c.MaxDuration <= 0 {
		return 0
	}
	window := time.Duration(c.MaxDuration * float64(time.Second))
	if window < MinReapIdle {
		return MinReapIdle
	}
	return window
}
