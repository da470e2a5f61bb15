package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var (
	ErrConfigNotFound = errors.New("configuration not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Duration is a time.Duration that reads and writes Go duration strings in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"60s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config holds every tunable of the relay.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// MaxIdle is how long a session may go without activity before the
	// sweeper tears it down.
	MaxIdle       Duration `json:"max_idle"`
	SweepInterval Duration `json:"sweep_interval"`

	MaxMessageSize int64 `json:"max_message_size"`
	SendBuffer     int   `json:"send_buffer"`

	// AllowedOrigins restricts websocket upgrades by Origin header. Empty
	// allows every origin.
	AllowedOrigins []string `json:"allowed_origins"`

	EnableMCP bool `json:"enable_mcp"`

	Ngrok NgrokConfig `json:"ngrok"`

	Debug bool `json:"debug"`
}

type NgrokConfig struct {
	Enabled   bool   `json:"enabled"`
	AuthToken string `json:"-"`
	Domain    string `json:"domain"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           8080,
		MaxIdle:        Duration(2 * time.Hour),
		SweepInterval:  Duration(60 * time.Second),
		MaxMessageSize: 4096,
		SendBuffer:     64,
		EnableMCP:      true,
	}
}

// Load returns the defaults overlaid with the JSON file at path. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks limits and returns ErrInvalidConfig naming the first bad field.
func (c *Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	case c.MaxIdle <= 0:
		return fmt.Errorf("%w: max_idle must be positive", ErrInvalidConfig)
	case c.SweepInterval <= 0:
		return fmt.Errorf("%w: sweep_interval must be positive", ErrInvalidConfig)
	case c.MaxMessageSize < 64:
		return fmt.Errorf("%w: max_message_size must be at least 64 bytes", ErrInvalidConfig)
	case c.SendBuffer < 1:
		return fmt.Errorf("%w: send_buffer must be at least 1", ErrInvalidConfig)
	}
	for _, o := range c.AllowedOrigins {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("%w: empty entry in allowed_origins", ErrInvalidConfig)
		}
	}
	return nil
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OriginAllowed reports whether a websocket upgrade from origin is accepted.
func (c *Config) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.EqualFold(strings.TrimRight(o, "/"), strings.TrimRight(origin, "/")) {
			return true
		}
	}
	return false
}
