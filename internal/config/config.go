// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix, e.g. STUDIO_LISTEN_ADDR.
const Prefix = "STUDIO"

// Settings holds the service configuration.
type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":3010"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:".data/processes.db"`

	// AllowedOrigins restricts websocket upgrades by Origin header; empty
	// allows any origin.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	// Terminal session settings
	ShellPath         string        `envconfig:"SHELL_PATH" default:"bash"`
	TerminalRows      uint16        `envconfig:"TERMINAL_ROWS" default:"30"`
	TerminalCols      uint16        `envconfig:"TERMINAL_COLS" default:"80"`
	SessionTimeout    time.Duration `envconfig:"SESSION_TIMEOUT" default:"30m"`
	ReapInterval      time.Duration `envconfig:"REAP_INTERVAL" default:"5m"`
	OutputBufferBytes int           `envconfig:"OUTPUT_BUFFER_BYTES" default:"65536"`
	RecordingDir      string        `envconfig:"RECORDING_DIR" default:""`

	// Detached process settings
	SweepInterval          time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	DetachedDefaultTimeout time.Duration `envconfig:"DETACHED_DEFAULT_TIMEOUT" default:"30m"`
	DetachedMessageLimit   int           `envconfig:"DETACHED_MESSAGE_LIMIT" default:"1000"`
	AdvertiseHost          string        `envconfig:"ADVERTISE_HOST" default:""`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads Settings from the environment and validates them.
func Load() (*Settings, error) {
	var s Settings
	if err := envconfig.Process(Prefix, &s); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	if s.TerminalRows == 0 || s.TerminalCols == 0 {
		return fmt.Errorf("invalid terminal size %dx%d", s.TerminalCols, s.TerminalRows)
	}
	for name, d := range map[string]time.Duration{
		"SESSION_TIMEOUT":          s.SessionTimeout,
		"REAP_INTERVAL":            s.ReapInterval,
		"SWEEP_INTERVAL":           s.SweepInterval,
		"DETACHED_DEFAULT_TIMEOUT": s.DetachedDefaultTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s_%s must be positive, got %s", Prefix, name, d)
		}
	}
	if s.OutputBufferBytes <= 0 {
		return fmt.Errorf("%s_OUTPUT_BUFFER_BYTES must be positive, got %d", Prefix, s.OutputBufferBytes)
	}
	if s.DetachedMessageLimit <= 0 {
		return fmt.Errorf("%s_DETACHED_MESSAGE_LIMIT must be positive, got %d", Prefix, s.DetachedMessageLimit)
	}
	return nil
}
