// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

// Package config loads server configuration from layered sources:
// struct defaults, then an optional settings.json file, then SAILTRACK_*
// environment variables. CLI flags are applied on top by the caller, so
// the effective precedence is defaults < file < env < flags.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/sailtrack/internal/validation"
)

const envPrefix = "SAILTRACK_"

// Config is the complete server configuration.
type Config struct {
	// Port is the UDP ingest port; HTTP shares it unless HTTPPort is set.
	Port int `koanf:"port" validate:"min=1,max=65535"`

	// HTTPPort overrides the HTTP listen port. Zero means use Port.
	HTTPPort int `koanf:"http_port" validate:"min=0,max=65535"`

	// NoHTTP disables the HTTP listener entirely (UDP-only deployments).
	NoHTTP bool `koanf:"no_http"`

	// StaticDir is the root of the web data tree. Per-event state lives in
	// per-eid subdirectories beneath it.
	StaticDir string `koanf:"static_dir" validate:"required"`

	// EventsFile is the path of the event registry document. Empty runs
	// the server in single-event mode.
	EventsFile string `koanf:"events_file"`

	// LogDir overrides where daily track logs are written. Empty means
	// logs/ under each event's directory.
	LogDir string `koanf:"log_dir"`

	// AdminPassword is the single-event admin password; in multi-event mode
	// per-event passwords from the registry take precedence.
	AdminPassword string `koanf:"admin_password" validate:"max=64"`

	// ManagerPassword guards the event management API. Empty disables it.
	ManagerPassword string `koanf:"manager_password" validate:"max=64"`

	// TrackerPassword is the single-event tracker upload password.
	TrackerPassword string `koanf:"tracker_password" validate:"max=64"`

	// OwnTracksPassword is the single-event OwnTracks Basic auth password.
	OwnTracksPassword string `koanf:"owntracks_password" validate:"max=64"`

	// OwnTracksEID is the event OwnTracks uploads fall back to when the
	// request carries no eid. Only meaningful in multi-event mode.
	OwnTracksEID int `koanf:"owntracks_eid" validate:"min=0"`

	// NoTrackLogs disables daily JSONL track logging.
	NoTrackLogs bool `koanf:"no_track_logs"`

	// NoCurrent disables the current-positions snapshot file.
	NoCurrent bool `koanf:"no_current"`

	// LogSync fsyncs every track log append instead of buffered writes.
	LogSync bool `koanf:"log_sync"`

	// Workers sets the ingest worker pool size.
	Workers int `koanf:"workers" validate:"min=1,max=256"`

	// Logging configures the structured logger.
	Logging LoggingConfig `koanf:"logging"`
}

// LoggingConfig mirrors logging.Config for the koanf layer.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Port:      41234,
		StaticDir: "html",
		Workers:   8,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, then the settings file at
// path (skipped when empty or absent), then environment variables.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), json.Parser()); err != nil {
				return Config{}, fmt.Errorf("load settings file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("stat settings file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate checks the assembled configuration. Called after flag overrides
// are applied.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	if c.NoHTTP && c.HTTPPort != 0 {
		return fmt.Errorf("no_http and http_port are mutually exclusive")
	}
	if c.EventsFile != "" && c.ManagerPassword == "" {
		return fmt.Errorf("multi-event mode requires a manager password")
	}
	return nil
}

// envTransform maps SAILTRACK_LOGGING_LEVEL to logging.level and
// SAILTRACK_ADMIN_PASSWORD to admin_password. Single-segment keys stay
// flat; the first underscore after a known section splits the path.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	if rest, ok := strings.CutPrefix(s, "logging_"); ok {
		return "logging." + rest
	}
	return s
}
