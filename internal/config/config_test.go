// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 41234, cfg.Port)
	assert.Equal(t, "html", cfg.StaticDir)
	assert.Empty(t, cfg.EventsFile, "single-event mode by default")
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.NoHTTP)
	require.NoError(t, cfg.Validate())
}

func TestFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"port": 5005,
		"manager_password": "fleet-secret",
		"logging": {"level": "debug"}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5005, cfg.Port)
	assert.Equal(t, "fleet-secret", cfg.ManagerPassword)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "html", cfg.StaticDir)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 5005}`), 0o644))

	t.Setenv("SAILTRACK_PORT", "6006")
	t.Setenv("SAILTRACK_ADMIN_PASSWORD", "hunter2")
	t.Setenv("SAILTRACK_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6006, cfg.Port)
	assert.Equal(t, "hunter2", cfg.AdminPassword)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestMissingFileIsSkipped(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, 41234, cfg.Port)
}

func TestMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settings file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(*Config) {}, false},
		{"zero port", func(c *Config) { c.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Port = 70000 }, true},
		{"zero workers", func(c *Config) { c.Workers = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"no_http with http_port", func(c *Config) { c.NoHTTP = true; c.HTTPPort = 8080 }, true},
		{"separate http port", func(c *Config) { c.HTTPPort = 8080 }, false},
		{"multi event without manager password", func(c *Config) { c.EventsFile = "events.json" }, true},
		{"multi event with manager password", func(c *Config) {
			c.EventsFile = "events.json"
			c.ManagerPassword = "fleet-secret"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
