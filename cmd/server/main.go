// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

// Command server is the Sailtrack tracking server: UDP and HTTP packet
// ingest, per-event position state with atomic snapshots and daily track
// logs, and the admin/manager HTTP API.
//
// Exit codes: 0 clean shutdown, 1 runtime failure (unreadable event
// registry, supervision tree gave up), 2 usage error.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/tomtom215/sailtrack/internal/api"
	"github.com/tomtom215/sailtrack/internal/config"
	"github.com/tomtom215/sailtrack/internal/event"
	"github.com/tomtom215/sailtrack/internal/ingest"
	"github.com/tomtom215/sailtrack/internal/logging"
	"github.com/tomtom215/sailtrack/internal/metrics"
	"github.com/tomtom215/sailtrack/internal/supervisor"
	"github.com/tomtom215/sailtrack/internal/supervisor/services"
	"github.com/tomtom215/sailtrack/internal/track"
	"github.com/tomtom215/sailtrack/internal/websocket"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)

	settingsPath := fs.String("settings", "settings.json", "settings file (JSON), skipped when absent")
	port := fs.Int("port", 0, "UDP ingest port, shared with HTTP unless --http-port is set")
	httpPort := fs.Int("http-port", 0, "separate HTTP port")
	noHTTP := fs.Bool("no-http", false, "disable the HTTP listener")
	staticDir := fs.String("static-dir", "", "web data directory")
	eventsFile := fs.String("events-file", "", "event registry file, enables multi-event mode")
	logDir := fs.String("log-dir", "", "track log directory override")
	adminPassword := fs.String("admin-password", "", "admin password")
	managerPassword := fs.String("manager-password", "", "event manager password")
	trackerPassword := fs.String("tracker-password", "", "tracker upload password (single-event mode)")
	owntracksPassword := fs.String("owntracks-password", "", "OwnTracks password (single-event mode)")
	owntracksEID := fs.Int("owntracks-eid", 0, "default event for OwnTracks uploads without an eid")
	noTrackLogs := fs.Bool("no-track-logs", false, "disable daily track logs")
	noCurrent := fs.Bool("no-current", false, "disable the current-positions snapshot")
	logSync := fs.Bool("log-sync", false, "fsync every track log append")
	workers := fs.Int("workers", 0, "ingest worker pool size")
	logLevel := fs.String("log-level", "", "log level")
	logFormat := fs.String("log-format", "", "log format: json or console")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}

	cfg, err := config.Load(*settingsPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	// explicitly set flags override file and environment
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "http-port":
			cfg.HTTPPort = *httpPort
		case "no-http":
			cfg.NoHTTP = *noHTTP
		case "static-dir":
			cfg.StaticDir = *staticDir
		case "events-file":
			cfg.EventsFile = *eventsFile
		case "log-dir":
			cfg.LogDir = *logDir
		case "admin-password":
			cfg.AdminPassword = *adminPassword
		case "manager-password":
			cfg.ManagerPassword = *managerPassword
		case "tracker-password":
			cfg.TrackerPassword = *trackerPassword
		case "owntracks-password":
			cfg.OwnTracksPassword = *owntracksPassword
		case "owntracks-eid":
			cfg.OwnTracksEID = *owntracksEID
		case "no-track-logs":
			cfg.NoTrackLogs = *noTrackLogs
		case "no-current":
			cfg.NoCurrent = *noCurrent
		case "log-sync":
			cfg.LogSync = *logSync
		case "workers":
			cfg.Workers = *workers
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "log-format":
			cfg.Logging.Format = *logFormat
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Int("port", cfg.Port).
		Bool("multi_event", cfg.EventsFile != "").
		Msg("sailtrack server starting")

	registry, err := event.Load(event.Options{
		Path:              cfg.EventsFile,
		ManagerPassword:   cfg.ManagerPassword,
		AdminPassword:     cfg.AdminPassword,
		TrackerPassword:   cfg.TrackerPassword,
		OwnTracksPassword: cfg.OwnTracksPassword,
		AssistEnabled:     true,
	})
	if err != nil {
		logging.Err(err).Msg("event registry load failed")
		return 1
	}

	m := metrics.New()

	store := track.NewStore(registry, track.StoreOptions{
		StaticDir:  cfg.StaticDir,
		LogDir:     cfg.LogDir,
		NoLogs:     cfg.NoTrackLogs,
		NoSnapshot: cfg.NoCurrent,
		LogSync:    cfg.LogSync,
		Metrics:    m,
	})
	store.WarmStart()

	dispatcher := ingest.NewDispatcher(registry, store, m, cfg.Workers)
	limiter := ingest.NewSourceLimiter(m)
	udp := ingest.NewUDPListener(":"+strconv.Itoa(cfg.Port), dispatcher, limiter)

	var hub *websocket.Hub
	if !cfg.NoHTTP {
		hub = websocket.NewHub(m)
	}

	tree := supervisor.New()
	tree.Add("ingest", dispatcher)
	tree.Add("ingest", udp)
	tree.Add("state", services.NewCoalescer(store, hub))
	tree.Add("state", services.NewMaintenance(store))

	if !cfg.NoHTTP {
		tree.Add("api", hub)
		server := api.New(registry, store, dispatcher, hub, m, cfg.StaticDir, cfg.OwnTracksEID)
		tree.Add("api", services.NewHTTPService(httpAddr(&cfg), server.Router()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil {
		logging.Err(err).Msg("supervision tree failed")
		store.Close() //nolint:errcheck,gosec
		return 1
	}

	// final flush: drain logs and write snapshots before exit
	if err := store.Close(); err != nil {
		logging.Err(err).Msg("position store close failed")
		return 1
	}
	logging.Info().Msg("shutdown complete")
	return 0
}

func httpAddr(cfg *config.Config) string {
	port := cfg.Port
	if cfg.HTTPPort != 0 {
		port = cfg.HTTPPort
	}
	return ":" + strconv.Itoa(port)
}
