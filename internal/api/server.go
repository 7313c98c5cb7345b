// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

// Package api is the HTTP surface: tracker uploads, the OwnTracks
// adapter, public event/course reads, the live WebSocket stream, and the
// password-guarded admin and manager routes.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/tomtom215/sailtrack/internal/event"
	"github.com/tomtom215/sailtrack/internal/ingest"
	"github.com/tomtom215/sailtrack/internal/metrics"
	"github.com/tomtom215/sailtrack/internal/middleware"
	"github.com/tomtom215/sailtrack/internal/track"
	"github.com/tomtom215/sailtrack/internal/websocket"
)

// Auth headers. Sent by the admin pages and the event manager UI; the
// CORS policy must allow them explicitly.
const (
	AdminPasswordHeader   = "X-Admin-Password"
	ManagerPasswordHeader = "X-Manager-Password"
)

const requestTimeout = 10 * time.Second

// Server wires the HTTP routes to the domain components.
type Server struct {
	registry   *event.Registry
	store      *track.Store
	dispatcher *ingest.Dispatcher
	hub        *websocket.Hub
	metrics    *metrics.Metrics
	staticDir  string

	// owntracksEID is the default event for OwnTracks uploads without an
	// eid parameter. Zero means no default.
	owntracksEID int
}

// New creates the API server. hub may be nil to disable the live stream.
func New(registry *event.Registry, store *track.Store, dispatcher *ingest.Dispatcher,
	hub *websocket.Hub, m *metrics.Metrics, staticDir string, owntracksEID int,
) *Server {
	return &Server{
		registry:     registry,
		store:        store,
		dispatcher:   dispatcher,
		hub:          hub,
		metrics:      m,
		staticDir:    staticDir,
		owntracksEID: owntracksEID,
	}
}

// Router assembles the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	if s.metrics != nil {
		r.Use(middleware.Prometheus(s.metrics))
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", AdminPasswordHeader, ManagerPasswordHeader, middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	// tracker uploads
	r.Post("/api/tracker", s.handleTracker)
	r.Post("/api/position", s.handleTracker)
	r.Post("/api/owntracks", s.handleOwnTracks)

	// public reads
	r.Get("/api/events", s.handlePublicEvents)
	r.Get("/api/course", s.handleCourseGet)
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	if s.hub != nil {
		r.Get("/api/live", s.handleLive)
	}

	// admin, per-event password
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(60, time.Minute))
		r.Get("/api/auth/check", s.requireAdmin(s.handleAuthCheck))
		r.Get("/api/users", s.requireAdmin(s.handleUsersGet))
		r.Post("/api/admin/clear-tracks", s.requireAdminWrite(s.handleClearTracks))
		r.Post("/api/admin/course", s.requireAdminWrite(s.handleCourseSet))
		r.Delete("/api/admin/course", s.requireAdminWrite(s.handleCourseDelete))
		r.Post("/api/admin/user/{id}", s.requireAdminWrite(s.handleUserSet))
		r.Delete("/api/admin/user/{id}", s.requireAdminWrite(s.handleUserDelete))
	})

	// event management, global password
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(30, time.Minute))
		r.Get("/api/manager/events", s.requireManager(s.handleManagerList))
		r.Post("/api/manager/events", s.requireManager(s.handleManagerCreate))
		r.Put("/api/manager/events/{eid}", s.requireManager(s.handleManagerUpdate))
		r.Delete("/api/manager/events/{eid}", s.requireManager(s.handleManagerDelete))
	})

	// the data tree: snapshots, courses and the map front-end assets
	if s.staticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.staticDir)))
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// eidFromRequest resolves the eid query parameter. Single-event mode
// ignores it and always uses the implicit event.
func (s *Server) eidFromRequest(r *http.Request) (int, bool) {
	if !s.registry.Multi() {
		return event.SingleEID, true
	}
	raw := r.URL.Query().Get("eid")
	if raw == "" {
		return 0, false
	}
	eid, err := strconv.Atoi(raw)
	if err != nil || eid <= 0 {
		return 0, false
	}
	return eid, true
}
