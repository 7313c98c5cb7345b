// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

// Package services wraps the server's long-running components as suture
// services.
package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tomtom215/sailtrack/internal/logging"
)

const shutdownGrace = 5 * time.Second

// HTTPService runs an http.Server under supervision: ListenAndServe in
// the foreground, graceful Shutdown when the tree stops.
type HTTPService struct {
	addr    string
	handler http.Handler
}

// NewHTTPService creates the service.
func NewHTTPService(addr string, handler http.Handler) *HTTPService {
	return &HTTPService{addr: addr, handler: handler}
}

// Serve implements suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("HTTP server started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Err(err).Msg("HTTP shutdown did not finish cleanly")
			srv.Close() //nolint:errcheck,gosec
		}
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return ctx.Err()
		}
		return err
	}
}

func (s *HTTPService) String() string { return "http-server" }
