// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

// Package supervisor builds the suture supervision tree for all
// long-lived services. Layers restart independently: a crashing ingest
// path never takes the HTTP API down with it.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/tomtom215/sailtrack/internal/logging"
)

// Tree is the root supervisor with named layers beneath it.
type Tree struct {
	root   *suture.Supervisor
	layers map[string]*suture.Supervisor
}

// New builds the root supervisor. Supervisor events are logged through
// the global logger via the slog bridge.
func New() *Tree {
	return &Tree{
		root:   newSupervisor("root"),
		layers: make(map[string]*suture.Supervisor),
	}
}

func newSupervisor(name string) *suture.Supervisor {
	return suture.New(name, suture.Spec{
		EventHook:        (&sutureslog.Handler{Logger: logging.NewSlogLogger()}).MustHook(),
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
	})
}

// Layer returns the named layer supervisor, creating and attaching it on
// first use.
func (t *Tree) Layer(name string) *suture.Supervisor {
	if sup, ok := t.layers[name]; ok {
		return sup
	}
	sup := newSupervisor(name)
	t.root.Add(sup)
	t.layers[name] = sup
	return sup
}

// Add attaches a service to the named layer.
func (t *Tree) Add(layer string, svc suture.Service) {
	t.Layer(layer).Add(svc)
}

// Serve runs the tree until ctx is cancelled or a supervisor gives up.
func (t *Tree) Serve(ctx context.Context) error {
	logging.Info().Int("layers", len(t.layers)).Msg("supervision tree starting")
	if err := t.root.Serve(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("supervision tree: %w", err)
	}
	return nil
}
