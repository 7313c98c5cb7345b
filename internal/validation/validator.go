// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

// Package validation wraps go-playground/validator behind a process-wide
// singleton so every package validates structs the same way.
package validation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate
	once     sync.Once
)

// Get returns the shared validator instance.
func Get() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Struct validates a struct and returns a wrapped, readable error.
func Struct(v any) error {
	if err := Get().Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if ok := errorsAs(err, &verrs); ok {
			return fmt.Errorf("validation failed: %s", formatErrors(verrs))
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// Var validates a single variable against a tag expression.
func Var(v any, tag string) error {
	if err := Get().Var(v, tag); err != nil {
		return fmt.Errorf("validation failed for %q: %w", tag, err)
	}
	return nil
}

func formatErrors(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

func errorsAs(err error, target *validator.ValidationErrors) bool {
	v, ok := err.(validator.ValidationErrors) //nolint:errorlint // validator returns this type directly
	if ok {
		*target = v
	}
	return ok
}
