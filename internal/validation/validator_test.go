// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name string `validate:"required,max=32"`
	Port int    `validate:"min=1,max=65535"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name    string
		in      sample
		wantErr bool
	}{
		{"valid", sample{Name: "regatta", Port: 41234}, false},
		{"missing name", sample{Port: 41234}, true},
		{"port out of range", sample{Name: "regatta", Port: 70000}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "validation failed")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVar(t *testing.T) {
	assert.NoError(t, Var("UTC", "required"))
	assert.Error(t, Var("", "required"))
}

func TestGetReturnsSameInstance(t *testing.T) {
	assert.Same(t, Get(), Get())
}
