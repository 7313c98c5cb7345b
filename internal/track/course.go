// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package track

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sailtrack/internal/atomicfile"
)

// CourseFile is the per-event course document name.
const CourseFile = "course.json"

// Course stores the race course document. The content is opaque JSON set
// by the race committee; the server only injects updated timestamps and
// keeps replaced versions as rotated files.
type Course struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewCourse creates the course store for the document at path.
func NewCourse(path string) *Course {
	return &Course{path: path, now: time.Now}
}

// Get returns the course document bytes. ok is false when no course is
// set.
func (c *Course) Get() (data []byte, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, rerr := os.ReadFile(c.path)
	if rerr != nil {
		if os.IsNotExist(rerr) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read course: %w", rerr)
	}
	return data, true, nil
}

// Set validates raw as a JSON object, injects updated/updated_iso,
// rotates any previous version aside and writes the new document.
func (c *Course) Set(raw []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("course must be a JSON object: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	doc["updated"] = now.Unix()
	doc["updated_iso"] = now.UTC().Format(time.RFC3339)

	if _, err := atomicfile.Rotate(c.path); err != nil {
		return fmt.Errorf("rotate course: %w", err)
	}
	if err := atomicfile.WriteJSON(c.path, doc); err != nil {
		return fmt.Errorf("write course: %w", err)
	}
	return nil
}

// Delete rotates the current course aside. Deleting an absent course is
// not an error.
func (c *Course) Delete() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := atomicfile.Rotate(c.path); err != nil {
		return fmt.Errorf("rotate course: %w", err)
	}
	return nil
}
