// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

// Package atomicfile writes files so readers never observe a partial
// document: content goes to a temporary file in the target directory, is
// flushed, then renamed over the destination. On POSIX filesystems the
// rename is atomic, so a concurrent reader sees either the old document or
// the new one, never a truncated mix.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// MaxRotations bounds the .N suffix search so a pathological directory
// cannot loop forever.
const MaxRotations = 10000

// Write atomically replaces path with data. The temporary file is created
// in the same directory so the rename never crosses filesystems. The parent
// directory is fsynced best-effort so the rename survives a crash.
func Write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck,gosec
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}

	syncDir(dir)
	return nil
}

// WriteJSON marshals v and atomically writes it to path.
func WriteJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return Write(path, data)
}

// Rotate renames path to the first free "path.N" suffix (N starting at 1)
// and returns the new name. A missing file is not an error; the empty
// string is returned.
func Rotate(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	for n := 1; n <= MaxRotations; n++ {
		candidate := fmt.Sprintf("%s.%d", path, n)
		if _, err := os.Stat(candidate); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		if err := os.Rename(path, candidate); err != nil {
			return "", fmt.Errorf("rotate %s: %w", path, err)
		}
		syncDir(filepath.Dir(path))
		return candidate, nil
	}
	return "", fmt.Errorf("rotate %s: no free suffix under %d", path, MaxRotations)
}

// syncDir fsyncs a directory so a preceding rename is durable. Errors are
// ignored: some filesystems reject directory fsync and the rename itself
// already succeeded.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
