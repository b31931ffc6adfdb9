// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package envfile reads and writes the stack's flat key=value
// configuration files (.env format: `#` comments ignored, values may be
// quoted).
package envfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// Read parses the env file at path into a key/value map.
//
// # Description
//
// A missing file is not an error; it returns an empty map so callers
// can treat an absent configuration as "no values set".
func Read(path string) (map[string]string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]string{}, nil
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return values, nil
}

// Parse parses env file content from a string.
func Parse(content string) (map[string]string, error) {
	values, err := godotenv.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse env content: %w", err)
	}
	return values, nil
}

// Write serializes values to path atomically.
//
// # Description
//
// Marshals the map in sorted-key order (so rewrites are diffable),
// writes to a temporary file in the same directory, and renames it over
// the destination. Rename-on-write keeps concurrent readers from ever
// observing a half-written file.
func Write(path string, values map[string]string) error {
	content, err := godotenv.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to marshal env values: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".env-*")
	if err != nil {
		return fmt.Errorf("failed to create temp env file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(content + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write env file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close env file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// Diff compares two flattened configurations. Each slice is sorted so
// output is stable across runs.
//
// # Outputs
//
//   - added: keys present in b but not a
//   - removed: keys present in a but not b
//   - changed: keys present in both with different values
func Diff(a, b map[string]string) (added, removed, changed []string) {
	for key := range b {
		if _, ok := a[key]; !ok {
			added = append(added, key)
		}
	}
	for key, oldVal := range a {
		newVal, ok := b[key]
		if !ok {
			removed = append(removed, key)
			continue
		}
		if oldVal != newVal {
			changed = append(changed, key)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(changed)
	return added, removed, changed
}
