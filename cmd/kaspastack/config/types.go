// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
)

// AppConfig is the tool-level configuration stored in
// ~/.kaspastack/kaspastack.yaml. It configures the installer itself,
// not the stack services (those live in the stack's .env file).
type AppConfig struct {
	// Stack: where the compose project lives
	Stack StackConfig `yaml:"stack"`

	// State: wizard state, version snapshots, sync task records
	State StateConfig `yaml:"state"`

	// Logging: installer log output
	Logging LoggingConfig `yaml:"logging"`

	// Backups: configuration snapshot retention
	Backups BackupConfig `yaml:"backups"`

	// Monitor: background sync task polling
	Monitor MonitorConfig `yaml:"monitor"`
}

type StackConfig struct {
	Dir         string `yaml:"dir"`          // e.g. ~/.kaspastack/stack
	ComposeFile string `yaml:"compose_file"` // e.g. docker-compose.yml
	ProjectName string `yaml:"project_name"` // compose -p value
}

type StateConfig struct {
	Dir string `yaml:"dir"` // e.g. ~/.kaspastack/state
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Dir   string `yaml:"dir"`   // empty disables file logging
	JSON  bool   `yaml:"json"`
}

type BackupConfig struct {
	// MaxSnapshots bounds retained config snapshots; oldest are
	// evicted first when the limit is exceeded.
	MaxSnapshots int `yaml:"max_snapshots"`
}

type MonitorConfig struct {
	// PollIntervalSeconds between sync progress checks
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	// GracePeriodSeconds a finished task stays queryable in the
	// monitor before its record is evicted
	GracePeriodSeconds int `yaml:"grace_period_seconds"`

	// StaleTaskMaxAgeHours after which finished task records are swept
	StaleTaskMaxAgeHours int `yaml:"stale_task_max_age_hours"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() AppConfig {
	base := "~/.kaspastack"
	if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, ".kaspastack")
	}
	return AppConfig{
		Stack: StackConfig{
			Dir:         filepath.Join(base, "stack"),
			ComposeFile: "docker-compose.yml",
			ProjectName: "kaspastack",
		},
		State: StateConfig{
			Dir: filepath.Join(base, "state"),
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   filepath.Join(base, "logs"),
		},
		Backups: BackupConfig{
			MaxSnapshots: 10,
		},
		Monitor: MonitorConfig{
			PollIntervalSeconds:  10,
			GracePeriodSeconds:   15,
			StaleTaskMaxAgeHours: 24,
		},
	}
}
