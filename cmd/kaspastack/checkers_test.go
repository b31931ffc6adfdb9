// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kaspastack/kaspastack/cmd/kaspastack/internal/envfile"
	"github.com/kaspastack/kaspastack/cmd/kaspastack/internal/infra/process"
)

// dockerMock builds a MockManager that answers `docker inspect` with
// the given state and `docker logs` with the given output.
func dockerMock(state, logs string) *process.MockManager {
	return &process.MockManager{
		RunFunc: func(_ context.Context, _ string, args ...string) ([]byte, error) {
			switch args[0] {
			case "inspect":
				return []byte(state + "\n"), nil
			case "logs":
				return []byte(logs), nil
			}
			return nil, nil
		},
	}
}

// =============================================================================
// NodeSyncChecker
// =============================================================================

func TestNodeSyncChecker(t *testing.T) {
	tests := []struct {
		name          string
		logs          string
		wantCompleted bool
		wantProgress  float64
	}{
		{
			name:          "ibd progress line",
			logs:          "2026-08-31 INFO IBD: Processed 1234567 block headers (42.7%)\n",
			wantCompleted: false,
			wantProgress:  42.7,
		},
		{
			name: "latest progress line wins",
			logs: "IBD: Processed 100 block headers (10.0%)\n" +
				"IBD: Processed 200 block headers (20.0%)\n",
			wantCompleted: false,
			wantProgress:  20.0,
		},
		{
			name:          "ibd finished",
			logs:          "IBD: Processed 999 block headers (99.9%)\nIBD finished successfully\n",
			wantCompleted: true,
			wantProgress:  100,
		},
		{
			name:          "relay acceptance means synced",
			logs:          "Accepted block 4f2a... via relay\n",
			wantCompleted: true,
			wantProgress:  100,
		},
		{
			name:          "no markers yet",
			logs:          "Waiting for peers...\n",
			wantCompleted: false,
			wantProgress:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &NodeSyncChecker{Proc: dockerMock("running", tt.logs)}
			status, err := checker.Check(context.Background(), "kaspa-node")
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if status.Completed != tt.wantCompleted {
				t.Errorf("Completed = %v, want %v", status.Completed, tt.wantCompleted)
			}
			if status.Progress != tt.wantProgress {
				t.Errorf("Progress = %v, want %v", status.Progress, tt.wantProgress)
			}
		})
	}
}

func TestNodeSyncChecker_StoppedContainer(t *testing.T) {
	checker := &NodeSyncChecker{Proc: dockerMock("exited", "")}
	_, err := checker.Check(context.Background(), "kaspa-node")
	if err == nil {
		t.Fatal("expected error for a stopped container")
	}
	if !strings.Contains(err.Error(), "not running") {
		t.Errorf("error %q should name the container state", err)
	}
}

// =============================================================================
// IndexerSyncChecker
// =============================================================================

func TestIndexerSyncChecker(t *testing.T) {
	tests := []struct {
		name          string
		logs          string
		wantCompleted bool
		wantProgress  float64
	}{
		{
			name:         "rollup progress",
			logs:         "rollup progress 87.3% (daa 12345678/14100000)\n",
			wantProgress: 87.3,
		},
		{
			name:          "rollup synced",
			logs:          "rollup progress 99.9%\nrollup synced at daa 14100000\n",
			wantCompleted: true,
			wantProgress:  100,
		},
		{
			name:         "startup output only",
			logs:         "connecting to kasplex-db:5432\n",
			wantProgress: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &IndexerSyncChecker{Proc: dockerMock("running", tt.logs)}
			status, err := checker.Check(context.Background(), "kasplex-indexer")
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if status.Completed != tt.wantCompleted {
				t.Errorf("Completed = %v, want %v", status.Completed, tt.wantCompleted)
			}
			if status.Progress != tt.wantProgress {
				t.Errorf("Progress = %v, want %v", status.Progress, tt.wantProgress)
			}
		})
	}
}

// =============================================================================
// MigrationChecker
// =============================================================================

func TestMigrationChecker(t *testing.T) {
	tests := []struct {
		name          string
		inspect       string
		wantCompleted bool
		wantErr       bool
	}{
		{name: "running", inspect: "running 0"},
		{name: "exited cleanly", inspect: "exited 0", wantCompleted: true},
		{name: "exited with failure", inspect: "exited 1", wantErr: true},
		{name: "dead container", inspect: "dead 137", wantErr: true},
		{name: "unexpected state", inspect: "paused 0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &MigrationChecker{Proc: dockerMock(tt.inspect, "")}
			status, err := checker.Check(context.Background(), "kasplex-db-migrate")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if status.Completed != tt.wantCompleted {
				t.Errorf("Completed = %v, want %v", status.Completed, tt.wantCompleted)
			}
		})
	}
}

// =============================================================================
// EnvAutoSwitcher
// =============================================================================

func TestEnvAutoSwitcher_RewritesEndpoints(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	seed := map[string]string{
		"KASPA_NETWORK":      "mainnet",
		"KASPA_NODE_RPC_URL": "grpc://public.kaspa.example:16110",
		"KASPA_NODE_REMOTE":  "true",
	}
	if err := envfile.Write(envPath, seed); err != nil {
		t.Fatalf("seed env: %v", err)
	}

	switcher := &EnvAutoSwitcher{StackDir: dir}
	detail, err := switcher.SwitchToLocal("kaspa-node")
	if err != nil {
		t.Fatalf("SwitchToLocal: %v", err)
	}
	if !strings.Contains(detail, "KASPA_NODE_RPC_URL") {
		t.Errorf("detail %q should name the changed keys", detail)
	}

	values, err := envfile.Read(envPath)
	if err != nil {
		t.Fatalf("read env: %v", err)
	}
	if got := values["KASPA_NODE_RPC_URL"]; got != "grpc://kaspa-node:16110" {
		t.Errorf("KASPA_NODE_RPC_URL = %q", got)
	}
	if got := values["KASPA_NODE_REMOTE"]; got != "false" {
		t.Errorf("KASPA_NODE_REMOTE = %q", got)
	}
	// Unrelated keys survive the rewrite.
	if got := values["KASPA_NETWORK"]; got != "mainnet" {
		t.Errorf("KASPA_NETWORK = %q", got)
	}
}

func TestEnvAutoSwitcher_AlreadyLocal(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := envfile.Write(envPath, map[string]string{
		"KASPA_NODE_RPC_URL": "grpc://kaspa-node:16110",
		"KASPA_NODE_REMOTE":  "false",
	}); err != nil {
		t.Fatalf("seed env: %v", err)
	}
	before, _ := os.ReadFile(envPath)

	switcher := &EnvAutoSwitcher{StackDir: dir}
	detail, err := switcher.SwitchToLocal("kaspa-node")
	if err != nil {
		t.Fatalf("SwitchToLocal: %v", err)
	}
	if !strings.Contains(detail, "already local") {
		t.Errorf("detail = %q, want already-local notice", detail)
	}

	after, _ := os.ReadFile(envPath)
	if string(before) != string(after) {
		t.Error("env file rewritten without changes")
	}
}

func TestEnvAutoSwitcher_UnknownService(t *testing.T) {
	switcher := &EnvAutoSwitcher{StackDir: t.TempDir()}
	if _, err := switcher.SwitchToLocal("k-social"); err == nil {
		t.Fatal("expected error for service without endpoint mapping")
	}
}
