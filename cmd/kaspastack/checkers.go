// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kaspastack/kaspastack/cmd/kaspastack/internal/envfile"
	"github.com/kaspastack/kaspastack/cmd/kaspastack/internal/infra/process"
)

// =============================================================================
// Default Status Checkers
// =============================================================================

// DefaultCheckers returns the per-type status checkers backed by the
// docker CLI.
func DefaultCheckers(proc process.Manager) map[TaskType]StatusChecker {
	return map[TaskType]StatusChecker{
		TaskNodeSync:          &NodeSyncChecker{Proc: proc},
		TaskIndexerSync:       &IndexerSyncChecker{Proc: proc},
		TaskDatabaseMigration: &MigrationChecker{Proc: proc},
	}
}

// ibdProgressRegex matches the node's header/block processing lines,
// e.g. "IBD: Processed 1234567 block headers (42.7%)".
var ibdProgressRegex = regexp.MustCompile(`\((\d+(?:\.\d+)?)%\)`)

// nodeSyncedMarkers end node IBD; any of these in recent output means
// the node is at the network tip.
var nodeSyncedMarkers = []string{
	"ibd finished",
	"accepted block",
	"node is synced",
}

// NodeSyncChecker reads a node container's recent log output to track
// initial block download.
//
// # Description
//
// The node does not expose sync progress over a plain HTTP surface, so
// the checker tails the container log and parses the IBD progress lines
// the node emits. A stopped container is reported as an error rather
// than zero progress.
type NodeSyncChecker struct {
	Proc process.Manager

	// TailLines limits how much log is scanned per poll. Default 200.
	TailLines int
}

// Check implements StatusChecker.
func (c *NodeSyncChecker) Check(ctx context.Context, service string) (CheckStatus, error) {
	if err := requireRunning(ctx, c.Proc, service); err != nil {
		return CheckStatus{}, err
	}

	tail := c.TailLines
	if tail <= 0 {
		tail = 200
	}
	out, err := c.Proc.Run(ctx, "docker", "logs", "--tail", strconv.Itoa(tail), service)
	if err != nil {
		return CheckStatus{}, fmt.Errorf("failed to read %s logs: %w", service, err)
	}

	lines := strings.Split(string(out), "\n")
	// Scan newest-first so the latest progress line wins.
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.ToLower(lines[i])
		for _, marker := range nodeSyncedMarkers {
			if strings.Contains(line, marker) {
				return CheckStatus{Completed: true, Progress: 100}, nil
			}
		}
		if m := ibdProgressRegex.FindStringSubmatch(line); m != nil {
			pct, convErr := strconv.ParseFloat(m[1], 64)
			if convErr != nil {
				continue
			}
			return CheckStatus{
				Progress: pct,
				Metadata: map[string]string{"phase": "ibd"},
			}, nil
		}
	}

	// No progress markers yet: the node is starting up or waiting for
	// peers. Report zero progress, not an error.
	return CheckStatus{Progress: 0, Metadata: map[string]string{"phase": "connecting"}}, nil
}

// indexerProgressRegex matches the indexer's rollup lines, e.g.
// "rollup progress 87.3% (daa 12345678/14100000)".
var indexerProgressRegex = regexp.MustCompile(`rollup progress (\d+(?:\.\d+)?)%`)

// IndexerSyncChecker tracks the token indexer's rollup against the
// node's DAA score.
type IndexerSyncChecker struct {
	Proc process.Manager

	// TailLines limits how much log is scanned per poll. Default 100.
	TailLines int
}

// Check implements StatusChecker.
func (c *IndexerSyncChecker) Check(ctx context.Context, service string) (CheckStatus, error) {
	if err := requireRunning(ctx, c.Proc, service); err != nil {
		return CheckStatus{}, err
	}

	tail := c.TailLines
	if tail <= 0 {
		tail = 100
	}
	out, err := c.Proc.Run(ctx, "docker", "logs", "--tail", strconv.Itoa(tail), service)
	if err != nil {
		return CheckStatus{}, fmt.Errorf("failed to read %s logs: %w", service, err)
	}

	lines := strings.Split(string(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.ToLower(lines[i])
		if strings.Contains(line, "rollup synced") {
			return CheckStatus{Completed: true, Progress: 100}, nil
		}
		if m := indexerProgressRegex.FindStringSubmatch(line); m != nil {
			pct, convErr := strconv.ParseFloat(m[1], 64)
			if convErr != nil {
				continue
			}
			return CheckStatus{Progress: pct}, nil
		}
	}

	return CheckStatus{Progress: 0}, nil
}

// MigrationChecker watches a one-shot migration container.
//
// # Description
//
// Schema migrations run as a container that exits when done. The
// checker inspects container state: running means in progress, exit 0
// means complete, and a non-zero exit is an error carrying the code.
type MigrationChecker struct {
	Proc process.Manager
}

// Check implements StatusChecker.
func (c *MigrationChecker) Check(ctx context.Context, service string) (CheckStatus, error) {
	out, err := c.Proc.Run(ctx, "docker", "inspect",
		"--format", "{{.State.Status}} {{.State.ExitCode}}", service)
	if err != nil {
		return CheckStatus{}, fmt.Errorf("failed to inspect %s: %w", service, err)
	}

	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) != 2 {
		return CheckStatus{}, fmt.Errorf("unexpected inspect output for %s: %q", service, string(out))
	}
	state, codeStr := fields[0], fields[1]

	switch state {
	case "running", "created", "restarting":
		return CheckStatus{Progress: 50, Metadata: map[string]string{"state": state}}, nil
	case "exited", "dead":
		if codeStr == "0" {
			return CheckStatus{Completed: true, Progress: 100}, nil
		}
		return CheckStatus{}, fmt.Errorf("migration container %s exited with code %s", service, codeStr)
	default:
		return CheckStatus{}, fmt.Errorf("migration container %s in unexpected state %q", service, state)
	}
}

// requireRunning errors unless the named container is running.
func requireRunning(ctx context.Context, proc process.Manager, service string) error {
	out, err := proc.Run(ctx, "docker", "inspect", "--format", "{{.State.Status}}", service)
	if err != nil {
		return fmt.Errorf("container %s not found: %w", service, err)
	}
	if state := strings.TrimSpace(string(out)); state != "running" {
		return fmt.Errorf("container %s is %s, not running", service, state)
	}
	return nil
}

// =============================================================================
// Auto-Switch
// =============================================================================

// localEndpointOverrides maps a synced service to the configuration
// rewrites that point dependents at it instead of a public endpoint.
var localEndpointOverrides = map[string]map[string]string{
	"kaspa-node": {
		"KASPA_NODE_RPC_URL": "grpc://kaspa-node:16110",
		"KASPA_NODE_REMOTE":  "false",
	},
	"archive-node": {
		"KASPA_NODE_RPC_URL": "grpc://archive-node:16110",
		"KASPA_NODE_REMOTE":  "false",
	},
}

// EnvAutoSwitcher rewrites the stack's .env so dependent services use
// the freshly synced local resource.
//
// # Thread Safety
//
// Safe for concurrent use; the env file write is atomic.
type EnvAutoSwitcher struct {
	// StackDir holds the .env file to rewrite.
	StackDir string
}

// SwitchToLocal implements AutoSwitcher.
//
// # Outputs
//
//   - string: human-readable summary of the keys changed
//   - error: if the env file cannot be read or rewritten
func (s *EnvAutoSwitcher) SwitchToLocal(service string) (string, error) {
	overrides, ok := localEndpointOverrides[service]
	if !ok {
		return "", fmt.Errorf("no local endpoint mapping for service %q", service)
	}

	envPath := filepath.Join(s.StackDir, ".env")
	values, err := envfile.Read(envPath)
	if err != nil {
		return "", err
	}

	var changed []string
	for key, value := range overrides {
		if values[key] == value {
			continue
		}
		values[key] = value
		changed = append(changed, key)
	}
	if len(changed) == 0 {
		return fmt.Sprintf("%s endpoints already local", service), nil
	}

	if err := envfile.Write(envPath, values); err != nil {
		return "", err
	}
	sort.Strings(changed)
	return fmt.Sprintf("switched %s to local endpoints (%s)", service, strings.Join(changed, ", ")), nil
}

var _ AutoSwitcher = (*EnvAutoSwitcher)(nil)
