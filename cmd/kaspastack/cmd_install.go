// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kaspastack/kaspastack/cmd/kaspastack/internal/infra/process"
	"github.com/kaspastack/kaspastack/pkg/ux"
)

// mustApp builds the component graph or exits with a rendered error.
func mustApp() *app {
	a, err := newApp(configPath, logLevel)
	if err != nil {
		ux.Error(fmt.Sprintf("Startup failed: %v", err))
		os.Exit(1)
	}
	return a
}

// mustLock serializes mutating commands across CLI processes. Two
// invocations racing on the same stack, say an install in one terminal
// and a destroy in another, corrupt the wizard state and backup store
// mid-write; the loser exits with the holder's PID.
func mustLock(a *app) func() {
	lock := process.NewFileLock(process.LockConfig{
		LockDir:  a.cfg.State.Dir,
		LockName: "kaspastack",
	})
	if err := lock.Acquire(); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
	return func() {
		if err := lock.Release(); err != nil {
			a.logger.Warn("failed to release process lock", "error", err)
		}
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// parseSetFlags turns --set KEY=VALUE flags into a map.
func parseSetFlags(flags []string) (map[string]string, error) {
	values := make(map[string]string, len(flags))
	for _, flag := range flags {
		key, value, ok := strings.Cut(flag, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, expected KEY=VALUE", flag)
		}
		values[strings.TrimSpace(key)] = value
	}
	return values, nil
}

// renderValidation prints every issue and returns whether the
// configuration may proceed.
func renderValidation(result *ValidationResult) bool {
	for _, warn := range result.Warnings {
		prefix := ""
		if warn.PreventChange {
			prefix = "BLOCKING: "
		}
		ux.Warning(fmt.Sprintf("%s%s: %s", prefix, warn.Field, warn.Message))
	}
	for _, e := range result.Errors {
		ux.Error(fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return result.Valid
}

// =============================================================================
// install
// =============================================================================

func runInstall(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()
	unlock := mustLock(a)
	defer unlock()

	ctx, cancel := signalContext()
	defer cancel()

	overrides, err := parseSetFlags(setFlags)
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	resolved := a.catalog.Resolve(profileFlags)
	for _, warn := range resolved.Warnings {
		ux.Warning(warn.Message)
	}
	if !resolved.Valid() {
		for _, issue := range resolved.Errors {
			ux.Error(issue.Message)
		}
		os.Exit(1)
	}
	ux.Title(fmt.Sprintf("Installing profiles: %s", strings.Join(resolved.Normalized, ", ")))

	previous, err := a.loadStackEnv()
	if err != nil {
		ux.Error(fmt.Sprintf("Cannot read existing configuration: %v", err))
		os.Exit(1)
	}
	proposed := make(map[string]string, len(previous)+len(overrides))
	for k, v := range previous {
		proposed[k] = v
	}
	for k, v := range overrides {
		proposed[k] = v
	}

	validator := NewConfigValidator(a.catalog, a.cfg.Stack.Dir, a.logger)
	validation := validator.Validate(proposed, resolved.Normalized, previous)
	if !renderValidation(validation) {
		ux.Error("Configuration is not valid; nothing was changed.")
		os.Exit(1)
	}

	// Snapshot before touching anything so this install is undoable.
	if len(previous) > 0 {
		backupID, err := a.versions.Snapshot("pre-install", map[string]string{
			"profiles": strings.Join(resolved.Normalized, ","),
		})
		if err != nil {
			ux.Error(fmt.Sprintf("Pre-install backup failed: %v", err))
			os.Exit(1)
		}
		ux.Info(fmt.Sprintf("Configuration backed up as %s", backupID))
	}

	if err := a.writeStackEnv(validation.Migrated); err != nil {
		ux.Error(fmt.Sprintf("Failed to write configuration: %v", err))
		os.Exit(1)
	}
	if err := a.state.SetSelection(resolved.Normalized, validation.Migrated); err != nil {
		a.logger.Warn("selection not persisted", "error", err)
	}

	result := deployWithSpinner(ctx, a, resolved.Normalized)
	if result == nil {
		os.Exit(1)
	}

	for image, msg := range result.PullFailures {
		ux.Warning(fmt.Sprintf("Pull failed for %s: %s", image, msg))
	}
	for service, msg := range result.BuildFailures {
		ux.Warning(fmt.Sprintf("Build failed for %s: %s", service, msg))
	}

	if !result.Success {
		ux.Error(fmt.Sprintf("Deployment failed; services not running: %s",
			strings.Join(result.FailedServices, ", ")))
		ux.Info("Containers that did start are left running. Inspect with `kaspastack status` and `kaspastack logs`.")
		os.Exit(1)
	}

	total := len(result.Validation.Checks)
	ux.Summary(total, 0, total)

	if len(result.SyncTasks) == 0 {
		finishInstall(a)
		return
	}

	services := make([]string, 0, len(result.SyncTasks))
	for service := range result.SyncTasks {
		services = append(services, service)
	}
	ux.Info(fmt.Sprintf("Synchronization continues in the background for: %s", strings.Join(services, ", ")))

	if !waitSync {
		ux.Info("Run `kaspastack sync status` to check progress, or `kaspastack sync watch` to follow it.")
		return
	}
	// The mutating work is done; drop the lock before the watch so a
	// days-long sync does not block other invocations. Release is
	// idempotent, the deferred call becomes a no-op.
	unlock()
	if watchSyncTasks(ctx, a, result.SyncTasks) {
		finishInstall(a)
	} else {
		os.Exit(1)
	}
}

// deployWithSpinner runs the pipeline with a stage spinner. Returns nil
// after rendering a structural failure.
func deployWithSpinner(ctx context.Context, a *app, profiles []string) *DeployResult {
	deployer := NewDeployer(a.catalog, a.exec, a.state, a.metrics, a.logger, DeployerOptions{})
	spinner := ux.NewStageSpinner("Deploying", 4)
	spinner.Start()

	lastStage := ""
	result, err := deployer.Deploy(ctx, profiles, func(p DeployProgress) {
		if p.Stage != lastStage {
			lastStage = p.Stage
			spinner.Advance(stageLabel(p.Stage))
		}
		if p.Item != "" {
			spinner.UpdateMessage(fmt.Sprintf("%s (%d/%d)", p.Message, p.Current, p.Total))
		}
	})
	if err != nil {
		spinner.StopWithError("Deployment aborted")
		ux.Error(err.Error())
		var infraErr *InfraError
		if errors.As(err, &infraErr) {
			ux.Info("Suggestion: " + infraErr.Remediation())
		}
		return nil
	}
	if result.Success {
		spinner.StopWithSuccess("All services running")
	} else {
		spinner.StopWithError("Post-start verification failed")
	}
	return result
}

func stageLabel(stage string) string {
	switch stage {
	case StagePull:
		return "Pulling images"
	case StageBuild:
		return "Building services"
	case StageStart:
		return "Starting services"
	case StageValidate:
		return "Verifying services"
	default:
		return stage
	}
}

// watchSyncTasks registers and follows the deployment's sync tasks
// until all complete. Returns false on failure or interrupt.
func watchSyncTasks(ctx context.Context, a *app, tasks map[string]TaskType) bool {
	monitor := a.newMonitor()

	pending := make(map[string]string, len(tasks)) // taskID -> service
	for service, taskType := range tasks {
		id, err := monitor.Register(TaskConfig{
			Type:       taskType,
			Service:    service,
			AutoSwitch: taskType == TaskNodeSync,
		})
		if err != nil {
			ux.Error(fmt.Sprintf("Cannot monitor %s: %v", service, err))
			return false
		}
		if err := monitor.StartMonitoring(id); err != nil {
			ux.Error(fmt.Sprintf("Cannot monitor %s: %v", service, err))
			return false
		}
		pending[id] = service
	}

	spinner := ux.NewSpinner("Waiting for synchronization")
	spinner.Start()
	failed := false

	// Node sync can run for days; periodically evict finished task
	// records so a long watch does not accumulate them.
	sweep := time.NewTicker(time.Hour)
	defer sweep.Stop()
	staleAge := time.Duration(a.cfg.Monitor.StaleTaskMaxAgeHours) * time.Hour

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			spinner.StopWithWarning("Interrupted; synchronization continues inside the containers")
			for id := range pending {
				monitor.Cancel(id)
			}
			return false
		case <-sweep.C:
			monitor.Sweep(staleAge)
		case event := <-monitor.Events():
			service := pending[event.TaskID]
			switch event.Name {
			case EventSyncProgress:
				spinner.UpdateMessage(fmt.Sprintf("Syncing %s: %.1f%%", service, event.Progress))
			case EventSyncComplete:
				delete(pending, event.TaskID)
				spinner.UpdateMessage(fmt.Sprintf("%s synced", service))
			case EventSyncError:
				delete(pending, event.TaskID)
				failed = true
				ux.Error(fmt.Sprintf("Sync failed for %s: %s", service, event.Err))
			}
		}
	}

	if failed {
		spinner.StopWithError("Synchronization finished with errors")
		return false
	}
	spinner.StopWithSuccess("Synchronization complete")
	return true
}

func finishInstall(a *app) {
	if err := a.state.MarkComplete(); err != nil {
		a.logger.Warn("installation not marked complete", "error", err)
	}
	ux.Success("Installation complete")
}

// =============================================================================
// validate
// =============================================================================

func runValidate(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	overrides, err := parseSetFlags(setFlags)
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	profiles := profileFlags
	if len(profiles) == 0 {
		state, err := a.state.Get()
		if err == nil && len(state.Profiles) > 0 {
			profiles = state.Profiles
			ux.Info(fmt.Sprintf("Validating against installed profiles: %s", strings.Join(profiles, ", ")))
		}
	}

	resolved := a.catalog.Resolve(profiles)
	for _, warn := range resolved.Warnings {
		ux.Warning(warn.Message)
	}
	if !resolved.Valid() {
		for _, issue := range resolved.Errors {
			ux.Error(issue.Message)
		}
		os.Exit(1)
	}

	previous, err := a.loadStackEnv()
	if err != nil {
		ux.Error(fmt.Sprintf("Cannot read configuration: %v", err))
		os.Exit(1)
	}
	proposed := make(map[string]string, len(previous)+len(overrides))
	for k, v := range previous {
		proposed[k] = v
	}
	for k, v := range overrides {
		proposed[k] = v
	}

	validator := NewConfigValidator(a.catalog, a.cfg.Stack.Dir, a.logger)
	result := validator.Validate(proposed, resolved.Normalized, previous)
	if !renderValidation(result) {
		os.Exit(1)
	}
	ux.Success("Configuration is valid")
}

// =============================================================================
// profiles
// =============================================================================

func runProfiles(cmd *cobra.Command, args []string) {
	catalog := DefaultCatalog()
	ux.Title("Available profiles")
	for _, id := range catalog.ProfileIDs() {
		p := catalog.Profile(id)
		services := make([]string, 0, len(p.Services))
		for _, svc := range p.Services {
			services = append(services, svc.Name)
		}
		fmt.Printf("  %-18s %s\n", p.ID, p.Description)
		fmt.Printf("  %-18s services: %s\n", "", strings.Join(services, ", "))
		if len(p.Conflicts) > 0 {
			fmt.Printf("  %-18s conflicts with: %s\n", "", strings.Join(p.Conflicts, ", "))
		}
	}
}
