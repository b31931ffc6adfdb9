// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kaspastack/kaspastack/cmd/kaspastack/internal/infra/compose"
	"github.com/kaspastack/kaspastack/pkg/ux"
)

// =============================================================================
// status
// =============================================================================

func runStatus(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	state, err := a.state.Get()
	if err == nil && len(state.Profiles) > 0 {
		ux.Title("Installation")
		fmt.Printf("  Phase:    %s\n", state.Phase)
		fmt.Printf("  Profiles: %s\n", strings.Join(state.Profiles, ", "))
	}

	status, err := a.exec.Status(ctx)
	if err != nil {
		ux.Error(fmt.Sprintf("Cannot query containers: %v", err))
		infraHint(err)
		os.Exit(1)
	}

	ux.Title("Services")
	if len(status.Services) == 0 {
		ux.Muted("  No stack containers found. Run `kaspastack install` first.")
		return
	}
	for _, svc := range status.Services {
		icon := ux.IconError
		if svc.State == "running" {
			icon = ux.IconSuccess
		}
		ux.ServiceStatus(svc.Name, icon, svc.State)
	}
	ux.Summary(status.Running, status.Stopped, len(status.Services))
}

// =============================================================================
// stop
// =============================================================================

func runStop(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()
	unlock := mustLock(a)
	defer unlock()

	ctx, cancel := signalContext()
	defer cancel()

	err := ux.WithSpinner("Stopping services", func() error {
		_, err := a.exec.Down(ctx, compose.DownOptions{RemoveOrphans: true})
		return err
	})
	if err != nil {
		ux.Error(fmt.Sprintf("Stop failed: %v", err))
		infraHint(err)
		os.Exit(1)
	}
}

// =============================================================================
// destroy
// =============================================================================

func runDestroy(cmd *cobra.Command, args []string) {
	if !forceDestroy {
		ux.Error("destroy deletes all stack containers. Re-run with --force to confirm.")
		os.Exit(1)
	}
	a := mustApp()
	defer a.close()
	unlock := mustLock(a)
	defer unlock()

	ctx, cancel := signalContext()
	defer cancel()

	if removeData {
		ux.Warning("Named volumes (block data, databases) will be deleted too.")
	}

	err := ux.WithSpinner("Destroying stack", func() error {
		_, err := a.exec.Down(ctx, compose.DownOptions{
			RemoveOrphans: true,
			RemoveVolumes: removeData,
		})
		return err
	})
	if err != nil {
		ux.Error(fmt.Sprintf("Destroy failed: %v", err))
		infraHint(err)
		os.Exit(1)
	}
}

// =============================================================================
// logs
// =============================================================================

func runLogs(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	err := a.exec.Logs(ctx, compose.LogsOptions{
		Follow:   followLogs,
		Services: args,
		Tail:     tailLines,
	}, os.Stdout)
	if err != nil && ctx.Err() == nil {
		ux.Error(fmt.Sprintf("Log streaming failed: %v", err))
		os.Exit(1)
	}
}

// =============================================================================
// state
// =============================================================================

func runState(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	state, err := a.state.Get()
	if err != nil {
		ux.Error(fmt.Sprintf("Cannot read installation state: %v", err))
		os.Exit(1)
	}

	ux.Title("Installation state")
	fmt.Printf("  ID:        %s\n", state.InstallationID)
	fmt.Printf("  Phase:     %s (step %d)\n", state.Phase, state.Step)
	fmt.Printf("  Resumable: %t\n", state.Resumable)
	fmt.Printf("  Updated:   %s\n", state.UpdatedAt.Format("2006-01-02 15:04:05"))
	if len(state.Profiles) > 0 {
		fmt.Printf("  Profiles:  %s\n", strings.Join(state.Profiles, ", "))
	}

	if len(state.Services) > 0 {
		ux.Title("Services")
		for _, svc := range state.Services {
			icon := ux.IconPending
			if svc.Status == "running" {
				icon = ux.IconSuccess
			}
			ux.ServiceStatus(svc.Name, icon, svc.Status)
		}
	}

	if len(state.BackgroundTasks) > 0 {
		ux.Title("Background tasks")
		for _, task := range state.BackgroundTasks {
			fmt.Printf("  %-20s %-10s %6.1f%%  (%s)\n", task.Service, task.Status, task.Progress, task.Type)
		}
	}

	if len(state.Decisions) > 0 {
		ux.Title("Decisions")
		for _, d := range state.Decisions {
			fmt.Printf("  %s  %s: %s\n", d.At.Format("2006-01-02 15:04"), d.Action, d.Detail)
		}
	}
}

// infraHint prints the remediation for a classified infra error.
func infraHint(err error) {
	var infraErr *InfraError
	if errors.As(ClassifyInfraError("", "", err), &infraErr) && infraErr.Kind != InfraUnknown {
		ux.Info("Suggestion: " + infraErr.Remediation())
	}
}
