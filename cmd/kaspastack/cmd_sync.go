// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kaspastack/kaspastack/pkg/ux"
)

// installedSyncServices maps the persisted profile selection to its
// sync-tracked services.
func installedSyncServices(a *app) map[string]TaskType {
	state, err := a.state.Get()
	if err != nil || len(state.Profiles) == 0 {
		return nil
	}
	return a.catalog.SyncServicesFor(state.Profiles)
}

func runSyncStatus(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	tasks := installedSyncServices(a)
	if len(tasks) == 0 {
		ux.Muted("No installed services track synchronization. Run `kaspastack install` first.")
		return
	}

	services := make([]string, 0, len(tasks))
	for service := range tasks {
		services = append(services, service)
	}
	sort.Strings(services)

	checkers := DefaultCheckers(a.proc)
	ux.Title("Synchronization status")
	failed := false
	for _, service := range services {
		status, err := checkers[tasks[service]].Check(ctx, service)
		switch {
		case err != nil:
			ux.ServiceStatus(service, ux.IconError, err.Error())
			failed = true
		case status.Completed:
			ux.ServiceStatus(service, ux.IconSuccess, "synced")
		default:
			detail := fmt.Sprintf("%s %.1f%%", ux.ProgressBar(int(status.Progress), 100, 20), status.Progress)
			ux.ServiceStatus(service, ux.IconPending, detail)
		}
	}
	if failed {
		os.Exit(1)
	}
}

// runSyncCancel marks a recorded background task as cancelled in the
// installation state. Watchers started afterwards skip cancelled tasks;
// a watcher already running in another process cancels its own tasks on
// interrupt.
func runSyncCancel(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()
	unlock := mustLock(a)
	defer unlock()

	taskID := args[0]
	state, err := a.state.Get()
	if err != nil {
		ux.Error("Could not read installation state: " + err.Error())
		os.Exit(1)
	}

	for _, ref := range state.BackgroundTasks {
		if ref.ID != taskID {
			continue
		}
		switch ref.Status {
		case TaskComplete, TaskError, TaskCancelled:
			ux.Muted(fmt.Sprintf("Task %s already finished (%s); nothing to cancel.", taskID, ref.Status))
			return
		}
		ref.Status = TaskCancelled
		if err := a.state.UpsertTask(ref); err != nil {
			ux.Error("Could not update task: " + err.Error())
			os.Exit(1)
		}
		ux.Success(fmt.Sprintf("Cancelled sync task %s (%s)", taskID, ref.Service))
		return
	}

	ux.Error("No sync task with ID " + taskID)
	os.Exit(1)
}

func runSyncWatch(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	tasks := installedSyncServices(a)
	if len(tasks) == 0 {
		ux.Muted("No installed services track synchronization. Run `kaspastack install` first.")
		return
	}

	if !watchSyncTasks(ctx, a, tasks) {
		os.Exit(1)
	}
	ux.Success("All services synchronized")
}
