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

	"github.com/spf13/cobra"

	"github.com/kaspastack/kaspastack/pkg/ux"
)

func runBackupsList(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	backups, err := a.versions.List(listLimit)
	if err != nil {
		ux.Error(fmt.Sprintf("Cannot list backups: %v", err))
		os.Exit(1)
	}
	if len(backups) == 0 {
		ux.Muted("No backups yet. `kaspastack backups create` takes one.")
		return
	}

	ux.Title("Configuration backups")
	for _, b := range backups {
		var total int64
		for _, f := range b.Files {
			total += f.Size
		}
		fmt.Printf("  %-20s %-24s %d file(s), %d bytes\n",
			b.ID, b.Reason, len(b.Files), total)
	}
}

func runBackupsCreate(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()
	unlock := mustLock(a)
	defer unlock()

	id, err := a.versions.Snapshot(backupReason, nil)
	if err != nil {
		ux.Error(fmt.Sprintf("Backup failed: %v", err))
		os.Exit(1)
	}
	ux.Success(fmt.Sprintf("Created backup %s", id))
}

func runBackupsRestore(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()
	unlock := mustLock(a)
	defer unlock()

	result, err := a.versions.Restore(args[0], RestoreOptions{BackupFirst: !noBackup})
	if err != nil {
		if errors.Is(err, ErrBackupNotFound) {
			ux.Error(fmt.Sprintf("No backup named %s. `kaspastack backups list` shows what exists.", args[0]))
		} else {
			ux.Error(fmt.Sprintf("Restore failed: %v", err))
		}
		os.Exit(1)
	}

	ux.Success(fmt.Sprintf("Restored configuration from %s (%d file(s))",
		result.RestoredID, len(result.RestoredFiles)))
	if result.PreRestoreID != "" {
		ux.Info(fmt.Sprintf("Previous configuration saved as %s", result.PreRestoreID))
	}
	if result.RestartRequired {
		ux.Warning("Restart the stack for the restored configuration to take effect: `kaspastack install`")
	}
}

func runBackupsCompare(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	diff, err := a.versions.Compare(args[0], args[1])
	if err != nil {
		ux.Error(fmt.Sprintf("Compare failed: %v", err))
		os.Exit(1)
	}

	if len(diff.Added)+len(diff.Removed)+len(diff.Changed) == 0 {
		ux.Info("Configurations are identical")
		return
	}
	printDiffSection("Added", diff.Added)
	printDiffSection("Removed", diff.Removed)
	printDiffSection("Changed", diff.Changed)
}

func printDiffSection(label string, keys []string) {
	if len(keys) == 0 {
		return
	}
	ux.Title(label)
	for _, key := range keys {
		fmt.Printf("  %s\n", key)
	}
}
