// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/kaspastack/kaspastack/pkg/ux"
)

// --- Global Command Variables ---
var (
	configPath   string
	logLevel     string
	plainOutput  bool
	metricsAddr  string
	profileFlags []string
	setFlags     []string
	waitSync     bool
	backupReason string
	listLimit    int
	noBackup     bool
	forceDestroy bool
	removeData   bool
	followLogs   bool
	tailLines    int

	rootCmd = &cobra.Command{
		Use:   "kaspastack",
		Short: "Install and manage a self-hosted Kaspa node stack",
		Long: `kaspastack deploys a Kaspa blockchain stack (node, explorer,
indexers, mining bridge) on your own machine, validates its
configuration, and tracks long-running synchronization work.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if plainOutput {
				ux.SetPlain(true)
			}
		},
	}

	// --- Installation ---
	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Validate, configure, and deploy the selected profiles",
		Run:   runInstall, // Defined in cmd_install.go
	}
	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Check a profile selection and configuration without deploying",
		Run:   runValidate, // Defined in cmd_install.go
	}
	profilesCmd = &cobra.Command{
		Use:   "profiles",
		Short: "List available deployment profiles",
		Run:   runProfiles, // Defined in cmd_install.go
	}

	// --- Stack Management ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show container state and installation progress",
		Run:   runStatus, // Defined in cmd_stack.go
	}
	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop all stack services",
		Run:   runStop, // Defined in cmd_stack.go
	}
	destroyCmd = &cobra.Command{
		Use:   "destroy",
		Short: "DANGER: Stop and delete all stack containers",
		Run:   runDestroy, // Defined in cmd_stack.go
	}
	logsCmd = &cobra.Command{
		Use:   "logs [service...]",
		Short: "Stream logs from stack containers",
		Run:   runLogs, // Defined in cmd_stack.go
	}

	// --- Backups ---
	backupsCmd = &cobra.Command{
		Use:   "backups",
		Short: "Manage configuration backups",
	}
	backupsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List configuration backups, newest first",
		Run:   runBackupsList, // Defined in cmd_backup.go
	}
	backupsCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Snapshot the current configuration",
		Run:   runBackupsCreate, // Defined in cmd_backup.go
	}
	backupsRestoreCmd = &cobra.Command{
		Use:   "restore [backup-id]",
		Short: "Restore configuration files from a backup",
		Args:  cobra.ExactArgs(1),
		Run:   runBackupsRestore, // Defined in cmd_backup.go
	}
	backupsCompareCmd = &cobra.Command{
		Use:   "compare [backup-a] [backup-b]",
		Short: "Diff the configuration between two backups",
		Args:  cobra.ExactArgs(2),
		Run:   runBackupsCompare, // Defined in cmd_backup.go
	}

	// --- Synchronization ---
	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Inspect long-running synchronization tasks",
	}
	syncStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Check sync progress for the installed services",
		Run:   runSyncStatus, // Defined in cmd_sync.go
	}
	syncWatchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Monitor sync progress until every task completes",
		Run:   runSyncWatch, // Defined in cmd_sync.go
	}
	syncCancelCmd = &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Mark a recorded sync task as cancelled",
		Args:  cobra.ExactArgs(1),
		Run:   runSyncCancel, // Defined in cmd_sync.go
	}

	// --- Installation State ---
	stateCmd = &cobra.Command{
		Use:   "state",
		Short: "Show the persisted installation record",
		Run:   runState, // Defined in cmd_stack.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to kaspastack.yaml (default ~/.kaspastack/kaspastack.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false, "Disable colors and spinners (machine-readable output)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address during long operations")

	rootCmd.AddCommand(installCmd)
	installCmd.Flags().StringSliceVarP(&profileFlags, "profile", "p", nil, "Profiles to install (repeatable, e.g. kaspa-node,kaspa-explorer)")
	installCmd.Flags().StringArrayVar(&setFlags, "set", nil, "Configuration override KEY=VALUE (repeatable)")
	installCmd.Flags().BoolVar(&waitSync, "wait-sync", false, "Block until post-install synchronization completes")
	installCmd.MarkFlagRequired("profile")

	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringSliceVarP(&profileFlags, "profile", "p", nil, "Profiles to validate against")
	validateCmd.Flags().StringArrayVar(&setFlags, "set", nil, "Configuration override KEY=VALUE (repeatable)")

	rootCmd.AddCommand(profilesCmd)

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(destroyCmd)
	destroyCmd.Flags().BoolVar(&forceDestroy, "force", false, "Required to confirm container deletion")
	destroyCmd.Flags().BoolVar(&removeData, "volumes", false, "Also delete named volumes (block data, databases)")

	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVarP(&followLogs, "follow", "f", false, "Stream logs continuously")
	logsCmd.Flags().IntVar(&tailLines, "tail", 100, "Lines of history per container")

	rootCmd.AddCommand(backupsCmd)
	backupsCmd.AddCommand(backupsListCmd)
	backupsListCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum backups to list (0 = all)")
	backupsCmd.AddCommand(backupsCreateCmd)
	backupsCreateCmd.Flags().StringVar(&backupReason, "reason", "manual", "Why this backup is being taken")
	backupsCmd.AddCommand(backupsRestoreCmd)
	backupsRestoreCmd.Flags().BoolVar(&noBackup, "no-backup-first", false, "Skip the automatic pre-restore backup")
	backupsCmd.AddCommand(backupsCompareCmd)

	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncWatchCmd)
	syncCmd.AddCommand(syncCancelCmd)

	rootCmd.AddCommand(stateCmd)
}
