// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
VersionStore: configuration snapshots for rollback.

Each snapshot copies the live configuration files (.env plus the
compose descriptor) into a timestamp-named backup directory alongside a
backup-metadata.json record. Snapshots are immutable once written;
retention is a bounded FIFO by count. Restore optionally snapshots the
current state first so every restore is itself undoable, and always
signals that a restart is required.
*/
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kaspastack/kaspastack/cmd/kaspastack/internal/envfile"
	"github.com/kaspastack/kaspastack/pkg/logging"
)

// ErrBackupNotFound is returned when a backup id does not exist.
var ErrBackupNotFound = errors.New("backup not found")

const metadataFileName = "backup-metadata.json"

// configFileNames is the fixed set of live configuration files a
// snapshot captures. Missing files are skipped, not errors.
var configFileNames = []string{".env", "docker-compose.yml"}

// BackupFile describes one file captured in a backup.
type BackupFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// BackupMetadata is the backup-metadata.json record.
type BackupMetadata struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Reason    string            `json:"reason"`
	Files     []BackupFile      `json:"files"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RestoreOptions controls VersionStore.Restore.
type RestoreOptions struct {
	// BackupFirst snapshots the current live configuration before
	// overwriting it, making the restore undoable.
	BackupFirst bool
}

// RestoreResult reports the outcome of a restore.
type RestoreResult struct {
	// RestoredID is the backup that was applied.
	RestoredID string

	// PreRestoreID is the snapshot taken before applying, if
	// BackupFirst was set.
	PreRestoreID string

	// RestartRequired is always true: restored configuration takes
	// effect only after the stack restarts.
	RestartRequired bool

	// RestoredFiles lists the files written.
	RestoredFiles []string
}

// ConfigDiff is a flat key/value comparison of two backups' .env state.
type ConfigDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

// VersionStore snapshots, restores, and compares configuration
// versions under a backup directory.
//
// # Thread Safety
//
// Not safe for concurrent mutation; the CLI serializes access.
type VersionStore struct {
	stackDir  string
	backupDir string
	maxCount  int
	logger    *logging.Logger
}

// NewVersionStore creates a store keeping at most maxCount backups
// (values < 1 default to 10).
func NewVersionStore(stackDir, backupDir string, maxCount int, logger *logging.Logger) *VersionStore {
	if logger == nil {
		logger = logging.Default()
	}
	if maxCount < 1 {
		maxCount = 10
	}
	return &VersionStore{
		stackDir:  stackDir,
		backupDir: backupDir,
		maxCount:  maxCount,
		logger:    logger,
	}
}

// -----------------------------------------------------------------------------
// Snapshot
// -----------------------------------------------------------------------------

// Snapshot copies the live configuration files into a new backup and
// returns its id. Prior snapshots are never mutated; the oldest are
// evicted once the count bound is exceeded.
func (v *VersionStore) Snapshot(reason string, metadata map[string]string) (string, error) {
	id := v.newBackupID()
	dir := filepath.Join(v.backupDir, id)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	meta := BackupMetadata{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Reason:    reason,
		Metadata:  metadata,
	}

	for _, name := range configFileNames {
		src := filepath.Join(v.stackDir, name)
		info, err := os.Stat(src)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", src, err)
		}
		if err := copyFile(src, filepath.Join(dir, name)); err != nil {
			return "", fmt.Errorf("copy %s: %w", name, err)
		}
		meta.Files = append(meta.Files, BackupFile{Name: name, Size: info.Size()})
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode backup metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFileName), data, 0640); err != nil {
		return "", fmt.Errorf("write backup metadata: %w", err)
	}

	v.logger.Info("configuration snapshot created", "backup_id", id, "reason", reason, "files", len(meta.Files))

	if err := v.CleanupOldest(v.maxCount); err != nil {
		v.logger.Warn("backup retention sweep failed", "error", err)
	}
	return id, nil
}

// newBackupID derives an id from the current timestamp, suffixed on
// collision within the same second.
func (v *VersionStore) newBackupID() string {
	base := time.Now().UTC().Format("20060102-150405")
	id := base
	for n := 2; ; n++ {
		if _, err := os.Stat(filepath.Join(v.backupDir, id)); os.IsNotExist(err) {
			return id
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
}

// -----------------------------------------------------------------------------
// Restore
// -----------------------------------------------------------------------------

// Restore overwrites the live configuration files with the backup's
// contents. With BackupFirst, the current state is snapshotted first.
func (v *VersionStore) Restore(id string, opts RestoreOptions) (*RestoreResult, error) {
	meta, err := v.Metadata(id)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{
		RestoredID:      id,
		RestartRequired: true,
	}

	// Load the backup's contents before the pre-restore snapshot: the
	// snapshot's retention sweep can evict the backup being restored
	// when the store is at capacity.
	backupPath := filepath.Join(v.backupDir, id)
	contents := make(map[string][]byte, len(meta.Files))
	for _, f := range meta.Files {
		data, err := os.ReadFile(filepath.Join(backupPath, f.Name))
		if err != nil {
			return nil, fmt.Errorf("read backup file %s: %w", f.Name, err)
		}
		contents[f.Name] = data
	}

	if opts.BackupFirst {
		preID, err := v.Snapshot("pre-restore", map[string]string{"restoring": id})
		if err != nil {
			return nil, fmt.Errorf("pre-restore snapshot: %w", err)
		}
		result.PreRestoreID = preID
	}

	for _, f := range meta.Files {
		dst := filepath.Join(v.stackDir, f.Name)
		if err := os.WriteFile(dst, contents[f.Name], 0640); err != nil {
			return nil, fmt.Errorf("restore %s: %w", f.Name, err)
		}
		result.RestoredFiles = append(result.RestoredFiles, f.Name)
	}

	v.logger.Info("configuration restored", "backup_id", id, "pre_restore_id", result.PreRestoreID)
	return result, nil
}

// -----------------------------------------------------------------------------
// Query
// -----------------------------------------------------------------------------

// Metadata loads one backup's metadata record.
func (v *VersionStore) Metadata(id string) (*BackupMetadata, error) {
	data, err := os.ReadFile(filepath.Join(v.backupDir, id, metadataFileName))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read backup metadata: %w", err)
	}
	var meta BackupMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse backup metadata for %s: %w", id, err)
	}
	return &meta, nil
}

// List returns backup metadata, newest first, at most limit entries
// (limit <= 0 returns all).
func (v *VersionStore) List(limit int) ([]BackupMetadata, error) {
	ids, err := v.backupIDs()
	if err != nil {
		return nil, err
	}
	// ids sort oldest-first; reverse for newest-first.
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	var out []BackupMetadata
	for _, id := range ids {
		if limit > 0 && len(out) >= limit {
			break
		}
		meta, err := v.Metadata(id)
		if err != nil {
			v.logger.Warn("skipping unreadable backup", "backup_id", id, "error", err)
			continue
		}
		out = append(out, *meta)
	}
	return out, nil
}

// Compare diffs the flat .env key/value state of two backups.
func (v *VersionStore) Compare(idA, idB string) (*ConfigDiff, error) {
	if _, err := v.Metadata(idA); err != nil {
		return nil, err
	}
	if _, err := v.Metadata(idB); err != nil {
		return nil, err
	}

	envA, err := envfile.Read(filepath.Join(v.backupDir, idA, ".env"))
	if err != nil {
		return nil, fmt.Errorf("read %s env: %w", idA, err)
	}
	envB, err := envfile.Read(filepath.Join(v.backupDir, idB, ".env"))
	if err != nil {
		return nil, fmt.Errorf("read %s env: %w", idB, err)
	}

	added, removed, changed := envfile.Diff(envA, envB)
	return &ConfigDiff{Added: added, Removed: removed, Changed: changed}, nil
}

// CleanupOldest evicts the oldest backups beyond keep.
func (v *VersionStore) CleanupOldest(keep int) error {
	ids, err := v.backupIDs()
	if err != nil {
		return err
	}
	if keep < 1 || len(ids) <= keep {
		return nil
	}
	sort.Strings(ids) // timestamp ids: lexical order == chronological
	for _, id := range ids[:len(ids)-keep] {
		if err := os.RemoveAll(filepath.Join(v.backupDir, id)); err != nil {
			return fmt.Errorf("evict backup %s: %w", id, err)
		}
		v.logger.Debug("evicted old backup", "backup_id", id)
	}
	return nil
}

func (v *VersionStore) backupIDs() ([]string, error) {
	entries, err := os.ReadDir(v.backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
