// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kaspastack/kaspastack/pkg/logging"
)

func newTestVersionStore(t *testing.T, maxCount int) (*VersionStore, string) {
	t.Helper()
	stackDir := t.TempDir()
	backupDir := filepath.Join(stackDir, "backups")
	logger := logging.New(logging.Config{Quiet: true})
	return NewVersionStore(stackDir, backupDir, maxCount, logger), stackDir
}

func writeStackFiles(t *testing.T, stackDir, envContent string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(stackDir, ".env"), []byte(envContent), 0644); err != nil {
		t.Fatal(err)
	}
	compose := "services:\n  kaspa-node:\n    image: supertypo/rusty-kaspad:latest\n"
	if err := os.WriteFile(filepath.Join(stackDir, "docker-compose.yml"), []byte(compose), 0644); err != nil {
		t.Fatal(err)
	}
}

// =============================================================================
// Snapshot
// =============================================================================

func TestSnapshot_CapturesFilesAndMetadata(t *testing.T) {
	store, stackDir := newTestVersionStore(t, 10)
	writeStackFiles(t, stackDir, "KASPA_NETWORK=mainnet\n")

	id, err := store.Snapshot("before install", map[string]string{"profiles": "kaspa-node"})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	meta, err := store.Metadata(id)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.Reason != "before install" {
		t.Errorf("reason = %q, want 'before install'", meta.Reason)
	}
	if len(meta.Files) != 2 {
		t.Errorf("files = %+v, want .env and docker-compose.yml", meta.Files)
	}
	for _, f := range meta.Files {
		if f.Size <= 0 {
			t.Errorf("file %s has size %d, want > 0", f.Name, f.Size)
		}
	}
	if meta.Metadata["profiles"] != "kaspa-node" {
		t.Errorf("metadata = %v, want profiles key", meta.Metadata)
	}
}

func TestSnapshot_MissingFilesSkipped(t *testing.T) {
	store, stackDir := newTestVersionStore(t, 10)
	// Only .env exists.
	if err := os.WriteFile(filepath.Join(stackDir, ".env"), []byte("A=1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	id, err := store.Snapshot("partial", nil)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	meta, _ := store.Metadata(id)
	if len(meta.Files) != 1 || meta.Files[0].Name != ".env" {
		t.Errorf("files = %+v, want only .env", meta.Files)
	}
}

// =============================================================================
// Restore
// =============================================================================

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	store, stackDir := newTestVersionStore(t, 10)
	original := "KASPA_NETWORK=mainnet\nKASPA_NODE_RPC_PORT=16110\n"
	writeStackFiles(t, stackDir, original)

	id, err := store.Snapshot("round trip", nil)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	result, err := store.Restore(id, RestoreOptions{BackupFirst: true})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	// Live config must be byte-for-byte equal to its pre-snapshot state.
	data, err := os.ReadFile(filepath.Join(stackDir, ".env"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != original {
		t.Errorf("restored .env = %q, want %q", data, original)
	}

	if !result.RestartRequired {
		t.Error("restore must always signal a restart")
	}
	if result.PreRestoreID == "" {
		t.Error("BackupFirst restore must create a pre-restore snapshot")
	}
	if result.PreRestoreID == id {
		t.Error("pre-restore snapshot must be a distinct backup")
	}

	// The pre-restore snapshot is itself restorable.
	if _, err := store.Metadata(result.PreRestoreID); err != nil {
		t.Errorf("pre-restore snapshot metadata: %v", err)
	}
}

func TestRestore_OldestBackupAtCapacity(t *testing.T) {
	store, stackDir := newTestVersionStore(t, 2)

	oldest := "KASPA_NETWORK=mainnet\n"
	writeStackFiles(t, stackDir, oldest)
	oldestID, err := store.Snapshot("first", nil)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	writeStackFiles(t, stackDir, "KASPA_NETWORK=testnet-10\n")
	if _, err := store.Snapshot("second", nil); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	// The store is full: the pre-restore snapshot's retention sweep
	// evicts the oldest backup, which is the one being restored.
	result, err := store.Restore(oldestID, RestoreOptions{BackupFirst: true})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(stackDir, ".env"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != oldest {
		t.Errorf("restored .env = %q, want %q", data, oldest)
	}
	if result.PreRestoreID == "" {
		t.Error("BackupFirst restore must create a pre-restore snapshot")
	}
}

func TestRestore_UnknownID(t *testing.T) {
	store, _ := newTestVersionStore(t, 10)

	_, err := store.Restore("19990101-000000", RestoreOptions{})
	if !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("err = %v, want ErrBackupNotFound", err)
	}
}

// =============================================================================
// Retention
// =============================================================================

func TestRetention_BoundedFIFO(t *testing.T) {
	store, stackDir := newTestVersionStore(t, 3)
	writeStackFiles(t, stackDir, "A=1\n")

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := store.Snapshot("fill", nil)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		ids = append(ids, id)
	}

	list, err := store.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("retained = %d backups, want 3", len(list))
	}

	// Oldest evicted, newest kept.
	if _, err := store.Metadata(ids[0]); !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("oldest backup should be evicted, got %v", err)
	}
	if _, err := store.Metadata(ids[4]); err != nil {
		t.Errorf("newest backup should survive: %v", err)
	}
}

func TestList_LimitAndOrder(t *testing.T) {
	store, stackDir := newTestVersionStore(t, 10)
	writeStackFiles(t, stackDir, "A=1\n")

	for i := 0; i < 4; i++ {
		if _, err := store.Snapshot("fill", nil); err != nil {
			t.Fatal(err)
		}
	}

	list, err := store.List(2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %d entries, want 2", len(list))
	}
	// Newest first.
	if list[0].CreatedAt.Before(list[1].CreatedAt) {
		t.Error("List should return newest first")
	}
}

// =============================================================================
// Compare
// =============================================================================

func TestCompare_FlatEnvDiff(t *testing.T) {
	store, stackDir := newTestVersionStore(t, 10)

	writeStackFiles(t, stackDir, "KASPA_NETWORK=mainnet\nOLD_KEY=x\n")
	idA, err := store.Snapshot("a", nil)
	if err != nil {
		t.Fatal(err)
	}

	writeStackFiles(t, stackDir, "KASPA_NETWORK=testnet-10\nNEW_KEY=y\n")
	idB, err := store.Snapshot("b", nil)
	if err != nil {
		t.Fatal(err)
	}

	diff, err := store.Compare(idA, idB)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}

	if len(diff.Added) != 1 || diff.Added[0] != "NEW_KEY" {
		t.Errorf("added = %v, want [NEW_KEY]", diff.Added)
	}
	if len(diff.Removed) != 1 || diff.Removed[0] != "OLD_KEY" {
		t.Errorf("removed = %v, want [OLD_KEY]", diff.Removed)
	}
	if len(diff.Changed) != 1 || diff.Changed[0] != "KASPA_NETWORK" {
		t.Errorf("changed = %v, want [KASPA_NETWORK]", diff.Changed)
	}
}

func TestCompare_UnknownBackup(t *testing.T) {
	store, stackDir := newTestVersionStore(t, 10)
	writeStackFiles(t, stackDir, "A=1\n")
	id, _ := store.Snapshot("only", nil)

	if _, err := store.Compare(id, "19990101-000000"); !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("err = %v, want ErrBackupNotFound", err)
	}
}
