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
	"sync"
	"testing"

	"github.com/kaspastack/kaspastack/pkg/logging"
)

func newTestStateStore(t *testing.T, dir string) *WizardStateStore {
	t.Helper()
	logger := logging.New(logging.Config{Quiet: true})
	store, err := NewWizardStateStore(dir, 5, logger)
	if err != nil {
		t.Fatalf("NewWizardStateStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestWizardState_FreshInitialization(t *testing.T) {
	store := newTestStateStore(t, t.TempDir())

	state, err := store.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if state.InstallationID == "" {
		t.Error("fresh state should have an installation id")
	}
	if state.Phase != PhasePreparing {
		t.Errorf("fresh phase = %s, want preparing", state.Phase)
	}
	if !state.Resumable {
		t.Error("fresh state should be resumable")
	}
}

func TestWizardState_PersistAndReload(t *testing.T) {
	dir := t.TempDir()

	store := newTestStateStore(t, dir)
	if err := store.SetSelection([]string{"kaspa-node"}, map[string]string{"KASPA_NETWORK": "mainnet"}); err != nil {
		t.Fatalf("SetSelection: %v", err)
	}
	if err := store.SetPhase(PhaseBuilding, 2); err != nil {
		t.Fatalf("SetPhase: %v", err)
	}
	first, _ := store.Get()
	store.Close()

	reopened := newTestStateStore(t, dir)
	state, err := reopened.Get()
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if state.InstallationID != first.InstallationID {
		t.Error("reload should preserve the installation id")
	}
	if state.Phase != PhaseBuilding || state.Step != 2 {
		t.Errorf("reloaded phase/step = %s/%d, want building/2", state.Phase, state.Step)
	}
	if state.Config["KASPA_NETWORK"] != "mainnet" {
		t.Error("reload should preserve the resolved config")
	}
}

func TestWizardState_CorruptFileRecovery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, stateFileName)
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	store := newTestStateStore(t, dir)
	state, err := store.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if state.InstallationID == "" || state.Phase != PhasePreparing {
		t.Errorf("corrupt file should yield a fresh state, got %+v", state)
	}
	if _, err := os.Stat(path + ".corrupt"); os.IsNotExist(err) {
		t.Error("corrupt file should be preserved with .corrupt suffix")
	}
}

func TestWizardState_CompleteIsTerminal(t *testing.T) {
	store := newTestStateStore(t, t.TempDir())

	if err := store.MarkComplete(); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	state, _ := store.Get()
	if state.Phase != PhaseComplete {
		t.Errorf("phase = %s, want complete", state.Phase)
	}
	if state.Resumable {
		t.Error("complete state must not be resumable")
	}

	err := store.SetPhase(PhaseBuilding, 1)
	if !errors.Is(err, ErrInstallationComplete) {
		t.Errorf("mutation after complete: err = %v, want ErrInstallationComplete", err)
	}
}

func TestWizardState_ServiceStatusUpsert(t *testing.T) {
	store := newTestStateStore(t, t.TempDir())

	store.SetServiceStatus("kaspa-node", "starting")
	store.SetServiceStatus("kaspa-node", "running")
	store.SetServiceStatus("kasplex-db", "running")

	state, _ := store.Get()
	if len(state.Services) != 2 {
		t.Fatalf("services = %d, want 2 (upsert, not append)", len(state.Services))
	}
	if state.Services[0].Name != "kaspa-node" || state.Services[0].Status != "running" {
		t.Errorf("service[0] = %+v, want kaspa-node/running", state.Services[0])
	}
}

func TestWizardState_TaskUpsert(t *testing.T) {
	store := newTestStateStore(t, t.TempDir())

	store.UpsertTask(TaskRef{ID: "t1", Type: TaskNodeSync, Service: "kaspa-node", Status: TaskInProgress, Progress: 10})
	store.UpsertTask(TaskRef{ID: "t1", Type: TaskNodeSync, Service: "kaspa-node", Status: TaskComplete, Progress: 100})

	state, _ := store.Get()
	if len(state.BackgroundTasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(state.BackgroundTasks))
	}
	if state.BackgroundTasks[0].Status != TaskComplete || state.BackgroundTasks[0].Progress != 100 {
		t.Errorf("task = %+v, want complete/100", state.BackgroundTasks[0])
	}
}

func TestWizardState_SnapshotRingBounded(t *testing.T) {
	store := newTestStateStore(t, t.TempDir())

	// More writes than the ring size (5).
	for i := 0; i < 12; i++ {
		if err := store.RecordDecision("test", "write"); err != nil {
			t.Fatalf("RecordDecision: %v", err)
		}
	}

	snapshots, err := store.Snapshots()
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(snapshots) > 5 {
		t.Errorf("snapshot ring holds %d entries, want <= 5", len(snapshots))
	}
}

func TestWizardState_GetReturnsCopy(t *testing.T) {
	store := newTestStateStore(t, t.TempDir())
	store.SetSelection([]string{"kaspa-node"}, map[string]string{"A": "1"})

	state, _ := store.Get()
	state.Config["A"] = "mutated"
	state.Profiles[0] = "mutated"

	again, _ := store.Get()
	if again.Config["A"] != "1" || again.Profiles[0] != "kaspa-node" {
		t.Error("Get must return a deep copy")
	}
}

func TestWizardState_ConcurrentWriters(t *testing.T) {
	store := newTestStateStore(t, t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				store.RecordDecision("concurrent", "entry")
			}
		}()
	}
	wg.Wait()

	state, err := store.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(state.Decisions) != 80 {
		t.Errorf("decisions = %d, want 80 (no lost writes)", len(state.Decisions))
	}
}

func TestWizardState_ClosedStore(t *testing.T) {
	store := newTestStateStore(t, t.TempDir())
	store.Close()

	if err := store.RecordDecision("late", "write"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("write after close: err = %v, want ErrStoreClosed", err)
	}
	// Double close is a no-op.
	store.Close()
}
