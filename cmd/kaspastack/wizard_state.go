// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
WizardStateStore: persistence of overall installation progress.

State is one record per installation (phase, step, profiles, resolved
configuration, service statuses, background task references, decision
log) persisted to a single JSON file. All mutations are serialized
through one writer goroutine owning the file, so every state change is
observed by the next reader. Writes are atomic (temp file plus rename)
and each write also appends to a bounded ring of timestamped snapshots
for history browsing.

A corrupt state file is recovered by starting from a fresh state; the
corrupt file is preserved with a .corrupt suffix and a warning logged.
*/
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kaspastack/kaspastack/pkg/logging"
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Phase is the wizard's coarse installation phase.
type Phase string

const (
	PhasePreparing  Phase = "preparing"
	PhaseBuilding   Phase = "building"
	PhaseStarting   Phase = "starting"
	PhaseSyncing    Phase = "syncing"
	PhaseValidating Phase = "validating"
	PhaseComplete   Phase = "complete"
)

// TaskStatus is the lifecycle status of a background task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskComplete   TaskStatus = "complete"
	TaskError      TaskStatus = "error"
	TaskCancelled  TaskStatus = "cancelled"
)

// ServiceStatus records one service's last observed state.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskRef is the wizard-state view of a background task.
type TaskRef struct {
	ID       string     `json:"id"`
	Type     TaskType   `json:"type"`
	Service  string     `json:"service"`
	Status   TaskStatus `json:"status"`
	Progress float64    `json:"progress"`
}

// Decision is one entry in the installation decision log.
type Decision struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"`
	Detail string    `json:"detail"`
}

// WizardState is the singleton-per-installation progress record.
type WizardState struct {
	InstallationID  string            `json:"installation_id"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Phase           Phase             `json:"phase"`
	Step            int               `json:"step"`
	Profiles        []string          `json:"profiles"`
	Config          map[string]string `json:"config"`
	Services        []ServiceStatus   `json:"services"`
	BackgroundTasks []TaskRef         `json:"background_tasks"`
	Decisions       []Decision        `json:"decisions"`
	Resumable       bool              `json:"resumable"`
}

// clone returns a deep copy safe to hand to callers.
func (s *WizardState) clone() WizardState {
	out := *s
	out.Profiles = append([]string(nil), s.Profiles...)
	out.Services = append([]ServiceStatus(nil), s.Services...)
	out.BackgroundTasks = append([]TaskRef(nil), s.BackgroundTasks...)
	out.Decisions = append([]Decision(nil), s.Decisions...)
	out.Config = make(map[string]string, len(s.Config))
	for k, v := range s.Config {
		out.Config[k] = v
	}
	return out
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// ErrStoreClosed is returned for operations on a closed store.
var ErrStoreClosed = errors.New("wizard state store is closed")

// ErrInstallationComplete is returned when a mutation attempts to move
// a completed installation back into an active phase.
var ErrInstallationComplete = errors.New("installation is complete; phase is terminal")

const stateFileName = "wizard-state.json"

type stateOp struct {
	fn    func(*WizardState) error
	write bool
	reply chan error
}

// WizardStateStore serializes all wizard-state access through a single
// writer goroutine.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
type WizardStateStore struct {
	path         string
	snapshotDir  string
	maxSnapshots int
	logger       *logging.Logger

	ops    chan stateOp
	closed chan struct{}
	done   chan struct{}
}

// NewWizardStateStore opens (or initializes) the state file under dir
// and starts the writer goroutine. maxSnapshots bounds the history
// snapshot ring; values < 1 default to 20.
func NewWizardStateStore(dir string, maxSnapshots int, logger *logging.Logger) (*WizardStateStore, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if maxSnapshots < 1 {
		maxSnapshots = 20
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	snapshotDir := filepath.Join(dir, "snapshots")
	if err := os.MkdirAll(snapshotDir, 0750); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	store := &WizardStateStore{
		path:         filepath.Join(dir, stateFileName),
		snapshotDir:  snapshotDir,
		maxSnapshots: maxSnapshots,
		logger:       logger,
		ops:          make(chan stateOp),
		closed:       make(chan struct{}),
		done:         make(chan struct{}),
	}

	state := store.loadOrInit()
	go store.run(state)
	return store, nil
}

// loadOrInit reads the state file, falling back to a fresh state when
// the file is missing or unparseable.
func (w *WizardStateStore) loadOrInit() *WizardState {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("state file unreadable, starting fresh", "path", w.path, "error", err)
		}
		return w.freshState()
	}

	var state WizardState
	if err := json.Unmarshal(data, &state); err != nil || state.InstallationID == "" {
		corruptPath := w.path + ".corrupt"
		if renameErr := os.Rename(w.path, corruptPath); renameErr == nil {
			w.logger.Warn("state file corrupt, history before this point is lost",
				"path", w.path, "preserved", corruptPath, "error", err)
		}
		return w.freshState()
	}
	return &state
}

func (w *WizardStateStore) freshState() *WizardState {
	now := time.Now().UTC()
	return &WizardState{
		InstallationID: uuid.NewString(),
		CreatedAt:      now,
		UpdatedAt:      now,
		Phase:          PhasePreparing,
		Config:         make(map[string]string),
		Resumable:      true,
	}
}

// run is the single writer goroutine owning the state and its file.
func (w *WizardStateStore) run(state *WizardState) {
	defer close(w.done)
	for {
		select {
		case op := <-w.ops:
			err := op.fn(state)
			if err == nil && op.write {
				state.UpdatedAt = time.Now().UTC()
				if state.Phase == PhaseComplete {
					state.Resumable = false
				}
				err = w.persist(state)
			}
			op.reply <- err
		case <-w.closed:
			return
		}
	}
}

// persist writes the state atomically and appends a history snapshot.
func (w *WizardStateStore) persist(state *WizardState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.path), ".wizard-state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace state file: %w", err)
	}

	w.writeSnapshot(data)
	return nil
}

// writeSnapshot appends to the bounded snapshot ring. Snapshot
// failures are logged, not fatal: the primary state file is already
// safe on disk.
func (w *WizardStateStore) writeSnapshot(data []byte) {
	name := fmt.Sprintf("state_%s.json", time.Now().UTC().Format("20060102T150405.000000000"))
	path := filepath.Join(w.snapshotDir, name)
	if err := os.WriteFile(path, data, 0640); err != nil {
		w.logger.Warn("state snapshot write failed", "path", path, "error", err)
		return
	}

	entries, err := os.ReadDir(w.snapshotDir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) <= w.maxSnapshots {
		return
	}
	sort.Strings(names) // timestamp-named, lexical order == chronological
	for _, old := range names[:len(names)-w.maxSnapshots] {
		os.Remove(filepath.Join(w.snapshotDir, old))
	}
}

// do submits an operation to the writer goroutine.
func (w *WizardStateStore) do(write bool, fn func(*WizardState) error) error {
	op := stateOp{fn: fn, write: write, reply: make(chan error, 1)}
	select {
	case w.ops <- op:
		return <-op.reply
	case <-w.closed:
		return ErrStoreClosed
	}
}

// Close stops the writer goroutine. Pending operations complete first.
func (w *WizardStateStore) Close() {
	select {
	case <-w.closed:
		return
	default:
	}
	close(w.closed)
	<-w.done
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

// Get returns a deep copy of the current state.
func (w *WizardStateStore) Get() (WizardState, error) {
	var out WizardState
	err := w.do(false, func(s *WizardState) error {
		out = s.clone()
		return nil
	})
	return out, err
}

// Update applies fn to the state and persists the result. Mutations on
// a completed installation are rejected unless they keep the phase at
// complete.
func (w *WizardStateStore) Update(fn func(*WizardState)) error {
	return w.do(true, func(s *WizardState) error {
		if s.Phase == PhaseComplete {
			return ErrInstallationComplete
		}
		fn(s)
		return nil
	})
}

// SetPhase advances the installation phase.
func (w *WizardStateStore) SetPhase(phase Phase, step int) error {
	return w.Update(func(s *WizardState) {
		s.Phase = phase
		s.Step = step
	})
}

// SetSelection records the selected profiles and resolved config.
func (w *WizardStateStore) SetSelection(profiles []string, config map[string]string) error {
	return w.Update(func(s *WizardState) {
		s.Profiles = append([]string(nil), profiles...)
		s.Config = make(map[string]string, len(config))
		for k, v := range config {
			s.Config[k] = v
		}
	})
}

// SetServiceStatus records one service's observed status.
func (w *WizardStateStore) SetServiceStatus(name, status string) error {
	return w.Update(func(s *WizardState) {
		now := time.Now().UTC()
		for i := range s.Services {
			if s.Services[i].Name == name {
				s.Services[i].Status = status
				s.Services[i].UpdatedAt = now
				return
			}
		}
		s.Services = append(s.Services, ServiceStatus{Name: name, Status: status, UpdatedAt: now})
	})
}

// UpsertTask records or updates a background task reference.
func (w *WizardStateStore) UpsertTask(ref TaskRef) error {
	return w.Update(func(s *WizardState) {
		for i := range s.BackgroundTasks {
			if s.BackgroundTasks[i].ID == ref.ID {
				s.BackgroundTasks[i] = ref
				return
			}
		}
		s.BackgroundTasks = append(s.BackgroundTasks, ref)
	})
}

// RecordDecision appends an entry to the decision log.
func (w *WizardStateStore) RecordDecision(action, detail string) error {
	return w.Update(func(s *WizardState) {
		s.Decisions = append(s.Decisions, Decision{
			At:     time.Now().UTC(),
			Action: action,
			Detail: detail,
		})
	})
}

// MarkComplete moves the installation to its terminal phase.
// phase==complete forces resumable=false and no further mutations.
func (w *WizardStateStore) MarkComplete() error {
	return w.Update(func(s *WizardState) {
		s.Phase = PhaseComplete
	})
}

// Snapshots returns the history snapshot filenames, oldest first.
func (w *WizardStateStore) Snapshots() ([]string, error) {
	entries, err := os.ReadDir(w.snapshotDir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
