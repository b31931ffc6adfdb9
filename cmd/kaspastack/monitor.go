// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
BackgroundTaskMonitor: polling of long-running post-install work.

Each registered task (node sync, indexer sync, database migration) owns
an independent self-rescheduling poll loop: a tick never starts before
the previous check has resolved, so slow status functions cannot stack
overlapping checks. Lifecycle events (sync:start, sync:progress,
sync:complete, sync:error, sync:cancelled) stream to subscribers on
every tick; wizard-state writes are throttled to progress changes above
one percentage point to bound write volume.

Completion is signaled on a per-task channel obtained from Completion,
never by a callback running on the poll goroutine. A finished task is
retained for a grace period for late queries, then evicted; Sweep
removes finished tasks past a maximum age.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kaspastack/kaspastack/pkg/logging"
)

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

const (
	EventSyncStart     = "sync:start"
	EventSyncProgress  = "sync:progress"
	EventSyncComplete  = "sync:complete"
	EventSyncError     = "sync:error"
	EventSyncCancelled = "sync:cancelled"
)

// SyncEvent is one lifecycle notification pushed to subscribers.
type SyncEvent struct {
	Name      string
	TaskID    string
	Service   string
	Type      TaskType
	Timestamp time.Time
	Progress  float64
	Metadata  map[string]string
	Err       string
}

// -----------------------------------------------------------------------------
// Status Checking
// -----------------------------------------------------------------------------

// CheckStatus is one poll tick's result.
type CheckStatus struct {
	// Completed marks the task as finished successfully.
	Completed bool

	// Progress is the completion percentage [0,100].
	Progress float64

	// Metadata carries task-type specifics (current/target block, ETA).
	Metadata map[string]string
}

// StatusChecker computes one task type's progress. Implementations are
// selected at registration, one per task type; the monitor never
// dispatches on the type tag per tick.
type StatusChecker interface {
	Check(ctx context.Context, service string) (CheckStatus, error)
}

// AutoSwitcher performs the "switch dependent services to the
// now-synced local resource" side effect on node-sync completion.
type AutoSwitcher interface {
	SwitchToLocal(service string) (string, error)
}

// -----------------------------------------------------------------------------
// Task
// -----------------------------------------------------------------------------

// TaskConfig registers one background task.
type TaskConfig struct {
	// Type selects the default checker when Checker is nil.
	Type TaskType

	// Service is the owning service name.
	Service string

	// Checker overrides the type's default status checker.
	Checker StatusChecker

	// Interval between polls; zero uses the monitor default.
	Interval time.Duration

	// AutoSwitch triggers the switch side effect on completion of a
	// node-sync task.
	AutoSwitch bool

	// Metadata seeds the task's metadata map.
	Metadata map[string]string
}

// TaskResult is delivered on the per-task completion channel.
type TaskResult struct {
	TaskID   string
	Status   TaskStatus
	Progress float64
	Metadata map[string]string
}

type monitoredTask struct {
	id  string
	cfg TaskConfig

	status        TaskStatus
	progress      float64
	lastPersisted float64
	metadata      map[string]string
	finishedAt    time.Time

	stop     chan struct{} // closed to stop the poll loop
	loopDone chan struct{} // closed when the poll loop exits
	complete chan TaskResult
}

func (t *monitoredTask) ref() TaskRef {
	return TaskRef{
		ID:       t.id,
		Type:     t.cfg.Type,
		Service:  t.cfg.Service,
		Status:   t.status,
		Progress: t.progress,
	}
}

func (t *monitoredTask) finished() bool {
	switch t.status {
	case TaskComplete, TaskError, TaskCancelled:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Monitor
// -----------------------------------------------------------------------------

// ErrTaskNotFound is returned for unknown task ids.
var ErrTaskNotFound = errors.New("task not found")

// MonitorOptions tunes TaskMonitor behavior.
type MonitorOptions struct {
	// DefaultInterval between polls when a task specifies none.
	// Default 10s.
	DefaultInterval time.Duration

	// GracePeriod a finished task stays queryable before eviction.
	// Default 5m.
	GracePeriod time.Duration

	// CheckTimeout bounds one status check. Default 30s.
	CheckTimeout time.Duration
}

func (o *MonitorOptions) withDefaults() {
	if o.DefaultInterval <= 0 {
		o.DefaultInterval = 10 * time.Second
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = 5 * time.Minute
	}
	if o.CheckTimeout <= 0 {
		o.CheckTimeout = 30 * time.Second
	}
}

// TaskMonitor tracks background tasks, each on its own poll loop.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
type TaskMonitor struct {
	mu    sync.Mutex
	tasks map[string]*monitoredTask

	state    *WizardStateStore
	switcher AutoSwitcher
	checkers map[TaskType]StatusChecker
	logger   *logging.Logger
	metrics  *Metrics
	opts     MonitorOptions

	events chan SyncEvent
}

// NewTaskMonitor creates a monitor. checkers supplies the per-type
// default StatusCheckers; switcher may be nil to disable auto-switch.
func NewTaskMonitor(state *WizardStateStore, checkers map[TaskType]StatusChecker, switcher AutoSwitcher, metrics *Metrics, logger *logging.Logger, opts MonitorOptions) *TaskMonitor {
	if logger == nil {
		logger = logging.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	opts.withDefaults()
	return &TaskMonitor{
		tasks:    make(map[string]*monitoredTask),
		state:    state,
		switcher: switcher,
		checkers: checkers,
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
		events:   make(chan SyncEvent, 64),
	}
}

// Events returns the lifecycle event stream. Events are dropped (and
// counted in the log) if the subscriber falls behind.
func (m *TaskMonitor) Events() <-chan SyncEvent {
	return m.events
}

// Register records a task and returns its id. Monitoring does not
// start until StartMonitoring is called.
func (m *TaskMonitor) Register(cfg TaskConfig) (string, error) {
	if cfg.Service == "" {
		return "", fmt.Errorf("task config requires a service")
	}
	if cfg.Checker == nil {
		checker, ok := m.checkers[cfg.Type]
		if !ok {
			return "", fmt.Errorf("no status checker for task type %q", cfg.Type)
		}
		cfg.Checker = checker
	}
	if cfg.Interval <= 0 {
		cfg.Interval = m.opts.DefaultInterval
	}

	task := &monitoredTask{
		id:       uuid.NewString(),
		cfg:      cfg,
		status:   TaskPending,
		metadata: make(map[string]string),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
		complete: make(chan TaskResult, 1),
	}
	for k, v := range cfg.Metadata {
		task.metadata[k] = v
	}

	m.mu.Lock()
	m.tasks[task.id] = task
	m.mu.Unlock()

	if m.state != nil {
		if err := m.state.UpsertTask(task.ref()); err != nil {
			m.logger.Warn("task registration not persisted", "task_id", task.id, "error", err)
		}
	}
	return task.id, nil
}

// StartMonitoring begins the task's poll loop.
func (m *TaskMonitor) StartMonitoring(taskID string) error {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.status != TaskPending {
		m.mu.Unlock()
		return fmt.Errorf("task %s is %s, not pending", taskID, task.status)
	}
	task.status = TaskInProgress
	m.mu.Unlock()

	m.persistTask(task)
	m.emit(task, EventSyncStart, "")
	m.metrics.TaskStarted()

	go m.pollLoop(task)
	return nil
}

// pollLoop is the self-rescheduling poll cycle: each delay starts only
// after the previous check resolves.
func (m *TaskMonitor) pollLoop(task *monitoredTask) {
	defer close(task.loopDone)
	defer m.metrics.TaskStopped()

	timer := time.NewTimer(task.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-task.stop:
			return
		case <-timer.C:
		}

		if done := m.tick(task); done {
			return
		}
		timer.Reset(task.cfg.Interval)
	}
}

// tick runs one status check and applies its outcome. Returns true
// when the loop should stop.
func (m *TaskMonitor) tick(task *monitoredTask) bool {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.CheckTimeout)
	status, err := task.cfg.Checker.Check(ctx, task.cfg.Service)
	cancel()

	m.mu.Lock()
	if task.status != TaskInProgress {
		// Cancelled between check start and now.
		m.mu.Unlock()
		return true
	}

	if err != nil {
		task.status = TaskError
		task.finishedAt = time.Now()
		m.mu.Unlock()

		m.persistTask(task)
		m.emit(task, EventSyncError, err.Error())
		m.logger.Error("background task failed", "task_id", task.id, "service", task.cfg.Service, "error", err)
		m.scheduleEviction(task)
		return true
	}

	for k, v := range status.Metadata {
		task.metadata[k] = v
	}

	if status.Completed {
		task.status = TaskComplete
		task.progress = 100
		task.finishedAt = time.Now()
		m.mu.Unlock()

		m.persistTask(task)
		m.emit(task, EventSyncComplete, "")
		m.notifyCompletion(task)
		if task.cfg.AutoSwitch && task.cfg.Type == TaskNodeSync {
			m.autoSwitch(task)
		}
		m.scheduleEviction(task)
		return true
	}

	progress := math.Max(0, math.Min(100, status.Progress))
	task.progress = progress
	// Persist only above the 1-point threshold; events flow every tick.
	persist := math.Abs(progress-task.lastPersisted) > 1.0
	if persist {
		task.lastPersisted = progress
	}
	m.mu.Unlock()

	if persist {
		m.persistTask(task)
	}
	m.emit(task, EventSyncProgress, "")
	return false
}

// autoSwitch performs the dependent-service switch and records it as a
// decision.
func (m *TaskMonitor) autoSwitch(task *monitoredTask) {
	if m.switcher == nil {
		return
	}
	detail, err := m.switcher.SwitchToLocal(task.cfg.Service)
	if err != nil {
		m.logger.Error("auto-switch failed", "task_id", task.id, "service", task.cfg.Service, "error", err)
		return
	}
	m.logger.Info("switched dependents to local resource", "service", task.cfg.Service, "detail", detail)
	if m.state != nil {
		if err := m.state.RecordDecision("auto-switch", detail); err != nil {
			m.logger.Warn("auto-switch decision not recorded", "error", err)
		}
	}
}

// Cancel stops a task's poll loop without signaling completion.
// Idempotent: cancelling a finished or already-cancelled task is a
// no-op.
func (m *TaskMonitor) Cancel(taskID string) error {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.finished() {
		m.mu.Unlock()
		return nil
	}
	wasPending := task.status == TaskPending
	task.status = TaskCancelled
	task.finishedAt = time.Now()
	close(task.stop)
	m.mu.Unlock()

	if !wasPending {
		<-task.loopDone
	}
	m.persistTask(task)
	m.emit(task, EventSyncCancelled, "")
	m.scheduleEviction(task)
	return nil
}

// Task returns a snapshot of the task's current state.
func (m *TaskMonitor) Task(taskID string) (TaskRef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return TaskRef{}, false
	}
	return task.ref(), true
}

// Tasks returns snapshots of all known tasks.
func (m *TaskMonitor) Tasks() []TaskRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := make([]TaskRef, 0, len(m.tasks))
	for _, task := range m.tasks {
		refs = append(refs, task.ref())
	}
	return refs
}

// Completion returns the per-task completion channel. It receives one
// TaskResult when the task completes successfully; cancelled and
// errored tasks never signal it.
func (m *TaskMonitor) Completion(taskID string) (<-chan TaskResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return task.complete, nil
}

// Sweep evicts finished tasks older than maxAge, returning the count
// removed.
func (m *TaskMonitor) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, task := range m.tasks {
		if task.finished() && task.finishedAt.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

func (m *TaskMonitor) notifyCompletion(task *monitoredTask) {
	m.mu.Lock()
	result := TaskResult{
		TaskID:   task.id,
		Status:   task.status,
		Progress: task.progress,
		Metadata: make(map[string]string, len(task.metadata)),
	}
	for k, v := range task.metadata {
		result.Metadata[k] = v
	}
	m.mu.Unlock()

	select {
	case task.complete <- result:
	default:
	}
}

func (m *TaskMonitor) persistTask(task *monitoredTask) {
	if m.state == nil {
		return
	}
	m.mu.Lock()
	ref := task.ref()
	m.mu.Unlock()
	if err := m.state.UpsertTask(ref); err != nil && !errors.Is(err, ErrInstallationComplete) {
		m.logger.Warn("task state not persisted", "task_id", task.id, "error", err)
	}
}

func (m *TaskMonitor) emit(task *monitoredTask, name, errMsg string) {
	m.mu.Lock()
	event := SyncEvent{
		Name:      name,
		TaskID:    task.id,
		Service:   task.cfg.Service,
		Type:      task.cfg.Type,
		Timestamp: time.Now().UTC(),
		Progress:  task.progress,
		Metadata:  make(map[string]string, len(task.metadata)),
		Err:       errMsg,
	}
	for k, v := range task.metadata {
		event.Metadata[k] = v
	}
	m.mu.Unlock()

	m.metrics.SyncEvent(name)
	select {
	case m.events <- event:
	default:
		m.logger.Warn("event subscriber behind, dropping event", "event", name, "task_id", task.id)
	}
}

// scheduleEviction removes a finished task after the grace period,
// keeping it queryable for late callers meanwhile.
func (m *TaskMonitor) scheduleEviction(task *monitoredTask) {
	time.AfterFunc(m.opts.GracePeriod, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if current, ok := m.tasks[task.id]; ok && current == task && current.finished() {
			delete(m.tasks, task.id)
		}
	})
}
