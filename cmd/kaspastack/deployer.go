// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kaspastack/kaspastack/cmd/kaspastack/internal/infra/compose"
	"github.com/kaspastack/kaspastack/pkg/logging"
)

// =============================================================================
// Types
// =============================================================================

// Deployment stage names, in pipeline order.
const (
	StagePull     = "pull"
	StageBuild    = "build"
	StageStart    = "start"
	StageValidate = "validate"
)

// DeployProgress is one progress report from the pipeline.
type DeployProgress struct {
	// Stage is the current pipeline stage.
	Stage string

	// Item is the image or service being worked on. Empty for
	// stage-level messages.
	Item string

	// Message is a human-readable description.
	Message string

	// Current and Total track per-item progress within the stage.
	Current int
	Total   int
}

// ProgressFunc receives pipeline progress. May be nil.
type ProgressFunc func(DeployProgress)

// ServiceCheck is one service's observed post-start state.
type ServiceCheck struct {
	// Service is the compose service name.
	Service string

	// Running reports whether the container was observed running.
	Running bool

	// State is the raw container state, or "missing".
	State string
}

// StartValidation is the post-start verification outcome.
type StartValidation struct {
	// Checks holds one entry per expected service.
	Checks []ServiceCheck

	// Passed is true when every expected service is running.
	Passed bool
}

// DeployResult is the outcome of one deployment.
type DeployResult struct {
	// Success is true only when the start stage and post-start
	// validation both succeeded. Pull and build failures alone do not
	// clear it; the compose tool resolves images at start time.
	Success bool

	// Validation holds the post-start per-service check. Nil if the
	// pipeline failed before validating.
	Validation *StartValidation

	// FailedServices names expected services that were missing or not
	// running after start.
	FailedServices []string

	// PullFailures maps image reference to failure message.
	PullFailures map[string]string

	// BuildFailures maps service name to failure message.
	BuildFailures map[string]string

	// SyncTasks maps services needing post-start synchronization to
	// their task type, for hand-off to the task monitor.
	SyncTasks map[string]TaskType

	// Elapsed is the total pipeline duration.
	Elapsed time.Duration
}

// DeployerOptions tunes the deployment pipeline.
type DeployerOptions struct {
	// PullTimeout per image. Default 10m.
	PullTimeout time.Duration

	// BuildTimeout per service. Default 20m.
	BuildTimeout time.Duration

	// StartTimeout per compose up attempt. Default 5m.
	StartTimeout time.Duration

	// SettleDelay between start and validation. Default 5s.
	SettleDelay time.Duration

	// Retry wraps the start stage. Zero value uses DefaultRetryPolicy.
	Retry RetryPolicy
}

func (o *DeployerOptions) withDefaults() {
	if o.PullTimeout <= 0 {
		o.PullTimeout = 10 * time.Minute
	}
	if o.BuildTimeout <= 0 {
		o.BuildTimeout = 20 * time.Minute
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = 5 * time.Minute
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = 5 * time.Second
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = DefaultRetryPolicy()
	}
}

// =============================================================================
// Deployer
// =============================================================================

// Deployer drives the pull -> build -> start -> validate pipeline
// against the compose tool.
//
// # Description
//
// Pull and build run sequentially per item and continue past individual
// failures (the compose tool re-resolves images at start time, so a
// stale cached image can still serve). The start stage is wrapped in
// transient-error retry; a structural failure (unknown profile, missing
// descriptor service) aborts immediately. After start, a settle delay
// precedes a per-service running check; any expected service that is
// missing or stopped fails the deployment, and started containers are
// left running for the operator or a rollback to handle.
//
// # Thread Safety
//
// One Deploy call at a time; the compose executor serializes the
// underlying state-changing commands.
type Deployer struct {
	catalog *Catalog
	exec    compose.Executor
	state   *WizardStateStore
	metrics *Metrics
	logger  *logging.Logger
	opts    DeployerOptions
}

// NewDeployer creates a deployment pipeline.
func NewDeployer(catalog *Catalog, exec compose.Executor, state *WizardStateStore, metrics *Metrics, logger *logging.Logger, opts DeployerOptions) *Deployer {
	if logger == nil {
		logger = logging.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	opts.withDefaults()
	return &Deployer{
		catalog: catalog,
		exec:    exec,
		state:   state,
		metrics: metrics,
		logger:  logger,
		opts:    opts,
	}
}

// Deploy runs the full pipeline for the given profile ids.
//
// # Inputs
//
//   - ctx: Cancels the pipeline between items and aborts the current
//     compose operation
//   - profileIDs: Requested profiles (legacy ids accepted)
//   - onProgress: Optional per-item progress callback
//
// # Outputs
//
//   - *DeployResult: Pipeline outcome; non-nil whenever err is nil
//   - error: Structural failures only (unknown profiles, descriptor
//     mismatch, unrecoverable start failure)
func (d *Deployer) Deploy(ctx context.Context, profileIDs []string, onProgress ProgressFunc) (*DeployResult, error) {
	started := time.Now()

	resolved := d.catalog.Resolve(profileIDs)
	if !resolved.Valid() {
		var msgs []string
		for _, issue := range resolved.Errors {
			msgs = append(msgs, issue.Message)
		}
		return nil, fmt.Errorf("invalid profile selection: %s", strings.Join(msgs, "; "))
	}
	profiles := resolved.Normalized

	expected := d.catalog.ServicesFor(profiles)
	descriptor, err := compose.LoadDescriptor(d.exec.ComposeFile())
	if err != nil {
		return nil, err
	}
	if missing := descriptor.MissingServices(expected); len(missing) > 0 {
		return nil, fmt.Errorf("compose descriptor %s does not declare services: %s",
			d.exec.ComposeFile(), strings.Join(missing, ", "))
	}

	result := &DeployResult{
		PullFailures:  map[string]string{},
		BuildFailures: map[string]string{},
		SyncTasks:     d.catalog.SyncServicesFor(profiles),
	}

	d.setPhase(PhasePreparing, 1)
	d.pullStage(ctx, profiles, result, onProgress)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.setPhase(PhaseBuilding, 2)
	d.buildStage(ctx, profiles, result, onProgress)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.setPhase(PhaseStarting, 3)
	if err := d.startStage(ctx, profiles, expected, descriptor, onProgress); err != nil {
		d.metrics.StageRun(StageStart, "failure")
		result.Elapsed = time.Since(started)
		return result, err
	}
	d.metrics.StageRun(StageStart, "success")

	d.setPhase(PhaseValidating, 4)
	if err := d.validateStage(ctx, expected, descriptor, result, onProgress); err != nil {
		result.Elapsed = time.Since(started)
		return result, err
	}

	result.Success = result.Validation.Passed
	result.Elapsed = time.Since(started)
	if result.Success && len(result.SyncTasks) > 0 {
		d.setPhase(PhaseSyncing, 5)
	}
	return result, nil
}

// =============================================================================
// Stages
// =============================================================================

// pullStage fetches each profile image, continuing past failures.
func (d *Deployer) pullStage(ctx context.Context, profiles []string, result *DeployResult, onProgress ProgressFunc) {
	images := d.catalog.ImagesFor(profiles)
	for i, image := range images {
		if ctx.Err() != nil {
			return
		}
		report(onProgress, DeployProgress{
			Stage: StagePull, Item: image,
			Message: fmt.Sprintf("Pulling %s", image),
			Current: i + 1, Total: len(images),
		})

		err := RetryTransient(ctx, d.logger, d.opts.Retry, "pull "+image, func(ctx context.Context) error {
			if _, pullErr := d.exec.Pull(ctx, image, d.opts.PullTimeout); pullErr != nil {
				return ClassifyInfraError(StagePull, image, pullErr)
			}
			return nil
		})
		if err != nil {
			// Not fatal: start may still succeed from a cached image.
			result.PullFailures[image] = err.Error()
			d.metrics.StageRun(StagePull, "failure")
			d.logger.Warn("image pull failed", "image", image, "error", err)
			continue
		}
		d.metrics.StageRun(StagePull, "success")
	}
}

// buildStage builds each locally-built service, continuing past
// failures.
func (d *Deployer) buildStage(ctx context.Context, profiles []string, result *DeployResult, onProgress ProgressFunc) {
	services := d.catalog.BuildServicesFor(profiles)
	for i, service := range services {
		if ctx.Err() != nil {
			return
		}
		report(onProgress, DeployProgress{
			Stage: StageBuild, Item: service,
			Message: fmt.Sprintf("Building %s", service),
			Current: i + 1, Total: len(services),
		})

		if _, err := d.exec.Build(ctx, service, d.opts.BuildTimeout); err != nil {
			result.BuildFailures[service] = err.Error()
			d.metrics.StageRun(StageBuild, "failure")
			d.logger.Warn("service build failed", "service", service, "error", err)
			continue
		}
		d.metrics.StageRun(StageBuild, "success")
	}
}

// startStage removes stale name-colliding containers, then brings the
// stack up with transient-error retry.
func (d *Deployer) startStage(ctx context.Context, profiles, expected []string, descriptor *compose.Descriptor, onProgress ProgressFunc) error {
	report(onProgress, DeployProgress{Stage: StageStart, Message: "Removing stale containers"})

	// Container names are a global namespace; a leftover container from
	// a prior run blocks `up` from reusing the name.
	names := make([]string, 0, len(expected))
	for _, service := range expected {
		names = append(names, descriptor.ContainerNameFor(service))
	}
	if err := d.exec.RemoveContainers(ctx, names); err != nil {
		return ClassifyInfraError(StageStart, "", err)
	}

	report(onProgress, DeployProgress{Stage: StageStart, Message: "Starting services"})
	return RetryTransient(ctx, d.logger, d.opts.Retry, "compose up", func(ctx context.Context) error {
		if _, err := d.exec.Up(ctx, compose.UpOptions{
			Profiles:      profiles,
			RemoveOrphans: true,
			Timeout:       d.opts.StartTimeout,
		}); err != nil {
			return ClassifyInfraError(StageStart, "", err)
		}
		return nil
	})
}

// validateStage checks every expected service is running after a
// settle delay.
func (d *Deployer) validateStage(ctx context.Context, expected []string, descriptor *compose.Descriptor, result *DeployResult, onProgress ProgressFunc) error {
	report(onProgress, DeployProgress{Stage: StageValidate, Message: "Verifying services"})

	if !sleepWithContext(ctx, d.opts.SettleDelay) {
		return ctx.Err()
	}

	status, err := d.exec.Status(ctx)
	if err != nil {
		return ClassifyInfraError(StageValidate, "", err)
	}

	observed := make(map[string]string, len(status.Services))
	for _, svc := range status.Services {
		observed[svc.ContainerName] = svc.State
	}

	validation := &StartValidation{Passed: true}
	for _, service := range expected {
		state, present := observed[descriptor.ContainerNameFor(service)]
		check := ServiceCheck{Service: service, State: state}
		if !present {
			check.State = "missing"
		}
		check.Running = present && state == "running"
		if !check.Running {
			validation.Passed = false
			result.FailedServices = append(result.FailedServices, service)
			d.logger.Error("service not running after start", "service", service, "state", check.State)
		}
		validation.Checks = append(validation.Checks, check)
		d.setServiceStatus(service, check.State)
	}

	result.Validation = validation
	if validation.Passed {
		d.metrics.StageRun(StageValidate, "success")
	} else {
		d.metrics.StageRun(StageValidate, "failure")
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func report(onProgress ProgressFunc, p DeployProgress) {
	if onProgress != nil {
		onProgress(p)
	}
}

func (d *Deployer) setPhase(phase Phase, step int) {
	if d.state == nil {
		return
	}
	if err := d.state.SetPhase(phase, step); err != nil {
		d.logger.Warn("deployment phase not persisted", "phase", phase, "error", err)
	}
}

func (d *Deployer) setServiceStatus(service, status string) {
	if d.state == nil {
		return
	}
	if err := d.state.SetServiceStatus(service, status); err != nil {
		d.logger.Warn("service status not persisted", "service", service, "error", err)
	}
}
