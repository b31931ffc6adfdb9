// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kaspastack/kaspastack/cmd/kaspastack/internal/infra/compose"
	"github.com/kaspastack/kaspastack/pkg/logging"
)

// =============================================================================
// Test Helpers
// =============================================================================

// writeTestDescriptor writes a compose file declaring the given
// services and returns its path.
func writeTestDescriptor(t *testing.T, services ...string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("services:\n")
	for _, svc := range services {
		fmt.Fprintf(&b, "  %s:\n    image: example/%s:latest\n    container_name: %s\n", svc, svc, svc)
	}
	path := filepath.Join(t.TempDir(), "docker-compose.yml")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	return path
}

// runningStatus builds a StatusFunc reporting the given containers as
// running.
func runningStatus(names ...string) func(context.Context) (*compose.Status, error) {
	return func(context.Context) (*compose.Status, error) {
		status := &compose.Status{}
		for _, name := range names {
			status.Services = append(status.Services, compose.ServiceState{
				Name:          name,
				ContainerName: name,
				State:         "running",
			})
			status.Running++
		}
		return status, nil
	}
}

func newTestDeployer(t *testing.T, exec compose.Executor, state *WizardStateStore) *Deployer {
	t.Helper()
	logger := logging.New(logging.Config{Quiet: true})
	return NewDeployer(DefaultCatalog(), exec, state, nil, logger, DeployerOptions{
		SettleDelay: time.Millisecond,
		Retry: RetryPolicy{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
		},
	})
}

// =============================================================================
// Pipeline
// =============================================================================

func TestDeployer_SuccessfulDeployment(t *testing.T) {
	exec := &compose.MockExecutor{
		ComposeFilePath: writeTestDescriptor(t, "kaspa-node"),
		StatusFunc:      runningStatus("kaspa-node"),
	}
	logger := logging.New(logging.Config{Quiet: true})
	store, err := NewWizardStateStore(t.TempDir(), 5, logger)
	if err != nil {
		t.Fatalf("NewWizardStateStore: %v", err)
	}
	defer store.Close()

	var stages []string
	deployer := newTestDeployer(t, exec, store)
	result, err := deployer.Deploy(context.Background(), []string{"kaspa-node"}, func(p DeployProgress) {
		stages = append(stages, p.Stage)
	})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if !result.Success {
		t.Fatalf("Success = false, failed services: %v", result.FailedServices)
	}
	if result.Validation == nil || !result.Validation.Passed {
		t.Errorf("validation = %+v, want passed", result.Validation)
	}

	if len(exec.Pulled) != 1 || exec.Pulled[0] != "supertypo/rusty-kaspad:latest" {
		t.Errorf("pulled = %v", exec.Pulled)
	}
	if len(exec.UpCalls) != 1 {
		t.Fatalf("up calls = %d, want 1", len(exec.UpCalls))
	}
	if !exec.UpCalls[0].RemoveOrphans {
		t.Error("up should remove orphans")
	}
	if len(exec.Removed) != 1 || exec.Removed[0][0] != "kaspa-node" {
		t.Errorf("removed = %v, want stale kaspa-node removal", exec.Removed)
	}

	// Node profile carries a sync task for hand-off.
	if result.SyncTasks["kaspa-node"] != TaskNodeSync {
		t.Errorf("sync tasks = %v", result.SyncTasks)
	}

	// Stage order: pull before start before validate.
	joined := strings.Join(stages, ",")
	if !strings.Contains(joined, StagePull) || !strings.Contains(joined, StageValidate) {
		t.Errorf("progress stages = %v", stages)
	}

	state, _ := store.Get()
	if state.Phase != PhaseSyncing {
		t.Errorf("phase = %s, want %s after successful node deploy", state.Phase, PhaseSyncing)
	}
	if len(state.Services) != 1 || state.Services[0].Status != "running" {
		t.Errorf("service statuses = %+v", state.Services)
	}
}

func TestDeployer_ValidatesServicesWithoutSharedNamePrefix(t *testing.T) {
	// kasplex-indexer, kasplex-db have no "kaspa-" in their container
	// names; validation must still see them when they are running.
	exec := &compose.MockExecutor{
		ComposeFilePath: writeTestDescriptor(t, "kaspa-node", "kasplex-indexer", "kasplex-db"),
		StatusFunc:      runningStatus("kaspa-node", "kasplex-indexer", "kasplex-db"),
	}
	deployer := newTestDeployer(t, exec, nil)

	result, err := deployer.Deploy(context.Background(), []string{"kaspa-node", "kasplex-indexer"}, nil)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if !result.Success {
		t.Fatalf("Success = false, failed services: %v", result.FailedServices)
	}
	if len(result.FailedServices) != 0 {
		t.Errorf("failed services = %v, want none", result.FailedServices)
	}
}

func TestDeployer_MissingServiceFailsValidation(t *testing.T) {
	// Compose up reports success but the node container never appears
	// in the post-start query.
	exec := &compose.MockExecutor{
		ComposeFilePath: writeTestDescriptor(t, "kaspa-node"),
		StatusFunc:      runningStatus(), // nothing running
	}
	deployer := newTestDeployer(t, exec, nil)

	result, err := deployer.Deploy(context.Background(), []string{"kaspa-node"}, nil)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if result.Success {
		t.Fatal("Success = true with kaspa-node absent")
	}
	if len(result.FailedServices) != 1 || result.FailedServices[0] != "kaspa-node" {
		t.Errorf("failed services = %v, want [kaspa-node]", result.FailedServices)
	}
	if result.Validation.Passed {
		t.Error("validation passed with missing service")
	}
	if result.Validation.Checks[0].State != "missing" {
		t.Errorf("check state = %q, want missing", result.Validation.Checks[0].State)
	}
}

func TestDeployer_StoppedServiceFailsValidation(t *testing.T) {
	exec := &compose.MockExecutor{
		ComposeFilePath: writeTestDescriptor(t, "kaspa-node"),
		StatusFunc: func(context.Context) (*compose.Status, error) {
			return &compose.Status{
				Services: []compose.ServiceState{
					{Name: "kaspa-node", ContainerName: "kaspa-node", State: "exited"},
				},
				Stopped: 1,
			}, nil
		},
	}
	deployer := newTestDeployer(t, exec, nil)

	result, err := deployer.Deploy(context.Background(), []string{"kaspa-node"}, nil)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if result.Success {
		t.Fatal("Success = true with exited container")
	}
	if result.Validation.Checks[0].State != "exited" {
		t.Errorf("check state = %q, want exited", result.Validation.Checks[0].State)
	}
}

// =============================================================================
// Continue-on-error stages
// =============================================================================

func TestDeployer_PullFailureIsNotFatal(t *testing.T) {
	exec := &compose.MockExecutor{
		ComposeFilePath: writeTestDescriptor(t, "kaspa-node"),
		StatusFunc:      runningStatus("kaspa-node"),
		PullFunc: func(context.Context, string, time.Duration) (*compose.Result, error) {
			return &compose.Result{}, errors.New("manifest unknown: image not found")
		},
	}
	deployer := newTestDeployer(t, exec, nil)

	result, err := deployer.Deploy(context.Background(), []string{"kaspa-node"}, nil)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if !result.Success {
		t.Error("pull failure should not fail a deployment that starts cleanly")
	}
	if len(result.PullFailures) != 1 {
		t.Errorf("pull failures = %v, want 1 entry", result.PullFailures)
	}
	// Image-not-found is structural, so no pull retries.
	if len(exec.Pulled) != 1 {
		t.Errorf("pull attempts = %d, want 1", len(exec.Pulled))
	}
}

func TestDeployer_BuildFailureIsNotFatal(t *testing.T) {
	exec := &compose.MockExecutor{
		ComposeFilePath: writeTestDescriptor(t, "kaspa-explorer", "kaspa-rest-server"),
		StatusFunc:      runningStatus("kaspa-explorer", "kaspa-rest-server"),
		BuildFunc: func(context.Context, string, time.Duration) (*compose.Result, error) {
			return &compose.Result{}, errors.New("build step failed")
		},
	}
	deployer := newTestDeployer(t, exec, nil)

	result, err := deployer.Deploy(context.Background(), []string{"kaspa-explorer"}, nil)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if !result.Success {
		t.Errorf("build failure should not fail the pipeline; failed: %v", result.FailedServices)
	}
	if _, ok := result.BuildFailures["kaspa-explorer"]; !ok {
		t.Errorf("build failures = %v, want kaspa-explorer entry", result.BuildFailures)
	}
}

// =============================================================================
// Structural failures
// =============================================================================

func TestDeployer_UnknownProfileAborts(t *testing.T) {
	exec := &compose.MockExecutor{ComposeFilePath: writeTestDescriptor(t, "kaspa-node")}
	deployer := newTestDeployer(t, exec, nil)

	_, err := deployer.Deploy(context.Background(), []string{"no-such-profile"}, nil)
	if err == nil {
		t.Fatal("expected error for unknown profile")
	}
	if len(exec.Pulled) != 0 || len(exec.UpCalls) != 0 {
		t.Error("compose invoked despite structural failure")
	}
}

func TestDeployer_DescriptorMissingServiceAborts(t *testing.T) {
	// Descriptor lacks the node service the profile expects.
	exec := &compose.MockExecutor{ComposeFilePath: writeTestDescriptor(t, "kaspa-explorer")}
	deployer := newTestDeployer(t, exec, nil)

	_, err := deployer.Deploy(context.Background(), []string{"kaspa-node"}, nil)
	if err == nil {
		t.Fatal("expected descriptor mismatch error")
	}
	if !strings.Contains(err.Error(), "kaspa-node") {
		t.Errorf("error %q should name the missing service", err)
	}
	if len(exec.UpCalls) != 0 {
		t.Error("compose up invoked despite descriptor mismatch")
	}
}

func TestDeployer_MissingDescriptorAborts(t *testing.T) {
	exec := &compose.MockExecutor{
		ComposeFilePath: filepath.Join(t.TempDir(), "docker-compose.yml"),
	}
	deployer := newTestDeployer(t, exec, nil)

	_, err := deployer.Deploy(context.Background(), []string{"kaspa-node"}, nil)
	if !errors.Is(err, compose.ErrComposeFileMissing) {
		t.Fatalf("err = %v, want ErrComposeFileMissing", err)
	}
}

// =============================================================================
// Retry
// =============================================================================

func TestDeployer_TransientStartErrorRetried(t *testing.T) {
	attempts := 0
	exec := &compose.MockExecutor{
		ComposeFilePath: writeTestDescriptor(t, "kaspa-node"),
		StatusFunc:      runningStatus("kaspa-node"),
		UpFunc: func(context.Context, compose.UpOptions) (*compose.Result, error) {
			attempts++
			if attempts == 1 {
				return &compose.Result{}, errors.New("read tcp: connection reset by peer")
			}
			return &compose.Result{Success: true}, nil
		},
	}
	deployer := newTestDeployer(t, exec, nil)

	result, err := deployer.Deploy(context.Background(), []string{"kaspa-node"}, nil)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if !result.Success {
		t.Error("deployment should succeed after transient retry")
	}
	if attempts != 2 {
		t.Errorf("up attempts = %d, want 2", attempts)
	}
}

func TestDeployer_NonTransientStartErrorPropagates(t *testing.T) {
	attempts := 0
	exec := &compose.MockExecutor{
		ComposeFilePath: writeTestDescriptor(t, "kaspa-node"),
		UpFunc: func(context.Context, compose.UpOptions) (*compose.Result, error) {
			attempts++
			return &compose.Result{}, errors.New("bind: address already in use")
		},
	}
	deployer := newTestDeployer(t, exec, nil)

	result, err := deployer.Deploy(context.Background(), []string{"kaspa-node"}, nil)
	if err == nil {
		t.Fatal("expected start failure to propagate")
	}
	if attempts != 1 {
		t.Errorf("up attempts = %d, want 1 for a non-transient error", attempts)
	}
	var infraErr *InfraError
	if !errors.As(err, &infraErr) || infraErr.Kind != InfraPortAllocated {
		t.Errorf("err = %v, want port-allocated infra error", err)
	}
	if result == nil {
		t.Fatal("result should still describe the partial pipeline")
	}
	if result.Success {
		t.Error("Success = true after start failure")
	}
}

func TestDeployer_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &compose.MockExecutor{
		ComposeFilePath: writeTestDescriptor(t, "kaspa-node"),
		PullFunc: func(context.Context, string, time.Duration) (*compose.Result, error) {
			cancel()
			return &compose.Result{Success: true}, nil
		},
	}
	deployer := newTestDeployer(t, exec, nil)

	_, err := deployer.Deploy(ctx, []string{"kaspa-node"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(exec.UpCalls) != 0 {
		t.Error("pipeline continued past cancellation")
	}
}
