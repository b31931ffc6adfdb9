// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Manager handles external process operations.
//
// # Description
//
// This interface abstracts all interaction with the operating system's
// process management, enabling testable code that doesn't require real
// process execution.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
//
// # Context Handling
//
// All methods accept a context.Context for cancellation and timeout support.
// Long-running processes must respect context cancellation.
type Manager interface {
	// Run executes a command synchronously and returns its stdout.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - name: The executable name or path
	//   - args: Command arguments (variadic)
	//
	// # Outputs
	//
	//   - []byte: Stdout output
	//   - error: Non-nil if command fails or is cancelled
	//
	// # Examples
	//
	//   output, err := pm.Run(ctx, "docker", "ps", "--format", "json")
	//
	// # Limitations
	//
	//   - Stderr is folded into the returned error on failure
	//   - Large output may consume significant memory
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunInDir executes a command in a working directory with extra
	// environment variables, returning stdout, stderr, and the exit code.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - dir: Working directory ("" for inherited)
	//   - env: Extra environment variables merged over os.Environ (may be nil)
	//   - name: The executable name or path
	//   - args: Command arguments (variadic)
	//
	// # Outputs
	//
	//   - stdout, stderr: Captured output
	//   - exitCode: Process exit code (-1 if the process never started)
	//   - error: Non-nil on non-zero exit, start failure, or cancellation
	//
	// # Examples
	//
	//   stdout, stderr, code, err := pm.RunInDir(ctx, stackDir,
	//       map[string]string{"KASPA_NETWORK": "mainnet"},
	//       "docker", "compose", "up", "-d")
	RunInDir(ctx context.Context, dir string, env map[string]string, name string, args ...string) (stdout, stderr string, exitCode int, err error)

	// RunStreaming executes a command and streams combined output to w.
	//
	// # Description
	//
	// Used for long-lived output such as log tails. Blocks until the
	// process exits or the context is cancelled.
	//
	// # Limitations
	//
	//   - Output is not captured; the exit code is folded into err
	RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error
}

// -----------------------------------------------------------------------------
// Default Implementation
// -----------------------------------------------------------------------------

// DefaultManager implements Manager using os/exec.
//
// # Thread Safety
//
// DefaultManager is stateless and safe for concurrent use.
type DefaultManager struct{}

// NewDefaultManager creates a process manager backed by os/exec.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// Run executes a command synchronously and returns its stdout.
func (m *DefaultManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return stdout.Bytes(), fmt.Errorf("%s failed: %w: %s", name, err, stderr.String())
		}
		return stdout.Bytes(), fmt.Errorf("%s failed: %w", name, err)
	}

	return stdout.Bytes(), nil
}

// RunInDir executes a command with directory and environment control.
func (m *DefaultManager) RunInDir(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = mergedEnviron(env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := exitCodeOf(cmd, err)

	if err != nil {
		return stdout.String(), stderr.String(), exitCode, fmt.Errorf("%s failed: %w", name, err)
	}
	return stdout.String(), stderr.String(), exitCode, nil
}

// RunStreaming executes a command with output streamed to w.
func (m *DefaultManager) RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Run(); err != nil {
		// Context cancellation is the normal way to end a follow; report
		// it as the cause rather than the resulting kill signal.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

// mergedEnviron merges extra variables over the inherited environment.
// Keys are applied in sorted order so invocations are reproducible.
func mergedEnviron(extra map[string]string) []string {
	environ := os.Environ()
	if len(extra) == 0 {
		return environ
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		environ = append(environ, k+"="+extra[k])
	}
	return environ
}

// exitCodeOf extracts the exit code from a finished command.
func exitCodeOf(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockManager is a test double for Manager.
//
// # Description
//
// Provides configurable behavior for process execution in tests and
// records every invocation for verification.
//
// # Thread Safety
//
// MockManager is safe for concurrent use.
type MockManager struct {
	// RunFunc is called by Run. Nil returns empty output.
	RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunInDirFunc is called by RunInDir. Nil returns success.
	RunInDirFunc func(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error)

	// RunStreamingFunc is called by RunStreaming. Nil returns nil.
	RunStreamingFunc func(ctx context.Context, dir string, w io.Writer, name string, args ...string) error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a single invocation of the mock.
type MockCall struct {
	// Method is "Run", "RunInDir", or "RunStreaming".
	Method string

	// Name is the executable name.
	Name string

	// Args are the command arguments.
	Args []string

	// Dir is the working directory (RunInDir/RunStreaming only).
	Dir string

	// Env is the extra environment (RunInDir only).
	Env map[string]string
}

// Run invokes RunFunc or returns empty output.
func (m *MockManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.record(MockCall{Method: "Run", Name: name, Args: args})
	if m.RunFunc != nil {
		return m.RunFunc(ctx, name, args...)
	}
	return nil, nil
}

// RunInDir invokes RunInDirFunc or returns success.
func (m *MockManager) RunInDir(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
	m.record(MockCall{Method: "RunInDir", Name: name, Args: args, Dir: dir, Env: env})
	if m.RunInDirFunc != nil {
		return m.RunInDirFunc(ctx, dir, env, name, args...)
	}
	return "", "", 0, nil
}

// RunStreaming invokes RunStreamingFunc or returns nil.
func (m *MockManager) RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error {
	m.record(MockCall{Method: "RunStreaming", Name: name, Args: args, Dir: dir})
	if m.RunStreamingFunc != nil {
		return m.RunStreamingFunc(ctx, dir, w, name, args...)
	}
	return nil
}

// Calls returns a copy of all recorded invocations.
func (m *MockManager) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockManager) record(c MockCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

// -----------------------------------------------------------------------------
// Compile-time Interface Compliance Checks
// -----------------------------------------------------------------------------

var _ Manager = (*DefaultManager)(nil)
var _ Manager = (*MockManager)(nil)
