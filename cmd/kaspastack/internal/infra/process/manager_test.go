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
	"strings"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// DefaultManager Tests
// -----------------------------------------------------------------------------

func TestDefaultManager_Run_Success(t *testing.T) {
	pm := NewDefaultManager()

	output, err := pm.Run(context.Background(), "echo", "hello world")
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if got := strings.TrimSpace(string(output)); got != "hello world" {
		t.Errorf("Run() output = %q, want %q", got, "hello world")
	}
}

func TestDefaultManager_Run_NonExistentCommand(t *testing.T) {
	pm := NewDefaultManager()

	_, err := pm.Run(context.Background(), "definitely-not-a-real-command-xyz")
	if err == nil {
		t.Fatal("Run() expected error for non-existent command")
	}
}

func TestDefaultManager_Run_StderrInError(t *testing.T) {
	pm := NewDefaultManager()

	_, err := pm.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	if err == nil {
		t.Fatal("Run() expected error for failing command")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("Run() error %q should include stderr", err)
	}
}

func TestDefaultManager_Run_ContextCancellation(t *testing.T) {
	pm := NewDefaultManager()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := pm.Run(ctx, "sleep", "5")
	if err == nil {
		t.Fatal("Run() expected error for cancelled context")
	}
}

func TestDefaultManager_RunInDir(t *testing.T) {
	pm := NewDefaultManager()
	dir := t.TempDir()

	stdout, stderr, code, err := pm.RunInDir(context.Background(), dir, nil, "pwd")
	if err != nil {
		t.Fatalf("RunInDir() unexpected error: %v (stderr: %s)", err, stderr)
	}
	if code != 0 {
		t.Errorf("RunInDir() exit code = %d, want 0", code)
	}
	if got := strings.TrimSpace(stdout); got != dir {
		t.Errorf("RunInDir() cwd = %q, want %q", got, dir)
	}
}

func TestDefaultManager_RunInDir_EnvInjection(t *testing.T) {
	pm := NewDefaultManager()

	stdout, _, _, err := pm.RunInDir(context.Background(), "",
		map[string]string{"KASPA_NETWORK": "testnet-10"},
		"sh", "-c", "echo $KASPA_NETWORK")
	if err != nil {
		t.Fatalf("RunInDir() unexpected error: %v", err)
	}
	if got := strings.TrimSpace(stdout); got != "testnet-10" {
		t.Errorf("RunInDir() env = %q, want testnet-10", got)
	}
}

func TestDefaultManager_RunInDir_ExitCode(t *testing.T) {
	pm := NewDefaultManager()

	_, _, code, err := pm.RunInDir(context.Background(), "", nil, "sh", "-c", "exit 7")
	if err == nil {
		t.Fatal("RunInDir() expected error for non-zero exit")
	}
	if code != 7 {
		t.Errorf("RunInDir() exit code = %d, want 7", code)
	}
}

func TestDefaultManager_RunStreaming(t *testing.T) {
	pm := NewDefaultManager()
	var buf bytes.Buffer

	err := pm.RunStreaming(context.Background(), "", &buf, "echo", "streamed line")
	if err != nil {
		t.Fatalf("RunStreaming() unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "streamed line") {
		t.Errorf("RunStreaming() output = %q", buf.String())
	}
}

func TestDefaultManager_RunStreaming_CancellationReportsContext(t *testing.T) {
	pm := NewDefaultManager()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	err := pm.RunStreaming(ctx, "", &buf, "sleep", "5")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RunStreaming() err = %v, want context.DeadlineExceeded", err)
	}
}

// -----------------------------------------------------------------------------
// MockManager Tests
// -----------------------------------------------------------------------------

func TestMockManager_RecordsCalls(t *testing.T) {
	mock := &MockManager{}

	mock.Run(context.Background(), "docker", "ps")
	mock.RunInDir(context.Background(), "/tmp", map[string]string{"A": "1"}, "docker", "compose", "up")

	calls := mock.Calls()
	if len(calls) != 2 {
		t.Fatalf("Calls() = %d entries, want 2", len(calls))
	}
	if calls[0].Method != "Run" || calls[0].Name != "docker" {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[1].Method != "RunInDir" || calls[1].Dir != "/tmp" {
		t.Errorf("second call = %+v", calls[1])
	}
	if calls[1].Env["A"] != "1" {
		t.Errorf("env not recorded: %+v", calls[1].Env)
	}
}

func TestMockManager_CustomRunFunc(t *testing.T) {
	mock := &MockManager{
		RunFunc: func(_ context.Context, name string, args ...string) ([]byte, error) {
			return []byte("mocked"), nil
		},
	}

	output, err := mock.Run(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if string(output) != "mocked" {
		t.Errorf("Run() output = %q, want mocked", output)
	}
}
