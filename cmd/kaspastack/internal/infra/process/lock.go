// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Locker serializes mutating CLI invocations across processes.
//
// # Description
//
// Locker prevents two CLI instances from mutating the stack at the same
// time. Without it, one terminal running `kaspastack install` can race a
// second terminal running `kaspastack destroy`, corrupting the wizard
// state file or the backup store mid-write.
//
// # Thread Safety
//
// Implementations need only be safe from a single goroutine. The lock
// provides inter-process exclusion, not intra-process.
type Locker interface {
	// Acquire attempts to take the exclusive lock without blocking.
	// Returns *ErrLockHeld when another process holds it.
	Acquire() error

	// Release drops the lock if held. Safe to call repeatedly or when
	// the lock was never acquired.
	Release() error

	// IsHeld reports whether this instance currently holds the lock.
	IsHeld() bool

	// HolderPID returns the PID recorded by the current holder, or 0
	// when unknown.
	HolderPID() int
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// LockConfig controls where the lock and PID files live.
type LockConfig struct {
	// LockDir is the directory for lock files.
	// Default: system temp directory
	LockDir string

	// LockName is the base name for the lock and PID files.
	// Default: "kaspastack"
	LockName string
}

// DefaultLockConfig returns the default lock location: the system temp
// directory under the "kaspastack" name.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		LockDir:  os.TempDir(),
		LockName: "kaspastack",
	}
}

// -----------------------------------------------------------------------------
// Default Implementation
// -----------------------------------------------------------------------------

// FileLock implements Locker with flock(2) advisory locking.
//
// # Description
//
// Acquire creates {LockDir}/{LockName}.lock, takes a non-blocking
// exclusive flock on it, and records the holder's PID in
// {LockDir}/{LockName}.pid for error messages. Release removes the PID
// file and drops the flock. If the process dies without releasing, the
// OS drops the flock with the file descriptor, so a crash never leaves
// the stack permanently locked (the PID file may linger and go stale).
//
// # Limitations
//
//   - Advisory only: processes that never call Acquire are not excluded
//   - flock does not work reliably on NFS mounts
//
// # Thread Safety
//
// FileLock is not safe for concurrent use from multiple goroutines. Use
// one instance from the main goroutine.
type FileLock struct {
	config   LockConfig
	lockPath string
	pidPath  string
	lockFile *os.File
	held     bool
}

// NewFileLock creates a lock at the configured location. The lock is
// not acquired until Acquire is called.
func NewFileLock(config LockConfig) *FileLock {
	if config.LockDir == "" {
		config.LockDir = os.TempDir()
	}
	if config.LockName == "" {
		config.LockName = "kaspastack"
	}

	return &FileLock{
		config:   config,
		lockPath: filepath.Join(config.LockDir, config.LockName+".lock"),
		pidPath:  filepath.Join(config.LockDir, config.LockName+".pid"),
	}
}

// Acquire takes the exclusive lock without blocking.
//
// # Outputs
//
//   - error: nil on success; *ErrLockHeld when another process holds
//     the lock; other errors for filesystem failures
func (l *FileLock) Acquire() error {
	if l.held {
		return nil
	}

	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("create lock file %s: %w", l.lockPath, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return &ErrLockHeld{HolderPID: l.readHolderPID(), LockPath: l.lockPath}
		}
		return fmt.Errorf("acquire lock %s: %w", l.lockPath, err)
	}

	l.lockFile = f
	l.held = true

	// Best effort: the flock is what excludes, the PID file only
	// improves the contention error message.
	_ = l.writePID()

	return nil
}

// Release drops the lock if held. Idempotent.
func (l *FileLock) Release() error {
	if !l.held || l.lockFile == nil {
		return nil
	}

	os.Remove(l.pidPath)

	err := syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_UN)

	// Closing the descriptor releases the flock even if LOCK_UN failed.
	l.lockFile.Close()
	l.lockFile = nil
	l.held = false

	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.lockPath, err)
	}
	return nil
}

// IsHeld reports whether this instance holds the lock. Local state
// only; it does not re-check the flock.
func (l *FileLock) IsHeld() bool {
	return l.held
}

// HolderPID returns the PID from the PID file, or 0 when absent or
// unreadable. May be stale if the holder crashed without cleanup.
func (l *FileLock) HolderPID() int {
	return l.readHolderPID()
}

// LockPath returns the lock file path, for error messages.
func (l *FileLock) LockPath() string {
	return l.lockPath
}

func (l *FileLock) writePID() error {
	return os.WriteFile(l.pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

func (l *FileLock) readHolderPID() int {
	data, err := os.ReadFile(l.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// ErrLockHeld reports that another kaspastack process holds the lock.
type ErrLockHeld struct {
	HolderPID int
	LockPath  string
}

// Error implements the error interface.
func (e *ErrLockHeld) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("another kaspastack instance is running (PID %d)", e.HolderPID)
	}
	return fmt.Sprintf("another kaspastack instance is running (check: lsof %s)", e.LockPath)
}

// -----------------------------------------------------------------------------
// Compile-time Interface Compliance Checks
// -----------------------------------------------------------------------------

var _ Locker = (*FileLock)(nil)
