// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package process provides abstractions for external process execution.

# Overview

All exec.Command calls in the deployment code go through the Manager
interface so that unit tests can run without real subprocesses.

	pm := process.NewDefaultManager()
	output, err := pm.Run(ctx, "docker", "compose", "version")
	if err != nil {
	    return fmt.Errorf("failed to probe compose: %w", err)
	}

For testing, use MockManager:

	mock := &process.MockManager{
	    RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
	        return []byte("mock output"), nil
	    },
	}

The package also provides Locker, a flock(2)-based lock that keeps two
CLI processes from mutating the stack at the same time:

	lock := process.NewFileLock(process.DefaultLockConfig())
	if err := lock.Acquire(); err != nil {
	    return err
	}
	defer lock.Release()

# Thread Safety

Manager implementations are safe for concurrent use.

# Limitations

  - Output is buffered in memory; use RunStreaming for log tails
  - Exit codes are only available through RunInDir
*/
package process
