// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kaspastack/kaspastack/cmd/kaspastack/config"
	"github.com/kaspastack/kaspastack/cmd/kaspastack/internal/envfile"
	"github.com/kaspastack/kaspastack/cmd/kaspastack/internal/infra/compose"
	"github.com/kaspastack/kaspastack/cmd/kaspastack/internal/infra/process"
	"github.com/kaspastack/kaspastack/pkg/logging"
)

// app wires the components behind every CLI command. Constructed once
// per invocation; no package-level mutable state.
type app struct {
	cfg      *config.AppConfig
	logger   *logging.Logger
	catalog  *Catalog
	proc     process.Manager
	exec     compose.Executor
	state    *WizardStateStore
	versions *VersionStore
	metrics  *Metrics

	metricsServer *http.Server
}

// newApp loads configuration and constructs the component graph.
func newApp(configPath string, logLevel string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	if logLevel != "" {
		level = logging.ParseLevel(logLevel)
	}
	logger := logging.New(logging.Config{
		Level:  level,
		LogDir: cfg.Logging.Dir,
		JSON:   cfg.Logging.JSON,
	})

	proc := process.NewDefaultManager()
	exec, err := compose.NewDefaultExecutor(compose.Config{
		StackDir:    cfg.Stack.Dir,
		ProjectName: cfg.Stack.ProjectName,
		ComposeFile: cfg.Stack.ComposeFile,
	}, proc)
	if err != nil {
		logger.Close()
		return nil, err
	}

	state, err := NewWizardStateStore(cfg.State.Dir, 20, logger)
	if err != nil {
		logger.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		catalog:  DefaultCatalog(),
		proc:     proc,
		exec:     exec,
		state:    state,
		versions: NewVersionStore(cfg.Stack.Dir, filepath.Join(cfg.State.Dir, "backups"), cfg.Backups.MaxSnapshots, logger),
		metrics:  NewMetrics(),
	}

	if metricsAddr != "" {
		a.serveMetrics(metricsAddr)
	}
	return a, nil
}

// close releases the state store and log file. Safe to call once per
// invocation.
func (a *app) close() {
	if a.metricsServer != nil {
		a.metricsServer.Close()
	}
	a.state.Close()
	a.logger.Close()
}

// serveMetrics exposes the prometheus registry for long-lived
// invocations such as install --wait-sync.
func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{}))
	a.metricsServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Warn("metrics endpoint stopped", "addr", addr, "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", addr)
}

// envPath is the stack's live configuration file.
func (a *app) envPath() string {
	return filepath.Join(a.cfg.Stack.Dir, ".env")
}

// loadStackEnv reads the live .env, returning an empty map when the
// stack has not been configured yet.
func (a *app) loadStackEnv() (map[string]string, error) {
	return envfile.Read(a.envPath())
}

// writeStackEnv persists the resolved configuration, creating the stack
// directory on first install.
func (a *app) writeStackEnv(values map[string]string) error {
	if err := os.MkdirAll(a.cfg.Stack.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create stack directory: %w", err)
	}
	return envfile.Write(a.envPath(), values)
}

// newMonitor builds a task monitor over the app's shared components.
func (a *app) newMonitor() *TaskMonitor {
	return NewTaskMonitor(
		a.state,
		DefaultCheckers(a.proc),
		&EnvAutoSwitcher{StackDir: a.cfg.Stack.Dir},
		a.metrics,
		a.logger,
		MonitorOptions{
			DefaultInterval: time.Duration(a.cfg.Monitor.PollIntervalSeconds) * time.Second,
			GracePeriod:     time.Duration(a.cfg.Monitor.GracePeriodSeconds) * time.Second,
		},
	)
}
