// Copyright (C) 2026 Coveline Data (ops@coveline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package compose drives the container supervisor (docker compose) for
// the analytics stack. The orchestrator never inspects process
// internals beyond starting, stopping, reading logs, and running a
// one-shot command inside a service container.
package compose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coveline/hivectl/cmd/hivectl/internal/infra/process"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrComposeNotFound is returned when the docker binary is not on PATH.
	ErrComposeNotFound = errors.New("docker not found")

	// ErrComposeFileMissing is returned when the compose file doesn't exist.
	ErrComposeFileMissing = errors.New("compose file not found")

	// ErrInvalidConfig is returned when the supervisor config is invalid.
	ErrInvalidConfig = errors.New("invalid supervisor configuration")
)

// =============================================================================
// Interface Definition
// =============================================================================

// Supervisor manages the lifecycle of supervised stack services.
//
// # Description
//
// Abstracts docker compose so the orchestrator is testable and so the
// container runtime could be swapped without touching control logic.
// Exactly four operations are exposed; everything else about the
// containers is opaque to callers.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Operations that
// modify container state (Start, Stop) should be serialized per service
// by the caller; the graph walker guarantees this.
type Supervisor interface {
	// Start brings one service up detached (`up -d <service>`).
	// Starting an already-running service is a no-op at the compose level.
	Start(ctx context.Context, service string) error

	// Stop stops one service without removing its container or volumes.
	Stop(ctx context.Context, service string) error

	// Logs returns the last tail lines of a service's output.
	Logs(ctx context.Context, service string, tail int) (string, error)

	// Exec runs a one-shot command inside a running service container
	// and returns its stdout. The error carries exit code and stderr.
	Exec(ctx context.Context, service string, cmd ...string) (string, error)

	// Ps returns the supervisor's view of running stack services,
	// keyed by service name with a coarse state string.
	Ps(ctx context.Context) (map[string]string, error)
}

// =============================================================================
// Configuration
// =============================================================================

// Config locates the compose project.
type Config struct {
	// Binary is the container CLI (default "docker").
	Binary string

	// ComposeFile is the path to the stack's compose file.
	ComposeFile string

	// Project is the compose project name (-p). Empty uses the
	// compose default.
	Project string

	// CommandTimeout bounds each compose invocation (default 5m).
	CommandTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Binary == "" {
		c.Binary = "docker"
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 5 * time.Minute
	}
}

func (c *Config) validate() error {
	if c.ComposeFile == "" {
		return fmt.Errorf("%w: compose file is required", ErrInvalidConfig)
	}
	return nil
}

// =============================================================================
// Implementation
// =============================================================================

// DefaultSupervisor implements Supervisor over the docker CLI.
type DefaultSupervisor struct {
	cfg  Config
	proc process.Manager
	mu   sync.Mutex
}

var _ Supervisor = (*DefaultSupervisor)(nil)

// NewDefaultSupervisor validates the config, checks that the binary and
// compose file exist, and returns a ready supervisor.
func NewDefaultSupervisor(cfg Config, proc process.Manager) (*DefaultSupervisor, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if _, err := proc.LookPath(cfg.Binary); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrComposeNotFound, cfg.Binary)
	}
	if _, err := os.Stat(cfg.ComposeFile); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrComposeFileMissing, cfg.ComposeFile)
	}
	return &DefaultSupervisor{cfg: cfg, proc: proc}, nil
}

// Start brings one service up detached.
func (s *DefaultSupervisor) Start(ctx context.Context, service string) error {
	_, err := s.compose(ctx, "up", "-d", "--no-recreate", service)
	return err
}

// Stop stops one service, keeping its container and volumes.
func (s *DefaultSupervisor) Stop(ctx context.Context, service string) error {
	_, err := s.compose(ctx, "stop", service)
	return err
}

// Logs returns the last tail lines of a service's output with compose
// coloring disabled.
func (s *DefaultSupervisor) Logs(ctx context.Context, service string, tail int) (string, error) {
	if tail <= 0 {
		tail = 200
	}
	out, err := s.compose(ctx, "logs", "--no-color", "--tail", strconv.Itoa(tail), service)
	if err != nil {
		return "", err
	}
	return out, nil
}

// Exec runs a one-shot command inside a running service container.
// -T disables TTY allocation so output capture works non-interactively.
func (s *DefaultSupervisor) Exec(ctx context.Context, service string, cmd ...string) (string, error) {
	args := append([]string{"exec", "-T", service}, cmd...)
	return s.compose(ctx, args...)
}

// Ps returns service name -> state from `compose ps`.
func (s *DefaultSupervisor) Ps(ctx context.Context) (map[string]string, error) {
	out, err := s.compose(ctx, "ps", "--format", "{{.Service}}\t{{.State}}")
	if err != nil {
		return nil, err
	}
	states := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.SplitN(strings.TrimSpace(line), "\t", 2)
		if len(fields) == 2 && fields[0] != "" {
			states[fields[0]] = fields[1]
		}
	}
	return states, nil
}

// compose runs `docker compose -f FILE [-p PROJECT] <args...>` with the
// configured timeout.
func (s *DefaultSupervisor) compose(ctx context.Context, args ...string) (string, error) {
	full := []string{"compose", "-f", s.cfg.ComposeFile}
	if s.cfg.Project != "" {
		full = append(full, "-p", s.cfg.Project)
	}
	full = append(full, args...)

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	out, err := s.proc.Run(runCtx, s.cfg.Binary, full...)
	if err != nil {
		return string(out), err
	}
	return string(out), nil
}

// =============================================================================
// Mock Implementation
// =============================================================================

// MockSupervisor is a configurable Supervisor for tests. Calls are
// recorded; unset functions succeed with zero values.
type MockSupervisor struct {
	StartFunc func(ctx context.Context, service string) error
	StopFunc  func(ctx context.Context, service string) error
	LogsFunc  func(ctx context.Context, service string, tail int) (string, error)
	ExecFunc  func(ctx context.Context, service string, cmd ...string) (string, error)
	PsFunc    func(ctx context.Context) (map[string]string, error)

	StartCalls []string
	StopCalls  []string
	LogsCalls  []string
	ExecCalls  [][]string

	mu sync.Mutex
}

var _ Supervisor = (*MockSupervisor)(nil)

// Start records the call and delegates to StartFunc.
func (m *MockSupervisor) Start(ctx context.Context, service string) error {
	m.mu.Lock()
	m.StartCalls = append(m.StartCalls, service)
	m.mu.Unlock()
	if m.StartFunc != nil {
		return m.StartFunc(ctx, service)
	}
	return nil
}

// Stop records the call and delegates to StopFunc.
func (m *MockSupervisor) Stop(ctx context.Context, service string) error {
	m.mu.Lock()
	m.StopCalls = append(m.StopCalls, service)
	m.mu.Unlock()
	if m.StopFunc != nil {
		return m.StopFunc(ctx, service)
	}
	return nil
}

// Logs records the call and delegates to LogsFunc.
func (m *MockSupervisor) Logs(ctx context.Context, service string, tail int) (string, error) {
	m.mu.Lock()
	m.LogsCalls = append(m.LogsCalls, service)
	m.mu.Unlock()
	if m.LogsFunc != nil {
		return m.LogsFunc(ctx, service, tail)
	}
	return "", nil
}

// Exec records the call and delegates to ExecFunc.
func (m *MockSupervisor) Exec(ctx context.Context, service string, cmd ...string) (string, error) {
	m.mu.Lock()
	m.ExecCalls = append(m.ExecCalls, append([]string{service}, cmd...))
	m.mu.Unlock()
	if m.ExecFunc != nil {
		return m.ExecFunc(ctx, service, cmd...)
	}
	return "", nil
}

// Ps delegates to PsFunc (default: empty map).
func (m *MockSupervisor) Ps(ctx context.Context) (map[string]string, error) {
	if m.PsFunc != nil {
		return m.PsFunc(ctx)
	}
	return map[string]string{}, nil
}
