// Copyright (C) 2026 Coveline Data (ops@coveline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package process abstracts external process execution.

All exec.Command calls in the bootstrap code go through the Manager
interface so command invocations can be captured and simulated in unit
tests without running real processes.
*/
package process

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"

	"github.com/coveline/hivectl/cmd/hivectl/internal/util"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Manager handles external process operations.
//
// # Description
//
// Abstracts interaction with the operating system's process management
// so that callers (supervisor, backup, schema tool) are testable without
// executing real commands.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
//
// # Context Handling
//
// All methods accept a context.Context; a cancelled context kills the
// child process.
type Manager interface {
	// Run executes a command synchronously and returns stdout.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - name: The executable name or path
	//   - args: Command arguments
	//
	// # Outputs
	//
	//   - []byte: Captured stdout
	//   - error: *util.CommandError on non-zero exit, carrying stderr
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunWithInput executes a command with data piped to stdin.
	// Used for commands that restore or load from a stream.
	RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)

	// LookPath reports whether an executable is resolvable on PATH.
	// Returns the resolved path or an error.
	LookPath(name string) (string, error)
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultManager implements Manager using os/exec. This is the
// production implementation; use MockManager in tests.
type DefaultManager struct{}

// NewDefaultManager creates a production process manager.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

var _ Manager = (*DefaultManager)(nil)

// Run executes a command and captures stdout/stderr separately.
// On failure the returned error is a *util.CommandError carrying the
// exit code and trimmed stderr.
func (m *DefaultManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return m.run(ctx, name, nil, args...)
}

// RunWithInput executes a command with input piped to stdin.
func (m *DefaultManager) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	return m.run(ctx, name, input, args...)
}

// LookPath resolves an executable on PATH.
func (m *DefaultManager) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (m *DefaultManager) run(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if input != nil {
		cmd.Stdin = bytes.NewReader(input)
	}

	err := cmd.Run()
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		display := name + " " + strings.Join(args, " ")
		return stdout.Bytes(), util.NewCommandError(display, exitCode, stderr.String(), err)
	}
	return stdout.Bytes(), nil
}

// -----------------------------------------------------------------------------
// Mock Implementation
// -----------------------------------------------------------------------------

// MockManager is a configurable mock for unit testing. All methods can
// be overridden via function fields; invocations are recorded.
//
//	mock := &process.MockManager{
//	    RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
//	        return []byte("ok"), nil
//	    },
//	}
type MockManager struct {
	RunFunc          func(ctx context.Context, name string, args ...string) ([]byte, error)
	RunWithInputFunc func(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)
	LookPathFunc     func(name string) (string, error)

	// RunCalls records each Run invocation as "name arg1 arg2 ...".
	RunCalls []string
	// LookPathCalls records each LookPath invocation.
	LookPathCalls []string

	mu sync.Mutex
}

var _ Manager = (*MockManager)(nil)

// Run records the call and delegates to RunFunc (default: empty success).
func (m *MockManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.record(name, args)
	if m.RunFunc != nil {
		return m.RunFunc(ctx, name, args...)
	}
	return nil, nil
}

// RunWithInput records the call and delegates to RunWithInputFunc.
func (m *MockManager) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	m.record(name, args)
	if m.RunWithInputFunc != nil {
		return m.RunWithInputFunc(ctx, name, input, args...)
	}
	return nil, nil
}

// LookPath records the call and delegates to LookPathFunc (default: found).
func (m *MockManager) LookPath(name string) (string, error) {
	m.mu.Lock()
	m.LookPathCalls = append(m.LookPathCalls, name)
	m.mu.Unlock()
	if m.LookPathFunc != nil {
		return m.LookPathFunc(name)
	}
	return "/usr/bin/" + name, nil
}

// CallCount returns the number of recorded Run/RunWithInput calls.
func (m *MockManager) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RunCalls)
}

func (m *MockManager) record(name string, args []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RunCalls = append(m.RunCalls, strings.TrimSpace(name+" "+strings.Join(args, " ")))
}
