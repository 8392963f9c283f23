// Copyright (C) 2026 Coveline Data (ops@coveline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package probe implements readiness checks for bootstrap dependencies.
//
// Three probe kinds are supported, polymorphic over a single Check
// capability:
//
//   - TCP: the port accepts a connection before the timeout.
//   - Log pattern: the tail of a service's recent output contains one
//     of a configured set of success markers.
//   - Functional query: a trivial read-only command against the
//     service's own protocol succeeds.
//
// Connectivity alone is insufficient for metadata and query services
// whose process may accept sockets before being logically ready, so
// functional probes are preferred whenever the service has a query
// protocol; log and TCP probes are fallbacks for infrastructure nodes.
package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// =============================================================================
// Result Types
// =============================================================================

// State classifies a single probe outcome.
type State string

const (
	// StateReady indicates the target confirmed full readiness.
	StateReady State = "ready"

	// StateNotReady indicates the target answered but is not ready yet.
	StateNotReady State = "not-ready"

	// StateError indicates the probe itself could not evaluate the
	// target (e.g. the log source is unreachable).
	StateError State = "error"
)

// Result is the outcome of one readiness check. A probe either confirms
// full readiness of its one target or it does not; there is no
// partially-valid result.
type Result struct {
	// State is the classified outcome.
	State State

	// Reason explains a NotReady result.
	Reason string

	// Cause carries the underlying error for an Error result.
	Cause error

	// Latency is how long the check took.
	Latency time.Duration

	// CheckedAt is when the check completed.
	CheckedAt time.Time
}

// Ready reports whether the result is StateReady.
func (r Result) Ready() bool { return r.State == StateReady }

// Err converts a non-ready Result into an error for retry wrapping.
// Returns nil when ready.
func (r Result) Err() error {
	switch r.State {
	case StateReady:
		return nil
	case StateError:
		return fmt.Errorf("probe error: %w", r.Cause)
	default:
		return fmt.Errorf("not ready: %s", r.Reason)
	}
}

// ready builds a successful Result stamped with latency.
func ready(start time.Time) Result {
	return Result{State: StateReady, Latency: time.Since(start), CheckedAt: time.Now()}
}

// notReady builds a NotReady Result with a reason.
func notReady(start time.Time, reason string) Result {
	return Result{State: StateNotReady, Reason: reason, Latency: time.Since(start), CheckedAt: time.Now()}
}

// failed builds an Error Result with a cause.
func failed(start time.Time, cause error) Result {
	return Result{State: StateError, Cause: cause, Latency: time.Since(start), CheckedAt: time.Now()}
}

// =============================================================================
// Prober Interface
// =============================================================================

// Prober performs a single readiness check for one dependency.
//
// # Description
//
// Check must be side-effect-free and complete within a bounded timeout;
// no implementation may block indefinitely. Implementations carry their
// own per-check timeout and apply it on top of the caller's context.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Prober interface {
	// Name identifies the probe target for logs and reports.
	Name() string

	// Check performs one readiness check.
	Check(ctx context.Context) Result
}

// =============================================================================
// TCP Probe
// =============================================================================

// DefaultTCPTimeout bounds a TCP connect attempt when none is set.
const DefaultTCPTimeout = 5 * time.Second

// TCPProbe reports ready iff a TCP connection to Addr succeeds before
// the timeout. Suitable only for infrastructure nodes with no query
// protocol; a listening socket says nothing about logical readiness.
type TCPProbe struct {
	// Target is the human-readable name used in reports.
	Target string

	// Addr is the host:port to dial.
	Addr string

	// Timeout bounds the connect attempt (default DefaultTCPTimeout).
	Timeout time.Duration
}

var _ Prober = (*TCPProbe)(nil)

// Name returns the probe target name.
func (p *TCPProbe) Name() string { return p.Target }

// Check dials Addr once.
func (p *TCPProbe) Check(ctx context.Context) Result {
	start := time.Now()

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTCPTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", p.Addr)
	if err != nil {
		return notReady(start, fmt.Sprintf("dial %s: %v", p.Addr, err))
	}
	conn.Close()
	return ready(start)
}

// =============================================================================
// Log Pattern Probe
// =============================================================================

// LogSource reads the recent output of a supervised service. The
// compose supervisor satisfies this interface.
type LogSource interface {
	Logs(ctx context.Context, service string, tail int) (string, error)
}

// DefaultLogTail is how many recent lines a log probe inspects.
const DefaultLogTail = 200

// LogProbe reports ready iff the tail of a service's recent output
// contains one of the configured success markers. If the log source
// itself is unreachable the result is Error, not NotReady: "cannot
// look" must never be conflated with "looked and found nothing".
type LogProbe struct {
	// Service is the supervised service whose logs are inspected.
	Service string

	// Markers are substrings, any one of which confirms readiness.
	Markers []string

	// Tail is how many recent lines to inspect (default DefaultLogTail).
	Tail int

	// Source reads the service logs.
	Source LogSource
}

var _ Prober = (*LogProbe)(nil)

// Name returns the supervised service name.
func (p *LogProbe) Name() string { return p.Service }

// Check scans the log tail for a success marker.
func (p *LogProbe) Check(ctx context.Context) Result {
	start := time.Now()

	tail := p.Tail
	if tail <= 0 {
		tail = DefaultLogTail
	}
	out, err := p.Source.Logs(ctx, p.Service, tail)
	if err != nil {
		return failed(start, fmt.Errorf("read logs for %s: %w", p.Service, err))
	}

	for _, marker := range p.Markers {
		if strings.Contains(out, marker) {
			return ready(start)
		}
	}
	return notReady(start, fmt.Sprintf("no readiness marker in last %d log lines", tail))
}

// =============================================================================
// Functional Query Probe
// =============================================================================

// QueryFunc issues a trivial read-only command against a service's own
// protocol and returns nil on success.
type QueryFunc func(ctx context.Context) error

// QueryProbe classifies readiness from the response to a functional
// query, not merely from connectivity. This is the preferred probe for
// the metastore database and the query server.
type QueryProbe struct {
	// Target is the human-readable name used in reports.
	Target string

	// Timeout bounds the query (default DefaultTCPTimeout).
	Timeout time.Duration

	// Query issues the read-only command.
	Query QueryFunc
}

var _ Prober = (*QueryProbe)(nil)

// Name returns the probe target name.
func (p *QueryProbe) Name() string { return p.Target }

// Check runs the functional query once.
func (p *QueryProbe) Check(ctx context.Context) Result {
	start := time.Now()

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTCPTimeout
	}
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.Query(queryCtx); err != nil {
		return notReady(start, fmt.Sprintf("functional query failed: %v", err))
	}
	return ready(start)
}

// =============================================================================
// Mock
// =============================================================================

// MockProbe is a configurable probe for tests. Results are returned in
// order; the last one repeats once the sequence is consumed.
type MockProbe struct {
	// Target is returned by Name.
	Target string

	// Results is the scripted sequence of outcomes.
	Results []Result

	// Calls counts Check invocations.
	Calls int
}

var _ Prober = (*MockProbe)(nil)

// Name returns the scripted target name.
func (m *MockProbe) Name() string { return m.Target }

// Check returns the next scripted result.
func (m *MockProbe) Check(ctx context.Context) Result {
	idx := m.Calls
	m.Calls++
	if len(m.Results) == 0 {
		return Result{State: StateReady, CheckedAt: time.Now()}
	}
	if idx >= len(m.Results) {
		idx = len(m.Results) - 1
	}
	return m.Results[idx]
}
