// Copyright (C) 2026 Coveline Data (ops@coveline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator sequences the bootstrap of the analytics stack:
// prerequisites, quiescing the query layer, base infrastructure, schema
// verification and repair, the query layer, and a final health pass,
// finishing with a structured status report.
//
// The orchestrator owns a single run at a time. It is the only place
// where errors are classified into failure kinds and mapped to exit
// codes; lower layers return plain errors.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coveline/hivectl/cmd/hivectl/internal/graph"
	"github.com/coveline/hivectl/cmd/hivectl/internal/infra/compose"
	"github.com/coveline/hivectl/cmd/hivectl/internal/infra/process"
	"github.com/coveline/hivectl/cmd/hivectl/internal/probe"
	"github.com/coveline/hivectl/cmd/hivectl/internal/retry"
	"github.com/coveline/hivectl/cmd/hivectl/internal/schema"
	"github.com/coveline/hivectl/pkg/logging"
)

// =============================================================================
// Stages and Outcomes
// =============================================================================

// Stage names one step of the fixed bootstrap sequence.
type Stage string

const (
	StageCheckPrerequisites     Stage = "CheckPrerequisites"
	StageStopDependents         Stage = "StopDependents"
	StageEnsureBaseServices     Stage = "EnsureBaseServices"
	StageVerifyOrRepairSchema   Stage = "VerifyOrRepairSchema"
	StageStartRemainingServices Stage = "StartRemainingServices"
	StageHealthCheckAll         Stage = "HealthCheckAll"
	StageEmitReport             Stage = "EmitReport"
)

// StageStatus is the recorded result of one stage.
type StageStatus string

const (
	// StatusOK means the stage completed.
	StatusOK StageStatus = "ok"

	// StatusFailed means the stage failed after its retries.
	StatusFailed StageStatus = "failed"

	// StatusSkipped means an earlier fatal failure skipped the stage.
	StatusSkipped StageStatus = "skipped"
)

// Outcome is the overall result of a run.
type Outcome string

const (
	// OutcomeSuccess means every stage completed.
	OutcomeSuccess Outcome = "Success"

	// OutcomePartialFailure means a non-fatal stage failed; the rest of
	// the run completed and the report was emitted.
	OutcomePartialFailure Outcome = "PartialFailure"

	// OutcomeFatal means a fatal stage failure ended the run early;
	// only the report stage still ran.
	OutcomeFatal Outcome = "Fatal"
)

// StageResult records one stage execution.
type StageResult struct {
	Stage      Stage
	Status     StageStatus
	Kind       Kind
	Err        error
	Detail     string
	Hint       string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the stage's wall-clock time.
func (s *StageResult) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Run is one orchestration run, created fresh per invocation and never
// persisted across runs.
type Run struct {
	// ID uniquely identifies the run in logs and reports.
	ID string

	StartedAt  time.Time
	FinishedAt time.Time

	// Stages lists results in execution order.
	Stages []StageResult

	// Outcome is the overall classification.
	Outcome Outcome

	// Kind is the failure kind of the first fatal (or, failing that,
	// first failed) stage; KindNone on success.
	Kind Kind

	// Schema is the schema stage's result, nil when the stage was
	// skipped.
	Schema *schema.EnsureResult

	// Health holds the most recent probe result per service.
	Health map[string]probe.Result
}

// ExitCode maps the run's failure kind to the process exit code.
func (r *Run) ExitCode() int {
	return r.Kind.ExitCode()
}

// FailedStage returns the first failed stage result, or nil.
func (r *Run) FailedStage() *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Status == StatusFailed {
			return &r.Stages[i]
		}
	}
	return nil
}

// =============================================================================
// Orchestrator
// =============================================================================

// Ensurer is the schema verify-or-repair collaborator.
type Ensurer interface {
	Ensure(ctx context.Context, opts schema.EnsureOptions) (*schema.EnsureResult, error)
}

// ReportSink consumes the finished run, typically rendering and
// persisting a StatusReport. A nil sink skips emission.
type ReportSink func(run *Run) error

// Config wires an Orchestrator.
type Config struct {
	// Graph is the validated service dependency DAG.
	Graph *graph.Graph

	// Supervisor manages the stack's containers.
	Supervisor compose.Supervisor

	// Ensurer verifies and repairs the metastore schema.
	Ensurer Ensurer

	// Snapshot is handed to the Ensurer as the pre-destruction gate.
	Snapshot schema.SnapshotFunc

	// Proc resolves prerequisite binaries.
	Proc process.Manager

	// Prerequisites are binaries that must be on PATH (default: docker).
	Prerequisites []string

	// ComposeFile, when set, must exist for prerequisites to pass.
	ComposeFile string

	// ProbeRetry is the default per-node readiness budget
	// (default: 30 attempts x 5s fixed).
	ProbeRetry retry.Policy

	// MaxParallel bounds concurrent node visits (default 3).
	MaxParallel int64

	// Report consumes the finished run.
	Report ReportSink

	// Log receives run progress.
	Log *logging.Logger
}

// Options controls one run.
type Options struct {
	// Force bypasses the schema idempotency skip.
	Force bool

	// DryRun logs planned actions and performs no mutation.
	DryRun bool

	// Timeout is the overall run deadline. Zero means no deadline.
	Timeout time.Duration
}

// Orchestrator drives the bootstrap stages. Not safe for concurrent
// runs; single-instance execution against one stack is a documented
// precondition.
type Orchestrator struct {
	cfg Config
	log *logging.Logger

	mu     sync.Mutex
	health map[string]probe.Result
}

// New returns an Orchestrator with defaults applied.
func New(cfg Config) *Orchestrator {
	if len(cfg.Prerequisites) == 0 {
		cfg.Prerequisites = []string{"docker"}
	}
	if cfg.ProbeRetry.MaxAttempts == 0 {
		cfg.ProbeRetry = retry.Fixed(30, 5*time.Second)
	}
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 3
	}
	if cfg.Log == nil {
		cfg.Log = logging.Discard()
	}
	return &Orchestrator{cfg: cfg, log: cfg.Log}
}

// Run executes all stages in order.
//
// # Description
//
// Fatal stage failures (missing prerequisite, exhausted dependency,
// failed schema repair, run deadline) skip the remaining work stages;
// the report stage runs regardless, so the caller always receives a
// structured run record, never a silent crash. Non-fatal failures
// downgrade the outcome to PartialFailure without stopping the run.
//
// # Outputs
//
//   - *Run: Always non-nil; Outcome and ExitCode describe the result.
func (o *Orchestrator) Run(ctx context.Context, opts Options) *Run {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	run := &Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Health:    map[string]probe.Result{},
	}
	o.mu.Lock()
	o.health = run.Health
	o.mu.Unlock()

	o.log.Info("run starting", "run_id", run.ID, "dry_run", opts.DryRun, "force", opts.Force)

	stages := []struct {
		name Stage
		fn   func(ctx context.Context, run *Run, opts Options) (string, error)
	}{
		{StageCheckPrerequisites, o.checkPrerequisites},
		{StageStopDependents, o.stopDependents},
		{StageEnsureBaseServices, o.ensureBaseServices},
		{StageVerifyOrRepairSchema, o.verifyOrRepairSchema},
		{StageStartRemainingServices, o.startRemainingServices},
		{StageHealthCheckAll, o.healthCheckAll},
	}

	fatal := false
	for _, st := range stages {
		if fatal {
			run.Stages = append(run.Stages, StageResult{Stage: st.name, Status: StatusSkipped})
			continue
		}

		res := StageResult{Stage: st.name, StartedAt: time.Now()}
		detail, err := st.fn(ctx, run, opts)
		res.FinishedAt = time.Now()
		res.Detail = detail

		if err != nil {
			res.Status = StatusFailed
			res.Err = err
			res.Kind = Classify(err)
			if res.Kind == KindNone {
				res.Kind = KindGeneric
			}
			res.Hint = Remediation(res.Kind, "")
			o.log.Error("stage failed",
				"run_id", run.ID, "stage", st.name, "kind", res.Kind, "error", err)
			if run.Kind == KindNone || (res.Kind.Fatal() && !run.Kind.Fatal()) {
				run.Kind = res.Kind
			}
			if res.Kind.Fatal() {
				fatal = true
			}
		} else {
			res.Status = StatusOK
			o.log.Info("stage complete",
				"run_id", run.ID, "stage", st.name, "duration", res.Duration().Round(time.Millisecond))
		}
		run.Stages = append(run.Stages, res)
	}

	switch {
	case fatal:
		run.Outcome = OutcomeFatal
	case run.Kind != KindNone:
		run.Outcome = OutcomePartialFailure
	default:
		run.Outcome = OutcomeSuccess
	}

	o.emitReport(run)
	run.FinishedAt = time.Now()
	o.log.Info("run finished",
		"run_id", run.ID, "outcome", run.Outcome,
		"duration", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	return run
}

// emitReport always runs, also after a fatal failure.
func (o *Orchestrator) emitReport(run *Run) {
	res := StageResult{Stage: StageEmitReport, StartedAt: time.Now()}
	if o.cfg.Report != nil {
		if err := o.cfg.Report(run); err != nil {
			res.Status = StatusFailed
			res.Kind = KindGeneric
			res.Err = err
			o.log.Error("report emission failed", "run_id", run.ID, "error", err)
			res.FinishedAt = time.Now()
			run.Stages = append(run.Stages, res)
			return
		}
	}
	res.Status = StatusOK
	res.FinishedAt = time.Now()
	run.Stages = append(run.Stages, res)
}

// =============================================================================
// Stage Implementations
// =============================================================================

// checkPrerequisites verifies the static environment: required binaries
// on PATH and the compose file on disk. Cheap, no retry.
func (o *Orchestrator) checkPrerequisites(ctx context.Context, run *Run, opts Options) (string, error) {
	var checked []string
	for _, bin := range o.cfg.Prerequisites {
		if _, err := o.cfg.Proc.LookPath(bin); err != nil {
			return "", fmt.Errorf("%w: %s not found on PATH", errPrerequisite, bin)
		}
		checked = append(checked, bin)
	}
	if o.cfg.ComposeFile != "" {
		if _, err := os.Stat(o.cfg.ComposeFile); err != nil {
			return "", fmt.Errorf("%w: compose file %s", errPrerequisite, o.cfg.ComposeFile)
		}
		checked = append(checked, o.cfg.ComposeFile)
	}
	return "verified: " + strings.Join(checked, ", "), nil
}

// stopDependents quiesces the query layer so schema repair cannot race
// with live traffic. Best-effort: a service that won't stop is logged,
// not fatal, since a stopped-but-absent container is the common case.
func (o *Orchestrator) stopDependents(ctx context.Context, run *Run, opts Options) (string, error) {
	nodes := o.cfg.Graph.Tier(graph.TierQuery)

	var names []string
	for i := len(nodes) - 1; i >= 0; i-- {
		names = append(names, nodes[i].Name)
	}
	if opts.DryRun {
		return "would stop: " + strings.Join(names, ", "), nil
	}

	for _, name := range names {
		if err := o.cfg.Supervisor.Stop(ctx, name); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			o.log.Warn("could not stop dependent service", "service", name, "error", err)
		}
	}
	return "stopped: " + strings.Join(names, ", "), nil
}

// ensureBaseServices starts and awaits the base tier in dependency order.
func (o *Orchestrator) ensureBaseServices(ctx context.Context, run *Run, opts Options) (string, error) {
	return o.bringUpTier(ctx, graph.TierBase, opts)
}

// startRemainingServices walks the query tier once the schema is valid.
func (o *Orchestrator) startRemainingServices(ctx context.Context, run *Run, opts Options) (string, error) {
	return o.bringUpTier(ctx, graph.TierQuery, opts)
}

func (o *Orchestrator) bringUpTier(ctx context.Context, tier graph.Tier, opts Options) (string, error) {
	nodes := o.cfg.Graph.Tier(tier)
	var names []string
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	if opts.DryRun {
		return "would start: " + strings.Join(names, ", "), nil
	}

	sub, err := o.cfg.Graph.Subgraph(nodes)
	if err != nil {
		return "", err
	}
	if err := sub.Walk(ctx, o.cfg.MaxParallel, o.startAndAwait); err != nil {
		return "", err
	}
	return "ready: " + strings.Join(names, ", "), nil
}

// startAndAwait starts one service and polls its probe until ready or
// the node's retry budget is consumed.
func (o *Orchestrator) startAndAwait(ctx context.Context, n *graph.Node) error {
	if err := o.cfg.Supervisor.Start(ctx, n.Name); err != nil {
		return fmt.Errorf("starting %s: %w", n.Name, err)
	}
	if n.Probe == nil {
		return nil
	}

	pol := o.policyFor(n)
	return pol.Do(ctx, n.Name+" readiness", func(ctx context.Context) error {
		res := n.Probe.Check(ctx)
		o.recordHealth(n.Name, res)
		return res.Err()
	})
}

// policyFor derives a node's readiness budget from MaxWait when set,
// keeping the configured probe interval.
func (o *Orchestrator) policyFor(n *graph.Node) retry.Policy {
	pol := o.cfg.ProbeRetry
	if n.MaxWait > 0 && pol.Interval > 0 {
		attempts := int(n.MaxWait/pol.Interval) + 1
		if attempts < 1 {
			attempts = 1
		}
		pol.MaxAttempts = attempts
	}
	return pol
}

func (o *Orchestrator) recordHealth(name string, res probe.Result) {
	o.mu.Lock()
	o.health[name] = res
	o.mu.Unlock()
}

// verifyOrRepairSchema runs the schema state machine.
func (o *Orchestrator) verifyOrRepairSchema(ctx context.Context, run *Run, opts Options) (string, error) {
	res, err := o.cfg.Ensurer.Ensure(ctx, schema.EnsureOptions{
		Force:    opts.Force,
		DryRun:   opts.DryRun,
		Snapshot: o.cfg.Snapshot,
	})
	run.Schema = res
	if err != nil {
		return "", err
	}
	if opts.DryRun && len(res.Planned) > 0 {
		return "would repair: " + strings.Join(res.Planned, "; "), nil
	}
	if res.Before != nil {
		return res.Before.Summary() + " -> " + string(res.Phase), nil
	}
	return string(res.Phase), nil
}

// healthCheckAll runs one final probe pass across every node, bounded
// by the worker pool. Unready services degrade the outcome without
// ending the run.
func (o *Orchestrator) healthCheckAll(ctx context.Context, run *Run, opts Options) (string, error) {
	if opts.DryRun {
		return "skipped in dry run", nil
	}

	var mu sync.Mutex
	var degraded []string
	err := o.cfg.Graph.Walk(ctx, o.cfg.MaxParallel, func(ctx context.Context, n *graph.Node) error {
		if n.Probe == nil {
			return nil
		}
		res := n.Probe.Check(ctx)
		o.recordHealth(n.Name, res)
		if !res.Ready() {
			mu.Lock()
			degraded = append(degraded, n.Name)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(degraded) > 0 {
		return "", fmt.Errorf("services not ready after bootstrap: %s (%w)",
			strings.Join(degraded, ", "), errHealthDegraded)
	}
	return fmt.Sprintf("all %d services healthy", len(o.cfg.Graph.Nodes())), nil
}
