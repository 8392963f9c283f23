// Copyright (C) 2026 Coveline Data (ops@coveline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package schema

import (
	"context"
	"fmt"
	"time"

	"github.com/coveline/hivectl/cmd/hivectl/internal/infra/compose"
	"github.com/coveline/hivectl/cmd/hivectl/internal/retry"
	"github.com/coveline/hivectl/pkg/logging"
)

// =============================================================================
// Phases
// =============================================================================

// Phase is a step in the schema repair state machine. The machine moves
// strictly forward:
//
//	NotChecked -> Valid                                 (fast path)
//	NotChecked -> Recreating -> Initializing -> Reverified
//	any        -> Failed
//
// Recreating is only reachable after a completed snapshot; that gate is
// structural (see EnsureOptions.Snapshot), not a convention.
type Phase string

const (
	// PhaseNotChecked is the initial phase before inspection.
	PhaseNotChecked Phase = "NotChecked"

	// PhaseValid means the existing schema passed verification and
	// nothing was modified.
	PhaseValid Phase = "Valid"

	// PhaseRecreating means the database is being dropped and recreated.
	PhaseRecreating Phase = "Recreating"

	// PhaseInitializing means the schema tool is populating the fresh
	// database.
	PhaseInitializing Phase = "Initializing"

	// PhaseReverified means the repaired schema passed verification.
	PhaseReverified Phase = "Reverified"

	// PhaseFailed is terminal; the error on EnsureResult explains why.
	PhaseFailed Phase = "Failed"
)

// =============================================================================
// Collaborators
// =============================================================================

// Tool runs the external schema initialization tool against an empty
// metastore database.
type Tool interface {
	InitSchema(ctx context.Context) error
}

// SchematoolRunner runs the metastore's bundled schematool inside its
// service container. The tool is idempotent against an empty database
// but fails against a populated one, which is why the initializer only
// invokes it after a recreate.
type SchematoolRunner struct {
	// Supervisor executes commands in the stack's containers.
	Supervisor compose.Supervisor

	// Service is the container carrying the schematool binary,
	// typically the metastore service.
	Service string

	// DBType is schematool's -dbType argument (default "postgres").
	DBType string
}

var _ Tool = (*SchematoolRunner)(nil)

// InitSchema invokes `schematool -dbType <type> -initSchema` in the
// configured service container.
func (r *SchematoolRunner) InitSchema(ctx context.Context) error {
	dbType := r.DBType
	if dbType == "" {
		dbType = "postgres"
	}
	_, err := r.Supervisor.Exec(ctx, r.Service, "schematool", "-dbType", dbType, "-initSchema")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrToolFailed, err)
	}
	return nil
}

// SnapshotFunc captures the pre-destruction schema state and returns a
// reference (path or object key) to the snapshot artifact. It must
// return ("", nil) when the observed state holds nothing worth backing
// up, and an error when a backup was needed but could not be written.
type SnapshotFunc func(ctx context.Context, st *State) (ref string, err error)

// =============================================================================
// Initializer
// =============================================================================

// Initializer drives the verify-or-repair state machine for the
// metastore schema.
//
// # Description
//
// Ensure is idempotent: against a valid schema it performs zero
// destructive operations and converges to PhaseValid. Against an absent,
// partial, or corrupt schema it snapshots (when there is anything to
// snapshot), drops and recreates the database, runs the schema tool, and
// re-verifies. A repair that leaves the schema invalid is terminal;
// retrying the tool cannot fix a version mismatch, an operator has to.
//
// # Thread Safety
//
// Not safe for concurrent use; run one Ensure at a time.
type Initializer struct {
	store    StateStore
	admin    Admin
	tool     Tool
	database string

	// ToolRetry bounds schema tool attempts. The tool can fail
	// transiently right after the database service comes up.
	ToolRetry retry.Policy

	log *logging.Logger
}

// NewInitializer wires an Initializer for the named database.
func NewInitializer(store StateStore, admin Admin, tool Tool, database string, log *logging.Logger) *Initializer {
	if log == nil {
		log = logging.Discard()
	}
	return &Initializer{
		store:    store,
		admin:    admin,
		tool:     tool,
		database: database,
		ToolRetry: retry.Policy{
			MaxAttempts: 3,
			Interval:    10 * time.Second,
			Multiplier:  1.0,
		},
		log: log,
	}
}

// EnsureOptions controls one Ensure run.
type EnsureOptions struct {
	// Force repairs even when verification passes.
	Force bool

	// DryRun reports the actions a repair would take without executing
	// any of them.
	DryRun bool

	// Snapshot is invoked with the observed state before any
	// destructive step. Required whenever a repair may run; Ensure
	// refuses to destroy anything without it.
	Snapshot SnapshotFunc
}

// Transition records one phase change for reports and logs.
type Transition struct {
	From Phase
	To   Phase
	At   time.Time
	Note string
}

// EnsureResult is the outcome of one Ensure run.
type EnsureResult struct {
	// Phase is the terminal phase: PhaseValid, PhaseReverified, or
	// PhaseFailed (PhaseNotChecked for a dry run that planned a repair).
	Phase Phase

	// Before is the state observed at the start of the run.
	Before *State

	// After is the state observed after repair, nil when no repair ran.
	After *State

	// BackupRef references the pre-repair snapshot, empty when no
	// snapshot was taken.
	BackupRef string

	// Transitions lists phase changes in order.
	Transitions []Transition

	// Planned lists the actions a dry run would have taken.
	Planned []string
}

func (r *EnsureResult) transition(to Phase, note string) {
	from := PhaseNotChecked
	if n := len(r.Transitions); n > 0 {
		from = r.Transitions[n-1].To
	}
	r.Transitions = append(r.Transitions, Transition{From: from, To: to, At: time.Now(), Note: note})
	r.Phase = to
}

// Ensure verifies the schema and repairs it when needed. See Initializer.
//
// # Outputs
//
//   - *EnsureResult: Always non-nil, also on error, so callers can
//     report how far the run got.
//   - error: nil when the terminal phase is Valid or Reverified (or a
//     dry run); otherwise the failure, wrapping one of this package's
//     sentinel errors.
func (i *Initializer) Ensure(ctx context.Context, opts EnsureOptions) (*EnsureResult, error) {
	res := &EnsureResult{Phase: PhaseNotChecked}

	before, err := i.store.Inspect(ctx)
	if err != nil {
		res.transition(PhaseFailed, "inspection failed")
		return res, fmt.Errorf("inspecting schema: %w", err)
	}
	res.Before = before
	i.log.Info("schema verified", "database", i.database, "state", before.Summary())

	if before.Valid() && !opts.Force {
		res.transition(PhaseValid, before.Summary())
		return res, nil
	}

	reason := before.Summary()
	if before.Valid() && opts.Force {
		reason = "forced repair of valid schema"
	}
	i.log.Warn("schema repair required", "database", i.database, "reason", reason)

	needsSnapshot := before.Exists && len(before.PresentTables) > 0

	if opts.DryRun {
		if needsSnapshot {
			res.Planned = append(res.Planned, fmt.Sprintf("snapshot database %q before destruction", i.database))
		}
		res.Planned = append(res.Planned,
			fmt.Sprintf("drop database %q", i.database),
			fmt.Sprintf("create empty database %q", i.database),
			"run schema tool (initSchema)",
			"re-verify schema",
		)
		return res, nil
	}

	if opts.Snapshot == nil {
		res.transition(PhaseFailed, "no snapshot function provided")
		return res, fmt.Errorf("%w: repair requires a snapshot function", ErrSnapshotFailed)
	}

	if needsSnapshot {
		ref, err := opts.Snapshot(ctx, before)
		if err != nil {
			res.transition(PhaseFailed, "snapshot failed")
			return res, fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
		}
		res.BackupRef = ref
		i.log.Info("pre-repair snapshot complete", "ref", ref)
	} else {
		i.log.Info("nothing to snapshot", "database", i.database, "reason", reason)
	}

	res.transition(PhaseRecreating, reason)
	if err := i.admin.DropDatabase(ctx, i.database); err != nil {
		res.transition(PhaseFailed, "drop failed")
		return res, err
	}
	if err := i.admin.CreateDatabase(ctx, i.database); err != nil {
		res.transition(PhaseFailed, "create failed")
		return res, err
	}

	res.transition(PhaseInitializing, "running schema tool")
	err = i.ToolRetry.Do(ctx, "schema tool", func(ctx context.Context) error {
		return i.tool.InitSchema(ctx)
	})
	if err != nil {
		res.transition(PhaseFailed, "schema tool failed")
		return res, fmt.Errorf("%w: %v", ErrToolFailed, err)
	}

	after, err := i.store.Inspect(ctx)
	if err != nil {
		res.transition(PhaseFailed, "re-verification failed")
		return res, fmt.Errorf("re-verifying schema: %w", err)
	}
	res.After = after

	if !after.Valid() {
		// The tool exited zero yet the schema is still wrong. That is a
		// version mismatch between tool and expectations; retrying the
		// repair loop would destroy the fresh snapshot's value for nothing.
		res.transition(PhaseFailed, after.Summary())
		return res, fmt.Errorf("%w: %s", ErrSchemaStillInvalid, after.Summary())
	}

	res.transition(PhaseReverified, after.Summary())
	i.log.Info("schema repair complete", "database", i.database, "state", after.Summary())
	return res, nil
}
