// Copyright (C) 2026 Coveline Data (ops@coveline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/coveline/hivectl/cmd/hivectl/internal/orchestrator"
	"github.com/coveline/hivectl/cmd/hivectl/internal/retry"
	"github.com/coveline/hivectl/cmd/hivectl/internal/schema"
)

// runCheck verifies the static environment and the schema, mutating
// nothing. Exit codes follow the run taxonomy: 2 when the metadata
// store is unreachable, 3 when the schema is invalid.
func runCheck(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.log.Close()
	ctx := context.Background()

	binary := a.cfg.Compose.Binary
	if binary == "" {
		binary = "docker"
	}
	if _, err := a.proc.LookPath(binary); err != nil {
		color.Red("✗ %s not found on PATH", binary)
		os.Exit(orchestrator.ExitGeneric)
	}
	color.Green("✓ %s available", binary)
	color.Green("✓ compose file %s", a.cfg.Compose.File)

	st, err := a.store.Inspect(ctx)
	if err != nil {
		color.Red("✗ metadata store: %v", err)
		os.Exit(orchestrator.Classify(err).ExitCode())
	}
	if !st.Valid() {
		color.Yellow("✗ schema: %s", st.Summary())
		fmt.Println("  run `hivectl init-schema` to repair")
		os.Exit(orchestrator.ExitSchemaFailed)
	}
	color.Green("✓ schema: %s", st.Summary())
}

// runInitSchema verifies and, when needed, repairs the metastore
// schema. The metadata store is started and awaited first so a cold
// environment can be repaired in one step.
func runInitSchema(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.log.Close()

	ctx := context.Background()
	if t := a.runTimeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	if !dryRun {
		if err := a.awaitMetastoreDB(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "hivectl: metadata store not ready: %v\n", err)
			os.Exit(orchestrator.Classify(err).ExitCode())
		}
	}

	res, err := a.initializer.Ensure(ctx, schema.EnsureOptions{
		Force:    forceRepair,
		DryRun:   dryRun,
		Snapshot: a.backups.SnapshotFunc(),
	})
	printEnsureResult(res)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hivectl: %v\n", err)
		os.Exit(orchestrator.Classify(err).ExitCode())
	}
}

// awaitMetastoreDB starts the metadata store container and polls until
// it answers queries.
func (a *app) awaitMetastoreDB(ctx context.Context) error {
	node := a.graph.Lookup(a.cfg.Metastore.Service)
	if node == nil {
		return fmt.Errorf("service %q not in the service graph", a.cfg.Metastore.Service)
	}
	if err := a.sup.Start(ctx, node.Name); err != nil {
		return err
	}

	interval := time.Duration(a.cfg.Run.ProbeIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	attempts := a.cfg.Run.ProbeAttempts
	if attempts <= 0 {
		attempts = 30
	}
	pol := retry.Fixed(attempts, interval)
	return pol.Do(ctx, node.Name+" readiness", func(ctx context.Context) error {
		return node.Probe.Check(ctx).Err()
	})
}

func printEnsureResult(res *schema.EnsureResult) {
	if res == nil {
		return
	}
	if len(res.Planned) > 0 {
		color.New(color.Bold).Println("Planned (dry run, not executed)")
		for _, p := range res.Planned {
			fmt.Printf("  - %s\n", p)
		}
		return
	}
	for _, tr := range res.Transitions {
		fmt.Printf("  %s -> %s", tr.From, tr.To)
		if tr.Note != "" {
			fmt.Printf("  (%s)", tr.Note)
		}
		fmt.Println()
	}
	if res.BackupRef != "" {
		fmt.Printf("  backup: %s\n", res.BackupRef)
	}
	switch res.Phase {
	case schema.PhaseValid:
		color.Green("schema valid, nothing to do")
	case schema.PhaseReverified:
		color.Green("schema repaired and re-verified")
	case schema.PhaseFailed:
		color.Red("schema repair failed")
	}
}

// runBackup snapshots the metastore database, or lists snapshots.
func runBackup(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.log.Close()
	ctx := context.Background()

	if listBackups {
		records, err := a.backups.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "hivectl: %v\n", err)
			os.Exit(orchestrator.ExitGeneric)
		}
		if len(records) == 0 {
			fmt.Println("no snapshots found")
			return
		}
		for _, rec := range records {
			line := fmt.Sprintf("%s  %s  %8d bytes", rec.ID,
				rec.CreatedAt.Format(time.RFC3339), rec.SizeBytes)
			if rec.SchemaVersion != "" {
				line += "  schema " + rec.SchemaVersion
			}
			if rec.RemoteKey != "" {
				line += "  (mirrored)"
			}
			fmt.Println(line)
		}
		return
	}

	st, err := a.store.Inspect(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hivectl: %v\n", err)
		os.Exit(orchestrator.Classify(err).ExitCode())
	}
	if !st.Exists || len(st.PresentTables) == 0 {
		fmt.Printf("nothing to back up: %s\n", st.Summary())
		return
	}

	if dryRun {
		fmt.Printf("would snapshot database %q (%s)\n", a.cfg.Metastore.Database, st.Summary())
		return
	}

	rec, err := a.backups.Snapshot(ctx, st)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hivectl: %v\n", err)
		os.Exit(orchestrator.ExitGeneric)
	}
	color.Green("snapshot %s written to %s (%d bytes)", rec.ID, rec.Path, rec.SizeBytes)
	if rec.RemoteKey != "" {
		fmt.Printf("mirrored to %s\n", rec.RemoteKey)
	}
}
