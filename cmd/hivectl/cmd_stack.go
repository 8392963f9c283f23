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

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/coveline/hivectl/cmd/hivectl/internal/orchestrator"
	"github.com/coveline/hivectl/cmd/hivectl/internal/probe"
	"github.com/coveline/hivectl/cmd/hivectl/internal/schema"
)

// mustApp wires the application or exits with a generic failure.
func mustApp() *app {
	a, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hivectl: %v\n", err)
		os.Exit(orchestrator.ExitGeneric)
	}
	return a
}

// runAll executes the full bootstrap sequence including schema repair.
func runAll(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.log.Close()

	run := a.orchestrator(a.initializer).Run(context.Background(), orchestrator.Options{
		Force:   forceRepair,
		DryRun:  dryRun,
		Timeout: a.runTimeout(),
	})
	os.Exit(run.ExitCode())
}

// runStart brings the stack up but never mutates the schema; an invalid
// schema fails the run with a hint to run init-schema.
func runStart(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.log.Close()

	run := a.orchestrator(schema.NewVerifier(a.store)).Run(context.Background(), orchestrator.Options{
		DryRun:  dryRun,
		Timeout: a.runTimeout(),
	})
	os.Exit(run.ExitCode())
}

// runStop stops every supervised service, query layer before base, so
// dependents never outlive what they depend on.
func runStop(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.log.Close()
	ctx := context.Background()

	nodes := a.graph.Nodes()
	var ordered []string
	for i := len(nodes) - 1; i >= 0; i-- {
		ordered = append(ordered, nodes[i].Name)
	}

	if dryRun {
		for _, name := range ordered {
			fmt.Printf("would stop %s\n", name)
		}
		return
	}

	failed := false
	for _, name := range ordered {
		if err := a.sup.Stop(ctx, name); err != nil {
			a.log.Error("stop failed", "service", name, "error", err)
			failed = true
			continue
		}
		fmt.Printf("stopped %s\n", name)
	}
	if failed {
		os.Exit(orchestrator.ExitGeneric)
	}
}

// runStatus probes everything once, read-only, and prints a report.
func runStatus(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.log.Close()
	ctx := context.Background()

	run := &orchestrator.Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Outcome:   orchestrator.OutcomeSuccess,
		Health:    map[string]probe.Result{},
	}

	healthy := true
	for _, n := range a.graph.Nodes() {
		if n.Probe == nil {
			continue
		}
		res := n.Probe.Check(ctx)
		run.Health[n.Name] = res
		if !res.Ready() {
			healthy = false
		}
	}

	schemaRes, err := schema.NewVerifier(a.store).Ensure(ctx, schema.EnsureOptions{})
	run.Schema = schemaRes
	if err != nil {
		healthy = false
	}

	containers, psErr := a.sup.Ps(ctx)
	if psErr != nil {
		a.log.Warn("could not read container states", "error", psErr)
		containers = map[string]string{}
	}

	if !healthy {
		run.Outcome = orchestrator.OutcomePartialFailure
		run.Kind = orchestrator.KindHealthDegraded
	}
	rep := orchestrator.BuildReport(run, containers, a.endpoints())
	rep.Render(os.Stdout)

	if !healthy {
		os.Exit(orchestrator.ExitGeneric)
	}
}
