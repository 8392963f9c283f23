// Copyright (C) 2026 Coveline Data (ops@coveline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	forceRepair    bool
	dryRun         bool
	timeoutSeconds int
	listBackups    bool

	rootCmd = &cobra.Command{
		Use:   "hivectl",
		Short: "A cli to bootstrap and manage a Hive analytics stack",
		Long: `Hivectl brings up a cluster of interdependent stateful services
(metadata store, filesystem head node, scheduler, metastore, query
server), verifies and repairs the metastore schema idempotently, and
emits a structured status report for every run.`,
	}

	// --- Stack Bootstrap ---
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the full bootstrap: prerequisites, base services, schema, query layer, health check",
		Run:   runAll, // Defined in cmd_stack.go
	}
	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start all services without repairing the schema (fails if the schema is invalid)",
		Run:   runStart, // Defined in cmd_stack.go
	}
	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop all supervised services, query layer first",
		Run:   runStop, // Defined in cmd_stack.go
	}
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Probe every service and the schema read-only and print a report",
		Run:   runStatus, // Defined in cmd_stack.go
	}

	// --- Schema and Backups ---
	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Verify prerequisites and the metastore schema without mutating anything",
		Run:   runCheck, // Defined in cmd_schema.go
	}
	initSchemaCmd = &cobra.Command{
		Use:   "init-schema",
		Short: "Verify the metastore schema, repairing it (snapshot, recreate, initialize) when invalid",
		Run:   runInitSchema, // Defined in cmd_schema.go
	}
	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the metastore database, or list existing snapshots with --list",
		Run:   runBackup, // Defined in cmd_schema.go
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&forceRepair, "force", false,
		"bypass the idempotency skip and repair even a valid schema")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false,
		"log planned actions, perform no mutation")
	rootCmd.PersistentFlags().IntVar(&timeoutSeconds, "timeout", 0,
		"overall deadline in seconds (0 = config default)")
	backupCmd.Flags().BoolVar(&listBackups, "list", false,
		"list existing snapshots instead of taking one")

	rootCmd.AddCommand(runCmd, startCmd, stopCmd, statusCmd, checkCmd, initSchemaCmd, backupCmd)
}
