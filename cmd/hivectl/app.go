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
	"path/filepath"
	"strings"
	"time"

	"github.com/coveline/hivectl/cmd/hivectl/config"
	"github.com/coveline/hivectl/cmd/hivectl/internal/backup"
	"github.com/coveline/hivectl/cmd/hivectl/internal/graph"
	"github.com/coveline/hivectl/cmd/hivectl/internal/infra/compose"
	"github.com/coveline/hivectl/cmd/hivectl/internal/infra/process"
	"github.com/coveline/hivectl/cmd/hivectl/internal/orchestrator"
	"github.com/coveline/hivectl/cmd/hivectl/internal/probe"
	"github.com/coveline/hivectl/cmd/hivectl/internal/retry"
	"github.com/coveline/hivectl/cmd/hivectl/internal/schema"
	"github.com/coveline/hivectl/pkg/logging"
)

// app holds the wired collaborators of one invocation. Built once per
// command after the config is loaded.
type app struct {
	cfg  *config.HivectlConfig
	log  *logging.Logger
	proc process.Manager
	sup  compose.Supervisor

	connector   schema.Connector
	store       *schema.PgStateStore
	admin       *schema.PgAdmin
	initializer *schema.Initializer
	backups     *backup.Manager
	graph       *graph.Graph
}

// newApp wires the full dependency tree from the loaded config.
func newApp() (*app, error) {
	if err := config.Load(); err != nil {
		return nil, err
	}
	cfg := &config.Global
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	a := &app{
		cfg: cfg,
		log: logging.New(logging.Config{
			Level:   logging.ParseLevel(cfg.Logging.Level),
			LogDir:  cfg.Logging.Dir,
			Service: "hivectl",
			JSON:    cfg.Logging.JSON,
		}),
		proc: process.NewDefaultManager(),
	}

	sup, err := compose.NewDefaultSupervisor(compose.Config{
		Binary:      cfg.Compose.Binary,
		ComposeFile: cfg.Compose.File,
		Project:     cfg.Compose.Project,
	}, a.proc)
	if err != nil {
		return nil, err
	}
	a.sup = sup

	a.connector = &schema.PgConnector{
		Host:     cfg.Metastore.Host,
		Port:     cfg.Metastore.Port,
		User:     cfg.Metastore.User,
		Password: cfg.Metastore.Password,
		SSLMode:  cfg.Metastore.SSLMode,
	}
	a.store = schema.NewPgStateStore(a.connector, cfg.Metastore.Database, a.log)
	a.admin = schema.NewPgAdmin(a.connector, cfg.Metastore.User, a.log)

	tool := &schema.SchematoolRunner{
		Supervisor: a.sup,
		Service:    cfg.Metastore.ToolService,
	}
	a.initializer = schema.NewInitializer(a.store, a.admin, tool, cfg.Metastore.Database, a.log)

	var remote backup.Uploader
	if r := cfg.Backup.Remote; r != nil {
		remote, err = backup.NewMinioUploader(backup.RemoteConfig{
			Endpoint:  r.Endpoint,
			AccessKey: r.AccessKey,
			SecretKey: r.SecretKey,
			Bucket:    r.Bucket,
			UseTLS:    r.UseTLS,
		})
		if err != nil {
			return nil, err
		}
	}
	backupDir := cfg.Backup.Dir
	if backupDir == "" {
		backupDir = "~/.hivectl/backups"
	}
	a.backups = backup.NewManager(backup.Config{
		Dir:      backupDir,
		Service:  cfg.Metastore.Service,
		Database: cfg.Metastore.Database,
		User:     cfg.Metastore.User,
		Remote:   remote,
	}, a.sup, a.log)

	a.graph, err = a.buildGraph()
	if err != nil {
		return nil, err
	}
	return a, nil
}

// buildGraph turns the config's service list into a validated DAG.
func (a *app) buildGraph() (*graph.Graph, error) {
	var nodes []*graph.Node
	for _, sc := range a.cfg.Services {
		p, err := a.buildProbe(sc)
		if err != nil {
			return nil, err
		}
		tier := graph.TierBase
		if sc.Tier == "query" {
			tier = graph.TierQuery
		}
		nodes = append(nodes, &graph.Node{
			Name:      sc.Name,
			DependsOn: sc.DependsOn,
			Tier:      tier,
			Probe:     p,
			MaxWait:   time.Duration(sc.MaxWaitSeconds) * time.Second,
			Endpoint:  sc.Endpoint,
		})
	}
	return graph.New(nodes)
}

// buildProbe constructs the configured probe kind for one service.
func (a *app) buildProbe(sc config.ServiceConfig) (probe.Prober, error) {
	switch sc.Probe.Type {
	case "tcp":
		return &probe.TCPProbe{Target: sc.Name, Addr: sc.Probe.Addr}, nil
	case "log":
		return &probe.LogProbe{Service: sc.Name, Markers: sc.Probe.Markers, Source: a.sup}, nil
	case "query":
		switch sc.Probe.Query {
		case "metastore-select":
			return &probe.QueryProbe{Target: sc.Name, Query: a.metastoreSelect}, nil
		case "beeline-show-databases":
			return &probe.QueryProbe{
				Target:  sc.Name,
				Timeout: 30 * time.Second,
				Query:   a.beelineShowDatabases(sc.Name),
			}, nil
		default:
			return nil, fmt.Errorf("service %s: unknown query probe %q", sc.Name, sc.Probe.Query)
		}
	default:
		return nil, fmt.Errorf("service %s: unknown probe type %q", sc.Name, sc.Probe.Type)
	}
}

// metastoreSelect issues SELECT 1 against the metadata store's admin
// database, confirming the store answers queries rather than merely
// accepting sockets.
func (a *app) metastoreSelect(ctx context.Context) error {
	conn, err := a.connector.Connect(ctx, "postgres")
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	var one int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("select 1: %w", err)
	}
	return nil
}

// beelineShowDatabases runs SHOW DATABASES through the query server's
// own client, the strongest readiness signal the stack offers.
func (a *app) beelineShowDatabases(service string) probe.QueryFunc {
	return func(ctx context.Context) error {
		out, err := a.sup.Exec(ctx, service,
			"beeline", "-u", "jdbc:hive2://localhost:10000",
			"--silent=true", "-e", "SHOW DATABASES;")
		if err != nil {
			return err
		}
		if !strings.Contains(out, "default") {
			return fmt.Errorf("unexpected SHOW DATABASES output")
		}
		return nil
	}
}

// orchestrator builds a run-ready orchestrator around the given schema
// ensurer (repairing or verify-only).
func (a *app) orchestrator(ensurer orchestrator.Ensurer) *orchestrator.Orchestrator {
	interval := time.Duration(a.cfg.Run.ProbeIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	attempts := a.cfg.Run.ProbeAttempts
	if attempts <= 0 {
		attempts = 30
	}

	binary := a.cfg.Compose.Binary
	if binary == "" {
		binary = "docker"
	}

	return orchestrator.New(orchestrator.Config{
		Graph:         a.graph,
		Supervisor:    a.sup,
		Ensurer:       ensurer,
		Snapshot:      a.backups.SnapshotFunc(),
		Proc:          a.proc,
		Prerequisites: []string{binary},
		ComposeFile:   a.cfg.Compose.File,
		ProbeRetry:    retry.Fixed(attempts, interval),
		MaxParallel:   int64(a.cfg.Run.MaxParallel),
		Report:        a.reportSink(),
		Log:           a.log,
	})
}

// reportSink renders the report to stdout and persists it under the
// configured report dir.
func (a *app) reportSink() orchestrator.ReportSink {
	return func(run *orchestrator.Run) error {
		containers, err := a.sup.Ps(context.Background())
		if err != nil {
			a.log.Warn("could not read container states for report", "error", err)
			containers = map[string]string{}
		}
		rep := orchestrator.BuildReport(run, containers, a.endpoints())
		rep.Render(os.Stdout)

		dir, err := expandHome(a.reportDir())
		if err != nil {
			return err
		}
		path, err := rep.WriteFile(dir)
		if err != nil {
			return err
		}
		a.log.Info("report written", "path", path)
		return nil
	}
}

func (a *app) endpoints() map[string]string {
	out := map[string]string{}
	for _, sc := range a.cfg.Services {
		if sc.Endpoint != "" {
			out[sc.Name] = sc.Endpoint
		}
	}
	return out
}

func (a *app) reportDir() string {
	if a.cfg.Run.ReportDir != "" {
		return a.cfg.Run.ReportDir
	}
	return "~/.hivectl/reports"
}

// runTimeout resolves the overall deadline: --timeout beats the config.
func (a *app) runTimeout() time.Duration {
	if timeoutSeconds > 0 {
		return time.Duration(timeoutSeconds) * time.Second
	}
	return time.Duration(a.cfg.Run.TimeoutSeconds) * time.Second
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
