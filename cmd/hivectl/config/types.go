// Copyright (C) 2026 Coveline Data (ops@coveline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

type HivectlConfig struct {
	// Compose locates the stack's compose project.
	Compose ComposeConfig `yaml:"compose" validate:"required"`

	// Metastore: connection parameters for the relational metadata store.
	Metastore MetastoreConfig `yaml:"metastore" validate:"required"`

	// Services: the dependency graph of supervised stack services.
	Services []ServiceConfig `yaml:"services" validate:"required,min=1,dive"`

	// Backup: local snapshot dir and optional remote mirror.
	Backup BackupConfig `yaml:"backup"`

	// Run: orchestration tuning knobs.
	Run RunConfig `yaml:"run"`

	// Logging: level and optional file output.
	Logging LoggingConfig `yaml:"logging"`
}

type ComposeConfig struct {
	Binary  string `yaml:"binary,omitempty"`  // e.g. docker or podman
	File    string `yaml:"file" validate:"required"`
	Project string `yaml:"project,omitempty"` // compose -p
}

type MetastoreConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required,min=1,max=65535"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Database string `yaml:"database" validate:"required"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`

	// Service is the compose service running the store, used for
	// pg_dump and container-level operations.
	Service string `yaml:"service" validate:"required"`

	// ToolService is the compose service carrying the schema tool.
	ToolService string `yaml:"tool_service" validate:"required"`
}

type ServiceConfig struct {
	Name      string      `yaml:"name" validate:"required"`
	Tier      string      `yaml:"tier" validate:"required,oneof=base query"`
	DependsOn []string    `yaml:"depends_on,omitempty"`
	Probe     ProbeConfig `yaml:"probe"`
	// MaxWaitSeconds bounds how long to await readiness after start.
	MaxWaitSeconds int    `yaml:"max_wait_seconds,omitempty" validate:"min=0"`
	Endpoint       string `yaml:"endpoint,omitempty"`
}

type ProbeConfig struct {
	// Type can be "tcp", "log", or "query".
	Type string `yaml:"type" validate:"required,oneof=tcp log query"`

	// Addr is the host:port for tcp probes.
	Addr string `yaml:"addr,omitempty" validate:"required_if=Type tcp"`

	// Markers are log substrings confirming readiness for log probes.
	Markers []string `yaml:"markers,omitempty" validate:"required_if=Type log"`

	// Query names the functional check for query probes:
	// "metastore-select" (SELECT 1 against the metadata store) or
	// "beeline-show-databases" (SHOW DATABASES through the query server).
	Query string `yaml:"query,omitempty" validate:"required_if=Type query,omitempty,oneof=metastore-select beeline-show-databases"`
}

type BackupConfig struct {
	Dir    string        `yaml:"dir,omitempty"`
	Remote *RemoteConfig `yaml:"remote,omitempty"`
}

type RemoteConfig struct {
	Endpoint  string `yaml:"endpoint" validate:"required"`
	AccessKey string `yaml:"access_key" validate:"required"`
	SecretKey string `yaml:"secret_key" validate:"required"`
	Bucket    string `yaml:"bucket" validate:"required"`
	UseTLS    bool   `yaml:"use_tls,omitempty"`
}

type RunConfig struct {
	// TimeoutSeconds is the default overall deadline (0 = none);
	// --timeout overrides it.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" validate:"min=0"`

	// MaxParallel bounds concurrent service probing.
	MaxParallel int `yaml:"max_parallel,omitempty" validate:"min=0"`

	// ProbeIntervalSeconds is the delay between readiness attempts.
	ProbeIntervalSeconds int `yaml:"probe_interval_seconds,omitempty" validate:"min=0"`

	// ProbeAttempts is the default readiness budget per service.
	ProbeAttempts int `yaml:"probe_attempts,omitempty" validate:"min=0"`

	// ReportDir receives the structured report of each run.
	ReportDir string `yaml:"report_dir,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json,omitempty"`
}

// DefaultConfig returns the stock single-host Hive stack layout the
// config file is seeded with on first run.
func DefaultConfig() HivectlConfig {
	return HivectlConfig{
		Compose: ComposeConfig{
			Binary:  "docker",
			File:    "docker-compose.yml",
			Project: "hivestack",
		},
		Metastore: MetastoreConfig{
			Host:        "localhost",
			Port:        5432,
			User:        "hive",
			Password:    "hive",
			Database:    "metastore",
			SSLMode:     "disable",
			Service:     "metastore-db",
			ToolService: "metastore",
		},
		Services: []ServiceConfig{
			{
				Name:  "metastore-db",
				Tier:  "base",
				Probe: ProbeConfig{Type: "query", Query: "metastore-select"},
			},
			{
				Name:           "namenode",
				Tier:           "base",
				Probe:          ProbeConfig{Type: "log", Markers: []string{"NameNode RPC up", "Quota initialization completed"}},
				MaxWaitSeconds: 120,
				Endpoint:       "hdfs://localhost:9000",
			},
			{
				Name:           "resourcemanager",
				Tier:           "query",
				DependsOn:      []string{"namenode"},
				Probe:          ProbeConfig{Type: "tcp", Addr: "localhost:8088"},
				MaxWaitSeconds: 120,
				Endpoint:       "http://localhost:8088",
			},
			{
				Name:           "metastore",
				Tier:           "query",
				DependsOn:      []string{"metastore-db", "namenode"},
				Probe:          ProbeConfig{Type: "log", Markers: []string{"Started the new metaserver on port"}},
				MaxWaitSeconds: 180,
				Endpoint:       "thrift://localhost:9083",
			},
			{
				Name:           "hiveserver2",
				Tier:           "query",
				DependsOn:      []string{"metastore", "resourcemanager"},
				Probe:          ProbeConfig{Type: "query", Query: "beeline-show-databases"},
				MaxWaitSeconds: 300,
				Endpoint:       "jdbc:hive2://localhost:10000",
			},
		},
		Backup: BackupConfig{
			Dir: "~/.hivectl/backups",
		},
		Run: RunConfig{
			TimeoutSeconds:       900,
			MaxParallel:          3,
			ProbeIntervalSeconds: 5,
			ProbeAttempts:        30,
			ReportDir:            "~/.hivectl/reports",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.hivectl/logs",
		},
	}
}
