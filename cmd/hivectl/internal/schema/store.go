// Copyright (C) 2026 Coveline Data (ops@coveline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package schema verifies and repairs the metastore's backing schema in
// the relational metadata store. Verification is read-only; repair is
// destructive and therefore gated on a completed snapshot.
package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/coveline/hivectl/pkg/logging"
)

// RequiredTables is the table set a usable metastore schema must carry.
// The names match what the schema tool creates for a postgres backend;
// postgres preserves their case because the DDL quotes them.
var RequiredTables = []string{
	"VERSION",
	"DBS",
	"TBLS",
	"COLUMNS_V2",
	"PARTITIONS",
	"TABLE_PARAMS",
	"SERDE_PARAMS",
}

// =============================================================================
// State
// =============================================================================

// State is a point-in-time observation of the metastore schema. It is a
// value: inspecting again after any mutation requires a fresh State.
type State struct {
	// Exists reports whether the metastore database itself exists.
	Exists bool

	// VersionValue is the recorded schema version, empty when the
	// version table is absent or empty.
	VersionValue string

	// VersionRows is the row count of the version table. A valid
	// schema has exactly one row; zero or several means the schema
	// cannot be trusted.
	VersionRows int

	// PresentTables lists which of RequiredTables were found, sorted.
	PresentTables []string

	// RequiredTables is the expectation PresentTables is judged
	// against. Carried on the value so reports are self-describing.
	RequiredTables []string
}

// Valid reports whether the schema is usable: the database exists, the
// version table carries exactly one non-empty version row, and every
// required table is present. Anything less requires repair.
func (s *State) Valid() bool {
	return s.Exists &&
		s.VersionRows == 1 &&
		s.VersionValue != "" &&
		len(s.MissingTables()) == 0
}

// MissingTables returns the required tables not present, sorted.
func (s *State) MissingTables() []string {
	present := make(map[string]bool, len(s.PresentTables))
	for _, t := range s.PresentTables {
		present[t] = true
	}
	var missing []string
	for _, t := range s.RequiredTables {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	sort.Strings(missing)
	return missing
}

// Summary renders a one-line operator-facing description of the state.
func (s *State) Summary() string {
	switch {
	case !s.Exists:
		return "metastore database does not exist"
	case s.VersionRows == 0:
		return "schema version table is empty"
	case s.VersionRows > 1:
		return fmt.Sprintf("schema version table has %d rows, expected 1", s.VersionRows)
	case len(s.MissingTables()) > 0:
		return fmt.Sprintf("schema version %s, missing tables: %s",
			s.VersionValue, strings.Join(s.MissingTables(), ", "))
	default:
		return fmt.Sprintf("schema version %s, all %d required tables present",
			s.VersionValue, len(s.RequiredTables))
	}
}

// =============================================================================
// Connection Abstraction
// =============================================================================

// Conn is the slice of a postgres connection the schema package uses.
// *pgx.Conn satisfies it through the pgxConn adapter.
type Conn interface {
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Exec(ctx context.Context, sql string, args ...any) error
	Close(ctx context.Context) error
}

// Row mirrors pgx.Row.
type Row interface {
	Scan(dest ...any) error
}

// Connector opens a connection to one database on the metadata store.
// The admin database ("postgres") and the metastore database are both
// reached through the same connector.
type Connector interface {
	Connect(ctx context.Context, database string) (Conn, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, database string) (Conn, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context, database string) (Conn, error) {
	return f(ctx, database)
}

// PgConnector builds DSNs from fixed connection parameters and dials
// with pgx.
type PgConnector struct {
	Host     string
	Port     int
	User     string
	Password string
	SSLMode  string
}

var _ Connector = (*PgConnector)(nil)

// Connect dials the given database. The returned connection is owned by
// the caller and must be closed.
func (c *PgConnector) Connect(ctx context.Context, database string) (Conn, error) {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, database, sslMode)
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %s:%d: %v", ErrStoreUnreachable, c.Host, c.Port, err)
	}
	return &pgxConn{conn: conn}, nil
}

// pgxConn narrows *pgx.Conn to the Conn interface.
type pgxConn struct {
	conn *pgx.Conn
}

func (p *pgxConn) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return p.conn.QueryRow(ctx, sql, args...)
}

func (p *pgxConn) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := p.conn.Exec(ctx, sql, args...)
	return err
}

func (p *pgxConn) Close(ctx context.Context) error {
	return p.conn.Close(ctx)
}

// =============================================================================
// State Store
// =============================================================================

// StateStore inspects the metastore schema without modifying it.
type StateStore interface {
	// Inspect observes the current schema state. It returns
	// ErrStoreUnreachable (wrapped) when the metadata store cannot be
	// contacted; an absent database or schema is a normal State, not
	// an error.
	Inspect(ctx context.Context) (*State, error)
}

// PgStateStore inspects a postgres-backed metastore schema.
//
// # Description
//
// Existence of the metastore database is checked through the admin
// database's pg_database catalog, so an absent database is observed
// without triggering connection errors. Table presence comes from
// information_schema, and the version from the schema tool's version
// table. All queries are read-only.
type PgStateStore struct {
	connector Connector
	database  string
	required  []string
	log       *logging.Logger
}

var _ StateStore = (*PgStateStore)(nil)

// NewPgStateStore returns a store inspecting the named database.
func NewPgStateStore(connector Connector, database string, log *logging.Logger) *PgStateStore {
	if log == nil {
		log = logging.Discard()
	}
	return &PgStateStore{
		connector: connector,
		database:  database,
		required:  RequiredTables,
		log:       log,
	}
}

// Inspect observes the schema. See StateStore.
func (s *PgStateStore) Inspect(ctx context.Context) (*State, error) {
	state := &State{RequiredTables: s.required}

	exists, err := s.databaseExists(ctx)
	if err != nil {
		return nil, err
	}
	state.Exists = exists
	if !exists {
		s.log.Debug("schema inspect: database absent", "database", s.database)
		return state, nil
	}

	conn, err := s.connector.Connect(ctx, s.database)
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)

	for _, table := range s.required {
		present, err := tableExists(ctx, conn, table)
		if err != nil {
			return nil, fmt.Errorf("checking table %s: %w", table, err)
		}
		if present {
			state.PresentTables = append(state.PresentTables, table)
		}
	}
	sort.Strings(state.PresentTables)

	if containsTable(state.PresentTables, "VERSION") {
		if err := s.readVersion(ctx, conn, state); err != nil {
			return nil, err
		}
	}

	s.log.Debug("schema inspect complete",
		"database", s.database,
		"version", state.VersionValue,
		"version_rows", state.VersionRows,
		"present_tables", len(state.PresentTables),
	)
	return state, nil
}

func (s *PgStateStore) databaseExists(ctx context.Context) (bool, error) {
	admin, err := s.connector.Connect(ctx, "postgres")
	if err != nil {
		return false, err
	}
	defer admin.Close(ctx)

	var exists bool
	row := admin.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, s.database)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: querying pg_database: %v", ErrStoreUnreachable, err)
	}
	return exists, nil
}

func (s *PgStateStore) readVersion(ctx context.Context, conn Conn, state *State) error {
	row := conn.QueryRow(ctx, `SELECT COUNT(*) FROM "VERSION"`)
	if err := row.Scan(&state.VersionRows); err != nil {
		return fmt.Errorf("counting version rows: %w", err)
	}
	if state.VersionRows == 0 {
		return nil
	}
	row = conn.QueryRow(ctx, `SELECT "SCHEMA_VERSION" FROM "VERSION" ORDER BY "VER_ID" LIMIT 1`)
	if err := row.Scan(&state.VersionValue); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	return nil
}

func tableExists(ctx context.Context, conn Conn, table string) (bool, error) {
	var exists bool
	row := conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, table)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func containsTable(tables []string, name string) bool {
	for _, t := range tables {
		if t == name {
			return true
		}
	}
	return false
}

// =============================================================================
// Admin Operations
// =============================================================================

// Admin performs the destructive database-level operations the repair
// path needs. Kept separate from StateStore so read-only callers can't
// reach them.
type Admin interface {
	// DropDatabase terminates open backends and drops the database.
	// Dropping an absent database succeeds.
	DropDatabase(ctx context.Context, name string) error

	// CreateDatabase creates an empty database owned by Owner.
	CreateDatabase(ctx context.Context, name string) error
}

// PgAdmin implements Admin against the admin database.
type PgAdmin struct {
	connector Connector

	// Owner is the role granted ownership of created databases,
	// typically the metastore's connection user.
	Owner string

	log *logging.Logger
}

var _ Admin = (*PgAdmin)(nil)

// NewPgAdmin returns an Admin using the given connector.
func NewPgAdmin(connector Connector, owner string, log *logging.Logger) *PgAdmin {
	if log == nil {
		log = logging.Discard()
	}
	return &PgAdmin{connector: connector, Owner: owner, log: log}
}

// DropDatabase terminates backends holding the database open, then
// drops it. Identifiers are sanitized since DDL can't take parameters.
func (a *PgAdmin) DropDatabase(ctx context.Context, name string) error {
	conn, err := a.connector.Connect(ctx, "postgres")
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	err = conn.Exec(ctx, `
		SELECT pg_terminate_backend(pid) FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()`, name)
	if err != nil {
		return fmt.Errorf("%w: terminating backends for %s: %v", ErrRecreateFailed, name, err)
	}

	a.log.Warn("dropping metastore database", "database", name)
	ident := pgx.Identifier{name}.Sanitize()
	if err := conn.Exec(ctx, "DROP DATABASE IF EXISTS "+ident); err != nil {
		return fmt.Errorf("%w: dropping %s: %v", ErrRecreateFailed, name, err)
	}
	return nil
}

// CreateDatabase creates an empty database owned by Owner.
func (a *PgAdmin) CreateDatabase(ctx context.Context, name string) error {
	conn, err := a.connector.Connect(ctx, "postgres")
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	ident := pgx.Identifier{name}.Sanitize()
	stmt := "CREATE DATABASE " + ident
	if a.Owner != "" {
		stmt += " OWNER " + pgx.Identifier{a.Owner}.Sanitize()
	}
	if err := conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrRecreateFailed, name, err)
	}
	a.log.Info("created empty metastore database", "database", name, "owner", a.Owner)
	return nil
}
