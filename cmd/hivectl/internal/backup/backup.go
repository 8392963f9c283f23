// Copyright (C) 2026 Coveline Data (ops@coveline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package backup snapshots the metastore database before destructive
// repair. Snapshots are plain pg_dump SQL plus a JSON metadata record,
// stored under a timestamped local directory and optionally mirrored to
// an S3-compatible object store.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coveline/hivectl/cmd/hivectl/internal/infra/compose"
	"github.com/coveline/hivectl/cmd/hivectl/internal/schema"
	"github.com/coveline/hivectl/pkg/logging"
)

// ErrBackupFailed is returned when a snapshot could not be completed.
// Callers treat this as fatal to any destructive operation that was
// waiting on the snapshot.
var ErrBackupFailed = errors.New("backup failed")

const (
	dumpFileName = "metastore.sql"
	metaFileName = "metadata.json"
)

// =============================================================================
// Record
// =============================================================================

// Record describes one completed snapshot. The record is written next
// to the dump as metadata.json so backups are self-describing.
type Record struct {
	// ID is the unique snapshot identity, "<timestamp>-<short uuid>".
	ID string `json:"id"`

	// CreatedAt is the snapshot wall-clock time.
	CreatedAt time.Time `json:"created_at"`

	// SourceSystem names what was backed up.
	SourceSystem string `json:"source_system"`

	// Database is the dumped database name.
	Database string `json:"database"`

	// Path is the local directory holding the dump and this record.
	Path string `json:"path"`

	// SizeBytes is the dump file size.
	SizeBytes int64 `json:"size_bytes"`

	// SchemaVersion is the version observed before the snapshot, empty
	// when the version table was unreadable.
	SchemaVersion string `json:"schema_version,omitempty"`

	// TableCount is the number of required tables present when the
	// snapshot was taken.
	TableCount int `json:"table_count"`

	// RemoteKey is the object-store key the dump was mirrored to,
	// empty when no remote is configured or the upload failed.
	RemoteKey string `json:"remote_key,omitempty"`
}

// =============================================================================
// Remote Mirror
// =============================================================================

// Uploader mirrors a snapshot file to remote storage. Upload failures
// are reported but never fail the snapshot; the local copy is the one
// the repair gate depends on.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) error
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, localPath, key string) error

// Upload calls f.
func (f UploaderFunc) Upload(ctx context.Context, localPath, key string) error {
	return f(ctx, localPath, key)
}

// =============================================================================
// Manager
// =============================================================================

// Config configures a Manager.
type Config struct {
	// Dir is the local backup root (~ expanded), one subdirectory per
	// snapshot.
	Dir string

	// Service is the container running the metadata store, used to run
	// pg_dump with the store's own client binary.
	Service string

	// Database is the database to dump.
	Database string

	// User is the database role pg_dump connects as.
	User string

	// Remote mirrors completed dumps when non-nil.
	Remote Uploader
}

// Manager creates and lists metastore snapshots.
//
// # Description
//
// The dump runs inside the metadata store's own container through the
// supervisor, so hivectl needs no postgres client tools on the host.
// Snapshot is the function handed to the schema initializer as its
// pre-destruction gate.
type Manager struct {
	cfg Config
	sup compose.Supervisor
	log *logging.Logger

	// now is stubbed in tests.
	now func() time.Time
}

// NewManager returns a Manager writing snapshots under cfg.Dir.
func NewManager(cfg Config, sup compose.Supervisor, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Discard()
	}
	return &Manager{cfg: cfg, sup: sup, log: log, now: time.Now}
}

// Snapshot dumps the database and writes the dump plus its metadata
// record under a fresh timestamped directory.
//
// # Outputs
//
//   - *Record: The completed snapshot's metadata.
//   - error: ErrBackupFailed (wrapped) when the dump could not be taken
//     or written. A failed remote mirror is logged, not returned.
func (m *Manager) Snapshot(ctx context.Context, st *schema.State) (*Record, error) {
	createdAt := m.now().UTC()
	id := fmt.Sprintf("%s-%s", createdAt.Format("20060102T150405"), shortID())

	dir, err := m.snapshotDir(id)
	if err != nil {
		return nil, err
	}

	dump, err := m.sup.Exec(ctx, m.cfg.Service,
		"pg_dump", "-U", m.cfg.User, "-d", m.cfg.Database, "--no-password")
	if err != nil {
		return nil, fmt.Errorf("%w: pg_dump: %v", ErrBackupFailed, err)
	}
	if strings.TrimSpace(dump) == "" {
		return nil, fmt.Errorf("%w: pg_dump produced no output", ErrBackupFailed)
	}

	dumpPath := filepath.Join(dir, dumpFileName)
	if err := os.WriteFile(dumpPath, []byte(dump), 0o640); err != nil {
		return nil, fmt.Errorf("%w: writing dump: %v", ErrBackupFailed, err)
	}

	rec := &Record{
		ID:           id,
		CreatedAt:    createdAt,
		SourceSystem: "metastore-db",
		Database:     m.cfg.Database,
		Path:         dir,
		SizeBytes:    int64(len(dump)),
	}
	if st != nil {
		rec.SchemaVersion = st.VersionValue
		rec.TableCount = len(st.PresentTables)
	}

	if m.cfg.Remote != nil {
		key := fmt.Sprintf("hivectl/backups/%s/%s", id, dumpFileName)
		if err := m.cfg.Remote.Upload(ctx, dumpPath, key); err != nil {
			m.log.Warn("remote backup mirror failed, local copy retained",
				"id", id, "error", err)
		} else {
			rec.RemoteKey = key
		}
	}

	if err := writeRecord(dir, rec); err != nil {
		return nil, err
	}

	m.log.Info("snapshot complete",
		"id", id, "path", dir, "size_bytes", rec.SizeBytes, "remote", rec.RemoteKey != "")
	return rec, nil
}

// SnapshotFunc adapts the Manager to the schema initializer's
// pre-destruction gate: states with nothing worth dumping (absent
// database, no tables) yield an empty ref without touching disk.
func (m *Manager) SnapshotFunc() schema.SnapshotFunc {
	return func(ctx context.Context, st *schema.State) (string, error) {
		if st == nil || !st.Exists || len(st.PresentTables) == 0 {
			return "", nil
		}
		rec, err := m.Snapshot(ctx, st)
		if err != nil {
			return "", err
		}
		return rec.Path, nil
	}
}

// List returns the metadata records of all local snapshots, newest
// first. Directories without a readable record are skipped.
func (m *Manager) List() ([]Record, error) {
	root, err := expandHome(m.cfg.Dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup dir %s: %w", root, err)
	}

	var records []Record
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(root, e.Name(), metaFileName))
		if err != nil {
			m.log.Debug("skipping backup entry without record", "entry", e.Name())
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			m.log.Warn("skipping backup entry with corrupt record", "entry", e.Name(), "error", err)
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (m *Manager) snapshotDir(id string) (string, error) {
	root, err := expandHome(m.cfg.Dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("%w: creating %s: %v", ErrBackupFailed, dir, err)
	}
	return dir, nil
}

func writeRecord(dir string, rec *Record) error {
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding record: %v", ErrBackupFailed, err)
	}
	path := filepath.Join(dir, metaFileName)
	if err := os.WriteFile(path, raw, 0o640); err != nil {
		return fmt.Errorf("%w: writing record: %v", ErrBackupFailed, err)
	}
	return nil
}

func shortID() string {
	return uuid.NewString()[:8]
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
