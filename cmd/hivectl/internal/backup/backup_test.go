package backup

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coveline/hivectl/cmd/hivectl/internal/infra/compose"
	"github.com/coveline/hivectl/cmd/hivectl/internal/schema"
	"github.com/coveline/hivectl/pkg/logging"
)

const fakeDump = "--\n-- PostgreSQL database dump\n--\nCREATE TABLE \"VERSION\" ();\n"

func dumpSupervisor() *compose.MockSupervisor {
	return &compose.MockSupervisor{
		ExecFunc: func(ctx context.Context, service string, cmd ...string) (string, error) {
			return fakeDump, nil
		},
	}
}

func populatedState() *schema.State {
	return &schema.State{
		Exists:         true,
		VersionValue:   "4.0.0",
		VersionRows:    1,
		PresentTables:  []string{"VERSION", "DBS"},
		RequiredTables: schema.RequiredTables,
	}
}

func newTestManager(t *testing.T, sup compose.Supervisor, remote Uploader) *Manager {
	t.Helper()
	m := NewManager(Config{
		Dir:      t.TempDir(),
		Service:  "metastore-db",
		Database: "metastore",
		User:     "hive",
		Remote:   remote,
	}, sup, logging.Discard())
	m.now = func() time.Time { return time.Date(2026, 8, 23, 10, 15, 0, 0, time.UTC) }
	return m
}

func TestSnapshotWritesDumpAndRecord(t *testing.T) {
	sup := dumpSupervisor()
	m := newTestManager(t, sup, nil)

	rec, err := m.Snapshot(context.Background(), populatedState())
	require.NoError(t, err)

	assert.Contains(t, rec.ID, "20260823T101500-")
	assert.Equal(t, "metastore-db", rec.SourceSystem)
	assert.Equal(t, "4.0.0", rec.SchemaVersion)
	assert.Equal(t, 2, rec.TableCount)
	assert.Equal(t, int64(len(fakeDump)), rec.SizeBytes)

	dump, err := os.ReadFile(filepath.Join(rec.Path, "metastore.sql"))
	require.NoError(t, err)
	assert.Equal(t, fakeDump, string(dump))

	raw, err := os.ReadFile(filepath.Join(rec.Path, "metadata.json"))
	require.NoError(t, err)
	var onDisk Record
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, rec.ID, onDisk.ID)

	require.Len(t, sup.ExecCalls, 1)
	assert.Equal(t, "metastore-db", sup.ExecCalls[0][0])
	assert.Contains(t, sup.ExecCalls[0], "pg_dump")
}

func TestSnapshotDumpFailure(t *testing.T) {
	sup := &compose.MockSupervisor{
		ExecFunc: func(ctx context.Context, service string, cmd ...string) (string, error) {
			return "", errors.New("container not running")
		},
	}
	m := newTestManager(t, sup, nil)

	_, err := m.Snapshot(context.Background(), populatedState())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackupFailed)
}

func TestSnapshotEmptyDumpIsAFailure(t *testing.T) {
	sup := &compose.MockSupervisor{
		ExecFunc: func(ctx context.Context, service string, cmd ...string) (string, error) {
			return "  \n", nil
		},
	}
	m := newTestManager(t, sup, nil)

	_, err := m.Snapshot(context.Background(), populatedState())
	assert.ErrorIs(t, err, ErrBackupFailed)
}

func TestSnapshotRemoteFailureIsNonFatal(t *testing.T) {
	remote := UploaderFunc(func(ctx context.Context, localPath, key string) error {
		return errors.New("bucket unreachable")
	})
	m := newTestManager(t, dumpSupervisor(), remote)

	rec, err := m.Snapshot(context.Background(), populatedState())
	require.NoError(t, err, "a failed mirror must not fail the snapshot")
	assert.Empty(t, rec.RemoteKey)
}

func TestSnapshotRemoteSuccessRecordsKey(t *testing.T) {
	var gotKey string
	remote := UploaderFunc(func(ctx context.Context, localPath, key string) error {
		gotKey = key
		return nil
	})
	m := newTestManager(t, dumpSupervisor(), remote)

	rec, err := m.Snapshot(context.Background(), populatedState())
	require.NoError(t, err)
	assert.Equal(t, gotKey, rec.RemoteKey)
	assert.Contains(t, rec.RemoteKey, rec.ID)
}

func TestSnapshotFuncSkipsEmptyStates(t *testing.T) {
	sup := dumpSupervisor()
	fn := newTestManager(t, sup, nil).SnapshotFunc()
	ctx := context.Background()

	ref, err := fn(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, ref)

	ref, err = fn(ctx, &schema.State{RequiredTables: schema.RequiredTables})
	require.NoError(t, err)
	assert.Empty(t, ref)

	ref, err = fn(ctx, &schema.State{Exists: true})
	require.NoError(t, err)
	assert.Empty(t, ref, "existing but tableless database has nothing to dump")

	assert.Empty(t, sup.ExecCalls, "no dump may run for empty states")

	ref, err = fn(ctx, populatedState())
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	assert.Len(t, sup.ExecCalls, 1)
}

func TestListReturnsNewestFirst(t *testing.T) {
	m := newTestManager(t, dumpSupervisor(), nil)

	first, err := m.Snapshot(context.Background(), populatedState())
	require.NoError(t, err)

	m.now = func() time.Time { return time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC) }
	second, err := m.Snapshot(context.Background(), populatedState())
	require.NoError(t, err)

	records, err := m.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, second.ID, records[0].ID)
	assert.Equal(t, first.ID, records[1].ID)
}

func TestListMissingDirIsEmpty(t *testing.T) {
	m := NewManager(Config{Dir: filepath.Join(t.TempDir(), "never-created")},
		&compose.MockSupervisor{}, logging.Discard())

	records, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestListSkipsCorruptRecords(t *testing.T) {
	m := newTestManager(t, dumpSupervisor(), nil)
	_, err := m.Snapshot(context.Background(), populatedState())
	require.NoError(t, err)

	bad := filepath.Join(m.cfg.Dir, "20260820T000000-deadbeef")
	require.NoError(t, os.MkdirAll(bad, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "metadata.json"), []byte("{not json"), 0o640))

	records, err := m.List()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
