package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coveline/hivectl/pkg/logging"
)

// fakeRow scans preset values into the destinations.
type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch out := d.(type) {
		case *bool:
			*out = r.vals[i].(bool)
		case *int:
			*out = r.vals[i].(int)
		case *string:
			*out = r.vals[i].(string)
		default:
			return fmt.Errorf("fakeRow: unsupported dest %T", d)
		}
	}
	return nil
}

// fakeConn answers queries through a respond function.
type fakeConn struct {
	respond func(sql string, args []any) fakeRow
	execs   []string
	closed  bool
}

func (c *fakeConn) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return c.respond(sql, args)
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) error {
	c.execs = append(c.execs, strings.Join(strings.Fields(sql), " "))
	return nil
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

// metastoreConn fakes a metastore database holding the given tables and
// version rows.
func metastoreConn(tables map[string]bool, versionRows int, version string) *fakeConn {
	return &fakeConn{respond: func(sql string, args []any) fakeRow {
		switch {
		case strings.Contains(sql, "information_schema.tables"):
			return fakeRow{vals: []any{tables[args[0].(string)]}}
		case strings.Contains(sql, "COUNT(*)"):
			return fakeRow{vals: []any{versionRows}}
		case strings.Contains(sql, "SCHEMA_VERSION"):
			return fakeRow{vals: []any{version}}
		default:
			return fakeRow{err: fmt.Errorf("unexpected query: %s", sql)}
		}
	}}
}

func adminConn(dbExists bool) *fakeConn {
	return &fakeConn{respond: func(sql string, args []any) fakeRow {
		if strings.Contains(sql, "pg_database") {
			return fakeRow{vals: []any{dbExists}}
		}
		return fakeRow{err: fmt.Errorf("unexpected admin query: %s", sql)}
	}}
}

func connectorFor(conns map[string]Conn, errs map[string]error) Connector {
	return ConnectorFunc(func(ctx context.Context, database string) (Conn, error) {
		if err, ok := errs[database]; ok {
			return nil, err
		}
		c, ok := conns[database]
		if !ok {
			return nil, fmt.Errorf("no fake for database %q", database)
		}
		return c, nil
	})
}

func allTables() map[string]bool {
	m := make(map[string]bool, len(RequiredTables))
	for _, t := range RequiredTables {
		m[t] = true
	}
	return m
}

func TestInspectStoreUnreachable(t *testing.T) {
	dialErr := fmt.Errorf("%w: connection refused", ErrStoreUnreachable)
	store := NewPgStateStore(
		connectorFor(nil, map[string]error{"postgres": dialErr}),
		"metastore", logging.Discard())

	_, err := store.Inspect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnreachable)
}

func TestInspectAbsentDatabaseIsNotAnError(t *testing.T) {
	store := NewPgStateStore(
		connectorFor(map[string]Conn{"postgres": adminConn(false)}, nil),
		"metastore", logging.Discard())

	st, err := store.Inspect(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Exists)
	assert.False(t, st.Valid())
	assert.Contains(t, st.Summary(), "does not exist")
}

func TestInspectValidSchema(t *testing.T) {
	store := NewPgStateStore(connectorFor(map[string]Conn{
		"postgres":  adminConn(true),
		"metastore": metastoreConn(allTables(), 1, "4.0.0"),
	}, nil), "metastore", logging.Discard())

	st, err := store.Inspect(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Valid())
	assert.Equal(t, "4.0.0", st.VersionValue)
	assert.Equal(t, 1, st.VersionRows)
	assert.Len(t, st.PresentTables, len(RequiredTables))
	assert.Empty(t, st.MissingTables())
}

func TestInspectPartialSchema(t *testing.T) {
	tables := allTables()
	delete(tables, "PARTITIONS")
	delete(tables, "SERDE_PARAMS")

	store := NewPgStateStore(connectorFor(map[string]Conn{
		"postgres":  adminConn(true),
		"metastore": metastoreConn(tables, 1, "4.0.0"),
	}, nil), "metastore", logging.Discard())

	st, err := store.Inspect(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Valid())
	assert.Equal(t, []string{"PARTITIONS", "SERDE_PARAMS"}, st.MissingTables())
	assert.Contains(t, st.Summary(), "missing tables")
}

func TestInspectEmptyVersionTable(t *testing.T) {
	store := NewPgStateStore(connectorFor(map[string]Conn{
		"postgres":  adminConn(true),
		"metastore": metastoreConn(allTables(), 0, ""),
	}, nil), "metastore", logging.Discard())

	st, err := store.Inspect(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Valid())
	assert.Equal(t, 0, st.VersionRows)
	assert.Contains(t, st.Summary(), "empty")
}

func TestInspectMultipleVersionRows(t *testing.T) {
	store := NewPgStateStore(connectorFor(map[string]Conn{
		"postgres":  adminConn(true),
		"metastore": metastoreConn(allTables(), 2, "4.0.0"),
	}, nil), "metastore", logging.Discard())

	st, err := store.Inspect(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Valid(), "several version rows must not verify")
}

func TestDropDatabaseTerminatesBackendsFirst(t *testing.T) {
	conn := adminConn(true)
	admin := NewPgAdmin(connectorFor(map[string]Conn{"postgres": conn}, nil), "hive", logging.Discard())

	err := admin.DropDatabase(context.Background(), "metastore")
	require.NoError(t, err)

	require.Len(t, conn.execs, 2)
	assert.Contains(t, conn.execs[0], "pg_terminate_backend")
	assert.Contains(t, conn.execs[1], `DROP DATABASE IF EXISTS "metastore"`)
	assert.True(t, conn.closed)
}

func TestCreateDatabaseSetsOwner(t *testing.T) {
	conn := adminConn(true)
	admin := NewPgAdmin(connectorFor(map[string]Conn{"postgres": conn}, nil), "hive", logging.Discard())

	err := admin.CreateDatabase(context.Background(), "metastore")
	require.NoError(t, err)

	require.Len(t, conn.execs, 1)
	assert.Equal(t, `CREATE DATABASE "metastore" OWNER "hive"`, conn.execs[0])
}

func TestAdminPropagatesConnectError(t *testing.T) {
	dialErr := fmt.Errorf("%w: refused", ErrStoreUnreachable)
	admin := NewPgAdmin(connectorFor(nil, map[string]error{"postgres": dialErr}), "", logging.Discard())

	assert.True(t, errors.Is(admin.DropDatabase(context.Background(), "metastore"), ErrStoreUnreachable))
	assert.True(t, errors.Is(admin.CreateDatabase(context.Background(), "metastore"), ErrStoreUnreachable))
}
