package engine

import (
	"context"
	"testing"

	coorderrors "github.com/datasync-io/datasync/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *SQLiteEngine {
	t.Helper()
	eng, err := NewSQLiteEngine("app", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestSQLiteExecRoundTrip(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Execute(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)", nil)
	require.NoError(t, err)

	rs, err := eng.Execute(ctx, "INSERT INTO users (name) VALUES (?)", []interface{}{"ada"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rs.AffectedRows)
	assert.Equal(t, int64(1), rs.LastInsertID)

	rs, err = eng.Execute(ctx, "SELECT id, name FROM users", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, rs.Columns)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, int64(1), rs.Rows[0][0])
	assert.Equal(t, "ada", rs.Rows[0][1])
}

func TestSQLiteEngineErrorCode(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Execute(context.Background(), "SELECT * FROM missing", nil)
	require.Error(t, err)
	assert.True(t, coorderrors.HasCode(err, coorderrors.ErrCodeEngine))
}

func TestSQLiteSnapshotRestore(t *testing.T) {
	ctx := context.Background()

	src := newTestEngine(t)
	_, err := src.Execute(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)", nil)
	require.NoError(t, err)
	_, err = src.Execute(ctx, "INSERT INTO kv VALUES ('a', '1')", nil)
	require.NoError(t, err)

	img, err := src.Snapshot(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, img)

	dst, err := NewSQLiteEngine("other", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { dst.Close() })
	_, err = dst.Execute(ctx, "CREATE TABLE scratch (n INTEGER)", nil)
	require.NoError(t, err)

	require.NoError(t, dst.Restore(ctx, img))

	rs, err := dst.Execute(ctx, "SELECT v FROM kv WHERE k = 'a'", nil)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, "1", rs.Rows[0][0])

	// The pre-restore schema is gone
	_, err = dst.Execute(ctx, "SELECT * FROM scratch", nil)
	require.Error(t, err)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	eng, err := NewSQLiteEngine("app", dir)
	require.NoError(t, err)
	_, err = eng.Execute(ctx, "CREATE TABLE t (x INTEGER)", nil)
	require.NoError(t, err)
	_, err = eng.Execute(ctx, "INSERT INTO t VALUES (42)", nil)
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	eng2, err := NewSQLiteEngine("app", dir)
	require.NoError(t, err)
	defer eng2.Close()

	rs, err := eng2.Execute(ctx, "SELECT x FROM t", nil)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, int64(42), rs.Rows[0][0])
}
