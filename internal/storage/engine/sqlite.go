package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	coorderrors "github.com/datasync-io/datasync/internal/errors"
	"github.com/datasync-io/datasync/internal/model"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteEngine backs a database handle with a local SQLite file. One file
// per database name under the configured data directory. The mutex guards
// Restore, which swaps the connection underneath running statements.
type SQLiteEngine struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
	dsn  string
}

// NewSQLiteEngine opens (creating if needed) the SQLite file for name under
// dataDir
func NewSQLiteEngine(name, dataDir string) (*SQLiteEngine, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, coorderrors.StoreError(err)
	}

	path := filepath.Join(dataDir, name+".db")
	// WAL keeps readers unblocked while the single writer applies; the
	// busy timeout covers the brief WAL checkpoint lock.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)

	db, err := openSQLite(dsn)
	if err != nil {
		return nil, coorderrors.EngineError(err)
	}

	return &SQLiteEngine{db: db, path: path, dsn: dsn}, nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite has a single writer anyway, and a single
	// connection makes PRAGMA and transaction state predictable.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewSQLiteFactory returns a Factory producing file-backed SQLite engines
func NewSQLiteFactory() Factory {
	return func(name, dataDir string) (Engine, error) {
		return NewSQLiteEngine(name, dataDir)
	}
}

// Execute runs one statement, routing by mutation classification
func (e *SQLiteEngine) Execute(ctx context.Context, sqlText string, params []interface{}) (*model.ResultSet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if IsMutation(sqlText) {
		return e.exec(ctx, sqlText, params)
	}
	return e.query(ctx, sqlText, params)
}

// Snapshot checkpoints the WAL and returns the raw database image
func (e *SQLiteEngine) Snapshot(ctx context.Context) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, err := e.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, coorderrors.EngineError(err)
	}
	data, err := os.ReadFile(e.path)
	if err != nil {
		return nil, coorderrors.EngineError(err)
	}
	return data, nil
}

// Restore swaps the database file for the given image and reopens the
// connection over it
func (e *SQLiteEngine) Restore(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.db.Close(); err != nil {
		return coorderrors.EngineError(err)
	}
	// Stale WAL or shm files would shadow the restored image
	os.Remove(e.path + "-wal")
	os.Remove(e.path + "-shm")

	if err := os.WriteFile(e.path, data, 0o644); err != nil {
		return coorderrors.EngineError(err)
	}

	db, err := openSQLite(e.dsn)
	if err != nil {
		return coorderrors.EngineError(err)
	}
	e.db = db
	return nil
}

func (e *SQLiteEngine) exec(ctx context.Context, sqlText string, params []interface{}) (*model.ResultSet, error) {
	res, err := e.db.ExecContext(ctx, sqlText, params...)
	if err != nil {
		return nil, coorderrors.EngineError(err)
	}

	affected, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return &model.ResultSet{
		AffectedRows: affected,
		LastInsertID: lastID,
	}, nil
}

func (e *SQLiteEngine) query(ctx context.Context, sqlText string, params []interface{}) (*model.ResultSet, error) {
	rows, err := e.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, coorderrors.EngineError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, coorderrors.EngineError(err)
	}

	rs := &model.ResultSet{Columns: cols}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, coorderrors.EngineError(err)
		}
		for i, v := range values {
			// []byte values alias driver buffers; copy to text so the
			// result set outlives the cursor
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, coorderrors.EngineError(err)
	}
	return rs, nil
}

// Path returns the backing file location
func (e *SQLiteEngine) Path() string {
	return e.path
}

// Close releases the database connection
func (e *SQLiteEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.db.Close(); err != nil {
		return coorderrors.EngineError(err)
	}
	return nil
}
