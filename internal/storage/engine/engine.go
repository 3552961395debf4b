package engine

import (
	"context"
	"strings"

	"github.com/datasync-io/datasync/internal/model"
)

// Engine executes SQL against the local store. Implementations are safe for
// concurrent use; write serialization is the coordinator's job, not the
// engine's.
type Engine interface {
	// Execute runs one statement and returns its result set. Mutations
	// report affected rows and last insert ID; queries report columns and
	// rows.
	Execute(ctx context.Context, sql string, params []interface{}) (*model.ResultSet, error)

	// Snapshot serializes the engine's full database image
	Snapshot(ctx context.Context) ([]byte, error)

	// Restore replaces the engine's contents with a Snapshot image. A
	// failed restore leaves the engine indeterminate; callers invalidate
	// the owning handle.
	Restore(ctx context.Context, data []byte) error

	// Close releases the underlying store
	Close() error
}

// Factory opens an engine for a named database rooted at dataDir
type Factory func(name, dataDir string) (Engine, error)

// mutationPrefixes lists statement verbs that modify state. Anything else is
// routed as a read.
var mutationPrefixes = []string{
	"INSERT", "UPDATE", "DELETE", "REPLACE",
	"CREATE", "DROP", "ALTER", "TRUNCATE",
	"BEGIN", "COMMIT", "ROLLBACK", "VACUUM", "PRAGMA",
}

// IsMutation classifies a statement by its leading verb. Classification is
// deliberately conservative: an unrecognized verb is treated as a read so it
// never blocks on the forwarding path.
func IsMutation(sql string) bool {
	trimmed := strings.TrimSpace(sql)
	// strip leading line and block comments
	for {
		switch {
		case strings.HasPrefix(trimmed, "--"):
			idx := strings.IndexByte(trimmed, '\n')
			if idx < 0 {
				return false
			}
			trimmed = strings.TrimSpace(trimmed[idx+1:])
		case strings.HasPrefix(trimmed, "/*"):
			idx := strings.Index(trimmed, "*/")
			if idx < 0 {
				return false
			}
			trimmed = strings.TrimSpace(trimmed[idx+2:])
		default:
			upper := strings.ToUpper(trimmed)
			for _, p := range mutationPrefixes {
				if strings.HasPrefix(upper, p) {
					return true
				}
			}
			return false
		}
	}
}
