// Package snapshot persists and restores point-in-time copies of a database
// handle's auxiliary state. Exports are framed with a trailing CRC32 so a
// truncated or corrupted blob is rejected on import instead of silently
// loading garbage.
package snapshot

import "context"

// Store is the snapshot persistence surface behind Export, Import and Sync
type Store interface {
	// Put stores one key durably
	Put(key, value []byte) error

	// Get reads one key; a missing key returns (nil, nil)
	Get(key []byte) ([]byte, error)

	// Sync flushes buffered state to stable storage
	Sync(ctx context.Context) error

	// ExportSnapshot serializes the full store contents into a framed blob
	ExportSnapshot(ctx context.Context) ([]byte, error)

	// ImportSnapshot replaces the store contents from a framed blob. On
	// failure the store must be treated as unusable; callers invalidate
	// the owning handle.
	ImportSnapshot(ctx context.Context, data []byte) error

	// Close releases the store
	Close() error
}

// Factory opens a snapshot store for a named database rooted at dataDir
type Factory func(name, dataDir string) (Store, error)
