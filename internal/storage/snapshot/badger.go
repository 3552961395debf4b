package snapshot

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"

	coorderrors "github.com/datasync-io/datasync/internal/errors"
	"github.com/datasync-io/datasync/internal/util"
	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// BadgerStore keeps snapshot state in a Badger keyspace per database name.
// Badger's Backup/Load stream is the serialization format; the CRC32 frame
// on top guards the blob in transit.
type BadgerStore struct {
	db     *badger.DB
	name   string
	logger *zap.Logger
}

// NewBadgerStore opens the Badger directory for name under dataDir. An
// empty dataDir opens an in-memory store, which tests use.
func NewBadgerStore(name, dataDir string, logger *zap.Logger) (*BadgerStore, error) {
	var opts badger.Options
	if dataDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dir := filepath.Join(dataDir, name+".snapshots")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, coorderrors.StoreError(err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, coorderrors.StoreError(err)
	}

	return &BadgerStore{db: db, name: name, logger: logger}, nil
}

// NewBadgerFactory returns a Factory producing file-backed Badger stores
func NewBadgerFactory(logger *zap.Logger) Factory {
	return func(name, dataDir string) (Store, error) {
		return NewBadgerStore(name, dataDir, logger)
	}
}

// Put stores one key under this database's snapshot keyspace
func (s *BadgerStore) Put(key, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return coorderrors.StoreError(err)
	}
	return nil
}

// Get reads one key; a missing key returns (nil, nil)
func (s *BadgerStore) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, coorderrors.StoreError(err)
	}
	return value, nil
}

// Sync flushes Badger's write buffers to disk
func (s *BadgerStore) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Sync(); err != nil {
		return coorderrors.StoreError(err)
	}
	return nil
}

// ExportSnapshot streams the full keyspace into a checksum-framed blob
func (s *BadgerStore) ExportSnapshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := s.db.Backup(&buf, 0); err != nil {
		return nil, coorderrors.StoreError(err)
	}

	framed := util.AppendChecksum(buf.Bytes())
	s.logger.Debug("Snapshot exported",
		zap.String("db", s.name),
		zap.Int("bytes", len(framed)))
	return framed, nil
}

// ImportSnapshot validates the frame, drops current contents, and loads the
// blob. Any failure leaves the store in an indeterminate state; the caller
// invalidates the handle.
func (s *BadgerStore) ImportSnapshot(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, ok := util.ValidateAndStripChecksum(data)
	if !ok {
		return coorderrors.ImportFailed(errors.New("snapshot checksum mismatch"))
	}

	if err := s.db.DropAll(); err != nil {
		return coorderrors.ImportFailed(err)
	}
	if err := s.db.Load(bytes.NewReader(payload), 16); err != nil {
		return coorderrors.ImportFailed(err)
	}

	s.logger.Info("Snapshot imported",
		zap.String("db", s.name),
		zap.Int("bytes", len(data)))
	return nil
}

// Close releases the Badger directory
func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return coorderrors.StoreError(err)
	}
	return nil
}
