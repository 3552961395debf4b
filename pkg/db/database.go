package db

import (
	"context"
	"errors"
	"sync"
	"time"

	coorderrors "github.com/datasync-io/datasync/internal/errors"
	"github.com/datasync-io/datasync/internal/metrics"
	"github.com/datasync-io/datasync/internal/model"
	"github.com/datasync-io/datasync/internal/service"
	"github.com/datasync-io/datasync/internal/storage/engine"
	"github.com/datasync-io/datasync/internal/storage/snapshot"
	"github.com/datasync-io/datasync/internal/util/applyqueue"
	"github.com/datasync-io/datasync/internal/validation"
	"go.uber.org/zap"
)

// Database is one coordinated handle. Reads run locally; mutations run
// locally under leadership and are forwarded otherwise. All methods are safe
// for concurrent use.
type Database struct {
	name     string
	peerID   string
	registry *Registry
	logger   *zap.Logger

	engine     engine.Engine
	store      snapshot.Store
	elector    *service.ElectionService
	wq         *service.WriteQueueService
	optimistic *service.OptimisticService
	rec        *service.CoordMetricsService
	prom       *metrics.Metrics
	validator  *validation.Validator

	mu     sync.Mutex
	closed bool
}

// Name returns the database name
func (d *Database) Name() string { return d.name }

// PeerID returns this handle's coordination identity
func (d *Database) PeerID() string { return d.peerID }

func (d *Database) guard() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return coorderrors.NotOpen(d.name)
	}
	return nil
}

// Execute routes one statement. Reads run on the local engine; mutations go
// through the write coordinator, which forwards when this handle is not
// leader.
func (d *Database) Execute(ctx context.Context, sql string, params ...interface{}) (*model.ResultSet, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}
	if err := d.validator.ValidateStatement(sql); err != nil {
		return nil, err
	}
	return d.wq.Execute(ctx, sql, params)
}

// QueueWrite submits a mutation with the default forward timeout
func (d *Database) QueueWrite(ctx context.Context, sql string, params ...interface{}) (*model.ResultSet, error) {
	return d.Execute(ctx, sql, params...)
}

// QueueWriteWithTimeout submits a mutation bounded by an explicit timeout
func (d *Database) QueueWriteWithTimeout(ctx context.Context, sql string, timeout time.Duration, params ...interface{}) (*model.ResultSet, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}
	if err := d.validator.ValidateStatement(sql); err != nil {
		return nil, err
	}
	if err := d.validator.ValidateTimeout(timeout); err != nil {
		return nil, err
	}
	return d.wq.ExecuteWithTimeout(ctx, sql, params, timeout)
}

// engineImageKey addresses the serialized engine image inside the snapshot
// store. Sync and Export refresh it; Import restores the engine from it.
var engineImageKey = []byte("engine/image")

// Sync flushes durable state: the engine's current image is captured into
// the snapshot store, then the store is flushed. Only the leader owns
// durability; a follower Sync is recorded as a refresh and succeeds without
// touching storage.
func (d *Database) Sync(ctx context.Context) error {
	if err := d.guard(); err != nil {
		return err
	}
	if !d.elector.IsLeader() {
		d.rec.RecordFollowerRefresh()
		d.prom.RecordFollowerRefresh()
		return nil
	}
	img, err := d.engine.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := d.store.Put(engineImageKey, img); err != nil {
		return err
	}
	return d.store.Sync(ctx)
}

// Export captures the engine's current image into the snapshot store and
// serializes the store into a checksum-framed blob
func (d *Database) Export(ctx context.Context) ([]byte, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}
	img, err := d.engine.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.store.Put(engineImageKey, img); err != nil {
		return nil, err
	}
	return d.store.ExportSnapshot(ctx)
}

// Import replaces the snapshot store contents from a framed blob and reloads
// the engine over the imported image. A failed import leaves storage
// indeterminate, so the handle is invalidated: every later call fails with a
// not-open error and the application must reopen.
func (d *Database) Import(ctx context.Context, data []byte) error {
	if err := d.guard(); err != nil {
		return err
	}

	err := d.store.ImportSnapshot(ctx, data)
	if err == nil {
		err = d.restoreEngine(ctx)
	}
	if err != nil {
		d.logger.Error("Import failed, invalidating handle",
			zap.String("db", d.name),
			zap.Error(err))
		d.invalidate()
		return err
	}
	return nil
}

// restoreEngine reloads the engine from the image the imported snapshot
// carries
func (d *Database) restoreEngine(ctx context.Context) error {
	img, err := d.store.Get(engineImageKey)
	if err != nil {
		return coorderrors.ImportFailed(err)
	}
	if img == nil {
		return coorderrors.ImportFailed(errors.New("snapshot carries no engine image"))
	}
	if err := d.engine.Restore(ctx, img); err != nil {
		return coorderrors.ImportFailed(err)
	}
	return nil
}

// invalidate tears the handle down after unrecoverable storage failure
func (d *Database) invalidate() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.teardown()
	d.registry.remove(d.name)
}

// IsLeader reports whether this handle currently holds leadership
func (d *Database) IsLeader() bool { return d.elector.IsLeader() }

// LeaderID returns the believed leader's peer ID, if known
func (d *Database) LeaderID() string { return d.elector.LeaderID() }

// Term returns the last observed leadership term
func (d *Database) Term() uint64 { return d.elector.Term() }

// State returns the election state
func (d *Database) State() model.State { return d.elector.State() }

// WaitForLeadership blocks until this handle is leader or ctx ends
func (d *Database) WaitForLeadership(ctx context.Context) error {
	if err := d.guard(); err != nil {
		return err
	}
	return d.elector.WaitForLeadership(ctx)
}

// RequestLeadership forces an election cycle at a fresh term
func (d *Database) RequestLeadership() error {
	if err := d.guard(); err != nil {
		return err
	}
	d.elector.RequestLeadership()
	return nil
}

// SetAllowNonLeaderWrites lets followers mutate locally instead of
// forwarding. Peers can diverge; this exists for single-peer deployments
// and migration tooling.
func (d *Database) SetAllowNonLeaderWrites(allow bool) {
	d.wq.SetAllowNonLeaderWrites(allow)
}

// AllowNonLeaderWrites reports the current setting
func (d *Database) AllowNonLeaderWrites() bool {
	return d.wq.AllowNonLeaderWrites()
}

// SetOptimisticTracking toggles optimistic write tracking. Disabling clears
// all tracked entries.
func (d *Database) SetOptimisticTracking(enabled bool) {
	d.optimistic.SetEnabled(enabled)
}

// OptimisticTracking reports whether tracking is active
func (d *Database) OptimisticTracking() bool {
	return d.optimistic.Enabled()
}

// TrackOptimisticWrite records a write reflected locally before its durable
// confirmation and returns its tracking ID. Returns "" while tracking is
// disabled.
func (d *Database) TrackOptimisticWrite(sql string) string {
	return d.optimistic.Track(sql)
}

// OptimisticPendingCount reports tracked writes still awaiting confirmation.
// Reverted entries are excluded.
func (d *Database) OptimisticPendingCount() int {
	return d.optimistic.PendingCount()
}

// OptimisticWrites lists tracked entries, pending and reverted
func (d *Database) OptimisticWrites() []model.OptimisticEntry {
	return d.optimistic.PendingWrites()
}

// ClearOptimisticWrites drops all tracked entries
func (d *Database) ClearOptimisticWrites() {
	d.optimistic.Clear()
}

// SetCoordinationMetrics toggles the coordination recorder. Disabling
// resets it.
func (d *Database) SetCoordinationMetrics(enabled bool) {
	d.rec.SetEnabled(enabled)
}

// CoordinationMetricsEnabled reports whether the recorder is collecting
func (d *Database) CoordinationMetricsEnabled() bool {
	return d.rec.Enabled()
}

// CoordinationMetrics returns a snapshot of the recorder
func (d *Database) CoordinationMetrics() model.CoordinationMetrics {
	return d.rec.Snapshot()
}

// ResetCoordinationMetrics clears the recorder's counters and window
func (d *Database) ResetCoordinationMetrics() {
	d.rec.Reset()
}

// LeadershipChangesPerMinute reports leadership churn
func (d *Database) LeadershipChangesPerMinute() float64 {
	return d.rec.LeadershipChangesPerMinute()
}

// Stats reports the apply lane counters
func (d *Database) Stats() applyqueue.Stats {
	return d.wq.Stats()
}

// Close releases the handle: leadership is ceded by stopping the election
// loop, pending forwarded writes fail closed, and storage is released.
// Closing twice is a no-op.
func (d *Database) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	err := d.teardown()
	d.registry.remove(d.name)

	d.logger.Info("Database handle closed",
		zap.String("db", d.name),
		zap.String("peer_id", d.peerID))
	return err
}

func (d *Database) teardown() error {
	d.wq.Stop()
	d.elector.Stop()

	var firstErr error
	if err := d.engine.Close(); err != nil {
		firstErr = err
	}
	if err := d.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
