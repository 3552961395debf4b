package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datasync-io/datasync/internal/metrics"
	"github.com/datasync-io/datasync/internal/model"
	"go.uber.org/zap"
)

// OptimisticService tracks writes that were applied locally before the
// leader confirmed them. Entries live from Track until Confirm removes them;
// a Revert keeps the entry, flagged, so callers can inspect what was rolled
// back. Disabled tracking turns Track into a no-op that returns an empty ID.
type OptimisticService struct {
	dbName string
	prom   *metrics.Metrics
	logger *zap.Logger

	counter atomic.Uint64

	mu      sync.Mutex
	enabled bool
	entries map[string]*model.OptimisticEntry
	// order preserves Track order for PendingWrites listings
	order []string
}

// NewOptimisticService creates a tracker, enabled or not per config
func NewOptimisticService(dbName string, enabled bool, prom *metrics.Metrics, logger *zap.Logger) *OptimisticService {
	return &OptimisticService{
		dbName:  dbName,
		prom:    prom,
		logger:  logger,
		enabled: enabled,
		entries: make(map[string]*model.OptimisticEntry),
	}
}

// SetEnabled toggles tracking. Disabling clears all entries: stale
// optimistic state is worse than none once nothing maintains it.
func (o *OptimisticService) SetEnabled(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.enabled && !enabled {
		o.clearLocked()
	}
	o.enabled = enabled
}

// Enabled reports whether tracking is active
func (o *OptimisticService) Enabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enabled
}

// Track registers a locally applied, unconfirmed write and returns its ID.
// Returns "" when tracking is disabled.
func (o *OptimisticService) Track(sql string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.enabled {
		return ""
	}

	id := fmt.Sprintf("opt_%d", o.counter.Add(1))
	o.entries[id] = &model.OptimisticEntry{
		WriteID:   id,
		SQLDigest: sqlDigest(sql),
		AppliedAt: time.Now(),
		Status:    model.OptimisticPending,
	}
	o.order = append(o.order, id)

	o.prom.RecordOptimisticTracked()
	o.prom.SetOptimisticPending(o.pendingLocked())
	return id
}

// Confirm removes a tracked write after the leader acknowledged it. Unknown
// IDs are ignored; the confirm may race a Clear.
func (o *OptimisticService) Confirm(writeID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.entries[writeID]; !ok {
		return
	}
	delete(o.entries, writeID)
	o.removeFromOrderLocked(writeID)
	o.prom.SetOptimisticPending(o.pendingLocked())
}

// Revert flags a tracked write as rolled back. The entry is retained so the
// application can surface what was undone.
func (o *OptimisticService) Revert(writeID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.entries[writeID]
	if !ok {
		return
	}
	entry.Status = model.OptimisticReverted

	o.logger.Warn("Optimistic write reverted",
		zap.String("db", o.dbName),
		zap.String("write_id", writeID),
		zap.String("sql_digest", entry.SQLDigest))
	o.prom.SetOptimisticPending(o.pendingLocked())
}

// Clear drops every entry, pending and reverted alike. Idempotent.
func (o *OptimisticService) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clearLocked()
}

// PendingCount returns the number of entries still awaiting confirmation
func (o *OptimisticService) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pendingLocked()
}

// PendingWrites returns copies of all tracked entries in Track order
func (o *OptimisticService) PendingWrites() []model.OptimisticEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]model.OptimisticEntry, 0, len(o.order))
	for _, id := range o.order {
		if entry, ok := o.entries[id]; ok {
			out = append(out, *entry)
		}
	}
	return out
}

func (o *OptimisticService) pendingLocked() int {
	n := 0
	for _, e := range o.entries {
		if e.Status == model.OptimisticPending {
			n++
		}
	}
	return n
}

func (o *OptimisticService) removeFromOrderLocked(writeID string) {
	for i, id := range o.order {
		if id == writeID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			return
		}
	}
}

func (o *OptimisticService) clearLocked() {
	o.entries = make(map[string]*model.OptimisticEntry)
	o.order = nil
	o.prom.SetOptimisticPending(0)
}

// sqlDigest stores a short fingerprint instead of full statement text so
// listings stay cheap and free of embedded values
func sqlDigest(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:8])
}
