package service

import (
	"sync"
	"time"

	"github.com/datasync-io/datasync/internal/model"
)

// latencySampleCap bounds the notification latency window so the running
// average tracks recent behavior rather than lifetime history.
const latencySampleCap = 100

// CoordMetricsService is the per-handle coordination recorder surfaced
// through the database API. It is separate from the Prometheus exporter: the
// exporter serves operators scraping a process, this serves application code
// inspecting one open handle.
//
// When disabled every recording call is a no-op, so callers never need to
// guard their instrumentation sites.
type CoordMetricsService struct {
	mu        sync.Mutex
	enabled   bool
	startedAt time.Time

	leadershipChanges uint64
	writeConflicts    uint64
	followerRefreshes uint64

	totalNotifications uint64
	latencySamples     []float64
	latencySum         float64
}

// NewCoordMetricsService creates a recorder, enabled or not per config
func NewCoordMetricsService(enabled bool) *CoordMetricsService {
	return &CoordMetricsService{
		enabled:   enabled,
		startedAt: time.Now(),
	}
}

// SetEnabled toggles recording. Disabling resets all accumulated state so a
// later re-enable starts from a clean window.
func (c *CoordMetricsService) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled && !enabled {
		c.resetLocked()
	}
	c.enabled = enabled
}

// Enabled reports whether recording is active
func (c *CoordMetricsService) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// RecordLeadershipChange counts a transition into or out of the leader role.
// Intermediate candidate hops are not counted, so one clean election reads
// as one change.
func (c *CoordMetricsService) RecordLeadershipChange(becameLeader bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.leadershipChanges++
}

// RecordWriteConflict counts a write that raced a leadership change
func (c *CoordMetricsService) RecordWriteConflict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.writeConflicts++
}

// RecordFollowerRefresh counts a follower re-reading leader-applied state
func (c *CoordMetricsService) RecordFollowerRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.followerRefreshes++
}

// RecordNotificationLatency feeds one cross-peer delivery latency, in
// milliseconds, into the rolling window
func (c *CoordMetricsService) RecordNotificationLatency(ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.totalNotifications++
	if len(c.latencySamples) == latencySampleCap {
		c.latencySum -= c.latencySamples[0]
		c.latencySamples = c.latencySamples[1:]
	}
	c.latencySamples = append(c.latencySamples, ms)
	c.latencySum += ms
}

// Snapshot returns an immutable copy of the current counters and window
func (c *CoordMetricsService) Snapshot() model.CoordinationMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	samples := make([]float64, len(c.latencySamples))
	copy(samples, c.latencySamples)

	avg := 0.0
	if len(c.latencySamples) > 0 {
		avg = c.latencySum / float64(len(c.latencySamples))
	}

	return model.CoordinationMetrics{
		LeadershipChanges:        c.leadershipChanges,
		WriteConflicts:           c.writeConflicts,
		FollowerRefreshes:        c.followerRefreshes,
		TotalNotifications:       c.totalNotifications,
		AvgNotificationLatencyMS: avg,
		LatencySamplesMS:         samples,
		StartedAt:                c.startedAt,
	}
}

// LeadershipChangesPerMinute reports churn normalized over the recorder's
// lifetime, useful for spotting flapping leaders
func (c *CoordMetricsService) LeadershipChangesPerMinute() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	minutes := time.Since(c.startedAt).Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(c.leadershipChanges) / minutes
}

// Reset clears all counters and the latency window, keeping the enabled flag
func (c *CoordMetricsService) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *CoordMetricsService) resetLocked() {
	c.leadershipChanges = 0
	c.writeConflicts = 0
	c.followerRefreshes = 0
	c.totalNotifications = 0
	c.latencySamples = nil
	c.latencySum = 0
	c.startedAt = time.Now()
}
