package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoordMetricsDisabledIsNoOp(t *testing.T) {
	rec := NewCoordMetricsService(false)

	rec.RecordLeadershipChange(true)
	rec.RecordWriteConflict()
	rec.RecordFollowerRefresh()
	rec.RecordNotificationLatency(12.5)

	snap := rec.Snapshot()
	assert.Zero(t, snap.LeadershipChanges)
	assert.Zero(t, snap.WriteConflicts)
	assert.Zero(t, snap.FollowerRefreshes)
	assert.Zero(t, snap.TotalNotifications)
	assert.Empty(t, snap.LatencySamplesMS)
}

func TestCoordMetricsCounters(t *testing.T) {
	rec := NewCoordMetricsService(true)

	rec.RecordLeadershipChange(true)
	rec.RecordLeadershipChange(false)
	rec.RecordWriteConflict()
	rec.RecordFollowerRefresh()
	rec.RecordFollowerRefresh()

	snap := rec.Snapshot()
	assert.Equal(t, uint64(2), snap.LeadershipChanges)
	assert.Equal(t, uint64(1), snap.WriteConflicts)
	assert.Equal(t, uint64(2), snap.FollowerRefreshes)
}

func TestCoordMetricsLatencyWindow(t *testing.T) {
	rec := NewCoordMetricsService(true)

	for i := 0; i < latencySampleCap+50; i++ {
		rec.RecordNotificationLatency(float64(i))
	}

	snap := rec.Snapshot()
	assert.Equal(t, uint64(latencySampleCap+50), snap.TotalNotifications)
	assert.Len(t, snap.LatencySamplesMS, latencySampleCap)
	// Window holds the most recent samples: 50..149, average 99.5
	assert.Equal(t, float64(50), snap.LatencySamplesMS[0])
	assert.InDelta(t, 99.5, snap.AvgNotificationLatencyMS, 0.001)
}

func TestCoordMetricsSnapshotIsACopy(t *testing.T) {
	rec := NewCoordMetricsService(true)
	rec.RecordNotificationLatency(1)

	snap := rec.Snapshot()
	snap.LatencySamplesMS[0] = 999

	assert.Equal(t, float64(1), rec.Snapshot().LatencySamplesMS[0])
}

func TestCoordMetricsReset(t *testing.T) {
	rec := NewCoordMetricsService(true)
	rec.RecordLeadershipChange(true)
	rec.RecordNotificationLatency(5)

	rec.Reset()

	snap := rec.Snapshot()
	assert.Zero(t, snap.LeadershipChanges)
	assert.Zero(t, snap.TotalNotifications)
	assert.Empty(t, snap.LatencySamplesMS)
	assert.True(t, rec.Enabled())
}

func TestCoordMetricsDisableResets(t *testing.T) {
	rec := NewCoordMetricsService(true)
	rec.RecordWriteConflict()

	rec.SetEnabled(false)
	assert.False(t, rec.Enabled())

	rec.SetEnabled(true)
	assert.Zero(t, rec.Snapshot().WriteConflicts)
}
