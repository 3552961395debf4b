package model

import "time"

// CoordinationMetrics is a point-in-time snapshot of the coordination
// recorder. It holds no live references and is safe to serialize.
type CoordinationMetrics struct {
	LeadershipChanges        uint64    `json:"leadership_changes"`
	WriteConflicts           uint64    `json:"write_conflicts"`
	FollowerRefreshes        uint64    `json:"follower_refreshes"`
	TotalNotifications       uint64    `json:"total_notifications"`
	AvgNotificationLatencyMS float64   `json:"avg_notification_latency_ms"`
	LatencySamplesMS         []float64 `json:"latency_samples_ms,omitempty"`
	StartedAt                time.Time `json:"started_at"`
}
