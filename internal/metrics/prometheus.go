package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the coordination layer
type Metrics struct {
	// Election metrics
	ElectionsTotal         prometheus.Counter
	LeadershipChangesTotal prometheus.CounterVec
	HeartbeatsSentTotal    prometheus.Counter
	AnnouncesReceivedTotal prometheus.Counter
	ClaimsReceivedTotal    prometheus.Counter
	StaleMessagesTotal     prometheus.Counter
	CurrentTerm            prometheus.Gauge
	IsLeader               prometheus.Gauge

	// Write forwarding metrics
	DirectWritesTotal     prometheus.Counter
	ForwardedWritesTotal  prometheus.Counter
	ForwardDuration       prometheus.Histogram
	WriteTimeoutsTotal    prometheus.Counter
	AcksTotal             prometheus.CounterVec
	WriteConflictsTotal   prometheus.Counter
	FollowerRefreshTotal  prometheus.Counter
	PendingWritesGauge    prometheus.Gauge

	// Broadcast channel metrics
	BusPublishedTotal   prometheus.Counter
	BusDroppedTotal     prometheus.Counter
	BusPublishErrsTotal prometheus.Counter
	BusSubscribers      prometheus.Gauge

	// Optimistic tracker metrics
	OptimisticTrackedTotal prometheus.Counter
	OptimisticPending      prometheus.Gauge

	// Presence metrics
	PresenceMembers     prometheus.Gauge
	PresenceEventsTotal prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics against the given
// registerer. Tests pass a fresh registry so handles never collide.
func NewMetrics(dbName string, reg prometheus.Registerer) *Metrics {
	labels := prometheus.Labels{"db": dbName}
	factory := promauto.With(reg)

	return &Metrics{
		// Election metrics
		ElectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "datasync",
			Subsystem:   "election",
			Name:        "elections_total",
			Help:        "Total number of candidacies started by this handle",
			ConstLabels: labels,
		}),
		LeadershipChangesTotal: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "datasync",
			Subsystem:   "election",
			Name:        "leadership_changes_total",
			Help:        "Total number of leadership transitions by direction",
			ConstLabels: labels,
		}, []string{"direction"}),
		HeartbeatsSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "datasync",
			Subsystem:   "election",
			Name:        "heartbeats_sent_total",
			Help:        "Total number of leader announcements published",
			ConstLabels: labels,
		}),
		AnnouncesReceivedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "datasync",
			Subsystem:   "election",
			Name:        "announces_received_total",
			Help:        "Total number of leader announcements received",
			ConstLabels: labels,
		}),
		ClaimsReceivedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "datasync",
			Subsystem:   "election",
			Name:        "claims_received_total",
			Help:        "Total number of candidacy claims received",
			ConstLabels: labels,
		}),
		StaleMessagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "datasync",
			Subsystem:   "election",
			Name:        "stale_messages_total",
			Help:        "Total number of messages discarded by term fencing",
			ConstLabels: labels,
		}),
		CurrentTerm: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "datasync",
			Subsystem:   "election",
			Name:        "term",
			Help:        "Last observed leadership term",
			ConstLabels: labels,
		}),
		IsLeader: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "datasync",
			Subsystem:   "election",
			Name:        "is_leader",
			Help:        "1 when this handle is the leader, 0 otherwise",
			ConstLabels: labels,
		}),

		// Write forwarding metrics
		DirectWritesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "datasync",
			Subsystem:   "forward",
			Name:        "direct_writes_total",
			Help:        "Total number of statements executed on the local engine",
			ConstLabels: labels,
		}),
		ForwardedWritesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "datasync",
			Subsystem:   "forward",
			Name:        "forwarded_writes_total",
			Help:        "Total number of statements forwarded to the leader",
			ConstLabels: labels,
		}),
		ForwardDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "datasync",
			Subsystem:   "forward",
			Name:        "duration_seconds",
			Help:        "Histogram of forwarded write round-trip durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		WriteTimeoutsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "datasync",
			Subsystem:   "forward",
			Name:        "write_timeouts_total",
			Help:        "Total number of forwarded writes that timed out",
			ConstLabels: labels,
		}),
		AcksTotal: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "datasync",
			Subsystem:   "forward",
			Name:        "acks_total",
			Help:        "Total number of write acknowledgements by status",
			ConstLabels: labels,
		}, []string{"status"}),
		WriteConflictsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "datasync",
			Subsystem:   "forward",
			Name:        "write_conflicts_total",
			Help:        "Total number of writes committed under a stale term",
			ConstLabels: labels,
		}),
		FollowerRefreshTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "datasync",
			Subsystem:   "forward",
			Name:        "follower_refreshes_total",
			Help:        "Total number of follower reads served through the leader",
			ConstLabels: labels,
		}),
		PendingWritesGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "datasync",
			Subsystem:   "forward",
			Name:        "pending_writes",
			Help:        "Forwarded writes currently awaiting acknowledgement",
			ConstLabels: labels,
		}),

		// Broadcast channel metrics
		BusPublishedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "datasync",
			Subsystem:   "bus",
			Name:        "published_total",
			Help:        "Total number of envelopes published",
			ConstLabels: labels,
		}),
		BusDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "datasync",
			Subsystem:   "bus",
			Name:        "dropped_total",
			Help:        "Total number of envelopes dropped by full mailboxes",
			ConstLabels: labels,
		}),
		BusPublishErrsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "datasync",
			Subsystem:   "bus",
			Name:        "publish_errors_total",
			Help:        "Total number of publishes absorbed after channel failure",
			ConstLabels: labels,
		}),
		BusSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "datasync",
			Subsystem:   "bus",
			Name:        "subscribers",
			Help:        "Current number of channel subscribers",
			ConstLabels: labels,
		}),

		// Optimistic tracker metrics
		OptimisticTrackedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "datasync",
			Subsystem:   "optimistic",
			Name:        "tracked_total",
			Help:        "Total number of optimistic writes tracked",
			ConstLabels: labels,
		}),
		OptimisticPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "datasync",
			Subsystem:   "optimistic",
			Name:        "pending",
			Help:        "Optimistic writes not yet confirmed or reverted",
			ConstLabels: labels,
		}),

		// Presence metrics
		PresenceMembers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "datasync",
			Subsystem:   "presence",
			Name:        "members",
			Help:        "Current number of known cluster members",
			ConstLabels: labels,
		}),
		PresenceEventsTotal: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "datasync",
			Subsystem:   "presence",
			Name:        "events_total",
			Help:        "Total number of membership events by type",
			ConstLabels: labels,
		}, []string{"event"}),
	}
}

// RecordElectionStarted records a new candidacy
func (m *Metrics) RecordElectionStarted() {
	m.ElectionsTotal.Inc()
}

// RecordLeadershipChange records a transition into or out of leadership
func (m *Metrics) RecordLeadershipChange(becameLeader bool, term uint64) {
	if becameLeader {
		m.LeadershipChangesTotal.WithLabelValues("became_leader").Inc()
		m.IsLeader.Set(1)
	} else {
		m.LeadershipChangesTotal.WithLabelValues("ceded_leader").Inc()
		m.IsLeader.Set(0)
	}
	m.CurrentTerm.Set(float64(term))
}

// RecordHeartbeatSent records a published leader announcement
func (m *Metrics) RecordHeartbeatSent() {
	m.HeartbeatsSentTotal.Inc()
}

// RecordAnnounceReceived records a received leader announcement
func (m *Metrics) RecordAnnounceReceived(term uint64) {
	m.AnnouncesReceivedTotal.Inc()
	m.CurrentTerm.Set(float64(term))
}

// RecordClaimReceived records a received candidacy claim
func (m *Metrics) RecordClaimReceived() {
	m.ClaimsReceivedTotal.Inc()
}

// RecordStaleMessage records a message discarded by term fencing
func (m *Metrics) RecordStaleMessage() {
	m.StaleMessagesTotal.Inc()
}

// RecordDirectWrite records a statement executed on the local engine
func (m *Metrics) RecordDirectWrite() {
	m.DirectWritesTotal.Inc()
}

// RecordForward records a completed forwarded write round trip
func (m *Metrics) RecordForward(durationSeconds float64) {
	m.ForwardedWritesTotal.Inc()
	m.ForwardDuration.Observe(durationSeconds)
}

// RecordWriteTimeout records a forwarded write that received no ack in time
func (m *Metrics) RecordWriteTimeout() {
	m.WriteTimeoutsTotal.Inc()
}

// RecordAck records a write acknowledgement
func (m *Metrics) RecordAck(ok bool) {
	if ok {
		m.AcksTotal.WithLabelValues("ok").Inc()
	} else {
		m.AcksTotal.WithLabelValues("error").Inc()
	}
}

// RecordWriteConflict records a write committed under a stale term
func (m *Metrics) RecordWriteConflict() {
	m.WriteConflictsTotal.Inc()
}

// RecordFollowerRefresh records a follower read served through the leader
func (m *Metrics) RecordFollowerRefresh() {
	m.FollowerRefreshTotal.Inc()
}

// SetPendingWrites updates the in-flight forwarded write gauge
func (m *Metrics) SetPendingWrites(n int) {
	m.PendingWritesGauge.Set(float64(n))
}

// RecordBusPublish records a published envelope
func (m *Metrics) RecordBusPublish() {
	m.BusPublishedTotal.Inc()
}

// RecordBusDrop records an envelope dropped by a full mailbox
func (m *Metrics) RecordBusDrop() {
	m.BusDroppedTotal.Inc()
}

// RecordBusPublishError records an absorbed publish failure
func (m *Metrics) RecordBusPublishError() {
	m.BusPublishErrsTotal.Inc()
}

// SetBusSubscribers updates the subscriber gauge
func (m *Metrics) SetBusSubscribers(n int) {
	m.BusSubscribers.Set(float64(n))
}

// RecordOptimisticTracked records a newly tracked optimistic write
func (m *Metrics) RecordOptimisticTracked() {
	m.OptimisticTrackedTotal.Inc()
}

// SetOptimisticPending updates the pending optimistic write gauge
func (m *Metrics) SetOptimisticPending(n int) {
	m.OptimisticPending.Set(float64(n))
}

// SetPresenceMembers updates the membership gauge
func (m *Metrics) SetPresenceMembers(n int) {
	m.PresenceMembers.Set(float64(n))
}

// RecordPresenceEvent records a membership event (join, leave, update)
func (m *Metrics) RecordPresenceEvent(event string) {
	m.PresenceEventsTotal.WithLabelValues(event).Inc()
}
