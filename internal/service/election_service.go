package service

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/datasync-io/datasync/internal/config"
	coorderrors "github.com/datasync-io/datasync/internal/errors"
	"github.com/datasync-io/datasync/internal/metrics"
	"github.com/datasync-io/datasync/internal/model"
	"go.uber.org/zap"
)

// ElectionService runs the per-handle leadership state machine. One goroutine
// owns all state transitions and timers; channel messages and public requests
// are funneled into it, which keeps every mutation consistent before the next
// event is observed.
//
// States are follower, candidate, leader, and released. A follower that sees
// no leader announcement within a randomized election timeout publishes a
// claim for term+1 and waits out a short claim window; absent a better claim
// it self-promotes and announces. Concurrent claims for the same term are
// broken deterministically: the greater peer ID wins. All messages carry a
// term, and anything below the last observed term is discarded.
//
// With no reachable peers the machine degrades to single-tab mode: the
// election timeout fires, no competing claim can arrive, and it promotes
// itself, which is safe because there is nobody to conflict with.
type ElectionService struct {
	dbName string
	peerID string
	cfg    config.ElectionConfig
	bus    *BroadcastService
	rec    *CoordMetricsService
	prom   *metrics.Metrics
	logger *zap.Logger

	mu       sync.Mutex
	state    model.State
	term     uint64
	leaderID string
	waiters  []chan struct{}
	onLeader []func()

	// claimTerm is the term this handle is currently campaigning for
	claimTerm uint64

	// Timers live on the struct but are touched only by the run loop
	// goroutine: envelope handling, timer fires, and command closures all
	// execute there.
	electionTimer *time.Timer
	claimTimer    *time.Timer
	heartbeat     *time.Ticker
	heartbeatC    <-chan time.Time

	sub      *Subscription
	inbox    chan *model.Envelope
	cmds     chan func()
	stopOnce sync.Once
	stopped  chan struct{}
	loopDone chan struct{}
}

// NewElectionService creates the state machine for one database handle
func NewElectionService(dbName, peerID string, cfg config.ElectionConfig, bus *BroadcastService,
	rec *CoordMetricsService, prom *metrics.Metrics, logger *zap.Logger) *ElectionService {
	return &ElectionService{
		dbName:   dbName,
		peerID:   peerID,
		cfg:      cfg,
		bus:      bus,
		rec:      rec,
		prom:     prom,
		logger:   logger,
		state:    model.StateFollower,
		inbox:    make(chan *model.Envelope, 64),
		cmds:     make(chan func(), 16),
		stopped:  make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Start subscribes to the channel and begins the election cycle
func (s *ElectionService) Start() {
	s.sub = s.bus.Subscribe(s.dbName, s.peerID, s.prom, s.receive)
	go s.run()

	s.logger.Info("Leader election started",
		zap.String("db", s.dbName),
		zap.String("peer_id", s.peerID))
}

// receive hands a channel envelope to the run loop without blocking forever
// on shutdown
func (s *ElectionService) receive(env *model.Envelope) {
	if env.Kind != model.KindClaim && env.Kind != model.KindAnnounce {
		return
	}
	select {
	case s.inbox <- env:
	case <-s.stopped:
	}
}

// run owns every state transition and all timers
func (s *ElectionService) run() {
	defer close(s.loopDone)

	s.electionTimer = time.NewTimer(s.electionTimeout())
	defer s.electionTimer.Stop()

	s.claimTimer = time.NewTimer(time.Hour)
	stopTimer(s.claimTimer)
	defer s.claimTimer.Stop()

	s.heartbeat = time.NewTicker(s.cfg.HeartbeatInterval)
	s.heartbeat.Stop()
	s.heartbeatC = nil
	defer s.heartbeat.Stop()

	for {
		select {
		case env := <-s.inbox:
			s.handleEnvelope(env)

		case <-s.electionTimer.C:
			s.startCandidacy("election timeout")

		case <-s.claimTimer.C:
			s.promote()

		case <-s.heartbeatC:
			s.announce()

		case fn := <-s.cmds:
			fn()

		case <-s.stopped:
			return
		}
	}
}

// startHeartbeatLocked arms the leader heartbeat; run loop goroutine only
func (s *ElectionService) startHeartbeatLocked() {
	s.heartbeat.Reset(s.cfg.HeartbeatInterval)
	s.heartbeatC = s.heartbeat.C
}

// stopHeartbeatLocked disarms the leader heartbeat; run loop goroutine only
func (s *ElectionService) stopHeartbeatLocked() {
	s.heartbeat.Stop()
	s.heartbeatC = nil
}

// handleEnvelope applies one channel message to the state machine
func (s *ElectionService) handleEnvelope(env *model.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == model.StateReleased {
		return
	}

	// Fencing: anything below the last observed term is stale
	if env.Term < s.term {
		s.prom.RecordStaleMessage()
		s.logger.Debug("Discarded stale message",
			zap.String("db", s.dbName),
			zap.String("kind", string(env.Kind)),
			zap.Uint64("msg_term", env.Term),
			zap.Uint64("term", s.term))
		return
	}

	switch env.Kind {
	case model.KindAnnounce:
		s.handleAnnounceLocked(env)
	case model.KindClaim:
		s.handleClaimLocked(env)
	}
}

// handleAnnounceLocked processes a leader announcement with term >= ours
func (s *ElectionService) handleAnnounceLocked(env *model.Envelope) {
	s.prom.RecordAnnounceReceived(env.Term)

	if latency := model.NowMillis() - env.Timestamp; latency >= 0 {
		s.rec.RecordNotificationLatency(float64(latency))
	}

	switch s.state {
	case model.StateLeader:
		if env.Term > s.term || (env.Term == s.term && env.From > s.peerID) {
			// Split-brain recovery: the higher term wins; equal terms
			// fall back to the peer ID total order.
			s.demoteLocked()
			s.adoptLeaderLocked(env.From, env.Term)
			s.resetElectionTimerLocked()
		} else {
			// A stale leader is still out there; re-assert immediately
			// so its followers converge on us.
			s.announceLocked()
		}

	case model.StateCandidate:
		if env.Term >= s.claimTerm {
			// Someone won at or above the epoch we are claiming
			stopTimer(s.claimTimer)
			s.state = model.StateFollower
			s.adoptLeaderLocked(env.From, env.Term)
			s.resetElectionTimerLocked()
		}
		// An announcement below our claimed epoch is the incumbent we
		// are deposing; the claim already published outranks it.

	case model.StateFollower:
		s.adoptLeaderLocked(env.From, env.Term)
		s.resetElectionTimerLocked()
	}
}

// handleClaimLocked processes a candidacy claim with term >= ours
func (s *ElectionService) handleClaimLocked(env *model.Envelope) {
	s.prom.RecordClaimReceived()

	switch s.state {
	case model.StateLeader:
		if env.Term <= s.term {
			// Our lease is current; suppress the challenger.
			s.announceLocked()
			return
		}
		// The claimant has observed a newer epoch than our own; yield.
		s.demoteLocked()
		s.term = env.Term
		s.leaderID = ""
		s.resetElectionTimerLocked()

	case model.StateCandidate:
		if env.Term > s.claimTerm || (env.Term == s.claimTerm && env.From > s.peerID) {
			// Lost the tie-break; revert and adopt the winner's term.
			stopTimer(s.claimTimer)
			s.state = model.StateFollower
			s.term = env.Term
			s.leaderID = ""
			s.resetElectionTimerLocked()
			s.logger.Debug("Candidacy lost to competing claim",
				zap.String("db", s.dbName),
				zap.String("winner", env.From),
				zap.Uint64("term", env.Term))
		}
		// Otherwise we out-rank the claimant; our announcement on
		// promotion will settle it.

	case model.StateFollower:
		if env.Term > s.term {
			s.term = env.Term
			s.leaderID = ""
		}
		// Give the claimant its window before we consider re-electing.
		s.resetElectionTimerLocked()
	}
}

// startCandidacy publishes a claim for term+1 and opens the claim window;
// run loop goroutine only
func (s *ElectionService) startCandidacy(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == model.StateReleased || s.state == model.StateLeader {
		return
	}

	s.state = model.StateCandidate
	s.claimTerm = s.term + 1
	s.leaderID = ""
	s.prom.RecordElectionStarted()

	s.logger.Info("Starting candidacy",
		zap.String("db", s.dbName),
		zap.String("peer_id", s.peerID),
		zap.Uint64("claim_term", s.claimTerm),
		zap.String("reason", reason))

	s.publishLocked(&model.Envelope{
		Kind:      model.KindClaim,
		From:      s.peerID,
		Term:      s.claimTerm,
		Timestamp: model.NowMillis(),
	})

	stopTimer(s.claimTimer)
	s.claimTimer.Reset(s.cfg.ClaimWindow)
}

// promote makes this handle the leader after an uncontested claim window;
// run loop goroutine only
func (s *ElectionService) promote() {
	s.mu.Lock()

	if s.state != model.StateCandidate {
		s.mu.Unlock()
		return
	}

	s.state = model.StateLeader
	s.term = s.claimTerm
	s.leaderID = s.peerID

	s.rec.RecordLeadershipChange(true)
	s.prom.RecordLeadershipChange(true, s.term)

	s.logger.Info("Became leader",
		zap.String("db", s.dbName),
		zap.String("peer_id", s.peerID),
		zap.Uint64("term", s.term))

	s.announceLocked()
	s.startHeartbeatLocked()

	for _, w := range s.waiters {
		close(w)
	}
	s.waiters = nil

	callbacks := append([]func(){}, s.onLeader...)
	s.mu.Unlock()

	// Callbacks re-enter the coordinator; run them off the loop goroutine.
	for _, cb := range callbacks {
		go cb()
	}
}

// demoteLocked steps down from leadership; caller holds s.mu, run loop only
func (s *ElectionService) demoteLocked() {
	s.state = model.StateFollower
	s.stopHeartbeatLocked()

	s.rec.RecordLeadershipChange(false)
	s.prom.RecordLeadershipChange(false, s.term)

	s.logger.Info("Ceded leadership",
		zap.String("db", s.dbName),
		zap.String("peer_id", s.peerID),
		zap.Uint64("term", s.term))
}

// adoptLeaderLocked records the observed leader; caller holds s.mu
func (s *ElectionService) adoptLeaderLocked(leaderID string, term uint64) {
	s.term = term
	s.leaderID = leaderID
}

// announce publishes a leader announcement from the heartbeat tick
func (s *ElectionService) announce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.StateLeader {
		return
	}
	s.announceLocked()
}

// announceLocked publishes a leader announcement; caller holds s.mu
func (s *ElectionService) announceLocked() {
	s.publishLocked(&model.Envelope{
		Kind:      model.KindAnnounce,
		From:      s.peerID,
		Term:      s.term,
		Timestamp: model.NowMillis(),
	})
	s.prom.RecordHeartbeatSent()
}

// publishLocked publishes fire-and-forget; channel failure is absorbed and
// counted, never surfaced, because re-election copes with losses
func (s *ElectionService) publishLocked(env *model.Envelope) {
	if err := s.bus.Publish(s.dbName, env); err != nil {
		s.prom.RecordBusPublishError()
		s.logger.Debug("Publish absorbed by election logic",
			zap.String("db", s.dbName),
			zap.Error(err))
		return
	}
	s.prom.RecordBusPublish()
}

// resetElectionTimerLocked re-arms the randomized election deadline; run
// loop goroutine only
func (s *ElectionService) resetElectionTimerLocked() {
	stopTimer(s.electionTimer)
	s.electionTimer.Reset(s.electionTimeout())
}

// electionTimeout returns base + jitter, randomized per arm so simultaneous
// candidacies are rare
func (s *ElectionService) electionTimeout() time.Duration {
	if s.cfg.TimeoutJitter <= 0 {
		return s.cfg.TimeoutBase
	}
	return s.cfg.TimeoutBase + time.Duration(rand.Int63n(int64(s.cfg.TimeoutJitter)))
}

// stopTimer drains a timer so Reset is safe
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// IsLeader reports whether this handle currently holds leadership
func (s *ElectionService) IsLeader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == model.StateLeader
}

// State returns the current leadership state
func (s *ElectionService) State() model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Term returns the last observed leadership term
func (s *ElectionService) Term() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term
}

// LeaderID returns the peer ID of the believed leader, if known
func (s *ElectionService) LeaderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderID
}

// WaitForLeadership blocks until this handle becomes leader, the context is
// canceled, or the handle is released
func (s *ElectionService) WaitForLeadership(ctx context.Context) error {
	s.mu.Lock()
	if s.state == model.StateLeader {
		s.mu.Unlock()
		return nil
	}
	if s.state == model.StateReleased {
		s.mu.Unlock()
		return coorderrors.Closed("wait for leadership")
	}
	w := make(chan struct{})
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return coorderrors.Closed("wait for leadership")
	}
}

// OnBecomeLeader registers a callback invoked whenever this handle is
// promoted. The write coordinator uses it to re-evaluate queued writes.
func (s *ElectionService) OnBecomeLeader(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLeader = append(s.onLeader, fn)
}

// RequestLeadership forces a new election cycle at term+1 even if a leader
// currently holds a valid lease. A leader calling it first releases, so the
// cycle stays a normal candidacy and term monotonicity holds.
func (s *ElectionService) RequestLeadership() {
	s.enqueue(func() {
		s.mu.Lock()
		if s.state == model.StateLeader {
			s.demoteLocked()
		}
		s.mu.Unlock()
		s.startCandidacy("leadership requested")
	})
}

// PeerLeft reacts to a presence signal: losing the current leader starts an
// immediate candidacy instead of waiting out the election timeout
func (s *ElectionService) PeerLeft(peerID string) {
	s.enqueue(func() {
		s.mu.Lock()
		lostLeader := s.state == model.StateFollower && s.leaderID == peerID
		s.mu.Unlock()
		if lostLeader {
			s.logger.Info("Leader left the cluster, campaigning",
				zap.String("db", s.dbName),
				zap.String("lost_leader", peerID))
			s.startCandidacy("leader left")
		}
	})
}

// enqueue runs fn on the loop goroutine so timer access stays single-owner
func (s *ElectionService) enqueue(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.stopped:
	}
}

// Stop releases the handle. All waiters resolve with a closed error and no
// further messages are published or consumed.
func (s *ElectionService) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		wasLeader := s.state == model.StateLeader
		s.state = model.StateReleased
		s.waiters = nil
		s.mu.Unlock()

		close(s.stopped)
		<-s.loopDone
		if s.sub != nil {
			s.sub.Cancel()
		}

		s.logger.Info("Leader election stopped",
			zap.String("db", s.dbName),
			zap.String("peer_id", s.peerID),
			zap.Bool("was_leader", wasLeader))
	})
}
