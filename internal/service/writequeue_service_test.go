package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/datasync-io/datasync/internal/config"
	coorderrors "github.com/datasync-io/datasync/internal/errors"
	"github.com/datasync-io/datasync/internal/metrics"
	"github.com/datasync-io/datasync/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeEngine records every executed statement in order
type fakeEngine struct {
	mu    sync.Mutex
	execs []string
	fail  error
}

func (f *fakeEngine) Execute(ctx context.Context, sql string, params []interface{}) (*model.ResultSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.execs = append(f.execs, sql)
	return &model.ResultSet{AffectedRows: 1}, nil
}

func (f *fakeEngine) Snapshot(ctx context.Context) ([]byte, error) { return nil, nil }

func (f *fakeEngine) Restore(ctx context.Context, data []byte) error { return nil }

func (f *fakeEngine) Close() error { return nil }

func (f *fakeEngine) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.execs...)
}

func (f *fakeEngine) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

type testPeer struct {
	elector *ElectionService
	wq      *WriteQueueService
	eng     *fakeEngine
	opt     *OptimisticService
	rec     *CoordMetricsService
	prom    *metrics.Metrics
}

func newTestPeer(t *testing.T, bus *BroadcastService, peerID string, ecfg config.ElectionConfig) *testPeer {
	t.Helper()
	prom := metrics.NewMetrics("app", prometheus.NewRegistry())
	rec := NewCoordMetricsService(true)
	opt := NewOptimisticService("app", true, prom, zap.NewNop())
	eng := &fakeEngine{}

	elector := NewElectionService("app", peerID, ecfg, bus, rec, prom, zap.NewNop())
	wq := NewWriteQueueService("app", peerID, config.WriteConfig{
		ForwardTimeout: 500 * time.Millisecond,
		ApplyQueueSize: 16,
	}, bus, elector, eng, opt, rec, prom, zap.NewNop())

	wq.Start()
	elector.Start()
	t.Cleanup(func() {
		wq.Stop()
		elector.Stop()
	})
	return &testPeer{elector: elector, wq: wq, eng: eng, opt: opt, rec: rec, prom: prom}
}

func TestLeaderAppliesMutationsDirectly(t *testing.T) {
	bus := NewBroadcastService(64, nil)
	defer bus.Close()

	p := newTestPeer(t, bus, "peer-a", fastElectionConfig())
	require.NoError(t, p.elector.WaitForLeadership(context.Background()))

	rs, err := p.wq.Execute(context.Background(), "INSERT INTO t VALUES (1)", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rs.AffectedRows)
	assert.Equal(t, []string{"INSERT INTO t VALUES (1)"}, p.eng.executed())

	// Leader reads are not follower refreshes
	_, err = p.wq.Execute(context.Background(), "SELECT * FROM t", nil)
	require.NoError(t, err)
	assert.Zero(t, p.rec.Snapshot().FollowerRefreshes)
}

func TestFollowerForwardsToLeader(t *testing.T) {
	bus := NewBroadcastService(64, nil)
	defer bus.Close()

	leader := newTestPeer(t, bus, "peer-z", fastElectionConfig())
	follower := newTestPeer(t, bus, "peer-a", slowElectionConfig())
	require.NoError(t, leader.elector.WaitForLeadership(context.Background()))
	require.Eventually(t, func() bool {
		return follower.elector.LeaderID() == "peer-z"
	}, 2*time.Second, 5*time.Millisecond)

	rs, err := follower.wq.Execute(context.Background(), "INSERT INTO t VALUES (1)", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rs.AffectedRows)

	assert.Equal(t, []string{"INSERT INTO t VALUES (1)"}, leader.eng.executed())
	assert.Empty(t, follower.eng.executed())

	// Confirmed forwarded writes leave no optimistic residue
	assert.Empty(t, follower.opt.PendingWrites())
	assert.Zero(t, follower.wq.PendingCount())
}

func TestForwardedWritesApplyInOrder(t *testing.T) {
	bus := NewBroadcastService(256, nil)
	defer bus.Close()

	leader := newTestPeer(t, bus, "peer-z", fastElectionConfig())
	follower := newTestPeer(t, bus, "peer-a", slowElectionConfig())
	require.NoError(t, leader.elector.WaitForLeadership(context.Background()))
	require.Eventually(t, func() bool {
		return follower.elector.LeaderID() == "peer-z"
	}, 2*time.Second, 5*time.Millisecond)

	want := []string{
		"INSERT INTO t VALUES (1)",
		"INSERT INTO t VALUES (2)",
		"INSERT INTO t VALUES (3)",
		"INSERT INTO t VALUES (4)",
	}
	for _, sql := range want {
		_, err := follower.wq.Execute(context.Background(), sql, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, want, leader.eng.executed())
}

func TestFollowerReadsRunLocally(t *testing.T) {
	bus := NewBroadcastService(64, nil)
	defer bus.Close()

	leader := newTestPeer(t, bus, "peer-z", fastElectionConfig())
	follower := newTestPeer(t, bus, "peer-a", slowElectionConfig())
	require.NoError(t, leader.elector.WaitForLeadership(context.Background()))
	require.Eventually(t, func() bool {
		return follower.elector.LeaderID() == "peer-z"
	}, 2*time.Second, 5*time.Millisecond)

	_, err := follower.wq.Execute(context.Background(), "SELECT * FROM t", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"SELECT * FROM t"}, follower.eng.executed())
	assert.Empty(t, leader.eng.executed())
	assert.Equal(t, uint64(1), follower.rec.Snapshot().FollowerRefreshes)
}

func TestForwardTimeoutWithoutLeader(t *testing.T) {
	bus := NewBroadcastService(64, nil)
	defer bus.Close()

	follower := newTestPeer(t, bus, "peer-a", slowElectionConfig())

	start := time.Now()
	_, err := follower.wq.ExecuteWithTimeout(context.Background(),
		"INSERT INTO t VALUES (1)", nil, 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, coorderrors.HasCode(err, coorderrors.ErrCodeWriteTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	assert.Zero(t, follower.wq.PendingCount())

	// The locally tracked write is retained as reverted
	writes := follower.opt.PendingWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, model.OptimisticReverted, writes[0].Status)
}

func TestForwardFailsOnClosedChannel(t *testing.T) {
	bus := NewBroadcastService(64, nil)
	follower := newTestPeer(t, bus, "peer-a", slowElectionConfig())
	bus.Close()

	_, err := follower.wq.Execute(context.Background(), "INSERT INTO t VALUES (1)", nil)
	require.Error(t, err)
	assert.True(t, coorderrors.HasCode(err, coorderrors.ErrCodeForwardFailed))
}

func TestRemoteEngineErrorPropagates(t *testing.T) {
	bus := NewBroadcastService(64, nil)
	defer bus.Close()

	leader := newTestPeer(t, bus, "peer-z", fastElectionConfig())
	follower := newTestPeer(t, bus, "peer-a", slowElectionConfig())
	require.NoError(t, leader.elector.WaitForLeadership(context.Background()))
	require.Eventually(t, func() bool {
		return follower.elector.LeaderID() == "peer-z"
	}, 2*time.Second, 5*time.Millisecond)

	leader.eng.setFail(errors.New("no such table: t"))

	_, err := follower.wq.Execute(context.Background(), "INSERT INTO t VALUES (1)", nil)
	require.Error(t, err)
	assert.True(t, coorderrors.HasCode(err, coorderrors.ErrCodeEngine))
	assert.Contains(t, err.Error(), "no such table")
}

func TestPromotionDrainsOwnQueuedWrites(t *testing.T) {
	bus := NewBroadcastService(64, nil)
	defer bus.Close()

	p := newTestPeer(t, bus, "peer-a", slowElectionConfig())

	errCh := make(chan error, 1)
	go func() {
		_, err := p.wq.ExecuteWithTimeout(context.Background(),
			"INSERT INTO t VALUES (1)", nil, 10*time.Second)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return p.wq.PendingCount() == 1
	}, time.Second, 5*time.Millisecond)

	queued := p.wq.PendingWrites()
	require.Len(t, queued, 1)
	assert.Equal(t, "INSERT INTO t VALUES (1)", queued[0].SQL)
	assert.Equal(t, 10*time.Second, queued[0].Timeout)
	assert.False(t, queued[0].EnqueuedAt.IsZero())

	p.elector.RequestLeadership()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("queued write not drained on promotion")
	}
	assert.Equal(t, []string{"INSERT INTO t VALUES (1)"}, p.eng.executed())
}

func TestForwardRoundTripCountsBusPublishes(t *testing.T) {
	bus := NewBroadcastService(64, nil)
	defer bus.Close()

	leader := newTestPeer(t, bus, "peer-z", fastElectionConfig())
	follower := newTestPeer(t, bus, "peer-a", slowElectionConfig())
	require.NoError(t, leader.elector.WaitForLeadership(context.Background()))
	require.Eventually(t, func() bool {
		return follower.elector.LeaderID() == "peer-z"
	}, 2*time.Second, 5*time.Millisecond)

	publishedBefore := testutil.ToFloat64(follower.prom.BusPublishedTotal)

	_, err := follower.wq.Execute(context.Background(), "INSERT INTO t VALUES (1)", nil)
	require.NoError(t, err)

	// The follower published its forwarded write; the leader published at
	// least the ack on top of its heartbeats.
	assert.Equal(t, publishedBefore+1, testutil.ToFloat64(follower.prom.BusPublishedTotal))
	assert.GreaterOrEqual(t, testutil.ToFloat64(leader.prom.BusPublishedTotal), 1.0)
}

func TestAllowNonLeaderWrites(t *testing.T) {
	bus := NewBroadcastService(64, nil)
	defer bus.Close()

	follower := newTestPeer(t, bus, "peer-a", slowElectionConfig())
	follower.wq.SetAllowNonLeaderWrites(true)

	_, err := follower.wq.Execute(context.Background(), "INSERT INTO t VALUES (1)", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"INSERT INTO t VALUES (1)"}, follower.eng.executed())
}

func TestStopFailsPendingWrites(t *testing.T) {
	bus := NewBroadcastService(64, nil)
	defer bus.Close()

	p := newTestPeer(t, bus, "peer-a", slowElectionConfig())

	errCh := make(chan error, 1)
	go func() {
		_, err := p.wq.ExecuteWithTimeout(context.Background(),
			"INSERT INTO t VALUES (1)", nil, 10*time.Second)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return p.wq.PendingCount() == 1
	}, time.Second, 5*time.Millisecond)

	p.wq.Stop()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, coorderrors.HasCode(err, coorderrors.ErrCodeClosed))
	case <-time.After(time.Second):
		t.Fatal("pending write not failed on stop")
	}
}
