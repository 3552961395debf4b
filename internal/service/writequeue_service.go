package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datasync-io/datasync/internal/config"
	coorderrors "github.com/datasync-io/datasync/internal/errors"
	"github.com/datasync-io/datasync/internal/metrics"
	"github.com/datasync-io/datasync/internal/model"
	"github.com/datasync-io/datasync/internal/storage/engine"
	"github.com/datasync-io/datasync/internal/util/applyqueue"
	"go.uber.org/zap"
)

// WriteQueueService routes statements between the local engine and the
// leader. Reads always run locally. Mutations run locally when this handle
// is leader, otherwise they are forwarded over the channel and the caller
// blocks until the leader's acknowledgment or a timeout.
//
// The leader applies forwarded writes through a single-lane apply queue, so
// writes from one sender land in the order they were sent.
type WriteQueueService struct {
	dbName string
	peerID string
	cfg    config.WriteConfig

	bus        *BroadcastService
	elector    *ElectionService
	engine     engine.Engine
	optimistic *OptimisticService
	rec        *CoordMetricsService
	prom       *metrics.Metrics
	logger     *zap.Logger

	lane *applyqueue.Queue
	sub  *Subscription

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*pendingCall
	closed  bool

	allowNonLeaderWrites atomic.Bool
}

// pendingCall is one forwarded write awaiting its acknowledgment
type pendingCall struct {
	pw   model.PendingWrite
	done chan *model.WriteResponse
}

// NewWriteQueueService wires the coordinator for one database handle
func NewWriteQueueService(dbName, peerID string, cfg config.WriteConfig, bus *BroadcastService,
	elector *ElectionService, eng engine.Engine, optimistic *OptimisticService,
	rec *CoordMetricsService, prom *metrics.Metrics, logger *zap.Logger) *WriteQueueService {
	return &WriteQueueService{
		dbName:     dbName,
		peerID:     peerID,
		cfg:        cfg,
		bus:        bus,
		elector:    elector,
		engine:     eng,
		optimistic: optimistic,
		rec:        rec,
		prom:       prom,
		logger:     logger,
		lane:       applyqueue.New(dbName+"-apply", cfg.ApplyQueueSize, logger),
		pending:    make(map[uint64]*pendingCall),
	}
}

// Start subscribes to the channel and registers the promotion drain
func (w *WriteQueueService) Start() {
	w.sub = w.bus.Subscribe(w.dbName, w.peerID, w.prom, w.receive)
	w.elector.OnBecomeLeader(w.drainOwnPending)
}

// SetAllowNonLeaderWrites permits followers to mutate locally instead of
// forwarding. Divergence between peers becomes the caller's problem.
func (w *WriteQueueService) SetAllowNonLeaderWrites(allow bool) {
	w.allowNonLeaderWrites.Store(allow)
}

// AllowNonLeaderWrites reports the current escape-hatch setting
func (w *WriteQueueService) AllowNonLeaderWrites() bool {
	return w.allowNonLeaderWrites.Load()
}

// Execute routes one statement with the default forward timeout
func (w *WriteQueueService) Execute(ctx context.Context, sqlText string, params []interface{}) (*model.ResultSet, error) {
	return w.ExecuteWithTimeout(ctx, sqlText, params, w.cfg.ForwardTimeout)
}

// ExecuteWithTimeout routes one statement, bounding a forwarded write by
// timeout
func (w *WriteQueueService) ExecuteWithTimeout(ctx context.Context, sqlText string, params []interface{}, timeout time.Duration) (*model.ResultSet, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, coorderrors.Closed("execute")
	}
	w.mu.Unlock()

	if !engine.IsMutation(sqlText) {
		rs, err := w.engine.Execute(ctx, sqlText, params)
		if err == nil && !w.elector.IsLeader() {
			// A follower read observes state the leader applied
			w.rec.RecordFollowerRefresh()
			w.prom.RecordFollowerRefresh()
		}
		return rs, err
	}

	if w.elector.IsLeader() || w.allowNonLeaderWrites.Load() {
		return w.applyDirect(ctx, sqlText, params)
	}
	return w.forward(ctx, sqlText, params, timeout)
}

// applyDirect runs a mutation on the local engine with term fencing at
// commit: losing leadership during the engine call is surfaced as a
// conflict metric, but the applied result is still returned because the
// engine has already committed it.
func (w *WriteQueueService) applyDirect(ctx context.Context, sqlText string, params []interface{}) (*model.ResultSet, error) {
	wasLeader := w.elector.IsLeader()
	termBefore := w.elector.Term()

	rs, err := w.engine.Execute(ctx, sqlText, params)
	if err != nil {
		return nil, err
	}

	if wasLeader && (w.elector.Term() != termBefore || !w.elector.IsLeader()) {
		w.rec.RecordWriteConflict()
		w.prom.RecordWriteConflict()
		w.logger.Warn("Write raced a leadership change",
			zap.String("db", w.dbName),
			zap.Uint64("term_before", termBefore),
			zap.Uint64("term_after", w.elector.Term()))
	}

	w.prom.RecordDirectWrite()
	return rs, nil
}

// forward publishes the write and blocks for the leader's acknowledgment
func (w *WriteQueueService) forward(ctx context.Context, sqlText string, params []interface{}, timeout time.Duration) (*model.ResultSet, error) {
	req := &model.WriteRequest{
		RequestID: w.nextID.Add(1),
		SQL:       sqlText,
		Params:    params,
		TimeoutMS: timeout.Milliseconds(),
	}
	call := &pendingCall{
		pw: model.PendingWrite{
			RequestID:  req.RequestID,
			SQL:        sqlText,
			Params:     params,
			EnqueuedAt: time.Now(),
			Timeout:    timeout,
		},
		done: make(chan *model.WriteResponse, 1),
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, coorderrors.Closed("execute")
	}
	w.pending[req.RequestID] = call
	w.prom.SetPendingWrites(len(w.pending))
	w.mu.Unlock()

	optID := w.optimistic.Track(sqlText)
	start := time.Now()

	err := w.bus.Publish(w.dbName, &model.Envelope{
		Kind:      model.KindWrite,
		From:      w.peerID,
		Term:      w.elector.Term(),
		Timestamp: model.NowMillis(),
		Write:     req,
	})
	if err != nil {
		w.removePending(req.RequestID)
		w.revertOptimistic(optID)
		return nil, coorderrors.ForwardFailed(req.RequestID, err)
	}
	w.prom.RecordBusPublish()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-call.done:
		if !ok {
			w.revertOptimistic(optID)
			return nil, coorderrors.Closed("execute")
		}
		w.prom.RecordForward(time.Since(start).Seconds())
		if !resp.OK {
			w.revertOptimistic(optID)
			return nil, coorderrors.RemoteEngineError(resp.Error)
		}
		if optID != "" {
			w.optimistic.Confirm(optID)
		}
		return resp.Result, nil

	case <-timer.C:
		w.removePending(req.RequestID)
		w.revertOptimistic(optID)
		w.prom.RecordWriteTimeout()
		w.logger.Warn("Forwarded write timed out",
			zap.String("db", w.dbName),
			zap.Uint64("request_id", req.RequestID),
			zap.Duration("timeout", timeout))
		return nil, coorderrors.WriteTimeout(req.RequestID, timeout)

	case <-ctx.Done():
		w.removePending(req.RequestID)
		w.revertOptimistic(optID)
		return nil, ctx.Err()
	}
}

func (w *WriteQueueService) revertOptimistic(optID string) {
	if optID != "" {
		w.optimistic.Revert(optID)
	}
}

// receive handles write and acknowledgment envelopes from the channel
func (w *WriteQueueService) receive(env *model.Envelope) {
	switch env.Kind {
	case model.KindWrite:
		w.handleForwardedWrite(env)
	case model.KindAck:
		w.handleAck(env)
	}
}

// handleForwardedWrite applies a peer's write if this handle is leader.
// Followers ignore it; if no leader exists the sender's timeout fires and
// re-election sorts it out.
func (w *WriteQueueService) handleForwardedWrite(env *model.Envelope) {
	if env.Write == nil || !w.elector.IsLeader() {
		return
	}

	req := env.Write
	sender := env.From
	err := w.lane.Submit(applyqueue.Task{
		ID: fmt.Sprintf("%s:%d", sender, req.RequestID),
		Fn: func() error {
			return w.applyAndAck(sender, req)
		},
	})
	if err != nil {
		w.logger.Warn("Apply lane rejected forwarded write",
			zap.String("db", w.dbName),
			zap.String("sender", sender),
			zap.Uint64("request_id", req.RequestID),
			zap.Error(err))
	}
}

// applyAndAck runs in the apply lane: execute, then acknowledge the sender
func (w *WriteQueueService) applyAndAck(sender string, req *model.WriteRequest) error {
	ctx := context.Background()
	if req.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	resp := &model.WriteResponse{RequestID: req.RequestID}
	rs, err := w.applyDirect(ctx, req.SQL, req.Params)
	if err != nil {
		resp.Error = err.Error()
		w.prom.RecordAck(false)
	} else {
		resp.OK = true
		resp.Result = rs
		w.prom.RecordAck(true)
	}

	pubErr := w.bus.Publish(w.dbName, &model.Envelope{
		Kind:      model.KindAck,
		From:      w.peerID,
		To:        sender,
		Term:      w.elector.Term(),
		Timestamp: model.NowMillis(),
		Ack:       resp,
	})
	if pubErr != nil {
		w.logger.Warn("Acknowledgment publish failed",
			zap.String("db", w.dbName),
			zap.String("sender", sender),
			zap.Uint64("request_id", req.RequestID),
			zap.Error(pubErr))
	} else {
		w.prom.RecordBusPublish()
	}
	return err
}

// handleAck resolves the matching pending call, if it still exists. Late
// acks after a timeout are dropped here.
func (w *WriteQueueService) handleAck(env *model.Envelope) {
	if env.Ack == nil {
		return
	}

	w.mu.Lock()
	call, ok := w.pending[env.Ack.RequestID]
	if ok {
		delete(w.pending, env.Ack.RequestID)
		w.prom.SetPendingWrites(len(w.pending))
	}
	w.mu.Unlock()

	if ok {
		call.done <- env.Ack
	}
}

// drainOwnPending runs when this handle is promoted: writes it forwarded to
// a leader that never answered are applied locally, in request order
func (w *WriteQueueService) drainOwnPending() {
	w.mu.Lock()
	calls := make([]*pendingCall, 0, len(w.pending))
	for _, call := range w.pending {
		calls = append(calls, call)
	}
	w.pending = make(map[uint64]*pendingCall)
	w.prom.SetPendingWrites(0)
	w.mu.Unlock()

	if len(calls) == 0 {
		return
	}

	sort.Slice(calls, func(i, j int) bool {
		return calls[i].pw.RequestID < calls[j].pw.RequestID
	})

	w.logger.Info("Applying own queued writes after promotion",
		zap.String("db", w.dbName),
		zap.Int("count", len(calls)))

	for _, call := range calls {
		resp := &model.WriteResponse{RequestID: call.pw.RequestID}
		rs, err := w.applyDirect(context.Background(), call.pw.SQL, call.pw.Params)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.OK = true
			resp.Result = rs
		}
		call.done <- resp
	}
}

// removePending drops a call without resolving it
func (w *WriteQueueService) removePending(requestID uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, requestID)
	w.prom.SetPendingWrites(len(w.pending))
}

// Stats reports the apply lane's counters
func (w *WriteQueueService) Stats() applyqueue.Stats {
	return w.lane.Stats()
}

// PendingCount returns the number of forwarded writes awaiting
// acknowledgment
func (w *WriteQueueService) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// PendingWrites snapshots the forwarded writes still awaiting
// acknowledgment, in request order
func (w *WriteQueueService) PendingWrites() []model.PendingWrite {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]model.PendingWrite, 0, len(w.pending))
	for _, call := range w.pending {
		out = append(out, call.pw)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestID < out[j].RequestID
	})
	return out
}

// Stop cancels the subscription, stops the apply lane, and fails every
// pending call with a closed error
func (w *WriteQueueService) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	calls := w.pending
	w.pending = make(map[uint64]*pendingCall)
	w.mu.Unlock()

	if w.sub != nil {
		w.sub.Cancel()
	}
	if err := w.lane.Stop(2 * time.Second); err != nil {
		w.logger.Warn("Apply lane stop timed out",
			zap.String("db", w.dbName),
			zap.Error(err))
	}

	for _, call := range calls {
		close(call.done)
	}
	w.prom.SetPendingWrites(0)
}
