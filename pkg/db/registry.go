// Package db is the public surface of the coordination layer. A Registry
// owns shared infrastructure (channel, presence, metrics registry) and hands
// out Database handles; each handle runs its own election and write
// coordinator.
//
// Handles in different registries coordinate when the registries share a
// broadcast channel, which is how separate processes on one host or tests
// with several simulated peers are wired.
package db

import (
	"sync"

	"github.com/datasync-io/datasync/internal/config"
	coorderrors "github.com/datasync-io/datasync/internal/errors"
	"github.com/datasync-io/datasync/internal/metrics"
	"github.com/datasync-io/datasync/internal/service"
	"github.com/datasync-io/datasync/internal/storage/engine"
	"github.com/datasync-io/datasync/internal/storage/snapshot"
	"github.com/datasync-io/datasync/internal/validation"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Registry opens and tracks Database handles
type Registry struct {
	cfg    *config.Config
	logger *zap.Logger

	bus      *service.BroadcastService
	ownsBus  bool
	presence *service.PresenceService
	promReg  *prometheus.Registry

	engineFactory engine.Factory
	storeFactory  snapshot.Factory
	validator     *validation.Validator

	mu      sync.Mutex
	handles map[string]*Database
	closed  bool
}

// Option adjusts registry construction
type Option func(*Registry)

// WithBroadcast shares an existing channel instead of creating a private
// one. The registry does not close a shared channel.
func WithBroadcast(bus *service.BroadcastService) Option {
	return func(r *Registry) {
		r.bus = bus
		r.ownsBus = false
	}
}

// WithPresence attaches a presence service; leader departures then trigger
// immediate re-election on every handle
func WithPresence(ps *service.PresenceService) Option {
	return func(r *Registry) { r.presence = ps }
}

// WithEngineFactory overrides the SQL engine constructor
func WithEngineFactory(f engine.Factory) Option {
	return func(r *Registry) { r.engineFactory = f }
}

// WithStoreFactory overrides the snapshot store constructor
func WithStoreFactory(f snapshot.Factory) Option {
	return func(r *Registry) { r.storeFactory = f }
}

// NewRegistry creates a registry from config. Without options it owns a
// private channel, SQLite engines, and Badger snapshot stores.
func NewRegistry(cfg *config.Config, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		cfg:       cfg,
		logger:    logger,
		ownsBus:   true,
		promReg:   prometheus.NewRegistry(),
		validator: validation.NewValidator(),
		handles:   make(map[string]*Database),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.bus == nil {
		r.bus = service.NewBroadcastService(cfg.Broadcast.MailboxSize, logger)
	}
	if r.engineFactory == nil {
		r.engineFactory = engine.NewSQLiteFactory()
	}
	if r.storeFactory == nil {
		r.storeFactory = snapshot.NewBadgerFactory(logger)
	}
	return r
}

// Gatherer exposes the metrics registry for the scrape endpoint
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.promReg
}

// Registerer exposes the metrics registry for additional collectors
func (r *Registry) Registerer() prometheus.Registerer {
	return r.promReg
}

// NewPeerMetrics builds a collector set in this registry's namespace for a
// component outside any single handle, labeled consistently with handle
// metrics
func (r *Registry) NewPeerMetrics(name, peerID string) *metrics.Metrics {
	return metrics.NewMetrics(name, prometheus.WrapRegistererWith(
		prometheus.Labels{"peer": peerID}, r.promReg))
}

// SetPresence attaches a presence service after construction. Only handles
// opened afterwards react to peer departures.
func (r *Registry) SetPresence(ps *service.PresenceService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence = ps
}

// Bus returns the broadcast channel this registry publishes on
func (r *Registry) Bus() *service.BroadcastService {
	return r.bus
}

// Open creates the handle for name, starting its election and write
// coordinator. A second Open of the same name on this registry fails with
// an already-open error until the first handle is closed.
func (r *Registry) Open(name string) (*Database, error) {
	if err := r.validator.ValidateDatabaseName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, coorderrors.Closed("open")
	}
	if _, exists := r.handles[name]; exists {
		return nil, coorderrors.AlreadyOpen(name)
	}

	peerID := name + "-" + uuid.NewString()

	eng, err := r.engineFactory(name, r.cfg.Database.DataDir)
	if err != nil {
		return nil, err
	}
	store, err := r.storeFactory(name, r.cfg.Database.DataDir)
	if err != nil {
		eng.Close()
		return nil, err
	}

	prom := metrics.NewMetrics(name, prometheus.WrapRegistererWith(
		prometheus.Labels{"peer": peerID}, r.promReg))
	rec := service.NewCoordMetricsService(r.cfg.Metrics.CoordinationEnabled)
	optimistic := service.NewOptimisticService(name, r.cfg.Optimistic.Enabled, prom, r.logger)

	elector := service.NewElectionService(name, peerID, r.cfg.Election, r.bus, rec, prom, r.logger)
	wq := service.NewWriteQueueService(name, peerID, r.cfg.Write, r.bus, elector, eng, optimistic, rec, prom, r.logger)

	d := &Database{
		name:       name,
		peerID:     peerID,
		registry:   r,
		logger:     r.logger,
		engine:     eng,
		store:      store,
		elector:    elector,
		wq:         wq,
		optimistic: optimistic,
		rec:        rec,
		prom:       prom,
		validator:  r.validator,
	}

	wq.Start()
	elector.Start()
	if r.presence != nil {
		r.presence.OnPeerLeave(elector.PeerLeft)
	}

	r.handles[name] = d

	r.logger.Info("Database handle opened",
		zap.String("db", name),
		zap.String("peer_id", peerID))
	return d, nil
}

// Get returns the open handle for name, or nil
func (r *Registry) Get(name string) *Database {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[name]
}

// remove is called by Database.Close and by import invalidation
func (r *Registry) remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, name)
}

// Close closes every open handle and, if owned, the channel
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	handles := make([]*Database, 0, len(r.handles))
	for _, d := range r.handles {
		handles = append(handles, d)
	}
	r.mu.Unlock()

	var firstErr error
	for _, d := range handles {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.ownsBus {
		r.bus.Close()
	}
	return firstErr
}
