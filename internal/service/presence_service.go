package service

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/datasync-io/datasync/internal/config"
	"github.com/datasync-io/datasync/internal/metrics"
	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

// PresenceService tracks which peers are alive via gossip. Its one job in
// the coordination layer is failure detection: when the peer holding
// leadership disappears, registered listeners get told so an election can
// start immediately instead of waiting out the full election timeout.
type PresenceService struct {
	cfg        config.PresenceConfig
	memberlist *memberlist.Memberlist
	peerID     string
	prom       *metrics.Metrics
	logger     *zap.Logger

	mu       sync.Mutex
	onLeave  []func(peerID string)
	metadata presenceMeta
}

// presenceMeta is the blob gossiped alongside membership
type presenceMeta struct {
	PeerID    string `json:"peer_id"`
	StartedAt int64  `json:"started_at"`
}

// NewPresenceService creates and joins the gossip cluster. Node names are
// peer IDs, so membership events map directly onto coordination peers.
func NewPresenceService(cfg config.PresenceConfig, peerID string, prom *metrics.Metrics, logger *zap.Logger) (*PresenceService, error) {
	ps := &PresenceService{
		cfg:    cfg,
		peerID: peerID,
		prom:   prom,
		logger: logger,
		metadata: presenceMeta{
			PeerID:    peerID,
			StartedAt: time.Now().Unix(),
		},
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = peerID
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	mlConfig.Delegate = ps
	mlConfig.Events = &presenceEvents{service: ps}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	ps.memberlist = ml
	ps.prom.SetPresenceMembers(ml.NumMembers())

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("Failed to join some seed nodes",
				zap.Strings("seeds", cfg.SeedNodes),
				zap.Error(err))
		}
	}

	return ps, nil
}

// OnPeerLeave registers a callback fired when a peer leaves or is declared
// dead. The election service hooks this to campaign on leader loss.
func (s *PresenceService) OnPeerLeave(fn func(peerID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLeave = append(s.onLeave, fn)
}

// Members returns the peer IDs currently believed alive
func (s *PresenceService) Members() []string {
	nodes := s.memberlist.Members()
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

// NodeMeta implements memberlist.Delegate
func (s *PresenceService) NodeMeta(limit int) []byte {
	data, _ := json.Marshal(s.metadata)
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *PresenceService) NotifyMsg(data []byte) {}

// GetBroadcasts implements memberlist.Delegate
func (s *PresenceService) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *PresenceService) LocalState(join bool) []byte {
	data, _ := json.Marshal(s.metadata)
	return data
}

// MergeRemoteState implements memberlist.Delegate
func (s *PresenceService) MergeRemoteState(buf []byte, join bool) {}

// Shutdown leaves the cluster gracefully
func (s *PresenceService) Shutdown() error {
	if err := s.memberlist.Leave(time.Second); err != nil {
		s.logger.Warn("Gossip leave failed", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

// presenceEvents forwards membership changes into the coordination layer
type presenceEvents struct {
	service *PresenceService
}

// NotifyJoin is called when a peer joins
func (d *presenceEvents) NotifyJoin(node *memberlist.Node) {
	s := d.service
	s.prom.SetPresenceMembers(s.memberlist.NumMembers())
	s.prom.RecordPresenceEvent("join")
	s.logger.Info("Peer joined",
		zap.String("peer_id", node.Name),
		zap.String("addr", node.Addr.String()))
}

// NotifyLeave is called when a peer leaves or is declared dead
func (d *presenceEvents) NotifyLeave(node *memberlist.Node) {
	s := d.service
	s.prom.SetPresenceMembers(s.memberlist.NumMembers())
	s.prom.RecordPresenceEvent("leave")
	s.logger.Info("Peer left",
		zap.String("peer_id", node.Name))

	s.mu.Lock()
	listeners := append([]func(string){}, s.onLeave...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(node.Name)
	}
}

// NotifyUpdate is called when a peer's metadata changes
func (d *presenceEvents) NotifyUpdate(node *memberlist.Node) {
	d.service.logger.Debug("Peer updated",
		zap.String("peer_id", node.Name))
}
