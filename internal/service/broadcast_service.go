package service

import (
	"fmt"
	"sync"

	"github.com/datasync-io/datasync/internal/metrics"
	"github.com/datasync-io/datasync/internal/model"
	"go.uber.org/zap"
)

// BroadcastService is a best-effort broadcast bus scoped by topic (one topic
// per database name). Delivery is at-least-once with per-sender FIFO; no
// ordering is guaranteed across senders. A subscriber never receives its own
// publishes. Each subscriber owns a bounded mailbox drained by a dedicated
// goroutine, so its handler runs serially in receipt order and a slow
// subscriber cannot block publishers; overflow drops the newest envelope and
// counts it. Envelopes cross the bus in encoded form and every subscriber
// decodes its own copy, so a handler never aliases another peer's envelope.
type BroadcastService struct {
	mailboxSize int
	logger      *zap.Logger

	mu     sync.RWMutex
	topics map[string][]*Subscription
	closed bool
}

// Subscription is a registered handler on a topic
type Subscription struct {
	topic   string
	peerID  string
	handler func(*model.Envelope)
	mailbox chan []byte
	done    chan struct{}
	prom    *metrics.Metrics
	bus     *BroadcastService
	once    sync.Once
}

// NewBroadcastService creates a broadcast bus
func NewBroadcastService(mailboxSize int, logger *zap.Logger) *BroadcastService {
	if mailboxSize <= 0 {
		mailboxSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BroadcastService{
		mailboxSize: mailboxSize,
		logger:      logger,
		topics:      make(map[string][]*Subscription),
	}
}

// Publish delivers the envelope to every subscriber on the topic except the
// sender itself and, for directed envelopes, everyone but the addressee.
// It never blocks. The returned error reports a closed bus so the write
// coordinator can surface forwarding failure; election paths absorb it.
func (b *BroadcastService) Publish(topic string, env *model.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("broadcast bus is closed")
	}

	for _, sub := range b.topics[topic] {
		if sub.peerID == env.From {
			continue
		}
		if env.To != "" && env.To != sub.peerID {
			continue
		}
		select {
		case sub.mailbox <- data:
		default:
			if sub.prom != nil {
				sub.prom.RecordBusDrop()
			}
			b.logger.Warn("Envelope dropped, subscriber mailbox full",
				zap.String("topic", topic),
				zap.String("peer_id", sub.peerID),
				zap.String("kind", string(env.Kind)))
		}
	}
	return nil
}

// Subscribe registers a handler for a topic. The handler is invoked once per
// received envelope, in receipt order, from a single goroutine. The
// subscriber's own publishes are filtered by peer ID.
func (b *BroadcastService) Subscribe(topic, peerID string, prom *metrics.Metrics, handler func(*model.Envelope)) *Subscription {
	sub := &Subscription{
		topic:   topic,
		peerID:  peerID,
		handler: handler,
		mailbox: make(chan []byte, b.mailboxSize),
		done:    make(chan struct{}),
		prom:    prom,
		bus:     b,
	}

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], sub)
	n := len(b.topics[topic])
	b.mu.Unlock()

	if prom != nil {
		prom.SetBusSubscribers(n)
	}

	go sub.deliver()

	b.logger.Debug("Subscriber registered",
		zap.String("topic", topic),
		zap.String("peer_id", peerID))

	return sub
}

// deliver drains the mailbox until it is closed, decoding each envelope
// into a copy owned by this subscriber
func (s *Subscription) deliver() {
	defer close(s.done)
	for data := range s.mailbox {
		env, err := model.DecodeEnvelope(data)
		if err != nil {
			s.bus.logger.Warn("Envelope discarded, decode failed",
				zap.String("topic", s.topic),
				zap.String("peer_id", s.peerID),
				zap.Error(err))
			continue
		}
		s.handler(env)
	}
}

// Cancel removes the subscription and waits for the delivery goroutine to
// finish, so no handler runs after Cancel returns. Must not be called from
// inside the subscription's own handler.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		subs := b.topics[s.topic]
		for i, other := range subs {
			if other == s {
				b.topics[s.topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.topics[s.topic]) == 0 {
			delete(b.topics, s.topic)
		}
		b.mu.Unlock()

		// No publisher can reach the mailbox once the subscription is
		// out of the topic list, so closing it is safe.
		close(s.mailbox)
		<-s.done
	})
}

// Close tears down the whole bus and every subscription
func (b *BroadcastService) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, subs := range b.topics {
		all = append(all, subs...)
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.Cancel()
	}
}
