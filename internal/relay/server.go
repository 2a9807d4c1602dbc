// Package relay fans one upstream kline stream out to many websocket
// subscribers. Exactly one upstream connection exists at any time, and only
// while the subscriber set is non-empty: the first subscriber triggers the
// connect, the last unsubscribe tears it down.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coingry/Indicator-dashboard/internal/model"
)

// Upstream is the single streaming connection the relay owns.
// stream.Client satisfies it; tests substitute a fake.
type Upstream interface {
	SetHandlers(onOpen func(), onTick func(model.TickUpdate), onClose func(err error))
	Connect(ctx context.Context) error
	Close()
}

// subscriber is one attached downstream consumer with its own send queue.
// Slow consumers drop messages rather than stalling the broadcast.
type subscriber struct {
	id   string
	send chan []byte
}

// Config tunes the relay.
type Config struct {
	// RetryDelay is the fixed wait before a single reconnect attempt after
	// an upstream close while subscribers remain. Deliberately not
	// exponential: this path is gated on subscriber presence and re-heals
	// on subscriber churn anyway.
	RetryDelay time.Duration
	// SendBuffer is the per-subscriber queue capacity.
	SendBuffer int
}

func (c *Config) defaults() {
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = 256
	}
}

// Server owns the upstream connection and the subscriber registry. The
// registry mutations and the connect/teardown decision form one critical
// section guarded by mu.
type Server struct {
	cfg      Config
	upstream Upstream

	mu           sync.Mutex
	subs         map[string]*subscriber
	upstreamOpen bool
	reconnect    *time.Timer
	nextID       uint64

	ctx context.Context

	// Metrics hooks (optional, set externally). OnUpstreamDown fires both on
	// a spontaneous upstream close and on a deliberate teardown.
	OnUpstreamConnect func()
	OnUpstreamDown    func()
	OnSubscribers     func(n int)
	OnDrop            func()
}

// NewServer creates a relay Server around the given upstream connection.
func NewServer(cfg Config, upstream Upstream) *Server {
	cfg.defaults()
	return &Server{
		cfg:      cfg,
		upstream: upstream,
		subs:     make(map[string]*subscriber),
		ctx:      context.Background(),
	}
}

// Start binds the server to a lifetime context. On cancellation any open
// upstream connection is closed and pending reconnects are cancelled.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		s.teardownLocked()
	}()
}

// Subscribe attaches a new downstream consumer and returns its identity and
// receive queue. The first subscriber triggers the upstream connect.
func (s *Server) Subscribe() (id string, recv <-chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	sub := &subscriber{
		id:   fmt.Sprintf("sub-%d", s.nextID),
		send: make(chan []byte, s.cfg.SendBuffer),
	}
	s.subs[sub.id] = sub
	slog.Info("subscriber attached", "id", sub.id, "total", len(s.subs))
	if s.OnSubscribers != nil {
		s.OnSubscribers(len(s.subs))
	}

	s.ensureUpstreamLocked()
	return sub.id, sub.send
}

// Unsubscribe detaches a consumer. When the set becomes empty the upstream
// connection is torn down immediately and any pending reconnect cancelled.
func (s *Server) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return
	}
	delete(s.subs, id)
	close(sub.send)
	slog.Info("subscriber detached", "id", id, "total", len(s.subs))
	if s.OnSubscribers != nil {
		s.OnSubscribers(len(s.subs))
	}

	if len(s.subs) == 0 {
		s.teardownLocked()
	}
}

// SubscriberCount returns the number of attached subscribers.
func (s *Server) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// ensureUpstreamLocked opens the upstream connection if it is not already
// open. Idempotent; any pending reconnect timer is cleared first.
// Caller must hold mu.
func (s *Server) ensureUpstreamLocked() {
	if s.upstreamOpen {
		return
	}
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}

	s.upstream.SetHandlers(
		func() { slog.Info("upstream connected") },
		s.broadcast,
		s.onUpstreamClose,
	)

	if err := s.upstream.Connect(s.ctx); err != nil {
		slog.Warn("upstream connect failed", "err", err)
		s.scheduleReconnectLocked()
		return
	}
	s.upstreamOpen = true
	if s.OnUpstreamConnect != nil {
		s.OnUpstreamConnect()
	}
}

// teardownLocked closes the upstream and cancels any pending reconnect.
// Caller must hold mu.
func (s *Server) teardownLocked() {
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	if s.upstreamOpen {
		slog.Info("upstream teardown, no subscribers")
		s.upstream.SetHandlers(nil, nil, nil)
		s.upstream.Close()
		s.upstreamOpen = false
		if s.OnUpstreamDown != nil {
			s.OnUpstreamDown()
		}
	}
}

// onUpstreamClose runs when the upstream drops on its own. A single
// fixed-delay reconnect is scheduled, but only while subscribers remain.
func (s *Server) onUpstreamClose(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upstreamOpen = false
	slog.Warn("upstream closed", "err", err, "subscribers", len(s.subs))
	if s.OnUpstreamDown != nil {
		s.OnUpstreamDown()
	}
	if len(s.subs) == 0 {
		return
	}
	s.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the single reconnect timer. Caller must hold mu.
func (s *Server) scheduleReconnectLocked() {
	if s.reconnect != nil {
		s.reconnect.Stop()
	}
	s.reconnect = time.AfterFunc(s.cfg.RetryDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.reconnect = nil
		if len(s.subs) == 0 || s.upstreamOpen {
			return
		}
		s.ensureUpstreamLocked()
	})
}

// broadcast relays one parsed tick to every current subscriber. Delivery
// order among subscribers is unspecified; a full queue drops the payload for
// that consumer only.
func (s *Server) broadcast(tick model.TickUpdate) {
	payload := tick.JSON()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.send <- payload:
		default:
			if s.OnDrop != nil {
				s.OnDrop()
			}
		}
	}
}
