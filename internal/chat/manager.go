package chat

import (
	"context"
	"errors"
	"sort"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/GurpreetSingh-21/Community-Talk/internal/metrics"
	"github.com/GurpreetSingh-21/Community-Talk/internal/presence"
)

var ErrManagerStopped = errors.New("chat: manager stopped")

type request struct {
	client    *Client
	community string
	done      chan bool
}

func newRequest(c *Client, community string) request {
	return request{client: c, community: community, done: make(chan bool, 1)}
}

// Manager is the single writer of the presence registry. Every
// registration, subscription change and dispatch runs on the goroutine
// executing Run, so they are applied in a total order.
type Manager struct {
	registry   *presence.Registry
	dispatcher *Dispatcher
	policy     Policy
	clock      clock.Clock

	register   chan request
	unregister chan request
	join       chan request
	leave      chan request
	publish    chan *Event
	done       chan struct{}

	logger  *zap.Logger
	metrics *metrics.Metrics
}

type ManagerConfig struct {
	Policy Policy
	Clock  clock.Clock
	// PublishBuffer bounds events waiting for dispatch.
	PublishBuffer int
}

func NewManager(registry *presence.Registry, cfg ManagerConfig, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.PublishBuffer <= 0 {
		cfg.PublishBuffer = 256
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyCommunity
	}
	logger = logger.Named("manager")
	return &Manager{
		registry:   registry,
		dispatcher: NewDispatcher(registry, cfg.Policy, logger, m),
		policy:     cfg.Policy,
		clock:      cfg.Clock,
		register:   make(chan request),
		unregister: make(chan request),
		join:       make(chan request),
		leave:      make(chan request),
		publish:    make(chan *Event, cfg.PublishBuffer),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    m,
	}
}

// Run processes requests until ctx is cancelled, then closes every
// connection and clears the registry.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("manager started", zap.String("policy", string(m.policy)))
	defer m.teardown()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-m.register:
			req.done <- m.onRegister(req.client)
		case req := <-m.unregister:
			req.done <- m.onUnregister(req.client)
		case req := <-m.join:
			req.done <- m.onJoin(req.client, req.community)
		case req := <-m.leave:
			req.done <- m.onLeave(req.client, req.community)
		case ev := <-m.publish:
			m.dispatcher.Dispatch(ev)
		}
	}
}

func (m *Manager) teardown() {
	close(m.done)
	for _, c := range m.dispatcher.clients {
		close(c.Send)
		c.setState(StateClosed)
	}
	m.dispatcher.clients = map[string]*Client{}
	m.registry.Reset()
	m.metrics.Connections.Set(0)
	m.metrics.OnlineUsers.Set(0)
	m.logger.Info("manager stopped")
}

func (m *Manager) call(ch chan request, req request) (bool, error) {
	select {
	case ch <- req:
		return <-req.done, nil
	case <-m.done:
		return false, ErrManagerStopped
	}
}

// Register makes an authenticated client live. It returns once the
// registry reflects the connection.
func (m *Manager) Register(c *Client) error {
	_, err := m.call(m.register, newRequest(c, ""))
	return err
}

// Unregister removes the client. Repeated calls are harmless.
func (m *Manager) Unregister(c *Client) {
	_, _ = m.call(m.unregister, newRequest(c, ""))
}

// Join subscribes the client's user to live updates for a community.
func (m *Manager) Join(c *Client, communityID string) bool {
	ok, _ := m.call(m.join, newRequest(c, communityID))
	return ok
}

func (m *Manager) Leave(c *Client, communityID string) {
	_, _ = m.call(m.leave, newRequest(c, communityID))
}

// Publish queues ev for fan-out. It does not wait for delivery and reports
// false if the manager has stopped.
func (m *Manager) Publish(ev *Event) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.publish <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) onRegister(c *Client) bool {
	if _, exists := m.dispatcher.clients[c.ID]; exists {
		return false
	}
	first := m.registry.Connect(c.UserID, c.ID, c.Communities...)
	m.dispatcher.attach(c)
	c.setState(StateActive)
	m.metrics.Connections.Inc()
	c.logger.Info("connection registered", zap.Strings("communities", c.Communities))

	if first {
		m.metrics.OnlineUsers.Inc()
		recipients := m.presenceAudience(c.UserID, m.registry.Communities(c.UserID))
		m.dispatcher.Dispatch(newPresenceEvent(c.UserID, StatusOnline, m.clock.Now(), recipients))
	}
	return true
}

func (m *Manager) onUnregister(c *Client) bool {
	if _, ok := m.dispatcher.clients[c.ID]; !ok {
		return false
	}
	m.dispatcher.detach(c)
	close(c.Send)
	c.setState(StateClosed)
	m.metrics.Connections.Dec()

	// communities are cleared when the last connection goes; read them first
	communities := m.registry.Communities(c.UserID)
	if last := m.registry.Disconnect(c.UserID, c.ID); last {
		m.metrics.OnlineUsers.Dec()
		recipients := m.presenceAudience(c.UserID, communities)
		m.dispatcher.Dispatch(newPresenceEvent(c.UserID, StatusOffline, m.clock.Now(), recipients))
	}
	c.logger.Info("connection unregistered")
	return true
}

func (m *Manager) onJoin(c *Client, communityID string) bool {
	if _, ok := m.dispatcher.clients[c.ID]; !ok {
		return false
	}
	return m.registry.JoinCommunity(c.UserID, communityID)
}

func (m *Manager) onLeave(c *Client, communityID string) bool {
	if _, ok := m.dispatcher.clients[c.ID]; !ok {
		return false
	}
	m.registry.LeaveCommunity(c.UserID, communityID)
	return true
}

// presenceAudience lists who hears about userID coming or going: everyone
// online under the broadcast policy, otherwise users sharing one of the
// given communities.
func (m *Manager) presenceAudience(userID string, communities []string) []string {
	if m.policy == PolicyBroadcast {
		return without(m.registry.ListOnline(), userID)
	}
	seen := map[string]struct{}{}
	for _, community := range communities {
		for _, u := range m.registry.ListOnlineInCommunity(community) {
			if u != userID {
				seen[u] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func without(ids []string, drop string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
