package chat

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/GurpreetSingh-21/Community-Talk/internal/metrics"
	"github.com/GurpreetSingh-21/Community-Talk/internal/presence"
)

// Policy decides who receives group messages.
type Policy string

const (
	// PolicyCommunity delivers to users online and subscribed to the
	// message's community.
	PolicyCommunity Policy = "community"
	// PolicyBroadcast delivers to every connected user and leaves
	// filtering to the client.
	PolicyBroadcast Policy = "broadcast"
)

// Dispatcher fans an event out to the live connections of its audience. It
// is not safe for concurrent use; the Manager goroutine owns it.
type Dispatcher struct {
	registry *presence.Registry
	policy   Policy
	clients  map[string]*Client // connection id -> client

	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(registry *presence.Registry, policy Policy, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if policy == "" {
		policy = PolicyCommunity
	}
	return &Dispatcher{
		registry: registry,
		policy:   policy,
		clients:  map[string]*Client{},
		logger:   logger.Named("dispatcher"),
		metrics:  m,
	}
}

func (d *Dispatcher) attach(c *Client) { d.clients[c.ID] = c }

func (d *Dispatcher) detach(c *Client) { delete(d.clients, c.ID) }

// audience returns the user ids that should receive ev, without
// duplicates.
func (d *Dispatcher) audience(ev *Event) []string {
	if ev.recipients != nil {
		return ev.recipients
	}
	switch ev.Type {
	case EventMessage:
		if d.policy == PolicyBroadcast {
			return d.registry.ListOnline()
		}
		return d.registry.ListOnlineInCommunity(ev.CommunityID)
	case EventDirectMessage:
		// the sender is included so their other tabs stay in sync
		if ev.From == ev.To {
			return []string{ev.To}
		}
		return []string{ev.To, ev.From}
	default:
		return nil
	}
}

// Dispatch pushes ev to every connection of every audience member and
// returns how many connections it was queued to. Users without live
// connections get nothing; history is their catch-up path.
func (d *Dispatcher) Dispatch(ev *Event) int {
	data, err := json.Marshal(ev)
	if err != nil {
		d.logger.Error("failed to encode event", zap.String("type", string(ev.Type)), zap.Error(err))
		return 0
	}

	delivered := 0
	for _, userID := range d.audience(ev) {
		for _, connID := range d.registry.Connections(userID) {
			c, ok := d.clients[connID]
			if !ok {
				continue
			}
			switch err := c.deliver(ev.ID, data); err {
			case nil:
				delivered++
			case errDuplicate:
				d.metrics.EventsDropped.WithLabelValues("duplicate").Inc()
			default:
				d.metrics.EventsDropped.WithLabelValues("slow_consumer").Inc()
				c.logger.Warn("dropping event for slow connection",
					zap.String("type", string(ev.Type)),
					zap.String("eventID", ev.ID),
				)
			}
		}
	}
	d.metrics.EventsDelivered.WithLabelValues(string(ev.Type)).Add(float64(delivered))
	d.logger.Debug("event dispatched",
		zap.String("type", string(ev.Type)),
		zap.String("eventID", ev.ID),
		zap.Int("connections", delivered),
	)
	return delivered
}
