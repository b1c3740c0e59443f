package chat

import (
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/GurpreetSingh-21/Community-Talk/internal/identity"
)

// ConnState is where a connection is in its lifecycle:
// Handshaking -> Active -> Closed, or Handshaking -> Rejected.
type ConnState int32

const (
	StateHandshaking ConnState = iota
	StateActive
	StateRejected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport tunes per-connection behaviour.
type Transport struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	// DedupeWindow is how many recent message ids each connection
	// remembers to suppress repeat deliveries.
	DedupeWindow int
}

func DefaultTransport() Transport {
	return Transport{
		PingInterval: 25 * time.Second,
		PongTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   64,
		DedupeWindow: 256,
	}
}

// ConnLike is the subset of *websocket.Conn the client needs.
type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	WriteControl(int, []byte, time.Time) error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
	SetPongHandler(func(string) error)
	Close() error
}

var (
	errDuplicate    = errors.New("already delivered")
	errSlowConsumer = errors.New("send buffer full")
)

// Client is one live connection (a ConnectionHandle). UserID is empty
// until the handshake authenticates.
type Client struct {
	ID              string
	UserID          string
	Name            string
	Communities     []string
	AuthenticatedAt time.Time

	Conn ConnLike
	Send chan []byte

	state     atomic.Int32
	delivered *lru.Cache[string, struct{}]
	transport Transport
	logger    *zap.Logger
}

// withDefaults fills unset fields from DefaultTransport.
func (t Transport) withDefaults() Transport {
	d := DefaultTransport()
	if t.PingInterval <= 0 {
		t.PingInterval = d.PingInterval
	}
	if t.PongTimeout <= 0 {
		t.PongTimeout = d.PongTimeout
	}
	if t.WriteTimeout <= 0 {
		t.WriteTimeout = d.WriteTimeout
	}
	if t.SendBuffer <= 0 {
		t.SendBuffer = d.SendBuffer
	}
	if t.DedupeWindow <= 0 {
		t.DedupeWindow = d.DedupeWindow
	}
	return t
}

func newClient(conn ConnLike, t Transport, logger *zap.Logger) *Client {
	t = t.withDefaults()
	delivered, _ := lru.New[string, struct{}](t.DedupeWindow)
	id := uuid.NewString()
	return &Client{
		ID:        id,
		Conn:      conn,
		Send:      make(chan []byte, t.SendBuffer),
		delivered: delivered,
		transport: t,
		logger:    logger.With(zap.String("connID", id)),
	}
}

func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

func (c *Client) setState(s ConnState) { c.state.Store(int32(s)) }

func (c *Client) authenticate(id identity.Identity, communities []string, at time.Time) {
	c.UserID = id.ID
	c.Name = id.DisplayName
	c.Communities = communities
	c.AuthenticatedAt = at
	c.logger = c.logger.With(zap.String("userID", id.ID))
}

// deliver queues data for the connection. Only the manager goroutine calls
// it, so Send is never written after it is closed. Events with an id are
// queued at most once per connection.
func (c *Client) deliver(id string, data []byte) error {
	if id != "" && c.delivered.Contains(id) {
		return errDuplicate
	}
	select {
	case c.Send <- data:
		if id != "" {
			c.delivered.Add(id, struct{}{})
		}
		return nil
	default:
		return errSlowConsumer
	}
}

// ReadPump consumes client signals until the connection fails or goes
// silent for longer than PongTimeout.
func (c *Client) ReadPump(m *Manager) {
	extend := func() error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.transport.PongTimeout))
	}
	_ = extend()
	c.Conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			c.logger.Debug("read loop ended", zap.Error(err))
			return
		}
		_ = extend()

		var sig Signal
		if err := json.Unmarshal(data, &sig); err != nil {
			c.logger.Debug("ignoring malformed frame", zap.Error(err))
			continue
		}
		switch sig.Type {
		case SignalJoin:
			if community := strings.TrimSpace(sig.CommunityID); community != "" {
				m.Join(c, community)
				continue
			}
			// personal channel membership is implicit
			if sig.UserID != "" && sig.UserID != c.UserID {
				c.logger.Warn("refusing join for another user's channel", zap.String("target", sig.UserID))
			}
		case SignalLeave:
			m.Leave(c, sig.CommunityID)
		default:
			c.logger.Debug("unknown signal", zap.String("type", string(sig.Type)))
		}
	}
}

// WritePump drains Send to the socket and keeps the connection alive with
// pings. It closes the socket when Send is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.transport.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.transport.WriteTimeout))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.transport.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}
