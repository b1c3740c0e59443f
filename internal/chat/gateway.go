package chat

import (
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/GurpreetSingh-21/Community-Talk/internal/identity"
	"github.com/GurpreetSingh-21/Community-Talk/internal/metrics"
)

// Close codes sent when a handshake is refused. The reason text carries
// the identity.Code string.
const (
	CloseNoToken        = 4001
	CloseTokenInvalid   = 4002
	CloseTokenExpired   = 4003
	CloseMissingSubject = 4004
)

// CommunitiesParam is the handshake query parameter listing the
// communities to follow, comma separated.
const CommunitiesParam = "communities"

func closeCodeFor(code identity.Code) int {
	switch code {
	case identity.CodeNoToken:
		return CloseNoToken
	case identity.CodeTokenExpired:
		return CloseTokenExpired
	case identity.CodeMissingSubject:
		return CloseMissingSubject
	default:
		return CloseTokenInvalid
	}
}

type Authenticator interface {
	Authenticate(token string) (identity.Identity, error)
}

// Gateway owns the lifecycle of a persistent connection from handshake to
// close.
type Gateway struct {
	manager   *Manager
	auth      Authenticator
	extractor identity.Extractor
	transport Transport
	clock     clock.Clock

	logger  *zap.Logger
	metrics *metrics.Metrics
}

type GatewayConfig struct {
	Extractor identity.Extractor
	Transport Transport
	Clock     clock.Clock
}

func NewGateway(manager *Manager, auth Authenticator, cfg GatewayConfig, logger *zap.Logger, m *metrics.Metrics) *Gateway {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Gateway{
		manager:   manager,
		auth:      auth,
		extractor: cfg.Extractor,
		transport: cfg.Transport.withDefaults(),
		clock:     cfg.Clock,
		logger:    logger.Named("gateway"),
		metrics:   m,
	}
}

// Serve runs one connection to completion. A connection whose credential
// does not verify is closed straight away with a 40xx close code and the
// error is returned; nothing is registered for it. Otherwise Serve blocks
// until the connection ends and returns nil.
func (g *Gateway) Serve(conn ConnLike, carrier identity.Carrier) error {
	client := newClient(conn, g.transport, g.logger)

	ident, err := g.auth.Authenticate(g.extractor.Extract(carrier))
	if err != nil {
		client.setState(StateRejected)
		code := identity.CodeOf(err)
		g.metrics.HandshakeRejects.WithLabelValues(string(code)).Inc()
		client.logger.Info("handshake rejected", zap.String("code", string(code)), zap.Error(err))
		msg := websocket.FormatCloseMessage(closeCodeFor(code), string(code))
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(g.transport.WriteTimeout))
		_ = conn.Close()
		return err
	}

	client.authenticate(ident, parseCommunities(carrier.Query(CommunitiesParam)), g.clock.Now())
	if err := g.manager.Register(client); err != nil {
		client.setState(StateClosed)
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(g.transport.WriteTimeout))
		_ = conn.Close()
		return err
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		client.WritePump()
	}()
	client.ReadPump(g.manager)

	// transport errors and clean closes end up here alike
	g.manager.Unregister(client)
	<-writerDone
	return nil
}

func parseCommunities(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
