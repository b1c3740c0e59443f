package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GurpreetSingh-21/Community-Talk/internal/identity"
)

const testSecret = "gateway-test-secret"

type stubCarrier struct {
	headers map[string]string
	cookies map[string]string
	query   map[string]string
}

func (s stubCarrier) Header(k string) string { return s.headers[k] }
func (s stubCarrier) Cookie(k string) string { return s.cookies[k] }
func (s stubCarrier) Query(k string) string  { return s.query[k] }

type gatewayFixture struct {
	*managerFixture
	gateway *Gateway
	issuer  *identity.Issuer
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	return newGatewayFixtureWithTransport(t, testTransport())
}

func newGatewayFixtureWithTransport(t *testing.T, transport Transport) *gatewayFixture {
	t.Helper()
	f := startManager(t, PolicyCommunity)
	auth := identity.NewAuthenticator(testSecret, identity.WithClock(f.clock))
	gw := NewGateway(f.manager, auth, GatewayConfig{
		Extractor: identity.DefaultExtractor().ForHandshake("token"),
		Transport: transport,
		Clock:     f.clock,
	}, zaptest.NewLogger(t), testMetrics())
	return &gatewayFixture{
		managerFixture: f,
		gateway:        gw,
		issuer:         identity.NewIssuer(testSecret, f.clock),
	}
}

func (f *gatewayFixture) token(t *testing.T, userID string, ttl time.Duration) string {
	t.Helper()
	tok, err := f.issuer.Issue(identity.Identity{ID: userID, DisplayName: "User " + userID}, ttl)
	require.NoError(t, err)
	return tok
}

// serve runs the gateway on conn in the background and returns a channel
// yielding Serve's result.
func (f *gatewayFixture) serve(conn *fakeConn, carrier identity.Carrier) <-chan error {
	out := make(chan error, 1)
	go func() { out <- f.gateway.Serve(conn, carrier) }()
	return out
}

func TestGatewayRejectsMissingToken(t *testing.T) {
	f := newGatewayFixture(t)
	conn := newFakeConn()

	err := f.gateway.Serve(conn, stubCarrier{})
	require.ErrorIs(t, err, identity.ErrMissingCredential)

	code, reason, ok := conn.closeFrame()
	require.True(t, ok)
	assert.Equal(t, CloseNoToken, code)
	assert.Equal(t, "NO_TOKEN", reason)
	assert.True(t, conn.isClosed())
	assert.Empty(t, f.registry.ListOnline())
}

func TestGatewayRejectsExpiredToken(t *testing.T) {
	f := newGatewayFixture(t)
	tok := f.token(t, "A", time.Minute)
	f.clock.Add(10 * time.Minute)

	conn := newFakeConn()
	err := f.gateway.Serve(conn, stubCarrier{query: map[string]string{"token": tok}})
	require.ErrorIs(t, err, identity.ErrExpiredCredential)

	code, reason, ok := conn.closeFrame()
	require.True(t, ok)
	assert.Equal(t, CloseTokenExpired, code)
	assert.Equal(t, "TOKEN_EXPIRED", reason)
	assert.False(t, f.registry.IsOnline("A"))
	_, seen := f.registry.LastSeen("A")
	assert.False(t, seen)
}

func TestGatewayRejectsForgedToken(t *testing.T) {
	f := newGatewayFixture(t)
	forged, err := identity.NewIssuer("other-secret", f.clock).Issue(identity.Identity{ID: "A"}, time.Hour)
	require.NoError(t, err)

	conn := newFakeConn()
	err = f.gateway.Serve(conn, stubCarrier{headers: map[string]string{"Authorization": "Bearer " + forged}})
	require.ErrorIs(t, err, identity.ErrInvalidCredential)

	code, _, ok := conn.closeFrame()
	require.True(t, ok)
	assert.Equal(t, CloseTokenInvalid, code)
	assert.False(t, f.registry.IsOnline("A"))
}

func TestGatewayConnectionLifecycle(t *testing.T) {
	f := newGatewayFixture(t)
	conn := newFakeConn()
	result := f.serve(conn, stubCarrier{query: map[string]string{
		"token":          f.token(t, "A", time.Hour),
		CommunitiesParam: "general, random,",
	}})

	require.Eventually(t, func() bool { return f.registry.IsOnline("A") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"general", "random"}, f.registry.Communities("A"))

	conn.send(t, Signal{Type: SignalJoin, CommunityID: "dev"})
	require.Eventually(t, func() bool {
		return f.registry.IsOnlineInCommunity("A", "dev")
	}, time.Second, 5*time.Millisecond)

	require.True(t, f.manager.Publish(groupEvent("g1", "dev", "B")))
	require.Eventually(t, func() bool {
		for _, ev := range conn.events(t) {
			if ev.ID == "g1" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	conn.send(t, Signal{Type: SignalLeave, CommunityID: "dev"})
	require.Eventually(t, func() bool {
		return !f.registry.IsOnlineInCommunity("A", "dev")
	}, time.Second, 5*time.Millisecond)

	// peer hangs up
	close(conn.inbound)
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after the connection closed")
	}
	assert.False(t, f.registry.IsOnline("A"))
	assert.True(t, conn.isClosed())
	_, seen := f.registry.LastSeen("A")
	assert.True(t, seen)
}

func TestGatewayIgnoresJoinForOtherUser(t *testing.T) {
	f := newGatewayFixture(t)
	conn := newFakeConn()
	result := f.serve(conn, stubCarrier{query: map[string]string{"token": f.token(t, "A", time.Hour)}})

	require.Eventually(t, func() bool { return f.registry.IsOnline("A") }, time.Second, 5*time.Millisecond)
	conn.send(t, Signal{Type: SignalJoin, UserID: "B"})
	conn.send(t, Signal{Type: SignalJoin, UserID: "A"})
	close(conn.inbound)

	require.NoError(t, <-result)
	assert.False(t, f.registry.IsOnline("B"))
}

func TestGatewayShutdownClosesConnection(t *testing.T) {
	f := newGatewayFixture(t)
	conn := newFakeConn()
	result := f.serve(conn, stubCarrier{query: map[string]string{"token": f.token(t, "A", time.Hour)}})
	require.Eventually(t, func() bool { return f.registry.IsOnline("A") }, time.Second, 5*time.Millisecond)

	f.shutdown()

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
	assert.True(t, conn.isClosed())
}

func keepaliveTransport() Transport {
	t := testTransport()
	t.PingInterval = 20 * time.Millisecond
	t.PongTimeout = 80 * time.Millisecond
	return t
}

func TestGatewayClosesSilentConnection(t *testing.T) {
	f := newGatewayFixtureWithTransport(t, keepaliveTransport())
	conn := newFakeConn()
	result := f.serve(conn, stubCarrier{query: map[string]string{"token": f.token(t, "A", time.Hour)}})

	require.Eventually(t, func() bool { return f.registry.IsOnline("A") }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return conn.pings() > 0 }, time.Second, 5*time.Millisecond)

	// no pong ever arrives
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the pong timeout")
	}
	assert.False(t, f.registry.IsOnline("A"))
	_, seen := f.registry.LastSeen("A")
	assert.True(t, seen)
	assert.True(t, conn.isClosed())
}

func TestGatewayPongKeepsConnectionAlive(t *testing.T) {
	f := newGatewayFixtureWithTransport(t, keepaliveTransport())
	conn := newFakeConn()
	conn.autoPong = true
	result := f.serve(conn, stubCarrier{query: map[string]string{"token": f.token(t, "A", time.Hour)}})

	require.Eventually(t, func() bool { return f.registry.IsOnline("A") }, time.Second, 5*time.Millisecond)

	// several pong timeouts pass
	time.Sleep(400 * time.Millisecond)
	assert.True(t, f.registry.IsOnline("A"))
	assert.GreaterOrEqual(t, conn.pings(), 5)

	close(conn.inbound)
	require.NoError(t, <-result)
	assert.False(t, f.registry.IsOnline("A"))
}

func TestParseCommunities(t *testing.T) {
	assert.Nil(t, parseCommunities(""))
	assert.Equal(t, []string{"a", "b"}, parseCommunities(" a ,,b "))
}
