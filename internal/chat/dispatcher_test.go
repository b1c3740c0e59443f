package chat

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GurpreetSingh-21/Community-Talk/internal/presence"
	"github.com/GurpreetSingh-21/Community-Talk/internal/store"
)

type dispatchFixture struct {
	registry   *presence.Registry
	dispatcher *Dispatcher
}

func newDispatchFixture(t *testing.T, policy Policy) *dispatchFixture {
	t.Helper()
	reg := presence.NewRegistry(clock.NewMock())
	return &dispatchFixture{
		registry:   reg,
		dispatcher: NewDispatcher(reg, policy, zaptest.NewLogger(t), testMetrics()),
	}
}

// online connects a fresh client for userID.
func (f *dispatchFixture) online(userID string, communities ...string) *Client {
	c := newTestClient(userID, communities...)
	f.registry.Connect(userID, c.ID, communities...)
	f.dispatcher.attach(c)
	return c
}

func directEvent(id, from, to string) *Event {
	return NewDirectMessageEvent(&store.DirectMessage{
		ID:         id,
		From:       from,
		To:         to,
		SenderName: from,
		Content:    "hi",
		CreatedAt:  time.Unix(1700000000, 0).UTC(),
	})
}

func groupEvent(id, community, sender string) *Event {
	return NewGroupMessageEvent(&store.GroupMessage{
		ID:          id,
		CommunityID: community,
		SenderID:    sender,
		Sender:      sender,
		Avatar:      store.DefaultAvatar,
		Content:     "hello",
		CreatedAt:   time.Unix(1700000000, 0).UTC(),
	})
}

func TestDispatchDirectReachesEveryConnectionOfBothParties(t *testing.T) {
	f := newDispatchFixture(t, PolicyCommunity)
	s1 := f.online("S")
	s2 := f.online("S")
	r := f.online("R")
	u := f.online("U")

	n := f.dispatcher.Dispatch(directEvent("m1", "S", "R"))
	assert.Equal(t, 3, n)

	for _, c := range []*Client{s1, s2, r} {
		evs := drain(t, c)
		require.Len(t, evs, 1)
		assert.Equal(t, EventDirectMessage, evs[0].Type)
		assert.Equal(t, "m1", evs[0].ID)
		assert.Equal(t, "S", evs[0].From)
		assert.Equal(t, "R", evs[0].To)
	}
	assert.Empty(t, drain(t, u))
}

func TestDispatchDeliversAtMostOncePerConnection(t *testing.T) {
	f := newDispatchFixture(t, PolicyCommunity)
	s := f.online("S")
	r := f.online("R")

	ev := directEvent("m1", "S", "R")
	assert.Equal(t, 2, f.dispatcher.Dispatch(ev))
	assert.Equal(t, 0, f.dispatcher.Dispatch(ev))

	assert.Len(t, drain(t, s), 1)
	assert.Len(t, drain(t, r), 1)
}

func TestDispatchSelfMessageOnce(t *testing.T) {
	f := newDispatchFixture(t, PolicyCommunity)
	a := f.online("A")

	assert.Equal(t, 1, f.dispatcher.Dispatch(directEvent("m1", "A", "A")))
	assert.Len(t, drain(t, a), 1)
}

func TestDispatchDirectToOfflineRecipient(t *testing.T) {
	f := newDispatchFixture(t, PolicyCommunity)
	a := f.online("A")

	assert.Equal(t, 1, f.dispatcher.Dispatch(directEvent("m1", "A", "C")))
	evs := drain(t, a)
	require.Len(t, evs, 1)
	assert.Equal(t, "C", evs[0].To)
}

func TestDispatchGroupCommunityPolicy(t *testing.T) {
	f := newDispatchFixture(t, PolicyCommunity)
	a := f.online("A", "general")
	c := f.online("C", "random")

	n := f.dispatcher.Dispatch(groupEvent("g1", "general", "A"))
	assert.Equal(t, 1, n)

	evs := drain(t, a)
	require.Len(t, evs, 1)
	assert.Equal(t, EventMessage, evs[0].Type)
	assert.Equal(t, "general", evs[0].CommunityID)
	assert.Equal(t, store.DefaultAvatar, evs[0].Avatar)
	assert.Empty(t, drain(t, c))
}

func TestDispatchGroupBroadcastPolicy(t *testing.T) {
	f := newDispatchFixture(t, PolicyBroadcast)
	a := f.online("A", "general")
	c := f.online("C")

	assert.Equal(t, 2, f.dispatcher.Dispatch(groupEvent("g1", "general", "A")))
	assert.Len(t, drain(t, a), 1)
	assert.Len(t, drain(t, c), 1)
}

func TestDispatchDropsForSlowConsumer(t *testing.T) {
	f := newDispatchFixture(t, PolicyCommunity)
	slow := newClient(newFakeConn(), Transport{SendBuffer: 1, DedupeWindow: 8}, zaptest.NewLogger(t))
	slow.UserID = "R"
	f.registry.Connect("R", slow.ID)
	f.dispatcher.attach(slow)
	fast := f.online("S")

	assert.Equal(t, 2, f.dispatcher.Dispatch(directEvent("m1", "S", "R")))
	assert.Equal(t, 1, f.dispatcher.Dispatch(directEvent("m2", "S", "R")))

	assert.Len(t, drain(t, slow), 1)
	assert.Len(t, drain(t, fast), 2)
}

func TestDispatchUsesExplicitRecipients(t *testing.T) {
	f := newDispatchFixture(t, PolicyCommunity)
	a := f.online("A")
	b := f.online("B")

	ev := newPresenceEvent("X", StatusOnline, time.Now(), []string{"B"})
	assert.Equal(t, 1, f.dispatcher.Dispatch(ev))
	assert.Empty(t, drain(t, a))

	evs := drain(t, b)
	require.Len(t, evs, 1)
	assert.Equal(t, EventPresence, evs[0].Type)
	assert.Equal(t, "X", evs[0].UserID)
	assert.Equal(t, StatusOnline, evs[0].Status)
}

func TestDispatchSkipsDetachedConnections(t *testing.T) {
	f := newDispatchFixture(t, PolicyCommunity)
	r := f.online("R")
	f.dispatcher.detach(r)

	assert.Equal(t, 0, f.dispatcher.Dispatch(directEvent("m1", "S", "R")))
	assert.Empty(t, drain(t, r))
}
