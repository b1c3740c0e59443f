package chat

import (
	"time"

	"github.com/GurpreetSingh-21/Community-Talk/internal/store"
)

type EventType string

const (
	EventMessage       EventType = "message"        // group message
	EventDirectMessage EventType = "direct_message" // 1:1 message
	EventPresence      EventType = "presence"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Event is what a connected client receives. It is denormalised so the
// client can render it without another request.
type Event struct {
	Type EventType `json:"type"`
	ID   string    `json:"id,omitempty"`

	// group
	CommunityID string `json:"communityId,omitempty"`
	Sender      string `json:"sender,omitempty"`
	SenderID    string `json:"senderId,omitempty"`
	Avatar      string `json:"avatar,omitempty"`

	// direct
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	SenderName string `json:"senderName,omitempty"`

	Content string `json:"content,omitempty"`

	// presence
	UserID string `json:"userId,omitempty"`
	Status Status `json:"status,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// recipients overrides audience computation; set for presence events.
	recipients []string
}

func NewGroupMessageEvent(m *store.GroupMessage) *Event {
	return &Event{
		Type:        EventMessage,
		ID:          m.ID,
		CommunityID: m.CommunityID,
		Sender:      m.Sender,
		SenderID:    m.SenderID,
		Avatar:      m.Avatar,
		Content:     m.Content,
		Timestamp:   m.CreatedAt,
	}
}

func NewDirectMessageEvent(m *store.DirectMessage) *Event {
	return &Event{
		Type:       EventDirectMessage,
		ID:         m.ID,
		From:       m.From,
		To:         m.To,
		SenderName: m.SenderName,
		Content:    m.Content,
		Timestamp:  m.CreatedAt,
	}
}

func newPresenceEvent(userID string, status Status, at time.Time, recipients []string) *Event {
	return &Event{
		Type:       EventPresence,
		UserID:     userID,
		Status:     status,
		Timestamp:  at,
		recipients: recipients,
	}
}

type SignalType string

const (
	SignalJoin  SignalType = "join"
	SignalLeave SignalType = "leave"
)

// Signal is a client -> server frame. {"type":"join","userId":...} is the
// legacy personal-room join and carries no state change.
type Signal struct {
	Type        SignalType `json:"type"`
	UserID      string     `json:"userId,omitempty"`
	CommunityID string     `json:"communityId,omitempty"`
}
