// Package store persists group and direct messages.
package store

import (
	"context"
	"errors"
	"time"
)

// DefaultAvatar is used when a sender has no avatar of their own.
const DefaultAvatar = "/default-avatar.png"

var ErrInvalidMessage = errors.New("store: invalid message")

type GroupMessage struct {
	ID          string    `json:"id"`
	CommunityID string    `json:"communityId"`
	SenderID    string    `json:"senderId"`
	Sender      string    `json:"sender"`
	Avatar      string    `json:"avatar"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"timestamp"`
}

type DirectMessage struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"timestamp"`
}

// Conversation is the newest-first preview of one 1:1 thread.
type Conversation struct {
	PartnerID     string    `json:"_id"`
	PartnerName   string    `json:"fullName"`
	LastMessage   string    `json:"lastMessage"`
	LastTimestamp time.Time `json:"lastTimestamp"`
}

type NewGroupMessage struct {
	CommunityID string
	SenderID    string
	Sender      string
	Avatar      string
	Content     string
}

type NewDirectMessage struct {
	From       string
	To         string
	SenderName string
	Content    string
}

// Store is the durable message history. Create* returns only after the
// message is committed.
type Store interface {
	CreateGroupMessage(ctx context.Context, m NewGroupMessage) (*GroupMessage, error)
	CreateDirectMessage(ctx context.Context, m NewDirectMessage) (*DirectMessage, error)
	// GroupHistory returns a community's messages, oldest first.
	GroupHistory(ctx context.Context, communityID string) ([]*GroupMessage, error)
	// DirectHistory returns the messages between two users, oldest first.
	DirectHistory(ctx context.Context, userA, userB string) ([]*DirectMessage, error)
	// Conversations lists userID's 1:1 threads, newest first. PartnerName
	// is the partner's last known display name, empty if never seen.
	Conversations(ctx context.Context, userID string) ([]*Conversation, error)
	// RememberName records userID's display name for conversation lists.
	RememberName(ctx context.Context, userID, name string) error
	Close() error
}

func (m NewGroupMessage) validate() error {
	if m.CommunityID == "" || m.SenderID == "" || m.Content == "" {
		return ErrInvalidMessage
	}
	return nil
}

func (m NewDirectMessage) validate() error {
	if m.From == "" || m.To == "" || m.Content == "" {
		return ErrInvalidMessage
	}
	return nil
}

func avatarOrDefault(a string) string {
	if a == "" {
		return DefaultAvatar
	}
	return a
}

// threadKey is the same for (a, b) and (b, a).
func threadKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
