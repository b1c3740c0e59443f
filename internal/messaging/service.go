// Package messaging accepts new messages from the HTTP surface, commits them
// to the store and hands them to the realtime layer.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/GurpreetSingh-21/Community-Talk/internal/chat"
	"github.com/GurpreetSingh-21/Community-Talk/internal/identity"
	"github.com/GurpreetSingh-21/Community-Talk/internal/store"
)

var (
	ErrContentRequired   = errors.New("messaging: content is required")
	ErrCommunityRequired = errors.New("messaging: community id is required")
	ErrRecipientRequired = errors.New("messaging: recipient id is required")
)

// Publisher queues an event for fan-out. *chat.Manager satisfies it.
type Publisher interface {
	Publish(ev *chat.Event) bool
}

type Service struct {
	store  store.Store
	pub    Publisher
	logger *zap.Logger
}

func NewService(s store.Store, pub Publisher, logger *zap.Logger) *Service {
	return &Service{store: s, pub: pub, logger: logger.Named("messaging")}
}

// displayName prefers the full name and falls back to the email address.
func displayName(sender identity.Identity) string {
	if sender.DisplayName != "" {
		return sender.DisplayName
	}
	return sender.Email
}

// SendGroupMessage stores a message for communityID and, once it is
// committed, publishes it. Nothing is published if the store fails. Content
// that is only whitespace is rejected; otherwise it is stored as sent.
func (s *Service) SendGroupMessage(ctx context.Context, sender identity.Identity, communityID, content string) (*store.GroupMessage, error) {
	communityID = strings.TrimSpace(communityID)
	switch {
	case communityID == "":
		return nil, ErrCommunityRequired
	case strings.TrimSpace(content) == "":
		return nil, ErrContentRequired
	}

	msg, err := s.store.CreateGroupMessage(ctx, store.NewGroupMessage{
		CommunityID: communityID,
		SenderID:    sender.ID,
		Sender:      displayName(sender),
		Avatar:      sender.Avatar,
		Content:     content,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: store group message: %w", err)
	}

	if !s.pub.Publish(chat.NewGroupMessageEvent(msg)) {
		s.logger.Warn("group message stored but not published", zap.String("messageID", msg.ID))
	}
	return msg, nil
}

// SendDirectMessage stores a 1:1 message and publishes it to both parties.
func (s *Service) SendDirectMessage(ctx context.Context, sender identity.Identity, to, content string) (*store.DirectMessage, error) {
	to = strings.TrimSpace(to)
	switch {
	case to == "":
		return nil, ErrRecipientRequired
	case strings.TrimSpace(content) == "":
		return nil, ErrContentRequired
	}

	msg, err := s.store.CreateDirectMessage(ctx, store.NewDirectMessage{
		From:       sender.ID,
		To:         to,
		SenderName: displayName(sender),
		Content:    content,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: store direct message: %w", err)
	}

	if !s.pub.Publish(chat.NewDirectMessageEvent(msg)) {
		s.logger.Warn("direct message stored but not published", zap.String("messageID", msg.ID))
	}
	return msg, nil
}

func (s *Service) GroupHistory(ctx context.Context, communityID string) ([]*store.GroupMessage, error) {
	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return nil, ErrCommunityRequired
	}
	return s.store.GroupHistory(ctx, communityID)
}

func (s *Service) DirectHistory(ctx context.Context, caller identity.Identity, partnerID string) ([]*store.DirectMessage, error) {
	partnerID = strings.TrimSpace(partnerID)
	if partnerID == "" {
		return nil, ErrRecipientRequired
	}
	s.rememberName(ctx, caller)
	return s.store.DirectHistory(ctx, caller.ID, partnerID)
}

// Conversations lists the caller's 1:1 threads. Reading records the
// caller's name, so it shows in the lists of users they never wrote to.
func (s *Service) Conversations(ctx context.Context, caller identity.Identity) ([]*store.Conversation, error) {
	s.rememberName(ctx, caller)
	return s.store.Conversations(ctx, caller.ID)
}

func (s *Service) rememberName(ctx context.Context, caller identity.Identity) {
	if err := s.store.RememberName(ctx, caller.ID, displayName(caller)); err != nil {
		s.logger.Warn("failed to record display name", zap.String("userID", caller.ID), zap.Error(err))
	}
}
