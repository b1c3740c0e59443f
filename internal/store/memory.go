package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Memory keeps history in process. Used for development and tests.
type Memory struct {
	mu    sync.RWMutex
	clock clock.Clock

	groups  map[string][]*GroupMessage  // community -> messages
	directs map[string][]*DirectMessage // thread key -> messages
	inbox   map[string]map[string]*Conversation
	names   map[string]string // user -> last known display name
}

func NewMemory(c clock.Clock) *Memory {
	if c == nil {
		c = clock.New()
	}
	return &Memory{
		clock:   c,
		groups:  map[string][]*GroupMessage{},
		directs: map[string][]*DirectMessage{},
		inbox:   map[string]map[string]*Conversation{},
		names:   map[string]string{},
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateGroupMessage(ctx context.Context, in NewGroupMessage) (*GroupMessage, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg := &GroupMessage{
		ID:          uuid.NewString(),
		CommunityID: in.CommunityID,
		SenderID:    in.SenderID,
		Sender:      in.Sender,
		Avatar:      avatarOrDefault(in.Avatar),
		Content:     in.Content,
		CreatedAt:   m.clock.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[in.CommunityID] = append(m.groups[in.CommunityID], msg)
	if in.Sender != "" {
		m.names[in.SenderID] = in.Sender
	}
	cp := *msg
	return &cp, nil
}

func (m *Memory) CreateDirectMessage(ctx context.Context, in NewDirectMessage) (*DirectMessage, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg := &DirectMessage{
		ID:         uuid.NewString(),
		From:       in.From,
		To:         in.To,
		SenderName: in.SenderName,
		Content:    in.Content,
		CreatedAt:  m.clock.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := threadKey(in.From, in.To)
	m.directs[key] = append(m.directs[key], msg)
	if in.SenderName != "" {
		m.names[in.From] = in.SenderName
	}
	m.touch(in.From, in.To, in.Content, msg.CreatedAt)
	m.touch(in.To, in.From, in.Content, msg.CreatedAt)
	cp := *msg
	return &cp, nil
}

// touch updates owner's preview of the thread with partner.
func (m *Memory) touch(owner, partner, body string, ts time.Time) {
	threads, ok := m.inbox[owner]
	if !ok {
		threads = map[string]*Conversation{}
		m.inbox[owner] = threads
	}
	threads[partner] = &Conversation{
		PartnerID:     partner,
		LastMessage:   body,
		LastTimestamp: ts,
	}
}

func (m *Memory) GroupHistory(_ context.Context, communityID string) ([]*GroupMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.groups[communityID]
	out := make([]*GroupMessage, 0, len(src))
	for _, msg := range src {
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) DirectHistory(_ context.Context, userA, userB string) ([]*DirectMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.directs[threadKey(userA, userB)]
	out := make([]*DirectMessage, 0, len(src))
	for _, msg := range src {
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) Conversations(_ context.Context, userID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	threads := m.inbox[userID]
	list := make([]*Conversation, 0, len(threads))
	for _, p := range threads {
		cp := *p
		cp.PartnerName = m.names[p.PartnerID]
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].LastTimestamp.Equal(list[j].LastTimestamp) {
			return list[i].PartnerID < list[j].PartnerID
		}
		return list[i].LastTimestamp.After(list[j].LastTimestamp)
	})
	return list, nil
}

func (m *Memory) RememberName(ctx context.Context, userID, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" || name == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[userID] = name
	return nil
}

func (m *Memory) Close() error { return nil }
