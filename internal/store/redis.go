package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultHistoryLimit caps each community and 1:1 thread list.
const DefaultHistoryLimit = 500

// Redis keeps history in capped lists:
//
//	<prefix>community:<id>     list of GroupMessage JSON
//	<prefix>dm:<a>:<b>         list of DirectMessage JSON, a < b
//	<prefix>inbox:<user>       zset partner -> last activity (unix millis)
//	<prefix>preview:<user>     hash partner -> last message body
//	<prefix>name:<user>        last known display name
type Redis struct {
	client *redis.Client
	prefix string
	limit  int64
	clock  clock.Clock
}

type RedisOption func(*Redis)

func WithHistoryLimit(n int) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.limit = int64(n)
		}
	}
}

func WithRedisClock(c clock.Clock) RedisOption {
	return func(r *Redis) { r.clock = c }
}

func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "chat:",
		limit:  DefaultHistoryLimit,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis connects and pings, failing fast on a bad address.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("store: redis ping %s: %w", addr, err)
	}
	return client, nil
}

var _ Store = (*Redis)(nil)

func (r *Redis) key(parts ...string) string {
	k := r.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (r *Redis) CreateGroupMessage(ctx context.Context, in NewGroupMessage) (*GroupMessage, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	msg := &GroupMessage{
		ID:          uuid.NewString(),
		CommunityID: in.CommunityID,
		SenderID:    in.SenderID,
		Sender:      in.Sender,
		Avatar:      avatarOrDefault(in.Avatar),
		Content:     in.Content,
		CreatedAt:   r.clock.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("store: marshal group message: %w", err)
	}

	listKey := r.key("community", in.CommunityID)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, listKey, data)
		p.LTrim(ctx, listKey, -r.limit, -1)
		if in.Sender != "" {
			p.Set(ctx, r.key("name", in.SenderID), in.Sender, 0)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: save group message: %w", err)
	}
	return msg, nil
}

func (r *Redis) CreateDirectMessage(ctx context.Context, in NewDirectMessage) (*DirectMessage, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	msg := &DirectMessage{
		ID:         uuid.NewString(),
		From:       in.From,
		To:         in.To,
		SenderName: in.SenderName,
		Content:    in.Content,
		CreatedAt:  r.clock.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("store: marshal direct message: %w", err)
	}

	listKey := r.key("dm", threadKey(in.From, in.To))
	score := float64(msg.CreatedAt.UnixMilli())
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, listKey, data)
		p.LTrim(ctx, listKey, -r.limit, -1)
		p.ZAdd(ctx, r.key("inbox", in.From), redis.Z{Score: score, Member: in.To})
		p.ZAdd(ctx, r.key("inbox", in.To), redis.Z{Score: score, Member: in.From})
		p.HSet(ctx, r.key("preview", in.From), in.To, in.Content)
		p.HSet(ctx, r.key("preview", in.To), in.From, in.Content)
		if in.SenderName != "" {
			p.Set(ctx, r.key("name", in.From), in.SenderName, 0)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: save direct message: %w", err)
	}
	return msg, nil
}

func (r *Redis) GroupHistory(ctx context.Context, communityID string) ([]*GroupMessage, error) {
	raw, err := r.client.LRange(ctx, r.key("community", communityID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: group history: %w", err)
	}
	out := make([]*GroupMessage, 0, len(raw))
	for _, s := range raw {
		var m GroupMessage
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("store: decode group message: %w", err)
		}
		out = append(out, &m)
	}
	return out, nil
}

func (r *Redis) DirectHistory(ctx context.Context, userA, userB string) ([]*DirectMessage, error) {
	raw, err := r.client.LRange(ctx, r.key("dm", threadKey(userA, userB)), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: direct history: %w", err)
	}
	out := make([]*DirectMessage, 0, len(raw))
	for _, s := range raw {
		var m DirectMessage
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("store: decode direct message: %w", err)
		}
		out = append(out, &m)
	}
	return out, nil
}

func (r *Redis) Conversations(ctx context.Context, userID string) ([]*Conversation, error) {
	partners, err := r.client.ZRevRangeWithScores(ctx, r.key("inbox", userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: conversations: %w", err)
	}
	if len(partners) == 0 {
		return []*Conversation{}, nil
	}

	ids := make([]string, len(partners))
	nameKeys := make([]string, len(partners))
	for i, z := range partners {
		ids[i] = z.Member.(string)
		nameKeys[i] = r.key("name", ids[i])
	}
	previews, err := r.client.HMGet(ctx, r.key("preview", userID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("store: conversation previews: %w", err)
	}
	names, err := r.client.MGet(ctx, nameKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("store: conversation names: %w", err)
	}

	out := make([]*Conversation, 0, len(partners))
	for i, z := range partners {
		c := &Conversation{
			PartnerID:     ids[i],
			LastTimestamp: time.UnixMilli(int64(z.Score)).UTC(),
		}
		if s, ok := previews[i].(string); ok {
			c.LastMessage = s
		}
		if s, ok := names[i].(string); ok {
			c.PartnerName = s
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *Redis) RememberName(ctx context.Context, userID, name string) error {
	if userID == "" || name == "" {
		return nil
	}
	if err := r.client.Set(ctx, r.key("name", userID), name, 0).Err(); err != nil {
		return fmt.Errorf("store: remember name: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
