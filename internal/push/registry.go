package push

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"livraison/internal/domain"
)

type setStore interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *goredis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *goredis.IntCmd
	SMembers(ctx context.Context, key string) *goredis.StringSliceCmd
}

// RedisChatRegistry maps a recipient topic to Telegram chat ids. Each chat is
// stored under its own recipient and under its role, so a message with no
// recipient reaches the whole role.
type RedisChatRegistry struct {
	store  setStore
	prefix string
}

func NewRedisChatRegistry(store setStore, prefix string) *RedisChatRegistry {
	if prefix == "" {
		prefix = "livraison:telegram"
	}
	return &RedisChatRegistry{store: store, prefix: prefix}
}

func (r *RedisChatRegistry) key(role domain.Role, recipientID string) string {
	if recipientID == "" {
		return fmt.Sprintf("%s:%s", r.prefix, role)
	}
	return fmt.Sprintf("%s:%s:%s", r.prefix, role, recipientID)
}

func (r *RedisChatRegistry) Register(ctx context.Context, role domain.Role, recipientID string, chatID int64) error {
	if err := r.store.SAdd(ctx, r.key(role, recipientID), chatID).Err(); err != nil {
		return fmt.Errorf("registering chat: %w", err)
	}
	if err := r.store.SAdd(ctx, r.key(role, ""), chatID).Err(); err != nil {
		return fmt.Errorf("registering chat for role: %w", err)
	}
	return nil
}

func (r *RedisChatRegistry) Unregister(ctx context.Context, role domain.Role, recipientID string, chatID int64) error {
	if err := r.store.SRem(ctx, r.key(role, recipientID), chatID).Err(); err != nil {
		return fmt.Errorf("unregistering chat: %w", err)
	}
	if err := r.store.SRem(ctx, r.key(role, ""), chatID).Err(); err != nil {
		return fmt.Errorf("unregistering chat for role: %w", err)
	}
	return nil
}

func (r *RedisChatRegistry) ChatIDs(ctx context.Context, role domain.Role, recipientID string) ([]int64, error) {
	members, err := r.store.SMembers(ctx, r.key(role, recipientID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
