package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefixes for storage
	bindingPrefix = "sahayak:session:"
	bindingIndex  = "sahayak:index:conversations"
)

// RedisStore implements SessionStore using Redis
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	owned  bool
}

// NewRedisStore creates a store on an existing client. The caller keeps
// ownership of the client. A non-positive ttl keeps bindings forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// DialRedisStore connects to addr and verifies the connection
func DialRedisStore(ctx context.Context, opts *redis.Options, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client, ttl: ttl, owned: true}, nil
}

// Save persists a binding to Redis
func (rs *RedisStore) Save(ctx context.Context, b *Binding) error {
	if err := validate(b); err != nil {
		return err
	}

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal binding: %w", err)
	}

	ttl := rs.ttl
	if ttl < 0 {
		ttl = 0
	}

	pipe := rs.client.TxPipeline()
	pipe.Set(ctx, bindingPrefix+b.ConversationID, data, ttl)
	pipe.SAdd(ctx, bindingIndex, b.ConversationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save binding: %w", err)
	}
	return nil
}

// Get retrieves a binding by conversation ID
func (rs *RedisStore) Get(ctx context.Context, conversationID string) (*Binding, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation ID cannot be empty")
	}

	data, err := rs.client.Get(ctx, bindingPrefix+conversationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get binding: %w", err)
	}

	var b Binding
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal binding: %w", err)
	}
	return &b, nil
}

// Delete removes a binding
func (rs *RedisStore) Delete(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("conversation ID cannot be empty")
	}

	pipe := rs.client.TxPipeline()
	del := pipe.Del(ctx, bindingPrefix+conversationID)
	pipe.SRem(ctx, bindingIndex, conversationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete binding: %w", err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	return nil
}

// List returns all bindings, dropping index entries whose binding expired
func (rs *RedisStore) List(ctx context.Context) ([]*Binding, error) {
	ids, err := rs.client.SMembers(ctx, bindingIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	sort.Strings(ids)

	bindings := make([]*Binding, 0, len(ids))
	for _, id := range ids {
		b, err := rs.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			rs.client.SRem(ctx, bindingIndex, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

// Close closes the Redis connection if this store opened it
func (rs *RedisStore) Close() error {
	if !rs.owned {
		return nil
	}
	return rs.client.Close()
}
