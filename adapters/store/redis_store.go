package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/ports"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of the CredentialStore interface.
// Keys expire with the credentials they hold.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "litkit:session:",
	}
}

var _ ports.CredentialStore = (*RedisStore)(nil)

// Set stores the credential set as JSON with expiration ttl
func (s *RedisStore) Set(ctx context.Context, key string, set *core.SessionCredentialSet, ttl time.Duration) error {
	payload, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

// Get loads the credential set stored under key
func (s *RedisStore) Get(ctx context.Context, key string) (*core.SessionCredentialSet, error) {
	payload, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	var set core.SessionCredentialSet
	if err := json.Unmarshal(payload, &set); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return &set, nil
}

// Delete removes key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}
