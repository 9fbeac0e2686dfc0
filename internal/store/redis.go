package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/pathakanu/remindbot/internal/model"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is where the snapshot lives when no key is configured.
const DefaultRedisKey = "remindbot:ledger"

// RedisStore keeps the encoded snapshot under a single key, so each SET
// replaces the whole ledger atomically.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore seeds an empty ledger under key when it does not exist yet.
func NewRedisStore(ctx context.Context, client *redis.Client, key string) (*RedisStore, error) {
	if key == "" {
		key = DefaultRedisKey
	}
	s := &RedisStore{client: client, key: key}

	data, err := Encode(model.NewLedgerState())
	if err != nil {
		return nil, storageErr("init", err)
	}
	// SETNX leaves existing state untouched.
	if err := client.SetNX(ctx, key, data, 0).Err(); err != nil {
		return nil, storageErr("init", err)
	}
	return s, nil
}

// Load fetches and decodes the snapshot.
func (s *RedisStore) Load(ctx context.Context) (model.LedgerState, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.LedgerState{}, storageErr("load", fmt.Errorf("%w: snapshot key missing", ErrCorrupt))
		}
		return model.LedgerState{}, storageErr("load", err)
	}
	state, err := Decode(data)
	if err != nil {
		return model.LedgerState{}, storageErr("load", err)
	}
	return state, nil
}

// Save overwrites the snapshot.
func (s *RedisStore) Save(ctx context.Context, state model.LedgerState) error {
	data, err := Encode(state)
	if err != nil {
		return storageErr("save", err)
	}
	return storageErr("save", s.client.Set(ctx, s.key, data, 0).Err())
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
