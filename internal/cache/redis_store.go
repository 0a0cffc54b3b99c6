// Package cache keeps serialized document snapshots in Redis.
package cache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces document snapshots in Redis.
const KeyPrefix = "doc:"

var (
	// ErrNotFound means no snapshot is stored for the document.
	ErrNotFound = errors.New("snapshot not found")
	// ErrCorrupt means the stored value is not a valid encoded snapshot.
	ErrCorrupt = errors.New("snapshot corrupt")
	// ErrConflict means Update gave up because the key kept changing under it.
	ErrConflict = errors.New("snapshot changed concurrently")
)

const maxUpdateAttempts = 5

// UpdateFunc receives the current snapshot (nil and false when absent or
// unreadable) and returns the snapshot to write.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// RedisStore stores one base64 snapshot per document name, without expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed snapshot store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: KeyPrefix,
	}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: KeyPrefix,
	}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

// Load returns the stored snapshot for name, or ErrNotFound.
func (s *RedisStore) Load(ctx context.Context, name string) ([]byte, error) {
	encoded, err := s.client.Get(ctx, s.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	state, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return state, nil
}

// Store overwrites the snapshot for name.
func (s *RedisStore) Store(ctx context.Context, name string, state []byte) error {
	encoded := base64.StdEncoding.EncodeToString(state)
	if err := s.client.Set(ctx, s.key(name), encoded, 0).Err(); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// Update rewrites the snapshot for name with optimistic locking, so a write
// that lands between the read and the write makes fn run again on the newer value.
func (s *RedisStore) Update(ctx context.Context, name string, fn UpdateFunc) error {
	key := s.key(name)
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			var current []byte
			found := false
			encoded, err := tx.Get(ctx, key).Result()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				if decoded, decodeErr := base64.StdEncoding.DecodeString(encoded); decodeErr == nil {
					current, found = decoded, true
				}
			}

			next, err := fn(current, found)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, base64.StdEncoding.EncodeToString(next), 0)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update snapshot: %w", err)
		}
		return nil
	}
	return ErrConflict
}

// Delete removes the snapshot for name. Missing keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, s.key(name)).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, name string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(name)).Result()
	if err != nil {
		return false, fmt.Errorf("check snapshot: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
