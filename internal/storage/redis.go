package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisPrefix = "pagetrail:"

	// maxUpdateAttempts bounds optimistic retries when another writer
	// touches the page list between WATCH and EXEC.
	maxUpdateAttempts = 10
)

// RedisStore implements Store on a Redis server. The page list lives in a
// single string key so it stays interchangeable with the SQLite document.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to the server at redisURL and checks it answers.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, unavailable("connect to redis", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: redisPrefix,
	}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

func (s *RedisStore) get(ctx context.Context, c redis.Cmdable, key string) (string, error) {
	value, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

// LoadPages returns the persisted page list.
func (s *RedisStore) LoadPages(ctx context.Context) ([]Domain, error) {
	value, err := s.get(ctx, s.client, s.key(PageListKey))
	if err != nil {
		return nil, unavailable("load page list", err)
	}
	return decodePages([]byte(value))
}

// UpdatePages applies fn under WATCH and retries when the key changed
// before the write could commit.
func (s *RedisStore) UpdatePages(ctx context.Context, fn UpdateFunc) ([]Domain, error) {
	key := s.key(PageListKey)
	var next []Domain
	// errAbort carries failures that are not about reaching Redis.
	var errAbort error

	txf := func(tx *redis.Tx) error {
		value, err := s.get(ctx, tx, key)
		if err != nil {
			return err
		}
		current, err := decodePages([]byte(value))
		if err != nil {
			errAbort = err
			return err
		}

		next, err = fn(current)
		if err != nil {
			errAbort = err
			return err
		}
		data, err := encodePages(next)
		if err != nil {
			errAbort = err
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		errAbort = nil
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return next, nil
		case errAbort != nil:
			return nil, errAbort
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return nil, unavailable("store page list", err)
		}
	}
	return nil, unavailable("store page list", fmt.Errorf("gave up after %d conflicting writes", maxUpdateAttempts))
}

// Marker returns the time stored under name, or the zero time.
func (s *RedisStore) Marker(ctx context.Context, name string) (time.Time, error) {
	value, err := s.get(ctx, s.client, s.key(markerKey(name)))
	if err != nil {
		return time.Time{}, unavailable("load marker "+name, err)
	}
	return decodeMarker(value)
}

// SetMarker stores t under name.
func (s *RedisStore) SetMarker(ctx context.Context, name string, t time.Time) error {
	if err := s.client.Set(ctx, s.key(markerKey(name)), encodeMarker(t), 0).Err(); err != nil {
		return unavailable("store marker "+name, err)
	}
	return nil
}

// Purge deletes the page list and the markers.
func (s *RedisStore) Purge(ctx context.Context) error {
	keys := []string{
		s.key(PageListKey),
		s.key(markerKey(MarkerLastSync)),
		s.key(markerKey(MarkerLastReset)),
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return unavailable("purge", err)
	}
	return nil
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
