package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 256

// RedisStore persists entries in Redis. Positive TTLs map to native key expiry.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedis constructs a Redis-backed store. namespace is prepended to every
// key so several deployments can share one Redis database.
func NewRedis(client redis.UniversalClient, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.namespace+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable("redis get", err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.namespace+key, value, ttl).Err(); err != nil {
		return unavailable("redis set", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.namespace+key).Err(); err != nil {
		return unavailable("redis delete", err)
	}
	return nil
}

// Keys walks the keyspace with SCAN so large namespaces never block Redis.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	match := s.namespace + prefix + "*"
	for {
		batch, next, err := s.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return nil, unavailable("redis scan", err)
		}
		for _, k := range batch {
			keys = append(keys, k[len(s.namespace):])
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
