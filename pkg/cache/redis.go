package cache

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/packmule/packmule/pkg/observability"
)

// redisKey is the set holding all indexed name@version members.
const redisKey = "packmule:index"

// RedisStore implements Store on a redis set, letting multiple mirror
// runners share one index.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the redis instance at addr and verifies the
// connection with a ping.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// Exists reports whether the pair is in the index set.
func (s *RedisStore) Exists(ctx context.Context, name, version string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, redisKey, key(name, version)).Result()
	if err != nil {
		return false, err
	}
	if ok {
		observability.Cache().OnIndexHit(ctx, "redis")
	} else {
		observability.Cache().OnIndexMiss(ctx, "redis")
	}
	return ok, nil
}

// Add records the pair in the index set.
func (s *RedisStore) Add(ctx context.Context, name, version string) error {
	if err := s.client.SAdd(ctx, redisKey, key(name, version)).Err(); err != nil {
		return err
	}
	observability.Cache().OnIndexAdd(ctx, "redis")
	return nil
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
