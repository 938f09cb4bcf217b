package nullifier

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "x402:nullifier:"

// RedisStore consumes nullifiers with SET NX, so concurrent gate replicas
// sharing one Redis agree on a single winner.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewRedisStore returns a store whose keys expire after ttl; zero keeps them.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl, now: time.Now}
}

func redisKey(nullifier string) string {
	return redisKeyPrefix + nullifier
}

func (s *RedisStore) TryConsume(ctx context.Context, nullifier string) (bool, error) {
	if nullifier == "" {
		return false, ErrEmptyNullifier
	}
	set, err := s.rdb.SetNX(ctx, redisKey(nullifier), s.now().Unix(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx nullifier: %w", err)
	}
	return set, nil
}

func (s *RedisStore) Has(ctx context.Context, nullifier string) (bool, error) {
	n, err := s.rdb.Exists(ctx, redisKey(nullifier)).Result()
	if err != nil {
		return false, fmt.Errorf("exists nullifier: %w", err)
	}
	return n > 0, nil
}

// Get returns the consumption record, or nil if the nullifier is unseen.
func (s *RedisStore) Get(ctx context.Context, nullifier string) (*Record, error) {
	ts, err := s.rdb.Get(ctx, redisKey(nullifier)).Int64()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get nullifier: %w", err)
	}
	return &Record{Nullifier: nullifier, ConsumedAt: time.Unix(ts, 0)}, nil
}
