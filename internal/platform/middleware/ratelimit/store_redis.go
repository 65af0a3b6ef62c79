package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "matrix:ratelimit:"

// RedisStore keeps each window as a sorted set scored by request time in nanoseconds.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Allow trims the window and reads its size in one transaction, then records the
// request only when there is room. Two concurrent callers may both see room for the last
// slot; the limit is soft by at most the number of instances racing on one key.
func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (*Result, error) {
	redisKey := keyPrefix + key
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", cutoff)
		card = pipe.ZCard(ctx, redisKey)
		oldest = pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read rate limit window: %w", err)
	}

	count := int(card.Val())
	resetAt := now.Add(window)
	if z := oldest.Val(); len(z) > 0 {
		resetAt = time.Unix(0, int64(z[0].Score)).Add(window)
	}
	if count >= limit {
		return &Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt}, nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
		pipe.PExpire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record rate limit hit: %w", err)
	}
	if count == 0 {
		resetAt = now.Add(window)
	}
	return &Result{Allowed: true, Limit: limit, Remaining: limit - count - 1, ResetAt: resetAt}, nil
}
