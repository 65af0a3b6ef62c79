package aggregate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	id "matrix/pkg/domain"
)

const (
	descendantCountKeyPrefix = "matrix:descendants:"
	generationKeyPrefix      = "matrix:descendants:gen:"

	// generationTTL outlives any count entry so a stale write cannot find the
	// generation key expired and reset to zero.
	generationTTL = 24 * time.Hour
)

// setIfGeneration writes the count only while the generation key still holds the
// generation the caller read. A missing generation key reads as "0"; a zero TTL
// stores without expiry.
var setIfGeneration = redis.NewScript(`
local gen = redis.call("GET", KEYS[2])
if not gen then gen = "0" end
if gen ~= ARGV[2] then return 0 end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)

// RedisCache shares descendant counts across service instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func descendantCountKey(positionID id.PositionID) string {
	return descendantCountKeyPrefix + positionID.String()
}

func generationKey(positionID id.PositionID) string {
	return generationKeyPrefix + positionID.String()
}

// GetDescendantCount reads the count and generation of positionID in one round trip.
func (c *RedisCache) GetDescendantCount(ctx context.Context, positionID id.PositionID) (int, int64, bool, error) {
	pipe := c.client.Pipeline()
	countCmd := pipe.Get(ctx, descendantCountKey(positionID))
	genCmd := pipe.Get(ctx, generationKey(positionID))
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, false, fmt.Errorf("get descendant count: %w", err)
	}

	var gen int64
	rawGen, err := genCmd.Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return 0, 0, false, fmt.Errorf("get descendant count generation: %w", err)
	default:
		if gen, err = strconv.ParseInt(rawGen, 10, 64); err != nil {
			return 0, 0, false, fmt.Errorf("parse descendant count generation: %w", err)
		}
	}

	raw, err := countCmd.Result()
	if err != nil {
		return 0, gen, false, nil
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		// Unreadable entries are treated as misses and overwritten on the next set.
		return 0, gen, false, nil
	}
	return count, gen, true, nil
}

// SetDescendantCount stores count unless positionID was invalidated after generation was read.
func (c *RedisCache) SetDescendantCount(ctx context.Context, positionID id.PositionID, count int, generation int64) error {
	keys := []string{descendantCountKey(positionID), generationKey(positionID)}
	err := setIfGeneration.Run(ctx, c.client, keys,
		count, strconv.FormatInt(generation, 10), c.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("set descendant count: %w", err)
	}
	return nil
}

// Invalidate deletes the cached counts of positionIDs and advances their generations
// in one round trip.
func (c *RedisCache) Invalidate(ctx context.Context, positionIDs ...id.PositionID) error {
	if len(positionIDs) == 0 {
		return nil
	}
	pipe := c.client.TxPipeline()
	for _, positionID := range positionIDs {
		pipe.Del(ctx, descendantCountKey(positionID))
		pipe.Incr(ctx, generationKey(positionID))
		pipe.Expire(ctx, generationKey(positionID), generationTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invalidate descendant counts: %w", err)
	}
	return nil
}
