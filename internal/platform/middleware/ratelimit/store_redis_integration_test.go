//go:build integration

package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"matrix/internal/platform/middleware/ratelimit"
	"matrix/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *ratelimit.RedisStore
	ctx   context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = ratelimit.NewRedis(s.redis.Client)
	s.ctx = context.Background()
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisStoreSuite) TestWindowAdmitsUpToLimit() {
	now := time.Now()

	for i := range 2 {
		res, err := s.store.Allow(s.ctx, "placements:svc:registration", 2, time.Minute, now.Add(time.Duration(i)*time.Millisecond))
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(1-i, res.Remaining)
	}

	res, err := s.store.Allow(s.ctx, "placements:svc:registration", 2, time.Minute, now.Add(time.Second))
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.WithinDuration(now.Add(time.Minute), res.ResetAt, time.Millisecond)

	res, err = s.store.Allow(s.ctx, "placements:svc:registration", 2, time.Minute, now.Add(time.Minute+time.Second))
	s.Require().NoError(err)
	s.True(res.Allowed, "hits older than the window are trimmed")
}
