//go:build integration

package aggregate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"matrix/internal/matrix/store/aggregate"
	id "matrix/pkg/domain"
	"matrix/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *aggregate.RedisCache
	ctx   context.Context
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.cache = aggregate.NewRedis(s.redis.Client, time.Minute)
	s.ctx = context.Background()
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisCacheSuite) TestSetGetInvalidate() {
	a, b := id.NewPositionID(), id.NewPositionID()

	_, gen, ok, err := s.cache.GetDescendantCount(s.ctx, a)
	s.Require().NoError(err)
	s.False(ok)
	s.Zero(gen)

	s.Require().NoError(s.cache.SetDescendantCount(s.ctx, a, 12, gen))
	s.Require().NoError(s.cache.SetDescendantCount(s.ctx, b, 3, 0))

	count, _, ok, err := s.cache.GetDescendantCount(s.ctx, a)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(12, count)

	s.Require().NoError(s.cache.Invalidate(s.ctx, a, b))
	_, gen, ok, err = s.cache.GetDescendantCount(s.ctx, b)
	s.Require().NoError(err)
	s.False(ok)
	s.Equal(int64(1), gen)
}

func (s *RedisCacheSuite) TestStaleGenerationWriteIsDropped() {
	a := id.NewPositionID()

	_, staleGen, _, err := s.cache.GetDescendantCount(s.ctx, a)
	s.Require().NoError(err)
	s.Require().NoError(s.cache.Invalidate(s.ctx, a))

	s.Require().NoError(s.cache.SetDescendantCount(s.ctx, a, 1, staleGen))
	_, gen, ok, err := s.cache.GetDescendantCount(s.ctx, a)
	s.Require().NoError(err)
	s.False(ok, "count read before the invalidation must not be stored")

	s.Require().NoError(s.cache.SetDescendantCount(s.ctx, a, 2, gen))
	count, _, ok, err := s.cache.GetDescendantCount(s.ctx, a)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(2, count)
}

func (s *RedisCacheSuite) TestEntriesCarryTTL() {
	a := id.NewPositionID()
	s.Require().NoError(s.cache.SetDescendantCount(s.ctx, a, 1, 0))

	ttl, err := s.redis.Client.TTL(s.ctx, "matrix:descendants:"+a.String()).Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
	s.LessOrEqual(ttl, time.Minute)
}
