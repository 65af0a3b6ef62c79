package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks PositionStore,MemberDirectory,CountCache,EventPublisher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"matrix/internal/matrix/events"
	"matrix/internal/matrix/metrics"
	"matrix/internal/matrix/models"
	"matrix/internal/matrix/store/aggregate"
	memberstore "matrix/internal/matrix/store/member"
	positionstore "matrix/internal/matrix/store/position"
	id "matrix/pkg/domain"
	"matrix/pkg/requestcontext"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fixture struct {
	svc       *Service
	positions *positionstore.InMemoryStore
	members   *memberstore.InMemoryStore
	publisher *events.InMemoryPublisher
	cache     *aggregate.InMemoryCache
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	tiers, err := models.DefaultTierCatalog(2)
	require.NoError(t, err)

	f := &fixture{
		positions: positionstore.NewInMemory(),
		members:   memberstore.NewInMemory(),
		publisher: events.NewInMemory(),
		cache:     aggregate.NewInMemory(time.Minute),
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	base := []Option{
		WithPublisher(f.publisher),
		WithCountCache(f.cache),
		WithMetrics(f.metrics),
		WithMaxDownlineDepth(32),
	}
	f.svc = New(f.positions, f.members, tiers, append(base, opts...)...)
	return f
}

func testContext() context.Context {
	ctx := requestcontext.WithTime(context.Background(), fixedNow)
	return requestcontext.WithRequestID(ctx, "req-test")
}

// ownerN returns a stable owner id so repeated runs build identical trees.
func ownerN(n int) id.OwnerID {
	return id.OwnerID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("owner-%d", n))))
}

// sequentialIDs yields deterministic position ids.
func sequentialIDs() func() id.PositionID {
	n := 0
	return func() id.PositionID {
		n++
		return id.PositionID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("position-%d", n))))
	}
}

func (f *fixture) placeRoot(t *testing.T, owner id.OwnerID) *models.Position {
	t.Helper()
	p, err := f.svc.PlaceUnder(testContext(), owner, "basic", nil)
	require.NoError(t, err)
	return p.Position
}

func (f *fixture) placeUnder(t *testing.T, owner, referrer id.OwnerID) *Placement {
	t.Helper()
	p, err := f.svc.PlaceUnder(testContext(), owner, "basic", &referrer)
	require.NoError(t, err)
	return p
}
