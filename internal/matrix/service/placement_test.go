package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"matrix/internal/matrix/events"
	"matrix/internal/matrix/models"
	"matrix/internal/matrix/service/mocks"
	id "matrix/pkg/domain"
	dErrors "matrix/pkg/domain-errors"
	"matrix/pkg/platform/sentinel"
)

type PlacementSuite struct {
	suite.Suite
	f *fixture
}

func TestPlacementSuite(t *testing.T) {
	suite.Run(t, new(PlacementSuite))
}

func (s *PlacementSuite) SetupTest() {
	s.f = newFixture(s.T())
}

func (s *PlacementSuite) TestRootPlacementWithoutReferrer() {
	first := s.f.placeRoot(s.T(), ownerN(1))
	second := s.f.placeRoot(s.T(), ownerN(2))

	s.Nil(first.ParentID)
	s.Equal(0, first.Depth)
	s.Equal(0, first.SlotIndex)
	s.Equal("0", first.ReadablePath())
	s.Equal(1, second.SlotIndex)
	s.Equal("1", second.ReadablePath())
	s.Equal(second.ID, second.RootID)
}

// Capacity 2: the third placement under R spills to R's slot-0 child.
func (s *PlacementSuite) TestBreadthFirstSpillover() {
	root := s.f.placeRoot(s.T(), ownerN(0))

	a := s.f.placeUnder(s.T(), ownerN(1), ownerN(0))
	b := s.f.placeUnder(s.T(), ownerN(2), ownerN(0))
	c := s.f.placeUnder(s.T(), ownerN(3), ownerN(0))

	s.Equal(root.ID, *a.Position.ParentID)
	s.Equal(0, a.Position.SlotIndex)
	s.False(a.Spillover)
	s.Equal(root.ID, *b.Position.ParentID)
	s.Equal(1, b.Position.SlotIndex)

	s.Equal(a.Position.ID, *c.Position.ParentID)
	s.Equal(0, c.Position.SlotIndex)
	s.Equal(2, c.Position.Depth)
	s.True(c.Spillover)
	s.Equal("0.0.0", c.Position.ReadablePath())

	count, err := s.f.svc.CountDescendants(testContext(), root.ID)
	s.Require().NoError(err)
	s.Equal(3, count)
}

func (s *PlacementSuite) TestSpilloverFillsLevelLeftToRight() {
	s.f.placeRoot(s.T(), ownerN(0))
	var paths []string
	for i := 1; i <= 7; i++ {
		paths = append(paths, s.f.placeUnder(s.T(), ownerN(i), ownerN(0)).Position.ReadablePath())
	}
	s.Equal([]string{"0.0", "0.1", "0.0.0", "0.0.1", "0.1.0", "0.1.1", "0.0.0.0"}, paths)
}

func (s *PlacementSuite) TestPlacementStartsAtReferrerPosition() {
	s.f.placeRoot(s.T(), ownerN(0))
	a := s.f.placeUnder(s.T(), ownerN(1), ownerN(0))
	s.f.placeUnder(s.T(), ownerN(2), ownerN(0))

	under := s.f.placeUnder(s.T(), ownerN(3), ownerN(2))

	s.NotEqual(a.Position.ID, *under.Position.ParentID)
	s.Equal("0.1.0", under.Position.ReadablePath())
	s.False(under.Spillover)
}

func (s *PlacementSuite) TestUnresolvableReferralPlacesRoot() {
	s.f.placeRoot(s.T(), ownerN(0))

	p, err := s.f.svc.Place(testContext(), PlaceRequest{OwnerID: ownerN(1), TierID: "basic", ReferralToken: "nobody"})
	s.Require().NoError(err)
	s.Nil(p.Position.ParentID)
	s.Equal(0, p.Position.Depth)
	s.Nil(p.Referrer)
	s.Equal(1, p.Position.SlotIndex)
}

func (s *PlacementSuite) TestReferralTokenResolvesCaseInsensitively() {
	root := s.f.placeRoot(s.T(), ownerN(0))
	_, err := s.f.svc.UpsertMember(testContext(), ownerN(0), "Alice", "ALC-2024")
	s.Require().NoError(err)

	p, err := s.f.svc.Place(testContext(), PlaceRequest{OwnerID: ownerN(1), TierID: "basic", ReferralToken: "alice"})
	s.Require().NoError(err)
	s.Equal(root.ID, *p.Position.ParentID)

	p, err = s.f.svc.Place(testContext(), PlaceRequest{OwnerID: ownerN(2), TierID: "basic", ReferralToken: "alc-2024"})
	s.Require().NoError(err)
	s.Equal(root.ID, *p.Position.ParentID)
}

func (s *PlacementSuite) TestRejectPolicy() {
	f := newFixture(s.T(), WithOrphanPolicy(OrphanPolicyReject))

	s.Run("unmatched token is rejected", func() {
		_, err := f.svc.Place(testContext(), PlaceRequest{OwnerID: ownerN(1), TierID: "basic", ReferralToken: "ghost"})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.ErrorIs(err, models.ErrReferrerRejected)
	})

	s.Run("empty token still places a root", func() {
		p, err := f.svc.Place(testContext(), PlaceRequest{OwnerID: ownerN(2), TierID: "basic"})
		s.Require().NoError(err)
		s.True(p.Position.IsRoot())
	})

	s.Run("referrer without a position is rejected", func() {
		_, err := f.svc.UpsertMember(testContext(), ownerN(9), "unplaced", "")
		s.Require().NoError(err)
		_, err = f.svc.Place(testContext(), PlaceRequest{OwnerID: ownerN(3), TierID: "basic", ReferralToken: "unplaced"})
		s.ErrorIs(err, models.ErrReferrerRejected)
	})
}

func (s *PlacementSuite) TestReferrerWithoutPositionDegradesToRoot() {
	unplaced := ownerN(99)
	p, err := s.f.svc.PlaceUnder(testContext(), ownerN(1), "basic", &unplaced)
	s.Require().NoError(err)
	s.True(p.Position.IsRoot())
}

func (s *PlacementSuite) TestDuplicateOwnerIsConflict() {
	s.f.placeRoot(s.T(), ownerN(1))

	_, err := s.f.svc.PlaceUnder(testContext(), ownerN(1), "basic", nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.ErrorIs(err, models.ErrDuplicateOwner)
}

func (s *PlacementSuite) TestUnknownTierIsValidationError() {
	_, err := s.f.svc.PlaceUnder(testContext(), ownerN(1), "diamond", nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.ErrorIs(err, models.ErrInvalidTier)
}

func (s *PlacementSuite) TestPublishesPositionPlaced() {
	root := s.f.placeRoot(s.T(), ownerN(0))
	child := s.f.placeUnder(s.T(), ownerN(1), ownerN(0))

	published := s.f.publisher.Events()
	s.Require().Len(published, 2)
	s.True(published[0].Root)
	s.Equal(child.Position.ID, published[1].PositionID)
	s.Equal([]id.PositionID{root.ID}, published[1].Upline)
	s.Equal("req-test", published[1].RequestID)
	s.Equal(fixedNow, published[1].PlacedAt)
}

func (s *PlacementSuite) TestPublishFailureDoesNotUndoPlacement() {
	s.f.publisher.FailWith(errors.New("broker down"))

	p, err := s.f.svc.PlaceUnder(testContext(), ownerN(1), "basic", nil)
	s.Require().NoError(err)

	stored, err := s.f.svc.Get(testContext(), p.Position.ID)
	s.Require().NoError(err)
	s.Equal(p.Position.ID, stored.ID)
}

func (s *PlacementSuite) TestPlacementInvalidatesAncestorCounts() {
	root := s.f.placeRoot(s.T(), ownerN(0))
	s.f.placeUnder(s.T(), ownerN(1), ownerN(0))

	count, err := s.f.svc.CountDescendants(testContext(), root.ID)
	s.Require().NoError(err)
	s.Equal(1, count)

	s.f.placeUnder(s.T(), ownerN(2), ownerN(0))
	count, err = s.f.svc.CountDescendants(testContext(), root.ID)
	s.Require().NoError(err)
	s.Equal(2, count)
}

func (s *PlacementSuite) TestDeterministicReplay() {
	build := func() []string {
		f := newFixture(s.T(), WithIDGenerator(sequentialIDs()))
		f.placeRoot(s.T(), ownerN(0))
		var paths []string
		for i := 1; i <= 12; i++ {
			referrer := ownerN(0)
			if i > 6 {
				referrer = ownerN(2)
			}
			p := f.placeUnder(s.T(), ownerN(i), referrer)
			paths = append(paths, p.Position.ID.String()+"@"+p.Position.ReadablePath())
		}
		return paths
	}
	s.Equal(build(), build())
}

// gatedStore holds the first two Creates until both have arrived, so both placements
// search against the same snapshot.
type gatedStore struct {
	PositionStore
	arrivals atomic.Int32
	gate     sync.WaitGroup
}

func newGatedStore(inner PositionStore) *gatedStore {
	g := &gatedStore{PositionStore: inner}
	g.gate.Add(2)
	return g
}

func (g *gatedStore) Create(ctx context.Context, pos *models.Position) (*models.Position, error) {
	if g.arrivals.Add(1) <= 2 {
		g.gate.Done()
		g.gate.Wait()
	}
	return g.PositionStore.Create(ctx, pos)
}

func TestConcurrentPlacementIntoLastFreeSlot(t *testing.T) {
	f := newFixture(t)
	root := f.placeRoot(t, ownerN(0))
	first := f.placeUnder(t, ownerN(1), ownerN(0))

	tiers, err := models.DefaultTierCatalog(2)
	require.NoError(t, err)
	svc := New(newGatedStore(f.positions), f.members, tiers)

	referrer := ownerN(0)
	results := make([]*Placement, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.PlaceUnder(testContext(), ownerN(10+i), "basic", &referrer)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	parents := map[id.PositionID]int{}
	attempts := map[int]int{}
	for _, p := range results {
		parents[*p.Position.ParentID] = p.Position.SlotIndex
		attempts[p.Attempts]++
	}
	assert.Equal(t, map[id.PositionID]int{root.ID: 1, first.Position.ID: 0}, parents)
	assert.Equal(t, map[int]int{1: 1, 2: 1}, attempts)
}

func TestConcurrentPlacementKeepsInvariants(t *testing.T) {
	f := newFixture(t)
	root := f.placeRoot(t, ownerN(0))
	f.svc.maxAttempts = 64

	const n = 40
	referrer := ownerN(0)
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.PlaceUnder(testContext(), ownerN(i), "basic", &referrer)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	tree, err := f.svc.Subtree(testContext(), root.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, n+1, tree.Size())
	assertTreeInvariants(t, tree)
}

func assertTreeInvariants(t *testing.T, tree *models.TreeNode) {
	t.Helper()
	tree.Walk(func(n *models.TreeNode) bool {
		pos := n.Position
		assert.LessOrEqual(t, pos.ChildCount, pos.Capacity)
		if !n.Truncated {
			assert.Equal(t, pos.ChildCount, len(n.Children), "childCount matches children of %s", pos.ReadablePath())
		}
		slots := map[int]bool{}
		for _, child := range n.Children {
			assert.Equal(t, pos.Depth+1, child.Position.Depth)
			assert.Equal(t, pos.ID, *child.Position.ParentID)
			assert.False(t, slots[child.Position.SlotIndex], "slot %d reused under %s", child.Position.SlotIndex, pos.ReadablePath())
			slots[child.Position.SlotIndex] = true
		}
		return true
	})
}

func TestPlacementRetriesExhausted(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockPositionStore(ctrl)
	tiers, err := models.DefaultTierCatalog(2)
	require.NoError(t, err)
	svc := New(store, nil, tiers, WithMaxAttempts(3))

	store.EXPECT().GetByOwner(gomock.Any(), ownerN(1)).Return(nil, sentinel.ErrNotFound)
	store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, models.ErrDuplicateSlot).Times(3)

	_, err = svc.PlaceUnder(testContext(), ownerN(1), "basic", nil)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	assert.ErrorIs(t, err, models.ErrPlacementFailed)
	assert.NotErrorIs(t, err, models.ErrDuplicateSlot)
}

func TestPlacementStoreFailureIsInternal(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockPositionStore(ctrl)
	tiers, err := models.DefaultTierCatalog(2)
	require.NoError(t, err)
	svc := New(store, nil, tiers)

	store.EXPECT().GetByOwner(gomock.Any(), ownerN(1)).Return(nil, errors.New("connection reset"))

	_, err = svc.PlaceUnder(testContext(), ownerN(1), "basic", nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}

func TestPlacementSideEffectsUseCollaborators(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCountCache(ctrl)
	publisher := mocks.NewMockEventPublisher(ctrl)

	f := newFixture(t)
	root := f.placeRoot(t, ownerN(0))
	tiers, err := models.DefaultTierCatalog(2)
	require.NoError(t, err)
	svc := New(f.positions, f.members, tiers, WithCountCache(cache), WithPublisher(publisher))

	cache.EXPECT().Invalidate(gomock.Any(), root.ID).Return(errors.New("redis unavailable"))
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, event events.PositionPlaced) error {
			assert.Equal(t, root.ID, *event.ParentID)
			assert.Equal(t, "0.0", event.ReadablePath)
			return nil
		})

	referrer := ownerN(0)
	_, err = svc.PlaceUnder(testContext(), ownerN(1), "basic", &referrer)
	require.NoError(t, err)
}

func TestPlacementHonorsCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(testContext())
	cancel()

	_, err := f.svc.PlaceUnder(ctx, ownerN(1), "basic", nil)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
}

// fullOnceFinder reports a full subtree on its first search, as a store does when
// every slot was taken between the referrer read and the query.
type fullOnceFinder struct {
	PositionStore
	searches atomic.Int32
}

func (f *fullOnceFinder) FindFirstOpen(ctx context.Context, start *models.Position) (*models.Position, error) {
	if f.searches.Add(1) == 1 {
		return nil, models.ErrCapacityExceeded
	}
	return f.PositionStore.Get(ctx, start.ID)
}

func TestFullSubtreeFromFinderIsRetried(t *testing.T) {
	f := newFixture(t)
	root := f.placeRoot(t, ownerN(0))

	tiers, err := models.DefaultTierCatalog(2)
	require.NoError(t, err)
	store := &fullOnceFinder{PositionStore: f.positions}
	svc := New(store, f.members, tiers)

	referrer := ownerN(0)
	p, err := svc.PlaceUnder(testContext(), ownerN(1), "basic", &referrer)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Attempts)
	assert.Equal(t, root.ID, *p.Position.ParentID)
	assert.Equal(t, int32(2), store.searches.Load())
}
