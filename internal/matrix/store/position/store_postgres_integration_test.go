//go:build integration

package position_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"matrix/internal/matrix/models"
	"matrix/internal/matrix/store/position"
	id "matrix/pkg/domain"
	"matrix/pkg/platform/sentinel"
	"matrix/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *position.PostgresStore
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = position.NewPostgres(s.postgres.DB)
	s.ctx = context.Background()
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "matrix_positions"))
}

var binary = models.Tier{ID: "basic", Capacity: 2}

func newOwner() id.OwnerID {
	return id.OwnerID(id.NewPositionID())
}

func (s *PostgresStoreSuite) createRoot() *models.Position {
	pos, err := models.NewRootPosition(id.NewPositionID(), newOwner(), binary, time.Now())
	s.Require().NoError(err)
	created, err := s.store.Create(s.ctx, pos)
	s.Require().NoError(err)
	return created
}

func (s *PostgresStoreSuite) newChild(parent *models.Position, slot int) *models.Position {
	pos, err := models.NewChildPosition(id.NewPositionID(), newOwner(), binary, parent, slot, time.Now())
	s.Require().NoError(err)
	return pos
}

func (s *PostgresStoreSuite) TestCreateAndRead() {
	root := s.createRoot()
	s.Equal(0, root.SlotIndex)
	s.Equal([]id.PositionID{root.ID}, root.Lineage)

	child, err := s.store.Create(s.ctx, s.newChild(root, 1))
	s.Require().NoError(err)
	s.Equal("0.1", child.ReadablePath())
	s.Equal(root.ID, *child.ParentID)
	s.Equal(root.ID, child.RootID)
	s.Equal([]id.PositionID{root.ID, child.ID}, child.Lineage)

	got, err := s.store.Get(s.ctx, root.ID)
	s.Require().NoError(err)
	s.Equal(1, got.ChildCount)

	byOwner, err := s.store.GetByOwner(s.ctx, child.OwnerID)
	s.Require().NoError(err)
	s.Equal(child.ID, byOwner.ID)

	_, err = s.store.Get(s.ctx, id.NewPositionID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestRootOrdinals() {
	first := s.createRoot()
	second := s.createRoot()
	s.Equal(0, first.SlotIndex)
	s.Equal(1, second.SlotIndex)

	roots, err := s.store.ListRoots(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.Len(roots, 2)
}

func (s *PostgresStoreSuite) TestConstraintTranslation() {
	root := s.createRoot()
	_, err := s.store.Create(s.ctx, s.newChild(root, 0))
	s.Require().NoError(err)

	_, err = s.store.Create(s.ctx, s.newChild(root, 0))
	s.ErrorIs(err, models.ErrDuplicateSlot)

	got, err := s.store.Get(s.ctx, root.ID)
	s.Require().NoError(err)
	s.Equal(1, got.ChildCount, "rolled back insert must not keep the increment")

	dup, err := models.NewRootPosition(id.NewPositionID(), root.OwnerID, binary, time.Now())
	s.Require().NoError(err)
	_, err = s.store.Create(s.ctx, dup)
	s.ErrorIs(err, models.ErrDuplicateOwner)

	_, err = s.store.Create(s.ctx, s.newChild(root, 1))
	s.Require().NoError(err)
	_, err = s.store.Create(s.ctx, s.newChild(root, 1))
	s.ErrorIs(err, models.ErrCapacityExceeded)
}

func (s *PostgresStoreSuite) TestIncrementChildCount() {
	root := s.createRoot()
	for want := 1; want <= 2; want++ {
		n, err := s.store.IncrementChildCount(s.ctx, root.ID)
		s.Require().NoError(err)
		s.Equal(want, n)
	}
	_, err := s.store.IncrementChildCount(s.ctx, root.ID)
	s.ErrorIs(err, models.ErrCapacityExceeded)
	_, err = s.store.IncrementChildCount(s.ctx, id.NewPositionID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// Builds a full binary tree of height 2 and checks the indexed aggregate queries.
func (s *PostgresStoreSuite) TestAggregatesAndBreadthFirstOpenSlot() {
	root := s.createRoot()
	var level1 []*models.Position
	for slot := range 2 {
		child, err := s.store.Create(s.ctx, s.newChild(root, slot))
		s.Require().NoError(err)
		level1 = append(level1, child)
	}
	right, err := s.store.Create(s.ctx, s.newChild(level1[1], 0))
	s.Require().NoError(err)

	open, err := s.store.FindFirstOpen(s.ctx, root)
	s.Require().NoError(err)
	s.Equal(level1[0].ID, open.ID, "left child precedes right child in BFS order")

	count, err := s.store.CountDescendants(s.ctx, root.ID)
	s.Require().NoError(err)
	s.Equal(3, count)

	levels, err := s.store.LevelCounts(s.ctx, root, 5)
	s.Require().NoError(err)
	s.Equal([]int{2, 1}, levels)

	depth, err := s.store.SubtreeDepth(s.ctx, root)
	s.Require().NoError(err)
	s.Equal(2, depth)
	depth, err = s.store.SubtreeDepth(s.ctx, right)
	s.Require().NoError(err)
	s.Zero(depth)

	children, err := s.store.ListChildren(s.ctx, root.ID)
	s.Require().NoError(err)
	s.Require().Len(children, 2)
	s.Equal(0, children[0].SlotIndex)

	upline, err := s.store.GetMany(s.ctx, right.Ancestors())
	s.Require().NoError(err)
	s.Require().Len(upline, 2)
	s.Equal(root.ID, upline[0].ID)
	s.Equal(level1[1].ID, upline[1].ID)
}

func (s *PostgresStoreSuite) TestSubtreeDepthIsUncapped() {
	parent := s.createRoot()
	root := parent
	for range 12 {
		child, err := s.store.Create(s.ctx, s.newChild(parent, 0))
		s.Require().NoError(err)
		parent = child
	}

	depth, err := s.store.SubtreeDepth(s.ctx, root)
	s.Require().NoError(err)
	s.Equal(12, depth)
}

// A start whose count is full but has no child rows simulates a subtree that
// filled up between the caller's read and the search.
func (s *PostgresStoreSuite) TestFindFirstOpenInFullSubtree() {
	root := s.createRoot()
	for range 2 {
		_, err := s.store.IncrementChildCount(s.ctx, root.ID)
		s.Require().NoError(err)
	}
	full, err := s.store.Get(s.ctx, root.ID)
	s.Require().NoError(err)

	_, err = s.store.FindFirstOpen(s.ctx, full)
	s.ErrorIs(err, models.ErrCapacityExceeded)
	s.NotErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestCreateChildRejectsFullAndMissingParent() {
	root := s.createRoot()
	for range 2 {
		_, err := s.store.IncrementChildCount(s.ctx, root.ID)
		s.Require().NoError(err)
	}
	_, err := s.store.Create(s.ctx, s.newChild(root, 0))
	s.ErrorIs(err, models.ErrCapacityExceeded)

	orphan := s.newChild(root, 0)
	missing := id.NewPositionID()
	orphan.ParentID = &missing
	_, err = s.store.Create(s.ctx, orphan)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestConcurrentCreatesNeverOverfill() {
	root := s.createRoot()
	const goroutines = 20

	candidates := make([]*models.Position, goroutines)
	for i := range candidates {
		candidates[i] = s.newChild(root, i%2)
	}

	var wg sync.WaitGroup
	var created, rejected atomic.Int32
	for _, pos := range candidates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Create(s.ctx, pos)
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, models.ErrCapacityExceeded), errors.Is(err, models.ErrDuplicateSlot):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(2), created.Load())
	s.Equal(int32(goroutines-2), rejected.Load())

	got, err := s.store.Get(s.ctx, root.ID)
	s.Require().NoError(err)
	s.Equal(2, got.ChildCount)
}
