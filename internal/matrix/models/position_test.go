package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "matrix/pkg/domain"
	dErrors "matrix/pkg/domain-errors"
)

var (
	binary = Tier{ID: "basic", Capacity: 2}
	now    = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
)

func newOwner() id.OwnerID {
	return id.OwnerID(id.NewPositionID())
}

func TestNewRootPosition(t *testing.T) {
	root, err := NewRootPosition(id.NewPositionID(), newOwner(), binary, now)
	require.NoError(t, err)

	assert.True(t, root.IsRoot())
	assert.Equal(t, 0, root.Depth)
	assert.Equal(t, root.ID, root.RootID)
	assert.Equal(t, []id.PositionID{root.ID}, root.Lineage)
	assert.Empty(t, root.Ancestors())
	assert.True(t, root.HasFreeSlot())
}

func TestNewChildPosition(t *testing.T) {
	root, err := NewRootPosition(id.NewPositionID(), newOwner(), binary, now)
	require.NoError(t, err)
	root.Path = []int{4}

	child, err := NewChildPosition(id.NewPositionID(), newOwner(), binary, root, 1, now)
	require.NoError(t, err)

	assert.False(t, child.IsRoot())
	assert.Equal(t, root.ID, *child.ParentID)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, root.RootID, child.RootID)
	assert.Equal(t, "4.1", child.ReadablePath())
	assert.Equal(t, []id.PositionID{root.ID}, child.Ancestors())

	t.Run("parent path is not aliased", func(t *testing.T) {
		child.Path[0] = 9
		assert.Equal(t, []int{4}, root.Path)
	})
}

func TestNewChildPositionRejectsBadSlot(t *testing.T) {
	root, err := NewRootPosition(id.NewPositionID(), newOwner(), binary, now)
	require.NoError(t, err)

	for _, slot := range []int{-1, 2} {
		_, err := NewChildPosition(id.NewPositionID(), newOwner(), binary, root, slot, now)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	}
}

func TestNewPositionValidation(t *testing.T) {
	_, err := NewRootPosition(id.PositionID{}, newOwner(), binary, now)
	assert.Error(t, err)

	_, err = NewRootPosition(id.NewPositionID(), id.OwnerID{}, binary, now)
	assert.Error(t, err)

	_, err = NewRootPosition(id.NewPositionID(), newOwner(), Tier{ID: "x"}, now)
	assert.Error(t, err)
}

func TestFillRatio(t *testing.T) {
	p := &Position{Capacity: 3, ChildCount: 2}
	assert.InDelta(t, 2.0/3.0, p.FillRatio(), 1e-9)
	assert.Zero(t, (&Position{}).FillRatio())
}

func TestClone(t *testing.T) {
	parentID := id.NewPositionID()
	p := &Position{ParentID: &parentID, Path: []int{0, 1}, Lineage: []id.PositionID{parentID, id.NewPositionID()}}

	c := p.Clone()
	c.Path[1] = 7
	*c.ParentID = id.NewPositionID()

	assert.Equal(t, []int{0, 1}, p.Path)
	assert.Equal(t, parentID, *p.ParentID)
	assert.Nil(t, (*Position)(nil).Clone())
}

func TestPathRoundTrip(t *testing.T) {
	path, err := ParsePath("1.2.0")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 0}, path)
	assert.Equal(t, "1.2.0", FormatPath(path))

	for _, bad := range []string{"", "1..2", "a.b", "1.-1"} {
		_, err := ParsePath(bad)
		assert.Error(t, err, bad)
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrCapacityExceeded))
	assert.True(t, IsTransient(dErrors.Wrap(ErrDuplicateSlot, dErrors.CodeConflict, "slot taken")))
	assert.False(t, IsTransient(ErrDuplicateOwner))
}
