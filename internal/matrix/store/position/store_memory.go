package position

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"matrix/internal/matrix/models"
	id "matrix/pkg/domain"
	dErrors "matrix/pkg/domain-errors"
	"matrix/pkg/platform/sentinel"
)

// InMemoryStore keeps the forest in maps guarded by one mutex. Create is a single
// critical section, so the parent increment and the child insert are never observed
// apart.
type InMemoryStore struct {
	mu       sync.RWMutex
	byID     map[id.PositionID]*models.Position
	byOwner  map[id.OwnerID]id.PositionID
	children map[id.PositionID]map[int]id.PositionID
	roots    []id.PositionID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byID:     make(map[id.PositionID]*models.Position),
		byOwner:  make(map[id.OwnerID]id.PositionID),
		children: make(map[id.PositionID]map[int]id.PositionID),
	}
}

// Create inserts pos. Roots get the next root ordinal as slot index. For children the
// parent's childCount is incremented only if it is below capacity.
func (s *InMemoryStore) Create(ctx context.Context, pos *models.Position) (*models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, fmt.Errorf("position is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byOwner[pos.OwnerID]; taken {
		return nil, models.ErrDuplicateOwner
	}
	if _, taken := s.byID[pos.ID]; taken {
		return nil, fmt.Errorf("position %s: %w", pos.ID, sentinel.ErrAlreadyUsed)
	}

	stored := pos.Clone()
	stored.ChildCount = 0

	if stored.IsRoot() {
		ordinal := len(s.roots)
		stored.SlotIndex = ordinal
		stored.Path = []int{ordinal}
		stored.RootID = stored.ID
		stored.Lineage = []id.PositionID{stored.ID}
		s.roots = append(s.roots, stored.ID)
	} else {
		parent, ok := s.byID[*stored.ParentID]
		if !ok {
			return nil, fmt.Errorf("parent %s: %w", stored.ParentID, sentinel.ErrNotFound)
		}
		if stored.Depth != parent.Depth+1 {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "child depth must be parent depth + 1")
		}
		if parent.ChildCount >= parent.Capacity {
			return nil, models.ErrCapacityExceeded
		}
		if stored.SlotIndex < 0 || stored.SlotIndex >= parent.Capacity {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "slot index outside parent capacity")
		}
		slots := s.children[parent.ID]
		if slots == nil {
			slots = make(map[int]id.PositionID, parent.Capacity)
			s.children[parent.ID] = slots
		}
		if _, occupied := slots[stored.SlotIndex]; occupied {
			return nil, models.ErrDuplicateSlot
		}
		parent.ChildCount++
		slots[stored.SlotIndex] = stored.ID
		stored.RootID = parent.RootID
		stored.Path = append(append([]int(nil), parent.Path...), stored.SlotIndex)
		stored.Lineage = append(append([]id.PositionID(nil), parent.Lineage...), stored.ID)
	}

	s.byID[stored.ID] = stored
	s.byOwner[stored.OwnerID] = stored.ID
	return stored.Clone(), nil
}

func (s *InMemoryStore) Get(_ context.Context, positionID id.PositionID) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.byID[positionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return pos.Clone(), nil
}

func (s *InMemoryStore) GetByOwner(_ context.Context, ownerID id.OwnerID) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positionID, ok := s.byOwner[ownerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.byID[positionID].Clone(), nil
}

// IncrementChildCount is the compare-and-swap increment: it succeeds only while
// childCount < capacity and returns the new count.
func (s *InMemoryStore) IncrementChildCount(_ context.Context, parentID id.PositionID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.byID[parentID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	if parent.ChildCount >= parent.Capacity {
		return 0, models.ErrCapacityExceeded
	}
	parent.ChildCount++
	return parent.ChildCount, nil
}

// ListChildren returns the direct children ordered by slot index.
func (s *InMemoryStore) ListChildren(_ context.Context, parentID id.PositionID) ([]*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slots := s.children[parentID]
	out := make([]*models.Position, 0, len(slots))
	for _, childID := range slots {
		out = append(out, s.byID[childID].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotIndex < out[j].SlotIndex })
	return out, nil
}

// ListRoots returns root positions in ordinal order, paginated.
func (s *InMemoryStore) ListRoots(_ context.Context, offset, limit int) ([]*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offset = max(offset, 0)
	if offset >= len(s.roots) {
		return []*models.Position{}, nil
	}
	end := len(s.roots)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*models.Position, 0, end-offset)
	for _, rootID := range s.roots[offset:end] {
		out = append(out, s.byID[rootID].Clone())
	}
	return out, nil
}

// Count returns the number of stored positions.
func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

// GetMany loads positions by id, ordered by depth. Missing ids are skipped.
func (s *InMemoryStore) GetMany(_ context.Context, positionIDs []id.PositionID) ([]*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Position, 0, len(positionIDs))
	for _, positionID := range positionIDs {
		if pos, ok := s.byID[positionID]; ok {
			out = append(out, pos.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Depth < out[j].Depth })
	return out, nil
}
