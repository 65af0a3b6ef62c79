package models

import (
	"strconv"
	"strings"
	"time"

	id "matrix/pkg/domain"
	dErrors "matrix/pkg/domain-errors"
)

// Position is a node of the placement tree, one per member.
//
// Invariants:
//   - ParentID is nil exactly when Depth is 0; it is never reassigned
//   - Depth == parent.Depth + 1 for non-root positions
//   - SlotIndex is in [0, parent.Capacity) and unique among the parent's children;
//     for roots it is the root ordinal, unique among roots
//   - 0 <= ChildCount <= Capacity, and ChildCount never decreases
//   - Path and Lineage both have Depth+1 entries and end with this position
//
// ChildCount is mutated only by the position store while inserting a child.
type Position struct {
	ID         id.PositionID  `json:"id"`
	OwnerID    id.OwnerID     `json:"owner_id"`
	TierID     id.TierID      `json:"tier_id"`
	ParentID   *id.PositionID `json:"parent_id"`
	RootID     id.PositionID  `json:"root_id"`
	Depth      int            `json:"depth"`
	SlotIndex  int            `json:"slot_index"`
	Capacity   int            `json:"capacity"`
	ChildCount int            `json:"child_count"`
	// Path holds the slot indices from the root down to this position; the first
	// entry is the root ordinal.
	Path []int `json:"path"`
	// Lineage holds the position ids from the root down to this position.
	Lineage   []id.PositionID `json:"lineage"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewRootPosition builds an unsponsored position. The store assigns SlotIndex (the root
// ordinal) and Path on insert.
func NewRootPosition(positionID id.PositionID, ownerID id.OwnerID, tier Tier, now time.Time) (*Position, error) {
	if err := validateNew(positionID, ownerID, tier); err != nil {
		return nil, err
	}
	return &Position{
		ID:        positionID,
		OwnerID:   ownerID,
		TierID:    tier.ID,
		RootID:    positionID,
		Depth:     0,
		Capacity:  tier.Capacity,
		Path:      []int{0},
		Lineage:   []id.PositionID{positionID},
		CreatedAt: now,
	}, nil
}

// NewChildPosition builds a position under parent at slot.
func NewChildPosition(positionID id.PositionID, ownerID id.OwnerID, tier Tier, parent *Position, slot int, now time.Time) (*Position, error) {
	if err := validateNew(positionID, ownerID, tier); err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "child position requires a parent")
	}
	if slot < 0 || slot >= parent.Capacity {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "slot index outside parent capacity")
	}

	parentID := parent.ID
	path := make([]int, 0, len(parent.Path)+1)
	path = append(append(path, parent.Path...), slot)
	lineage := make([]id.PositionID, 0, len(parent.Lineage)+1)
	lineage = append(append(lineage, parent.Lineage...), positionID)

	return &Position{
		ID:        positionID,
		OwnerID:   ownerID,
		TierID:    tier.ID,
		ParentID:  &parentID,
		RootID:    parent.RootID,
		Depth:     parent.Depth + 1,
		SlotIndex: slot,
		Capacity:  tier.Capacity,
		Path:      path,
		Lineage:   lineage,
		CreatedAt: now,
	}, nil
}

func validateNew(positionID id.PositionID, ownerID id.OwnerID, tier Tier) error {
	if positionID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "position id is required")
	}
	if ownerID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "owner id is required")
	}
	if tier.Capacity < 1 {
		return dErrors.New(dErrors.CodeInvariantViolation, "tier capacity must be at least 1")
	}
	return nil
}

func (p *Position) IsRoot() bool {
	return p.ParentID == nil
}

func (p *Position) HasFreeSlot() bool {
	return p.ChildCount < p.Capacity
}

// FillRatio is ChildCount / Capacity.
func (p *Position) FillRatio() float64 {
	if p.Capacity <= 0 {
		return 0
	}
	return float64(p.ChildCount) / float64(p.Capacity)
}

// ReadablePath renders Path dot-joined, e.g. "1.2.0".
func (p *Position) ReadablePath() string {
	return FormatPath(p.Path)
}

// Ancestors returns the lineage above this position, root first.
func (p *Position) Ancestors() []id.PositionID {
	if len(p.Lineage) == 0 {
		return nil
	}
	return p.Lineage[:len(p.Lineage)-1]
}

// Clone returns a deep copy so stores never share slices with callers.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	out := *p
	if p.ParentID != nil {
		parentID := *p.ParentID
		out.ParentID = &parentID
	}
	out.Path = append([]int(nil), p.Path...)
	out.Lineage = append([]id.PositionID(nil), p.Lineage...)
	return &out
}

// FormatPath dot-joins slot indices.
func FormatPath(path []int) string {
	parts := make([]string, len(path))
	for i, slot := range path {
		parts[i] = strconv.Itoa(slot)
	}
	return strings.Join(parts, ".")
}

// ParsePath is the inverse of FormatPath.
func ParsePath(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "path is required")
	}
	parts := strings.Split(s, ".")
	path := make([]int, len(parts))
	for i, part := range parts {
		slot, err := strconv.Atoi(part)
		if err != nil || slot < 0 {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "path segments must be non-negative integers")
		}
		path[i] = slot
	}
	return path, nil
}
