// Package events publishes PositionPlaced notifications for downstream commission
// processing. Delivery is best effort: a placement is never undone because its event
// could not be published.
package events

import (
	"context"
	"time"

	"matrix/internal/matrix/models"
	id "matrix/pkg/domain"
)

// PositionPlaced is emitted once per successful placement.
type PositionPlaced struct {
	PositionID   id.PositionID   `json:"position_id"`
	OwnerID      id.OwnerID      `json:"owner_id"`
	ParentID     *id.PositionID  `json:"parent_id,omitempty"`
	RootID       id.PositionID   `json:"root_id"`
	TierID       id.TierID       `json:"tier_id"`
	Depth        int             `json:"depth"`
	SlotIndex    int             `json:"slot_index"`
	ReadablePath string          `json:"readable_path"`
	Upline       []id.PositionID `json:"upline"`
	Root         bool            `json:"root"`
	Spillover    bool            `json:"spillover"`
	Attempts     int             `json:"attempts"`
	RequestID    string          `json:"request_id,omitempty"`
	PlacedAt     time.Time       `json:"placed_at"`
}

// NewPositionPlaced builds the event for pos. Upline lists ancestors nearest first.
func NewPositionPlaced(pos *models.Position, spillover bool, attempts int, requestID string, now time.Time) PositionPlaced {
	ancestors := pos.Ancestors()
	upline := make([]id.PositionID, 0, len(ancestors))
	for i := len(ancestors) - 1; i >= 0; i-- {
		upline = append(upline, ancestors[i])
	}
	return PositionPlaced{
		PositionID:   pos.ID,
		OwnerID:      pos.OwnerID,
		ParentID:     pos.ParentID,
		RootID:       pos.RootID,
		TierID:       pos.TierID,
		Depth:        pos.Depth,
		SlotIndex:    pos.SlotIndex,
		ReadablePath: pos.ReadablePath(),
		Upline:       upline,
		Root:         pos.IsRoot(),
		Spillover:    spillover,
		Attempts:     attempts,
		RequestID:    requestID,
		PlacedAt:     now,
	}
}

// Publisher delivers PositionPlaced events.
type Publisher interface {
	Publish(ctx context.Context, event PositionPlaced) error
}
