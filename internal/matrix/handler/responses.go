package handler

import (
	"time"

	"matrix/internal/matrix/models"
	"matrix/internal/matrix/service"
	id "matrix/pkg/domain"
)

// PositionResponse is the wire view of a position. ReadablePath is derived here.
type PositionResponse struct {
	ID           id.PositionID  `json:"id"`
	OwnerID      id.OwnerID     `json:"owner_id"`
	TierID       id.TierID      `json:"tier_id"`
	ParentID     *id.PositionID `json:"parent_id"`
	RootID       id.PositionID  `json:"root_id"`
	Depth        int            `json:"depth"`
	SlotIndex    int            `json:"slot_index"`
	Capacity     int            `json:"capacity"`
	ChildCount   int            `json:"child_count"`
	FillRatio    float64        `json:"fill_ratio"`
	ReadablePath string         `json:"readable_path"`
	CreatedAt    time.Time      `json:"created_at"`
}

func toPositionResponse(p *models.Position) PositionResponse {
	return PositionResponse{
		ID:           p.ID,
		OwnerID:      p.OwnerID,
		TierID:       p.TierID,
		ParentID:     p.ParentID,
		RootID:       p.RootID,
		Depth:        p.Depth,
		SlotIndex:    p.SlotIndex,
		Capacity:     p.Capacity,
		ChildCount:   p.ChildCount,
		FillRatio:    p.FillRatio(),
		ReadablePath: p.ReadablePath(),
		CreatedAt:    p.CreatedAt,
	}
}

func toPositionList(positions []*models.Position) []PositionResponse {
	out := make([]PositionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, toPositionResponse(p))
	}
	return out
}

type PlacementResponse struct {
	Position   PositionResponse `json:"position"`
	ReferrerID *id.PositionID   `json:"referrer_position_id,omitempty"`
	Spillover  bool             `json:"spillover"`
	Attempts   int              `json:"attempts"`
}

func toPlacementResponse(p *service.Placement) PlacementResponse {
	resp := PlacementResponse{
		Position:  toPositionResponse(p.Position),
		Spillover: p.Spillover,
		Attempts:  p.Attempts,
	}
	if p.Referrer != nil {
		referrerID := p.Referrer.ID
		resp.ReferrerID = &referrerID
	}
	return resp
}

type PositionListResponse struct {
	Positions []PositionResponse `json:"positions"`
}

type TreeResponse struct {
	Position  PositionResponse `json:"position"`
	Children  []TreeResponse   `json:"children,omitempty"`
	Truncated bool             `json:"truncated,omitempty"`
}

func toTreeResponse(n *models.TreeNode) TreeResponse {
	resp := TreeResponse{
		Position:  toPositionResponse(n.Position),
		Truncated: n.Truncated,
	}
	for _, child := range n.Children {
		resp.Children = append(resp.Children, toTreeResponse(child))
	}
	return resp
}

type DownlineResponse struct {
	MaxDepth int          `json:"max_depth"`
	Size     int          `json:"size"`
	Tree     TreeResponse `json:"tree"`
}

type StatsResponse struct {
	PositionID      id.PositionID `json:"position_id"`
	ReadablePath    string        `json:"readable_path"`
	UplineLength    int           `json:"upline_length"`
	DescendantCount int           `json:"descendant_count"`
	FillRatio       float64       `json:"fill_ratio"`
	LevelCounts     []int         `json:"level_counts"`
	SubtreeDepth    int           `json:"subtree_depth"`
}

func toStatsResponse(s *models.Summary) StatsResponse {
	levels := s.LevelCounts
	if levels == nil {
		levels = []int{}
	}
	return StatsResponse{
		PositionID:      s.Position.ID,
		ReadablePath:    s.ReadablePath,
		UplineLength:    s.UplineLength,
		DescendantCount: s.DescendantCount,
		FillRatio:       s.FillRatio,
		LevelCounts:     levels,
		SubtreeDepth:    s.SubtreeDepth,
	}
}

type TiersResponse struct {
	Tiers []models.Tier `json:"tiers"`
}
