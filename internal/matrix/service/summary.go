package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"matrix/internal/matrix/models"
	id "matrix/pkg/domain"
)

// Summary gathers the team statistics of positionID concurrently.
func (s *Service) Summary(ctx context.Context, positionID id.PositionID) (*models.Summary, error) {
	defer s.observeQuery("summary", time.Now())

	pos, err := s.Get(ctx, positionID)
	if err != nil {
		return nil, err
	}

	var (
		descendants int
		levels      []int
		depth       int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		descendants, err = s.CountDescendants(gctx, positionID)
		return err
	})
	g.Go(func() error {
		var err error
		levels, err = s.LevelCounts(gctx, positionID, s.maxDownlineDepth)
		return err
	})
	g.Go(func() error {
		var err error
		depth, err = s.SubtreeDepth(gctx, positionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &models.Summary{
		Position:        pos,
		ReadablePath:    pos.ReadablePath(),
		UplineLength:    pos.Depth,
		DescendantCount: descendants,
		FillRatio:       pos.FillRatio(),
		LevelCounts:     levels,
		SubtreeDepth:    depth,
	}, nil
}
