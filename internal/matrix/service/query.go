package service

import (
	"context"
	"errors"
	"iter"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"matrix/internal/matrix/models"
	id "matrix/pkg/domain"
	dErrors "matrix/pkg/domain-errors"
	"matrix/pkg/platform/sentinel"
	"matrix/pkg/requestcontext"
)

const (
	defaultRootPageSize = 50

	// countTimeout bounds a shared descendant count once it is detached from the
	// caller that started it.
	countTimeout = 30 * time.Second
)

// Get loads a position by id.
func (s *Service) Get(ctx context.Context, positionID id.PositionID) (*models.Position, error) {
	pos, err := s.positions.Get(ctx, positionID)
	if err != nil {
		return nil, translateLookup(err, "position not found", "failed to load position")
	}
	return pos, nil
}

// GetByOwner loads the position held by ownerID.
func (s *Service) GetByOwner(ctx context.Context, ownerID id.OwnerID) (*models.Position, error) {
	pos, err := s.positions.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, translateLookup(err, "owner holds no position", "failed to load position")
	}
	return pos, nil
}

// Upline returns the ancestors of positionID from the immediate parent to the root.
// Its length always equals the position's depth.
func (s *Service) Upline(ctx context.Context, positionID id.PositionID) ([]*models.Position, error) {
	defer s.observeQuery("upline", time.Now())
	ctx, span := s.startQuerySpan(ctx, "matrix.Upline", positionID)
	defer span.End()

	pos, err := s.Get(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if pos.IsRoot() {
		return []*models.Position{}, nil
	}

	ancestors, err := s.positions.GetMany(ctx, pos.Ancestors())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load upline")
	}
	slices.SortFunc(ancestors, func(a, b *models.Position) int { return b.Depth - a.Depth })

	if len(ancestors) != pos.Depth {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "upline length does not match depth")
	}
	child := pos
	for _, ancestor := range ancestors {
		if child.ParentID == nil || *child.ParentID != ancestor.ID || ancestor.Depth != child.Depth-1 {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "upline chain is broken")
		}
		child = ancestor
	}
	if !child.IsRoot() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "upline does not end at a root")
	}
	return ancestors, nil
}

// Downline yields the descendants of positionID lazily, depth-first pre-order with
// children in slot order. maxDepth bounds the relative depth; zero or less means no bound.
// A lookup failure is yielded once as the error and ends the sequence.
func (s *Service) Downline(ctx context.Context, positionID id.PositionID, maxDepth int) iter.Seq2[*models.Position, error] {
	return func(yield func(*models.Position, error) bool) {
		start, err := s.Get(ctx, positionID)
		if err != nil {
			yield(nil, err)
			return
		}

		type frame struct {
			pos   *models.Position
			level int
		}
		stack := []frame{{pos: start}}
		for len(stack) > 0 {
			if err := ctx.Err(); err != nil {
				yield(nil, dErrors.Wrap(err, dErrors.CodeTimeout, "downline cancelled"))
				return
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if top.level > 0 && !yield(top.pos, nil) {
				return
			}
			if top.pos.ChildCount == 0 || (maxDepth > 0 && top.level >= maxDepth) {
				continue
			}
			children, err := s.positions.ListChildren(ctx, top.pos.ID)
			if err != nil {
				yield(nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list children"))
				return
			}
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, frame{pos: children[i], level: top.level + 1})
			}
		}
	}
}

// Subtree materializes the tree under positionID down to maxDepth levels. Zero or a
// value above the configured cap selects the cap. Nodes whose children were cut off
// are marked Truncated.
func (s *Service) Subtree(ctx context.Context, positionID id.PositionID, maxDepth int) (*models.TreeNode, error) {
	defer s.observeQuery("subtree", time.Now())
	ctx, span := s.startQuerySpan(ctx, "matrix.Subtree", positionID)
	defer span.End()

	if maxDepth <= 0 || maxDepth > s.maxDownlineDepth {
		maxDepth = s.maxDownlineDepth
	}
	start, err := s.Get(ctx, positionID)
	if err != nil {
		return nil, err
	}

	root := &models.TreeNode{Position: start}
	nodes := map[id.PositionID]*models.TreeNode{start.ID: root}
	for pos, err := range s.Downline(ctx, positionID, maxDepth) {
		if err != nil {
			return nil, err
		}
		parent, ok := nodes[*pos.ParentID]
		if !ok {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "descendant visited before its parent")
		}
		node := &models.TreeNode{Position: pos}
		parent.Children = append(parent.Children, node)
		nodes[pos.ID] = node
	}

	root.Walk(func(n *models.TreeNode) bool {
		if n.Position.Depth-start.Depth >= maxDepth && n.Position.ChildCount > 0 {
			n.Truncated = true
		}
		return true
	})
	return root, nil
}

// ListChildren returns the direct children of positionID in slot order.
func (s *Service) ListChildren(ctx context.Context, positionID id.PositionID) ([]*models.Position, error) {
	if _, err := s.Get(ctx, positionID); err != nil {
		return nil, err
	}
	children, err := s.positions.ListChildren(ctx, positionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list children")
	}
	return children, nil
}

// ListRoots pages through root positions in ordinal order.
func (s *Service) ListRoots(ctx context.Context, offset, limit int) ([]*models.Position, error) {
	if limit <= 0 {
		limit = defaultRootPageSize
	}
	roots, err := s.positions.ListRoots(ctx, max(offset, 0), limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list roots")
	}
	return roots, nil
}

// CountDescendants returns the subtree size excluding positionID. Results are served
// from the count cache when one is configured; concurrent misses share one computation.
func (s *Service) CountDescendants(ctx context.Context, positionID id.PositionID) (int, error) {
	defer s.observeQuery("count_descendants", time.Now())
	ctx, span := s.startQuerySpan(ctx, "matrix.CountDescendants", positionID)
	defer span.End()

	pos, err := s.Get(ctx, positionID)
	if err != nil {
		return 0, err
	}
	if pos.ChildCount == 0 {
		return 0, nil
	}

	var (
		generation int64
		storable   bool
	)
	if s.cache != nil {
		count, gen, ok, err := s.cache.GetDescendantCount(ctx, positionID)
		switch {
		case err != nil:
			s.metrics.IncrementCacheLookup("error")
			s.logger.WarnContext(ctx, "descendant count cache read failed",
				"position_id", positionID.String(),
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		case ok:
			s.metrics.IncrementCacheLookup("hit")
			return count, nil
		default:
			s.metrics.IncrementCacheLookup("miss")
			generation, storable = gen, true
		}
	}

	// The shared computation runs detached from the caller that started it, so a
	// cancelled leader does not fail the callers waiting on the same key.
	result := s.countFlight.DoChan(positionID.String(), func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), countTimeout)
		defer cancel()

		count, err := s.countDescendants(fctx, pos)
		if err != nil {
			return 0, err
		}
		if storable {
			if err := s.cache.SetDescendantCount(fctx, positionID, count, generation); err != nil {
				s.logger.WarnContext(fctx, "descendant count cache write failed",
					"position_id", positionID.String(),
					"error", err,
					"request_id", requestcontext.RequestID(fctx),
				)
			}
		}
		return count, nil
	})

	select {
	case <-ctx.Done():
		return 0, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "count descendants cancelled")
	case res := <-result:
		if res.Err != nil {
			return 0, dErrors.Wrap(res.Err, dErrors.CodeInternal, "failed to count descendants")
		}
		return res.Val.(int), nil
	}
}

func (s *Service) countDescendants(ctx context.Context, pos *models.Position) (int, error) {
	if agg, ok := s.positions.(SubtreeAggregator); ok {
		return agg.CountDescendants(ctx, pos.ID)
	}
	count := 0
	for _, err := range s.Downline(ctx, pos.ID, 0) {
		if err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

// SubtreeDepth returns how many levels lie below positionID. Unlike LevelCounts it is
// not bounded by the downline depth cap.
func (s *Service) SubtreeDepth(ctx context.Context, positionID id.PositionID) (int, error) {
	defer s.observeQuery("subtree_depth", time.Now())
	ctx, span := s.startQuerySpan(ctx, "matrix.SubtreeDepth", positionID)
	defer span.End()

	pos, err := s.Get(ctx, positionID)
	if err != nil {
		return 0, err
	}
	if pos.ChildCount == 0 {
		return 0, nil
	}
	if agg, ok := s.positions.(SubtreeAggregator); ok {
		depth, err := agg.SubtreeDepth(ctx, pos)
		if err != nil {
			return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to measure subtree depth")
		}
		return depth, nil
	}

	depth := 0
	for descendant, err := range s.Downline(ctx, pos.ID, 0) {
		if err != nil {
			return 0, err
		}
		depth = max(depth, descendant.Depth-pos.Depth)
	}
	return depth, nil
}

// FillRatio is childCount / capacity of positionID, always in [0, 1].
func (s *Service) FillRatio(ctx context.Context, positionID id.PositionID) (float64, error) {
	pos, err := s.Get(ctx, positionID)
	if err != nil {
		return 0, err
	}
	return pos.FillRatio(), nil
}

// LevelCounts returns the number of descendants at each relative depth 1..maxDepth,
// with trailing empty levels dropped. maxDepth follows the Subtree cap rules.
func (s *Service) LevelCounts(ctx context.Context, positionID id.PositionID, maxDepth int) ([]int, error) {
	defer s.observeQuery("level_counts", time.Now())
	ctx, span := s.startQuerySpan(ctx, "matrix.LevelCounts", positionID)
	defer span.End()

	if maxDepth <= 0 || maxDepth > s.maxDownlineDepth {
		maxDepth = s.maxDownlineDepth
	}
	pos, err := s.Get(ctx, positionID)
	if err != nil {
		return nil, err
	}

	var counts []int
	if agg, ok := s.positions.(SubtreeAggregator); ok {
		counts, err = agg.LevelCounts(ctx, pos, maxDepth)
	} else {
		counts, err = s.levelCountsByTraversal(ctx, pos, maxDepth)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count levels")
	}
	return counts, nil
}

func (s *Service) levelCountsByTraversal(ctx context.Context, start *models.Position, maxDepth int) ([]int, error) {
	counts := []int{}
	level := []*models.Position{start}
	for depth := 1; depth <= maxDepth; depth++ {
		var next []*models.Position
		for _, pos := range level {
			if pos.ChildCount == 0 {
				continue
			}
			children, err := s.positions.ListChildren(ctx, pos.ID)
			if err != nil {
				return nil, err
			}
			next = append(next, children...)
		}
		if len(next) == 0 {
			break
		}
		counts = append(counts, len(next))
		level = next
	}
	return counts, nil
}

func (s *Service) startQuerySpan(ctx context.Context, name string, positionID id.PositionID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("matrix.position_id", positionID.String()),
	))
}

func translateLookup(err error, notFound, internal string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, notFound)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, internal)
}
