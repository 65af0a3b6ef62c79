package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"matrix/internal/matrix/events"
	"matrix/internal/matrix/models"
	id "matrix/pkg/domain"
	dErrors "matrix/pkg/domain-errors"
	"matrix/pkg/platform/sentinel"
	"matrix/pkg/requestcontext"
)

// PlaceRequest is the registration-time placement input. ReferralToken is the raw
// token from the registration link and may be empty.
type PlaceRequest struct {
	OwnerID       id.OwnerID
	TierID        id.TierID
	ReferralToken string
}

// Placement is the outcome of a successful place.
type Placement struct {
	Position *models.Position
	// Referrer is the referrer's own position; nil for root placements.
	Referrer *models.Position
	// Spillover is set when the new position is not a direct child of Referrer.
	Spillover bool
	Attempts  int
}

// Place resolves the referral token and places the owner.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (*Placement, error) {
	referrer, err := s.Resolve(ctx, req.ReferralToken)
	if err != nil {
		return nil, err
	}
	if referrer == nil && req.ReferralToken != "" && s.orphanPolicy == OrphanPolicyReject {
		s.metrics.IncrementPlacement("referrer_rejected", "root")
		return nil, dErrors.Wrap(models.ErrReferrerRejected, dErrors.CodeValidation, "referral token does not match a member")
	}
	return s.PlaceUnder(ctx, req.OwnerID, req.TierID, referrer)
}

// PlaceUnder places ownerID breadth-first under the position of referrerOwnerID, or as
// a new root when there is no referrer or the referrer holds no position.
//
// Lost slot races are retried up to the configured attempt bound; exhaustion surfaces
// as CodeUnavailable wrapping models.ErrPlacementFailed. An owner that already holds
// a position is CodeConflict wrapping models.ErrDuplicateOwner, and an unknown tier is
// CodeValidation wrapping models.ErrInvalidTier.
func (s *Service) PlaceUnder(ctx context.Context, ownerID id.OwnerID, tierID id.TierID, referrerOwnerID *id.OwnerID) (*Placement, error) {
	start := time.Now()
	defer func() { s.metrics.ObservePlacementLatency(time.Since(start)) }()

	ctx, span := s.tracer.Start(ctx, "matrix.Place",
		trace.WithAttributes(
			attribute.String("matrix.owner_id", ownerID.String()),
			attribute.String("matrix.tier_id", string(tierID)),
		),
	)
	defer span.End()

	placement, err := s.place(ctx, ownerID, tierID, referrerOwnerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("matrix.position_id", placement.Position.ID.String()),
		attribute.Int("matrix.depth", placement.Position.Depth),
		attribute.Int("matrix.attempts", placement.Attempts),
	)
	s.afterPlacement(ctx, placement)
	return placement, nil
}

func (s *Service) place(ctx context.Context, ownerID id.OwnerID, tierID id.TierID, referrerOwnerID *id.OwnerID) (*Placement, error) {
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "owner_id is required")
	}
	tier, ok := s.tiers.Lookup(tierID)
	if !ok {
		s.metrics.IncrementPlacement("invalid_tier", "none")
		return nil, dErrors.Wrap(models.ErrInvalidTier, dErrors.CodeValidation, "unknown tier "+string(tierID))
	}

	if _, err := s.positions.GetByOwner(ctx, ownerID); err == nil {
		s.metrics.IncrementPlacement("duplicate_owner", "none")
		return nil, duplicateOwner()
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing position")
	}

	referrer, err := s.referrerPosition(ctx, referrerOwnerID)
	if err != nil {
		return nil, err
	}

	kind := "child"
	if referrer == nil {
		kind = "root"
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "placement cancelled")
		}

		var (
			created *models.Position
			err     error
		)
		if referrer == nil {
			created, err = s.tryPlaceRoot(ctx, ownerID, tier)
		} else {
			created, err = s.tryPlaceUnder(ctx, ownerID, tier, referrer.ID)
		}

		switch {
		case err == nil:
			s.metrics.IncrementPlacement("placed", kind)
			s.metrics.ObservePlacementAttempts(attempt)
			return &Placement{
				Position:  created,
				Referrer:  referrer,
				Spillover: referrer != nil && *created.ParentID != referrer.ID,
				Attempts:  attempt,
			}, nil
		case models.IsTransient(err):
			s.metrics.IncrementRetry(retryReason(err))
			s.logger.DebugContext(ctx, "placement race lost, retrying",
				"owner_id", ownerID.String(),
				"attempt", attempt,
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			continue
		case errors.Is(err, models.ErrDuplicateOwner):
			s.metrics.IncrementPlacement("duplicate_owner", kind)
			return nil, duplicateOwner()
		case dErrors.HasCode(err, dErrors.CodeTimeout):
			return nil, err
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "placement cancelled")
		default:
			s.metrics.IncrementPlacement("error", kind)
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create position")
		}
	}

	s.metrics.IncrementPlacement("exhausted", kind)
	s.logger.WarnContext(ctx, "placement retries exhausted",
		"owner_id", ownerID.String(),
		"attempts", s.maxAttempts,
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil, dErrors.Wrap(models.ErrPlacementFailed, dErrors.CodeUnavailable, "placement contention, retry registration")
}

// referrerPosition returns nil when there is no referrer or it holds no position.
func (s *Service) referrerPosition(ctx context.Context, referrerOwnerID *id.OwnerID) (*models.Position, error) {
	if referrerOwnerID == nil || referrerOwnerID.IsNil() {
		return nil, nil
	}
	referrer, err := s.positions.GetByOwner(ctx, *referrerOwnerID)
	if errors.Is(err, sentinel.ErrNotFound) {
		if s.orphanPolicy == OrphanPolicyReject {
			return nil, dErrors.Wrap(models.ErrReferrerRejected, dErrors.CodeValidation, "referrer holds no position")
		}
		s.logger.InfoContext(ctx, "referrer holds no position, placing as root",
			"referrer_owner_id", referrerOwnerID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load referrer position")
	}
	return referrer, nil
}

func (s *Service) tryPlaceRoot(ctx context.Context, ownerID id.OwnerID, tier models.Tier) (*models.Position, error) {
	pos, err := models.NewRootPosition(s.newID(), ownerID, tier, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	return s.positions.Create(ctx, pos)
}

// tryPlaceUnder runs one optimistic attempt: search from a fresh read of the referrer,
// pick the lowest free slot of the chosen parent, and let the store arbitrate.
func (s *Service) tryPlaceUnder(ctx context.Context, ownerID id.OwnerID, tier models.Tier, referrerID id.PositionID) (*models.Position, error) {
	start, err := s.positions.Get(ctx, referrerID)
	if err != nil {
		return nil, err
	}
	parent, err := s.findOpenParent(ctx, start)
	if err != nil {
		return nil, err
	}
	slot, err := s.lowestFreeSlot(ctx, parent)
	if err != nil {
		return nil, err
	}
	pos, err := models.NewChildPosition(s.newID(), ownerID, tier, parent, slot, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	return s.positions.Create(ctx, pos)
}

// findOpenParent returns the first position at or below start, breadth-first with
// children in slot order, whose childCount is below capacity.
func (s *Service) findOpenParent(ctx context.Context, start *models.Position) (*models.Position, error) {
	if finder, ok := s.positions.(OpenSlotFinder); ok {
		s.metrics.ObserveSearchVisited(1)
		return finder.FindFirstOpen(ctx, start)
	}

	queue := []*models.Position{start}
	visited := 0
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node := queue[0]
		queue = queue[1:]
		visited++
		if node.HasFreeSlot() {
			s.metrics.ObserveSearchVisited(visited)
			return node, nil
		}
		children, err := s.positions.ListChildren(ctx, node.ID)
		if err != nil {
			return nil, err
		}
		queue = append(queue, children...)
	}
	// Every subtree ends in leaves with free slots, so an empty queue means the
	// snapshot changed under us; report it as a lost race.
	s.metrics.ObserveSearchVisited(visited)
	return nil, models.ErrCapacityExceeded
}

// lowestFreeSlot returns the lowest slot index in [0, capacity) not taken by a child.
func (s *Service) lowestFreeSlot(ctx context.Context, parent *models.Position) (int, error) {
	children, err := s.positions.ListChildren(ctx, parent.ID)
	if err != nil {
		return 0, err
	}
	taken := make([]bool, parent.Capacity)
	for _, child := range children {
		if child.SlotIndex >= 0 && child.SlotIndex < parent.Capacity {
			taken[child.SlotIndex] = true
		}
	}
	for slot, occupied := range taken {
		if !occupied {
			return slot, nil
		}
	}
	return 0, models.ErrCapacityExceeded
}

// afterPlacement runs the best-effort side effects of a committed placement.
func (s *Service) afterPlacement(ctx context.Context, p *Placement) {
	pos := p.Position
	requestID := requestcontext.RequestID(ctx)

	if s.cache != nil && !pos.IsRoot() {
		if err := s.cache.Invalidate(ctx, pos.Ancestors()...); err != nil {
			s.logger.WarnContext(ctx, "failed to invalidate descendant counts",
				"position_id", pos.ID.String(),
				"error", err,
				"request_id", requestID,
			)
		}
	}

	if s.publisher != nil {
		event := events.NewPositionPlaced(pos, p.Spillover, p.Attempts, requestID, requestcontext.Now(ctx))
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.metrics.IncrementEventFailure("publish")
			s.logger.ErrorContext(ctx, "failed to publish position placed event",
				"position_id", pos.ID.String(),
				"error", err,
				"request_id", requestID,
			)
		}
	}

	s.logger.InfoContext(ctx, "position placed",
		"position_id", pos.ID.String(),
		"owner_id", pos.OwnerID.String(),
		"tier_id", string(pos.TierID),
		"depth", pos.Depth,
		"path", pos.ReadablePath(),
		"spillover", p.Spillover,
		"attempts", p.Attempts,
		"request_id", requestID,
	)
}

func duplicateOwner() error {
	return dErrors.Wrap(models.ErrDuplicateOwner, dErrors.CodeConflict, "owner already holds a matrix position")
}

func retryReason(err error) string {
	if errors.Is(err, models.ErrDuplicateSlot) {
		return "duplicate_slot"
	}
	return "capacity_exceeded"
}
