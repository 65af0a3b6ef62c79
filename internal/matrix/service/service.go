// Package service implements matrix placement, tree queries and referral resolution
// over a position store.
//
// The store's conditional child-count increment is the only serialization point for
// placement: the breadth-first search for an open slot is optimistic, and a placement
// that loses a race for a slot re-runs the search against fresh reads.
package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"matrix/internal/matrix/events"
	"matrix/internal/matrix/metrics"
	"matrix/internal/matrix/models"
	id "matrix/pkg/domain"
)

// PositionStore is the canonical store of positions.
type PositionStore interface {
	// Create inserts a position. For a child it atomically increments the parent's
	// childCount (only while below capacity) and inserts the child.
	Create(ctx context.Context, pos *models.Position) (*models.Position, error)
	Get(ctx context.Context, positionID id.PositionID) (*models.Position, error)
	GetByOwner(ctx context.Context, ownerID id.OwnerID) (*models.Position, error)
	GetMany(ctx context.Context, positionIDs []id.PositionID) ([]*models.Position, error)
	IncrementChildCount(ctx context.Context, parentID id.PositionID) (int, error)
	ListChildren(ctx context.Context, parentID id.PositionID) ([]*models.Position, error)
	ListRoots(ctx context.Context, offset, limit int) ([]*models.Position, error)
}

// OpenSlotFinder is an optional PositionStore capability: answer the breadth-first
// open-slot search in one query.
type OpenSlotFinder interface {
	FindFirstOpen(ctx context.Context, start *models.Position) (*models.Position, error)
}

// SubtreeAggregator is an optional PositionStore capability for indexed subtree counts.
type SubtreeAggregator interface {
	CountDescendants(ctx context.Context, positionID id.PositionID) (int, error)
	LevelCounts(ctx context.Context, start *models.Position, maxDepth int) ([]int, error)
	// SubtreeDepth is the deepest relative depth below start, uncapped.
	SubtreeDepth(ctx context.Context, start *models.Position) (int, error)
}

// MemberDirectory resolves referral tokens to members.
type MemberDirectory interface {
	FindByToken(ctx context.Context, token string) (*models.Member, error)
	Upsert(ctx context.Context, m *models.Member) (*models.Member, error)
	Get(ctx context.Context, ownerID id.OwnerID) (*models.Member, error)
}

// CountCache caches descendant counts. Each position carries a generation that
// Invalidate advances; SetDescendantCount stores only when the generation still
// matches the one returned by the preceding GetDescendantCount, so a count computed
// before an invalidation is never written over it.
type CountCache interface {
	GetDescendantCount(ctx context.Context, positionID id.PositionID) (count int, generation int64, ok bool, err error)
	SetDescendantCount(ctx context.Context, positionID id.PositionID, count int, generation int64) error
	Invalidate(ctx context.Context, positionIDs ...id.PositionID) error
}

// EventPublisher delivers PositionPlaced events.
type EventPublisher interface {
	Publish(ctx context.Context, event events.PositionPlaced) error
}

// OrphanPolicy decides what happens when a referral does not resolve.
type OrphanPolicy string

const (
	// OrphanPolicyRoot places the member as a new root.
	OrphanPolicyRoot OrphanPolicy = "root"
	// OrphanPolicyReject fails placement when a referral was supplied but did not resolve.
	OrphanPolicyReject OrphanPolicy = "reject"
)

const (
	defaultMaxAttempts      = 8
	defaultMaxDownlineDepth = 10
)

// Service is the matrix engine.
type Service struct {
	positions PositionStore
	members   MemberDirectory
	tiers     *models.TierCatalog
	cache     CountCache
	publisher EventPublisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	maxAttempts      int
	maxDownlineDepth int
	orphanPolicy     OrphanPolicy
	newID            func() id.PositionID

	countFlight singleflight.Group
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithCountCache(cache CountCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

func WithPublisher(publisher EventPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithMaxAttempts bounds store attempts per placement.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithMaxDownlineDepth caps the depth used when callers do not pass one.
func WithMaxDownlineDepth(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxDownlineDepth = n
		}
	}
}

func WithOrphanPolicy(policy OrphanPolicy) Option {
	return func(s *Service) {
		if policy == OrphanPolicyRoot || policy == OrphanPolicyReject {
			s.orphanPolicy = policy
		}
	}
}

// WithIDGenerator replaces the position id source; tests use it for stable ids.
func WithIDGenerator(fn func() id.PositionID) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New constructs a Service.
func New(positions PositionStore, members MemberDirectory, tiers *models.TierCatalog, opts ...Option) *Service {
	s := &Service{
		positions:        positions,
		members:          members,
		tiers:            tiers,
		logger:           slog.New(slog.DiscardHandler),
		tracer:           otel.Tracer("matrix"),
		maxAttempts:      defaultMaxAttempts,
		maxDownlineDepth: defaultMaxDownlineDepth,
		orphanPolicy:     OrphanPolicyRoot,
		newID:            id.NewPositionID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxDownlineDepth is the default depth bound for downline queries.
func (s *Service) MaxDownlineDepth() int {
	return s.maxDownlineDepth
}

// Tiers exposes the tier catalog.
func (s *Service) Tiers() []models.Tier {
	return s.tiers.Tiers()
}

func (s *Service) observeQuery(operation string, start time.Time) {
	s.metrics.ObserveQueryLatency(operation, time.Since(start))
}
