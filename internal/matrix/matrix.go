// Package matrix wires the placement engine and its HTTP boundary.
package matrix

import (
	"log/slog"

	"matrix/internal/matrix/handler"
	"matrix/internal/matrix/models"
	"matrix/internal/matrix/service"
	authmw "matrix/pkg/platform/middleware/auth"
)

// Service places members and answers genealogy queries.
type Service = service.Service

// Handler wires HTTP endpoints to the matrix service.
type Handler = handler.Handler

// NewService constructs the matrix service with required dependencies.
func NewService(positions service.PositionStore, members service.MemberDirectory, tiers *models.TierCatalog, opts ...service.Option) *Service {
	return service.New(positions, members, tiers, opts...)
}

// NewHandler constructs the HTTP handler for the /matrix routes.
func NewHandler(s *Service, logger *slog.Logger, tokens authmw.TokenValidator, opts ...handler.Option) *Handler {
	return handler.New(s, logger, tokens, opts...)
}
