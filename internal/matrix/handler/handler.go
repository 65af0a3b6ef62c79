package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"matrix/internal/matrix/models"
	"matrix/internal/matrix/service"
	id "matrix/pkg/domain"
	dErrors "matrix/pkg/domain-errors"
	"matrix/pkg/platform/httputil"
	authmw "matrix/pkg/platform/middleware/auth"
	request "matrix/pkg/platform/middleware/request"
)

// Service defines the matrix operations exposed over HTTP.
type Service interface {
	Place(ctx context.Context, req service.PlaceRequest) (*service.Placement, error)
	Get(ctx context.Context, positionID id.PositionID) (*models.Position, error)
	GetByOwner(ctx context.Context, ownerID id.OwnerID) (*models.Position, error)
	Upline(ctx context.Context, positionID id.PositionID) ([]*models.Position, error)
	Subtree(ctx context.Context, positionID id.PositionID, maxDepth int) (*models.TreeNode, error)
	ListChildren(ctx context.Context, positionID id.PositionID) ([]*models.Position, error)
	ListRoots(ctx context.Context, offset, limit int) ([]*models.Position, error)
	Summary(ctx context.Context, positionID id.PositionID) (*models.Summary, error)
	UpsertMember(ctx context.Context, ownerID id.OwnerID, username, referralCode string) (*models.Member, error)
	GetMember(ctx context.Context, ownerID id.OwnerID) (*models.Member, error)
	MaxDownlineDepth() int
	Tiers() []models.Tier
}

// Handler serves the /matrix routes.
type Handler struct {
	matrix    Service
	logger    *slog.Logger
	tokens    authmw.TokenValidator
	writeMids []func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithWriteMiddleware runs mids on the write routes after the service token check.
func WithWriteMiddleware(mids ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.writeMids = append(h.writeMids, mids...)
	}
}

// New creates a Handler. Writes require a service token checked by tokens.
func New(matrix Service, logger *slog.Logger, tokens authmw.TokenValidator, opts ...Option) *Handler {
	h := &Handler{
		matrix: matrix,
		logger: logger,
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the matrix routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/matrix", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireServiceToken(h.tokens, h.logger))
			r.Use(h.writeMids...)
			r.Post("/placements", h.handlePlace)
			r.Put("/members", h.handleUpsertMember)
		})

		r.Get("/tiers", h.handleListTiers)
		r.Get("/roots", h.handleListRoots)
		r.Get("/members/{owner_id}", h.handleGetMember)
		r.Get("/owners/{owner_id}/position", h.handleGetByOwner)
		r.Get("/positions/{id}", h.handleGetPosition)
		r.Get("/positions/{id}/upline", h.handleUpline)
		r.Get("/positions/{id}/downline", h.handleDownline)
		r.Get("/positions/{id}/children", h.handleListChildren)
		r.Get("/positions/{id}/stats", h.handleStats)
	})
}

func (h *Handler) handlePlace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[PlaceRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	placement, err := h.matrix.Place(ctx, req.toService())
	if err != nil {
		h.writeError(ctx, w, "placement failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toPlacementResponse(placement))
}

func (h *Handler) handleUpsertMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[UpsertMemberRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	member, err := h.matrix.UpsertMember(ctx, req.ownerID, req.Username, req.ReferralCode)
	if err != nil {
		h.writeError(ctx, w, "member upsert failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, member)
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, err := id.ParseOwnerID(chi.URLParam(r, "owner_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	member, err := h.matrix.GetMember(ctx, ownerID)
	if err != nil {
		h.writeError(ctx, w, "member lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, member)
}

func (h *Handler) handleListTiers(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, TiersResponse{Tiers: h.matrix.Tiers()})
}

func (h *Handler) handleListRoots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	offset, err := queryInt(r, "offset")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	roots, err := h.matrix.ListRoots(ctx, offset, limit)
	if err != nil {
		h.writeError(ctx, w, "root listing failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PositionListResponse{Positions: toPositionList(roots)})
}

func (h *Handler) handleGetByOwner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, err := id.ParseOwnerID(chi.URLParam(r, "owner_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	pos, err := h.matrix.GetByOwner(ctx, ownerID)
	if err != nil {
		h.writeError(ctx, w, "position lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPositionResponse(pos))
}

func (h *Handler) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	positionID, ok := positionParam(w, r)
	if !ok {
		return
	}
	pos, err := h.matrix.Get(ctx, positionID)
	if err != nil {
		h.writeError(ctx, w, "position lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPositionResponse(pos))
}

func (h *Handler) handleUpline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	positionID, ok := positionParam(w, r)
	if !ok {
		return
	}
	upline, err := h.matrix.Upline(ctx, positionID)
	if err != nil {
		h.writeError(ctx, w, "upline lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PositionListResponse{Positions: toPositionList(upline)})
}

func (h *Handler) handleDownline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	positionID, ok := positionParam(w, r)
	if !ok {
		return
	}
	maxDepth, err := queryInt(r, "max_depth")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if maxDepth <= 0 || maxDepth > h.matrix.MaxDownlineDepth() {
		maxDepth = h.matrix.MaxDownlineDepth()
	}

	tree, err := h.matrix.Subtree(ctx, positionID, maxDepth)
	if err != nil {
		h.writeError(ctx, w, "downline lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DownlineResponse{
		MaxDepth: maxDepth,
		Size:     tree.Size() - 1,
		Tree:     toTreeResponse(tree),
	})
}

func (h *Handler) handleListChildren(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	positionID, ok := positionParam(w, r)
	if !ok {
		return
	}
	children, err := h.matrix.ListChildren(ctx, positionID)
	if err != nil {
		h.writeError(ctx, w, "children lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PositionListResponse{Positions: toPositionList(children)})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	positionID, ok := positionParam(w, r)
	if !ok {
		return
	}
	summary, err := h.matrix.Summary(ctx, positionID)
	if err != nil {
		h.writeError(ctx, w, "stats lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStatsResponse(summary))
}

// writeError logs at a level matching the status and writes the envelope.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	status := dErrors.HTTPStatus(dErrors.CodeOf(err))
	attrs := []any{
		"error", err,
		"status", status,
		"request_id", request.GetRequestID(ctx),
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}

func positionParam(w http.ResponseWriter, r *http.Request) (id.PositionID, bool) {
	positionID, err := id.ParsePositionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.PositionID{}, false
	}
	return positionID, true
}

// queryInt reads a non-negative integer query parameter; absent is zero.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, name+" must be a non-negative integer")
	}
	return v, nil
}
