package service

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"matrix/internal/matrix/models"
	id "matrix/pkg/domain"
	dErrors "matrix/pkg/domain-errors"
	"matrix/pkg/platform/sentinel"
	"matrix/pkg/requestcontext"
)

// ReferralParam is the registration URL query parameter carrying the referral token.
const ReferralParam = "ref"

// Resolve maps a referral token to the referrer's owner id by case-insensitive match on
// username or referral code. Empty, malformed and unmatched tokens resolve to nil
// without error; only a directory failure is an error.
func (s *Service) Resolve(ctx context.Context, token string) (*id.OwnerID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	if !models.ValidReferralToken(token, 1, models.MaxReferralTokenLength) {
		s.metrics.IncrementReferral("malformed")
		return nil, nil
	}
	if s.members == nil {
		s.metrics.IncrementReferral("unmatched")
		return nil, nil
	}

	member, err := s.members.FindByToken(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.metrics.IncrementReferral("unmatched")
		s.logger.InfoContext(ctx, "referral token did not match a member",
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, nil
	}
	if err != nil {
		s.metrics.IncrementReferral("error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve referral token")
	}
	s.metrics.IncrementReferral("resolved")
	ownerID := member.ID
	return &ownerID, nil
}

// ReferralTokenFromURL extracts the ref query parameter from a registration URL.
// Unparseable URLs yield an empty token.
func ReferralTokenFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(u.Query().Get(ReferralParam))
}

// UpsertMember creates or updates a member directory entry.
func (s *Service) UpsertMember(ctx context.Context, ownerID id.OwnerID, username, referralCode string) (*models.Member, error) {
	if s.members == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "member directory is not configured")
	}
	member, err := models.NewMember(ownerID, username, referralCode, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	saved, err := s.members.Upsert(ctx, member)
	if errors.Is(err, sentinel.ErrAlreadyUsed) {
		return nil, dErrors.Wrap(err, dErrors.CodeConflict, "username or referral code already taken")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save member")
	}
	s.logger.InfoContext(ctx, "member saved",
		"owner_id", ownerID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return saved, nil
}

// GetMember loads a member directory entry.
func (s *Service) GetMember(ctx context.Context, ownerID id.OwnerID) (*models.Member, error) {
	if s.members == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "member not found")
	}
	member, err := s.members.Get(ctx, ownerID)
	if err != nil {
		return nil, translateLookup(err, "member not found", "failed to load member")
	}
	return member, nil
}
