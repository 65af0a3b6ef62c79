package handler

import (
	"strings"

	"matrix/internal/matrix/service"
	id "matrix/pkg/domain"
	dErrors "matrix/pkg/domain-errors"
)

const maxRegistrationURLLength = 2048

// PlaceRequest is the body of POST /matrix/placements. The referral token comes from
// Ref, or failing that from the ref parameter of RegistrationURL.
type PlaceRequest struct {
	OwnerID         string `json:"owner_id"`
	TierID          string `json:"tier_id"`
	Ref             string `json:"ref,omitempty"`
	RegistrationURL string `json:"registration_url,omitempty"`

	ownerID id.OwnerID
	tierID  id.TierID
}

// Validate normalizes and parses the request.
func (r *PlaceRequest) Validate() error {
	var err error
	if r.ownerID, err = id.ParseOwnerID(r.OwnerID); err != nil {
		return err
	}
	if r.tierID, err = id.ParseTierID(r.TierID); err != nil {
		return err
	}
	if len(r.RegistrationURL) > maxRegistrationURLLength {
		return dErrors.New(dErrors.CodeValidation, "registration_url is too long")
	}
	r.Ref = strings.TrimSpace(r.Ref)
	if r.Ref == "" && r.RegistrationURL != "" {
		r.Ref = service.ReferralTokenFromURL(r.RegistrationURL)
	}
	return nil
}

func (r *PlaceRequest) toService() service.PlaceRequest {
	return service.PlaceRequest{
		OwnerID:       r.ownerID,
		TierID:        r.tierID,
		ReferralToken: r.Ref,
	}
}

// UpsertMemberRequest is the body of PUT /matrix/members.
type UpsertMemberRequest struct {
	OwnerID      string `json:"owner_id"`
	Username     string `json:"username"`
	ReferralCode string `json:"referral_code,omitempty"`

	ownerID id.OwnerID
}

func (r *UpsertMemberRequest) Validate() error {
	var err error
	if r.ownerID, err = id.ParseOwnerID(r.OwnerID); err != nil {
		return err
	}
	r.Username = strings.TrimSpace(r.Username)
	r.ReferralCode = strings.TrimSpace(r.ReferralCode)
	if r.Username == "" {
		return dErrors.New(dErrors.CodeValidation, "username is required")
	}
	return nil
}
