package models

import (
	"strings"
	"time"

	id "matrix/pkg/domain"
	dErrors "matrix/pkg/domain-errors"
)

const (
	maxUsernameLength     = 64
	minReferralCodeLength = 4
	maxReferralCodeLength = 32
)

// Member is a directory entry used to resolve referral tokens. Usernames and referral
// codes are unique ignoring case.
type Member struct {
	ID           id.OwnerID `json:"id"`
	Username     string     `json:"username"`
	ReferralCode string     `json:"referral_code,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewMember validates and builds a directory entry.
func NewMember(ownerID id.OwnerID, username, referralCode string, now time.Time) (*Member, error) {
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "member id is required")
	}
	username = strings.TrimSpace(username)
	if !ValidReferralToken(username, 1, maxUsernameLength) {
		return nil, dErrors.New(dErrors.CodeValidation, "username must be 1-64 letters, digits, '.', '_' or '-'")
	}
	referralCode = strings.TrimSpace(referralCode)
	if referralCode != "" && !ValidReferralToken(referralCode, minReferralCodeLength, maxReferralCodeLength) {
		return nil, dErrors.New(dErrors.CodeValidation, "referral_code must be 4-32 letters, digits, '.', '_' or '-'")
	}
	return &Member{
		ID:           ownerID,
		Username:     username,
		ReferralCode: referralCode,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ValidReferralToken reports whether s is a well-formed username or referral code.
func ValidReferralToken(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// MaxReferralTokenLength bounds any token worth looking up.
const MaxReferralTokenLength = maxUsernameLength
