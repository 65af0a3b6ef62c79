// Package domain holds typed identifiers parsed at trust boundaries.
//
// Positions and owners are both UUIDs underneath; distinct types keep a position id from
// being passed where an owner id is expected.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "matrix/pkg/domain-errors"
)

// PositionID identifies a node in the placement tree.
type PositionID uuid.UUID

// OwnerID identifies the member occupying a position.
type OwnerID uuid.UUID

// TierID names a membership tier (e.g. "basic", "gold").
type TierID string

const maxTierIDLength = 32

func (id PositionID) String() string { return uuid.UUID(id).String() }
func (id OwnerID) String() string    { return uuid.UUID(id).String() }
func (id TierID) String() string     { return string(id) }

func (id PositionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id OwnerID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id PositionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id OwnerID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }

func (id *PositionID) UnmarshalText(b []byte) error {
	parsed, err := ParsePositionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *OwnerID) UnmarshalText(b []byte) error {
	parsed, err := ParseOwnerID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NewPositionID returns a fresh random position identifier.
func NewPositionID() PositionID { return PositionID(uuid.New()) }

// ParsePositionID parses a non-nil UUID.
func ParsePositionID(s string) (PositionID, error) {
	u, err := parseUUID(s, "position_id")
	if err != nil {
		return PositionID{}, err
	}
	return PositionID(u), nil
}

// ParseOwnerID parses a non-nil UUID.
func ParseOwnerID(s string) (OwnerID, error) {
	u, err := parseUUID(s, "owner_id")
	if err != nil {
		return OwnerID{}, err
	}
	return OwnerID(u), nil
}

// ParseTierID normalizes a tier name to lower case and checks its alphabet.
func ParseTierID(s string) (TierID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "tier_id is required")
	}
	if len(s) > maxTierIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "tier_id is too long")
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' && r != '_' {
			return "", dErrors.New(dErrors.CodeInvalidInput, "tier_id contains invalid characters")
		}
	}
	return TierID(s), nil
}

func parseUUID(s, field string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must not be the nil UUID")
	}
	return u, nil
}
