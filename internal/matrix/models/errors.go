package models

import "errors"

// Store facts. The placement service recovers the transient ones.
var (
	// ErrCapacityExceeded: the parent had no free slot at insert time.
	ErrCapacityExceeded = errors.New("parent capacity exceeded")
	// ErrDuplicateSlot: (parent, slot) or the root ordinal is already taken.
	ErrDuplicateSlot = errors.New("slot already occupied")
	// ErrDuplicateOwner: the owner already holds a position.
	ErrDuplicateOwner = errors.New("owner already placed")
)

// Service outcomes, reachable through errors.Is on the domain error.
var (
	ErrInvalidTier      = errors.New("unknown tier")
	ErrPlacementFailed  = errors.New("placement failed")
	ErrReferrerRejected = errors.New("referral token did not resolve")
)

// IsTransient reports store errors caused by a lost placement race.
func IsTransient(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) || errors.Is(err, ErrDuplicateSlot)
}
