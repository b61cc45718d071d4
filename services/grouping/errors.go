package grouping

import (
	"errors"
	"fmt"
)

var (
	ErrTourNotFound  = errors.New("tour not found")
	ErrGroupNotFound = errors.New("group not found")
	ErrGuideNotFound = errors.New("guide not found")
	ErrGuideInactive = errors.New("guide is inactive")
	ErrNotGrouped    = errors.New("tour is not in a group")
	ErrTooFewTours   = errors.New("a group needs at least two tours")
	ErrTourCancelled = errors.New("cancelled tours cannot be merged")
)

// InvariantViolation is logged when a recompute finds a group with one live
// member or none. The group is dissolved rather than left in place.
type InvariantViolation struct {
	GroupID uint
	Members int
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("grouping invariant violation: group %d has %d live member(s)", e.GroupID, e.Members)
}
