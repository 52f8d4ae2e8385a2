// Package domain contains the core entities of the MRI screening backend: users and their
// roles, prediction records produced by the tumor classifier, and the review lifecycle a
// clinician drives a record through before sign-off.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Role identifies the kind of account a user holds.
type Role string

const (
	ADMIN   Role = "admin"
	DOCTOR  Role = "doctor"
	PATIENT Role = "patient"
)

// PredictionLabel is the classification outcome persisted on a record.
type PredictionLabel string

const (
	TUMOR_DETECTED PredictionLabel = "tumor_detected"
	NO_TUMOR       PredictionLabel = "no_tumor"
	INCONCLUSIVE   PredictionLabel = "inconclusive"
)

// ReviewStatus is the position of a record in the review workflow.
//
// The workflow is monotonic: pending_review -> reviewed -> confirmed. A record can stay
// in its current state (re-review) but never move backwards.
type ReviewStatus string

const (
	PENDING_REVIEW ReviewStatus = "pending_review"
	REVIEWED       ReviewStatus = "reviewed"
	CONFIRMED      ReviewStatus = "confirmed"
)

// Validation errors for record integrity
var (
	ErrInvalidRole   = errors.New("invalid role")
	ErrInvalidLabel  = errors.New("invalid prediction label")
	ErrInvalidStatus = errors.New("invalid review status")
)

// IsValid reports whether the role is one of the three known account kinds.
func (r Role) IsValid() bool {
	switch r {
	case ADMIN, DOCTOR, PATIENT:
		return true
	default:
		return false
	}
}

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// ParseRole converts user input into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// IsValid validates the label against the fixed taxonomy.
func (l PredictionLabel) IsValid() bool {
	switch l {
	case TUMOR_DETECTED, NO_TUMOR, INCONCLUSIVE:
		return true
	default:
		return false
	}
}

// String returns the string representation of the label.
func (l PredictionLabel) String() string {
	return string(l)
}

// IsValid validates the review status.
func (s ReviewStatus) IsValid() bool {
	switch s {
	case PENDING_REVIEW, REVIEWED, CONFIRMED:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s ReviewStatus) String() string {
	return string(s)
}

// rank orders the states of the workflow.
func (s ReviewStatus) rank() int {
	switch s {
	case PENDING_REVIEW:
		return 0
	case REVIEWED:
		return 1
	case CONFIRMED:
		return 2
	default:
		return -1
	}
}

// IsReviewed reports whether a doctor has acted on the record.
func (s ReviewStatus) IsReviewed() bool {
	return s == REVIEWED || s == CONFIRMED
}

// IsTerminal reports whether the record has been signed off.
func (s ReviewStatus) IsTerminal() bool {
	return s == CONFIRMED
}

// CanTransitionTo reports whether a review call may move a record from s to next.
// Only reviewed and confirmed can be requested; pending_review is the creation
// state and confirmed accepts no further reviews.
func (s ReviewStatus) CanTransitionTo(next ReviewStatus) bool {
	if !s.IsValid() || s.IsTerminal() || !next.IsReviewed() {
		return false
	}
	return next.rank() >= s.rank()
}

// ParseReviewStatus converts user input into a ReviewStatus.
func ParseReviewStatus(s string) (ReviewStatus, error) {
	st := ReviewStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}
