package purchase

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Status is a closed claim state. pending is the sole initial state; approved
// and rejected are terminal with no outgoing transitions.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Claim is a principal's assertion that an off-platform payment was made for
// a paid resource. The transaction reference is immutable after submission;
// DecidedAt/DecidedBy are set iff the status is terminal.
type Claim struct {
	ID              uuid.UUID
	PrincipalID     uuid.UUID
	ResourceID      string
	TransactionRef  string
	Status          Status
	SubmittedAt     time.Time
	DecidedAt       *time.Time
	DecidedBy       *uuid.UUID
	RejectionReason string
}

var referencePattern = regexp.MustCompile(`^[A-Za-z0-9]{5,50}$`)

// ValidReference checks the off-platform transaction reference format.
func ValidReference(ref string) bool {
	return referencePattern.MatchString(ref)
}
