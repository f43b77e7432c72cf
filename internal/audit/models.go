package audit

import "time"

// Event is emitted from domain logic to capture privileged actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	// ID is a ULID: lexicographic order is creation order, which gives the
	// log its monotonic key without a sequence.
	ID        string
	Timestamp time.Time
	ActorID   string
	Action    Action
	SubjectID string
	Decision  string
	Reason    string
	RequestID string
	ClientIP  string
	UserAgent string
	Metadata  map[string]string
}

// Action names a security-relevant event. Every privileged call appends
// exactly one entry, including denials and attempts on terminal claims.
type Action string

const (
	ActionOTPIssued  Action = "otp_issued"
	ActionOTPVerified Action = "otp_verified"
	ActionOTPDenied  Action = "otp_denied"

	ActionRoleDenied   Action = "role_denied"
	ActionRoleAssigned Action = "role_assigned"

	ActionPurchaseSubmitted        Action = "purchase_submitted"
	ActionPurchaseApproved         Action = "purchase_approved"
	ActionPurchaseRejected         Action = "purchase_rejected"
	ActionPurchaseDecisionConflict Action = "purchase_decision_conflict"
)
