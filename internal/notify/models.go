package notify

import (
	"time"

	"github.com/google/uuid"
)

// Kind names the logical event being fanned out.
type Kind string

const (
	KindPurchaseApproved Kind = "purchase_approved"
	KindPurchaseRejected Kind = "purchase_rejected"
)

// Event is one logical notification, dispatched to every configured channel.
type Event struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	ClaimID    uuid.UUID         `json:"claim_id"`
	Recipient  string            `json:"recipient"`
	ResourceID string            `json:"resource_id"`
	Payload    map[string]string `json:"payload,omitempty"`
}

// DeliveryStatus is per-channel and observational only; it never feeds back
// into the authoritative approval decision.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
	// DeliveryRejected is terminal: the provider refused the request itself,
	// so resending the same payload can never succeed.
	DeliveryRejected DeliveryStatus = "rejected"
)

// ChannelResult reports one channel's attempt for one event.
type ChannelResult struct {
	Channel string
	Status  DeliveryStatus
	Err     error
}

// State tracks an outbox record through delivery.
type State string

const (
	StatePending   State = "pending"
	StateDelivered State = "delivered"
	// StateExhausted means the retry budget is spent. The event stays in the
	// outbox for operators; it is never silently dropped.
	StateExhausted State = "exhausted"
)

// Record is an outbox row: a notification obligation written transactionally
// with the decision it announces.
type Record struct {
	Event         Event
	CreatedAt     time.Time
	Attempts      int
	NextAttempt   time.Time
	State         State
	ChannelStatus map[string]DeliveryStatus
}
