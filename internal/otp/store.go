package otp

import (
	"context"
	"time"
)

// Store holds active challenges keyed by normalized principal email, plus the
// step-up markers stamped by successful verifications.
//
// ConsumeIfMatch must be atomic: two racing verifications of the same code
// may produce at most one ConsumeOK. Put must overwrite any prior challenge
// for the key: issuing a new code invalidates the old one.
type Store interface {
	Put(ctx context.Context, key, code string, ttl time.Duration) error
	ConsumeIfMatch(ctx context.Context, key, code string) (ConsumeResult, error)

	MarkSteppedUp(ctx context.Context, principalID string, window time.Duration) error
	HasStepUp(ctx context.Context, principalID string) (bool, error)
}
