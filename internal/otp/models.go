package otp

import "time"

const (
	// CodeDigits is the length of issued one-time codes.
	CodeDigits = 6

	// DefaultTTL bounds the window between issuing and verifying a code.
	DefaultTTL = 5 * time.Minute

	// DefaultStepUpWindow is how long a successful verification elevates the
	// admin session before another step-up is demanded.
	DefaultStepUpWindow = 10 * time.Minute
)

// Challenge is the in-memory representation of an active code. The Redis
// store never materializes this struct (the code lives as a TTL'd value),
// but the memory store and tests use it.
type Challenge struct {
	PrincipalKey string
	Code         string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// ConsumeResult is the outcome of an atomic check-and-consume.
type ConsumeResult int

const (
	ConsumeOK ConsumeResult = iota
	ConsumeMissing
	ConsumeExpired
	ConsumeMismatch
)
