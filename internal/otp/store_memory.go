package otp

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps challenges in process memory. Suitable for tests and
// single-instance dev runs only: challenges do not survive restarts and are
// invisible to other instances.
type InMemoryStore struct {
	mu         sync.Mutex
	challenges map[string]Challenge
	stepUps    map[string]time.Time

	// now is swappable so expiry behavior is testable.
	now func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		challenges: make(map[string]Challenge),
		stepUps:    make(map[string]time.Time),
		now:        time.Now,
	}
}

// SetClock overrides the store's clock for tests.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *InMemoryStore) Put(_ context.Context, key, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	issued := s.now()
	s.challenges[key] = Challenge{
		PrincipalKey: key,
		Code:         code,
		IssuedAt:     issued,
		ExpiresAt:    issued.Add(ttl),
	}
	return nil
}

func (s *InMemoryStore) ConsumeIfMatch(_ context.Context, key, code string) (ConsumeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[key]
	if !ok {
		return ConsumeMissing, nil
	}
	if s.now().After(challenge.ExpiresAt) {
		// Expired challenges are discarded on first touch; they can never
		// verify afterwards.
		delete(s.challenges, key)
		return ConsumeExpired, nil
	}
	if challenge.Code != code {
		return ConsumeMismatch, nil
	}
	delete(s.challenges, key)
	return ConsumeOK, nil
}

func (s *InMemoryStore) MarkSteppedUp(_ context.Context, principalID string, window time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepUps[principalID] = s.now().Add(window)
	return nil
}

func (s *InMemoryStore) HasStepUp(_ context.Context, principalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.stepUps[principalID]
	if !ok || s.now().After(until) {
		delete(s.stepUps, principalID)
		return false, nil
	}
	return true, nil
}
