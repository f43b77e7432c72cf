package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"vouch/internal/audit"
	"vouch/internal/platform/metrics"
	"vouch/internal/roles"
	dErrors "vouch/pkg/domain-errors"
	emailpkg "vouch/pkg/email"
)

// failureMessage is the single public message for every verification failure.
// Absent, expired, and mismatched codes must be indistinguishable to the
// caller so challenge state never leaks.
const failureMessage = "invalid or expired code"

// Service issues and verifies step-up challenges for admin sessions. The
// one-time code is the only defense between a compromised primary credential
// and full admin capability, so consumption is a single atomic operation.
type Service struct {
	store        Store
	roles        *roles.Service
	auditor      *audit.Publisher
	logger       *slog.Logger
	metrics      *metrics.Metrics
	limiter      *keyedLimiter
	ttl          time.Duration
	stepUpWindow time.Duration
}

type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

func WithStepUpWindow(window time.Duration) Option {
	return func(s *Service) { s.stepUpWindow = window }
}

func WithIssueRate(perMinute int) Option {
	return func(s *Service) { s.limiter = newKeyedLimiter(perMinute) }
}

func NewService(store Store, roleService *roles.Service, auditor *audit.Publisher, logger *slog.Logger, m *metrics.Metrics, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("challenge store is required")
	}
	if roleService == nil {
		return nil, fmt.Errorf("role service is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("audit publisher is required")
	}

	svc := &Service{
		store:        store,
		roles:        roleService,
		auditor:      auditor,
		logger:       logger,
		metrics:      m,
		limiter:      newKeyedLimiter(3),
		ttl:          DefaultTTL,
		stepUpWindow: DefaultStepUpWindow,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Issue generates a uniformly random 6-digit code for the principal,
// replacing any prior challenge. Only admin principals may request codes;
// an unknown email fails closed as PermissionDenied without revealing
// whether the address exists.
func (s *Service) Issue(ctx context.Context, principalEmail string) (string, error) {
	key := emailpkg.Normalize(principalEmail)
	if !emailpkg.Valid(key) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "malformed email")
	}

	principal, err := s.roles.FindByEmail(ctx, key)
	if err != nil {
		s.auditDenied(ctx, key, "principal lookup failed")
		return "", dErrors.New(dErrors.CodeForbidden, "permission denied")
	}
	if err := s.roles.Require(ctx, principal.ID, roles.AdminRoles...); err != nil {
		return "", err
	}

	if !s.limiter.Allow(key) {
		return "", dErrors.New(dErrors.CodeRateLimited, "too many codes requested")
	}

	code, err := generateCode()
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate code")
	}

	if err := s.store.Put(ctx, key, code, s.ttl); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store challenge")
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		ActorID:   principal.ID.String(),
		Action:    audit.ActionOTPIssued,
		SubjectID: key,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit otp issue", "error", err)
	}

	return code, nil
}

// Verify atomically checks and consumes the principal's active challenge.
// A consumed or expired challenge can never verify again. On success the
// session is marked stepped-up for the configured window.
func (s *Service) Verify(ctx context.Context, principalEmail, code string) (bool, error) {
	key := emailpkg.Normalize(principalEmail)

	principal, err := s.roles.FindByEmail(ctx, key)
	if err != nil {
		// Same opaque failure as a wrong code: the verify endpoint must not
		// be a principal-enumeration oracle. The real reason is still audited.
		s.auditDenied(ctx, key, "unknown principal")
		s.countVerify("denied")
		return false, dErrors.New(dErrors.CodeInvalidCode, failureMessage)
	}

	result, err := s.store.ConsumeIfMatch(ctx, key, code)
	if err != nil {
		s.countVerify("error")
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "verification unavailable")
	}

	switch result {
	case ConsumeOK:
		if err := s.store.MarkSteppedUp(ctx, principal.ID.String(), s.stepUpWindow); err != nil {
			s.logger.ErrorContext(ctx, "failed to mark step-up", "error", err)
		}
		if err := s.auditor.Emit(ctx, audit.Event{
			ActorID:   principal.ID.String(),
			Action:    audit.ActionOTPVerified,
			SubjectID: key,
			Decision:  "verified",
		}); err != nil {
			s.logger.ErrorContext(ctx, "failed to audit otp verify", "error", err)
		}
		s.countVerify("ok")
		return true, nil
	case ConsumeMissing, ConsumeExpired, ConsumeMismatch:
		s.auditDenied(ctx, key, consumeReason(result))
		s.countVerify(consumeReason(result))
		return false, dErrors.New(dErrors.CodeInvalidCode, failureMessage)
	default:
		return false, dErrors.New(dErrors.CodeInternal, "verification unavailable")
	}
}

// HasStepUp reports whether the principal verified a code within the step-up
// window. Errors fail closed.
func (s *Service) HasStepUp(ctx context.Context, principalID uuid.UUID) (bool, error) {
	ok, err := s.store.HasStepUp(ctx, principalID.String())
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *Service) auditDenied(ctx context.Context, key, reason string) {
	// The internal reason is audited for forensics; it is never surfaced to
	// the caller.
	if err := s.auditor.Emit(ctx, audit.Event{
		ActorID:   key,
		Action:    audit.ActionOTPDenied,
		SubjectID: key,
		Decision:  "denied",
		Reason:    reason,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit otp denial", "error", err)
	}
}

func (s *Service) countVerify(result string) {
	if s.metrics != nil {
		s.metrics.OTPVerifications.WithLabelValues(result).Inc()
	}
}

func consumeReason(result ConsumeResult) string {
	switch result {
	case ConsumeMissing:
		return "no active challenge"
	case ConsumeExpired:
		return "challenge expired"
	case ConsumeMismatch:
		return "code mismatch"
	default:
		return "unknown"
	}
}

// generateCode draws a uniform 6-digit code from crypto/rand. rand.Int is
// uniform over [0, 10^6), so no digit bias.
func generateCode() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
