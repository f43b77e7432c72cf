package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"vouch/internal/audit"
	"vouch/internal/platform/metrics"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/platform/sentinel"
)

// Service centralizes authorization checks so every privileged call site asks
// the same question the same way. Roles are read fresh from the store on each
// call; there is deliberately no cache.
type Service struct {
	store   Store
	auditor *audit.Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewService(store Store, auditor *audit.Publisher, logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("role store is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("audit publisher is required")
	}
	return &Service{store: store, auditor: auditor, logger: logger, metrics: m}, nil
}

// HasRole reports whether the principal holds one of the given roles. Store
// errors surface to the caller; most callers want Require instead.
func (s *Service) HasRole(ctx context.Context, principalID uuid.UUID, want ...Role) (bool, error) {
	principal, err := s.store.FindByID(ctx, principalID)
	if err != nil {
		return false, err
	}
	return slices.Contains(want, principal.Role), nil
}

// Require returns nil iff the principal holds one of the given roles. Any
// other outcome (missing principal, wrong role, or an unavailable store) is
// PermissionDenied: authorization ambiguity always fails closed. Every denial
// appends exactly one audit entry.
func (s *Service) Require(ctx context.Context, principalID uuid.UUID, want ...Role) error {
	ok, err := s.HasRole(ctx, principalID, want...)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.ErrorContext(ctx, "role store unavailable, failing closed",
			"error", err,
			"principal_id", principalID,
		)
	}
	if err != nil || !ok {
		s.deny(ctx, principalID, want)
		return dErrors.New(dErrors.CodeForbidden, "permission denied")
	}
	return nil
}

func (s *Service) deny(ctx context.Context, principalID uuid.UUID, want []Role) {
	if s.metrics != nil {
		s.metrics.RoleDenials.Inc()
	}
	auditErr := s.auditor.Emit(ctx, audit.Event{
		ActorID:   principalID.String(),
		Action:    audit.ActionRoleDenied,
		SubjectID: principalID.String(),
		Decision:  "denied",
		Metadata:  map[string]string{"required_roles": rolesString(want)},
	})
	if auditErr != nil {
		s.logger.ErrorContext(ctx, "failed to audit role denial", "error", auditErr)
	}
}

// Assign changes a principal's role. Only a super_admin may assign roles.
func (s *Service) Assign(ctx context.Context, actorID, principalID uuid.UUID, role Role) error {
	if !role.Valid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown role")
	}
	if err := s.Require(ctx, actorID, RoleSuperAdmin); err != nil {
		return err
	}

	if err := s.store.UpdateRole(ctx, principalID, role); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "principal not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to assign role")
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		ActorID:   actorID.String(),
		Action:    audit.ActionRoleAssigned,
		SubjectID: principalID.String(),
		Decision:  string(role),
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit role assignment", "error", err)
	}
	return nil
}

// FindByEmail resolves a principal for endpoints keyed on email (OTP issue
// and verify). Callers decide how absence is surfaced.
func (s *Service) FindByEmail(ctx context.Context, email string) (Principal, error) {
	return s.store.FindByEmail(ctx, email)
}

// FindByID resolves a principal by ID, for notification payloads that need
// the recipient's email.
func (s *Service) FindByID(ctx context.Context, id uuid.UUID) (Principal, error) {
	return s.store.FindByID(ctx, id)
}

func rolesString(rs []Role) string {
	out := ""
	for i, r := range rs {
		if i > 0 {
			out += ","
		}
		out += string(r)
	}
	return out
}
