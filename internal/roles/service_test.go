package roles

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vouch/internal/audit"
	"vouch/internal/platform/metrics"
	dErrors "vouch/pkg/domain-errors"
)

type RoleServiceSuite struct {
	suite.Suite
	store      *InMemoryStore
	auditStore *audit.InMemoryStore
	service    *Service

	admin    Principal
	standard Principal
	super    Principal
}

func TestRoleServiceSuite(t *testing.T) {
	suite.Run(t, new(RoleServiceSuite))
}

func (s *RoleServiceSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.auditStore = audit.NewInMemoryStore()

	var err error
	s.service, err = NewService(s.store, audit.NewPublisher(s.auditStore), slog.Default(), metrics.NewForTesting())
	s.Require().NoError(err)

	ctx := context.Background()
	s.admin = Principal{ID: uuid.New(), Email: "admin@example.com", Role: RoleAdmin}
	s.standard = Principal{ID: uuid.New(), Email: "user@example.com", Role: RoleStandard}
	s.super = Principal{ID: uuid.New(), Email: "root@example.com", Role: RoleSuperAdmin}
	for _, p := range []Principal{s.admin, s.standard, s.super} {
		s.Require().NoError(s.store.Save(ctx, p))
	}
}

// =============================================================================
// Require
// =============================================================================

func (s *RoleServiceSuite) TestRequire() {
	ctx := context.Background()

	s.Run("admin passes admin check", func() {
		s.NoError(s.service.Require(ctx, s.admin.ID, AdminRoles...))
	})

	s.Run("standard role is always forbidden", func() {
		err := s.service.Require(ctx, s.standard.ID, AdminRoles...)
		s.True(dErrors.Is(err, dErrors.CodeForbidden))
	})

	s.Run("unknown principal is forbidden, not not-found", func() {
		err := s.service.Require(ctx, uuid.New(), AdminRoles...)
		s.True(dErrors.Is(err, dErrors.CodeForbidden))
	})

	s.Run("store outage fails closed", func() {
		s.store.SetFailing(true)
		defer s.store.SetFailing(false)

		err := s.service.Require(ctx, s.admin.ID, AdminRoles...)
		s.True(dErrors.Is(err, dErrors.CodeForbidden), "unavailable store must never fail open")
	})

	s.Run("every denial appends exactly one audit entry", func() {
		before := len(s.auditStore.ByAction(audit.ActionRoleDenied))
		_ = s.service.Require(ctx, s.standard.ID, AdminRoles...)
		after := len(s.auditStore.ByAction(audit.ActionRoleDenied))
		s.Equal(before+1, after)
	})

	s.Run("granted checks append no denial entry", func() {
		before := len(s.auditStore.ByAction(audit.ActionRoleDenied))
		s.NoError(s.service.Require(ctx, s.admin.ID, AdminRoles...))
		s.Equal(before, len(s.auditStore.ByAction(audit.ActionRoleDenied)))
	})
}

// =============================================================================
// Assign
// =============================================================================

func (s *RoleServiceSuite) TestAssign() {
	ctx := context.Background()

	s.Run("super_admin promotes a standard user", func() {
		s.NoError(s.service.Assign(ctx, s.super.ID, s.standard.ID, RoleAdmin))

		p, err := s.store.FindByID(ctx, s.standard.ID)
		s.Require().NoError(err)
		s.Equal(RoleAdmin, p.Role)
		s.Len(s.auditStore.ByAction(audit.ActionRoleAssigned), 1)
	})

	s.Run("admin may not assign roles", func() {
		err := s.service.Assign(ctx, s.admin.ID, s.standard.ID, RoleAdmin)
		s.True(dErrors.Is(err, dErrors.CodeForbidden))
	})

	s.Run("unknown role is rejected before any authorization check", func() {
		err := s.service.Assign(ctx, s.super.ID, s.standard.ID, Role("owner"))
		s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown target principal", func() {
		err := s.service.Assign(ctx, s.super.ID, uuid.New(), RoleAdmin)
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})
}

func (s *RoleServiceSuite) TestFindByEmailNormalizes() {
	p, err := s.service.FindByEmail(context.Background(), "  Admin@Example.COM ")
	s.Require().NoError(err)
	s.Equal(s.admin.ID, p.ID)
}
