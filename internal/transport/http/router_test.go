package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vouch/internal/approval"
	"vouch/internal/audit"
	"vouch/internal/notify"
	"vouch/internal/otp"
	"vouch/internal/platform/metrics"
	"vouch/internal/platform/middleware"
	"vouch/internal/purchase"
	"vouch/internal/roles"
	txcontext "vouch/pkg/platform/tx"
)

const testSigningKey = "test-signing-key"

type TransportSuite struct {
	suite.Suite
	router     http.Handler
	roleStore  *roles.InMemoryStore
	ledger     *purchase.InMemoryStore
	auditStore *audit.InMemoryStore
	outbox     *notify.InMemoryOutbox

	superAdmin uuid.UUID
	admin      uuid.UUID
	buyer      uuid.UUID
	other      uuid.UUID
}

func TestTransportSuite(t *testing.T) {
	suite.Run(t, new(TransportSuite))
}

func (s *TransportSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewForTesting()
	ctx := context.Background()

	s.roleStore = roles.NewInMemoryStore()
	s.ledger = purchase.NewInMemoryStore()
	s.auditStore = audit.NewInMemoryStore()
	s.outbox = notify.NewInMemoryOutbox()

	s.superAdmin = uuid.New()
	s.admin = uuid.New()
	s.buyer = uuid.New()
	s.other = uuid.New()
	for _, p := range []roles.Principal{
		{ID: s.superAdmin, Email: "root@example.com", Role: roles.RoleSuperAdmin},
		{ID: s.admin, Email: "admin@example.com", Role: roles.RoleAdmin},
		{ID: s.buyer, Email: "buyer@example.com", Role: roles.RoleStandard},
		{ID: s.other, Email: "other@example.com", Role: roles.RoleStandard},
	} {
		s.Require().NoError(s.roleStore.Save(ctx, p))
	}

	auditor := audit.NewPublisher(s.auditStore)
	rolesSvc, err := roles.NewService(s.roleStore, auditor, logger, m)
	s.Require().NoError(err)

	otpSvc, err := otp.NewService(otp.NewInMemoryStore(), rolesSvc, auditor, logger, m)
	s.Require().NoError(err)

	purchaseSvc, err := purchase.NewService(s.ledger, auditor, logger)
	s.Require().NoError(err)

	engine, err := approval.NewEngine(s.ledger, rolesSvc, auditor, s.outbox, txcontext.NoopRunner{}, logger, m)
	s.Require().NoError(err)

	s.router = NewRouter(
		Config{DevMode: true, RequireStepUp: true},
		Deps{
			Logger:    logger,
			Metrics:   m,
			Validator: middleware.NewHMACValidator(testSigningKey),
			OTP:       otpSvc,
			StepUp:    otpSvc,
			Purchases: purchaseSvc,
			Claims:    purchaseSvc,
			Decisions: engine,
			Roles:     rolesSvc,
			RoleGate:  rolesSvc,
			Audit:     auditor,
		},
	)
}

func (s *TransportSuite) token(principalID uuid.UUID) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": principalID.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSigningKey))
	s.Require().NoError(err)
	return signed
}

func (s *TransportSuite) do(method, path, token string, body any) (int, map[string]any) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec.Code, decoded
}

// stepUp takes an admin through the full OTP flow using the dev-mode echo.
func (s *TransportSuite) stepUp(adminEmail string, adminID uuid.UUID) {
	status, body := s.do(http.MethodPost, "/admin/otp/issue", s.token(adminID), map[string]string{"email": adminEmail})
	s.Require().Equal(http.StatusAccepted, status)
	code, _ := body["code"].(string)
	s.Require().Len(code, otp.CodeDigits)

	status, body = s.do(http.MethodPost, "/admin/otp/verify", s.token(adminID), map[string]string{"email": adminEmail, "code": code})
	s.Require().Equal(http.StatusOK, status)
	s.Require().Equal(true, body["verified"])
}

func (s *TransportSuite) submitClaim() string {
	status, body := s.do(http.MethodPost, "/purchases", s.token(s.buyer), map[string]string{
		"resource_id":     "course-101",
		"transaction_ref": "ABC12345",
	})
	s.Require().Equal(http.StatusCreated, status)
	claimID, _ := body["claim_id"].(string)
	s.Require().NotEmpty(claimID)
	return claimID
}

// =====================================================================
// Authentication
// =====================================================================

func (s *TransportSuite) TestUnauthenticatedRequestsRejected() {
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/purchases"},
		{http.MethodPost, "/admin/otp/issue"},
		{http.MethodGet, "/admin/purchases"},
	}
	for _, tc := range cases {
		status, body := s.do(tc.method, tc.path, "", map[string]string{})
		s.Equal(http.StatusUnauthorized, status, tc.path)
		s.Equal("unauthorized", body["error"])
	}
}

func (s *TransportSuite) TestGarbageTokenRejected() {
	req := httptest.NewRequest(http.MethodPost, "/purchases", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

// =====================================================================
// Purchase submission
// =====================================================================

func (s *TransportSuite) TestSubmitClaim() {
	claimID := s.submitClaim()

	status, body := s.do(http.MethodGet, "/purchases/"+claimID, s.token(s.buyer), nil)
	s.Equal(http.StatusOK, status)
	s.Equal("pending", body["status"])
	s.Equal("course-101", body["resource_id"])
}

func (s *TransportSuite) TestSubmitRejectsBadReference() {
	status, body := s.do(http.MethodPost, "/purchases", s.token(s.buyer), map[string]string{
		"resource_id":     "course-101",
		"transaction_ref": "ab!",
	})
	s.Equal(http.StatusBadRequest, status)
	s.Equal("invalid_input", body["error"])
}

func (s *TransportSuite) TestDuplicateClaimConflicts() {
	s.submitClaim()
	status, body := s.do(http.MethodPost, "/purchases", s.token(s.buyer), map[string]string{
		"resource_id":     "course-101",
		"transaction_ref": "ABC12345",
	})
	s.Equal(http.StatusConflict, status)
	s.Equal("conflict", body["error"])
}

func (s *TransportSuite) TestBuyerCannotSeeOthersClaim() {
	claimID := s.submitClaim()
	status, _ := s.do(http.MethodGet, "/purchases/"+claimID, s.token(s.other), nil)
	s.Equal(http.StatusNotFound, status)
}

// =====================================================================
// Admin surface
// =====================================================================

func (s *TransportSuite) TestAdminListsPendingClaims() {
	s.submitClaim()

	status, body := s.do(http.MethodGet, "/admin/purchases?status=pending", s.token(s.admin), nil)
	s.Equal(http.StatusOK, status)
	claims, _ := body["claims"].([]any)
	s.Len(claims, 1)
}

func (s *TransportSuite) TestStandardUserCannotListClaims() {
	status, body := s.do(http.MethodGet, "/admin/purchases", s.token(s.buyer), nil)
	s.Equal(http.StatusForbidden, status)
	s.Equal("forbidden", body["error"])
}

func (s *TransportSuite) TestAuditQueryByActor() {
	s.submitClaim()

	status, body := s.do(http.MethodGet, "/admin/audit?actor="+s.buyer.String(), s.token(s.admin), nil)
	s.Equal(http.StatusOK, status)
	events, _ := body["events"].([]any)
	s.Require().NotEmpty(events)
	first, _ := events[0].(map[string]any)
	s.Equal(string(audit.ActionPurchaseSubmitted), first["action"])
}

func (s *TransportSuite) TestSuperAdminAssignsRole() {
	status, body := s.do(http.MethodPut, "/admin/roles/"+s.buyer.String(), s.token(s.superAdmin), map[string]string{"role": "admin"})
	s.Equal(http.StatusOK, status)
	s.Equal("admin", body["role"])
}

func (s *TransportSuite) TestAdminCannotAssignRole() {
	status, _ := s.do(http.MethodPut, "/admin/roles/"+s.buyer.String(), s.token(s.admin), map[string]string{"role": "admin"})
	s.Equal(http.StatusForbidden, status)
}

// =====================================================================
// Decisions and step-up
// =====================================================================

func (s *TransportSuite) TestApproveRequiresStepUp() {
	claimID := s.submitClaim()

	status, body := s.do(http.MethodPost, "/purchases/"+claimID+"/approve", s.token(s.admin), nil)
	s.Equal(http.StatusForbidden, status)
	s.Equal("step-up verification required", body["error_description"])
}

func (s *TransportSuite) TestFullApprovalFlow() {
	claimID := s.submitClaim()
	s.stepUp("admin@example.com", s.admin)

	status, body := s.do(http.MethodPost, "/purchases/"+claimID+"/approve", s.token(s.admin), nil)
	s.Require().Equal(http.StatusOK, status)
	s.Equal("approved", body["status"])
	s.Equal(s.admin.String(), body["decided_by"])

	due, err := s.outbox.Due(context.Background(), time.Now(), 10)
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.Equal("buyer@example.com", due[0].Event.Recipient)
}

func (s *TransportSuite) TestRejectRequiresReason() {
	claimID := s.submitClaim()
	s.stepUp("admin@example.com", s.admin)

	status, body := s.do(http.MethodPost, "/purchases/"+claimID+"/reject", s.token(s.admin), map[string]string{"reason": ""})
	s.Equal(http.StatusBadRequest, status)
	s.Equal("invalid_input", body["error"])
}

func (s *TransportSuite) TestSecondDecisionConflictCarriesStoredStatus() {
	claimID := s.submitClaim()
	s.stepUp("admin@example.com", s.admin)

	status, _ := s.do(http.MethodPost, "/purchases/"+claimID+"/approve", s.token(s.admin), nil)
	s.Require().Equal(http.StatusOK, status)

	status, body := s.do(http.MethodPost, "/purchases/"+claimID+"/reject", s.token(s.admin), map[string]string{"reason": "fraud"})
	s.Equal(http.StatusConflict, status)
	s.Equal("conflict", body["error"])
	s.Equal("approved", body["status"], "stored decision surfaced unchanged")
}

func (s *TransportSuite) TestStandardUserCannotDecideEvenWithoutGate() {
	claimID := s.submitClaim()

	// The buyer has no way to step up (OTP issue requires an admin role), so
	// the gate itself already blocks them.
	status, _ := s.do(http.MethodPost, "/purchases/"+claimID+"/approve", s.token(s.buyer), nil)
	s.Equal(http.StatusForbidden, status)
}

func (s *TransportSuite) TestStandardUserCannotIssueOTP() {
	status, body := s.do(http.MethodPost, "/admin/otp/issue", s.token(s.buyer), map[string]string{"email": "buyer@example.com"})
	s.Equal(http.StatusForbidden, status)
	s.Equal("forbidden", body["error"])
}

// =====================================================================
// Health and metrics
// =====================================================================

func (s *TransportSuite) TestHealthAndMetricsArePublic() {
	status, body := s.do(http.MethodGet, "/healthz", "", nil)
	s.Equal(http.StatusOK, status)
	s.Equal("ok", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusOK, rec.Code)
}
