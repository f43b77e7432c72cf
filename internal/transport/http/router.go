package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vouch/internal/platform/metrics"
	"vouch/internal/platform/middleware"
	"vouch/internal/roles"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/platform/httputil"
	"vouch/pkg/requestcontext"
)

const requestTimeout = 30 * time.Second

// RoleGate is the role check the admin surface sits behind.
type RoleGate interface {
	Require(ctx context.Context, principalID uuid.UUID, want ...roles.Role) error
}

// StepUpChecker reports whether a principal holds a fresh step-up marker.
type StepUpChecker interface {
	HasStepUp(ctx context.Context, principalID uuid.UUID) (bool, error)
}

// Config carries the transport-level toggles.
type Config struct {
	// DevMode echoes issued OTP codes in responses. Never on in production.
	DevMode bool
	// RequireStepUp gates approve/reject behind a fresh OTP verification.
	RequireStepUp bool
}

// Deps is everything the router needs. All fields are required except
// StepUp, which may be nil when Config.RequireStepUp is false.
type Deps struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Validator middleware.JWTValidator
	OTP       OTPService
	StepUp    StepUpChecker
	Purchases PurchaseService
	Claims    ClaimLister
	Decisions DecisionService
	Roles     RoleService
	RoleGate  RoleGate
	Audit     AuditQuery
	Health    func(ctx context.Context) error
}

// NewRouter assembles the full HTTP surface: public health and metrics,
// authenticated buyer endpoints, and the role- and step-up-gated admin
// surface.
func NewRouter(cfg Config, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recovery(deps.Logger),
		middleware.RequestID,
		middleware.RequestTime,
		middleware.ClientMetadata,
		middleware.Logger(deps.Logger),
		middleware.Timeout(requestTimeout),
		middleware.Latency(deps.Metrics),
	)

	r.Get("/healthz", handleHealth(deps.Health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	otpHandler := NewOTPHandler(deps.OTP, deps.Logger, cfg.DevMode)
	purchaseHandler := NewPurchaseHandler(deps.Purchases, deps.Decisions, deps.Logger)
	adminHandler := NewAdminHandler(deps.Claims, deps.Audit, deps.Roles, deps.Logger)

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(deps.Validator, deps.Logger))

		purchaseHandler.Register(r)
		otpHandler.Register(r)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin(deps.RoleGate))
			adminHandler.Register(r)
		})

		r.Group(func(r chi.Router) {
			if cfg.RequireStepUp {
				r.Use(requireStepUp(deps.StepUp, deps.Logger))
			}
			purchaseHandler.RegisterDecisions(r)
		})
	})

	return r
}

func handleHealth(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// requireAdmin keeps the admin read surface behind the same fail-closed role
// check the services use.
func requireAdmin(gate RoleGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principalID, ok := principalFromContext(w, ctx)
			if !ok {
				return
			}
			if err := gate.Require(ctx, principalID, roles.AdminRoles...); err != nil {
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireStepUp refuses decisions from admins whose step-up window has
// lapsed. Errors fail closed: no marker check, no decision.
func requireStepUp(checker StepUpChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principalID, ok := principalFromContext(w, ctx)
			if !ok {
				return
			}
			verified, err := checker.HasStepUp(ctx, principalID)
			if err != nil {
				logger.ErrorContext(ctx, "step-up check failed",
					"request_id", requestcontext.RequestID(ctx),
					"principal_id", principalID,
					"error", err,
				)
				verified = false
			}
			if !verified {
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "step-up verification required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
