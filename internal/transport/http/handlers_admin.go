package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vouch/internal/audit"
	"vouch/internal/purchase"
	"vouch/internal/roles"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/platform/httputil"
	"vouch/pkg/requestcontext"
)

type ClaimLister interface {
	ListByStatus(ctx context.Context, status purchase.Status, limit int) ([]purchase.Claim, error)
}

type AuditQuery interface {
	ListByActor(ctx context.Context, actorID string, limit int) ([]audit.Event, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

type RoleService interface {
	Assign(ctx context.Context, actorID, principalID uuid.UUID, role roles.Role) error
}

// AdminHandler groups the read-side admin endpoints and role assignment.
type AdminHandler struct {
	claims   ClaimLister
	auditLog AuditQuery
	roles    RoleService
	logger   *slog.Logger
}

func NewAdminHandler(claims ClaimLister, auditLog AuditQuery, roleService RoleService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{claims: claims, auditLog: auditLog, roles: roleService, logger: logger}
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Get("/admin/purchases", h.HandleListClaims)
	r.Get("/admin/audit", h.HandleListAudit)
	r.Put("/admin/roles/{principal_id}", h.HandleAssignRole)
}

func (h *AdminHandler) HandleListClaims(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := purchase.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = purchase.StatusPending
	}

	claims, err := h.claims.ListByStatus(ctx, status, queryLimit(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]claimResponse, 0, len(claims))
	for _, c := range claims {
		out = append(out, toClaimResponse(c))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"claims": out})
}

type auditEventResponse struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	ActorID   string            `json:"actor_id"`
	Action    string            `json:"action"`
	SubjectID string            `json:"subject_id,omitempty"`
	Decision  string            `json:"decision,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (h *AdminHandler) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := queryLimit(r)

	var (
		events []audit.Event
		err    error
	)
	if actor := r.URL.Query().Get("actor"); actor != "" {
		events, err = h.auditLog.ListByActor(ctx, actor, limit)
	} else {
		events, err = h.auditLog.ListRecent(ctx, limit)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]auditEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, auditEventResponse{
			ID:        e.ID,
			Timestamp: e.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
			ActorID:   e.ActorID,
			Action:    string(e.Action),
			SubjectID: e.SubjectID,
			Decision:  e.Decision,
			Reason:    e.Reason,
			RequestID: e.RequestID,
			ClientIP:  e.ClientIP,
			UserAgent: e.UserAgent,
			Metadata:  e.Metadata,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": out})
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (r assignRoleRequest) Validate() error {
	if r.Role == "" {
		return errors.New("role is required")
	}
	return nil
}

func (h *AdminHandler) HandleAssignRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actorID, ok := principalFromContext(w, ctx)
	if !ok {
		return
	}
	principalID, err := uuid.Parse(chi.URLParam(r, "principal_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "principal id must be a UUID"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[assignRoleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.roles.Assign(ctx, actorID, principalID, roles.Role(req.Role)); err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "role assigned",
		"request_id", requestID,
		"principal_id", principalID,
		"role", req.Role,
	)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"principal_id": principalID.String(),
		"role":         req.Role,
	})
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}
