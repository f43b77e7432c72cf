package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vouch/internal/approval"
	"vouch/internal/purchase"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/platform/httputil"
	"vouch/pkg/requestcontext"
)

type PurchaseService interface {
	Submit(ctx context.Context, principalID uuid.UUID, resourceID, transactionRef string) (uuid.UUID, error)
	Get(ctx context.Context, claimID uuid.UUID) (purchase.Claim, error)
}

type DecisionService interface {
	Approve(ctx context.Context, actorID, claimID uuid.UUID) (approval.Result, error)
	Reject(ctx context.Context, actorID, claimID uuid.UUID, reason string) (approval.Result, error)
}

// PurchaseHandler wires claim submission and the admin decision endpoints.
type PurchaseHandler struct {
	purchases PurchaseService
	decisions DecisionService
	logger    *slog.Logger
}

func NewPurchaseHandler(purchases PurchaseService, decisions DecisionService, logger *slog.Logger) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases, decisions: decisions, logger: logger}
}

// Register mounts the buyer-facing endpoints.
func (h *PurchaseHandler) Register(r chi.Router) {
	r.Post("/purchases", h.HandleSubmit)
	r.Get("/purchases/{id}", h.HandleGet)
}

// RegisterDecisions mounts approve/reject. The caller puts these behind the
// step-up gate.
func (h *PurchaseHandler) RegisterDecisions(r chi.Router) {
	r.Post("/purchases/{id}/approve", h.HandleApprove)
	r.Post("/purchases/{id}/reject", h.HandleReject)
}

type submitRequest struct {
	ResourceID     string `json:"resource_id"`
	TransactionRef string `json:"transaction_ref"`
}

func (r submitRequest) Validate() error {
	if r.ResourceID == "" {
		return errors.New("resource_id is required")
	}
	if r.TransactionRef == "" {
		return errors.New("transaction_ref is required")
	}
	return nil
}

type claimResponse struct {
	ID              uuid.UUID  `json:"id"`
	PrincipalID     uuid.UUID  `json:"principal_id"`
	ResourceID      string     `json:"resource_id"`
	TransactionRef  string     `json:"transaction_ref"`
	Status          string     `json:"status"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	DecidedBy       *uuid.UUID `json:"decided_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

func toClaimResponse(c purchase.Claim) claimResponse {
	return claimResponse{
		ID:              c.ID,
		PrincipalID:     c.PrincipalID,
		ResourceID:      c.ResourceID,
		TransactionRef:  c.TransactionRef,
		Status:          string(c.Status),
		SubmittedAt:     c.SubmittedAt,
		DecidedAt:       c.DecidedAt,
		DecidedBy:       c.DecidedBy,
		RejectionReason: c.RejectionReason,
	}
}

func (h *PurchaseHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	principalID, ok := principalFromContext(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[submitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	claimID, err := h.purchases.Submit(ctx, principalID, req.ResourceID, req.TransactionRef)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "purchase claim submitted",
		"request_id", requestID,
		"claim_id", claimID,
		"resource_id", req.ResourceID,
	)
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{
		"claim_id": claimID.String(),
		"status":   string(purchase.StatusPending),
	})
}

func (h *PurchaseHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principalID, ok := principalFromContext(w, ctx)
	if !ok {
		return
	}
	claimID, ok := claimIDFromPath(w, r)
	if !ok {
		return
	}

	claim, err := h.purchases.Get(ctx, claimID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	// Buyers see their own claims only; existence of other claims is not
	// revealed.
	if claim.PrincipalID != principalID {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "claim not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toClaimResponse(claim))
}

func (h *PurchaseHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(ctx context.Context, actorID, claimID uuid.UUID) (approval.Result, error) {
		return h.decisions.Approve(ctx, actorID, claimID)
	})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *PurchaseHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[rejectRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	h.decide(w, r, func(ctx context.Context, actorID, claimID uuid.UUID) (approval.Result, error) {
		return h.decisions.Reject(ctx, actorID, claimID, req.Reason)
	})
}

func (h *PurchaseHandler) decide(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actorID, claimID uuid.UUID) (approval.Result, error)) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actorID, ok := principalFromContext(w, ctx)
	if !ok {
		return
	}
	claimID, ok := claimIDFromPath(w, r)
	if !ok {
		return
	}

	res, err := fn(ctx, actorID, claimID)
	if dErrors.HasCode(err, dErrors.CodeConflict) {
		// Surface the decision that already stands so the caller does not
		// have to re-fetch.
		httputil.WriteJSON(w, http.StatusConflict, map[string]string{
			"error":             string(dErrors.CodeConflict),
			"error_description": dErrors.MessageOf(err),
			"status":            string(res.Claim.Status),
		})
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "claim decision failed",
			"request_id", requestID,
			"claim_id", claimID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "claim decided",
		"request_id", requestID,
		"claim_id", claimID,
		"status", res.Claim.Status,
	)
	httputil.WriteJSON(w, http.StatusOK, toClaimResponse(res.Claim))
}

func principalFromContext(w http.ResponseWriter, ctx context.Context) (uuid.UUID, bool) {
	raw := requestcontext.PrincipalID(ctx)
	id, err := uuid.Parse(raw)
	if raw == "" || err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return uuid.Nil, false
	}
	return id, true
}

func claimIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "claim id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
