package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"vouch/internal/audit"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/platform/sentinel"
	"vouch/pkg/requestcontext"
)

// Service is the ledger's write/read surface for claim submission and admin
// review. Decisions go through the approval engine, not this service.
type Service struct {
	store   Store
	auditor *audit.Publisher
	logger  *slog.Logger
}

func NewService(store Store, auditor *audit.Publisher, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("claim store is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("audit publisher is required")
	}
	return &Service{store: store, auditor: auditor, logger: logger}, nil
}

// Submit records a purchase claim in pending state. The transaction reference
// must be 5-50 alphanumeric characters; a principal may hold at most one
// active claim per resource.
func (s *Service) Submit(ctx context.Context, principalID uuid.UUID, resourceID, transactionRef string) (uuid.UUID, error) {
	if !ValidReference(transactionRef) {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "transaction reference must be 5-50 alphanumeric characters")
	}
	if resourceID == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "resource id is required")
	}

	claim := Claim{
		ID:             uuid.New(),
		PrincipalID:    principalID,
		ResourceID:     resourceID,
		TransactionRef: transactionRef,
		Status:         StatusPending,
		SubmittedAt:    requestcontext.Now(ctx),
	}

	if err := s.store.Create(ctx, claim); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return uuid.Nil, dErrors.New(dErrors.CodeConflict, "already submitted")
		}
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record claim")
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		ActorID:   principalID.String(),
		Action:    audit.ActionPurchaseSubmitted,
		SubjectID: claim.ID.String(),
		Metadata:  map[string]string{"resource_id": resourceID},
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit claim submission", "error", err)
	}

	return claim.ID, nil
}

func (s *Service) Get(ctx context.Context, claimID uuid.UUID) (Claim, error) {
	claim, err := s.store.Get(ctx, claimID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Claim{}, dErrors.New(dErrors.CodeNotFound, "claim not found")
		}
		return Claim{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load claim")
	}
	return claim, nil
}

// ListByStatus powers the admin review queue.
func (s *Service) ListByStatus(ctx context.Context, status Status, limit int) ([]Claim, error) {
	if !status.Valid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown status")
	}
	claims, err := s.store.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list claims")
	}
	return claims, nil
}
