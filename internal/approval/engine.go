package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"vouch/internal/audit"
	"vouch/internal/notify"
	"vouch/internal/platform/metrics"
	"vouch/internal/purchase"
	"vouch/internal/roles"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/platform/sentinel"
	txcontext "vouch/pkg/platform/tx"
	"vouch/pkg/requestcontext"
)

var tracer = otel.Tracer("vouch-approval")

// Waker nudges the notification worker after a decision commits so delivery
// starts ahead of the next poll.
type Waker interface {
	Kick()
}

// Result is the outcome of an approve or reject call. Decided is false when
// another admin got there first; Claim then carries their decision unchanged.
type Result struct {
	Claim   purchase.Claim
	Decided bool
}

// Engine drives claim decisions. Each decision is one transaction: the CAS
// transition, its audit entry, and the notification obligation commit
// together or not at all. Delivery itself happens after commit and can never
// unwind a decision.
type Engine struct {
	ledger     purchase.Store
	principals *roles.Service
	auditor    *audit.Publisher
	outbox     notify.Outbox
	runner     txcontext.Runner
	logger     *slog.Logger
	metrics    *metrics.Metrics
	waker      Waker
}

type Option func(*Engine)

// WithWaker installs a post-commit wake signal for the delivery worker.
func WithWaker(w Waker) Option {
	return func(e *Engine) { e.waker = w }
}

func NewEngine(ledger purchase.Store, principals *roles.Service, auditor *audit.Publisher, outbox notify.Outbox, runner txcontext.Runner, logger *slog.Logger, m *metrics.Metrics, opts ...Option) (*Engine, error) {
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if principals == nil {
		return nil, errors.New("principals service is required")
	}
	if auditor == nil {
		return nil, errors.New("auditor is required")
	}
	if outbox == nil {
		return nil, errors.New("outbox is required")
	}
	if runner == nil {
		return nil, errors.New("tx runner is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	e := &Engine{
		ledger:     ledger,
		principals: principals,
		auditor:    auditor,
		outbox:     outbox,
		runner:     runner,
		logger:     logger,
		metrics:    m,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Approve moves a pending claim to approved.
func (e *Engine) Approve(ctx context.Context, actorID, claimID uuid.UUID) (Result, error) {
	return e.decide(ctx, actorID, claimID, purchase.StatusApproved, "")
}

// Reject moves a pending claim to rejected. A reason is mandatory: the buyer
// is told why, and the audit trail records it.
func (e *Engine) Reject(ctx context.Context, actorID, claimID uuid.UUID, reason string) (Result, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "rejection reason is required")
	}
	return e.decide(ctx, actorID, claimID, purchase.StatusRejected, reason)
}

func (e *Engine) decide(ctx context.Context, actorID, claimID uuid.UUID, to purchase.Status, reason string) (Result, error) {
	ctx, span := tracer.Start(ctx, "approval.decide",
		trace.WithAttributes(
			attribute.String("claim_id", claimID.String()),
			attribute.String("target_status", string(to)),
		),
	)
	defer span.End()

	if err := e.principals.Require(ctx, actorID, roles.AdminRoles...); err != nil {
		return Result{}, err
	}

	var (
		claim purchase.Claim
		won   bool
	)
	err := e.runner.RunInTx(ctx, func(ctx context.Context) error {
		c, w, err := e.ledger.Decide(ctx, claimID, to, actorID, reason, requestcontext.Now(ctx))
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "claim not found")
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "decide claim")
		}
		claim, won = c, w

		if !won {
			// The losing caller still leaves a trace; the stored decision
			// is surfaced untouched.
			return e.auditor.Emit(ctx, audit.Event{
				ActorID:   actorID.String(),
				Action:    audit.ActionPurchaseDecisionConflict,
				SubjectID: claimID.String(),
				Decision:  string(c.Status),
				Reason:    "claim already decided",
			})
		}

		action := audit.ActionPurchaseApproved
		if to == purchase.StatusRejected {
			action = audit.ActionPurchaseRejected
		}
		if err := e.auditor.Emit(ctx, audit.Event{
			ActorID:   actorID.String(),
			Action:    action,
			SubjectID: claimID.String(),
			Decision:  string(to),
			Reason:    reason,
		}); err != nil {
			return fmt.Errorf("audit decision: %w", err)
		}

		return e.enqueueNotification(ctx, claim, to, reason)
	})
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	if !won {
		e.countDecision("conflict")
		e.logger.WarnContext(ctx, "decision on already-decided claim",
			"claim_id", claimID,
			"actor_id", actorID,
			"stored_status", claim.Status,
		)
		return Result{Claim: claim, Decided: false}, dErrors.New(dErrors.CodeConflict, "claim already decided")
	}

	e.countDecision(string(to))
	span.SetAttributes(attribute.String("outcome", string(to)))
	if e.waker != nil {
		e.waker.Kick()
	}
	return Result{Claim: claim, Decided: true}, nil
}

// enqueueNotification writes the outbox row inside the decision transaction.
// Only the recipient lookup is allowed to degrade: a principal we cannot
// resolve gets logged and skipped rather than blocking the decision.
func (e *Engine) enqueueNotification(ctx context.Context, claim purchase.Claim, to purchase.Status, reason string) error {
	principal, err := e.principals.FindByID(ctx, claim.PrincipalID)
	if err != nil {
		e.logger.WarnContext(ctx, "skipping notification, principal lookup failed",
			"claim_id", claim.ID,
			"principal_id", claim.PrincipalID,
			"error", err,
		)
		return nil
	}

	kind := notify.KindPurchaseApproved
	payload := map[string]string{"status": string(to)}
	if to == purchase.StatusRejected {
		kind = notify.KindPurchaseRejected
		payload["reason"] = reason
	}
	ev := notify.Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		ClaimID:    claim.ID,
		Recipient:  principal.Email,
		ResourceID: claim.ResourceID,
		Payload:    payload,
	}
	if err := e.outbox.Enqueue(ctx, ev, requestcontext.Now(ctx)); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

func (e *Engine) countDecision(outcome string) {
	if e.metrics != nil {
		e.metrics.ClaimDecisions.WithLabelValues(outcome).Inc()
	}
}
