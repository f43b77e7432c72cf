package audit

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"vouch/pkg/requestcontext"
)

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

// Emit stamps identity and request context onto the event and appends it.
// Callers own the rule "exactly one entry per privileged action"; Emit never
// drops or merges events.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = requestcontext.UserAgent(ctx)
	}

	if err := p.store.Append(ctx, event); err != nil {
		return fmt.Errorf("append audit event %s: %w", event.Action, err)
	}
	return nil
}

func (p *Publisher) ListByActor(ctx context.Context, actorID string, limit int) ([]Event, error) {
	return p.store.ListByActor(ctx, actorID, limit)
}

func (p *Publisher) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	return p.store.ListRecent(ctx, limit)
}
