package audit

import "context"

// Store is append-only. No implementation exposes update or delete; forensic
// queries are reads over the full history.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByActor(ctx context.Context, actorID string, limit int) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// MirrorSource is implemented by stores that track which events have been
// mirrored to the external log. The mirror worker drains it in ID order.
type MirrorSource interface {
	NextUnmirrored(ctx context.Context, limit int) ([]Event, error)
	MarkMirrored(ctx context.Context, ids []string) error
}
