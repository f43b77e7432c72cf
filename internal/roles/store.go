package roles

import (
	"context"

	"github.com/google/uuid"
)

// Store is the durable principal → role mapping. Implementations are pure
// I/O; fail-closed translation of errors lives in the service.
type Store interface {
	FindByID(ctx context.Context, id uuid.UUID) (Principal, error)
	FindByEmail(ctx context.Context, email string) (Principal, error)
	Save(ctx context.Context, principal Principal) error
	UpdateRole(ctx context.Context, id uuid.UUID, role Role) error
}
