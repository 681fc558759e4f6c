package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/edlume/subscription-backend/internal/domain/entity"
)

// SubscriptionRecordRepository defines access to the append-oriented
// subscription period log. The external subscription id is the upsert key.
type SubscriptionRecordRepository interface {
	GetByExternalID(ctx context.Context, externalID string) (*entity.SubscriptionRecord, error)

	// Upsert inserts a record for a new external id or overwrites the
	// mutable fields of the existing one.
	Upsert(ctx context.Context, record *entity.SubscriptionRecord) error

	// GetCurrentActiveByUserID returns the most recent active,
	// non-cancelled record for the user.
	GetCurrentActiveByUserID(ctx context.Context, userID uuid.UUID) (*entity.SubscriptionRecord, error)

	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*entity.SubscriptionRecord, error)
}
