package repository

import (
	"context"
	"time"

	"github.com/edlume/subscription-backend/internal/domain/entity"
)

// WebhookEventRepository persists the accepted-event log used for
// idempotency and auditing.
type WebhookEventRepository interface {
	// Insert stores the event and returns false when the provider event id
	// was already recorded (redelivery).
	Insert(ctx context.Context, event *entity.WebhookEvent) (bool, error)

	MarkProcessed(ctx context.Context, provider, eventID string) error

	// DeleteOlderThan trims processed events past the retention window and
	// returns the number removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
