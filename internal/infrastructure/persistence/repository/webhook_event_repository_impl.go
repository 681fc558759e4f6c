package repository

import (
	"context"
	"time"

	"github.com/edlume/subscription-backend/internal/domain/entity"
)

// WebhookEventRepositoryImpl implements WebhookEventRepository using pgx
type WebhookEventRepositoryImpl struct {
	db Querier
}

// NewWebhookEventRepository creates a new webhook event repository
func NewWebhookEventRepository(db Querier) *WebhookEventRepositoryImpl {
	return &WebhookEventRepositoryImpl{db: db}
}

// Insert stores an accepted event; returns false on a redelivered event id
func (r *WebhookEventRepositoryImpl) Insert(ctx context.Context, event *entity.WebhookEvent) (bool, error) {
	query := `
		INSERT INTO webhook_events (id, provider, event_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, event_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		event.ID, event.Provider, event.EventID, event.EventType, event.Payload, event.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkProcessed stamps the event's completion time
func (r *WebhookEventRepositoryImpl) MarkProcessed(ctx context.Context, provider, eventID string) error {
	query := `UPDATE webhook_events SET processed_at = $3 WHERE provider = $1 AND event_id = $2`
	_, err := r.db.Exec(ctx, query, provider, eventID, time.Now())
	return err
}

// DeleteOlderThan trims processed events past the retention window
func (r *WebhookEventRepositoryImpl) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM webhook_events WHERE processed_at IS NOT NULL AND created_at < $1`
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
