package entity

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is the persisted log of accepted provider notifications.
// The provider event id is unique; a redelivered event is recognized here
// and skipped by the reconciler.
type WebhookEvent struct {
	ID          uuid.UUID
	Provider    string
	EventID     string
	EventType   string
	Payload     []byte
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

// NewWebhookEvent records an accepted event before dispatch.
func NewWebhookEvent(provider, eventID, eventType string, payload []byte) *WebhookEvent {
	return &WebhookEvent{
		ID:        uuid.New(),
		Provider:  provider,
		EventID:   eventID,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// MarkProcessed stamps the completion time.
func (e *WebhookEvent) MarkProcessed() {
	now := time.Now()
	e.ProcessedAt = &now
}
