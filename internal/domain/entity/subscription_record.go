package entity

import (
	"time"

	"github.com/google/uuid"
)

// BillingReason distinguishes trial-started records from paid ones.
type BillingReason string

const (
	BillingReasonTrial        BillingReason = "trial"
	BillingReasonSubscription BillingReason = "subscription"
)

// SubscriptionRecord is one period of a provider subscription, kept for
// auditing and reporting. Records are upserted by the external subscription
// id and never physically deleted; cancellation sets flags.
type SubscriptionRecord struct {
	ID                     uuid.UUID
	UserID                 uuid.UUID
	ExternalSubscriptionID string
	TotalPaid              float64
	SubscriptionDate       time.Time
	IsActive               bool
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	IsCancelled            bool
	CancelledAt            *time.Time
	Expired                bool
	BillingReason          BillingReason
	// LastEventAt is the provider timestamp of the most recently applied
	// event for this subscription id. Updates carrying an older timestamp
	// are skipped.
	LastEventAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewSubscriptionRecord creates a record for a newly observed provider
// subscription.
func NewSubscriptionRecord(userID uuid.UUID, externalID string, totalPaid float64, periodStart, periodEnd time.Time, trialing bool) *SubscriptionRecord {
	now := time.Now()
	reason := BillingReasonSubscription
	if trialing {
		reason = BillingReasonTrial
	}
	return &SubscriptionRecord{
		ID:                     uuid.New(),
		UserID:                 userID,
		ExternalSubscriptionID: externalID,
		TotalPaid:              totalPaid,
		SubscriptionDate:       now,
		IsActive:               true,
		CurrentPeriodStart:     periodStart,
		CurrentPeriodEnd:       periodEnd,
		BillingReason:          reason,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// MarkCancelled flips the cancellation flags without deleting the record.
func (r *SubscriptionRecord) MarkCancelled(at time.Time) {
	r.IsActive = false
	r.IsCancelled = true
	r.CancelledAt = &at
	r.UpdatedAt = time.Now()
}

// SupersededBy reports whether an event at ts is older than the last applied
// one and should be dropped.
func (r *SubscriptionRecord) SupersededBy(ts time.Time) bool {
	return !ts.IsZero() && ts.Before(r.LastEventAt)
}
