package repository

import "context"

// Repositories bundles the data-access interfaces bound to one transaction.
type Repositories struct {
	Users   UserRepository
	Records SubscriptionRecordRepository
	Coupons CouponRepository
	Events  WebhookEventRepository
}

// Atomic runs fn with repositories bound to a single transaction; the
// transaction commits when fn returns nil and rolls back otherwise. The
// reconciler uses this so the entitlement write and the record upsert land
// or fail together.
type Atomic interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error
}
