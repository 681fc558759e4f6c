package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edlume/subscription-backend/internal/domain/repository"
)

// AtomicImpl implements repository.Atomic over a pgx connection pool.
type AtomicImpl struct {
	pool *pgxpool.Pool
}

// NewAtomic creates the transaction runner
func NewAtomic(pool *pgxpool.Pool) *AtomicImpl {
	return &AtomicImpl{pool: pool}
}

// WithinTx runs fn with repositories bound to one transaction. Commit on nil,
// rollback on error or panic.
func (a *AtomicImpl) WithinTx(ctx context.Context, fn func(ctx context.Context, r repository.Repositories) error) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	repos := repository.Repositories{
		Users:   NewUserRepository(tx),
		Records: NewSubscriptionRecordRepository(tx),
		Coupons: NewCouponRepository(tx),
		Events:  NewWebhookEventRepository(tx),
	}
	if err := fn(ctx, repos); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Repos returns repositories bound directly to the pool for reads and
// single-statement writes that need no transaction.
func (a *AtomicImpl) Repos() repository.Repositories {
	return repository.Repositories{
		Users:   NewUserRepository(a.pool),
		Records: NewSubscriptionRecordRepository(a.pool),
		Coupons: NewCouponRepository(a.pool),
		Events:  NewWebhookEventRepository(a.pool),
	}
}
