package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcwait "github.com/testcontainers/testcontainers-go/wait"

	"github.com/edlume/subscription-backend/internal/domain/entity"
	domainErrors "github.com/edlume/subscription-backend/internal/domain/errors"
	"github.com/edlume/subscription-backend/internal/domain/repository"
)

// setupTestDB starts a PostgreSQL container, applies the migrations and
// returns a connected pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "subscriptions_test",
		},
		WaitingFor: tcwait.ForAll(
			tcwait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			tcwait.ForListeningPort("5432/tcp"),
		).WithDeadline(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://test:test@%s:%s/subscriptions_test?sslmode=disable", host, mappedPort.Port())

	m, err := migrate.New("file://../../../../migrations", connString)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))

	return pool
}

func TestUserRepositoryRoundTrip(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(pool)

	user := entity.NewUser("Pat Doe", "pat", "pat@example.com", entity.RoleParent)
	require.NoError(t, repo.Create(ctx, user))

	got, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, got.Email)
	assert.Equal(t, entity.RoleParent, got.Role)
	assert.False(t, got.IsSubscribed)

	got.StartTrial(time.Now().Add(14 * 24 * time.Hour))
	got.AssignPlan(entity.PlanMultiStudent)
	require.NoError(t, repo.UpdateEntitlement(ctx, got))

	got, err = repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSubscribed)
	assert.Equal(t, entity.TrialActive, got.TrialStatus)
	require.NotNil(t, got.TrialEndDate)
	assert.Equal(t, entity.PlanMultiStudent, got.Plan)

	_, err = repo.GetByID(ctx, entity.NewUser("Nobody", "none", "none@example.com", entity.RoleParent).ID)
	assert.ErrorIs(t, err, domainErrors.ErrUserNotFound)
}

func TestUserRepositoryBillingCustomerBackfill(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(pool)

	user := entity.NewUser("Pat Doe", "pat", "pat2@example.com", entity.RoleTeacher)
	require.NoError(t, repo.Create(ctx, user))

	require.NoError(t, repo.SetBillingCustomerIfAbsent(ctx, user.ID, "cus_first"))
	// Second write must not overwrite.
	require.NoError(t, repo.SetBillingCustomerIfAbsent(ctx, user.ID, "cus_second"))

	got, err := repo.GetByBillingCustomerID(ctx, "cus_first")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = repo.GetByBillingCustomerID(ctx, "cus_second")
	assert.ErrorIs(t, err, domainErrors.ErrUserNotFound)
}

func TestSubscriptionRecordUpsertKeyedByExternalID(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(pool)
	records := NewSubscriptionRecordRepository(pool)

	user := entity.NewUser("Pat Doe", "pat", "pat3@example.com", entity.RoleParent)
	require.NoError(t, users.Create(ctx, user))

	start := time.Now().Truncate(time.Second)
	rec := entity.NewSubscriptionRecord(user.ID, "sub_123", 29.99, start, start.AddDate(0, 1, 0), false)
	require.NoError(t, records.Upsert(ctx, rec))

	// Redelivery of the same subscription updates the row in place.
	rec.IsActive = false
	rec.LastEventAt = time.Now()
	require.NoError(t, records.Upsert(ctx, rec))

	got, err := records.GetByExternalID(ctx, "sub_123")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, user.ID, got.UserID)

	history, err := records.ListByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = records.GetCurrentActiveByUserID(ctx, user.ID)
	assert.ErrorIs(t, err, domainErrors.ErrSubscriptionNotFound)
}

func TestCouponRepositoryRedemptions(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(pool)
	coupons := NewCouponRepository(pool)

	issuer := entity.NewUser("Taylor Kim", "taylor", "taylor@example.com", entity.RoleTeacher)
	redeemer := entity.NewUser("Sam Lee", "sam", "sam@example.com", entity.RoleStudent)
	require.NoError(t, users.Create(ctx, issuer))
	require.NoError(t, users.Create(ctx, redeemer))

	now := time.Now()
	coupon := entity.NewCoupon(issuer.ID, "class24", entity.CouponFreeAccess, 100, 5, now, now.AddDate(1, 0, 0))
	require.NoError(t, coupons.Create(ctx, coupon))

	require.True(t, coupon.Redeem(redeemer.ID, now))
	require.NoError(t, coupons.SaveRedemption(ctx, coupon, coupon.Redemptions[0]))
	// Duplicate write is a no-op at the row level.
	require.NoError(t, coupons.SaveRedemption(ctx, coupon, coupon.Redemptions[0]))

	got, err := coupons.GetByID(ctx, coupon.ID)
	require.NoError(t, err)
	assert.Equal(t, "CLASS24", got.Code)
	assert.Equal(t, 1, got.UsedCount)
	require.Len(t, got.Redemptions, 1)
	assert.Equal(t, redeemer.ID, got.Redemptions[0].UserID)

	mine, err := coupons.ListByCreator(ctx, issuer.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	require.NoError(t, coupons.Delete(ctx, coupon.ID))
	_, err = coupons.GetByID(ctx, coupon.ID)
	assert.ErrorIs(t, err, domainErrors.ErrCouponNotFound)
}

func TestWebhookEventDeduplication(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	events := NewWebhookEventRepository(pool)

	ev := entity.NewWebhookEvent("stripe", "evt_1", "customer.subscription.updated", []byte(`{"id":"evt_1"}`))
	fresh, err := events.Insert(ctx, ev)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = events.Insert(ctx, entity.NewWebhookEvent("stripe", "evt_1", "customer.subscription.updated", []byte(`{"id":"evt_1"}`)))
	require.NoError(t, err)
	assert.False(t, fresh)

	require.NoError(t, events.MarkProcessed(ctx, "stripe", "evt_1"))

	deleted, err := events.DeleteOlderThan(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestAtomicRollsBackOnError(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	atomic := NewAtomic(pool)

	user := entity.NewUser("Pat Doe", "pat", "pat4@example.com", entity.RoleParent)
	wantErr := errors.New("boom")
	err := atomic.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		if err := r.Users.Create(ctx, user); err != nil {
			return err
		}
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	_, err = atomic.Repos().Users.GetByID(ctx, user.ID)
	assert.ErrorIs(t, err, domainErrors.ErrUserNotFound)
}
