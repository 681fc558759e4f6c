package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EntitlementCache caches the per-user subscription status projection. The
// reconciler and the mutation services invalidate on every entitlement
// change, so a hit is at most one webhook behind.
type EntitlementCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewEntitlementCache creates a new entitlement cache
func NewEntitlementCache(client *redis.Client, logger *zap.Logger) *EntitlementCache {
	return &EntitlementCache{
		client: client,
		logger: logger,
	}
}

const (
	keyStatus = "entitlement:status:%s"

	ttlStatus = 5 * time.Minute
)

// ErrCacheMiss signals the key is not cached.
var ErrCacheMiss = errors.New("cache miss")

// CachedStatus is the cached shape of the subscription status projection.
type CachedStatus struct {
	IsSubscribed       bool       `json:"is_subscribed"`
	TrialStatus        string     `json:"trial_status"`
	TrialEndDate       *time.Time `json:"trial_end_date,omitempty"`
	TrialDaysRemaining int        `json:"trial_days_remaining"`
	Plan               string     `json:"plan,omitempty"`
	CachedAt           time.Time  `json:"cached_at"`
}

// SetStatus stores the status projection with a short TTL
func (c *EntitlementCache) SetStatus(ctx context.Context, userID uuid.UUID, status *CachedStatus) error {
	key := fmt.Sprintf(keyStatus, userID)

	status.CachedAt = time.Now()
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttlStatus).Err(); err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}

	c.logger.Debug("Cached subscription status", zap.String("user_id", userID.String()))
	return nil
}

// GetStatus retrieves the cached status projection
func (c *EntitlementCache) GetStatus(ctx context.Context, userID uuid.UUID) (*CachedStatus, error) {
	key := fmt.Sprintf(keyStatus, userID)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	var status CachedStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}

	return &status, nil
}

// Invalidate drops the cached projection after an entitlement mutation.
// Failures are logged and ignored; the TTL bounds staleness.
func (c *EntitlementCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	key := fmt.Sprintf(keyStatus, userID)

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("Failed to invalidate status cache",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return
	}
	c.logger.Debug("Invalidated subscription status", zap.String("user_id", userID.String()))
}
