package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edlume/subscription-backend/internal/application/dto"
	"github.com/edlume/subscription-backend/internal/domain/billing"
	"github.com/edlume/subscription-backend/internal/domain/entity"
	domainErrors "github.com/edlume/subscription-backend/internal/domain/errors"
	"github.com/edlume/subscription-backend/internal/domain/repository"
	"github.com/edlume/subscription-backend/internal/infrastructure/cache"
)

const timeFormat = "2006-01-02T15:04:05Z07:00"

// SubscriptionStatusQuery serves the entitlement projection clients poll.
// Cache-first: the reconciler invalidates on every entitlement change, so a
// hit is at most one undelivered webhook behind and expires within minutes.
type SubscriptionStatusQuery struct {
	users  repository.UserRepository
	cache  *cache.EntitlementCache
	logger *zap.Logger
}

// NewSubscriptionStatusQuery creates a new status query
func NewSubscriptionStatusQuery(users repository.UserRepository, statusCache *cache.EntitlementCache, logger *zap.Logger) *SubscriptionStatusQuery {
	return &SubscriptionStatusQuery{users: users, cache: statusCache, logger: logger}
}

// Execute returns the user's subscription status
func (q *SubscriptionStatusQuery) Execute(ctx context.Context, userID string) (*dto.SubscriptionStatusResponse, error) {
	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid user ID", domainErrors.ErrInvalidInput)
	}

	if q.cache != nil {
		if cached, err := q.cache.GetStatus(ctx, userUUID); err == nil {
			resp := &dto.SubscriptionStatusResponse{
				IsSubscribed:       cached.IsSubscribed,
				TrialStatus:        cached.TrialStatus,
				TrialDaysRemaining: cached.TrialDaysRemaining,
				Plan:               cached.Plan,
				Cached:             true,
			}
			if cached.TrialEndDate != nil {
				resp.TrialEndDate = cached.TrialEndDate.Format(timeFormat)
			}
			return resp, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			q.logger.Warn("status cache read failed", zap.Error(err))
		}
	}

	user, err := q.users.GetByID(ctx, userUUID)
	if err != nil {
		return nil, err
	}

	resp := &dto.SubscriptionStatusResponse{
		IsSubscribed:       user.IsSubscribed,
		TrialStatus:        string(user.TrialStatus),
		TrialDaysRemaining: user.TrialDaysRemaining(time.Now()),
		Plan:               user.Plan,
	}
	if user.TrialEndDate != nil {
		resp.TrialEndDate = user.TrialEndDate.Format(timeFormat)
	}

	if q.cache != nil {
		cached := &cache.CachedStatus{
			IsSubscribed:       user.IsSubscribed,
			TrialStatus:        string(user.TrialStatus),
			TrialEndDate:       user.TrialEndDate,
			TrialDaysRemaining: resp.TrialDaysRemaining,
			Plan:               user.Plan,
		}
		if err := q.cache.SetStatus(ctx, userUUID, cached); err != nil {
			q.logger.Warn("status cache write failed", zap.Error(err))
		}
	}
	return resp, nil
}

// TrialInfoQuery returns the user's trial state
type TrialInfoQuery struct {
	users repository.UserRepository
}

// NewTrialInfoQuery creates a new trial info query
func NewTrialInfoQuery(users repository.UserRepository) *TrialInfoQuery {
	return &TrialInfoQuery{users: users}
}

// Execute returns trial information for the user
func (q *TrialInfoQuery) Execute(ctx context.Context, userID string) (*dto.TrialInfoResponse, error) {
	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid user ID", domainErrors.ErrInvalidInput)
	}

	user, err := q.users.GetByID(ctx, userUUID)
	if err != nil {
		return nil, err
	}

	resp := &dto.TrialInfoResponse{
		TrialStatus:   string(user.TrialStatus),
		DaysRemaining: user.TrialDaysRemaining(time.Now()),
		IsSubscribed:  user.IsSubscribed,
	}
	if user.TrialEndDate != nil {
		resp.TrialEndDate = user.TrialEndDate.Format(timeFormat)
	}
	return resp, nil
}

// SubscriptionDetailsQuery combines the entitlement with the record history
type SubscriptionDetailsQuery struct {
	users   repository.UserRepository
	records repository.SubscriptionRecordRepository
}

// NewSubscriptionDetailsQuery creates a new details query
func NewSubscriptionDetailsQuery(users repository.UserRepository, records repository.SubscriptionRecordRepository) *SubscriptionDetailsQuery {
	return &SubscriptionDetailsQuery{users: users, records: records}
}

// Execute returns the subscription details for the user
func (q *SubscriptionDetailsQuery) Execute(ctx context.Context, userID string) (*dto.SubscriptionDetailsResponse, error) {
	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid user ID", domainErrors.ErrInvalidInput)
	}

	user, err := q.users.GetByID(ctx, userUUID)
	if err != nil {
		return nil, err
	}

	resp := &dto.SubscriptionDetailsResponse{
		IsSubscribed: user.IsSubscribed,
		TrialStatus:  string(user.TrialStatus),
		History:      []dto.SubscriptionRecordResponse{},
	}
	if user.TrialEndDate != nil {
		resp.TrialEndDate = user.TrialEndDate.Format(timeFormat)
	}

	if current, err := q.records.GetCurrentActiveByUserID(ctx, userUUID); err == nil {
		rec := toRecordResponse(current)
		resp.CurrentRecord = &rec
	} else if !errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
		return nil, err
	}

	history, err := q.records.ListByUserID(ctx, userUUID)
	if err != nil {
		return nil, err
	}
	for _, rec := range history {
		resp.History = append(resp.History, toRecordResponse(rec))
	}
	return resp, nil
}

// DebugSubscriptionQuery exposes both sides of the reconciliation. Provider
// errors are reported in the payload instead of failing the request, since
// the point of the endpoint is diagnosing exactly those situations.
type DebugSubscriptionQuery struct {
	users    repository.UserRepository
	records  repository.SubscriptionRecordRepository
	provider billing.Provider
}

// NewDebugSubscriptionQuery creates a new debug query
func NewDebugSubscriptionQuery(users repository.UserRepository, records repository.SubscriptionRecordRepository, provider billing.Provider) *DebugSubscriptionQuery {
	return &DebugSubscriptionQuery{users: users, records: records, provider: provider}
}

// Execute returns the debug view for the user
func (q *DebugSubscriptionQuery) Execute(ctx context.Context, userID string) (*dto.DebugSubscriptionResponse, error) {
	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid user ID", domainErrors.ErrInvalidInput)
	}

	user, err := q.users.GetByID(ctx, userUUID)
	if err != nil {
		return nil, err
	}

	resp := &dto.DebugSubscriptionResponse{
		UserID:                user.ID.String(),
		Email:                 user.Email,
		Role:                  string(user.Role),
		IsSubscribed:          user.IsSubscribed,
		TrialStatus:           string(user.TrialStatus),
		PendingCancellation:   user.PendingCancellation,
		ProviderSubscriptions: []dto.ProviderSubscriptionResponse{},
	}
	if user.BillingCustomerID != nil {
		resp.BillingCustomerID = *user.BillingCustomerID
	}

	if user.HasBillingCustomer() {
		subs, err := q.provider.ListSubscriptions(ctx, *user.BillingCustomerID, "all")
		if err != nil {
			resp.ProviderError = err.Error()
		}
		for _, sub := range subs {
			resp.ProviderSubscriptions = append(resp.ProviderSubscriptions, dto.ProviderSubscriptionResponse{
				ID:               sub.ID,
				Status:           sub.Status,
				TrialEnd:         sub.TrialEnd,
				CurrentPeriodEnd: sub.CurrentPeriodEnd,
			})
		}
	}

	if current, err := q.records.GetCurrentActiveByUserID(ctx, userUUID); err == nil {
		rec := toRecordResponse(current)
		resp.LocalRecord = &rec
	} else if !errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
		return nil, err
	}
	return resp, nil
}

func toRecordResponse(rec *entity.SubscriptionRecord) dto.SubscriptionRecordResponse {
	out := dto.SubscriptionRecordResponse{
		ID:                     rec.ID.String(),
		ExternalSubscriptionID: rec.ExternalSubscriptionID,
		TotalPaid:              rec.TotalPaid,
		SubscriptionDate:       rec.SubscriptionDate.Format(timeFormat),
		IsActive:               rec.IsActive,
		CurrentPeriodStart:     rec.CurrentPeriodStart.Format(timeFormat),
		CurrentPeriodEnd:       rec.CurrentPeriodEnd.Format(timeFormat),
		IsCancelled:            rec.IsCancelled,
		BillingReason:          string(rec.BillingReason),
	}
	if rec.CancelledAt != nil {
		out.CancelledAt = rec.CancelledAt.Format(timeFormat)
	}
	return out
}
