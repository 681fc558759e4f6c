package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edlume/subscription-backend/internal/domain/billing"
	domainErrors "github.com/edlume/subscription-backend/internal/domain/errors"
	"github.com/edlume/subscription-backend/internal/domain/repository"
)

// PortalService hands out self-service billing portal sessions and performs
// the admin-side cancellation.
type PortalService struct {
	users       repository.UserRepository
	provider    billing.Provider
	atomic      repository.Atomic
	frontendURL string
	invalidator StatusInvalidator
	logger      *zap.Logger
}

// NewPortalService creates the portal and cancellation gateway.
func NewPortalService(users repository.UserRepository, provider billing.Provider, atomic repository.Atomic, frontendURL string, invalidator StatusInvalidator, logger *zap.Logger) *PortalService {
	return &PortalService{
		users:       users,
		provider:    provider,
		atomic:      atomic,
		frontendURL: frontendURL,
		invalidator: invalidator,
		logger:      logger,
	}
}

// CreateSession returns a provider-hosted management session URL. A user
// without a billing customer has nothing to manage.
func (s *PortalService) CreateSession(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if !user.HasBillingCustomer() {
		return "", domainErrors.ErrNoBillingCustomer
	}

	sessionURL, err := s.provider.CreatePortalSession(ctx, *user.BillingCustomerID, s.frontendURL+"/subscription")
	if err != nil {
		return "", &domainErrors.ProviderError{Op: "create portal session", Err: err}
	}
	return sessionURL, nil
}

// CancelResult reports what an admin cancellation did.
type CancelResult struct {
	CancelledCount int
	HadCustomer    bool
}

// CancelByAdmin cancels every active provider subscription for the user,
// then revokes the local entitlement and clears the customer reference. The
// local write happens only after every provider cancellation succeeded; the
// pending-cancellation flag marks that confirming deletion events are still
// in flight.
func (s *PortalService) CancelByAdmin(ctx context.Context, targetID uuid.UUID) (*CancelResult, error) {
	user, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !user.HasBillingCustomer() {
		return &CancelResult{HadCustomer: false}, nil
	}
	customerID := *user.BillingCustomerID

	subs, err := s.provider.ListSubscriptions(ctx, customerID, "active")
	if err != nil {
		return nil, &domainErrors.ProviderError{Op: "list subscriptions", Err: err}
	}
	if len(subs) == 0 {
		return &CancelResult{HadCustomer: true}, nil
	}

	for _, sub := range subs {
		if err := s.provider.CancelSubscription(ctx, sub.ID); err != nil {
			return nil, &domainErrors.ProviderError{Op: "cancel subscription", Err: err}
		}
	}

	err = s.atomic.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		locked, err := r.Users.GetByIDForUpdate(ctx, targetID)
		if err != nil {
			return err
		}
		locked.Revoke()
		locked.BillingCustomerID = nil
		locked.PendingCancellation = true
		return r.Users.UpdateEntitlement(ctx, locked)
	})
	if err != nil {
		return nil, err
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, targetID)
	}
	s.logger.Info("admin cancelled subscriptions",
		zap.String("user_id", targetID.String()),
		zap.Int("count", len(subs)),
	)
	return &CancelResult{CancelledCount: len(subs), HadCustomer: true}, nil
}
