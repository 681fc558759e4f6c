package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edlume/subscription-backend/internal/domain/billing"
	domainErrors "github.com/edlume/subscription-backend/internal/domain/errors"
	"github.com/edlume/subscription-backend/internal/domain/repository"
)

// CheckoutInput carries everything needed to start a hosted checkout.
type CheckoutInput struct {
	UserID       uuid.UUID
	PriceID      string
	PackageName  string
	PackagePrice float64
	BillingCycle string
}

// CheckoutResult distinguishes a real checkout redirect from the free-role
// short-circuit, so the handler can report which happened.
type CheckoutResult struct {
	URL            string
	SessionCreated bool
}

// CheckoutService starts hosted checkout sessions, creating the provider
// customer lazily on first checkout.
type CheckoutService struct {
	users       repository.UserRepository
	provider    billing.Provider
	frontendURL string
	trialDays   int
	logger      *zap.Logger
}

// NewCheckoutService creates the checkout session initiator.
func NewCheckoutService(users repository.UserRepository, provider billing.Provider, frontendURL string, trialDays int, logger *zap.Logger) *CheckoutService {
	return &CheckoutService{
		users:       users,
		provider:    provider,
		frontendURL: frontendURL,
		trialDays:   trialDays,
		logger:      logger,
	}
}

// CreateSession validates the request and returns the provider's checkout
// URL. Students never pay: they are sent straight to the dashboard without a
// session. The package metadata rides on the session so webhook events can be
// tied back to the purchasing account.
func (s *CheckoutService) CreateSession(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	user, err := s.users.GetByID(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if user.IsBlocked {
		return nil, domainErrors.ErrUserBlocked
	}

	if !user.RequiresPayment() {
		return &CheckoutResult{URL: s.frontendURL + "/dashboard", SessionCreated: false}, nil
	}

	if in.PriceID == "" {
		return nil, domainErrors.NewValidationError("priceId", "price id is required")
	}
	if in.PackageName == "" {
		return nil, domainErrors.NewValidationError("packageName", "package name is required")
	}
	if in.PackagePrice <= 0 {
		return nil, domainErrors.NewValidationError("packagePrice", "package price must be positive")
	}
	cycle := in.BillingCycle
	if cycle == "" {
		cycle = "monthly"
	}

	if !user.HasBillingCustomer() {
		customerID, err := s.provider.CreateCustomer(ctx, billing.CreateCustomerParams{
			Email: user.Email,
			Name:  user.FullName,
			Metadata: billing.Metadata{
				"userId":   user.ID.String(),
				"userType": string(user.Role),
			},
		})
		if err != nil {
			return nil, &domainErrors.ProviderError{Op: "create customer", Err: err}
		}
		// Persist before the session call: if session creation fails the
		// customer is still on file for the retry.
		if err := s.users.SetBillingCustomerIfAbsent(ctx, user.ID, customerID); err != nil {
			return nil, err
		}
		user.SetBillingCustomer(customerID)
		s.logger.Info("created billing customer",
			zap.String("user_id", user.ID.String()),
			zap.String("customer_id", customerID),
		)
	}

	sessionURL, err := s.provider.CreateCheckoutSession(ctx, billing.CheckoutParams{
		CustomerID:      *user.BillingCustomerID,
		PriceID:         in.PriceID,
		TrialPeriodDays: s.trialDays,
		SuccessURL: fmt.Sprintf("%s/dashboard?success=true&session_id={CHECKOUT_SESSION_ID}&package=%s",
			s.frontendURL, url.QueryEscape(in.PackageName)),
		CancelURL: s.frontendURL + "/subscription?canceled=true",
		Metadata: billing.Metadata{
			"userId":       user.ID.String(),
			"userType":     string(user.Role),
			"billingCycle": cycle,
			"packageName":  in.PackageName,
			"packagePrice": strconv.FormatFloat(in.PackagePrice, 'f', -1, 64),
		},
	})
	if err != nil {
		return nil, &domainErrors.ProviderError{Op: "create checkout session", Err: err}
	}

	return &CheckoutResult{URL: sessionURL, SessionCreated: true}, nil
}
