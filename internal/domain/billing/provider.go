package billing

import "context"

// CreateCustomerParams carries what the provider needs to open a customer
// record for a local account.
type CreateCustomerParams struct {
	Email    string
	Name     string
	Metadata Metadata
}

// CheckoutParams describes a subscription-mode hosted checkout session.
type CheckoutParams struct {
	CustomerID      string
	PriceID         string
	TrialPeriodDays int
	SuccessURL      string
	CancelURL       string
	Metadata        Metadata
}

// ProviderSubscription is a provider-side subscription summary used by the
// debug and status projections.
type ProviderSubscription struct {
	ID               string
	Status           string
	TrialEnd         int64
	CurrentPeriodEnd int64
	Metadata         Metadata
}

// Provider is the narrow contract against the billing provider. One
// implementation is constructed at process start and injected everywhere a
// provider call is made; nothing talks to the provider through package-level
// state.
type Provider interface {
	// CreateCustomer opens a provider customer and returns its id.
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (string, error)

	// CreateCheckoutSession returns the hosted-checkout redirect URL.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)

	// CreatePortalSession returns a self-service management session URL.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)

	// ListSubscriptions lists the customer's subscriptions filtered by
	// provider status ("active", "all", ...).
	ListSubscriptions(ctx context.Context, customerID, status string) ([]ProviderSubscription, error)

	// CancelSubscription cancels immediately, without proration and without
	// an immediate invoice.
	CancelSubscription(ctx context.Context, subscriptionID string) error

	// VerifyWebhook authenticates a raw webhook payload against its
	// signature header and returns the parsed event.
	VerifyWebhook(payload []byte, signature string) (*Event, error)
}
