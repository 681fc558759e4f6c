package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
	"go.uber.org/zap"

	"github.com/edlume/subscription-backend/internal/domain/billing"
	domainErrors "github.com/edlume/subscription-backend/internal/domain/errors"
	"github.com/edlume/subscription-backend/internal/infrastructure/config"
)

// Gateway implements billing.Provider against Stripe. The client is owned by
// the gateway instance; nothing configures the SDK through package globals.
type Gateway struct {
	client        *stripe.Client
	webhookSecret string
	logger        *zap.Logger
}

// NewGateway creates a Stripe-backed billing provider
func NewGateway(cfg config.StripeConfig, logger *zap.Logger) (*Gateway, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret is required")
	}
	return &Gateway{
		client:        stripe.NewClient(cfg.SecretKey),
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}, nil
}

// CreateCustomer opens a Stripe customer and returns its id
func (g *Gateway) CreateCustomer(ctx context.Context, params billing.CreateCustomerParams) (string, error) {
	cust, err := g.client.V1Customers.Create(ctx, &stripe.CustomerCreateParams{
		Email:    stripe.String(params.Email),
		Name:     stripe.String(params.Name),
		Metadata: params.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("stripe customer create: %w", err)
	}
	g.logger.Info("created stripe customer", zap.String("customer_id", cust.ID))
	return cust.ID, nil
}

// CreateCheckoutSession starts a subscription-mode hosted checkout
func (g *Gateway) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (string, error) {
	sessionParams := &stripe.CheckoutSessionCreateParams{
		Customer: stripe.String(params.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		Metadata:   params.Metadata,
	}
	if params.TrialPeriodDays > 0 {
		sessionParams.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(int64(params.TrialPeriodDays)),
			// Echoed back on every subscription event for attribution.
			Metadata: params.Metadata,
		}
	}

	sess, err := g.client.V1CheckoutSessions.Create(ctx, sessionParams)
	if err != nil {
		return "", fmt.Errorf("stripe checkout session create: %w", err)
	}
	return sess.URL, nil
}

// CreatePortalSession returns a billing portal session URL
func (g *Gateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	sess, err := g.client.V1BillingPortalSessions.Create(ctx, &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return "", fmt.Errorf("stripe portal session create: %w", err)
	}
	return sess.URL, nil
}

// ListSubscriptions lists a customer's subscriptions by status
func (g *Gateway) ListSubscriptions(ctx context.Context, customerID, status string) ([]billing.ProviderSubscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
	}
	if status != "" {
		params.Status = stripe.String(status)
	}

	var subs []billing.ProviderSubscription
	for sub, err := range g.client.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return nil, fmt.Errorf("stripe subscription list: %w", err)
		}
		subs = append(subs, toProviderSubscription(sub))
	}
	return subs, nil
}

func toProviderSubscription(sub *stripe.Subscription) billing.ProviderSubscription {
	out := billing.ProviderSubscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		TrialEnd: sub.TrialEnd,
		Metadata: billing.Metadata(sub.Metadata),
	}
	// Period bounds live on the items since API version 2025-03-31.
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		out.CurrentPeriodEnd = sub.Items.Data[0].CurrentPeriodEnd
	}
	return out
}

// CancelSubscription cancels immediately without proration or a final invoice
func (g *Gateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	_, err := g.client.V1Subscriptions.Cancel(ctx, subscriptionID, &stripe.SubscriptionCancelParams{
		InvoiceNow: stripe.Bool(false),
		Prorate:    stripe.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("stripe subscription cancel: %w", err)
	}
	g.logger.Info("cancelled stripe subscription", zap.String("subscription_id", subscriptionID))
	return nil
}

// VerifyWebhook authenticates the payload signature and maps the event onto
// the internal representation. The API-version mismatch check is relaxed:
// payload decoding is done by the billing package against the fields it
// needs, not by the SDK's pinned version.
func (g *Gateway) VerifyWebhook(payload []byte, signature string) (*billing.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrInvalidSignature, err)
	}

	eventType := string(event.Type)
	return &billing.Event{
		ID:        event.ID,
		Type:      eventType,
		Kind:      billing.KindOf(eventType),
		CreatedAt: time.Unix(event.Created, 0),
		Data:      event.Data.Raw,
	}, nil
}
