package billing

import (
	"encoding/json"
	"time"
)

// EventKind is the closed set of provider notifications the reconciler
// understands. Adding a new provider event means adding a kind here and a
// branch in the reconciler, so an unhandled type is visible in review
// instead of falling through a string switch.
type EventKind int

const (
	// KindUnknown is an event type we have never enumerated.
	KindUnknown EventKind = iota
	KindCheckoutCompleted
	KindSubscriptionCreated
	KindSubscriptionUpdated
	KindSubscriptionDeleted
	KindTrialWillEnd
	KindInvoicePaid
	KindInvoicePaymentFailed
	KindCustomerCreated
	// KindIgnored covers event types we recognize and deliberately skip.
	KindIgnored
)

// Provider subscription statuses as delivered on the wire.
const (
	SubStatusTrialing = "trialing"
	SubStatusActive   = "active"
	SubStatusPastDue  = "past_due"
	SubStatusCanceled = "canceled"
	SubStatusUnpaid   = "unpaid"
)

// ignoredTypes are recognized but require no action: their effects arrive
// through the subscription events.
var ignoredTypes = map[string]struct{}{
	"customer.updated":        {},
	"invoice.created":         {},
	"invoice.finalized":       {},
	"invoice.paid":            {},
	"payment_method.attached": {},
	"setup_intent.created":    {},
	"setup_intent.succeeded":  {},
}

// KindOf maps a provider event-type string onto the closed union.
func KindOf(eventType string) EventKind {
	switch eventType {
	case "checkout.session.completed":
		return KindCheckoutCompleted
	case "customer.subscription.created":
		return KindSubscriptionCreated
	case "customer.subscription.updated":
		return KindSubscriptionUpdated
	case "customer.subscription.deleted":
		return KindSubscriptionDeleted
	case "customer.subscription.trial_will_end":
		return KindTrialWillEnd
	case "invoice.payment_succeeded":
		return KindInvoicePaid
	case "invoice.payment_failed":
		return KindInvoicePaymentFailed
	case "customer.created":
		return KindCustomerCreated
	}
	if _, ok := ignoredTypes[eventType]; ok {
		return KindIgnored
	}
	return KindUnknown
}

// Event is a verified provider notification. Data holds the raw event object
// for the payload decoders below.
type Event struct {
	ID        string
	Type      string
	Kind      EventKind
	CreatedAt time.Time
	Data      json.RawMessage
}

// Metadata is the attribution channel back to the internal identity graph:
// the checkout initiator embeds the user id and package details here, and
// subscription events echo it back.
type Metadata map[string]string

func (m Metadata) UserID() string       { return m["userId"] }
func (m Metadata) UserType() string     { return m["userType"] }
func (m Metadata) PackageName() string  { return m["packageName"] }
func (m Metadata) PackagePrice() string { return m["packagePrice"] }

// expandableID accepts either a bare id string or an expanded object with an
// "id" field, which is how the provider serializes references depending on
// expansion.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

// Subscription is the provider's recurring-payment object, reduced to the
// fields the reconciler consumes. Period bounds and trial end are unix
// seconds.
type Subscription struct {
	ID                 string       `json:"id"`
	Status             string       `json:"status"`
	Customer           expandableID `json:"customer"`
	TrialEnd           int64        `json:"trial_end"`
	CurrentPeriodStart int64        `json:"current_period_start"`
	CurrentPeriodEnd   int64        `json:"current_period_end"`
	Metadata           Metadata     `json:"metadata"`
}

// CustomerID returns the customer reference carried on the subscription.
func (s *Subscription) CustomerID() string { return string(s.Customer) }

// TrialEndTime converts the unix trial end; zero time when absent.
func (s *Subscription) TrialEndTime() time.Time {
	if s.TrialEnd == 0 {
		return time.Time{}
	}
	return time.Unix(s.TrialEnd, 0)
}

// PeriodStartTime converts the unix period start; now when absent, matching
// the checkout-completion case where the provider has not filled it yet.
func (s *Subscription) PeriodStartTime() time.Time {
	if s.CurrentPeriodStart == 0 {
		return time.Now()
	}
	return time.Unix(s.CurrentPeriodStart, 0)
}

// PeriodEndTime converts the unix period end; fallback is applied when
// absent.
func (s *Subscription) PeriodEndTime(fallback time.Time) time.Time {
	if s.CurrentPeriodEnd == 0 {
		return fallback
	}
	return time.Unix(s.CurrentPeriodEnd, 0)
}

// Trialing reports whether the provider considers the subscription in trial.
func (s *Subscription) Trialing() bool { return s.Status == SubStatusTrialing }

// GrantsAccess reports whether the provider status maps to local access.
func (s *Subscription) GrantsAccess() bool {
	return s.Status == SubStatusTrialing || s.Status == SubStatusActive
}

// checkoutSubscription accepts the session's subscription reference either
// as a bare id (not expanded) or as a full object.
type checkoutSubscription struct {
	Subscription
	expanded bool
}

func (c *checkoutSubscription) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		c.Subscription = Subscription{ID: id}
		c.expanded = false
		return nil
	}
	if err := json.Unmarshal(data, &c.Subscription); err != nil {
		return err
	}
	c.expanded = true
	return nil
}

// CheckoutSession is the completed hosted-checkout payload.
type CheckoutSession struct {
	ID           string                `json:"id"`
	Customer     expandableID          `json:"customer"`
	Metadata     Metadata              `json:"metadata"`
	Subscription *checkoutSubscription `json:"subscription"`
}

// CustomerID returns the session's customer reference.
func (s *CheckoutSession) CustomerID() string { return string(s.Customer) }

// SubscriptionID returns the external subscription id, empty when the
// session carried none.
func (s *CheckoutSession) SubscriptionID() string {
	if s.Subscription == nil {
		return ""
	}
	return s.Subscription.ID
}

// SubscriptionDetails returns the nested subscription object when the event
// carried the expanded form.
func (s *CheckoutSession) SubscriptionDetails() (*Subscription, bool) {
	if s.Subscription == nil || !s.Subscription.expanded {
		return nil, false
	}
	return &s.Subscription.Subscription, true
}

// Invoice is reduced to the attribution and line items the payment branches
// consume.
type Invoice struct {
	ID           string       `json:"id"`
	Customer     expandableID `json:"customer"`
	Subscription expandableID `json:"subscription"`
	Lines        InvoiceLines `json:"lines"`
}

// InvoiceLines is the provider's paginated line-item list.
type InvoiceLines struct {
	Data []InvoiceLine `json:"data"`
}

// InvoiceLine carries the price reference a line item was billed under.
type InvoiceLine struct {
	Price struct {
		ID string `json:"id"`
	} `json:"price"`
}

// SubscriptionID returns the owning subscription id; empty for one-time
// invoices.
func (i *Invoice) SubscriptionID() string { return string(i.Subscription) }

// CustomerID returns the invoice's customer reference.
func (i *Invoice) CustomerID() string { return string(i.Customer) }

// BillsPrice reports whether any line item was billed under the given price.
func (i *Invoice) BillsPrice(priceID string) bool {
	if priceID == "" {
		return false
	}
	for _, line := range i.Lines.Data {
		if line.Price.ID == priceID {
			return true
		}
	}
	return false
}

// Customer is the provider customer object.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// DecodeCheckoutSession parses the event payload as a checkout session.
func (e *Event) DecodeCheckoutSession() (*CheckoutSession, error) {
	var s CheckoutSession
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DecodeSubscription parses the event payload as a subscription.
func (e *Event) DecodeSubscription() (*Subscription, error) {
	var s Subscription
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DecodeInvoice parses the event payload as an invoice.
func (e *Event) DecodeInvoice() (*Invoice, error) {
	var i Invoice
	if err := json.Unmarshal(e.Data, &i); err != nil {
		return nil, err
	}
	return &i, nil
}

// DecodeCustomer parses the event payload as a customer.
func (e *Event) DecodeCustomer() (*Customer, error) {
	var c Customer
	if err := json.Unmarshal(e.Data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
