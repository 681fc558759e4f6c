package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edlume/subscription-backend/internal/domain/billing"
	"github.com/edlume/subscription-backend/internal/domain/entity"
	domainErrors "github.com/edlume/subscription-backend/internal/domain/errors"
	"github.com/edlume/subscription-backend/internal/domain/repository"
)

const eventProvider = "stripe"

// StatusInvalidator drops cached entitlement projections after a mutation.
type StatusInvalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID)
}

// TrialNotifier schedules a trial-ending notification for the user.
type TrialNotifier interface {
	NotifyTrialEnding(ctx context.Context, userID uuid.UUID, endsAt time.Time) error
}

// ReconcilerService applies verified billing-provider events to the
// entitlement and subscription-record state. Each event is applied inside a
// single transaction: the entitlement write and the record upsert land or
// fail together, and a redelivered event short-circuits on the persisted
// event log.
type ReconcilerService struct {
	atomic           repository.Atomic
	trialDays        int
	multiSeatPriceID string
	invalidator      StatusInvalidator
	notifier         TrialNotifier
	logger           *zap.Logger
}

// NewReconcilerService creates the webhook event reconciler. multiSeatPriceID
// is the provider price whose paid invoices unlock multi-seat registration.
func NewReconcilerService(atomic repository.Atomic, trialDays int, multiSeatPriceID string, invalidator StatusInvalidator, notifier TrialNotifier, logger *zap.Logger) *ReconcilerService {
	return &ReconcilerService{
		atomic:           atomic,
		trialDays:        trialDays,
		multiSeatPriceID: multiSeatPriceID,
		invalidator:      invalidator,
		notifier:         notifier,
		logger:           logger,
	}
}

// Process applies exactly one state transition for the event. A missing user
// or record is skipped, not failed: deletion and test events can reference
// entities we never had, and surfacing those as errors would get the
// endpoint disabled after repeated redeliveries.
func (s *ReconcilerService) Process(ctx context.Context, ev *billing.Event) error {
	switch ev.Kind {
	case billing.KindIgnored:
		s.logger.Debug("webhook event requires no action", zap.String("type", ev.Type))
		return nil
	case billing.KindUnknown:
		s.logger.Warn("unrecognized webhook event type", zap.String("type", ev.Type))
		return nil
	}

	var touched uuid.UUID
	err := s.atomic.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		fresh, err := r.Events.Insert(ctx, entity.NewWebhookEvent(eventProvider, ev.ID, ev.Type, ev.Data))
		if err != nil {
			return err
		}
		if !fresh {
			s.logger.Info("webhook event already processed", zap.String("event_id", ev.ID))
			return nil
		}

		switch ev.Kind {
		case billing.KindCheckoutCompleted:
			touched, err = s.applyCheckoutCompleted(ctx, r, ev)
		case billing.KindSubscriptionCreated:
			touched, err = s.applySubscriptionCreated(ctx, r, ev)
		case billing.KindSubscriptionUpdated:
			touched, err = s.applySubscriptionUpdated(ctx, r, ev)
		case billing.KindSubscriptionDeleted:
			touched, err = s.applySubscriptionDeleted(ctx, r, ev)
		case billing.KindTrialWillEnd:
			touched, err = s.applyTrialWillEnd(ctx, r, ev)
		case billing.KindInvoicePaid:
			touched, err = s.applyInvoicePaid(ctx, r, ev)
		case billing.KindInvoicePaymentFailed:
			touched, err = s.applyInvoicePaymentFailed(ctx, r, ev)
		case billing.KindCustomerCreated:
			err = s.applyCustomerCreated(ctx, r, ev)
		}
		if err != nil {
			return err
		}
		return r.Events.MarkProcessed(ctx, eventProvider, ev.ID)
	})
	if err != nil {
		return err
	}
	if touched != uuid.Nil && s.invalidator != nil {
		s.invalidator.Invalidate(ctx, touched)
	}
	return nil
}

func (s *ReconcilerService) applyCheckoutCompleted(ctx context.Context, r repository.Repositories, ev *billing.Event) (uuid.UUID, error) {
	sess, err := ev.DecodeCheckoutSession()
	if err != nil {
		return uuid.Nil, err
	}

	user := s.findUser(ctx, r, sess.Metadata.UserID(), sess.CustomerID())
	if user == nil {
		return uuid.Nil, nil
	}

	sub, expanded := sess.SubscriptionDetails()
	if expanded && sub.Trialing() {
		user.StartTrial(sub.TrialEndTime())
	} else {
		user.CompleteSubscription()
	}
	if cid := sess.CustomerID(); cid != "" {
		user.SetBillingCustomer(cid)
	}
	if err := r.Users.UpdateEntitlement(ctx, user); err != nil {
		return uuid.Nil, err
	}

	if extID := sess.SubscriptionID(); extID != "" {
		if err := s.upsertRecord(ctx, r, user.ID, extID, sub, expanded, sess.Metadata, ev.CreatedAt); err != nil {
			return uuid.Nil, err
		}
	}
	return user.ID, nil
}

func (s *ReconcilerService) applySubscriptionCreated(ctx context.Context, r repository.Repositories, ev *billing.Event) (uuid.UUID, error) {
	sub, err := ev.DecodeSubscription()
	if err != nil {
		return uuid.Nil, err
	}

	user := s.findUser(ctx, r, sub.Metadata.UserID(), sub.CustomerID())
	if user == nil {
		return uuid.Nil, nil
	}

	if cid := sub.CustomerID(); cid != "" {
		user.SetBillingCustomer(cid)
	}
	if sub.Trialing() {
		user.StartTrial(sub.TrialEndTime())
	} else {
		user.CompleteSubscription()
	}
	if err := r.Users.UpdateEntitlement(ctx, user); err != nil {
		return uuid.Nil, err
	}

	if err := s.upsertRecord(ctx, r, user.ID, sub.ID, sub, true, sub.Metadata, ev.CreatedAt); err != nil {
		return uuid.Nil, err
	}
	return user.ID, nil
}

func (s *ReconcilerService) applySubscriptionUpdated(ctx context.Context, r repository.Repositories, ev *billing.Event) (uuid.UUID, error) {
	sub, err := ev.DecodeSubscription()
	if err != nil {
		return uuid.Nil, err
	}

	user := s.findUser(ctx, r, sub.Metadata.UserID(), sub.CustomerID())
	if user == nil {
		return uuid.Nil, nil
	}

	switch sub.Status {
	case billing.SubStatusActive:
		user.CompleteSubscription()
	case billing.SubStatusTrialing:
		user.StartTrial(sub.TrialEndTime())
	case billing.SubStatusPastDue:
		user.MarkPastDue()
	case billing.SubStatusCanceled, billing.SubStatusUnpaid:
		user.Revoke()
	default:
		// Transitional provider statuses (incomplete, paused) leave the
		// entitlement untouched.
	}
	if err := r.Users.UpdateEntitlement(ctx, user); err != nil {
		return uuid.Nil, err
	}

	record, err := r.Records.GetByExternalID(ctx, sub.ID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
			s.logger.Warn("subscription update for unknown record", zap.String("subscription_id", sub.ID))
			return user.ID, nil
		}
		return uuid.Nil, err
	}
	if record.SupersededBy(ev.CreatedAt) {
		s.logger.Info("stale subscription update skipped",
			zap.String("subscription_id", sub.ID),
			zap.Time("event_at", ev.CreatedAt),
			zap.Time("last_applied", record.LastEventAt),
		)
		return user.ID, nil
	}

	record.IsActive = sub.GrantsAccess()
	record.CurrentPeriodStart = sub.PeriodStartTime()
	record.CurrentPeriodEnd = sub.PeriodEndTime(record.CurrentPeriodEnd)
	if sub.Status == billing.SubStatusCanceled {
		record.MarkCancelled(time.Now())
	} else {
		record.IsCancelled = false
		record.CancelledAt = nil
	}
	record.Expired = sub.Status == "incomplete_expired"
	record.LastEventAt = ev.CreatedAt
	if err := r.Records.Upsert(ctx, record); err != nil {
		return uuid.Nil, err
	}
	return user.ID, nil
}

func (s *ReconcilerService) applySubscriptionDeleted(ctx context.Context, r repository.Repositories, ev *billing.Event) (uuid.UUID, error) {
	sub, err := ev.DecodeSubscription()
	if err != nil {
		return uuid.Nil, err
	}

	var touched uuid.UUID
	if user := s.findUser(ctx, r, sub.Metadata.UserID(), sub.CustomerID()); user != nil {
		user.Revoke()
		if err := r.Users.UpdateEntitlement(ctx, user); err != nil {
			return uuid.Nil, err
		}
		touched = user.ID
	}

	record, err := r.Records.GetByExternalID(ctx, sub.ID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
			return touched, nil
		}
		return uuid.Nil, err
	}
	record.MarkCancelled(time.Now())
	record.LastEventAt = ev.CreatedAt
	if err := r.Records.Upsert(ctx, record); err != nil {
		return uuid.Nil, err
	}
	return touched, nil
}

func (s *ReconcilerService) applyTrialWillEnd(ctx context.Context, r repository.Repositories, ev *billing.Event) (uuid.UUID, error) {
	sub, err := ev.DecodeSubscription()
	if err != nil {
		return uuid.Nil, err
	}

	user := s.findUser(ctx, r, sub.Metadata.UserID(), sub.CustomerID())
	if user == nil {
		return uuid.Nil, nil
	}

	user.MarkTrialEnding()
	if err := r.Users.UpdateEntitlement(ctx, user); err != nil {
		return uuid.Nil, err
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyTrialEnding(ctx, user.ID, sub.TrialEndTime()); err != nil {
			s.logger.Error("failed to schedule trial-ending notification",
				zap.String("user_id", user.ID.String()),
				zap.Error(err),
			)
		}
	}
	return user.ID, nil
}

func (s *ReconcilerService) applyInvoicePaid(ctx context.Context, r repository.Repositories, ev *billing.Event) (uuid.UUID, error) {
	inv, err := ev.DecodeInvoice()
	if err != nil {
		return uuid.Nil, err
	}

	user, err := s.findInvoiceUser(ctx, r, inv)
	if err != nil || user == nil {
		return uuid.Nil, err
	}

	if !user.IsSubscribed {
		user.CompleteSubscription()
	}
	if inv.BillsPrice(s.multiSeatPriceID) {
		user.AssignPlan(entity.PlanMultiStudent)
	}
	if err := r.Users.UpdateEntitlement(ctx, user); err != nil {
		return uuid.Nil, err
	}
	return user.ID, nil
}

func (s *ReconcilerService) applyInvoicePaymentFailed(ctx context.Context, r repository.Repositories, ev *billing.Event) (uuid.UUID, error) {
	inv, err := ev.DecodeInvoice()
	if err != nil {
		return uuid.Nil, err
	}
	// One-time invoices carry no subscription and are out of scope.
	if inv.SubscriptionID() == "" {
		return uuid.Nil, nil
	}

	user, err := s.findInvoiceUser(ctx, r, inv)
	if err != nil || user == nil {
		return uuid.Nil, err
	}

	user.MarkPaymentFailed()
	if err := r.Users.UpdateEntitlement(ctx, user); err != nil {
		return uuid.Nil, err
	}
	return user.ID, nil
}

// findInvoiceUser resolves an invoice's user through its owning record when
// one exists, falling back to the customer reference.
func (s *ReconcilerService) findInvoiceUser(ctx context.Context, r repository.Repositories, inv *billing.Invoice) (*entity.User, error) {
	if extID := inv.SubscriptionID(); extID != "" {
		record, err := r.Records.GetByExternalID(ctx, extID)
		if err == nil {
			return s.findUser(ctx, r, record.UserID.String(), inv.CustomerID()), nil
		}
		if !errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
			return nil, err
		}
	}
	return s.findUser(ctx, r, "", inv.CustomerID()), nil
}

func (s *ReconcilerService) applyCustomerCreated(ctx context.Context, r repository.Repositories, ev *billing.Event) error {
	cust, err := ev.DecodeCustomer()
	if err != nil {
		return err
	}
	if cust.Email == "" {
		return nil
	}

	user, err := r.Users.GetByEmail(ctx, cust.Email)
	if err != nil {
		if errors.Is(err, domainErrors.ErrUserNotFound) {
			return nil
		}
		return err
	}
	if user.HasBillingCustomer() {
		return nil
	}
	return r.Users.SetBillingCustomerIfAbsent(ctx, user.ID, cust.ID)
}

// upsertRecord applies the record half of a checkout/created transition. For
// an id-only (unexpanded) subscription reference the provider has not filled
// the period bounds yet, so the trial length is used as the fallback window.
func (s *ReconcilerService) upsertRecord(ctx context.Context, r repository.Repositories, userID uuid.UUID, externalID string, sub *billing.Subscription, expanded bool, md billing.Metadata, eventAt time.Time) error {
	totalPaid, _ := strconv.ParseFloat(md.PackagePrice(), 64)

	record, err := r.Records.GetByExternalID(ctx, externalID)
	switch {
	case err == nil:
		if record.SupersededBy(eventAt) {
			return nil
		}
		if expanded {
			record.IsActive = sub.GrantsAccess()
			record.CurrentPeriodStart = sub.PeriodStartTime()
			record.CurrentPeriodEnd = sub.PeriodEndTime(record.CurrentPeriodEnd)
			if sub.Status == billing.SubStatusCanceled {
				record.MarkCancelled(time.Now())
			}
		}
		record.LastEventAt = eventAt
		return r.Records.Upsert(ctx, record)
	case errors.Is(err, domainErrors.ErrSubscriptionNotFound):
		trialing := expanded && sub.Trialing()
		periodStart := time.Now()
		periodEnd := time.Now().Add(time.Duration(s.trialDays) * 24 * time.Hour)
		active := true
		if expanded {
			periodStart = sub.PeriodStartTime()
			periodEnd = sub.PeriodEndTime(periodEnd)
			active = sub.GrantsAccess()
		}
		record := entity.NewSubscriptionRecord(userID, externalID, totalPaid, periodStart, periodEnd, trialing)
		record.IsActive = active
		record.LastEventAt = eventAt
		return r.Records.Upsert(ctx, record)
	default:
		return err
	}
}

// findUser resolves the event's user by metadata id first, then by the
// billing-customer reference for customer-level events that carry no
// metadata. Returns nil when neither resolves.
func (s *ReconcilerService) findUser(ctx context.Context, r repository.Repositories, userIDStr, customerID string) *entity.User {
	if userIDStr != "" {
		if id, err := uuid.Parse(userIDStr); err == nil {
			user, err := r.Users.GetByIDForUpdate(ctx, id)
			if err == nil {
				return user
			}
			if !errors.Is(err, domainErrors.ErrUserNotFound) {
				s.logger.Error("user lookup failed", zap.String("user_id", userIDStr), zap.Error(err))
			}
		}
	}
	if customerID != "" {
		user, err := r.Users.GetByBillingCustomerID(ctx, customerID)
		if err == nil {
			return user
		}
		if !errors.Is(err, domainErrors.ErrUserNotFound) {
			s.logger.Error("user lookup by customer failed", zap.String("customer_id", customerID), zap.Error(err))
		}
	}
	s.logger.Warn("webhook event references unknown user",
		zap.String("user_id", userIDStr),
		zap.String("customer_id", customerID),
	)
	return nil
}
