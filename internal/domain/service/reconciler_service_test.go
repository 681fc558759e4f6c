package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edlume/subscription-backend/internal/domain/billing"
	"github.com/edlume/subscription-backend/internal/domain/entity"
)

type reconcilerFixture struct {
	store    *memStore
	svc      *ReconcilerService
	inv      *fakeInvalidator
	notifier *fakeNotifier
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	store := newMemStore()
	inv := &fakeInvalidator{}
	notifier := &fakeNotifier{}
	svc := NewReconcilerService(&memAtomic{store: store}, 14, "price_multi_seat", inv, notifier, zap.NewNop())
	return &reconcilerFixture{store: store, svc: svc, inv: inv, notifier: notifier}
}

func (f *reconcilerFixture) seedUser(t *testing.T, role entity.Role) *entity.User {
	t.Helper()
	user := entity.NewUser("Jane Teacher", "jane", "jane@example.com", role)
	f.store.putUser(user)
	return user
}

func makeEvent(id, eventType string, createdAt time.Time, payload any) *billing.Event {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return &billing.Event{
		ID:        id,
		Type:      eventType,
		Kind:      billing.KindOf(eventType),
		CreatedAt: createdAt,
		Data:      data,
	}
}

func TestReconcilerCheckoutCompletedTrialing(t *testing.T) {
	f := newReconcilerFixture(t)
	user := f.seedUser(t, entity.RoleTeacher)

	trialEnd := time.Now().Add(14 * 24 * time.Hour).Unix()
	periodStart := time.Now().Unix()
	ev := makeEvent("evt_1", "checkout.session.completed", time.Now(), map[string]any{
		"id":       "cs_1",
		"customer": "cus_123",
		"metadata": map[string]string{
			"userId":       user.ID.String(),
			"userType":     "Teacher",
			"packageName":  "Pro",
			"packagePrice": "29.99",
		},
		"subscription": map[string]any{
			"id":                   "sub_1",
			"status":               "trialing",
			"customer":             "cus_123",
			"trial_end":            trialEnd,
			"current_period_start": periodStart,
			"current_period_end":   trialEnd,
		},
	})

	require.NoError(t, f.svc.Process(context.Background(), ev))

	got := f.store.user(user.ID)
	assert.True(t, got.IsSubscribed)
	assert.Equal(t, entity.TrialActive, got.TrialStatus)
	require.NotNil(t, got.TrialEndDate)
	assert.Equal(t, trialEnd, got.TrialEndDate.Unix())
	require.NotNil(t, got.BillingCustomerID)
	assert.Equal(t, "cus_123", *got.BillingCustomerID)
	assert.True(t, got.EntitlementConsistent())

	rec := f.store.record("sub_1")
	require.NotNil(t, rec)
	assert.Equal(t, user.ID, rec.UserID)
	assert.True(t, rec.IsActive)
	assert.Equal(t, entity.BillingReasonTrial, rec.BillingReason)
	assert.Equal(t, 29.99, rec.TotalPaid)

	assert.Equal(t, []uuid.UUID{user.ID}, f.inv.ids)
}

func TestReconcilerCheckoutCompletedUnexpandedSubscription(t *testing.T) {
	f := newReconcilerFixture(t)
	user := f.seedUser(t, entity.RoleParent)

	ev := makeEvent("evt_2", "checkout.session.completed", time.Now(), map[string]any{
		"id":       "cs_2",
		"customer": "cus_456",
		"metadata": map[string]string{
			"userId":       user.ID.String(),
			"packagePrice": "9.99",
		},
		"subscription": "sub_2",
	})

	require.NoError(t, f.svc.Process(context.Background(), ev))

	got := f.store.user(user.ID)
	assert.True(t, got.IsSubscribed)
	assert.Equal(t, entity.TrialCompleted, got.TrialStatus)

	rec := f.store.record("sub_2")
	require.NotNil(t, rec)
	assert.True(t, rec.IsActive)
	assert.Equal(t, entity.BillingReasonSubscription, rec.BillingReason)
	// Fallback window: the trial length from now.
	assert.WithinDuration(t, time.Now().Add(14*24*time.Hour), rec.CurrentPeriodEnd, time.Minute)
}

func TestReconcilerDuplicateEventSkipped(t *testing.T) {
	f := newReconcilerFixture(t)
	user := f.seedUser(t, entity.RoleTeacher)

	payload := map[string]any{
		"id":       "cs_3",
		"customer": "cus_789",
		"metadata": map[string]string{"userId": user.ID.String()},
	}
	first := makeEvent("evt_dup", "checkout.session.completed", time.Now(), payload)
	require.NoError(t, f.svc.Process(context.Background(), first))

	subscribed := f.store.user(user.ID)
	require.True(t, subscribed.IsSubscribed)

	// Manually revoke, then redeliver: the event log short-circuits and the
	// revocation stands.
	subscribed.Revoke()
	f.store.putUser(subscribed)

	redelivery := makeEvent("evt_dup", "checkout.session.completed", time.Now(), payload)
	require.NoError(t, f.svc.Process(context.Background(), redelivery))
	assert.False(t, f.store.user(user.ID).IsSubscribed)
}

func TestReconcilerSubscriptionUpdatedStatuses(t *testing.T) {
	cases := []struct {
		status         string
		wantSubscribed bool
		wantTrial      entity.TrialStatus
	}{
		{"active", true, entity.TrialCompleted},
		{"past_due", true, entity.TrialPastDue},
		{"canceled", false, entity.TrialNone},
		{"unpaid", false, entity.TrialNone},
	}

	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			f := newReconcilerFixture(t)
			user := f.seedUser(t, entity.RoleTeacher)

			ev := makeEvent("evt_upd_"+tc.status, "customer.subscription.updated", time.Now(), map[string]any{
				"id":                   "sub_upd",
				"status":               tc.status,
				"customer":             "cus_upd",
				"current_period_start": time.Now().Unix(),
				"current_period_end":   time.Now().Add(30 * 24 * time.Hour).Unix(),
				"metadata":             map[string]string{"userId": user.ID.String()},
			})
			require.NoError(t, f.svc.Process(context.Background(), ev))

			got := f.store.user(user.ID)
			assert.Equal(t, tc.wantSubscribed, got.IsSubscribed)
			assert.Equal(t, tc.wantTrial, got.TrialStatus)
			assert.True(t, got.EntitlementConsistent())
		})
	}
}

func TestReconcilerSubscriptionUpdatedRecordFields(t *testing.T) {
	f := newReconcilerFixture(t)
	user := f.seedUser(t, entity.RoleTeacher)

	rec := entity.NewSubscriptionRecord(user.ID, "sub_live", 29.99, time.Now().Add(-time.Hour), time.Now().Add(29*24*time.Hour), false)
	rec.LastEventAt = time.Now().Add(-time.Hour)
	f.store.putRecord(rec)

	newEnd := time.Now().Add(60 * 24 * time.Hour).Unix()
	ev := makeEvent("evt_upd_rec", "customer.subscription.updated", time.Now(), map[string]any{
		"id":                 "sub_live",
		"status":             "canceled",
		"customer":           "cus_live",
		"current_period_end": newEnd,
		"metadata":           map[string]string{"userId": user.ID.String()},
	})
	require.NoError(t, f.svc.Process(context.Background(), ev))

	got := f.store.record("sub_live")
	assert.False(t, got.IsActive)
	assert.True(t, got.IsCancelled)
	require.NotNil(t, got.CancelledAt)
	assert.Equal(t, newEnd, got.CurrentPeriodEnd.Unix())
}

func TestReconcilerStaleUpdateSkipped(t *testing.T) {
	f := newReconcilerFixture(t)
	user := f.seedUser(t, entity.RoleTeacher)
	user.CompleteSubscription()
	f.store.putUser(user)

	rec := entity.NewSubscriptionRecord(user.ID, "sub_ord", 29.99, time.Now(), time.Now().Add(30*24*time.Hour), false)
	rec.LastEventAt = time.Now()
	f.store.putRecord(rec)

	// Event timestamped before the last applied one: record must not change.
	stale := makeEvent("evt_stale", "customer.subscription.updated", time.Now().Add(-time.Hour), map[string]any{
		"id":       "sub_ord",
		"status":   "canceled",
		"customer": "cus_ord",
		"metadata": map[string]string{"userId": user.ID.String()},
	})
	require.NoError(t, f.svc.Process(context.Background(), stale))

	got := f.store.record("sub_ord")
	assert.True(t, got.IsActive)
	assert.False(t, got.IsCancelled)
}

func TestReconcilerSubscriptionDeleted(t *testing.T) {
	f := newReconcilerFixture(t)
	user := f.seedUser(t, entity.RoleTeacher)
	user.CompleteSubscription()
	user.PendingCancellation = true
	f.store.putUser(user)

	rec := entity.NewSubscriptionRecord(user.ID, "sub_del", 29.99, time.Now(), time.Now().Add(30*24*time.Hour), false)
	f.store.putRecord(rec)

	ev := makeEvent("evt_del", "customer.subscription.deleted", time.Now(), map[string]any{
		"id":       "sub_del",
		"status":   "canceled",
		"customer": "cus_del",
		"metadata": map[string]string{"userId": user.ID.String()},
	})
	require.NoError(t, f.svc.Process(context.Background(), ev))

	got := f.store.user(user.ID)
	assert.False(t, got.IsSubscribed)
	assert.Equal(t, entity.TrialNone, got.TrialStatus)
	assert.False(t, got.PendingCancellation)

	gotRec := f.store.record("sub_del")
	assert.True(t, gotRec.IsCancelled)
	assert.False(t, gotRec.IsActive)
	require.NotNil(t, gotRec.CancelledAt)
}

func TestReconcilerUnknownUserSkippedSilently(t *testing.T) {
	f := newReconcilerFixture(t)

	ev := makeEvent("evt_ghost", "customer.subscription.deleted", time.Now(), map[string]any{
		"id":       "sub_ghost",
		"status":   "canceled",
		"customer": "cus_ghost",
		"metadata": map[string]string{"userId": uuid.NewString()},
	})
	require.NoError(t, f.svc.Process(context.Background(), ev))
	assert.Empty(t, f.inv.ids)
}

func TestReconcilerFallbackLookupByCustomer(t *testing.T) {
	f := newReconcilerFixture(t)
	user := f.seedUser(t, entity.RoleTeacher)
	user.SetBillingCustomer("cus_fb")
	f.store.putUser(user)

	// No metadata on the event; resolution goes through the customer id.
	ev := makeEvent("evt_fb", "customer.subscription.updated", time.Now(), map[string]any{
		"id":       "sub_fb",
		"status":   "active",
		"customer": "cus_fb",
	})
	require.NoError(t, f.svc.Process(context.Background(), ev))
	assert.True(t, f.store.user(user.ID).IsSubscribed)
}

func TestReconcilerTrialWillEnd(t *testing.T) {
	f := newReconcilerFixture(t)
	user := f.seedUser(t, entity.RoleTeacher)
	user.StartTrial(time.Now().Add(3 * 24 * time.Hour))
	f.store.putUser(user)

	trialEnd := time.Now().Add(3 * 24 * time.Hour).Unix()
	ev := makeEvent("evt_twe", "customer.subscription.trial_will_end", time.Now(), map[string]any{
		"id":        "sub_twe",
		"status":    "trialing",
		"customer":  "cus_twe",
		"trial_end": trialEnd,
		"metadata":  map[string]string{"userId": user.ID.String()},
	})
	require.NoError(t, f.svc.Process(context.Background(), ev))

	got := f.store.user(user.ID)
	assert.Equal(t, entity.TrialEndingSoon, got.TrialStatus)
	assert.True(t, got.IsSubscribed)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, user.ID, f.notifier.sent[0].UserID)
}

func TestReconcilerNotifierFailureDoesNotFailEvent(t *testing.T) {
	f := newReconcilerFixture(t)
	f.notifier.fail = assert.AnError
	user := f.seedUser(t, entity.RoleTeacher)
	user.StartTrial(time.Now().Add(3 * 24 * time.Hour))
	f.store.putUser(user)

	ev := makeEvent("evt_twe_f", "customer.subscription.trial_will_end", time.Now(), map[string]any{
		"id":       "sub_twe_f",
		"status":   "trialing",
		"customer": "cus_twe_f",
		"metadata": map[string]string{"userId": user.ID.String()},
	})
	require.NoError(t, f.svc.Process(context.Background(), ev))
	assert.Equal(t, entity.TrialEndingSoon, f.store.user(user.ID).TrialStatus)
}

func TestReconcilerInvoicePaidAssignsMultiSeatPlan(t *testing.T) {
	f := newReconcilerFixture(t)
	user := f.seedUser(t, entity.RoleTeacher)
	user.SetBillingCustomer("cus_seat")
	f.store.putUser(user)

	rec := entity.NewSubscriptionRecord(user.ID, "sub_seat", 199.00, time.Now(), time.Now().Add(365*24*time.Hour), false)
	f.store.putRecord(rec)

	ev := makeEvent("evt_paid_seat", "invoice.payment_succeeded", time.Now(), map[string]any{
		"id":           "in_seat",
		"customer":     "cus_seat",
		"subscription": "sub_seat",
		"lines": map[string]any{
			"data": []map[string]any{
				{"price": map[string]string{"id": "price_multi_seat"}},
			},
		},
	})
	require.NoError(t, f.svc.Process(context.Background(), ev))

	got := f.store.user(user.ID)
	assert.Equal(t, entity.PlanMultiStudent, got.Plan)
	assert.True(t, got.IsSubscribed)
	assert.Equal(t, []uuid.UUID{user.ID}, f.inv.ids)
}

func TestReconcilerInvoicePaidOtherPriceLeavesPlan(t *testing.T) {
	f := newReconcilerFixture(t)
	user := f.seedUser(t, entity.RoleTeacher)
	user.SetBillingCustomer("cus_single")
	f.store.putUser(user)

	ev := makeEvent("evt_paid_single", "invoice.payment_succeeded", time.Now(), map[string]any{
		"id":       "in_single",
		"customer": "cus_single",
		"lines": map[string]any{
			"data": []map[string]any{
				{"price": map[string]string{"id": "price_solo"}},
			},
		},
	})
	require.NoError(t, f.svc.Process(context.Background(), ev))

	got := f.store.user(user.ID)
	assert.Empty(t, got.Plan)
	assert.True(t, got.IsSubscribed)
	assert.Equal(t, entity.TrialCompleted, got.TrialStatus)
}

func TestReconcilerInvoicePaidKeepsTrialState(t *testing.T) {
	f := newReconcilerFixture(t)
	user := f.seedUser(t, entity.RoleTeacher)
	user.SetBillingCustomer("cus_trial_inv")
	user.StartTrial(time.Now().Add(14 * 24 * time.Hour))
	f.store.putUser(user)

	// The zero-amount invoice at trial start must not end the trial early.
	ev := makeEvent("evt_paid_trial", "invoice.payment_succeeded", time.Now(), map[string]any{
		"id":       "in_trial",
		"customer": "cus_trial_inv",
		"lines": map[string]any{
			"data": []map[string]any{
				{"price": map[string]string{"id": "price_multi_seat"}},
			},
		},
	})
	require.NoError(t, f.svc.Process(context.Background(), ev))

	got := f.store.user(user.ID)
	assert.Equal(t, entity.TrialActive, got.TrialStatus)
	assert.Equal(t, entity.PlanMultiStudent, got.Plan)
}

func TestReconcilerInvoicePaymentFailed(t *testing.T) {
	f := newReconcilerFixture(t)
	user := f.seedUser(t, entity.RoleTeacher)
	user.StartTrial(time.Now().Add(7 * 24 * time.Hour))
	f.store.putUser(user)

	rec := entity.NewSubscriptionRecord(user.ID, "sub_inv", 29.99, time.Now(), time.Now().Add(30*24*time.Hour), true)
	f.store.putRecord(rec)

	ev := makeEvent("evt_inv", "invoice.payment_failed", time.Now(), map[string]any{
		"id":           "in_1",
		"customer":     "cus_inv",
		"subscription": "sub_inv",
	})
	require.NoError(t, f.svc.Process(context.Background(), ev))

	got := f.store.user(user.ID)
	assert.Equal(t, entity.TrialPaymentFailed, got.TrialStatus)
	// Payment failure alone does not revoke; deletion events do.
	assert.True(t, got.IsSubscribed)
}

func TestReconcilerInvoiceWithoutSubscriptionIgnored(t *testing.T) {
	f := newReconcilerFixture(t)
	user := f.seedUser(t, entity.RoleTeacher)
	user.CompleteSubscription()
	f.store.putUser(user)

	ev := makeEvent("evt_inv_one", "invoice.payment_failed", time.Now(), map[string]any{
		"id":       "in_2",
		"customer": "cus_one",
	})
	require.NoError(t, f.svc.Process(context.Background(), ev))
	assert.Equal(t, entity.TrialCompleted, f.store.user(user.ID).TrialStatus)
}

func TestReconcilerCustomerCreatedBackfill(t *testing.T) {
	f := newReconcilerFixture(t)
	user := f.seedUser(t, entity.RoleTeacher)

	ev := makeEvent("evt_cust", "customer.created", time.Now(), map[string]any{
		"id":    "cus_new",
		"email": user.Email,
	})
	require.NoError(t, f.svc.Process(context.Background(), ev))

	got := f.store.user(user.ID)
	require.NotNil(t, got.BillingCustomerID)
	assert.Equal(t, "cus_new", *got.BillingCustomerID)
	// Entitlement untouched.
	assert.False(t, got.IsSubscribed)
}

func TestReconcilerCustomerCreatedDoesNotOverwrite(t *testing.T) {
	f := newReconcilerFixture(t)
	user := f.seedUser(t, entity.RoleTeacher)
	user.SetBillingCustomer("cus_original")
	f.store.putUser(user)

	ev := makeEvent("evt_cust2", "customer.created", time.Now(), map[string]any{
		"id":    "cus_other",
		"email": user.Email,
	})
	require.NoError(t, f.svc.Process(context.Background(), ev))
	assert.Equal(t, "cus_original", *f.store.user(user.ID).BillingCustomerID)
}

func TestReconcilerIgnoredAndUnknownEvents(t *testing.T) {
	f := newReconcilerFixture(t)

	for _, eventType := range []string{"invoice.paid", "payment_method.attached", "some.future.event"} {
		ev := makeEvent("evt_"+eventType, eventType, time.Now(), map[string]any{"id": "obj_1"})
		require.NoError(t, f.svc.Process(context.Background(), ev))
	}
	// Nothing reaches the event log.
	assert.Empty(t, f.store.events)
}
