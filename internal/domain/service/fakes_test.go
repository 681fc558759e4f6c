package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edlume/subscription-backend/internal/domain/billing"
	"github.com/edlume/subscription-backend/internal/domain/entity"
	domainErrors "github.com/edlume/subscription-backend/internal/domain/errors"
	"github.com/edlume/subscription-backend/internal/domain/repository"
)

// memStore is a shared in-memory backing store. Repositories hand out copies
// so mutations only land through the explicit update calls, matching the
// persistence contract.
type memStore struct {
	mu      sync.Mutex
	users   map[uuid.UUID]*entity.User
	records map[string]*entity.SubscriptionRecord
	coupons map[uuid.UUID]*entity.Coupon
	events  map[string]*entity.WebhookEvent
}

func newMemStore() *memStore {
	return &memStore{
		users:   make(map[uuid.UUID]*entity.User),
		records: make(map[string]*entity.SubscriptionRecord),
		coupons: make(map[uuid.UUID]*entity.Coupon),
		events:  make(map[string]*entity.WebhookEvent),
	}
}

func (s *memStore) putUser(u *entity.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

func (s *memStore) user(id uuid.UUID) *entity.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp
	}
	return nil
}

func (s *memStore) record(externalID string) *entity.SubscriptionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[externalID]; ok {
		cp := *r
		return &cp
	}
	return nil
}

func (s *memStore) putRecord(r *entity.SubscriptionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.records[r.ExternalSubscriptionID] = &cp
}

func (s *memStore) coupon(id uuid.UUID) *entity.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.coupons[id]; ok {
		return copyCoupon(c)
	}
	return nil
}

func (s *memStore) putCoupon(c *entity.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[c.ID] = copyCoupon(c)
}

func copyCoupon(c *entity.Coupon) *entity.Coupon {
	cp := *c
	cp.Redemptions = append([]entity.Redemption(nil), c.Redemptions...)
	return &cp
}

type memUserRepo struct{ store *memStore }

func (r *memUserRepo) GetByID(_ context.Context, id uuid.UUID) (*entity.User, error) {
	if u := r.store.user(id); u != nil {
		return u, nil
	}
	return nil, domainErrors.ErrUserNotFound
}

func (r *memUserRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	return r.GetByID(ctx, id)
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, u := range r.store.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domainErrors.ErrUserNotFound
}

func (r *memUserRepo) GetByBillingCustomerID(_ context.Context, customerID string) (*entity.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, u := range r.store.users {
		if u.BillingCustomerID != nil && *u.BillingCustomerID == customerID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domainErrors.ErrUserNotFound
}

func (r *memUserRepo) Create(_ context.Context, u *entity.User) error {
	r.store.putUser(u)
	return nil
}

func (r *memUserRepo) UpdateEntitlement(_ context.Context, u *entity.User) error {
	if r.store.user(u.ID) == nil {
		return domainErrors.ErrUserNotFound
	}
	r.store.putUser(u)
	return nil
}

func (r *memUserRepo) SetBillingCustomerIfAbsent(_ context.Context, id uuid.UUID, customerID string) error {
	u := r.store.user(id)
	if u == nil {
		return domainErrors.ErrUserNotFound
	}
	if !u.HasBillingCustomer() {
		u.SetBillingCustomer(customerID)
		r.store.putUser(u)
	}
	return nil
}

func (r *memUserRepo) ListExpiredTrials(_ context.Context, asOf time.Time) ([]*entity.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*entity.User
	for _, u := range r.store.users {
		if (u.TrialStatus == entity.TrialActive || u.TrialStatus == entity.TrialEndingSoon) &&
			u.TrialEndDate != nil && u.TrialEndDate.Before(asOf) {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memUserRepo) ListTrialsEndingBefore(_ context.Context, deadline time.Time) ([]*entity.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*entity.User
	for _, u := range r.store.users {
		if u.TrialStatus == entity.TrialActive && u.TrialEndDate != nil && u.TrialEndDate.Before(deadline) {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memRecordRepo struct{ store *memStore }

func (r *memRecordRepo) GetByExternalID(_ context.Context, externalID string) (*entity.SubscriptionRecord, error) {
	if rec := r.store.record(externalID); rec != nil {
		return rec, nil
	}
	return nil, domainErrors.ErrSubscriptionNotFound
}

func (r *memRecordRepo) Upsert(_ context.Context, rec *entity.SubscriptionRecord) error {
	r.store.putRecord(rec)
	return nil
}

func (r *memRecordRepo) GetCurrentActiveByUserID(_ context.Context, userID uuid.UUID) (*entity.SubscriptionRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var best *entity.SubscriptionRecord
	for _, rec := range r.store.records {
		if rec.UserID == userID && rec.IsActive && !rec.IsCancelled {
			if best == nil || rec.SubscriptionDate.After(best.SubscriptionDate) {
				best = rec
			}
		}
	}
	if best == nil {
		return nil, domainErrors.ErrSubscriptionNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *memRecordRepo) ListByUserID(_ context.Context, userID uuid.UUID) ([]*entity.SubscriptionRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*entity.SubscriptionRecord
	for _, rec := range r.store.records {
		if rec.UserID == userID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memCouponRepo struct{ store *memStore }

func (r *memCouponRepo) Create(_ context.Context, c *entity.Coupon) error {
	r.store.putCoupon(c)
	return nil
}

func (r *memCouponRepo) GetByCode(_ context.Context, code string) (*entity.Coupon, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, c := range r.store.coupons {
		if c.Code == code {
			return copyCoupon(c), nil
		}
	}
	return nil, domainErrors.ErrCouponNotFound
}

func (r *memCouponRepo) GetByID(_ context.Context, id uuid.UUID) (*entity.Coupon, error) {
	if c := r.store.coupon(id); c != nil {
		return c, nil
	}
	return nil, domainErrors.ErrCouponNotFound
}

func (r *memCouponRepo) List(_ context.Context) ([]*entity.Coupon, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*entity.Coupon
	for _, c := range r.store.coupons {
		out = append(out, copyCoupon(c))
	}
	return out, nil
}

func (r *memCouponRepo) ListByCreator(_ context.Context, creatorID uuid.UUID) ([]*entity.Coupon, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*entity.Coupon
	for _, c := range r.store.coupons {
		if c.CreatedBy == creatorID {
			out = append(out, copyCoupon(c))
		}
	}
	return out, nil
}

func (r *memCouponRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.coupons, id)
	return nil
}

func (r *memCouponRepo) SaveRedemption(_ context.Context, c *entity.Coupon, _ entity.Redemption) error {
	r.store.putCoupon(c)
	return nil
}

type memEventRepo struct{ store *memStore }

func eventKey(provider, eventID string) string { return provider + ":" + eventID }

func (r *memEventRepo) Insert(_ context.Context, ev *entity.WebhookEvent) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := eventKey(ev.Provider, ev.EventID)
	if _, ok := r.store.events[key]; ok {
		return false, nil
	}
	cp := *ev
	r.store.events[key] = &cp
	return true, nil
}

func (r *memEventRepo) MarkProcessed(_ context.Context, provider, eventID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ev, ok := r.store.events[eventKey(provider, eventID)]
	if !ok {
		return fmt.Errorf("event %s not found", eventID)
	}
	ev.MarkProcessed()
	return nil
}

func (r *memEventRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for k, ev := range r.store.events {
		if ev.ProcessedAt != nil && ev.CreatedAt.Before(cutoff) {
			delete(r.store.events, k)
			n++
		}
	}
	return n, nil
}

// memAtomic commits unconditionally; rollback behavior is covered by the
// persistence integration tests.
type memAtomic struct{ store *memStore }

func (a *memAtomic) WithinTx(ctx context.Context, fn func(context.Context, repository.Repositories) error) error {
	return fn(ctx, repository.Repositories{
		Users:   &memUserRepo{store: a.store},
		Records: &memRecordRepo{store: a.store},
		Coupons: &memCouponRepo{store: a.store},
		Events:  &memEventRepo{store: a.store},
	})
}

type fakeInvalidator struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (f *fakeInvalidator) Invalidate(_ context.Context, id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

type trialNotification struct {
	UserID uuid.UUID
	EndsAt time.Time
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []trialNotification
	fail  error
	calls int
}

func (f *fakeNotifier) NotifyTrialEnding(_ context.Context, userID uuid.UUID, endsAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, trialNotification{UserID: userID, EndsAt: endsAt})
	return nil
}

type fakeProvider struct {
	mu sync.Mutex

	customerID     string
	checkoutURL    string
	portalURL      string
	subscriptions  []billing.ProviderSubscription
	createCustErr  error
	checkoutErr    error
	portalErr      error
	listErr        error
	cancelErr      error
	createdCount   int
	checkoutParams []billing.CheckoutParams
	cancelledIDs   []string
}

func (f *fakeProvider) CreateCustomer(_ context.Context, _ billing.CreateCustomerParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createCustErr != nil {
		return "", f.createCustErr
	}
	f.createdCount++
	return f.customerID, nil
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, params billing.CheckoutParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkoutErr != nil {
		return "", f.checkoutErr
	}
	f.checkoutParams = append(f.checkoutParams, params)
	return f.checkoutURL, nil
}

func (f *fakeProvider) CreatePortalSession(_ context.Context, _, _ string) (string, error) {
	if f.portalErr != nil {
		return "", f.portalErr
	}
	return f.portalURL, nil
}

func (f *fakeProvider) ListSubscriptions(_ context.Context, _, _ string) ([]billing.ProviderSubscription, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.subscriptions, nil
}

func (f *fakeProvider) CancelSubscription(_ context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelledIDs = append(f.cancelledIDs, subscriptionID)
	return nil
}

func (f *fakeProvider) VerifyWebhook(_ []byte, _ string) (*billing.Event, error) {
	return nil, domainErrors.ErrInvalidSignature
}
