package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/SaaSBase/app/models"
	"gorm.io/gorm"
)

// memoryRepository is an in-memory Repository. Rows are copied on the way in
// and out so tests observe only what was stored.
type memoryRepository struct {
	mu     sync.Mutex
	now    func() time.Time
	nextID uint
	subs   []models.UserSubscription
	events []models.BillingWebhookEvent

	saveErr error
}

func newMemoryRepository(now func() time.Time) *memoryRepository {
	return &memoryRepository{now: now}
}

func (r *memoryRepository) LatestSubscriptionByOwner(_ context.Context, ownerID string) (*models.UserSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.UserSubscription
	for i := range r.subs {
		s := &r.subs[i]
		if s.OwnerID != ownerID {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) || (s.CreatedAt.Equal(latest.CreatedAt) && s.ID > latest.ID) {
			latest = s
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *memoryRepository) FindSubscriptionByExternalID(_ context.Context, subscriptionID string) (*models.UserSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.ExternalID() == subscriptionID {
			cp := s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepository) CreateSubscription(_ context.Context, sub *models.UserSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(sub)
}

func (r *memoryRepository) insertLocked(sub *models.UserSubscription) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.nextID++
	sub.ID = r.nextID
	now := r.now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	r.subs = append(r.subs, *sub)
	return nil
}

func (r *memoryRepository) UpsertSubscription(_ context.Context, sub *models.UserSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.subs {
		if r.subs[i].ExternalID() != "" && r.subs[i].ExternalID() == sub.ExternalID() {
			if r.saveErr != nil {
				return r.saveErr
			}
			sub.ID = r.subs[i].ID
			sub.CreatedAt = r.subs[i].CreatedAt
			sub.UpdatedAt = r.now()
			r.subs[i] = *sub
			return nil
		}
	}
	return r.insertLocked(sub)
}

func (r *memoryRepository) SaveSubscription(_ context.Context, sub *models.UserSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	for i := range r.subs {
		if r.subs[i].ID == sub.ID {
			sub.UpdatedAt = r.now()
			r.subs[i] = *sub
			return nil
		}
	}
	return r.insertLocked(sub)
}

func (r *memoryRepository) ListStaleSubscriptions(_ context.Context, updatedBefore time.Time, limit int) ([]models.UserSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.UserSubscription
	for _, s := range r.subs {
		if s.ExternalID() == "" || !s.UpdatedAt.Before(updatedBefore) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) ListRecentSubscriptions(_ context.Context, limit int) ([]models.UserSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.UserSubscription
	for _, s := range r.subs {
		if s.ExternalID() != "" {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) CreateWebhookEventIfNotExists(_ context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Provider == event.Provider && e.ProviderEventID == event.ProviderEventID {
			cp := e
			return false, &cp, nil
		}
	}
	event.ID = uint(len(r.events) + 1)
	r.events = append(r.events, *event)
	cp := *event
	return true, &cp, nil
}

func (r *memoryRepository) MarkWebhookProcessed(_ context.Context, id uint, outcome, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].ID == id {
			now := r.now()
			r.events[i].Outcome = outcome
			r.events[i].ProcessingError = processingError
			r.events[i].ProcessedAt = &now
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

// setUpdatedAt backdates a stored row for staleness tests.
func (r *memoryRepository) setUpdatedAt(subscriptionID string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.subs {
		if r.subs[i].ExternalID() == subscriptionID {
			r.subs[i].UpdatedAt = t
		}
	}
}

func (r *memoryRepository) all() []models.UserSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.UserSubscription(nil), r.subs...)
}

// fakeProvider serves subscriptions from a map and records calls.
type fakeProvider struct {
	mu        sync.Mutex
	subs      map[string]*ProviderSubscription
	errs      map[string]error
	checkout  *Checkout
	checkErr  error
	calls     []string
	checkouts []CheckoutRequest
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		subs:     map[string]*ProviderSubscription{},
		errs:     map[string]error{},
		checkout: &Checkout{ID: "chk_1", URL: "https://checkout.example/chk_1"},
	}
}

func (p *fakeProvider) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakeProvider) lookup(id string) (*ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.errs[id]; ok {
		return nil, err
	}
	sub, ok := p.subs[id]
	if !ok {
		return nil, &APIError{StatusCode: 404, Message: "Not found"}
	}
	cp := *sub
	return &cp, nil
}

func (p *fakeProvider) CreateCheckout(_ context.Context, req CheckoutRequest) (*Checkout, error) {
	p.record("checkout:" + req.ProductID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkouts = append(p.checkouts, req)
	if p.checkErr != nil {
		return nil, p.checkErr
	}
	return p.checkout, nil
}

func (p *fakeProvider) GetSubscription(_ context.Context, id string) (*ProviderSubscription, error) {
	p.record("get:" + id)
	return p.lookup(id)
}

func (p *fakeProvider) CancelSubscription(_ context.Context, id string) (*ProviderSubscription, error) {
	p.record("cancel:" + id)
	sub, err := p.lookup(id)
	if err != nil {
		return nil, err
	}
	sub.CancelAtPeriodEnd = true
	return sub, nil
}

func (p *fakeProvider) UncancelSubscription(_ context.Context, id string) (*ProviderSubscription, error) {
	p.record("uncancel:" + id)
	sub, err := p.lookup(id)
	if err != nil {
		return nil, err
	}
	sub.CancelAtPeriodEnd = false
	return sub, nil
}

func (p *fakeProvider) RevokeSubscription(_ context.Context, id string) (*ProviderSubscription, error) {
	p.record("revoke:" + id)
	return p.lookup(id)
}

func (p *fakeProvider) ListSubscriptions(_ context.Context, _, _ int) ([]ProviderSubscription, error) {
	p.record("list")
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ProviderSubscription, 0, len(p.subs))
	for _, s := range p.subs {
		out = append(out, *s)
	}
	return out, nil
}

// testClock is a settable clock shared by the service and the repository.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	clock    *testClock
	repo     *memoryRepository
	provider *fakeProvider
	svc      *Service
	sleeps   []time.Duration
}

func newTestEnv() *testEnv {
	e := &testEnv{clock: newTestClock(), provider: newFakeProvider()}
	e.repo = newMemoryRepository(e.clock.Now)
	cfg := DefaultConfig()
	cfg.Products = map[string]string{models.TierPro: "prod_pro", models.TierBusiness: "prod_biz"}
	cfg.SuccessURL = "https://app.example/billing/success"
	cfg.Now = e.clock.Now
	cfg.Sleep = func(d time.Duration) { e.sleeps = append(e.sleeps, d) }
	e.svc = NewService(e.repo, e.provider, cfg)
	return e
}

func (e *testEnv) seed(ownerID, subscriptionID, tier, status string, periodEnd *time.Time) *models.UserSubscription {
	sub := &models.UserSubscription{
		OwnerID:          ownerID,
		SubscriptionID:   models.StringPtr(subscriptionID),
		ProductID:        models.StringPtr("prod_" + tier),
		Tier:             tier,
		Status:           status,
		CurrentPeriodEnd: periodEnd,
	}
	if err := e.repo.CreateSubscription(context.Background(), sub); err != nil {
		panic(err)
	}
	return sub
}

func (e *testEnv) at(d time.Duration) *time.Time {
	t := e.clock.Now().Add(d)
	return &t
}
