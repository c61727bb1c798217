package controllers

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/SaaSBase/app/models"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/billing"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// subscriptionStore is a minimal in-memory billing.Repository.
type subscriptionStore struct {
	mu      sync.Mutex
	subs    []models.UserSubscription
	events  []models.BillingWebhookEvent
	saveErr error
}

func (r *subscriptionStore) LatestSubscriptionByOwner(_ context.Context, ownerID string) (*models.UserSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.subs) - 1; i >= 0; i-- {
		if r.subs[i].OwnerID == ownerID {
			cp := r.subs[i]
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *subscriptionStore) FindSubscriptionByExternalID(_ context.Context, id string) (*models.UserSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		return nil, gorm.ErrRecordNotFound
	}
	for _, s := range r.subs {
		if s.ExternalID() == id {
			return &s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *subscriptionStore) CreateSubscription(_ context.Context, sub *models.UserSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	sub.ID = uint(len(r.subs) + 1)
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	r.subs = append(r.subs, *sub)
	return nil
}

func (r *subscriptionStore) UpsertSubscription(ctx context.Context, sub *models.UserSubscription) error {
	if existing, err := r.FindSubscriptionByExternalID(ctx, sub.ExternalID()); err == nil {
		sub.ID = existing.ID
		return r.SaveSubscription(ctx, sub)
	}
	return r.CreateSubscription(ctx, sub)
}

func (r *subscriptionStore) SaveSubscription(_ context.Context, sub *models.UserSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	for i := range r.subs {
		if r.subs[i].ID == sub.ID {
			sub.UpdatedAt = time.Now()
			r.subs[i] = *sub
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *subscriptionStore) ListStaleSubscriptions(_ context.Context, updatedBefore time.Time, limit int) ([]models.UserSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.UserSubscription
	for _, s := range r.subs {
		if s.ExternalID() != "" && s.UpdatedAt.Before(updatedBefore) && len(out) < limit {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *subscriptionStore) ListRecentSubscriptions(_ context.Context, limit int) ([]models.UserSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.UserSubscription
	for i := len(r.subs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.subs[i].ExternalID() != "" {
			out = append(out, r.subs[i])
		}
	}
	return out, nil
}

func (r *subscriptionStore) CreateWebhookEventIfNotExists(_ context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Provider == event.Provider && e.ProviderEventID == event.ProviderEventID {
			return false, &e, nil
		}
	}
	event.ID = uint(len(r.events) + 1)
	r.events = append(r.events, *event)
	return true, event, nil
}

func (r *subscriptionStore) MarkWebhookProcessed(_ context.Context, id uint, outcome, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Outcome = outcome
			r.events[i].ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *subscriptionStore) seed(ownerID, subscriptionID, tier, status string, periodEnd time.Time) {
	err := r.CreateSubscription(context.Background(), &models.UserSubscription{
		OwnerID:          ownerID,
		SubscriptionID:   models.StringPtr(subscriptionID),
		Tier:             tier,
		Status:           status,
		CurrentPeriodEnd: &periodEnd,
	})
	if err != nil {
		panic(err)
	}
}

// stubProvider answers from a map; unknown ids are provider 404s.
type stubProvider struct {
	mu    sync.Mutex
	subs  map[string]billing.ProviderSubscription
	err   error
	calls []string
}

func newStubProvider() *stubProvider {
	return &stubProvider{subs: map[string]billing.ProviderSubscription{}}
}

func (p *stubProvider) get(call, id string) (*billing.ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call+":"+id)
	if p.err != nil {
		return nil, p.err
	}
	sub, ok := p.subs[id]
	if !ok {
		return nil, &billing.APIError{StatusCode: http.StatusNotFound, Message: "Not found"}
	}
	return &sub, nil
}

func (p *stubProvider) CreateCheckout(_ context.Context, req billing.CheckoutRequest) (*billing.Checkout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "checkout:"+req.ProductID)
	if p.err != nil {
		return nil, p.err
	}
	return &billing.Checkout{ID: "chk_1", URL: "https://checkout.example/chk_1"}, nil
}

func (p *stubProvider) GetSubscription(_ context.Context, id string) (*billing.ProviderSubscription, error) {
	return p.get("get", id)
}

func (p *stubProvider) CancelSubscription(_ context.Context, id string) (*billing.ProviderSubscription, error) {
	return p.get("cancel", id)
}

func (p *stubProvider) UncancelSubscription(_ context.Context, id string) (*billing.ProviderSubscription, error) {
	return p.get("uncancel", id)
}

func (p *stubProvider) RevokeSubscription(_ context.Context, id string) (*billing.ProviderSubscription, error) {
	return p.get("revoke", id)
}

func (p *stubProvider) ListSubscriptions(context.Context, int, int) ([]billing.ProviderSubscription, error) {
	return nil, p.err
}

// heldLocker reports every lock as taken.
type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	return nil, false, nil
}

func newBillingService(repo *subscriptionStore, provider billing.Provider) *billing.Service {
	cfg := billing.DefaultConfig()
	cfg.Products = map[string]string{models.TierPro: "prod_pro", models.TierBusiness: "prod_biz"}
	cfg.SuccessURL = "https://app.example/billing/success"
	cfg.WebhookSecret = testWebhookSecret
	cfg.Sleep = func(time.Duration) {}
	return billing.NewService(repo, provider, cfg)
}

// asOwner authenticates every request as ownerID.
func asOwner(ownerID string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		usercontext.SetUserContext(c, usercontext.UserContext{OwnerID: ownerID, IsLoggedIn: true})
		return c.Next()
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
