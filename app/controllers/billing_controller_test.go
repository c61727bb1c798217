package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ManuelReschke/SaaSBase/app/models"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/billing"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/jobqueue"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type billingTestApp struct {
	app      *fiber.App
	repo     *subscriptionStore
	provider *stubProvider
}

type staticEmails map[string]string

func (e staticEmails) Email(_ context.Context, id string) string {
	return e[id]
}

func newBillingTestApp(locker jobqueue.Locker) *billingTestApp {
	repo := &subscriptionStore{}
	provider := newStubProvider()
	h := NewBillingController(newBillingService(repo, provider), staticEmails{"u1": "u1@example.com"}, locker)

	app := fiber.New()
	api := app.Group("/api/billing", asOwner("u1"))
	api.Get("/subscription", h.HandleGetSubscription)
	api.Get("/can-subscribe", h.HandleCanSubscribe)
	api.Get("/tiers", h.HandleGetTiers)
	api.Post("/checkout", h.HandleCheckout)
	api.Post("/upgrade", h.HandleUpgrade)
	api.Post("/cancel", h.HandleCancel)
	api.Post("/reactivate", h.HandleReactivate)
	api.Get("/sync", h.HandleSyncActions)
	api.Post("/sync", h.HandleSync)
	return &billingTestApp{app: app, repo: repo, provider: provider}
}

func (a *billingTestApp) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &out))
	return resp, out
}

func TestGetSubscriptionForNewOwnerIsFree(t *testing.T) {
	a := newBillingTestApp(nil)

	resp, body := a.do(t, http.MethodGet, "/api/billing/subscription", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sub := body["subscription"].(map[string]any)
	assert.Equal(t, models.TierFree, sub["tier"])
	elig := body["eligibility"].(map[string]any)
	assert.Equal(t, "free", elig["currentState"])
	assert.Equal(t, true, elig["canCreateNew"])
	assert.Equal(t, false, elig["canCancel"])
	assert.Len(t, a.repo.subs, 1, "free row is created lazily")
}

func TestCanSubscribeWithActivePaidPlan(t *testing.T) {
	a := newBillingTestApp(nil)
	a.repo.seed("u1", "sub_1", models.TierPro, models.SubscriptionStatusActive, time.Now().Add(720*time.Hour))

	resp, body := a.do(t, http.MethodGet, "/api/billing/can-subscribe", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["canSubscribe"])
	assert.Contains(t, body["reason"], "active pro subscription")
}

func TestGetTiersMarksUpgrades(t *testing.T) {
	a := newBillingTestApp(nil)
	a.repo.seed("u1", "sub_1", models.TierPro, models.SubscriptionStatusActive, time.Now().Add(720*time.Hour))

	_, body := a.do(t, http.MethodGet, "/api/billing/tiers", "")
	assert.Equal(t, models.TierPro, body["currentTier"])
	tiers := body["tiers"].([]any)
	require.Len(t, tiers, 3)
	business := tiers[2].(map[string]any)
	assert.Equal(t, true, business["isUpgrade"])
}

func TestCheckout(t *testing.T) {
	a := newBillingTestApp(nil)

	resp, body := a.do(t, http.MethodPost, "/api/billing/checkout", `{"tier":"pro"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://checkout.example/chk_1", body["url"])
	assert.Equal(t, []string{"checkout:prod_pro"}, a.provider.calls)
}

func TestCheckoutRejectsInvalidTier(t *testing.T) {
	a := newBillingTestApp(nil)

	for _, payload := range []string{`{"tier":"free"}`, `{"tier":"gold"}`, `{}`, `nope`} {
		resp, body := a.do(t, http.MethodPost, "/api/billing/checkout", payload)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, payload)
		assert.Equal(t, "invalid_tier", body["error"], payload)
	}
	assert.Empty(t, a.provider.calls)
}

func TestCheckoutWithoutProvider(t *testing.T) {
	h := NewBillingController(newBillingService(&subscriptionStore{}, nil), nil, nil)
	app := fiber.New()
	app.Post("/checkout", asOwner("u1"), h.HandleCheckout)

	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"tier":"pro"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "billing_not_configured")
}

func TestUpgradeRevokesAndChecksOut(t *testing.T) {
	a := newBillingTestApp(nil)
	a.repo.seed("u1", "sub_1", models.TierPro, models.SubscriptionStatusActive, time.Now().Add(720*time.Hour))
	a.provider.subs["sub_1"] = billing.ProviderSubscription{ID: "sub_1", Status: "active"}

	resp, body := a.do(t, http.MethodPost, "/api/billing/upgrade", `{"tier":"business"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sub_1", body["previousSubscriptionId"])
	assert.Equal(t, []string{"revoke:sub_1", "checkout:prod_biz"}, a.provider.calls)
}

func TestCancel(t *testing.T) {
	a := newBillingTestApp(nil)
	end := time.Now().Add(720 * time.Hour).UTC().Truncate(time.Second)
	a.repo.seed("u1", "sub_1", models.TierPro, models.SubscriptionStatusActive, end)
	a.provider.subs["sub_1"] = billing.ProviderSubscription{ID: "sub_1", Status: "active", CancelAtPeriodEnd: true}

	resp, body := a.do(t, http.MethodPost, "/api/billing/cancel", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, end.Format(time.RFC3339), body["gracePeriodEnds"])
	assert.Equal(t, models.SubscriptionStatusCanceled, a.repo.subs[0].Status)
	assert.NotNil(t, a.repo.subs[0].CanceledAt)
}

func TestCancelErrorClasses(t *testing.T) {
	tests := []struct {
		name   string
		seed   bool
		err    error
		status int
		code   string
	}{
		{"nothing to cancel", false, nil, http.StatusConflict, "cancel_not_allowed"},
		{"gone at provider", true, nil, http.StatusOK, "subscription_not_found"},
		{"forbidden", true, &billing.APIError{StatusCode: 403, Message: "nope"}, http.StatusForbidden, "permission_denied"},
		{"provider down", true, &billing.APIError{StatusCode: 502, Message: "bad gateway"}, http.StatusServiceUnavailable, "provider_unavailable"},
		{"unknown", true, errors.New("connection reset"), http.StatusBadGateway, "provider_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newBillingTestApp(nil)
			if tt.seed {
				a.repo.seed("u1", "sub_1", models.TierPro, models.SubscriptionStatusActive, time.Now().Add(720*time.Hour))
			}
			a.provider.err = tt.err

			resp, body := a.do(t, http.MethodPost, "/api/billing/cancel", "")
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.status == http.StatusOK {
				assert.Equal(t, true, body["noop"])
				assert.Equal(t, tt.code, body["code"])
				return
			}
			assert.Equal(t, tt.code, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestReactivateDuringGracePeriod(t *testing.T) {
	a := newBillingTestApp(nil)
	end := time.Now().Add(240 * time.Hour)
	a.repo.seed("u1", "sub_1", models.TierPro, models.SubscriptionStatusCanceled, end)
	a.provider.subs["sub_1"] = billing.ProviderSubscription{ID: "sub_1", Status: "active", CancelAtPeriodEnd: true, CurrentPeriodEnd: &end}

	resp, body := a.do(t, http.MethodPost, "/api/billing/reactivate", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, body["gracePeriodEnds"])
	assert.Equal(t, []string{"get:sub_1", "uncancel:sub_1"}, a.provider.calls)
	assert.Equal(t, models.SubscriptionStatusActive, a.repo.subs[0].Status)
	assert.Nil(t, a.repo.subs[0].CanceledAt)
}

func TestReactivateNotAllowedWhenActive(t *testing.T) {
	a := newBillingTestApp(nil)
	a.repo.seed("u1", "sub_1", models.TierPro, models.SubscriptionStatusActive, time.Now().Add(240*time.Hour))
	a.provider.subs["sub_1"] = billing.ProviderSubscription{ID: "sub_1", Status: "active"}

	resp, body := a.do(t, http.MethodPost, "/api/billing/reactivate", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "reactivate_not_allowed", body["error"])
}

func TestSyncActions(t *testing.T) {
	a := newBillingTestApp(nil)

	_, body := a.do(t, http.MethodGet, "/api/billing/sync", "")
	assert.Equal(t, SyncActionUser, body["default"])
	assert.Len(t, body["actions"], 3)

	resp, body := a.do(t, http.MethodPost, "/api/billing/sync", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, SyncActionUser, body["action"])
	assert.Equal(t, true, body["result"].(map[string]any)["skipped"])

	resp, body = a.do(t, http.MethodPost, "/api/billing/sync", `{"action":"everything"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_action", body["error"])
}

func TestSyncEmergencyBatch(t *testing.T) {
	a := newBillingTestApp(nil)
	a.repo.seed("u1", "sub_1", models.TierPro, models.SubscriptionStatusActive, time.Now().Add(240*time.Hour))
	a.provider.subs["sub_1"] = billing.ProviderSubscription{ID: "sub_1", Status: "past_due"}

	resp, body := a.do(t, http.MethodPost, "/api/billing/sync", `{"action":"emergency"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	result := body["result"].(map[string]any)
	assert.EqualValues(t, 1, result["syncedCount"])
	assert.Equal(t, models.SubscriptionStatusPastDue, a.repo.subs[0].Status)
}

func TestSyncBatchRespectsLock(t *testing.T) {
	a := newBillingTestApp(heldLocker{})

	resp, body := a.do(t, http.MethodPost, "/api/billing/sync", `{"action":"stale"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "sync_in_progress", body["error"])
}
