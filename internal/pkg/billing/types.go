package billing

import (
	"time"

	"github.com/ManuelReschke/SaaSBase/app/models"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/entitlements"
)

// ProviderSubscription is the provider's authoritative view of a subscription.
type ProviderSubscription struct {
	ID                 string
	Status             string
	ProductID          string
	CustomerID         string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	Metadata           map[string]string
}

// CheckoutRequest describes a hosted checkout session to create.
type CheckoutRequest struct {
	ProductID     string
	SuccessURL    string
	CustomerEmail string
	Metadata      map[string]string
}

// Checkout is a created hosted checkout session.
type Checkout struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// SubscriptionInfo is the owner-facing summary of the current subscription.
type SubscriptionInfo struct {
	Tier               string                   `json:"tier"`
	Status             *string                  `json:"status"`
	CurrentPeriodEnd   *time.Time               `json:"currentPeriodEnd"`
	ActiveSubscription *models.UserSubscription `json:"activeSubscription"`
}

// SubscriptionStatus bundles the summary and the derived eligibility.
type SubscriptionStatus struct {
	Subscription *SubscriptionInfo        `json:"subscription"`
	Eligibility  entitlements.Eligibility `json:"eligibility"`
}

// CanSubscribeResult answers whether a new checkout may be started.
type CanSubscribeResult struct {
	CanSubscribe        bool              `json:"canSubscribe"`
	Reason              string            `json:"reason,omitempty"`
	CurrentSubscription *SubscriptionInfo `json:"currentSubscription"`
}

// SyncResult describes reconciling one subscription row.
type SyncResult struct {
	OwnerID        string `json:"ownerId"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	Status         string `json:"status,omitempty"`
	Skipped        bool   `json:"skipped"`
	Gone           bool   `json:"gone"`
	Message        string `json:"message"`
}

// BatchSyncResult summarizes a stale or emergency batch. A batch always
// completes; per-row failures are collected in Errors.
type BatchSyncResult struct {
	RunID       string    `json:"runId"`
	Total       int       `json:"total"`
	SyncedCount int       `json:"syncedCount"`
	Errors      []string  `json:"errors"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
}

// WebhookResult reports how a verified delivery was handled.
type WebhookResult struct {
	EventType      string `json:"eventType"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	Outcome        string `json:"outcome"`
	Reason         string `json:"reason,omitempty"`
	Duplicate      bool   `json:"duplicate"`
}

// CancelResult is returned after a successful cancellation.
type CancelResult struct {
	GracePeriodEnds *time.Time `json:"gracePeriodEnds"`
}

// ReactivateResult is returned after a successful reactivation.
type ReactivateResult struct {
	GracePeriodEnds *time.Time `json:"gracePeriodEnds"`
}

// UpgradeResult is returned by Upgrade. When the previous subscription was
// revoked but the new checkout failed, RequiresNewSubscription is set.
type UpgradeResult struct {
	Checkout                *Checkout `json:"checkout,omitempty"`
	PreviousSubscriptionID  string    `json:"previousSubscriptionId"`
	RequiresNewSubscription bool      `json:"requiresNewSubscription"`
}
