package models

import (
	"strings"
	"time"
)

const BillingProviderPolar = "polar"

// Subscription tiers.
const (
	TierFree     = "free"
	TierPro      = "pro"
	TierBusiness = "business"
)

// Subscription statuses as stored locally. Provider statuses outside this set
// are normalized before they are written (see billing.NormalizeProviderStatus).
const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusUnpaid     = "unpaid"
	SubscriptionStatusIncomplete = "incomplete"
)

// UserSubscription mirrors one billing-provider subscription for an owner.
// Rows are never hard-deleted; the most recently created row per owner is
// authoritative. Free rows carry no provider identifiers.
type UserSubscription struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	OwnerID            string     `gorm:"type:varchar(191);not null;index:idx_user_subscriptions_owner_created,priority:1" json:"owner_id"`
	SubscriptionID     *string    `gorm:"type:varchar(191);uniqueIndex:ux_user_subscriptions_subscription_id" json:"subscription_id"`
	ProductID          *string    `gorm:"type:varchar(191)" json:"product_id"`
	Status             string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	Tier               string     `gorm:"type:varchar(32);not null;default:'free'" json:"tier"`
	CurrentPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end"`
	CanceledAt         *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at"`
	CreatedAt          time.Time  `gorm:"autoCreateTime;index:idx_user_subscriptions_owner_created,priority:2" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime;index" json:"updated_at"`
}

func (UserSubscription) TableName() string {
	return "user_subscriptions"
}

// ExternalID returns the provider subscription id or "" for free rows.
func (s *UserSubscription) ExternalID() string {
	if s == nil || s.SubscriptionID == nil {
		return ""
	}
	return *s.SubscriptionID
}

// IsFreeRow reports whether the row is the implicit free pseudo-subscription.
func (s *UserSubscription) IsFreeRow() bool {
	return s == nil || strings.EqualFold(s.Tier, TierFree) || s.ExternalID() == ""
}

// NewFreeSubscription builds the lazily materialized free row for an owner.
func NewFreeSubscription(ownerID string) *UserSubscription {
	return &UserSubscription{
		OwnerID: ownerID,
		Status:  SubscriptionStatusActive,
		Tier:    TierFree,
	}
}

// StringPtr returns nil for empty strings.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
