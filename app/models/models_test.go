package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFreeSubscription(t *testing.T) {
	s := NewFreeSubscription("u1")
	assert.Equal(t, "u1", s.OwnerID)
	assert.Equal(t, TierFree, s.Tier)
	assert.Equal(t, SubscriptionStatusActive, s.Status)
	assert.Nil(t, s.SubscriptionID)
	assert.Nil(t, s.ProductID)
	assert.True(t, s.IsFreeRow())
	assert.Equal(t, "", s.ExternalID())
}

func TestUserSubscriptionExternalID(t *testing.T) {
	s := &UserSubscription{SubscriptionID: StringPtr("sub_1"), Tier: TierPro}
	assert.Equal(t, "sub_1", s.ExternalID())
	assert.False(t, s.IsFreeRow())
	assert.Nil(t, StringPtr("  "))
}

func TestUserAnonymize(t *testing.T) {
	img := "https://img/x.png"
	u := &User{ExternalUserID: "user_9", Email: "a@b.c", ProfileImageURL: &img}
	u.Anonymize()
	assert.Equal(t, "deleted_user_9@example.com", u.Email)
	require.NotNil(t, u.DisplayName)
	assert.Equal(t, "Deleted User", *u.DisplayName)
	assert.Nil(t, u.ProfileImageURL)
}

func TestUserValidate(t *testing.T) {
	u := &User{ExternalUserID: "user_1", Email: "not-an-email"}
	assert.Error(t, u.Validate())
	u.Email = "ok@example.com"
	assert.NoError(t, u.Validate())
	u.Email = ""
	assert.NoError(t, u.Validate())
}

func TestUserSameProfile(t *testing.T) {
	name := "Ada"
	a := &User{Email: "a@x.io", DisplayName: &name}
	b := &User{Email: "a@x.io", DisplayName: &name}
	assert.True(t, a.SameProfile(b))
	b.Email = "b@x.io"
	assert.False(t, a.SameProfile(b))
}

func TestWebhookEventIsSettled(t *testing.T) {
	assert.True(t, (&BillingWebhookEvent{Outcome: WebhookOutcomeApplied}).IsSettled())
	assert.True(t, (&BillingWebhookEvent{Outcome: WebhookOutcomeDropped}).IsSettled())
	assert.False(t, (&BillingWebhookEvent{Outcome: WebhookOutcomeFailed}).IsSettled())
	assert.False(t, (&BillingWebhookEvent{Outcome: WebhookOutcomePending}).IsSettled())
}
