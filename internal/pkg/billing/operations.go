package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/ManuelReschke/SaaSBase/app/models"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/entitlements"
	"github.com/gofiber/fiber/v2/log"
)

// Every operation re-derives eligibility from the freshest stored row right
// before calling the provider.

// CanCreateNewSubscription reports whether the owner may start a checkout.
func (s *Service) CanCreateNewSubscription(ctx context.Context, ownerID string) (*CanSubscribeResult, error) {
	elig, sub, err := s.GetEligibility(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := &CanSubscribeResult{
		CanSubscribe:        elig.CanCreateNew,
		CurrentSubscription: s.info(sub),
	}
	if !elig.CanCreateNew {
		out.Reason = fmt.Sprintf(
			"You already have an active %s subscription. Please cancel it first or change plans through the customer portal.",
			entitlements.NormalizeTier(sub.Tier),
		)
	}
	return out, nil
}

// CreateCheckout starts a hosted checkout for a paid tier.
func (s *Service) CreateCheckout(ctx context.Context, ownerID, email, tier string) (*Checkout, error) {
	tier = strings.ToLower(strings.TrimSpace(tier))
	if !entitlements.IsPaidTier(tier) {
		return nil, newOperationError(OperationInvalid, "invalid_tier", "Tier must be pro or business")
	}
	productID := s.cfg.ProductForTier(tier)
	if productID == "" {
		return nil, newOperationError(OperationInvalid, "tier_not_configured", "This tier is not available for purchase")
	}
	if s.provider == nil {
		return nil, ErrProviderNotConfigured
	}

	elig, sub, err := s.GetEligibility(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !elig.CanCreateNew && !elig.CanUpgrade {
		return nil, newOperationError(OperationNotAllowed, "customer_portal_required",
			"You already have a subscription. Please use the customer portal to manage it.")
	}

	meta := map[string]string{
		"userId":       sub.OwnerID,
		"tier":         tier,
		"previousTier": entitlements.NormalizeTier(sub.Tier),
	}
	if id := sub.ExternalID(); id != "" {
		meta["previousSubscriptionId"] = id
	}
	checkout, err := s.provider.CreateCheckout(ctx, CheckoutRequest{
		ProductID:     productID,
		SuccessURL:    s.cfg.SuccessURL,
		CustomerEmail: strings.TrimSpace(email),
		Metadata:      meta,
	})
	if err != nil {
		return nil, providerOperationError("create a checkout for", err)
	}
	log.Infof("[Billing] Created checkout %s for %s (tier=%s)", checkout.ID, sub.OwnerID, tier)
	return checkout, nil
}

// Upgrade revokes the current paid subscription and starts a checkout for a
// higher tier. If the checkout fails after the revoke, the result reports
// that a new subscription is required.
func (s *Service) Upgrade(ctx context.Context, ownerID, email, tier string) (*UpgradeResult, error) {
	tier = strings.ToLower(strings.TrimSpace(tier))
	if !entitlements.IsPaidTier(tier) {
		return nil, newOperationError(OperationInvalid, "invalid_tier", "Tier must be pro or business")
	}
	productID := s.cfg.ProductForTier(tier)
	if productID == "" {
		return nil, newOperationError(OperationInvalid, "tier_not_configured", "This tier is not available for purchase")
	}
	if s.provider == nil {
		return nil, ErrProviderNotConfigured
	}

	elig, sub, err := s.GetEligibility(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	previousID := sub.ExternalID()
	if !elig.CanUpgrade || previousID == "" {
		return nil, newOperationError(OperationNotAllowed, "upgrade_not_allowed", "No active paid subscription to upgrade")
	}
	if entitlements.TierRank(tier) <= entitlements.TierRank(sub.Tier) {
		return nil, newOperationError(OperationInvalid, "not_an_upgrade", "The selected tier is not an upgrade of your current plan")
	}

	if _, err := s.provider.RevokeSubscription(ctx, previousID); err != nil && !IsNotFound(err) {
		return nil, providerOperationError("upgrade", err)
	}
	now := s.now()
	sub.Status = models.SubscriptionStatusCanceled
	sub.CanceledAt = &now
	sub.CurrentPeriodEnd = &now
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}

	out := &UpgradeResult{PreviousSubscriptionID: previousID}
	checkout, err := s.provider.CreateCheckout(ctx, CheckoutRequest{
		ProductID:     productID,
		SuccessURL:    s.cfg.SuccessURL,
		CustomerEmail: strings.TrimSpace(email),
		Metadata: map[string]string{
			"userId":                 sub.OwnerID,
			"tier":                   tier,
			"previousTier":           entitlements.NormalizeTier(sub.Tier),
			"previousSubscriptionId": previousID,
			"isUpgrade":              "true",
		},
	})
	if err != nil {
		log.Errorf("[Billing] Upgrade checkout for %s failed after revoking %s: %v", sub.OwnerID, previousID, err)
		out.RequiresNewSubscription = true
		return out, providerOperationError("create a checkout for", err)
	}
	out.Checkout = checkout
	return out, nil
}

// Cancel schedules cancellation at period end and records it locally.
func (s *Service) Cancel(ctx context.Context, ownerID string) (*CancelResult, error) {
	if s.provider == nil {
		return nil, ErrProviderNotConfigured
	}
	elig, sub, err := s.GetEligibility(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !elig.CanCancel || sub.ExternalID() == "" {
		return nil, newOperationError(OperationNotAllowed, "cancel_not_allowed", "No active subscription to cancel")
	}

	remote, err := s.provider.CancelSubscription(ctx, sub.ExternalID())
	if err != nil {
		opErr := providerOperationError("cancel", err)
		if opErr.Kind == OperationNoop {
			s.markCanceledLocally(ctx, sub)
		}
		return nil, opErr
	}

	now := s.now()
	sub.Status = models.SubscriptionStatusCanceled
	sub.CanceledAt = &now
	if remote != nil && remote.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = remote.CurrentPeriodEnd
	}
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	log.Infof("[Billing] Canceled subscription %s for %s at period end", sub.ExternalID(), sub.OwnerID)
	return &CancelResult{GracePeriodEnds: sub.CurrentPeriodEnd}, nil
}

// Reactivate reverses a pending cancellation. It syncs first so the decision
// is made on the provider's current state.
func (s *Service) Reactivate(ctx context.Context, ownerID string) (*ReactivateResult, error) {
	if s.provider == nil {
		return nil, ErrProviderNotConfigured
	}
	if _, err := s.SyncUserSubscription(ctx, ownerID); err != nil {
		log.Warnf("[Billing] Pre-reactivation sync for %s failed: %v", ownerID, err)
	}

	elig, sub, err := s.GetEligibility(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !elig.CanReactivate || sub.ExternalID() == "" {
		return nil, newOperationError(OperationNotAllowed, "reactivate_not_allowed", "No canceled subscription in its grace period to reactivate")
	}

	remote, err := s.provider.UncancelSubscription(ctx, sub.ExternalID())
	if err != nil {
		return nil, providerOperationError("reactivate", err)
	}
	sub.Status = models.SubscriptionStatusActive
	sub.CanceledAt = nil
	if remote != nil && remote.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = remote.CurrentPeriodEnd
	}
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	log.Infof("[Billing] Reactivated subscription %s for %s", sub.ExternalID(), sub.OwnerID)
	return &ReactivateResult{GracePeriodEnds: elig.GracePeriodEnds}, nil
}

func (s *Service) markCanceledLocally(ctx context.Context, sub *models.UserSubscription) {
	now := s.now()
	sub.Status = models.SubscriptionStatusCanceled
	sub.CanceledAt = &now
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		log.Errorf("[Billing] Failed to record missing subscription %s as canceled: %v", sub.ExternalID(), err)
	}
}
