package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/SaaSBase/app/models"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/entitlements"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// ProcessWebhook records a verified delivery, applies it and stores the
// outcome. Redeliveries of settled events are reported as duplicates. The
// returned error is only set for internal failures the provider should retry.
func (s *Service) ProcessWebhook(ctx context.Context, deliveryID string, payload []byte) (*WebhookResult, error) {
	eventType := "invalid"
	env, parseErr := parseWebhookEnvelope(payload)
	if parseErr == nil {
		eventType = env.Type
	}

	created, event, err := s.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        models.BillingProviderPolar,
		ProviderEventID: deliveryID,
		EventType:       eventType,
		PayloadJSON:     string(payload),
	})
	if err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	if !created && event.IsSettled() {
		return &WebhookResult{EventType: eventType, Outcome: event.Outcome, Duplicate: true}, nil
	}

	var result *WebhookResult
	if parseErr != nil {
		log.Warnf("[Webhook] Dropping undecodable delivery %s: %v", deliveryID, parseErr)
		result = &WebhookResult{EventType: eventType, Outcome: models.WebhookOutcomeDropped, Reason: parseErr.Error()}
	} else {
		result, err = s.applyEvent(ctx, env)
		if err != nil {
			if markErr := s.MarkWebhookProcessed(ctx, event.ID, models.WebhookOutcomeFailed, err); markErr != nil {
				log.Errorf("[Webhook] Failed to mark event %d as failed: %v", event.ID, markErr)
			}
			return nil, err
		}
	}

	var reason error
	if result.Reason != "" {
		reason = errors.New(result.Reason)
	}
	if err := s.MarkWebhookProcessed(ctx, event.ID, result.Outcome, reason); err != nil {
		log.Errorf("[Webhook] Failed to mark event %d as processed: %v", event.ID, err)
	}
	return result, nil
}

// HandleEvent applies a webhook payload without touching the delivery log.
func (s *Service) HandleEvent(ctx context.Context, payload []byte) (*WebhookResult, error) {
	env, err := parseWebhookEnvelope(payload)
	if err != nil {
		return &WebhookResult{EventType: "invalid", Outcome: models.WebhookOutcomeDropped, Reason: err.Error()}, nil
	}
	return s.applyEvent(ctx, env)
}

func (s *Service) applyEvent(ctx context.Context, env *webhookEnvelope) (*WebhookResult, error) {
	ev := extractWebhookSubscription(env.Data)
	res := &WebhookResult{EventType: env.Type, SubscriptionID: ev.ID}

	var reason string
	var err error
	switch env.Type {
	case EventSubscriptionCreated:
		reason, err = s.onSubscriptionCreated(ctx, ev)
	case EventSubscriptionUpdated:
		reason, err = s.onSubscriptionUpdated(ctx, ev)
	case EventSubscriptionActive:
		reason, err = s.onSubscriptionActive(ctx, ev)
	case EventSubscriptionCanceled:
		reason, err = s.onSubscriptionCanceled(ctx, ev)
	case EventSubscriptionUncanceled:
		reason, err = s.onSubscriptionUncanceled(ctx, ev)
	case EventSubscriptionRevoked:
		reason, err = s.onSubscriptionRevoked(ctx, ev)
	default:
		if isInformational(env.Type) {
			log.Infof("[Webhook] Received %s", env.Type)
		} else {
			log.Infof("[Webhook] Ignoring unhandled event type %s", env.Type)
		}
		res.Outcome = models.WebhookOutcomeIgnored
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", env.Type, err)
	}

	if reason != "" {
		log.Warnf("[Webhook] Dropping %s for subscription %q: %s", env.Type, ev.ID, reason)
		res.Outcome = models.WebhookOutcomeDropped
		res.Reason = reason
		return res, nil
	}
	log.Infof("[Webhook] Applied %s for subscription %s", env.Type, ev.ID)
	res.Outcome = models.WebhookOutcomeApplied
	return res, nil
}

func isInformational(eventType string) bool {
	_, ok := informationalEvents[eventType]
	return ok
}

// existing loads the row for an event. A missing row yields (nil, nil).
func (s *Service) existing(ctx context.Context, ev webhookSubscription) (*models.UserSubscription, error) {
	row, err := s.repo.FindSubscriptionByExternalID(ctx, ev.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return row, err
}

// ownerMismatch reports an event carrying an owner different from the row's.
func ownerMismatch(row *models.UserSubscription, ev webhookSubscription) bool {
	return ev.OwnerID != "" && row.OwnerID != "" && row.OwnerID != ev.OwnerID
}

// Each handler returns a non-empty drop reason when the event cannot be
// applied, or an error for storage failures.

func (s *Service) onSubscriptionCreated(ctx context.Context, ev webhookSubscription) (string, error) {
	switch {
	case ev.ID == "":
		return "missing subscription id", nil
	case ev.OwnerID == "":
		return "missing userId metadata", nil
	case !entitlements.IsPaidTier(ev.Tier):
		return "missing or invalid tier metadata", nil
	case ev.ProductID == "":
		return "missing product id", nil
	case ev.Status == "":
		return "missing status", nil
	case !ev.hasPeriod():
		return "missing or invalid period dates", nil
	}

	row, err := s.existing(ctx, ev)
	if err != nil {
		return "", err
	}
	if row == nil {
		row = &models.UserSubscription{SubscriptionID: models.StringPtr(ev.ID)}
	}
	row.OwnerID = ev.OwnerID
	row.Tier = ev.Tier
	row.ProductID = models.StringPtr(ev.ProductID)
	row.CurrentPeriodStart = ev.PeriodStart
	row.CurrentPeriodEnd = ev.PeriodEnd
	s.applyStatus(row, NormalizeProviderStatus(ev.Status, ev.CancelAtPeriodEnd), ev.CanceledAt)
	return "", s.store(ctx, row)
}

func (s *Service) onSubscriptionUpdated(ctx context.Context, ev webhookSubscription) (string, error) {
	switch {
	case ev.ID == "":
		return "missing subscription id", nil
	case ev.Status == "":
		return "missing status", nil
	case !ev.hasPeriod():
		return "missing or invalid period dates", nil
	}

	row, err := s.existing(ctx, ev)
	if err != nil || row == nil {
		return "unknown subscription", err
	}
	if ownerMismatch(row, ev) {
		return "owner does not match stored subscription", nil
	}
	s.applyOptionalFields(row, ev)
	row.CurrentPeriodStart = ev.PeriodStart
	row.CurrentPeriodEnd = ev.PeriodEnd
	s.applyStatus(row, NormalizeProviderStatus(ev.Status, ev.CancelAtPeriodEnd), ev.CanceledAt)
	return "", s.repo.SaveSubscription(ctx, row)
}

func (s *Service) onSubscriptionActive(ctx context.Context, ev webhookSubscription) (string, error) {
	if ev.ID == "" {
		return "missing subscription id", nil
	}

	row, err := s.existing(ctx, ev)
	if err != nil {
		return "", err
	}
	if row == nil {
		// An active event is authoritative even without a prior created.
		if ev.OwnerID == "" || !entitlements.IsPaidTier(ev.Tier) || ev.ProductID == "" {
			return "cannot create subscription without userId, tier and product id", nil
		}
		row = &models.UserSubscription{
			OwnerID:        ev.OwnerID,
			SubscriptionID: models.StringPtr(ev.ID),
		}
	} else if ownerMismatch(row, ev) {
		return "owner does not match stored subscription", nil
	}

	s.applyOptionalFields(row, ev)
	if ev.PeriodStart != nil {
		row.CurrentPeriodStart = ev.PeriodStart
	}
	if ev.PeriodEnd != nil {
		row.CurrentPeriodEnd = ev.PeriodEnd
	}
	row.Status = models.SubscriptionStatusActive
	row.CanceledAt = nil
	return "", s.store(ctx, row)
}

func (s *Service) onSubscriptionCanceled(ctx context.Context, ev webhookSubscription) (string, error) {
	switch {
	case ev.ID == "":
		return "missing subscription id", nil
	case ev.PeriodEnd == nil:
		return "missing or invalid period end", nil
	}

	row, err := s.existing(ctx, ev)
	if err != nil || row == nil {
		return "unknown subscription", err
	}
	if ownerMismatch(row, ev) {
		return "owner does not match stored subscription", nil
	}
	now := s.now()
	row.Status = models.SubscriptionStatusCanceled
	row.CanceledAt = &now
	row.CurrentPeriodEnd = ev.PeriodEnd
	return "", s.repo.SaveSubscription(ctx, row)
}

func (s *Service) onSubscriptionUncanceled(ctx context.Context, ev webhookSubscription) (string, error) {
	switch {
	case ev.ID == "":
		return "missing subscription id", nil
	case !ev.hasPeriod():
		return "missing or invalid period dates", nil
	}

	row, err := s.existing(ctx, ev)
	if err != nil || row == nil {
		return "unknown subscription", err
	}
	if ownerMismatch(row, ev) {
		return "owner does not match stored subscription", nil
	}
	row.Status = models.SubscriptionStatusActive
	row.CanceledAt = nil
	row.CurrentPeriodStart = ev.PeriodStart
	row.CurrentPeriodEnd = ev.PeriodEnd
	return "", s.repo.SaveSubscription(ctx, row)
}

// onSubscriptionRevoked ends access immediately.
func (s *Service) onSubscriptionRevoked(ctx context.Context, ev webhookSubscription) (string, error) {
	if ev.ID == "" {
		return "missing subscription id", nil
	}

	row, err := s.existing(ctx, ev)
	if err != nil || row == nil {
		return "unknown subscription", err
	}
	if ownerMismatch(row, ev) {
		return "owner does not match stored subscription", nil
	}
	now := s.now()
	end := ev.EndedAt
	if end == nil {
		end = &now
	}
	canceledAt := ev.CanceledAt
	if canceledAt == nil {
		canceledAt = &now
	}
	row.Status = models.SubscriptionStatusCanceled
	row.CanceledAt = canceledAt
	row.CurrentPeriodEnd = end
	return "", s.repo.SaveSubscription(ctx, row)
}

// store inserts new rows through the upsert so a concurrent insert of the
// same subscription id collapses into one row.
func (s *Service) store(ctx context.Context, row *models.UserSubscription) error {
	if row.ID == 0 {
		return s.repo.UpsertSubscription(ctx, row)
	}
	return s.repo.SaveSubscription(ctx, row)
}

func (s *Service) applyOptionalFields(row *models.UserSubscription, ev webhookSubscription) {
	if entitlements.IsPaidTier(ev.Tier) {
		row.Tier = ev.Tier
	}
	if ev.ProductID != "" {
		row.ProductID = models.StringPtr(ev.ProductID)
		if tier := s.cfg.TierForProduct(ev.ProductID); tier != "" && !entitlements.IsPaidTier(ev.Tier) {
			row.Tier = tier
		}
	}
}

// applyStatus sets status and keeps canceledAt consistent with it.
func (s *Service) applyStatus(row *models.UserSubscription, status string, canceledAt *time.Time) {
	row.Status = status
	switch {
	case status != models.SubscriptionStatusCanceled:
		row.CanceledAt = nil
	case canceledAt != nil:
		row.CanceledAt = canceledAt
	case row.CanceledAt == nil:
		now := s.now()
		row.CanceledAt = &now
	}
}
