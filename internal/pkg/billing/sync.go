package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/SaaSBase/app/models"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Staleness thresholds for the scheduled sync paths.
const (
	CronStaleAfter     = 24 * time.Hour
	PeriodicStaleAfter = 6 * time.Hour
)

// SyncUserSubscription refreshes the owner's current row from the provider.
// A subscription the provider no longer knows is marked canceled.
func (s *Service) SyncUserSubscription(ctx context.Context, ownerID string) (*SyncResult, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, ErrOwnerRequired
	}
	sub, err := s.repo.LatestSubscriptionByOwner(ctx, ownerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &SyncResult{OwnerID: ownerID, Skipped: true, Message: "No subscription to sync"}, nil
	}
	if err != nil {
		return nil, err
	}
	if sub.ExternalID() == "" {
		return &SyncResult{OwnerID: ownerID, Status: sub.Status, Skipped: true, Message: "No provider subscription to sync"}, nil
	}
	return s.syncRow(ctx, sub)
}

func (s *Service) syncRow(ctx context.Context, sub *models.UserSubscription) (*SyncResult, error) {
	if s.provider == nil {
		return nil, ErrProviderNotConfigured
	}
	id := sub.ExternalID()
	res := &SyncResult{OwnerID: sub.OwnerID, SubscriptionID: id}

	remote, err := s.provider.GetSubscription(ctx, id)
	if err != nil {
		if !IsNotFound(err) {
			return nil, fmt.Errorf("fetch subscription %s: %w", id, err)
		}
		sub.Status = models.SubscriptionStatusCanceled
		if sub.CanceledAt == nil {
			now := s.now()
			sub.CanceledAt = &now
		}
		if err := s.repo.SaveSubscription(ctx, sub); err != nil {
			return nil, err
		}
		log.Warnf("[BillingSync] Subscription %s not found at provider, marked canceled", id)
		res.Status = sub.Status
		res.Gone = true
		res.Message = "Subscription no longer exists at the provider, marked canceled"
		return res, nil
	}

	s.applyProviderState(sub, remote)
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	res.Status = sub.Status
	res.Message = "Subscription synced"
	return res, nil
}

// applyProviderState overwrites local fields with the provider's values
// where the provider supplied them.
func (s *Service) applyProviderState(sub *models.UserSubscription, remote *ProviderSubscription) {
	if remote.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = remote.CurrentPeriodStart
	}
	if remote.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = remote.CurrentPeriodEnd
	}
	if remote.ProductID != "" {
		sub.ProductID = models.StringPtr(remote.ProductID)
		if tier := s.cfg.TierForProduct(remote.ProductID); tier != "" {
			sub.Tier = tier
		}
	}
	if status := NormalizeProviderStatus(remote.Status, remote.CancelAtPeriodEnd); status != "" {
		s.applyStatus(sub, status, remote.CanceledAt)
	}
}

// SyncStaleSubscriptions refreshes rows not updated within olderThan, one at
// a time with the configured delay between provider calls. A subscription
// gone at the provider is marked canceled and reported in Errors.
func (s *Service) SyncStaleSubscriptions(ctx context.Context, olderThan time.Duration) (*BatchSyncResult, error) {
	now := s.now()
	rows, err := s.repo.ListStaleSubscriptions(ctx, now.Add(-olderThan), s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list stale subscriptions: %w", err)
	}
	log.Infof("[BillingSync] Found %d subscriptions older than %s", len(rows), olderThan)
	return s.syncBatch(ctx, rows, s.cfg.BatchDelay), nil
}

// EmergencyFullSync refreshes the most recently updated rows regardless of
// staleness, for recovery after a suspected webhook outage.
func (s *Service) EmergencyFullSync(ctx context.Context) (*BatchSyncResult, error) {
	rows, err := s.repo.ListRecentSubscriptions(ctx, s.cfg.EmergencyLimit)
	if err != nil {
		return nil, fmt.Errorf("list recent subscriptions: %w", err)
	}
	log.Warnf("[BillingSync] Emergency sync over %d subscriptions", len(rows))
	return s.syncBatch(ctx, rows, s.cfg.EmergencyDelay), nil
}

func (s *Service) syncBatch(ctx context.Context, rows []models.UserSubscription, delay time.Duration) *BatchSyncResult {
	out := &BatchSyncResult{
		RunID:     uuid.NewString(),
		Total:     len(rows),
		Errors:    []string{},
		StartedAt: s.now(),
	}

	for i := range rows {
		row := &rows[i]
		if i > 0 && delay > 0 {
			s.sleep(delay)
		}
		res, err := s.syncRow(ctx, row)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", row.OwnerID, err))
			continue
		}
		if res.Gone {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: subscription %s not found at provider, marked canceled", row.OwnerID, res.SubscriptionID))
			continue
		}
		out.SyncedCount++
	}

	out.FinishedAt = s.now()
	log.Infof("[BillingSync] Run %s finished: synced=%d errors=%d", out.RunID, out.SyncedCount, len(out.Errors))
	return out
}

// GetUserSubscriptionWithSync returns the subscription summary, syncing first
// when forced or when the stored row is older than StaleAfter. Sync failures
// are logged and the stored state is returned.
func (s *Service) GetUserSubscriptionWithSync(ctx context.Context, ownerID string, forceSync bool) (*SubscriptionInfo, error) {
	sub, err := s.currentSubscription(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if sub.ExternalID() == "" || s.provider == nil {
		return s.info(sub), nil
	}

	stale := s.cfg.StaleAfter > 0 && s.now().Sub(sub.UpdatedAt) > s.cfg.StaleAfter
	if !forceSync && !stale {
		return s.info(sub), nil
	}
	if _, err := s.syncRow(ctx, sub); err != nil {
		log.Warnf("[BillingSync] On-demand sync for %s failed: %v", ownerID, err)
		return s.GetUserSubscription(ctx, ownerID)
	}
	return s.info(sub), nil
}
