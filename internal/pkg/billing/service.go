package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/ManuelReschke/SaaSBase/app/models"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/entitlements"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/env"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var ErrOwnerRequired = errors.New("owner id is required")

// Config holds billing settings. Zero durations disable the matching delay.
type Config struct {
	Products       map[string]string
	SuccessURL     string
	WebhookSecret  string
	BatchSize      int           `validate:"gte=1,lte=500"`
	BatchDelay     time.Duration `validate:"gte=0"`
	EmergencyLimit int           `validate:"gte=1,lte=1000"`
	EmergencyDelay time.Duration `validate:"gte=0"`
	// StaleAfter is the age after which a read triggers an on-demand sync.
	StaleAfter time.Duration `validate:"gte=0"`

	Now   func() time.Time
	Sleep func(time.Duration)
}

func DefaultConfig() Config {
	return Config{
		Products:       map[string]string{},
		BatchSize:      50,
		BatchDelay:     100 * time.Millisecond,
		EmergencyLimit: 100,
		EmergencyDelay: 200 * time.Millisecond,
		StaleAfter:     time.Hour,
	}
}

// ConfigFromEnv reads billing settings from the env layer.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if id := strings.TrimSpace(env.GetEnv("POLAR_PRO_PRODUCT_ID", "")); id != "" {
		cfg.Products[models.TierPro] = id
	}
	if id := strings.TrimSpace(env.GetEnv("POLAR_BUSINESS_PRODUCT_ID", "")); id != "" {
		cfg.Products[models.TierBusiness] = id
	}
	cfg.SuccessURL = strings.TrimSpace(env.GetEnv("POLAR_SUCCESS_URL", ""))
	cfg.WebhookSecret = strings.TrimSpace(env.GetEnv("POLAR_WEBHOOK_SECRET", ""))
	cfg.BatchSize = env.GetEnvInt("BILLING_SYNC_BATCH_SIZE", cfg.BatchSize)
	return cfg
}

func (c Config) Validate() error {
	return validator.New().Struct(c)
}

// ProductForTier returns the configured provider product id for tier.
func (c Config) ProductForTier(tier string) string {
	return c.Products[strings.ToLower(strings.TrimSpace(tier))]
}

// TierForProduct reverses the product mapping.
func (c Config) TierForProduct(productID string) string {
	for tier, id := range c.Products {
		if id != "" && id == productID {
			return tier
		}
	}
	return ""
}

// Service reconciles locally stored subscriptions with the billing provider.
type Service struct {
	repo     Repository
	provider Provider
	cfg      Config
	now      func() time.Time
	sleep    func(time.Duration)
}

// NewService creates a billing service from injected collaborators. provider
// may be nil when only webhook ingestion and reads are needed.
func NewService(repo Repository, provider Provider, cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Service{repo: repo, provider: provider, cfg: cfg, now: now, sleep: sleep}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, provider Provider, cfg Config) *Service {
	return NewService(NewRepository(db), provider, cfg)
}

func (s *Service) Config() Config {
	return s.cfg
}

// currentSubscription returns the authoritative row for an owner, inserting
// the free row on first access.
func (s *Service) currentSubscription(ctx context.Context, ownerID string) (*models.UserSubscription, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, ErrOwnerRequired
	}
	sub, err := s.repo.LatestSubscriptionByOwner(ctx, ownerID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	free := models.NewFreeSubscription(ownerID)
	if err := s.repo.CreateSubscription(ctx, free); err != nil {
		return nil, err
	}
	return free, nil
}

// GetUserSubscription returns the owner's subscription summary.
func (s *Service) GetUserSubscription(ctx context.Context, ownerID string) (*SubscriptionInfo, error) {
	sub, err := s.currentSubscription(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.info(sub), nil
}

// GetSubscriptionStatus returns the summary together with eligibility,
// optionally refreshing from the provider first.
func (s *Service) GetSubscriptionStatus(ctx context.Context, ownerID string, forceSync bool) (*SubscriptionStatus, error) {
	info, err := s.GetUserSubscriptionWithSync(ctx, ownerID, forceSync)
	if err != nil {
		return nil, err
	}
	return &SubscriptionStatus{
		Subscription: info,
		Eligibility:  entitlements.Calculate(info.ActiveSubscription, s.now()),
	}, nil
}

// GetEligibility derives eligibility from the freshest stored row.
func (s *Service) GetEligibility(ctx context.Context, ownerID string) (entitlements.Eligibility, *models.UserSubscription, error) {
	sub, err := s.currentSubscription(ctx, ownerID)
	if err != nil {
		return entitlements.Eligibility{}, nil, err
	}
	return entitlements.Calculate(sub, s.now()), sub, nil
}

func (s *Service) info(sub *models.UserSubscription) *SubscriptionInfo {
	var status *string
	if st := strings.ToLower(strings.TrimSpace(sub.Status)); IsKnownStatus(st) {
		status = &st
	}
	return &SubscriptionInfo{
		Tier:               entitlements.EffectiveTier(sub, s.now()),
		Status:             status,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		ActiveSubscription: sub,
	}
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		Outcome:         models.WebhookOutcomePending,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed stores the outcome of an event and an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, outcome string, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, outcome, errMsg)
}
