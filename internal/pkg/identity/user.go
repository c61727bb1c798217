package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/SaaSBase/app/models"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists the local user mirror and its activity log.
type Repository interface {
	FindUser(ctx context.Context, externalID string) (*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) error
	SaveUser(ctx context.Context, user *models.User) error
	CreateActivity(ctx context.Context, entry *models.ActivityLog) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindUser(ctx context.Context, externalID string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).Where("external_user_id = ?", externalID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) UpsertUser(ctx context.Context, user *models.User) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "external_user_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"email",
			"display_name",
			"profile_image_url",
			"last_synced_at",
			"updated_at",
		}),
	}).Create(user).Error; err != nil {
		return err
	}
	return db.Where("external_user_id = ?", user.ExternalUserID).First(user).Error
}

func (r *gormRepository) SaveUser(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

func (r *gormRepository) CreateActivity(ctx context.Context, entry *models.ActivityLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// Service mirrors identity-provider users into the local database.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// Profile is the provider-side user data we mirror.
type Profile struct {
	ExternalID      string
	Email           string
	DisplayName     string
	ProfileImageURL string
}

// SyncUser inserts or refreshes a mirrored user. Activity is logged on insert
// and on profile changes.
func (s *Service) SyncUser(ctx context.Context, p Profile, ip string) (*models.User, error) {
	p.ExternalID = strings.TrimSpace(p.ExternalID)
	if p.ExternalID == "" {
		return nil, fmt.Errorf("%w: external user id is required", ErrInvalidPayload)
	}

	user := &models.User{
		ExternalUserID:  p.ExternalID,
		Email:           strings.TrimSpace(p.Email),
		DisplayName:     models.StringPtr(p.DisplayName),
		ProfileImageURL: models.StringPtr(p.ProfileImageURL),
		LastSyncedAt:    s.now(),
	}
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	existing, err := s.repo.FindUser(ctx, p.ExternalID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err := s.repo.UpsertUser(ctx, user); err != nil {
		return nil, err
	}

	switch {
	case existing == nil:
		s.logActivity(ctx, p.ExternalID, models.ActivitySignUp, ip, nil)
	case !existing.SameProfile(user):
		s.logActivity(ctx, p.ExternalID, models.ActivityUpdateAccount, ip, nil)
	}
	return user, nil
}

// DeleteUser anonymizes a mirrored user. Rows are kept for history.
func (s *Service) DeleteUser(ctx context.Context, externalID, ip string) error {
	user, err := s.repo.FindUser(ctx, strings.TrimSpace(externalID))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[Identity] Delete for unknown user %s ignored", externalID)
		return nil
	}
	if err != nil {
		return err
	}
	user.Anonymize()
	user.LastSyncedAt = s.now()
	if err := s.repo.SaveUser(ctx, user); err != nil {
		return err
	}
	s.logActivity(ctx, user.ExternalUserID, models.ActivityDeleteAccount, ip, nil)
	return nil
}

// Email returns the mirrored email for an owner, or "" when unknown.
func (s *Service) Email(ctx context.Context, externalID string) string {
	user, err := s.repo.FindUser(ctx, externalID)
	if err != nil {
		return ""
	}
	return user.Email
}

func (s *Service) logActivity(ctx context.Context, externalID, action, ip string, meta map[string]string) {
	entry := &models.ActivityLog{
		ExternalUserID: externalID,
		Action:         action,
		Timestamp:      s.now(),
		IPAddress:      ip,
	}
	if len(meta) > 0 {
		if raw, err := json.Marshal(meta); err == nil {
			entry.Metadata = string(raw)
		}
	}
	if err := s.repo.CreateActivity(ctx, entry); err != nil {
		log.Errorf("[Identity] Failed to log %s for %s: %v", action, externalID, err)
	}
}
